// Package vm implements the bajo bytecode interpreter.
//
// The VM is stack-less and register-free: every instruction operates on
// 32-bit integers living in a host-provided linear address space. The
// host supplies all memory and I/O through the Host callbacks; the VM
// itself owns nothing but the program counter, the last error and the
// last exit code.
//
// An instruction is one opcode byte (high bit = RMW flag) followed by
// variable-length operand fields: target addresses first, then source
// values. The operand shape of each opcode is described by the opspec
// catalog in pkg/op.
package vm

import "github.com/jkmnt/bajo/pkg/op"

// Code is a step result. The numbering is stable; hosts may report
// failures with codes outside this set.
type Code int

const (
	OK Code = iota
	Exit
	BadVarint
	UnknownOpcode
	BadOperand
	Bug
	ZeroDivision
	IntegerOverflow
)

var codeNames = [...]string{
	OK:              "ok",
	Exit:            "exit",
	BadVarint:       "bad varint",
	UnknownOpcode:   "unknown opcode",
	BadOperand:      "bad operand",
	Bug:             "bug",
	ZeroDivision:    "zero division",
	IntegerOverflow: "integer overflow",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "host error"
}

// Host is the capability record the embedding application supplies.
// All accesses are little-endian. A callback signals failure by setting
// m.Err to a nonzero code; the VM checks it before dispatch and before
// committing writes. Callbacks must not re-enter Step on the same VM.
type Host interface {
	// Read returns the size-byte integer at addr, zero-extended.
	// size is 1, 2, 3 or 4 (3 occurs only for varint tails).
	Read(m *VM, addr uint32, size int) uint32
	// Write stores the low size bytes of val at addr. size is 1, 2 or 4.
	Write(m *VM, addr uint32, val uint32, size int)
	// Call invokes host function fn. args carries the forwarded source
	// operands; res is the target slot buffer to fill.
	Call(m *VM, fn int32, res, args []int32)
}

// VM is a single interpreter instance. Not goroutine safe; one
// goroutine should manage it.
type VM struct {
	// PC is the byte offset of the next instruction.
	PC uint32
	// Err is the result of the last step. Cleared at the start of
	// every step.
	Err Code
	// ExitRC is the argument of the most recent EXIT instruction.
	// Meaningful only when Err == Exit.
	ExitRC int32

	Host Host

	// ErrOnZeroDivision makes DIV/DIV_U/REM/REM_U with a zero divisor
	// fail with ZeroDivision instead of producing zero.
	ErrOnZeroDivision bool
	// ErrOnIntOverflow makes signed DIV of INT32_MIN by -1 fail with
	// IntegerOverflow instead of wrapping.
	ErrOnIntOverflow bool
}

// Operand list capacities, fixed by the instruction format.
const (
	MaxTgts = op.MaxTgts
	MaxSrcs = op.MaxSrcs
)

// New returns a VM bound to the given host, with pc at 0.
func New(h Host) *VM {
	return &VM{Host: h}
}

// Init resets the VM: clears the error, zeroes the exit code and sets
// the program counter.
func (m *VM) Init(pc uint32) {
	m.Err = OK
	m.ExitRC = 0
	m.PC = pc
}

// Fail records an error code. Intended for hosts and internal use.
func (m *VM) Fail(c Code) {
	m.Err = c
}

// Step executes a single instruction and returns the result code.
// If decoding or execution fails, no target write is performed. A
// failure that a host Write reports does not stop the remaining writes
// of the step; the code is returned after them.
func (m *VM) Step() Code {
	m.Err = OK

	first := m.Host.Read(m, m.PC, 1)
	m.PC++

	rmw := first&op.RMWBit != 0
	opcode := op.Op(first & op.OpMask)

	if opcode > op.MaxOp {
		m.Err = UnknownOpcode
		return m.Err
	}
	spec := op.Catalog[opcode].Spec
	if spec == op.SpecUndef {
		m.Err = UnknownOpcode
		return m.Err
	}

	ntgts, tsize, ok := m.operandShape(spec.Tgt(), MaxTgts)
	if !ok {
		return m.Err
	}

	var tgts [MaxTgts]uint32
	for i := 0; i < ntgts; i++ {
		tgts[i] = m.readDst()
	}

	nsrcs, ssize, ok := m.operandShape(spec.Src(), MaxSrcs)
	if !ok {
		return m.Err
	}

	var srcs [MaxSrcs]int32
	start := 0
	if rmw {
		// First source aliases the first target.
		if nsrcs == 0 || ntgts == 0 {
			m.Err = BadOperand
			return m.Err
		}
		srcs[0] = int32(m.Host.Read(m, tgts[0], ssize))
		start = 1
	}
	for i := start; i < nsrcs; i++ {
		srcs[i] = m.readSrc(ssize)
	}

	if m.Err != OK {
		return m.Err
	}

	var results [MaxTgts]int32
	m.dispatch(opcode, &results, ntgts, srcs[:nsrcs])

	if m.Err != OK {
		return m.Err
	}

	for i := 0; i < ntgts; i++ {
		m.Host.Write(m, tgts[i], uint32(results[i]), tsize)
	}

	return m.Err
}

// operandShape resolves one opspec field, consuming the count operand
// from the stream for variadic fields.
func (m *VM) operandShape(field uint8, max int) (count, size int, ok bool) {
	count, size, variadic, ok := op.Shape(field)
	if !ok {
		// Reserved field value in the catalog: table inconsistency.
		m.Err = Bug
		return 0, 0, false
	}
	if variadic {
		n := uint32(m.readSrc(4))
		if n > uint32(max) {
			m.Err = BadOperand
			return 0, 0, false
		}
		count = int(n)
	}
	return count, size, true
}

// Run steps until the result is anything other than OK and returns it.
func (m *VM) Run() Code {
	for {
		if rc := m.Step(); rc != OK {
			return rc
		}
	}
}
