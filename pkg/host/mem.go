// Package host provides a reference host for the bajo VM: a linear RAM
// image plus a table of callable host functions. Embedders with exotic
// address spaces (MMIO, banked flash) implement vm.Host themselves.
package host

import (
	"fmt"
	"io"

	"github.com/jkmnt/bajo/pkg/vm"
)

// Host-level error codes, outside the core VM set.
const (
	// CodeBusFault reports a read or write beyond the RAM image.
	CodeBusFault vm.Code = 100 + iota
	// CodeNoFunc reports a host call with an unbound function index.
	CodeNoFunc
)

// Func is a host function reachable through the SYS opcodes. args holds
// the forwarded source operands; res is the instruction's target slot
// buffer (may be empty).
type Func func(m *vm.VM, res, args []int32)

// Mem is a byte-addressed little-endian RAM implementing vm.Host.
type Mem struct {
	ram   []byte
	funcs []Func
}

// NewMem returns a zeroed RAM of the given byte size.
func NewMem(size int) *Mem {
	return &Mem{ram: make([]byte, size)}
}

// Load returns a RAM of size bytes with image copied to address 0.
func Load(image []byte, size int) (*Mem, error) {
	if len(image) > size {
		return nil, fmt.Errorf("host: image of %d bytes exceeds memory size %d", len(image), size)
	}
	h := NewMem(size)
	copy(h.ram, image)
	return h, nil
}

// Bytes exposes the backing RAM. The VM never caches reads, so edits
// between steps are observed by the next instruction.
func (h *Mem) Bytes() []byte { return h.ram }

// Bind attaches fn at the given function index, growing the table as
// needed.
func (h *Mem) Bind(index int, fn Func) {
	for len(h.funcs) <= index {
		h.funcs = append(h.funcs, nil)
	}
	h.funcs[index] = fn
}

func (h *Mem) inRange(addr uint32, size int) bool {
	end := uint64(addr) + uint64(size)
	return end <= uint64(len(h.ram))
}

// Read implements vm.Host. Narrow reads zero-extend.
func (h *Mem) Read(m *vm.VM, addr uint32, size int) uint32 {
	if !h.inRange(addr, size) {
		m.Fail(CodeBusFault)
		return 0
	}
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(h.ram[addr+uint32(i)]) << (8 * i)
	}
	return v
}

// Write implements vm.Host. Narrow writes truncate.
func (h *Mem) Write(m *vm.VM, addr uint32, val uint32, size int) {
	if !h.inRange(addr, size) {
		m.Fail(CodeBusFault)
		return
	}
	for i := 0; i < size; i++ {
		h.ram[addr+uint32(i)] = byte(val >> (8 * i))
	}
}

// Call implements vm.Host.
func (h *Mem) Call(m *vm.VM, fn int32, res, args []int32) {
	if fn < 0 || int(fn) >= len(h.funcs) || h.funcs[fn] == nil {
		m.Fail(CodeNoFunc)
		return
	}
	h.funcs[fn](m, res, args)
}

// Console function indices used by BindConsole.
const (
	FnPutc = iota
	FnGetc
	FnPuti
)

// BindConsole attaches a minimal console to the standard function slots:
// putc writes args[0] as one byte, getc returns the next input byte or
// -1 at end of input, puti prints args[0] in decimal.
func (h *Mem) BindConsole(in io.Reader, out io.Writer) {
	h.Bind(FnPutc, func(m *vm.VM, res, args []int32) {
		if len(args) < 1 {
			return
		}
		out.Write([]byte{byte(args[0])})
	})
	h.Bind(FnGetc, func(m *vm.VM, res, args []int32) {
		if len(res) < 1 {
			return
		}
		var b [1]byte
		if _, err := io.ReadFull(in, b[:]); err != nil {
			res[0] = -1
			return
		}
		res[0] = int32(b[0])
	})
	h.Bind(FnPuti, func(m *vm.VM, res, args []int32) {
		if len(args) < 1 {
			return
		}
		fmt.Fprintf(out, "%d", args[0])
	})
}
