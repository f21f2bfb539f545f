// Package asm encodes bajo instructions: low-level operand encoders
// plus a line-based text assembler.
//
// Text syntax, one instruction per line:
//
//	mnemonic targets <- sources    ; comment
//
// Targets and sources are comma-separated. A memory operand is
// "[addr]", or "[addr + off]" for the indirect form (the word stored at
// addr plus the literal offset off). Bare numbers are literal sources.
// A "!" suffix on the mnemonic sets the RMW bit; the implicit first
// source is then omitted from the source list. Numbers accept the 0x
// and 0b prefixes. There are no labels; operands are numeric.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"
	"strconv"
	"strings"

	"github.com/jkmnt/bajo/pkg/op"
)

// appendField appends one varint operand field: payload bits above
// nctrl control bits, in the smallest of the 1-5 byte forms.
func appendField(b []byte, payload uint32, ctrl uint32, nctrl uint) []byte {
	combined := uint64(payload)<<nctrl | uint64(ctrl)

	need := bits.Len64(combined)
	if need == 0 {
		need = 1
	}
	// An n-byte form carries 7n payload bits: 8-n in the first byte
	// after the length tag, 8 per trailing byte.
	nbytes := 1
	for 7*nbytes < need {
		nbytes++
	}

	b = append(b, byte(1<<(nbytes-1))|byte(combined<<nbytes))
	rest := combined >> (8 - nbytes)
	for i := 1; i < nbytes; i++ {
		b = append(b, byte(rest))
		rest >>= 8
	}
	return b
}

// AppendLit appends a literal source operand. Negative values use the
// one's-complement negate form, which is never longer.
func AppendLit(b []byte, v int32) []byte {
	u := uint32(v)
	var neg uint32
	if v < 0 {
		u = ^u
		neg = 1
	}
	return appendField(b, u, neg<<1, 2)
}

// memPayload picks the word-scaled form for 4-aligned addresses.
func memPayload(addr uint32) (payload, aligned uint32) {
	if addr%4 == 0 {
		return addr / 4, 0
	}
	return addr, 1
}

// AppendSrcMem appends a direct memory source operand.
func AppendSrcMem(b []byte, addr uint32) []byte {
	payload, aligned := memPayload(addr)
	return appendField(b, payload, aligned<<2|0b001, 3)
}

// AppendSrcMemInd appends an indirect memory source operand. The
// caller must append exactly one more source operand: the offset added
// to the word stored at base.
func AppendSrcMemInd(b []byte, base uint32) []byte {
	payload, aligned := memPayload(base)
	return appendField(b, payload, aligned<<2|0b011, 3)
}

// AppendDst appends a direct destination operand.
func AppendDst(b []byte, addr uint32) []byte {
	payload, aligned := memPayload(addr)
	return appendField(b, payload, aligned<<1, 2)
}

// AppendDstInd appends an indirect destination operand; as with
// AppendSrcMemInd, one more source operand (the offset) must follow.
func AppendDstInd(b []byte, base uint32) []byte {
	payload, aligned := memPayload(base)
	return appendField(b, payload, aligned<<1|0b01, 2)
}

// AppendOp appends the opcode byte.
func AppendOp(b []byte, o op.Op, rmw bool) []byte {
	v := byte(o)
	if rmw {
		v |= op.RMWBit
	}
	return append(b, v)
}

// AppendCount appends a variadic operand count, encoded as a literal
// source operand.
func AppendCount(b []byte, n int) []byte {
	return AppendLit(b, int32(n))
}

// operand is one parsed textual operand.
type operand struct {
	mem      bool
	indirect bool
	addr     uint32 // mem forms
	val      int32  // literal, or indirect offset
}

func (o operand) appendSrc(b []byte) []byte {
	switch {
	case !o.mem:
		return AppendLit(b, o.val)
	case o.indirect:
		b = AppendSrcMemInd(b, o.addr)
		return AppendLit(b, o.val)
	default:
		return AppendSrcMem(b, o.addr)
	}
}

func (o operand) appendDst(b []byte) []byte {
	if o.indirect {
		b = AppendDstInd(b, o.addr)
		return AppendLit(b, o.val)
	}
	return AppendDst(b, o.addr)
}

func parseOperand(text string) (operand, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "[") {
		if !strings.HasSuffix(text, "]") {
			return operand{}, fmt.Errorf("unterminated memory operand %q", text)
		}
		inner := strings.TrimSpace(text[1 : len(text)-1])
		base := inner
		var off string
		if i := strings.IndexByte(inner, '+'); i >= 0 {
			base, off = strings.TrimSpace(inner[:i]), strings.TrimSpace(inner[i+1:])
		}
		addr, err := strconv.ParseUint(base, 0, 32)
		if err != nil {
			return operand{}, fmt.Errorf("bad address %q", base)
		}
		o := operand{mem: true, addr: uint32(addr)}
		if off != "" {
			v, err := strconv.ParseInt(off, 0, 64)
			if err != nil || v > 0x7FFFFFFF || v < -0x80000000 {
				return operand{}, fmt.Errorf("bad offset %q", off)
			}
			o.indirect = true
			o.val = int32(v)
		}
		return o, nil
	}

	v, err := strconv.ParseInt(text, 0, 64)
	if err != nil || v > 0xFFFFFFFF || v < -0x80000000 {
		return operand{}, fmt.Errorf("bad literal %q", text)
	}
	return operand{val: int32(uint32(v))}, nil
}

func splitOperands(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return nil, fmt.Errorf("empty operand")
		}
	}
	return parts, nil
}

// assembleLine appends the encoding of one instruction line to b.
func assembleLine(b []byte, line string) ([]byte, error) {
	mnemonic := line
	var rest string
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		mnemonic, rest = line[:i], line[i+1:]
	}
	rmw := strings.HasSuffix(mnemonic, "!")
	mnemonic = strings.TrimSuffix(mnemonic, "!")

	opcode, ok := op.ByMnemonic(strings.ToUpper(mnemonic))
	if !ok {
		return nil, fmt.Errorf("unknown mnemonic %q", mnemonic)
	}

	tgtText, srcText, hasSrcs := strings.Cut(rest, "<-")
	tgtFields, err := splitOperands(tgtText)
	if err != nil {
		return nil, err
	}
	var srcFields []string
	if hasSrcs {
		if srcFields, err = splitOperands(srcText); err != nil {
			return nil, err
		}
		if len(srcFields) == 0 {
			return nil, fmt.Errorf("dangling <-")
		}
	}

	tgts := make([]operand, len(tgtFields))
	for i, f := range tgtFields {
		o, err := parseOperand(f)
		if err != nil {
			return nil, err
		}
		if !o.mem {
			return nil, fmt.Errorf("target %q is not a memory operand", f)
		}
		tgts[i] = o
	}
	srcs := make([]operand, len(srcFields))
	for i, f := range srcFields {
		if srcs[i], err = parseOperand(f); err != nil {
			return nil, err
		}
	}

	spec := op.Catalog[opcode].Spec
	ntgts, _, tvar, _ := op.Shape(spec.Tgt())
	nsrcs, _, svar, _ := op.Shape(spec.Src())

	wantSrcs := len(srcs)
	if rmw {
		wantSrcs++ // the implicit target-aliased source
	}
	if tvar {
		if len(tgts) > op.MaxTgts {
			return nil, fmt.Errorf("%s: at most %d targets", opcode, op.MaxTgts)
		}
	} else if len(tgts) != ntgts {
		return nil, fmt.Errorf("%s: want %d targets, have %d", opcode, ntgts, len(tgts))
	}
	if svar {
		if wantSrcs > op.MaxSrcs {
			return nil, fmt.Errorf("%s: at most %d sources", opcode, op.MaxSrcs)
		}
	} else if wantSrcs != nsrcs {
		return nil, fmt.Errorf("%s: want %d sources, have %d", opcode, nsrcs, wantSrcs)
	}
	if rmw && (len(tgts) == 0 || wantSrcs == 0) {
		return nil, fmt.Errorf("%s!: needs a target and a source", opcode)
	}

	b = AppendOp(b, opcode, rmw)
	if tvar {
		b = AppendCount(b, len(tgts))
	}
	for _, o := range tgts {
		b = o.appendDst(b)
	}
	if svar {
		b = AppendCount(b, wantSrcs)
	}
	for _, o := range srcs {
		b = o.appendSrc(b)
	}
	return b, nil
}

// Assemble reads text from r and returns the flat bytecode image.
func Assemble(r io.Reader) ([]byte, error) {
	var out []byte
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if i := strings.IndexAny(line, ";#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var err error
		if out, err = assembleLine(out, line); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AssembleString is Assemble over an in-memory program.
func AssembleString(src string) ([]byte, error) {
	return Assemble(strings.NewReader(src))
}
