// Package dis disassembles bajo bytecode from a raw image. It walks the
// stream only: memory operands are printed as addresses, never resolved.
// The output syntax matches what pkg/asm accepts, except for an indirect
// operand whose offset is itself a memory operand: that prints as a
// nested "[addr + [...]]" form, which pkg/asm does not parse.
package dis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"strconv"
	"strings"

	"github.com/jkmnt/bajo/pkg/op"
)

// Inst is one decoded instruction.
type Inst struct {
	Off  int    `json:"off"`
	Len  int    `json:"len"`
	Op   op.Op  `json:"-"`
	RMW  bool   `json:"rmw,omitempty"`
	Text string `json:"text"`
}

var (
	// ErrTruncated reports an instruction running past the image end.
	ErrTruncated = errors.New("dis: truncated instruction")
	// ErrDynamicCount reports a variadic operand count that is not a
	// literal; such instructions cannot be sized without running them.
	ErrDynamicCount = errors.New("dis: operand count not known statically")
)

// field reads one raw varint operand field at off.
func field(p []byte, off int) (head, tail uint32, nbytes, next int, err error) {
	if off >= len(p) {
		return 0, 0, 0, 0, ErrTruncated
	}
	head = uint32(p[off])
	nbytes = bits.TrailingZeros32(head) + 1
	if nbytes > 5 {
		return 0, 0, 0, 0, fmt.Errorf("dis: bad varint 0x%02X at 0x%X", p[off], off)
	}
	if off+nbytes > len(p) {
		return 0, 0, 0, 0, ErrTruncated
	}
	for i := 1; i < nbytes; i++ {
		tail |= uint32(p[off+i]) << (8 * (i - 1))
	}
	head >>= uint(nbytes)
	return head, tail, nbytes, off + nbytes, nil
}

// srcOperand decodes one source operand into text. val/isLit report
// the literal value when the operand is a constant.
func srcOperand(p []byte, off int) (text string, val int32, isLit bool, next int, err error) {
	head, tail, nbytes, next, err := field(p, off)
	if err != nil {
		return "", 0, false, 0, err
	}

	if head&0b1 == 0 {
		v := tail<<uint(8-2-nbytes) | head>>2
		if head&0b10 != 0 {
			v = ^v
		}
		return strconv.FormatInt(int64(int32(v)), 10), int32(v), true, next, nil
	}

	addr := tail<<uint(8-3-nbytes) | head>>3
	if head&0b100 == 0 {
		addr *= 4
	}
	if head&0b010 != 0 {
		offText, _, _, next2, err := srcOperand(p, next)
		if err != nil {
			return "", 0, false, 0, err
		}
		return fmt.Sprintf("[0x%X + %s]", addr, offText), 0, false, next2, nil
	}
	return fmt.Sprintf("[0x%X]", addr), 0, false, next, nil
}

// dstOperand decodes one destination operand into text.
func dstOperand(p []byte, off int) (text string, next int, err error) {
	head, tail, nbytes, next, err := field(p, off)
	if err != nil {
		return "", 0, err
	}

	addr := tail<<uint(8-2-nbytes) | head>>2
	if head&0b10 == 0 {
		addr *= 4
	}
	if head&0b01 != 0 {
		offText, _, _, next2, err := srcOperand(p, next)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("[0x%X + %s]", addr, offText), next2, nil
	}
	return fmt.Sprintf("[0x%X]", addr), next, nil
}

// count resolves one opspec field's operand count, consuming the count
// operand for variadic fields.
func count(p []byte, off int, fieldSpec uint8, max int) (n, next int, err error) {
	n, _, variadic, ok := op.Shape(fieldSpec)
	if !ok {
		return 0, 0, fmt.Errorf("dis: reserved operand spec %d", fieldSpec)
	}
	if !variadic {
		return n, off, nil
	}
	_, val, isLit, next, err := srcOperand(p, off)
	if err != nil {
		return 0, 0, err
	}
	if !isLit {
		return 0, 0, ErrDynamicCount
	}
	if uint32(val) > uint32(max) {
		return 0, 0, fmt.Errorf("dis: operand count %d out of range", val)
	}
	return int(val), next, nil
}

// Decode decodes the instruction at off.
func Decode(p []byte, off int) (Inst, error) {
	if off >= len(p) {
		return Inst{}, ErrTruncated
	}
	first := p[off]
	rmw := first&op.RMWBit != 0
	opcode := op.Op(first & op.OpMask)
	if !op.Defined(opcode) {
		return Inst{}, fmt.Errorf("dis: unknown opcode 0x%02X at 0x%X", first&op.OpMask, off)
	}
	spec := op.Catalog[opcode].Spec
	pos := off + 1

	ntgts, pos, err := count(p, pos, spec.Tgt(), op.MaxTgts)
	if err != nil {
		return Inst{}, err
	}
	tgts := make([]string, 0, ntgts)
	for i := 0; i < ntgts; i++ {
		var text string
		if text, pos, err = dstOperand(p, pos); err != nil {
			return Inst{}, err
		}
		tgts = append(tgts, text)
	}

	nsrcs, pos, err := count(p, pos, spec.Src(), op.MaxSrcs)
	if err != nil {
		return Inst{}, err
	}
	start := 0
	if rmw {
		if ntgts == 0 || nsrcs == 0 {
			return Inst{}, fmt.Errorf("dis: rmw %s without operands at 0x%X", opcode, off)
		}
		start = 1 // source 0 is implicit
	}
	srcs := make([]string, 0, nsrcs)
	for i := start; i < nsrcs; i++ {
		var text string
		if text, _, _, pos, err = srcOperand(p, pos); err != nil {
			return Inst{}, err
		}
		srcs = append(srcs, text)
	}

	var sb strings.Builder
	sb.WriteString(opcode.String())
	if rmw {
		sb.WriteByte('!')
	}
	if len(tgts) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(tgts, ", "))
	}
	if len(srcs) > 0 {
		sb.WriteString(" <- ")
		sb.WriteString(strings.Join(srcs, ", "))
	}

	return Inst{Off: off, Len: pos - off, Op: opcode, RMW: rmw, Text: sb.String()}, nil
}

// Listing decodes the whole image. On error the lines decoded so far
// are returned along with the error, annotated with the failing offset.
func Listing(p []byte) ([]Inst, error) {
	var lines []Inst
	for off := 0; off < len(p); {
		in, err := Decode(p, off)
		if err != nil {
			return lines, fmt.Errorf("at 0x%X: %w", off, err)
		}
		lines = append(lines, in)
		off += in.Len
	}
	return lines, nil
}

// WriteJSON writes a listing as indented JSON.
func WriteJSON(w io.Writer, lines []Inst) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(lines)
}
