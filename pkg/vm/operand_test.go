package vm

import (
	"math"
	"testing"

	"github.com/jkmnt/bajo/pkg/asm"
	"github.com/jkmnt/bajo/pkg/op"
)

// step runs one instruction from a hand-built image.
func step(t *testing.T, image []byte, setup func(h *testHost)) (*VM, *testHost) {
	t.Helper()
	h := newTestHost()
	copy(h.mem, image)
	if setup != nil {
		setup(h)
	}
	m := New(h)
	m.Init(0)
	if rc := m.Step(); rc != OK {
		t.Fatalf("step: %v", rc)
	}
	return m, h
}

// TestLiteralRoundTrip drives every literal through the encoder and the
// source decoder: MOV writes the decoded value to a word target.
func TestLiteralRoundTrip(t *testing.T) {
	values := []int32{
		0, 1, 2, 3, 7, 31, 32, 127, 128, 255, 256,
		0x3FFF, 0x4000, 0xFFFF, 0x10000, 0x1FFFFF, 0x200000,
		0x0FFFFFFF, 0x10000000, math.MaxInt32,
		-1, -2, -31, -32, -128, -129, -65536, math.MinInt32,
	}
	for _, v := range values {
		var image []byte
		image = asm.AppendOp(image, op.MOV, false)
		image = asm.AppendDst(image, 0x100)
		image = asm.AppendLit(image, v)

		_, h := step(t, image, nil)
		if got := h.word(0x100); got != uint32(v) {
			t.Errorf("literal %d: got 0x%08X, want 0x%08X", v, got, uint32(v))
		}
	}
}

// TestLiteralWidths verifies byte/halfword literals are masked to the
// access width before sign interpretation.
func TestLiteralWidths(t *testing.T) {
	// LD_B_U: -1 masked to 0xFF, zero-extended.
	var image []byte
	image = asm.AppendOp(image, op.LD_B_U, false)
	image = asm.AppendDst(image, 0x100)
	image = asm.AppendLit(image, -1)
	_, h := step(t, image, nil)
	if got := h.word(0x100); got != 0xFF {
		t.Errorf("ld_b_u -1: got 0x%08X, want 0xFF", got)
	}

	// LD_B: -1 masked to 0xFF, then sign-extended to -1.
	image = nil
	image = asm.AppendOp(image, op.LD_B, false)
	image = asm.AppendDst(image, 0x100)
	image = asm.AppendLit(image, -1)
	_, h = step(t, image, nil)
	if got := h.word(0x100); got != 0xFFFFFFFF {
		t.Errorf("ld_b -1: got 0x%08X, want 0xFFFFFFFF", got)
	}

	// LD_H: 0x8000 sign-extends.
	image = nil
	image = asm.AppendOp(image, op.LD_H, false)
	image = asm.AppendDst(image, 0x100)
	image = asm.AppendLit(image, 0x8000)
	_, h = step(t, image, nil)
	if got := h.word(0x100); got != 0xFFFF8000 {
		t.Errorf("ld_h 0x8000: got 0x%08X, want 0xFFFF8000", got)
	}
}

func TestBadVarint(t *testing.T) {
	// First bytes implying 6 or more total bytes.
	for _, b := range []byte{0x00, 0x20, 0x40, 0x80} {
		var image []byte
		image = asm.AppendOp(image, op.MOV, false)
		image = append(image, b)

		h := newTestHost()
		copy(h.mem, image)
		m := New(h)
		m.Init(0)
		if rc := m.Step(); rc != BadVarint {
			t.Errorf("first byte 0x%02X: got %v, want bad varint", b, rc)
		}
	}
	// 0x10 implies exactly 5 bytes and is fine.
	var image []byte
	image = asm.AppendOp(image, op.MOV, false)
	image = asm.AppendDst(image, 0x100)
	image = append(image, 0x10, 0xEF, 0xBE, 0xAD, 0xDE)
	_, h := step(t, image, nil)
	// The first byte carries one payload bit here, so the tail lands
	// one bit up: 0xDEADBEEF << 1, truncated to 32 bits.
	if got := h.word(0x100); got != 0xBD5B7DDE {
		t.Errorf("5-byte literal: got 0x%08X, want 0xBD5B7DDE", got)
	}
}

func TestSrcMemDirect(t *testing.T) {
	var image []byte
	image = asm.AppendOp(image, op.MOV, false)
	image = asm.AppendDst(image, 0x100)
	image = asm.AppendSrcMem(image, 0x80)
	_, h := step(t, image, func(h *testHost) { h.setWord(0x80, 0xCAFE) })
	if got := h.word(0x100); got != 0xCAFE {
		t.Errorf("got 0x%X, want 0xCAFE", got)
	}
}

func TestSrcMemUnaligned(t *testing.T) {
	var image []byte
	image = asm.AppendOp(image, op.MOV, false)
	image = asm.AppendDst(image, 0x100)
	image = asm.AppendSrcMem(image, 0x81)
	_, h := step(t, image, func(h *testHost) { h.setWord(0x81, 0x11223344) })
	if got := h.word(0x100); got != 0x11223344 {
		t.Errorf("got 0x%X, want 0x11223344", got)
	}
}

func TestSrcMemIndirect(t *testing.T) {
	var image []byte
	image = asm.AppendOp(image, op.MOV, false)
	image = asm.AppendDst(image, 0x100)
	image = asm.AppendSrcMemInd(image, 0x40)
	image = asm.AppendLit(image, 8)
	_, h := step(t, image, func(h *testHost) {
		h.setWord(0x40, 0x200)  // pointer
		h.setWord(0x208, 12345) // *(pointer + 8)
	})
	if got := h.word(0x100); got != 12345 {
		t.Errorf("got %d, want 12345", got)
	}
}

// TestSrcMemIndirectChain checks an indirection whose offset is itself
// an indirect memory operand.
func TestSrcMemIndirectChain(t *testing.T) {
	var image []byte
	image = asm.AppendOp(image, op.MOV, false)
	image = asm.AppendDst(image, 0x100)
	image = asm.AppendSrcMemInd(image, 0x40)
	image = asm.AppendSrcMemInd(image, 0x44)
	image = asm.AppendLit(image, 4)
	_, h := step(t, image, func(h *testHost) {
		h.setWord(0x40, 0x200) // outer pointer
		h.setWord(0x44, 0x60)  // inner pointer
		h.setWord(0x64, 0x10)  // inner offset word at 0x60+4
		h.setWord(0x210, 999)  // *(0x200 + 0x10)
	})
	if got := h.word(0x100); got != 999 {
		t.Errorf("got %d, want 999", got)
	}
}

func TestDstIndirect(t *testing.T) {
	var image []byte
	image = asm.AppendOp(image, op.MOV, false)
	image = asm.AppendDstInd(image, 0x40)
	image = asm.AppendLit(image, 4)
	image = asm.AppendLit(image, 77)
	_, h := step(t, image, func(h *testHost) { h.setWord(0x40, 0x200) })
	if got := h.word(0x204); got != 77 {
		t.Errorf("got %d, want 77", got)
	}
}

func TestDstUnaligned(t *testing.T) {
	var image []byte
	image = asm.AppendOp(image, op.ST_B, false)
	image = asm.AppendDst(image, 0x101)
	image = asm.AppendLit(image, 0x1FF)
	_, h := step(t, image, nil)
	if h.mem[0x100] != 0 || h.mem[0x101] != 0xFF || h.mem[0x102] != 0 {
		t.Errorf("bytes: % X", h.mem[0x100:0x103])
	}
}

// TestRMWDecrement exercises the implicit source with a negative
// literal as the second operand.
func TestRMWDecrement(t *testing.T) {
	m, h := load(t, "add! [0x100] <- -1")
	h.setWord(0x100, 5)
	if rc := m.Step(); rc != OK {
		t.Fatalf("step: %v", rc)
	}
	if got := h.word(0x100); got != 4 {
		t.Errorf("got %d, want 4", got)
	}
}
