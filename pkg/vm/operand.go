package vm

import "math/bits"

// Operand fields are little-endian varints. The count of trailing zero
// bits of the first byte determines the total length: ctz+1 bytes, at
// most 5 (a first byte of 0x00 implies 6 and is rejected). The length
// tag is stripped from the first byte only; trailing bytes contribute
// all 8 bits, shifted in above the first byte's remaining payload.
//
// Source payload layout, after the tag:
//
//	bit 0 = 0: literal. bit 1 = one's-complement negate, rest = value.
//	bit 0 = 1: memory.  bit 1 = indirect, bit 2 = byte-aligned
//	           (clear: value is scaled by 4), rest = address.
//
// Destination payload layout, after the tag:
//
//	bit 0 = indirect, bit 1 = byte-aligned, rest = address.
//
// An indirect reference replaces the address with the word stored there
// plus one more word-width source operand consumed from the stream.

// readVarint fetches one raw operand field at PC: the tag-stripped first
// byte and the trailing bytes. Fails with BadVarint on over-long forms.
func (m *VM) readVarint() (head, tail uint32, nbytes int, ok bool) {
	head = m.Host.Read(m, m.PC, 1)
	m.PC++

	nbytes = bits.TrailingZeros32(head) + 1
	if nbytes > 5 {
		m.Err = BadVarint
		return 0, 0, 0, false
	}

	if nbytes > 1 {
		tail = m.Host.Read(m, m.PC, nbytes-1)
		m.PC += uint32(nbytes - 1)
	}
	head >>= uint(nbytes)
	return head, tail, nbytes, true
}

// readSrc decodes one source operand of the given access width and
// returns its value: either a literal or a memory fetch.
func (m *VM) readSrc(size int) int32 {
	head, tail, nbytes, ok := m.readVarint()
	if !ok {
		return 0
	}

	if head&0b1 == 0 {
		val := tail<<uint(8-2-nbytes) | head>>2
		if head&0b10 != 0 {
			val = ^val
		}
		switch size {
		case 1:
			val &= 0xFF
		case 2:
			val &= 0xFFFF
		}
		return int32(val)
	}

	addr := tail<<uint(8-3-nbytes) | head>>3
	if head&0b100 == 0 {
		addr *= 4
	}
	if head&0b010 != 0 {
		addr = m.Host.Read(m, addr, 4) + uint32(m.readSrc(4))
	}
	return int32(m.Host.Read(m, addr, size))
}

// readDst decodes one destination operand and returns the effective
// address the step will later write to.
func (m *VM) readDst() uint32 {
	head, tail, nbytes, ok := m.readVarint()
	if !ok {
		return 0
	}

	addr := tail<<uint(8-2-nbytes) | head>>2
	if head&0b10 == 0 {
		addr *= 4
	}
	if head&0b01 != 0 {
		addr = m.Host.Read(m, addr, 4) + uint32(m.readSrc(4))
	}
	return addr
}
