package vm

import (
	"math"

	"github.com/jkmnt/bajo/pkg/op"
)

// dispatch executes one opcode body. s holds the decoded source values;
// computed target values go into t[:ntgts] and are committed by the
// caller only if no error was set. Control-transfer opcodes mutate PC
// here, after operand decoding has finished.
func (m *VM) dispatch(opcode op.Op, t *[MaxTgts]int32, ntgts int, s []int32) {
	ns := len(s)

	switch opcode {
	// === Arithmetic ===
	case op.ADD:
		t[0] = s[0] + s[1]

	case op.SUB:
		t[0] = s[0] - s[1]

	case op.MUL:
		t[0] = s[0] * s[1]

	case op.DIV:
		if s[1] == 0 {
			if m.ErrOnZeroDivision {
				m.Err = ZeroDivision
				return
			}
			t[0] = 0
			return
		}
		if s[0] == math.MinInt32 && s[1] == -1 {
			if m.ErrOnIntOverflow {
				m.Err = IntegerOverflow
				return
			}
			t[0] = math.MinInt32
			return
		}
		t[0] = s[0] / s[1]

	case op.DIV_U:
		if s[1] == 0 {
			if m.ErrOnZeroDivision {
				m.Err = ZeroDivision
				return
			}
			t[0] = 0
			return
		}
		t[0] = int32(uint32(s[0]) / uint32(s[1]))

	case op.REM:
		if s[1] == 0 {
			if m.ErrOnZeroDivision {
				m.Err = ZeroDivision
				return
			}
			t[0] = 0
			return
		}
		// The correct result fits: never an overflow error.
		if s[0] == math.MinInt32 && s[1] == -1 {
			t[0] = 0
			return
		}
		t[0] = s[0] % s[1]

	case op.REM_U:
		if s[1] == 0 {
			if m.ErrOnZeroDivision {
				m.Err = ZeroDivision
				return
			}
			t[0] = 0
			return
		}
		t[0] = int32(uint32(s[0]) % uint32(s[1]))

	case op.LONG_MUL:
		res := int64(s[0]) * int64(s[1])
		t[0] = int32(res)
		t[1] = int32(res >> 32)

	case op.LONG_MUL_U:
		res := uint64(uint32(s[0])) * uint64(uint32(s[1]))
		t[0] = int32(uint32(res))
		t[1] = int32(uint32(res >> 32))

	// === Logic ===
	case op.AND2:
		if s[0] == 0 {
			t[0] = s[0]
		} else {
			t[0] = s[1]
		}

	case op.OR2:
		if s[0] != 0 {
			t[0] = s[0]
		} else {
			t[0] = s[1]
		}

	case op.AND:
		if ns < 1 {
			m.Err = BadOperand
			return
		}
		var ret int32
		for _, v := range s {
			ret = v
			if ret == 0 {
				break
			}
		}
		t[0] = ret

	case op.OR:
		if ns < 1 {
			m.Err = BadOperand
			return
		}
		var ret int32
		for _, v := range s {
			ret = v
			if ret != 0 {
				break
			}
		}
		t[0] = ret

	// === Bitwise ===
	case op.BIT_AND:
		t[0] = s[0] & s[1]

	case op.BIT_OR:
		t[0] = s[0] | s[1]

	case op.BIT_XOR:
		t[0] = s[0] ^ s[1]

	case op.INV:
		t[0] = ^s[0]

	case op.L_SHIFT:
		if uint32(s[1]) >= 32 {
			t[0] = 0
		} else {
			t[0] = s[0] << uint32(s[1])
		}

	case op.R_SHIFT_U:
		if uint32(s[1]) >= 32 {
			t[0] = 0
		} else {
			t[0] = int32(uint32(s[0]) >> uint32(s[1]))
		}

	case op.R_SHIFT:
		if uint32(s[1]) >= 32 {
			t[0] = s[0] >> 31 // 0 or all-ones
		} else {
			t[0] = s[0] >> uint32(s[1])
		}

	// === Comparisons ===
	case op.TST_EQ:
		t[0] = b2i(s[0] == s[1])

	case op.TST_NE:
		t[0] = b2i(s[0] != s[1])

	case op.TST_GT:
		t[0] = b2i(s[0] > s[1])

	case op.TST_GE:
		t[0] = b2i(s[0] >= s[1])

	case op.TST_GT_U:
		t[0] = b2i(uint32(s[0]) > uint32(s[1]))

	case op.TST_GE_U:
		t[0] = b2i(uint32(s[0]) >= uint32(s[1]))

	// === Control transfer ===
	case op.BR:
		m.PC += uint32(s[0])

	case op.BR_LNK:
		t[0] = int32(m.PC)
		m.PC += uint32(s[0])

	case op.BR_EQ:
		if s[0] == s[1] {
			m.PC += uint32(s[2])
		}

	case op.BR_NE:
		if s[0] != s[1] {
			m.PC += uint32(s[2])
		}

	case op.BR_GT:
		if s[0] > s[1] {
			m.PC += uint32(s[2])
		}

	case op.BR_GE:
		if s[0] >= s[1] {
			m.PC += uint32(s[2])
		}

	case op.BR_GT_U:
		if uint32(s[0]) > uint32(s[1]) {
			m.PC += uint32(s[2])
		}

	case op.BR_GE_U:
		if uint32(s[0]) >= uint32(s[1]) {
			m.PC += uint32(s[2])
		}

	case op.JMP:
		m.PC = uint32(s[0])

	case op.JMP_LNK:
		t[0] = int32(m.PC)
		m.PC = uint32(s[0])

	// === Conditional moves ===
	case op.MOV_EQ:
		t[0] = sel(s[0] == s[1], s[2], s[3])

	case op.MOV_GT:
		t[0] = sel(s[0] > s[1], s[2], s[3])

	case op.MOV_GE:
		t[0] = sel(s[0] >= s[1], s[2], s[3])

	case op.MOV_GT_U:
		t[0] = sel(uint32(s[0]) > uint32(s[1]), s[2], s[3])

	case op.MOV_GE_U:
		t[0] = sel(uint32(s[0]) >= uint32(s[1]), s[2], s[3])

	// === Host calls ===
	// All forms funnel into one call site: s[0] is the function index,
	// the rest are arguments, the target slots are the result buffer.
	case op.SYS:
		if ns < 1 {
			m.Err = BadOperand
			return
		}
		fallthrough
	case op.SYS00, op.SYS01, op.SYS02, op.SYS03, op.SYS04,
		op.SYS10, op.SYS11, op.SYS12, op.SYS13, op.SYS14,
		op.SYS20, op.SYS21, op.SYS22, op.SYS23, op.SYS24:
		m.Host.Call(m, s[0], t[:ntgts], s[1:])

	// === Moves and narrow loads/stores ===
	// Width handling lives in the step loop: the opspec selects the
	// access size for the source fetch and the target write.
	case op.MOV, op.LD_B_U, op.LD_H_U, op.ST_B, op.ST_H:
		t[0] = s[0]

	case op.LD_B:
		t[0] = int32(int8(s[0]))

	case op.LD_H:
		t[0] = int32(int16(s[0]))

	// === Misc ===
	case op.NEG:
		t[0] = -s[0]

	case op.EXIT:
		m.Err = Exit
		m.ExitRC = s[0]

	case op.ABS:
		if s[0] < 0 {
			t[0] = -s[0]
		} else {
			t[0] = s[0]
		}

	case op.MAX:
		if ns < 1 {
			m.Err = BadOperand
			return
		}
		v := s[0]
		for _, x := range s[1:] {
			if x > v {
				v = x
			}
		}
		t[0] = v

	case op.MIN:
		if ns < 1 {
			m.Err = BadOperand
			return
		}
		v := s[0]
		for _, x := range s[1:] {
			if x < v {
				v = x
			}
		}
		t[0] = v

	case op.NOT:
		t[0] = b2i(s[0] == 0)

	case op.BOOL:
		t[0] = b2i(s[0] != 0)

	case op.NOP:

	default:
		// Catalog entry with no executor case.
		m.Err = Bug
	}
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func sel(cond bool, a, b int32) int32 {
	if cond {
		return a
	}
	return b
}
