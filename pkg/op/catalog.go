package op

// Spec is the packed operand descriptor of an opcode: the target field in
// the high nibble, the source field in the low nibble.
type Spec uint8

// SpecUndef marks an unassigned opcode slot.
const SpecUndef Spec = 0xFF

// Operand field values beyond the plain counts 0-8.
const (
	FieldVar = 9  // count decoded from the stream, word access
	Field1B  = 10 // one operand, byte access
	Field1H  = 11 // one operand, halfword access
)

// Operand list bounds. Part of the contract: variadic counts above these
// are rejected at decode time.
const (
	MaxTgts = 8
	MaxSrcs = 8
)

func spec(tgt, src uint8) Spec { return Spec(tgt<<4 | src) }

// Tgt returns the target operand field.
func (s Spec) Tgt() uint8 { return uint8(s) >> 4 }

// Src returns the source operand field.
func (s Spec) Src() uint8 { return uint8(s) & 0x0F }

// Shape resolves an operand field to a fixed count and access width.
// variadic is set for FieldVar (the count is encoded in the stream, word
// access). ok is false for the reserved field values 12-15.
func Shape(field uint8) (count, size int, variadic, ok bool) {
	switch {
	case field <= 8:
		return int(field), 4, false, true
	case field == FieldVar:
		return 0, 4, true, true
	case field == Field1B:
		return 1, 1, false, true
	case field == Field1H:
		return 1, 2, false, true
	}
	return 0, 0, false, false
}

// Info holds static metadata for an opcode.
type Info struct {
	Mnemonic string
	Spec     Spec
}

// Catalog maps each opcode value to its Info. Unassigned slots carry
// SpecUndef and an empty mnemonic.
var Catalog [MaxOp + 1]Info

// Defined reports whether o is an assigned opcode.
func Defined(o Op) bool {
	return o <= MaxOp && Catalog[o].Spec != SpecUndef
}

func init() {
	for i := range Catalog {
		Catalog[i].Spec = SpecUndef
	}

	defs := []struct {
		op       Op
		mnemonic string
		tgt, src uint8
	}{
		{ADD, "ADD", 1, 2},
		{SUB, "SUB", 1, 2},
		{MUL, "MUL", 1, 2},
		{DIV, "DIV", 1, 2},
		{DIV_U, "DIV_U", 1, 2},
		{REM, "REM", 1, 2},
		{REM_U, "REM_U", 1, 2},
		{LONG_MUL, "LONG_MUL", 2, 2},
		{LONG_MUL_U, "LONG_MUL_U", 2, 2},

		{AND2, "AND2", 1, 2},
		{OR2, "OR2", 1, 2},
		{AND, "AND", 1, FieldVar},
		{OR, "OR", 1, FieldVar},

		{BIT_AND, "BIT_AND", 1, 2},
		{BIT_OR, "BIT_OR", 1, 2},
		{BIT_XOR, "BIT_XOR", 1, 2},
		{INV, "INV", 1, 1},
		{L_SHIFT, "L_SHIFT", 1, 2},
		{R_SHIFT, "R_SHIFT", 1, 2},
		{R_SHIFT_U, "R_SHIFT_U", 1, 2},

		{TST_EQ, "TST_EQ", 1, 2},
		{TST_NE, "TST_NE", 1, 2},
		{TST_GT, "TST_GT", 1, 2},
		{TST_GE, "TST_GE", 1, 2},
		{TST_GT_U, "TST_GT_U", 1, 2},
		{TST_GE_U, "TST_GE_U", 1, 2},

		{JMP, "JMP", 0, 1},
		{JMP_LNK, "JMP_LNK", 1, 1},
		{BR, "BR", 0, 1},
		{BR_LNK, "BR_LNK", 1, 1},
		{BR_EQ, "BR_EQ", 0, 3},
		{BR_NE, "BR_NE", 0, 3},
		{BR_GT, "BR_GT", 0, 3},
		{BR_GE, "BR_GE", 0, 3},
		{BR_GT_U, "BR_GT_U", 0, 3},
		{BR_GE_U, "BR_GE_U", 0, 3},

		{MOV_EQ, "MOV_EQ", 1, 4},
		{MOV_GT, "MOV_GT", 1, 4},
		{MOV_GE, "MOV_GE", 1, 4},
		{MOV_GT_U, "MOV_GT_U", 1, 4},
		{MOV_GE_U, "MOV_GE_U", 1, 4},

		{LD_B, "LD_B", 1, Field1B},
		{LD_H, "LD_H", 1, Field1H},
		{LD_B_U, "LD_B_U", 1, Field1B},
		{LD_H_U, "LD_H_U", 1, Field1H},
		{ST_B, "ST_B", Field1B, 1},
		{ST_H, "ST_H", Field1H, 1},

		{SYS, "SYS", FieldVar, FieldVar},
		{SYS00, "SYS00", 0, 1},
		{SYS01, "SYS01", 0, 2},
		{SYS02, "SYS02", 0, 3},
		{SYS03, "SYS03", 0, 4},
		{SYS04, "SYS04", 0, 5},
		{SYS10, "SYS10", 1, 1},
		{SYS11, "SYS11", 1, 2},
		{SYS12, "SYS12", 1, 3},
		{SYS13, "SYS13", 1, 4},
		{SYS14, "SYS14", 1, 5},
		{SYS20, "SYS20", 2, 1},
		{SYS21, "SYS21", 2, 2},
		{SYS22, "SYS22", 2, 3},
		{SYS23, "SYS23", 2, 4},
		{SYS24, "SYS24", 2, 5},

		{MOV, "MOV", 1, 1},
		{NEG, "NEG", 1, 1},
		{EXIT, "EXIT", 0, 1},
		{ABS, "ABS", 1, 1},
		{MAX, "MAX", 1, FieldVar},
		{MIN, "MIN", 1, FieldVar},
		{NOT, "NOT", 1, 1},
		{BOOL, "BOOL", 1, 1},
		{NOP, "NOP", 0, 0},
	}

	for _, d := range defs {
		Catalog[d.op] = Info{Mnemonic: d.mnemonic, Spec: spec(d.tgt, d.src)}
	}
}

// ByMnemonic returns the opcode for a mnemonic, or ok=false.
func ByMnemonic(name string) (Op, bool) {
	for o := Op(0); o <= MaxOp; o++ {
		if Catalog[o].Spec != SpecUndef && Catalog[o].Mnemonic == name {
			return o, true
		}
	}
	return 0, false
}
