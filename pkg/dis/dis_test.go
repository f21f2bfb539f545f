package dis

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkmnt/bajo/pkg/asm"
	"github.com/jkmnt/bajo/pkg/op"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		program string
		want    string
	}{
		{"nop", "NOP"},
		{"exit <- 7", "EXIT <- 7"},
		{"add [0x100] <- 3, -4", "ADD [0x100] <- 3, -4"},
		{"add! [0x300] <- 1", "ADD! [0x300] <- 1"},
		{"mov [0x40 + 8] <- [0x80]", "MOV [0x40 + 8] <- [0x80]"},
		{"max [0x200] <- -1, 5, 2, 5", "MAX [0x200] <- -1, 5, 2, 5"},
		{"sys21 [0x10], [0x14] <- 3, 9", "SYS21 [0x10], [0x14] <- 3, 9"},
		{"st_b [0x101] <- 0xFF", "ST_B [0x101] <- 255"},
	}
	for _, tc := range tests {
		image, err := asm.AssembleString(tc.program)
		require.NoError(t, err, tc.program)

		in, err := Decode(image, 0)
		require.NoError(t, err, tc.program)
		assert.Equal(t, tc.want, in.Text, tc.program)
		assert.Equal(t, len(image), in.Len, tc.program)
	}
}

// TestRoundTrip reassembles a listing and expects identical bytes.
func TestRoundTrip(t *testing.T) {
	program := `
		add! [0x100] <- 1
		br_gt <- 3, [0x100], -9
		long_mul [0x100], [0x104] <- -2, 3
		sys [0x10] <- 0, 65
		exit <- 0
	`
	image, err := asm.AssembleString(program)
	require.NoError(t, err)

	lines, err := Listing(image)
	require.NoError(t, err)
	require.Len(t, lines, 5)

	var text bytes.Buffer
	for _, in := range lines {
		text.WriteString(in.Text)
		text.WriteByte('\n')
	}
	again, err := asm.Assemble(&text)
	require.NoError(t, err)
	assert.Equal(t, image, again)
}

func TestListingOffsets(t *testing.T) {
	image, err := asm.AssembleString("nop\nadd [0x100] <- 3, 4\nexit <- 0")
	require.NoError(t, err)

	lines, err := Listing(image)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, 0, lines[0].Off)
	assert.Equal(t, op.NOP, lines[0].Op)
	assert.Equal(t, 1, lines[0].Len)
	assert.Equal(t, 1, lines[1].Off)
	assert.Equal(t, lines[1].Off+lines[1].Len, lines[2].Off)
}

func TestUnknownOpcode(t *testing.T) {
	_, err := Decode([]byte{0x3F}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown opcode")
}

func TestTruncated(t *testing.T) {
	image, err := asm.AssembleString("add [0x100] <- 3, 4")
	require.NoError(t, err)

	_, err = Decode(image[:len(image)-1], 0)
	assert.ErrorIs(t, err, ErrTruncated)

	lines, err := Listing(image[:len(image)-1])
	assert.Empty(t, lines)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDynamicCount(t *testing.T) {
	// AND whose source count operand is a memory reference: the
	// listing cannot know the operand count without running.
	var image []byte
	image = asm.AppendOp(image, op.AND, false)
	image = asm.AppendDst(image, 0x100)
	image = asm.AppendSrcMem(image, 0x40)

	_, err := Decode(image, 0)
	assert.ErrorIs(t, err, ErrDynamicCount)
}

func TestBadVarint(t *testing.T) {
	_, err := Decode([]byte{0x48, 0x00}, 0) // EXIT with an over-long operand
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad varint")
}

func TestWriteJSON(t *testing.T) {
	image, err := asm.AssembleString("exit <- 7")
	require.NoError(t, err)
	lines, err := Listing(image)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, lines))

	var decoded []struct {
		Off  int    `json:"off"`
		Len  int    `json:"len"`
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "EXIT <- 7", decoded[0].Text)
	assert.Equal(t, 2, decoded[0].Len)
}
