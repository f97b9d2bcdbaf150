package koflvm_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/ozanh/koflvm"
)

func TestChunkWrite(t *testing.T) {
	c := NewChunk()
	require.Equal(t, 0, c.Count())
	require.Equal(t, 0, c.Capacity())

	idx := c.WriteConst(Number(3))
	require.Equal(t, 0, idx)
	c.Write(OpConst, 1)
	c.Write(byte(idx), 1)
	idx = c.WriteConst(NewString("s"))
	require.Equal(t, 1, idx)
	c.Write(OpConst, 2)
	c.Write(byte(idx), 2)
	c.Write(OpRet, 3)

	require.Equal(t, 5, c.Count())
	require.Equal(t, 8, c.Capacity())
	require.Equal(t, len(c.Code()), len(c.Lines()))
	require.Equal(t, []int{1, 1, 2, 2, 3}, c.Lines())
	require.Equal(t, 2, c.Line(2))
	require.Equal(t, 0, c.Line(5))
	require.Equal(t, 0, c.Line(-1))
	require.NoError(t, c.Validate())

	v, err := c.Const(1)
	require.NoError(t, err)
	require.Equal(t, "s", ToDisplayString(v))
	_, err = c.Const(2)
	require.True(t, errors.Is(err, ErrDecode))

	for i := 0; i < 4; i++ {
		c.Write(OpPop, 4)
	}
	require.Equal(t, 16, c.Capacity())
}

func TestChunkValidate(t *testing.T) {
	c := NewChunk()
	c.Write(OpConst, 1)
	c.Write(0, 1)
	err := c.Validate()
	require.True(t, errors.Is(err, ErrDecode), "%v", err)
	require.Contains(t, err.Error(), "out of range")

	c = NewChunk()
	c.Write(OpConst, 1)
	err = c.Validate()
	require.True(t, errors.Is(err, ErrDecode), "%v", err)
	require.Contains(t, err.Error(), "truncated")

	c = NewChunk()
	c.Write(OpTrue, 1)
	c.Write(255, 1)
	err = c.Validate()
	require.True(t, errors.Is(err, ErrDecode), "%v", err)
	require.Contains(t, err.Error(), "unknown opcode 255")
}

func TestChunkFprint(t *testing.T) {
	c := NewChunk()
	c.WriteConst(Number(1.5))
	c.WriteConst(NewString("x"))
	c.Write(OpConst, 1)
	c.Write(0, 1)
	c.Write(OpConst, 2)
	c.Write(1, 2)
	c.Write(OpStoreGlobal, 2)
	c.Write(200, 3)

	expected := `Chunk Count:6 Capacity:8
Constants:
   0: 1.500000|number
   1: "x"|string
Instructions:
0000    1 CONST         0 (1.500000)
0002    2 CONST         1 ("x")
0004    2 STORE_GLOBAL  
0005    3 UNKNOWN       200
`
	require.Equal(t, expected, c.String())

	var sb strings.Builder
	require.Equal(t, 2, c.FprintInstruction(&sb, 2))
	require.Equal(t, "0002    2 CONST         1 (\"x\")\n", sb.String())
}
