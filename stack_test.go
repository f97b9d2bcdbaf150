package koflvm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/ozanh/koflvm"
)

func TestStack(t *testing.T) {
	s := NewStack(2)
	require.Equal(t, 2, s.Cap())

	_, err := s.Pop()
	require.True(t, errors.Is(err, ErrStackUnderflow))
	_, err = s.Peek()
	require.True(t, errors.Is(err, ErrStackUnderflow))

	require.NoError(t, s.Push(Number(1)))
	require.NoError(t, s.Push(NewString("a")))
	require.Equal(t, `[1.000000, "a"]`, s.String())

	err = s.Push(True)
	require.True(t, errors.Is(err, ErrStackOverflow))
	require.Equal(t, 2, s.Top())
	require.Equal(t, Number(1), s.Get(0))
	require.Nil(t, s.Get(2))

	v, err := s.Peek()
	require.NoError(t, err)
	require.Equal(t, "a", ToDisplayString(v))

	v, err = s.Pop()
	require.NoError(t, err)
	require.Equal(t, "a", ToDisplayString(v))
	v, err = s.Pop()
	require.NoError(t, err)
	require.Equal(t, Number(1), v)
	require.Equal(t, 0, s.Top())

	require.NoError(t, s.Push(False))
	s.Reset()
	require.Equal(t, 0, s.Top())
	require.Equal(t, "[]", s.String())
}
