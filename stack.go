// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package koflvm

import "strings"

// Stack is a fixed capacity operand stack.
type Stack struct {
	values []Value
	top    int
}

// NewStack returns a Stack which can hold capacity values.
func NewStack(capacity int) *Stack {
	return &Stack{values: make([]Value, capacity)}
}

// Push pushes v. If the stack is full, it returns ErrStackOverflow and the
// stack is not modified.
func (s *Stack) Push(v Value) error {
	if s.top >= len(s.values) {
		return ErrStackOverflow
	}
	s.values[s.top] = v
	s.top++
	return nil
}

// Pop removes and returns the top value or returns ErrStackUnderflow if the
// stack is empty.
func (s *Stack) Pop() (Value, error) {
	if s.top <= 0 {
		return nil, ErrStackUnderflow
	}
	s.top--
	v := s.values[s.top]
	s.values[s.top] = nil
	return v, nil
}

// Peek returns the top value without removing it or returns
// ErrStackUnderflow if the stack is empty.
func (s *Stack) Peek() (Value, error) {
	if s.top <= 0 {
		return nil, ErrStackUnderflow
	}
	return s.values[s.top-1], nil
}

// Top returns the number of values on the stack.
func (s *Stack) Top() int { return s.top }

// Cap returns the capacity of the stack.
func (s *Stack) Cap() int { return len(s.values) }

// Get returns the value at index i counting from the bottom.
func (s *Stack) Get(i int) Value {
	if i < 0 || i >= s.top {
		return nil
	}
	return s.values[i]
}

// Reset removes all values.
func (s *Stack) Reset() {
	for i := 0; i < s.top; i++ {
		s.values[i] = nil
	}
	s.top = 0
}

func (s *Stack) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < s.top; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if str, ok := s.values[i].(*String); ok {
			sb.WriteString(`"`)
			sb.Write(str.Bytes())
			sb.WriteString(`"`)
			continue
		}
		sb.WriteString(ToDisplayString(s.values[i]))
	}
	sb.WriteByte(']')
	return sb.String()
}
