// Copyright (c) 2020 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package koflvm

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Chunk holds the instructions, the line of each instruction byte and the
// constants of a compiled unit. Code and lines always have the same length.
// A Chunk must not be modified while it is evaluated.
type Chunk struct {
	code   *Array[byte]
	lines  *Array[int]
	consts *Array[Value]
}

// NewChunk returns an empty Chunk.
func NewChunk() *Chunk {
	return NewChunkSize(0)
}

// NewChunkSize returns an empty Chunk whose code and line arrays are
// allocated with given capacity.
func NewChunkSize(capacity int) *Chunk {
	return &Chunk{
		code:   NewArray[byte](capacity),
		lines:  NewArray[int](capacity),
		consts: NewArray[Value](0),
	}
}

// Write appends an opcode or an operand byte with its source line.
func (c *Chunk) Write(b byte, line int) {
	c.code.Append(b)
	c.lines.Append(line)
}

// WriteConst appends v to the constant pool and returns its index.
func (c *Chunk) WriteConst(v Value) int {
	return c.consts.Append(v)
}

// Count returns the number of bytes in code.
func (c *Chunk) Count() int { return c.code.Len() }

// Capacity returns the capacity of code.
func (c *Chunk) Capacity() int { return c.code.Cap() }

// Code returns the instructions. The returned slice must not be modified.
func (c *Chunk) Code() []byte { return c.code.Items() }

// Lines returns the line of each instruction byte.
func (c *Chunk) Lines() []int { return c.lines.Items() }

// Consts returns the constant pool.
func (c *Chunk) Consts() []Value { return c.consts.Items() }

// Const returns the constant at index i or an ErrDecode error if i is out of
// range.
func (c *Chunk) Const(i int) (Value, error) {
	if i < 0 || i >= c.consts.Len() {
		return nil, ErrDecode.NewError("constant index", strconv.Itoa(i),
			"out of range, constants:", strconv.Itoa(c.consts.Len()))
	}
	return c.consts.At(i), nil
}

// Line returns the line of the instruction at ip, or 0 if ip is out of range.
func (c *Chunk) Line(ip int) int {
	if ip < 0 || ip >= c.lines.Len() {
		return 0
	}
	return c.lines.At(ip)
}

// Validate checks that all opcodes are known, operands are not truncated and
// constant indexes are in range.
func (c *Chunk) Validate() error {
	if c.code.Len() != c.lines.Len() {
		return ErrDecode.NewError("code and lines length mismatch")
	}

	var err error
	iterErr := IterateInstructions(c.Code(),
		func(pos int, op Opcode, operands []byte) bool {
			if op == OpConst {
				_, err = c.Const(int(operands[0]))
			}
			return err == nil
		},
	)
	if iterErr != nil {
		return iterErr
	}
	return err
}

// Fprint writes constants and instructions to given Writer in a human
// readable form.
func (c *Chunk) Fprint(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Chunk Count:%d Capacity:%d\n", c.Count(), c.Capacity())
	_, _ = fmt.Fprintf(w, "Constants:\n")
	for i, v := range c.Consts() {
		_, _ = fmt.Fprintf(w, "%4d: %s|%s\n", i, quoteValue(v), typeName(v))
	}

	_, _ = fmt.Fprintf(w, "Instructions:\n")
	code := c.Code()
	for i := 0; i < len(code); {
		i += c.FprintInstruction(w, i)
	}
}

// FprintInstruction writes the instruction at ip and returns its width.
func (c *Chunk) FprintInstruction(w io.Writer, ip int) int {
	code := c.Code()
	op := code[ip]
	if !IsOpcode(op) {
		_, _ = fmt.Fprintf(w, "%04d %4d %-14s%d\n", ip, c.Line(ip), "UNKNOWN", op)
		return 1
	}

	_, _ = fmt.Fprintf(w, "%04d %4d %-14s", ip, c.Line(ip), OpcodeNames[op])
	width := OpcodeOperands[op]
	if ip+width >= len(code) && width > 0 {
		_, _ = fmt.Fprintln(w, "<truncated>")
		return len(code) - ip
	}

	for _, operand := range code[ip+1 : ip+1+width] {
		_, _ = fmt.Fprint(w, strconv.Itoa(int(operand)))
		if op == OpConst && int(operand) < len(c.Consts()) {
			_, _ = fmt.Fprintf(w, " (%s)", quoteValue(c.Consts()[operand]))
		}
	}
	_, _ = fmt.Fprintln(w)
	return 1 + width
}

func (c *Chunk) String() string {
	var buf bytes.Buffer
	c.Fprint(&buf)
	return buf.String()
}

func quoteValue(v Value) string {
	if s, ok := v.(*String); ok {
		return strconv.Quote(string(s.Bytes()))
	}
	return ToDisplayString(v)
}
