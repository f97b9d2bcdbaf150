// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

// Package asm converts the textual form of instructions into a koflvm.Chunk.
//
// Each instruction is an opcode mnemonic, matched case insensitively against
// koflvm.OpcodeNames, separated by a newline or ';'. CONST takes a literal
// operand which is added to the constant pool:
//
//	const 1.5          // number
//	const -0x10        // integer literals are numbers too
//	const "foo"; const true
//	concat             # comments start with // or #
//	byte 255           // writes a raw byte
//
// The line of each written byte is the source line of its instruction.
package asm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/ozanh/koflvm"
)

// maxConstants is the number of constants addressable by a CONST operand.
const maxConstants = math.MaxUint8 + 1

// Error represents an assembler error with its source position.
type Error struct {
	Pos scanner.Position
	Msg string
}

func (e *Error) Error() string {
	if !e.Pos.IsValid() {
		return e.Msg
	}
	return e.Pos.String() + ": " + e.Msg
}

// Assemble converts src into a new Chunk.
func Assemble(src string) (*koflvm.Chunk, error) {
	return AssembleFile("", src)
}

// AssembleFile converts src into a new Chunk, filename is only used in error
// positions.
func AssembleFile(filename, src string) (*koflvm.Chunk, error) {
	a := &assembler{chunk: koflvm.NewChunk()}
	a.s.Init(strings.NewReader(src))
	a.s.Filename = filename
	a.s.Mode = scanner.ScanIdents | scanner.ScanFloats | scanner.ScanStrings |
		scanner.ScanRawStrings | scanner.ScanComments | scanner.SkipComments
	a.s.Whitespace = 1<<'\t' | 1<<'\r' | 1<<' '
	a.s.Error = func(s *scanner.Scanner, msg string) {
		pos := s.Position
		if !pos.IsValid() {
			pos = s.Pos()
		}
		a.fail(pos, msg)
	}

	if err := a.parse(); err != nil {
		return nil, err
	}
	return a.chunk, nil
}

type assembler struct {
	s     scanner.Scanner
	chunk *koflvm.Chunk
	err   *Error
}

func (a *assembler) fail(pos scanner.Position, msg string) {
	if a.err == nil {
		a.err = &Error{Pos: pos, Msg: msg}
	}
}

func (a *assembler) errorf(format string, args ...interface{}) error {
	a.fail(a.s.Position, fmt.Sprintf(format, args...))
	return a.err
}

func (a *assembler) parse() error {
	for {
		tok := a.s.Scan()
		if a.err != nil {
			return a.err
		}

		switch tok {
		case scanner.EOF:
			return nil
		case '\n', ';':
		case '#':
			a.skipLine()
		case scanner.Ident:
			if err := a.instruction(); err != nil {
				return err
			}
		default:
			return a.errorf("unexpected %s", scanner.TokenString(tok))
		}
	}
}

func (a *assembler) skipLine() {
	for {
		ch := a.s.Peek()
		if ch == '\n' || ch == scanner.EOF {
			return
		}
		a.s.Next()
	}
}

func (a *assembler) instruction() error {
	name := a.s.TokenText()
	line := a.s.Position.Line

	if strings.EqualFold(name, "byte") {
		b, err := a.byteOperand()
		if err != nil {
			return err
		}
		a.chunk.Write(b, line)
		return a.expectEnd()
	}

	op, ok := koflvm.LookupOpcode(strings.ToUpper(name))
	if !ok {
		return a.errorf("unknown mnemonic %q", name)
	}
	a.chunk.Write(op, line)

	if op == koflvm.OpConst {
		v, err := a.literal()
		if err != nil {
			return err
		}
		idx, err := a.constant(v)
		if err != nil {
			return err
		}
		a.chunk.Write(byte(idx), line)
	}
	return a.expectEnd()
}

func (a *assembler) expectEnd() error {
	switch tok := a.s.Scan(); tok {
	case '\n', ';', scanner.EOF:
	case '#':
		a.skipLine()
	default:
		return a.errorf("unexpected %s after instruction", scanner.TokenString(tok))
	}
	if a.err != nil {
		return a.err
	}
	return nil
}

func (a *assembler) byteOperand() (byte, error) {
	if tok := a.s.Scan(); tok != scanner.Int {
		return 0, a.errorf("expected byte value, found %s", scanner.TokenString(tok))
	}
	v, err := strconv.ParseUint(a.s.TokenText(), 0, 8)
	if err != nil {
		return 0, a.errorf("invalid byte value %s", a.s.TokenText())
	}
	return byte(v), nil
}

func (a *assembler) literal() (koflvm.Value, error) {
	tok := a.s.Scan()
	var sign string
	if tok == '-' || tok == '+' {
		sign = string(tok)
		tok = a.s.Scan()
	}

	text := a.s.TokenText()
	switch tok {
	case scanner.Int:
		v, err := strconv.ParseInt(sign+text, 0, 64)
		if err != nil {
			return nil, a.errorf("invalid integer %s", sign+text)
		}
		return koflvm.Number(v), nil
	case scanner.Float:
		v, err := strconv.ParseFloat(sign+text, 64)
		if err != nil {
			return nil, a.errorf("invalid number %s", sign+text)
		}
		return koflvm.Number(v), nil
	case scanner.Ident:
		switch text {
		case "inf", "nan":
			v, err := strconv.ParseFloat(sign+text, 64)
			if err == nil {
				return koflvm.Number(v), nil
			}
		case "true", "false":
			if sign == "" {
				return koflvm.MakeBool(text == "true"), nil
			}
		}
		return nil, a.errorf("invalid literal %s", sign+text)
	case scanner.String, scanner.RawString:
		if sign != "" {
			break
		}
		s, err := strconv.Unquote(text)
		if err != nil {
			return nil, a.errorf("invalid string %s", text)
		}
		return koflvm.NewString(s), nil
	}
	return nil, a.errorf("expected literal, found %s", scanner.TokenString(tok))
}

// constant returns the index of v in the constant pool, adding v if there is
// no identical constant.
func (a *assembler) constant(v koflvm.Value) (int, error) {
	for i, c := range a.chunk.Consts() {
		if identical(c, v) {
			return i, nil
		}
	}
	if len(a.chunk.Consts()) >= maxConstants {
		return 0, a.errorf("too many constants, limit is %d", maxConstants)
	}
	return a.chunk.WriteConst(v), nil
}

func identical(x, y koflvm.Value) bool {
	if x.TypeName() != y.TypeName() || !x.Equal(y) {
		return false
	}
	if n, ok := x.(koflvm.Number); ok {
		return math.Signbit(float64(n)) == math.Signbit(float64(y.(koflvm.Number)))
	}
	return true
}
