// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package koflvm

import "strconv"

// Opcode represents a single byte operation code.
type Opcode = byte

// List of opcodes. Values are part of the binary format, do not reorder.
const (
	OpRet Opcode = iota
	OpConst
	OpNegate
	OpSum
	OpSub
	OpMult
	OpDiv
	OpTrue
	OpFalse
	OpNot
	OpConcat
	OpPop
	OpStoreGlobal
	OpAccessGlobal
)

// OpNone is not an instruction. RuntimeError uses it for errors raised
// between instructions, like reaching the end of code or an abort.
const OpNone Opcode = 0xff

// OpcodeNames are string representation of opcodes.
var OpcodeNames = [...]string{
	OpRet:          "RET",
	OpConst:        "CONST",
	OpNegate:       "NEGATE",
	OpSum:          "SUM",
	OpSub:          "SUB",
	OpMult:         "MULT",
	OpDiv:          "DIV",
	OpTrue:         "TRUE",
	OpFalse:        "FALSE",
	OpNot:          "NOT",
	OpConcat:       "CONCAT",
	OpPop:          "POP",
	OpStoreGlobal:  "STORE_GLOBAL",
	OpAccessGlobal: "ACCESS_GLOBAL",
}

// OpcodeOperands is the number of operand bytes following each opcode.
var OpcodeOperands = [...]int{
	OpRet:          0,
	OpConst:        1, // constant index
	OpNegate:       0,
	OpSum:          0,
	OpSub:          0,
	OpMult:         0,
	OpDiv:          0,
	OpTrue:         0,
	OpFalse:        0,
	OpNot:          0,
	OpConcat:       0,
	OpPop:          0,
	OpStoreGlobal:  0,
	OpAccessGlobal: 0,
}

// IsOpcode reports whether b is a known opcode.
func IsOpcode(b byte) bool {
	return int(b) < len(OpcodeNames)
}

// LookupOpcode returns the opcode of given name, names are case sensitive.
func LookupOpcode(name string) (Opcode, bool) {
	for op, n := range OpcodeNames {
		if n == name {
			return Opcode(op), true
		}
	}
	return 0, false
}

// IterateInstructions iterates instructions and calls given fn with the
// position, opcode and operands of each instruction. It stops when fn returns
// false. A truncated operand or an unknown opcode stops the iteration with an
// ErrDecode error.
func IterateInstructions(
	insts []byte,
	fn func(pos int, opcode Opcode, operands []byte) bool,
) error {
	for i := 0; i < len(insts); {
		op := insts[i]
		if !IsOpcode(op) {
			return ErrDecode.NewError("unknown opcode", strconv.Itoa(int(op)),
				"at", strconv.Itoa(i))
		}

		width := OpcodeOperands[op]
		if i+width >= len(insts) && width > 0 {
			return ErrDecode.NewError("truncated operand for",
				OpcodeNames[op], "at", strconv.Itoa(i))
		}

		if !fn(i, op, insts[i+1:i+1+width]) {
			return nil
		}
		i += 1 + width
	}
	return nil
}
