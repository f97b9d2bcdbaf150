// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package koflvm

import (
	"fmt"
	"strings"
)

var (
	// ErrDecode represents a malformed bytecode error. It is returned for
	// truncated buffers, out of range constant indexes and unknown opcodes.
	ErrDecode = &Error{Name: "DecodeError"}

	// ErrEncode represents an error where a Chunk cannot be represented in the
	// binary format.
	ErrEncode = &Error{Name: "EncodeError"}

	// ErrStackUnderflow represents a pop or peek on an empty operand stack.
	ErrStackUnderflow = &Error{Name: "StackUnderflowError"}

	// ErrStackOverflow represents a push on a full operand stack.
	ErrStackOverflow = &Error{Name: "StackOverflowError"}

	// ErrTypeMismatch represents an operand whose type is not accepted by
	// the opcode.
	ErrTypeMismatch = &Error{Name: "TypeMismatchError"}

	// ErrMissingGlobal represents an access to a global which has no value.
	ErrMissingGlobal = &Error{Name: "MissingGlobalError"}

	// ErrAllocation is returned when the heap cannot satisfy a request.
	ErrAllocation = &Error{Name: "AllocationError"}

	// ErrInvalidFree is returned when a block not owned by the heap or an
	// already freed block is freed.
	ErrInvalidFree = &Error{Name: "InvalidFreeError"}

	// ErrHeapDisposed is returned by heap operations after Dispose.
	ErrHeapDisposed = &Error{Name: "HeapDisposedError"}

	// ErrVMDisposed is returned by Eval after Dispose.
	ErrVMDisposed = &Error{Name: "VMDisposedError"}

	// ErrVMAborted represents a VM aborted error.
	ErrVMAborted = &Error{Name: "VMAbortedError"}

	// ErrVMRunning is returned by Eval if the VM is already evaluating.
	ErrVMRunning = &Error{Name: "VMRunningError"}
)

// Error is the error type of the package. Sentinel errors are *Error values
// and errors derived with NewError keep the sentinel as Cause, so errors.Is
// can be used to check the kind of an error.
type Error struct {
	Name    string
	Message string
	Cause   error
}

func (o *Error) Unwrap() error {
	return o.Cause
}

// Error implements error interface.
func (o *Error) Error() string {
	name := o.Name
	if name == "" {
		name = "error"
	}
	if o.Message == "" {
		return name
	}
	return fmt.Sprintf("%s: %s", name, o.Message)
}

// NewError creates a new Error from the receiver and sets given messages
// joined with a space as Message.
func (o *Error) NewError(messages ...string) *Error {
	return &Error{
		Name:    o.Name,
		Message: strings.Join(messages, " "),
		Cause:   o,
	}
}

// NewOperandTypeError creates a new Error from ErrTypeMismatch.
func NewOperandTypeError(op Opcode, expectType string, found Value) *Error {
	return ErrTypeMismatch.NewError(
		fmt.Sprintf("invalid operand for '%s': expected %s, found %s",
			OpcodeNames[op], expectType, typeName(found)))
}

// RuntimeError is returned by VM.Eval and keeps the position of the failing
// instruction.
type RuntimeError struct {
	Err    *Error
	IP     int
	Opcode Opcode
	Line   int
}

func (o *RuntimeError) Unwrap() error {
	if o.Err != nil {
		return o.Err
	}
	return nil
}

// Error implements error interface.
func (o *RuntimeError) Error() string {
	if o.Err == nil {
		return "<nil>"
	}
	return o.Err.Error()
}

// Format implements fmt.Formatter. %+v prints the instruction position.
func (o *RuntimeError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v', 's':
		_, _ = fmt.Fprint(s, o.Error())
		if s.Flag('+') {
			if o.Opcode == OpNone {
				_, _ = fmt.Fprintf(s, "\n\tat %04d (line %d)", o.IP, o.Line)
				return
			}
			name := "UNKNOWN"
			if int(o.Opcode) < len(OpcodeNames) && OpcodeNames[o.Opcode] != "" {
				name = OpcodeNames[o.Opcode]
			}
			_, _ = fmt.Fprintf(s, "\n\tat %04d %s (line %d)", o.IP, name, o.Line)
		}
	default:
		_, _ = fmt.Fprintf(s, "%"+string(verb), o.Error())
	}
}
