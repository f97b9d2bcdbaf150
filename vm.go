// Copyright (c) 2020 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package koflvm

import (
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
)

// Options is the configuration of a VM.
type Options struct {
	// Memory is the heap arena size in bytes.
	Memory int
	// StackSize is the operand stack capacity.
	StackSize int
	// Trace, if not nil, receives one line per dispatched opcode with the
	// stack contents before dispatch.
	Trace io.Writer
}

// DefaultOptions holds default VM options.
var DefaultOptions = Options{
	Memory:    512,
	StackSize: 256,
}

// VM executes the instructions of a Chunk. A VM exclusively owns its stack,
// globals table and heap; Objects created by a VM must not be passed to
// another VM. VM is not safe for concurrent use except Abort.
type VM struct {
	abort   int64
	stack   *Stack
	chunk   *Chunk
	ip      int
	globals *Table
	strings *Table
	heap    *Heap
	objects Object
	trace   io.Writer
	running bool

	disposed bool
}

// NewVM creates a VM with given options. Zero values in opts are replaced
// with DefaultOptions values.
func NewVM(opts Options) (*VM, error) {
	if opts.Memory <= 0 {
		opts.Memory = DefaultOptions.Memory
	}
	if opts.StackSize <= 0 {
		opts.StackSize = DefaultOptions.StackSize
	}

	heap, err := NewHeap(opts.Memory)
	if err != nil {
		return nil, err
	}

	return &VM{
		stack:   NewStack(opts.StackSize),
		globals: NewTable(),
		strings: NewTable(),
		heap:    heap,
		trace:   opts.Trace,
	}, nil
}

// SetTrace sets the trace writer, nil disables tracing.
func (vm *VM) SetTrace(w io.Writer) *VM {
	vm.trace = w
	return vm
}

// Abort aborts the running evaluation before the next dispatch.
func (vm *VM) Abort() {
	atomic.StoreInt64(&vm.abort, 1)
}

// Eval runs the instructions of c from the beginning until RET is executed
// and returns the value popped by RET. Stack is cleared before evaluation,
// globals are kept between evaluations. Returned errors are *RuntimeError.
func (vm *VM) Eval(c *Chunk) (Value, error) {
	if vm.disposed {
		return nil, ErrVMDisposed
	}
	if c == nil {
		return nil, ErrDecode.NewError("nil chunk")
	}
	if vm.running {
		return nil, ErrVMRunning
	}

	vm.chunk = c
	vm.ip = 0
	vm.stack.Reset()
	atomic.StoreInt64(&vm.abort, 0)

	vm.running = true
	defer func() {
		vm.running = false
		vm.chunk = nil
	}()
	return vm.run()
}

func (vm *VM) run() (Value, error) {
	code := vm.chunk.Code()

	for atomic.LoadInt64(&vm.abort) == 0 {
		if vm.ip >= len(code) {
			return nil, vm.newError(vm.ip, OpNone,
				ErrDecode.NewError("end of code without RET"))
		}
		if vm.trace != nil {
			vm.traceInstruction()
		}

		ip := vm.ip
		op := code[ip]
		vm.ip++

		var err error
		switch op {
		case OpRet:
			var ret Value
			if ret, err = vm.stack.Pop(); err == nil {
				return ret, nil
			}
		case OpConst:
			if vm.ip >= len(code) {
				err = ErrDecode.NewError("truncated operand")
				break
			}
			cidx := int(code[vm.ip])
			vm.ip++

			var v Value
			if v, err = vm.chunk.Const(cidx); err == nil {
				err = vm.stack.Push(v)
			}
		case OpNegate:
			var n Number
			if n, err = vm.popNumber(op); err == nil {
				err = vm.stack.Push(-n)
			}
		case OpSum, OpSub, OpMult, OpDiv:
			err = vm.execArithmetic(op)
		case OpTrue:
			err = vm.stack.Push(True)
		case OpFalse:
			err = vm.stack.Push(False)
		case OpNot:
			var b Bool
			if b, err = vm.popBool(op); err == nil {
				err = vm.stack.Push(!b)
			}
		case OpConcat:
			err = vm.execConcat()
		case OpPop:
			_, err = vm.stack.Pop()
		case OpStoreGlobal:
			err = vm.execStoreGlobal()
		case OpAccessGlobal:
			err = vm.execAccessGlobal()
		default:
			err = ErrDecode.NewError("unknown opcode", strconv.Itoa(int(op)))
		}

		if err != nil {
			return nil, vm.newError(ip, op, err)
		}
	}
	return nil, vm.newError(vm.ip, OpNone, ErrVMAborted)
}

func (vm *VM) execArithmetic(op Opcode) error {
	// right operand is pushed last
	right, err := vm.popNumber(op)
	if err != nil {
		return err
	}
	left, err := vm.popNumber(op)
	if err != nil {
		return err
	}

	var result Number
	switch op {
	case OpSum:
		result = left + right
	case OpSub:
		result = left - right
	case OpMult:
		result = left * right
	case OpDiv:
		result = left / right
	}
	return vm.stack.Push(result)
}

func (vm *VM) execConcat() error {
	right, err := vm.popString(OpConcat)
	if err != nil {
		return err
	}
	left, err := vm.popString(OpConcat)
	if err != nil {
		return err
	}

	s, err := ConcatString(vm.heap, left, right)
	if err != nil {
		return err
	}
	if s, err = vm.intern(s); err != nil {
		return err
	}
	return vm.stack.Push(s)
}

func (vm *VM) execStoreGlobal() error {
	value, err := vm.stack.Pop()
	if err != nil {
		return err
	}
	name, err := vm.popString(OpStoreGlobal)
	if err != nil {
		return err
	}

	vm.globals.Set(name, value)
	return nil
}

func (vm *VM) execAccessGlobal() error {
	name, err := vm.popString(OpAccessGlobal)
	if err != nil {
		return err
	}

	value, ok := vm.globals.Get(name)
	if !ok {
		return ErrMissingGlobal.NewError(strconv.Quote(string(name.Bytes())))
	}
	return vm.stack.Push(value)
}

func (vm *VM) popNumber(op Opcode) (Number, error) {
	v, err := vm.stack.Pop()
	if err != nil {
		return 0, err
	}
	n, ok := v.(Number)
	if !ok {
		return 0, NewOperandTypeError(op, "number", v)
	}
	return n, nil
}

func (vm *VM) popBool(op Opcode) (Bool, error) {
	v, err := vm.stack.Pop()
	if err != nil {
		return false, err
	}
	b, ok := v.(Bool)
	if !ok {
		return false, NewOperandTypeError(op, "bool", v)
	}
	return b, nil
}

func (vm *VM) popString(op Opcode) (*String, error) {
	v, err := vm.stack.Pop()
	if err != nil {
		return nil, err
	}
	s, ok := v.(*String)
	if !ok || s == nil {
		return nil, NewOperandTypeError(op, "string", v)
	}
	return s, nil
}

// MakeString allocates a String in the heap of the VM. Equal strings created
// by the VM are interned, so the same *String is returned for equal bytes.
func (vm *VM) MakeString(b []byte) (*String, error) {
	if vm.disposed {
		return nil, ErrVMDisposed
	}
	if found := vm.strings.FindString(b, hashBytes(b)); found != nil {
		return found, nil
	}

	s, err := MakeString(vm.heap, b)
	if err != nil {
		return nil, err
	}
	return vm.intern(s)
}

// intern returns the interned string equal to s and frees s, or tracks and
// interns s if there is none.
func (vm *VM) intern(s *String) (*String, error) {
	if found := vm.strings.FindString(s.Bytes(), s.hash); found != nil {
		if err := s.free(); err != nil {
			return nil, err
		}
		return found, nil
	}

	s.setNextObject(vm.objects)
	vm.objects = s
	vm.strings.Set(s, True)
	return s, nil
}

// Global returns the value of the global variable name.
func (vm *VM) Global(name string) (Value, bool) {
	if vm.disposed {
		return nil, false
	}
	return vm.globals.Get(NewString(name))
}

// RangeGlobals calls fn for each global variable until fn returns false.
func (vm *VM) RangeGlobals(fn func(name string, value Value) bool) {
	if vm.disposed {
		return
	}
	vm.globals.Range(func(key *String, value Value) bool {
		return fn(string(key.Bytes()), value)
	})
}

// NumObjects returns the number of live objects allocated by the VM.
func (vm *VM) NumObjects() int {
	var n int
	for obj := vm.objects; obj != nil; obj = obj.nextObject() {
		n++
	}
	return n
}

// HeapStats returns the statistics of the heap of the VM.
func (vm *VM) HeapStats() HeapStats {
	return vm.heap.Stats()
}

// Dispose releases the stack, the globals, the heap arena and the objects
// allocated from it, in this order. The Chunk passed to Eval is not owned by
// the VM and is not touched. VM cannot be used after Dispose.
func (vm *VM) Dispose() {
	if vm.disposed {
		return
	}
	vm.disposed = true

	vm.stack.Reset()
	vm.globals.Dispose()
	vm.strings.Dispose()
	vm.heap.Dispose()

	for obj := vm.objects; obj != nil; {
		next := obj.nextObject()
		if s, ok := obj.(*String); ok {
			s.release()
		}
		obj = next
	}
	vm.objects = nil
	vm.chunk = nil
}

func (vm *VM) traceInstruction() {
	code := vm.chunk.Code()
	op := code[vm.ip]
	name := "UNKNOWN"
	if IsOpcode(op) {
		name = OpcodeNames[op]
	}
	_, _ = fmt.Fprintf(vm.trace, "%04d %4d %-14s %s\n",
		vm.ip, vm.chunk.Line(vm.ip), name, vm.stack)
}

func (vm *VM) newError(ip int, op Opcode, err error) *RuntimeError {
	var e *Error
	switch v := err.(type) {
	case *Error:
		e = v
	default:
		e = &Error{Message: err.Error(), Cause: err}
	}

	var line int
	if vm.chunk != nil {
		line = vm.chunk.Line(ip)
	}
	return &RuntimeError{Err: e, IP: ip, Opcode: op, Line: line}
}
