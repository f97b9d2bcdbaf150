// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package koflvm

import (
	"bytes"
	"strconv"
)

// Value represents a value on the operand stack, in the constant pool or in
// the globals table. Implementations are Number, Bool and *String only.
type Value interface {
	// TypeName should return the name of the type.
	TypeName() string

	// String should return a string representation of the value, see
	// ToDisplayString.
	String() string

	// Equal checks equality of the receiver and the right value.
	Equal(right Value) bool

	value()
}

// ObjectType is the type tag of heap resident values.
type ObjectType byte

// List of object types.
const (
	ObjString ObjectType = iota
)

// Object represents a heap resident value. Objects created by a VM are
// linked through an intrusive list so they can be released together.
type Object interface {
	Value
	ObjectType() ObjectType
	nextObject() Object
	setNextObject(Object)
}

var (
	_ Value  = Number(0)
	_ Value  = Bool(false)
	_ Object = (*String)(nil)
)

// Number represents a float64 value.
type Number float64

// MakeNumber returns a Number value.
func MakeNumber(f float64) Value { return Number(f) }

func (Number) value() {}

// TypeName implements Value interface.
func (Number) TypeName() string { return "number" }

func (o Number) String() string { return ToDisplayString(o) }

// Equal implements Value interface.
func (o Number) Equal(right Value) bool {
	v, ok := right.(Number)
	return ok && o == v
}

// Bool represents a boolean value.
type Bool bool

// True and False are the Bool values pushed by TRUE and FALSE.
var (
	True  = Bool(true)
	False = Bool(false)
)

// MakeBool returns a Bool value.
func MakeBool(b bool) Value { return Bool(b) }

func (Bool) value() {}

// TypeName implements Value interface.
func (Bool) TypeName() string { return "bool" }

func (o Bool) String() string { return ToDisplayString(o) }

// Equal implements Value interface.
func (o Bool) Equal(right Value) bool {
	v, ok := right.(Bool)
	return ok && o == v
}

// String is a byte string object. A String is either allocated in a Heap or
// is static, owned by Go memory (constant pool strings). The underlying
// buffer is always NUL terminated, the terminator is not part of the length.
type String struct {
	heap   *Heap
	ptr    Ptr
	static []byte
	length int
	hash   uint32
	next   Object
}

// NewString returns a static String which copies s.
func NewString(s string) *String {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	return &String{
		ptr:    NoPtr,
		static: buf,
		length: len(s),
		hash:   hashBytes(buf[:len(s)]),
	}
}

// MakeString allocates a new String in given heap and copies b into it.
func MakeString(h *Heap, b []byte) (*String, error) {
	o, buf, err := allocString(h, len(b))
	if err != nil {
		return nil, err
	}
	copy(buf, b)
	o.hash = hashBytes(buf[:o.length])
	return o, nil
}

// ConcatString allocates a new String in given heap holding left followed by
// right. Operands are never modified.
func ConcatString(h *Heap, left, right *String) (*String, error) {
	lb, rb := left.Bytes(), right.Bytes()
	o, buf, err := allocString(h, len(lb)+len(rb))
	if err != nil {
		return nil, err
	}
	n := copy(buf, lb)
	copy(buf[n:], rb)
	o.hash = hashBytes(buf[:o.length])
	return o, nil
}

func allocString(h *Heap, length int) (*String, []byte, error) {
	p, err := h.Alloc(length + 1)
	if err != nil {
		return nil, nil, err
	}
	buf := h.Bytes(p)
	buf[length] = 0
	return &String{heap: h, ptr: p, length: length}, buf, nil
}

func (*String) value() {}

// ObjectType implements Object interface.
func (*String) ObjectType() ObjectType { return ObjString }

func (o *String) nextObject() Object { return o.next }

func (o *String) setNextObject(next Object) { o.next = next }

// TypeName implements Value interface.
func (*String) TypeName() string { return "string" }

func (o *String) String() string { return ToDisplayString(o) }

// Equal implements Value interface. Strings are equal if their bytes are
// equal.
func (o *String) Equal(right Value) bool {
	v, ok := right.(*String)
	if !ok || v == nil {
		return false
	}
	if o == v {
		return true
	}
	return o.length == v.length && o.hash == v.hash &&
		bytes.Equal(o.Bytes(), v.Bytes())
}

// Len returns the number of bytes excluding the NUL terminator.
func (o *String) Len() int { return o.length }

// Hash returns the FNV-1a hash of the bytes.
func (o *String) Hash() uint32 { return o.hash }

// Bytes returns the bytes of the string without the NUL terminator. The
// returned slice must not be modified. It returns nil if the heap of the
// string is disposed or the string is released.
func (o *String) Bytes() []byte {
	buf := o.CString()
	if buf == nil {
		return nil
	}
	return buf[:o.length:o.length]
}

// CString returns the bytes of the string including the NUL terminator.
func (o *String) CString() []byte {
	if o.heap == nil {
		if o.static == nil {
			return nil
		}
		return o.static[: o.length+1 : o.length+1]
	}

	buf := o.heap.Bytes(o.ptr)
	if len(buf) < o.length+1 {
		return nil
	}
	return buf[: o.length+1 : o.length+1]
}

// IsStatic reports whether the string is not allocated in a heap.
func (o *String) IsStatic() bool {
	return o.heap == nil && o.static != nil
}

func (o *String) free() error {
	if o.heap == nil {
		return nil
	}
	err := o.heap.Free(o.ptr)
	o.release()
	return err
}

func (o *String) release() {
	o.heap = nil
	o.ptr = NoPtr
	o.static = nil
	o.next = nil
}

// ToDisplayString returns a human readable representation of given value:
// %f for numbers, 0 or 1 for booleans and the bytes of strings.
func ToDisplayString(v Value) string {
	switch v := v.(type) {
	case Number:
		return strconv.FormatFloat(float64(v), 'f', 6, 64)
	case Bool:
		if v {
			return "1"
		}
		return "0"
	case *String:
		return string(v.Bytes())
	case nil:
		return "<nil>"
	default:
		return v.String()
	}
}

func typeName(v Value) string {
	if v == nil {
		return "<nil>"
	}
	return v.TypeName()
}
