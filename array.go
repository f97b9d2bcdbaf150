// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package koflvm

const minCapacity = 8

// growCapacity is the growth policy of every growable sequence: 0 grows to 8,
// otherwise capacity doubles.
func growCapacity(capacity int) int {
	if capacity < minCapacity {
		return minCapacity
	}
	return capacity * 2
}

// Array is an append-only sequence with amortized doubling growth.
type Array[T any] struct {
	items []T
}

// NewArray returns an Array with given initial capacity.
func NewArray[T any](capacity int) *Array[T] {
	a := &Array[T]{}
	if capacity > 0 {
		a.items = make([]T, 0, capacity)
	}
	return a
}

// Append adds v to the end of the array and returns its index.
func (a *Array[T]) Append(v T) int {
	n := len(a.items)
	if n+1 > cap(a.items) {
		grown := make([]T, n, growCapacity(cap(a.items)))
		copy(grown, a.items)
		a.items = grown
	}
	a.items = append(a.items, v)
	return n
}

// At returns the element at index i. It panics if i is out of range like a
// slice index does.
func (a *Array[T]) At(i int) T {
	return a.items[i]
}

// Len returns the number of elements.
func (a *Array[T]) Len() int { return len(a.items) }

// Cap returns the current capacity.
func (a *Array[T]) Cap() int { return cap(a.items) }

// Items returns the elements. The returned slice must not be modified.
func (a *Array[T]) Items() []T { return a.items }
