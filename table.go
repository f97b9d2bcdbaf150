// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package koflvm

import (
	"bytes"
	"hash/fnv"
)

// tableMaxLoad is the maximum ratio of used slots (live entries and
// tombstones) to capacity.
const tableMaxLoad = 0.75

type entry struct {
	key   *String
	value Value
}

// A slot is empty if it has no key and no value. A slot without a key but
// with a value is a tombstone.
func (e *entry) isTombstone() bool {
	return e.key == nil && e.value != nil
}

// Table is a string keyed hash table using open addressing with linear
// probing. Deleted slots are kept as tombstones to keep probe sequences
// intact, they are reused by later insertions and dropped on resize.
type Table struct {
	entries []entry
	// count is the number of used slots including tombstones.
	count int
	live  int
}

// NewTable returns an empty Table. Slots are allocated on first Set.
func NewTable() *Table {
	return &Table{}
}

func hashBytes(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32()
}

// findEntry returns the slot of the key or the slot where the key must be
// inserted. A tombstone seen on the probe sequence is preferred over the
// terminating empty slot.
func findEntry(entries []entry, key []byte, hash uint32) *entry {
	capacity := uint32(len(entries))
	index := hash % capacity
	var tombstone *entry

	for {
		e := &entries[index]
		if e.key == nil {
			if e.value == nil {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key.hash == hash && bytes.Equal(e.key.Bytes(), key) {
			return e
		}
		index = (index + 1) % capacity
	}
}

// Get returns the value of key and true if key exists.
func (t *Table) Get(key *String) (Value, bool) {
	if t.count == 0 {
		return nil, false
	}

	e := findEntry(t.entries, key.Bytes(), key.hash)
	if e.key == nil {
		return nil, false
	}
	return e.value, true
}

// Set inserts or overwrites the value of key and reports whether key is
// newly inserted. Table is resized before insertion if the insertion would
// exceed the maximum load.
func (t *Table) Set(key *String, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries)+1)*tableMaxLoad {
		t.adjust(growCapacity(len(t.entries)))
	}

	e := findEntry(t.entries, key.Bytes(), key.hash)
	isNew := e.key == nil
	if isNew {
		if e.value == nil {
			t.count++
		}
		t.live++
	}

	e.key = key
	e.value = value
	return isNew
}

// Delete converts the slot of key into a tombstone. It returns false if key
// does not exist. Tombstones are counted for load until the next resize.
func (t *Table) Delete(key *String) bool {
	if t.count == 0 {
		return false
	}

	e := findEntry(t.entries, key.Bytes(), key.hash)
	if e.key == nil {
		return false
	}

	e.key = nil
	e.value = True
	t.live--
	return true
}

// FindString returns the key which has given bytes and hash or nil.
func (t *Table) FindString(b []byte, hash uint32) *String {
	if t.count == 0 {
		return nil
	}
	return findEntry(t.entries, b, hash).key
}

// Len returns the number of live entries.
func (t *Table) Len() int { return t.live }

// Count returns the number of used slots including tombstones.
func (t *Table) Count() int { return t.count }

// Cap returns the number of slots.
func (t *Table) Cap() int { return len(t.entries) }

// LoadFactor returns the ratio of used slots to capacity.
func (t *Table) LoadFactor() float64 {
	if len(t.entries) == 0 {
		return 0
	}
	return float64(t.count) / float64(len(t.entries))
}

// Range calls fn for each live entry in slot order until fn returns false.
func (t *Table) Range(fn func(key *String, value Value) bool) {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key == nil {
			continue
		}
		if !fn(e.key, e.value) {
			return
		}
	}
}

// Dispose drops all slots.
func (t *Table) Dispose() {
	t.entries = nil
	t.count = 0
	t.live = 0
}

func (t *Table) adjust(capacity int) {
	entries := make([]entry, capacity)

	t.count = 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.key == nil {
			continue
		}
		dst := findEntry(entries, e.key.Bytes(), e.key.hash)
		dst.key = e.key
		dst.value = e.value
		t.count++
	}

	t.entries = entries
	t.live = t.count
}
