// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package koflvm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Block header layout in the arena:
//
//	[0:4] payload size, [4:8] offset of the next header (-1 for none),
//	[8] free flag, [9:16] padding.
const (
	blockHeaderSize = 16
	noBlock         = -1
)

// Ptr is the arena offset of an allocated payload.
type Ptr int

// NoPtr is returned with allocation errors.
const NoPtr Ptr = -1

type blockHeader struct {
	size int
	next int
	free bool
}

// Heap is a first-fit allocator over a single fixed size arena. Blocks are
// kept in address order through their next links, so list neighbours are
// also arena neighbours which makes coalescing a constant time operation.
// Heap is not safe for concurrent use.
type Heap struct {
	mem []byte
}

// HeapStats is a snapshot of the block list of a Heap.
type HeapStats struct {
	Capacity    int
	Used        int
	Free        int
	Blocks      int
	FreeBlocks  int
	LargestFree int
}

func (s HeapStats) String() string {
	return fmt.Sprintf("capacity:%d used:%d free:%d blocks:%d free_blocks:%d largest_free:%d",
		s.Capacity, s.Used, s.Free, s.Blocks, s.FreeBlocks, s.LargestFree)
}

// NewHeap reserves an arena of capacity bytes initialized as one free block.
func NewHeap(capacity int) (*Heap, error) {
	if capacity <= blockHeaderSize || capacity > math.MaxInt32 {
		return nil, ErrAllocation.NewError(
			"invalid heap capacity", strconv.Itoa(capacity))
	}

	h := &Heap{mem: make([]byte, capacity)}
	h.putHeader(0, blockHeader{
		size: capacity - blockHeaderSize,
		next: noBlock,
		free: true,
	})
	return h, nil
}

// Capacity returns the arena size in bytes, it is 0 after Dispose.
func (h *Heap) Capacity() int {
	return len(h.mem)
}

// Alloc returns the first free block which can hold size bytes. If the block
// is larger than required and the remainder can hold a header, the
// remainder is split into a new free block. Returned payload is zeroed.
func (h *Heap) Alloc(size int) (Ptr, error) {
	if h.mem == nil {
		return NoPtr, ErrHeapDisposed
	}
	if size <= 0 {
		return NoPtr, ErrAllocation.NewError("invalid size", strconv.Itoa(size))
	}

	for off := 0; off != noBlock; {
		hdr := h.header(off)
		if !hdr.free || hdr.size < size {
			off = hdr.next
			continue
		}

		if rem := hdr.size - size; rem > blockHeaderSize {
			split := off + blockHeaderSize + size
			h.putHeader(split, blockHeader{
				size: rem - blockHeaderSize,
				next: hdr.next,
				free: true,
			})
			hdr.size = size
			hdr.next = split
		}

		hdr.free = false
		h.putHeader(off, hdr)

		p := off + blockHeaderSize
		clear(h.mem[p : p+hdr.size])
		return Ptr(p), nil
	}

	return NoPtr, ErrAllocation.NewError(
		fmt.Sprintf("cannot allocate %d bytes", size))
}

// Free releases the block of given payload pointer and merges it with the
// free blocks around it. Pointers which are not returned by Alloc and
// already freed pointers are rejected with ErrInvalidFree, heap is not
// modified in that case.
func (h *Heap) Free(p Ptr) error {
	if h.mem == nil {
		return ErrHeapDisposed
	}

	target := int(p) - blockHeaderSize
	prev := noBlock

	for off := 0; off != noBlock; {
		hdr := h.header(off)
		if off != target {
			prev = off
			off = hdr.next
			continue
		}

		if hdr.free {
			return ErrInvalidFree.NewError("block", strconv.Itoa(int(p)),
				"is already free")
		}

		hdr.free = true
		if hdr.next != noBlock {
			if next := h.header(hdr.next); next.free {
				hdr.size += blockHeaderSize + next.size
				hdr.next = next.next
			}
		}
		h.putHeader(off, hdr)

		if prev != noBlock {
			if ph := h.header(prev); ph.free {
				ph.size += blockHeaderSize + hdr.size
				ph.next = hdr.next
				h.putHeader(prev, ph)
			}
		}
		return nil
	}

	return ErrInvalidFree.NewError("address", strconv.Itoa(int(p)),
		"is not owned by heap")
}

// Bytes returns the payload of an allocated block. It returns nil for
// pointers which are not returned by Alloc, free blocks and after Dispose.
func (h *Heap) Bytes(p Ptr) []byte {
	if h.mem == nil {
		return nil
	}

	target := int(p) - blockHeaderSize
	for off := 0; off != noBlock && off <= target; {
		hdr := h.header(off)
		if off != target {
			off = hdr.next
			continue
		}
		if hdr.free {
			return nil
		}
		end := int(p) + hdr.size
		return h.mem[p:end:end]
	}
	return nil
}

// Stats walks the block list and returns its summary.
func (h *Heap) Stats() HeapStats {
	stats := HeapStats{Capacity: len(h.mem)}
	if h.mem == nil {
		return stats
	}

	for off := 0; off != noBlock; {
		hdr := h.header(off)
		stats.Blocks++
		if hdr.free {
			stats.FreeBlocks++
			stats.Free += hdr.size
			if hdr.size > stats.LargestFree {
				stats.LargestFree = hdr.size
			}
		} else {
			stats.Used += hdr.size
		}
		off = hdr.next
	}
	return stats
}

// Dispose releases the arena at once. All pointers become invalid.
func (h *Heap) Dispose() {
	h.mem = nil
}

func (h *Heap) header(off int) blockHeader {
	b := h.mem[off : off+blockHeaderSize]
	return blockHeader{
		size: int(binary.LittleEndian.Uint32(b[0:4])),
		next: int(int32(binary.LittleEndian.Uint32(b[4:8]))),
		free: b[8] == 1,
	}
}

func (h *Heap) putHeader(off int, hdr blockHeader) {
	b := h.mem[off : off+blockHeaderSize]
	binary.LittleEndian.PutUint32(b[0:4], uint32(hdr.size))
	binary.LittleEndian.PutUint32(b[4:8], uint32(int32(hdr.next)))
	if hdr.free {
		b[8] = 1
	} else {
		b[8] = 0
	}
}
