package svo

import (
	"errors"
	"sort"
	"unsafe"
)

// ErrOutOfSpace is returned when a fixed-size buffer can satisfy an
// allocation neither from its free ranges nor by appending at the tail.
// Callers are expected to retry the write on a later frame.
var ErrOutOfSpace = errors.New("svo: buffer out of space")

// Word constrains the element types the buffer implementations work on: the
// ESVO format is word addressed, the CSVO format byte addressed.
type Word interface {
	~uint8 | ~uint32
}

// Range describes a span inside a buffer in element units.
type Range struct {
	Start, Length int
}

// RangeBuffer copies data into an internal buffer and keeps track of the
// range each id's data occupies. Removing data marks its range as free
// instead of shrinking the buffer; adjacent free ranges are coalesced.
// Inserting prefers reusing free ranges (first fit) over appending.
//
// A limit > 0 makes the buffer fixed size, which is required for zero-copy
// GPU mapping; insertions that fit neither a free range nor the tail fail
// with ErrOutOfSpace.
type RangeBuffer[T Word] struct {
	data          []T
	limit         int
	freeRanges    []Range
	updatedRanges []Range
	idToRange     map[uint64]Range
}

// NewRangeBuffer creates a buffer with the given pre-allocated capacity.
func NewRangeBuffer[T Word](initialCapacity int) *RangeBuffer[T] {
	b := &RangeBuffer[T]{
		data:      make([]T, initialCapacity),
		idToRange: make(map[uint64]Range),
	}
	if initialCapacity > 0 {
		b.freeRanges = append(b.freeRanges, Range{Start: 0, Length: initialCapacity})
	}
	return b
}

// NewFixedRangeBuffer creates a fixed-size buffer that never grows past
// limit elements.
func NewFixedRangeBuffer[T Word](limit int) *RangeBuffer[T] {
	b := NewRangeBuffer[T](limit)
	b.limit = limit
	return b
}

// Clear frees all ranges but keeps the allocated memory.
func (b *RangeBuffer[T]) Clear() {
	b.freeRanges = b.freeRanges[:0]
	if len(b.data) > 0 {
		b.freeRanges = append(b.freeRanges, Range{Start: 0, Length: len(b.data)})
	}
	b.updatedRanges = b.updatedRanges[:0]
	for id := range b.idToRange {
		delete(b.idToRange, id)
	}
}

// Insert copies buf into the first free range it fits, or to the end of the
// buffer, and associates the written range with id. A previous range held by
// the same id is freed first, so it coalesces with neighboring free ranges
// and can be reused for the new data. Returns the element offset the data
// starts at.
func (b *RangeBuffer[T]) Insert(id uint64, buf []T) (int, error) {
	prev, hadPrev := b.idToRange[id]
	if hadPrev {
		delete(b.idToRange, id)
		b.free(prev)
	}

	ptr := len(b.data)
	length := len(buf)

	fit := -1
	for i, r := range b.freeRanges {
		if length <= r.Length {
			fit = i
			break
		}
	}

	switch {
	case fit >= 0:
		r := &b.freeRanges[fit]
		ptr = r.Start
		if length < r.Length {
			r.Start += length
			r.Length -= length
		} else {
			b.freeRanges = append(b.freeRanges[:fit], b.freeRanges[fit+1:]...)
		}
		copy(b.data[ptr:], buf)
	default:
		if b.limit > 0 && len(b.data)+length > b.limit {
			// nothing was copied yet: take the old range back so the
			// id's data survives the failed replacement
			if hadPrev {
				b.reclaim(prev)
				b.idToRange[id] = prev
			}
			return 0, ErrOutOfSpace
		}
		b.data = append(b.data, buf...)
	}

	b.idToRange[id] = Range{Start: ptr, Length: length}

	b.updatedRanges = append(b.updatedRanges, Range{Start: ptr, Length: length})
	b.updatedRanges = mergeRanges(b.updatedRanges)

	return ptr, nil
}

// Remove frees the range associated with id, if any.
func (b *RangeBuffer[T]) Remove(id uint64) {
	r, ok := b.idToRange[id]
	if !ok {
		return
	}
	delete(b.idToRange, id)
	b.free(r)
}

func (b *RangeBuffer[T]) free(r Range) {
	b.freeRanges = append(b.freeRanges, r)
	b.freeRanges = mergeRanges(b.freeRanges)
}

// reclaim carves a previously freed span back out of the free list. The
// span is always fully contained in exactly one free range, since free only
// ever merges.
func (b *RangeBuffer[T]) reclaim(r Range) {
	for i, f := range b.freeRanges {
		if r.Start < f.Start || r.Start+r.Length > f.Start+f.Length {
			continue
		}

		var repl []Range
		if r.Start > f.Start {
			repl = append(repl, Range{Start: f.Start, Length: r.Start - f.Start})
		}
		if end := f.Start + f.Length; r.Start+r.Length < end {
			repl = append(repl, Range{Start: r.Start + r.Length, Length: end - (r.Start + r.Length)})
		}

		rest := append(repl, b.freeRanges[i+1:]...)
		b.freeRanges = append(b.freeRanges[:i], rest...)
		return
	}
}

// RangeOf returns the range the given id occupies.
func (b *RangeBuffer[T]) RangeOf(id uint64) (Range, bool) {
	r, ok := b.idToRange[id]
	return r, ok
}

// Data exposes the backing buffer for copying to the GPU.
func (b *RangeBuffer[T]) Data() []T {
	return b.data
}

// FreeRanges returns the current coalesced free list.
func (b *RangeBuffer[T]) FreeRanges() []Range {
	return b.freeRanges
}

// UpdatedRanges returns the spans written since the last reset.
func (b *RangeBuffer[T]) UpdatedRanges() []Range {
	return b.updatedRanges
}

// ResetUpdatedRanges clears the change tracker after a full upload.
func (b *RangeBuffer[T]) ResetUpdatedRanges() {
	b.updatedRanges = b.updatedRanges[:0]
}

// SizeInBytes returns the buffer's current size in bytes.
func (b *RangeBuffer[T]) SizeInBytes() int {
	var v T
	return len(b.data) * int(unsafe.Sizeof(v))
}

// mergeRanges orders all ranges by start index and merges adjacent or
// overlapping ranges into one.
func mergeRanges(ranges []Range) []Range {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	i := 1
	for i < len(ranges) {
		rhs := ranges[i]
		lhs := &ranges[i-1]

		if rhs.Start <= lhs.Start+lhs.Length {
			diff := lhs.Start + lhs.Length - rhs.Start
			if rhs.Length > diff {
				lhs.Length += rhs.Length - diff
			}
			ranges = append(ranges[:i], ranges[i+1:]...)
		} else {
			i++
		}
	}
	return ranges
}
