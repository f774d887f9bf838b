package infile

import "sort"

// childEntry is one indexed child: its start offset, tag, declared
// end offset, and a strongly-held cache of the hydrated element, if
// any has been read. Eviction of the cache is explicit (see
// Manager.Evict) rather than GC-observed.
type childEntry struct {
	offset   int64
	tag      []byte
	end      int64
	hydrated *Child
}

// index is an ordered-by-offset set of childEntry, supporting
// predecessor/successor queries in O(log n) via sort.Search over a
// flat slice. The layouts this package edits are small enough in
// child count (tens to low thousands) that a sorted slice beats a
// tree in both simplicity and cache behavior.
type index struct {
	entries []*childEntry // kept sorted by offset
}

func newIndex() *index { return &index{} }

// search returns the position at which offset is, or would be
// inserted to keep entries sorted.
func (x *index) search(offset int64) int {
	return sort.Search(len(x.entries), func(i int) bool { return x.entries[i].offset >= offset })
}

func (x *index) get(offset int64) (*childEntry, bool) {
	i := x.search(offset)
	if i < len(x.entries) && x.entries[i].offset == offset {
		return x.entries[i], true
	}
	return nil, false
}

func (x *index) insert(e *childEntry) {
	i := x.search(e.offset)
	x.entries = append(x.entries, nil)
	copy(x.entries[i+1:], x.entries[i:])
	x.entries[i] = e
}

func (x *index) remove(offset int64) {
	i := x.search(offset)
	if i < len(x.entries) && x.entries[i].offset == offset {
		x.entries = append(x.entries[:i], x.entries[i+1:]...)
	}
}

// predecessorEnd returns the end offset of the last child strictly
// before offset, or 0 if none.
func (x *index) predecessorEnd(offset int64) int64 {
	i := x.search(offset)
	if i == 0 {
		return 0
	}
	return x.entries[i-1].end
}

// successorStart returns the start offset of the first child at or
// after offset, or dataSize if none.
func (x *index) successorStart(offset int64, dataSize int64) int64 {
	i := x.search(offset)
	if i < len(x.entries) {
		return x.entries[i].offset
	}
	return dataSize
}

// shiftFrom adds delta to the offset and end of every entry whose
// start offset is >= from, re-sorting if necessary (shifts preserve
// relative order so a plain mutation in place suffices).
func (x *index) shiftFrom(from int64, delta int64) {
	for _, e := range x.entries {
		if e.offset >= from {
			e.offset += delta
			e.end += delta
		}
	}
}

// all returns entries in ascending offset order; callers must not
// retain the slice across a mutating call.
func (x *index) all() []*childEntry { return x.entries }

// neighborsExcluding returns the end offset of the last entry
// strictly before offset, and the start offset of the first entry at
// or after offset, skipping the entry (if any) at skipOffset. This
// supports canMoveChild's layout check, where the child being moved
// must not be compared against itself.
func (x *index) neighborsExcluding(offset int64, skipOffset int64, hasSkip bool, dataSize int64) (predEnd int64, succStart int64) {
	succStart = dataSize
	for _, e := range x.entries {
		if hasSkip && e.offset == skipOffset {
			continue
		}
		if e.offset < offset {
			predEnd = e.end
		} else if e.offset >= offset && e.offset < succStart {
			succStart = e.offset
		}
	}
	return predEnd, succStart
}
