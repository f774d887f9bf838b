package infile

import "context"

// FindFree returns the lowest offset at or after start where a region
// of exactly size bytes fits without creating a one-byte gap on
// either side, or ok=false if no such offset exists before the end of
// this element's payload.
func (m *Manager) FindFree(size, start int64) (offset int64, ok bool) {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.findFreeLocked(size, start)
}

func (m *Manager) findFreeLocked(size, start int64) (int64, bool) {
	if start == 1 {
		start = 2
	}
	for _, e := range m.children.all() {
		if start == e.end+1 {
			start++
		}
		if start > e.offset {
			continue
		}
		gap := e.offset - start
		if gap == size || gap >= size+2 {
			return start, true
		}
		start = e.end
	}
	gap := m.dataSize - start
	if gap == size || gap >= size+2 {
		return start, true
	}
	return 0, false
}

// FindOpenBoundary returns the smallest offset at or after start that
// both lands on a filesystem block boundary and is not inside an
// existing child, or ok=false if the search runs past the end of this
// element's payload.
func (m *Manager) FindOpenBoundary(start int64) (offset int64, ok bool) {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.findOpenBoundaryLocked(start)
}

func (m *Manager) findOpenBoundaryLocked(start int64) (int64, bool) {
	bsize := m.BlockSize()
	if bsize <= 0 {
		bsize = 4096
	}
	base := m.dataOffsetInFile()
	for start <= m.dataSize {
		if rem := (base + start) % bsize; rem != 0 {
			start = ((base+start)/bsize+1)*bsize - base
		}
		if prev := m.prevChildOffset(start); prev != nil {
			e, _ := m.children.get(*prev)
			if start < e.end {
				start = e.end
				continue
			}
			if start == e.end+1 {
				start += bsize
				continue
			}
		}
		if start <= m.dataSize {
			return start, true
		}
	}
	return 0, false
}

// RFindOpenBoundary is FindOpenBoundary's mirror image: it returns the
// largest offset at or before start that lands on a block boundary
// and is not inside a child. A nil start defaults to the first block
// boundary at or after the end of the last child (capped at the
// payload size), from which the backward search begins.
func (m *Manager) RFindOpenBoundary(start *int64) (offset int64, ok bool) {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.rfindOpenBoundaryLocked(start)
}

func (m *Manager) rfindOpenBoundaryLocked(start *int64) (int64, bool) {
	bsize := m.BlockSize()
	if bsize <= 0 {
		bsize = 4096
	}
	base := m.dataOffsetInFile()

	var s int64
	if start == nil {
		last := m.endOfLastChildLocked()
		q := (base + last) / bsize
		r := (base + last) % bsize
		if r != 0 {
			s = minInt64(m.dataSize, (q+1)*bsize-base)
		} else {
			s = last
		}
	} else {
		s = *start
	}

	for s >= 0 {
		if r := (base + s) % bsize; r != 0 {
			s = (base+s)/bsize*bsize - base
		}
		if prev := m.prevChildOffset(s); prev != nil {
			e, _ := m.children.get(*prev)
			if s < e.end || s == e.end+1 {
				s = *prev
				continue
			}
		}
		return s, true
	}
	return 0, false
}

// LastChildEnd returns the offset immediately after this element's
// last child, or 0 if it has none. A caller finalising a document
// trims the body's declared size down to exactly this value before
// truncating the file.
func (m *Manager) LastChildEnd() int64 {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.endOfLastChildLocked()
}

func (m *Manager) endOfLastChildLocked() int64 {
	entries := m.children.all()
	if len(entries) == 0 {
		return 0
	}
	return entries[len(entries)-1].end
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// QuickTrim compacts this element by moving children no larger than
// maxSize left to close gaps and collapsing the freed ranges out of
// the file, recursing into any child that is itself an in-file
// master, then shrinking this element's own declared size down to the
// last thing left standing.
func (m *Manager) QuickTrim(ctx context.Context, maxSize int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.quickTrimLocked(ctx, maxSize)
}

func (m *Manager) quickTrimLocked(ctx context.Context, maxSize int64) error {
	entries := append([]*childEntry(nil), m.children.all()...)
	var prevEnd int64

	for i, e := range entries {
		if i > 0 {
			prevEnd = entries[i-1].end
		} else {
			prevEnd = 0
		}

		if m.resolver != nil && m.resolver.IsMaster(e.tag) {
			c, err := m.lockedGetChild(e.offset)
			if err != nil {
				return err
			}
			if c.Master != nil {
				if err := c.Master.quickTrimLocked(ctx, maxSize); err != nil {
					return err
				}
			}
			m.tryCollapseRangeLocked(ctx, prevEnd, e.offset)
			continue
		}

		if e.end-e.offset <= maxSize {
			switch {
			case i == 0 && e.offset > 0:
				m.tryMoveChildLocked(ctx, e.offset, 0)
			case prevEnd < e.offset:
				m.tryMoveChildLocked(ctx, e.offset, prevEnd)
			}
			continue
		}

		m.tryCollapseRangeLocked(ctx, prevEnd, e.offset)
	}

	target, ok := m.findOpenBoundaryLocked(m.endOfLastChildLocked())
	if ok && target < m.dataSize {
		if m.checkResizeLocked(target) == nil {
			_ = m.resizeLockedNoCheck(ctx, target)
		}
	}
	return nil
}

// tryCollapseRangeLocked attempts to collapse [start, end) (rounded to
// open block boundaries), silently doing nothing if layout checks
// forbid it.
func (m *Manager) tryCollapseRangeLocked(ctx context.Context, start, end int64) {
	lo, ok := m.findOpenBoundaryLocked(start)
	if !ok {
		return
	}
	hiPtr := end
	hi, ok := m.rfindOpenBoundaryLocked(&hiPtr)
	if !ok || lo >= hi {
		return
	}
	if m.checkCollapseRangeLocked(lo, hi-lo) != nil {
		return
	}
	_ = m.collapseRangeLockedNoCheck(ctx, lo, hi-lo)
}

// tryMoveChildLocked attempts to move the child at offset to
// newOffset, silently doing nothing if layout checks forbid it.
func (m *Manager) tryMoveChildLocked(ctx context.Context, offset, newOffset int64) {
	e, ok := m.children.get(offset)
	if !ok {
		return
	}
	size := e.end - e.offset
	if m.checkMoveLayout(offset, newOffset, size) != nil {
		return
	}
	_ = m.moveChildLockedNoCheck(ctx, offset, newOffset)
}
