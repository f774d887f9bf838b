package infile

import (
	"context"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// CheckInsertRange reports whether size bytes could be inserted at
// offset (growing this element, and every ancestor, by size bytes)
// without overrunning any ancestor's fixed size-vint width or
// colliding with an existing child.
func (m *Manager) CheckInsertRange(offset, size int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.checkInsertRangeLocked(offset, size)
}

// CanInsertRange is the boolean form of CheckInsertRange.
func (m *Manager) CanInsertRange(offset, size int64) bool {
	return m.CheckInsertRange(offset, size) == nil
}

func (m *Manager) checkInsertRangeLocked(offset, size int64) error {
	if offset < 0 || offset > m.dataSize {
		return ebmlerr.New(ebmlerr.Write, "insert range: offset outside element")
	}
	for e := m; e != nil; e = e.parent {
		if err := e.checkSizeVintWidth(uint64(e.dataSize + size)); err != nil {
			return err
		}
	}
	prevEnd := m.children.predecessorEnd(offset)
	if prevEnd > offset {
		return ebmlerr.New(ebmlerr.Write, "insert range: collides with preceding child")
	}
	nextStart := m.children.successorStart(offset, m.dataSize)
	if nextStart-prevEnd+size == 1 {
		return ebmlerr.New(ebmlerr.Write, "insert range: would leave a one-byte gap")
	}
	return nil
}

// InsertRange inserts size bytes at offset via the filesystem's
// INSERT_RANGE primitive (or an emulation, see fallocate_other.go),
// shifting every child at or after offset to the right and cascading
// the size growth through every ancestor's own declared payload size.
func (m *Manager) InsertRange(ctx context.Context, offset, size int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()

	if err := m.checkInsertRangeLocked(offset, size); err != nil {
		return err
	}

	return withNoInterrupt(ctx, func() error {
		prevEnd := m.children.predecessorEnd(offset)
		nextStart := m.children.successorStart(offset, m.dataSize)

		if err := m.file().insertRangeFile(m.dataOffsetInFile()+offset, size); err != nil {
			return err
		}

		m.children.shiftFrom(offset, size)
		if err := m.writeVoidAt(m.dataOffsetInFile()+prevEnd, nextStart-prevEnd+size); err != nil {
			return err
		}

		return m.growLocked(size)
	})
}

// CheckCollapseRange reports whether [offset, offset+size) could be
// removed from this element's payload via COLLAPSE_RANGE without
// colliding with a child or leaving a one-byte gap.
func (m *Manager) CheckCollapseRange(offset, size int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.checkCollapseRangeLocked(offset, size)
}

// CanCollapseRange is the boolean form of CheckCollapseRange.
func (m *Manager) CanCollapseRange(offset, size int64) bool {
	return m.CheckCollapseRange(offset, size) == nil
}

func (m *Manager) checkCollapseRangeLocked(offset, size int64) error {
	prevEnd := m.children.predecessorEnd(offset)
	if prevEnd > offset {
		return ebmlerr.New(ebmlerr.Write, "collapse range: collides with preceding child")
	}
	if offset+size > m.dataSize {
		return ebmlerr.New(ebmlerr.Write, "collapse range: overruns element size")
	}
	nextStart := m.children.successorStart(offset, m.dataSize)
	if offset+size > nextStart {
		return ebmlerr.New(ebmlerr.Write, "collapse range: collides with following child")
	}
	if nextStart-prevEnd-size == 1 {
		return ebmlerr.New(ebmlerr.Write, "collapse range: would leave a one-byte gap")
	}
	return nil
}

// CollapseRange removes [offset, offset+size) via the filesystem's
// COLLAPSE_RANGE primitive, shifting every child after the removed
// range left and cascading the size shrink through every ancestor.
func (m *Manager) CollapseRange(ctx context.Context, offset, size int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()

	if err := m.checkCollapseRangeLocked(offset, size); err != nil {
		return err
	}
	return m.collapseRangeLockedNoCheck(ctx, offset, size)
}

// collapseRangeLockedNoCheck performs CollapseRange's on-disk and
// index work, assuming the caller already holds the lock and has
// already validated the range (used by QuickTrim's best-effort
// compaction pass).
func (m *Manager) collapseRangeLockedNoCheck(ctx context.Context, offset, size int64) error {
	return withNoInterrupt(ctx, func() error {
		prevEnd := m.children.predecessorEnd(offset)
		nextStart := m.children.successorStart(offset, m.dataSize)

		if err := m.file().collapseRangeFile(m.dataOffsetInFile()+offset, size); err != nil {
			return err
		}

		m.children.shiftFrom(offset, -size)
		if nextStart-size-prevEnd >= 2 {
			if err := m.writeVoidAt(m.dataOffsetInFile()+prevEnd, nextStart-size-prevEnd); err != nil {
				return err
			}
		}

		return m.growLocked(-size)
	})
}

// growLocked applies a (possibly negative) delta to this element's own
// dataSize and size vint, then cascades the same delta through every
// ancestor's index and declared size, finally truncating the file at
// the root. Caller must hold the lock and have already performed the
// physical fallocate call and local Void repair.
func (m *Manager) growLocked(delta int64) error {
	m.dataSize += delta
	sizeVint, err := encodeVint(uint64(m.dataSize), m.sizeVintWidth)
	if err != nil {
		return err
	}
	if _, err := m.file().WriteAt(sizeVint, m.offsetInFile()+int64(len(m.tag))); err != nil {
		return ebmlerr.Wrap(ebmlerr.Write, "range resize: write size vint", err)
	}

	if m.parent != nil {
		return m.parent.propagateResizeLocked(m.offsetInParent, delta)
	}
	return m.file().Truncate(m.dataOffsetInFile() + m.dataSize)
}

// propagateResizeLocked applies delta to the child entry at
// childOffset (its own size changed), shifts every later sibling by
// delta (their absolute file position moved when the descendant's
// fallocate call ran), and recurses the same delta up through this
// element's own dataSize and ancestors.
func (m *Manager) propagateResizeLocked(childOffset int64, delta int64) error {
	if e, ok := m.children.get(childOffset); ok {
		e.end += delta
	}
	m.children.shiftFrom(childOffset+1, delta)
	return m.growLocked(delta)
}

// CheckPunchHole reports whether [offset, offset+size) could be
// deallocated in place (without changing the element's declared size)
// without colliding with a child.
func (m *Manager) CheckPunchHole(offset, size int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.checkPunchHoleLocked(offset, size)
}

// CanPunchHole is the boolean form of CheckPunchHole.
func (m *Manager) CanPunchHole(offset, size int64) bool {
	return m.CheckPunchHole(offset, size) == nil
}

func (m *Manager) checkPunchHoleLocked(offset, size int64) error {
	prevEnd := m.children.predecessorEnd(offset)
	if prevEnd > offset {
		return ebmlerr.New(ebmlerr.Write, "punch hole: collides with preceding child")
	}
	if offset+size > m.dataSize {
		return ebmlerr.New(ebmlerr.Write, "punch hole: overruns element size")
	}
	nextStart := m.children.successorStart(offset, m.dataSize)
	if offset+size > nextStart {
		return ebmlerr.New(ebmlerr.Write, "punch hole: collides with following child")
	}
	return nil
}

// PunchHole deallocates [offset, offset+size) in place via the
// filesystem's PUNCH_HOLE primitive, leaving the element's declared
// size unchanged, then rewrites a single Void filler spanning the
// whole surrounding gap (the hole may have split an existing filler's
// on-disk header).
func (m *Manager) PunchHole(ctx context.Context, offset, size int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()

	if err := m.checkPunchHoleLocked(offset, size); err != nil {
		return err
	}

	return withNoInterrupt(ctx, func() error {
		if err := m.file().punchHoleRange(m.dataOffsetInFile()+offset, size); err != nil {
			return err
		}
		prevEnd := m.children.predecessorEnd(offset)
		nextStart := m.children.successorStart(offset, m.dataSize)
		if nextStart-prevEnd >= 2 {
			if err := m.writeVoidAt(m.dataOffsetInFile()+prevEnd, nextStart-prevEnd); err != nil {
				return err
			}
		}
		return m.file().Sync()
	})
}
