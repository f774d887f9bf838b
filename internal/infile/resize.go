package infile

import (
	"context"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// CheckResize reports whether this element's own declared payload
// size could be changed to newSize: the last child must still fit (no
// truncation, no 1-byte trailing gap), newSize must still fit the
// fixed size-vint width, and if this is a sub-master its parent
// must agree the new end offset does not collide with the next
// sibling.
func (m *Manager) CheckResize(newSize int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.checkResizeLocked(newSize)
}

// CanResize is the boolean form of CheckResize.
func (m *Manager) CanResize(newSize int64) bool {
	return m.CheckResize(newSize) == nil
}

func (m *Manager) checkResizeLocked(newSize int64) error {
	if err := m.checkSizeVintWidth(uint64(newSize)); err != nil {
		return err
	}

	entries := m.children.all()
	if len(entries) > 0 {
		lastEnd := entries[len(entries)-1].end
		if newSize < lastEnd || newSize == lastEnd+1 {
			return ebmlerr.New(ebmlerr.Resize, "resize: would truncate or leave a one-byte gap after last child")
		}
	} else if newSize == 1 {
		return ebmlerr.New(ebmlerr.Resize, "resize: size 1 leaves no room for a void filler")
	}

	if m.parent != nil {
		return m.parent.checkChildResizeLocked(m.offsetInParent, m.headerSize()+newSize)
	}
	return nil
}

// checkChildResizeLocked validates, from the parent's side, that a
// child currently ending somewhere past offsetInParent could instead
// end at offsetInParent+newTotalSize. Caller must hold the lock.
func (m *Manager) checkChildResizeLocked(offsetInParent int64, newTotalSize int64) error {
	endOffset := offsetInParent + newTotalSize
	succStart := m.children.successorStart(offsetInParent+1, m.dataSize)
	if endOffset > succStart || endOffset == succStart-1 {
		return ebmlerr.New(ebmlerr.Resize, "resize: new child size collides with next sibling")
	}
	return nil
}

// Resize changes this element's own declared payload size, rewriting
// its size vint in place and cascading the change to its parent's
// child index (or, at the root, truncating the file). Growing leaves
// the newly exposed tail as Void; shrinking requires the vacated
// trailing space to already be free (CheckResize enforces this).
func (m *Manager) Resize(ctx context.Context, newSize int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()

	if err := m.checkResizeLocked(newSize); err != nil {
		return err
	}
	return m.resizeLockedNoCheck(ctx, newSize)
}

// resizeLockedNoCheck performs Resize's on-disk and index work,
// assuming the caller already holds the lock and has already
// validated newSize via checkResizeLocked (used by QuickTrim, which
// re-validates before calling).
func (m *Manager) resizeLockedNoCheck(ctx context.Context, newSize int64) error {
	return withNoInterrupt(ctx, func() error {
		entries := m.children.all()
		var lastEnd int64
		if len(entries) > 0 {
			lastEnd = entries[len(entries)-1].end
		}

		sizeVint, err := encodeVint(uint64(newSize), m.sizeVintWidth)
		if err != nil {
			return err
		}
		if _, err := m.file().WriteAt(sizeVint, m.offsetInFile()+int64(len(m.tag))); err != nil {
			return ebmlerr.Wrap(ebmlerr.Write, "resize: write size vint", err)
		}

		if newSize > lastEnd && newSize-lastEnd >= 2 {
			if err := m.writeVoidAt(m.dataOffsetInFile()+lastEnd, newSize-lastEnd); err != nil {
				return err
			}
		}

		delta := newSize - m.dataSize
		m.dataSize = newSize

		if m.parent != nil {
			if err := m.parent.cascadeChildResizeLocked(m.offsetInParent, delta); err != nil {
				return err
			}
		} else {
			if err := m.file().Truncate(m.dataOffsetInFile() + newSize); err != nil {
				return err
			}
		}
		return m.file().Sync()
	})
}

// cascadeChildResizeLocked applies a child's size change of delta
// bytes to this parent's index entry for that child, repairing the
// gap to the next sibling (or end of payload) if one opens up or
// closes. Caller must hold the lock.
func (m *Manager) cascadeChildResizeLocked(offsetInParent int64, delta int64) error {
	e, ok := m.children.get(offsetInParent)
	if !ok {
		return ebmlerr.New(ebmlerr.Resize, "resize: parent lost track of child during cascade")
	}
	e.end += delta

	succStart := m.children.successorStart(offsetInParent+1, m.dataSize)
	if succStart > e.end && succStart-e.end >= 2 {
		if err := m.writeVoidAt(m.dataOffsetInFile()+e.end, succStart-e.end); err != nil {
			return err
		}
	}
	return nil
}
