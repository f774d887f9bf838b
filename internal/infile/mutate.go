package infile

import (
	"context"

	"github.com/go-ebml/ebml/internal/ebmlerr"
	"github.com/go-ebml/ebml/internal/utils"
)

// CheckAddLeaf reports whether a leaf child with the given tag and
// payload could be added at offset without violating the layout
// checks. It does not mutate state.
func (m *Manager) CheckAddLeaf(offset int64, tag []byte, payload []byte) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	_, total, err := m.leafLayout(tag, payload)
	if err != nil {
		return err
	}
	return m.checkLayout(offset, total)
}

// CanAddLeaf is the boolean form of CheckAddLeaf.
func (m *Manager) CanAddLeaf(offset int64, tag []byte, payload []byte) bool {
	return m.CheckAddLeaf(offset, tag, payload) == nil
}

func (m *Manager) leafLayout(tag []byte, payload []byte) (headerLen int64, total int64, err error) {
	k, err := sizeOf(uint64(len(payload)))
	if err != nil {
		return 0, 0, err
	}
	headerLen = int64(len(tag) + k)
	return headerLen, headerLen + int64(len(payload)), nil
}

// AddLeaf writes tag‖size‖payload at offset within this master's
// payload, repairing surrounding Void fillers and indexing the new
// child. The caller's payload must already be the value element's
// final encoded form (infile has no value-element semantics of its
// own, see Resolver's doc comment).
func (m *Manager) AddLeaf(ctx context.Context, offset int64, tag []byte, payload []byte) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()

	_, total, err := m.leafLayout(tag, payload)
	if err != nil {
		return err
	}
	if err := m.checkLayout(offset, total); err != nil {
		return err
	}

	return withNoInterrupt(ctx, func() error {
		predEnd := m.children.predecessorEnd(offset)
		succStart := m.children.successorStart(offset, m.dataSize)

		hdr, err := writeHead(tag, uint64(len(payload)), 0)
		if err != nil {
			return err
		}
		base := m.dataOffsetInFile()
		if offset > predEnd {
			if err := m.writeVoidAt(base+predEnd, offset-predEnd); err != nil {
				return err
			}
		}
		if _, err := m.file().WriteAt(hdr, base+offset); err != nil {
			return ebmlerr.Wrap(ebmlerr.Write, "add leaf child: header", err)
		}
		if _, err := m.file().WriteAt(payload, base+offset+int64(len(hdr))); err != nil {
			return ebmlerr.Wrap(ebmlerr.Write, "add leaf child: payload", err)
		}
		if offset+total < succStart {
			if err := m.writeVoidAt(base+offset+total, succStart-offset-total); err != nil {
				return err
			}
		}
		m.children.insert(&childEntry{offset: offset, tag: tag, end: offset + total})
		return m.file().Sync()
	})
}

// CheckAddMaster reports whether a sub-master of the given tag and
// size could be created at offset without violating the layout checks.
func (m *Manager) CheckAddMaster(offset int64, tag []byte, sizeVintWidth int, size int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	total := int64(len(tag)+sizeVintWidth) + size
	return m.checkLayout(offset, total)
}

// CanAddMaster is the boolean form of CheckAddMaster.
func (m *Manager) CanAddMaster(offset int64, tag []byte, sizeVintWidth int, size int64) bool {
	return m.CheckAddMaster(offset, tag, sizeVintWidth, size) == nil
}

// AddMaster allocates a new sub-master of the given tag at offset,
// writing its header and an initial Void payload of size bytes, and
// returns the live Manager for it.
func (m *Manager) AddMaster(ctx context.Context, offset int64, tag []byte, sizeVintWidth int, size int64) (*Manager, error) {
	l := m.lock()
	l.Lock()
	defer l.Unlock()

	total := int64(len(tag)+sizeVintWidth) + size
	if err := m.checkLayout(offset, total); err != nil {
		return nil, err
	}

	var sub *Manager
	err := withNoInterrupt(ctx, func() error {
		predEnd := m.children.predecessorEnd(offset)
		succStart := m.children.successorStart(offset, m.dataSize)
		base := m.dataOffsetInFile()

		if offset > predEnd {
			if err := m.writeVoidAt(base+predEnd, offset-predEnd); err != nil {
				return err
			}
		}
		sub = newSubManager(m, tag, offset, sizeVintWidth, 0)
		if err := sub.writeOwnHeader(size); err != nil {
			return err
		}
		if offset+total < succStart {
			if err := m.writeVoidAt(base+offset+total, succStart-offset-total); err != nil {
				return err
			}
		}
		m.children.insert(&childEntry{offset: offset, tag: tag, end: offset + total, hydrated: &Child{Tag: tag, Offset: offset, End: offset + total, Master: sub}})
		return m.file().Sync()
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RemoveChild erases the child at offset from the index and fills the
// vacated region, plus any now-contiguous neighbouring gap, with a
// single Void filler (or no filler at all if the resulting gap is
// zero-width).
func (m *Manager) RemoveChild(ctx context.Context, offset int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()

	if _, ok := m.children.get(offset); !ok {
		return ebmlerr.New(ebmlerr.Write, "remove child: no child indexed at offset")
	}

	return withNoInterrupt(ctx, func() error {
		predEnd, succStart := m.children.neighborsExcluding(offset, offset, true, m.dataSize)
		if succStart-predEnd >= 2 {
			if err := m.writeVoidAt(m.dataOffsetInFile()+predEnd, succStart-predEnd); err != nil {
				return err
			}
		}
		m.children.remove(offset)
		return m.file().Sync()
	})
}

// CheckMoveChild reports whether the child at fromOffset could be
// physically relocated to newOffset without violating the layout checks.
func (m *Manager) CheckMoveChild(fromOffset, newOffset int64) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	e, ok := m.children.get(fromOffset)
	if !ok {
		return ebmlerr.New(ebmlerr.Write, "move child: no child indexed at offset")
	}
	size := e.end - e.offset
	return m.checkMoveLayout(fromOffset, newOffset, size)
}

// CanMoveChild is the boolean form of CheckMoveChild.
func (m *Manager) CanMoveChild(fromOffset, newOffset int64) bool {
	return m.CheckMoveChild(fromOffset, newOffset) == nil
}

// MoveChild physically copies the child at fromOffset to newOffset in
// block-sized chunks (direction chosen to avoid the copy overlapping
// itself), then repairs Void fillers at both the vacated and newly
// occupied regions. A move to the child's own current offset is a
// no-op.
func (m *Manager) MoveChild(ctx context.Context, fromOffset, newOffset int64) error {
	if fromOffset == newOffset {
		return nil
	}

	l := m.lock()
	l.Lock()
	defer l.Unlock()

	e, ok := m.children.get(fromOffset)
	if !ok {
		return ebmlerr.New(ebmlerr.Write, "move child: no child indexed at offset")
	}
	size := e.end - e.offset
	if err := m.checkMoveLayout(fromOffset, newOffset, size); err != nil {
		return err
	}
	return m.moveChildLockedNoCheck(ctx, fromOffset, newOffset)
}

// moveChildLockedNoCheck performs MoveChild's physical copy and index
// repair, assuming the caller already holds the lock and has already
// validated the move via checkMoveLayout (used by QuickTrim).
func (m *Manager) moveChildLockedNoCheck(ctx context.Context, fromOffset, newOffset int64) error {
	e, ok := m.children.get(fromOffset)
	if !ok {
		return ebmlerr.New(ebmlerr.Write, "move child: no child indexed at offset")
	}
	size := e.end - e.offset
	tag := e.tag

	return withNoInterrupt(ctx, func() error {
		if err := m.copyBlocks(fromOffset, newOffset, size); err != nil {
			return err
		}

		base := m.dataOffsetInFile()

		// Repair around the destination first, while the index still
		// lacks both the old and new entries for this child.
		m.children.remove(fromOffset)
		predEnd := m.children.predecessorEnd(newOffset)
		succStart := m.children.successorStart(newOffset, m.dataSize)
		if newOffset > predEnd && newOffset-predEnd >= 2 {
			if err := m.writeVoidAt(base+predEnd, newOffset-predEnd); err != nil {
				return err
			}
		}
		if newOffset+size < succStart && succStart-newOffset-size >= 2 {
			if err := m.writeVoidAt(base+newOffset+size, succStart-newOffset-size); err != nil {
				return err
			}
		}

		m.children.insert(&childEntry{offset: newOffset, tag: tag, end: newOffset + size, hydrated: e.hydrated})
		if e.hydrated != nil {
			e.hydrated.Offset = newOffset
			e.hydrated.End = newOffset + size
			if e.hydrated.Master != nil {
				e.hydrated.Master.offsetInParent = newOffset
			}
		}

		// Repair whatever remains of the vacated region: if it lies
		// outside what was just covered around the destination, it is
		// now entirely free.
		oldPredEnd := m.children.predecessorEnd(fromOffset)
		oldSuccStart := m.children.successorStart(fromOffset, m.dataSize)
		if oldSuccStart-oldPredEnd >= 2 {
			if err := m.writeVoidAt(base+oldPredEnd, oldSuccStart-oldPredEnd); err != nil {
				return err
			}
		}

		return m.file().Sync()
	})
}

// copyBlocks physically relocates [from, from+size) to [to, to+size)
// within the element's own payload, in chunks no larger than the
// filesystem block size, copying in whichever direction keeps the
// read always ahead of (or behind) the write so the regions never
// clobber each other even when they overlap.
func (m *Manager) copyBlocks(from, to, size int64) error {
	blk := m.BlockSize()
	if blk <= 0 {
		blk = 4096
	}
	base := m.dataOffsetInFile()
	buf := utils.GetBuffer(int(blk))
	defer utils.ReleaseBuffer(buf)

	if to < from {
		for done := int64(0); done < size; done += blk {
			n := blk
			if size-done < n {
				n = size - done
			}
			chunk := buf[:n]
			if _, err := m.file().ReadAt(chunk, base+from+done); err != nil {
				return ebmlerr.Wrap(ebmlerr.Read, "move child: read", err)
			}
			if _, err := m.file().WriteAt(chunk, base+to+done); err != nil {
				return ebmlerr.Wrap(ebmlerr.Write, "move child: write", err)
			}
		}
		return nil
	}

	for done := size; done > 0; {
		n := blk
		if done < n {
			n = done
		}
		done -= n
		chunk := buf[:n]
		if _, err := m.file().ReadAt(chunk, base+from+done); err != nil {
			return ebmlerr.Wrap(ebmlerr.Read, "move child: read", err)
		}
		if _, err := m.file().WriteAt(chunk, base+to+done); err != nil {
			return ebmlerr.Wrap(ebmlerr.Write, "move child: write", err)
		}
	}
	return nil
}
