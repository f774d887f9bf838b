package infile

import "github.com/go-ebml/ebml/internal/ebmlerr"

// checkLayout validates a candidate region [offset, offset+size)
// against this master's own index and declared payload size: in
// bounds, no overlap with the predecessor, no 1-byte gap on either
// side, and not at offset 1. It must not mutate any state; callers
// that want the error wrapped with operation context do so themselves.
func (m *Manager) checkLayout(offset, size int64) error {
	predEnd := m.children.predecessorEnd(offset)
	succStart := m.children.successorStart(offset, m.dataSize)
	return checkRegion(offset, size, m.dataSize, predEnd, succStart)
}

// checkMoveLayout validates moving the child currently at fromOffset
// to [offset, offset+size), excluding that child itself from the
// predecessor/successor comparison.
func (m *Manager) checkMoveLayout(fromOffset, offset, size int64) error {
	predEnd, succStart := m.children.neighborsExcluding(offset, fromOffset, true, m.dataSize)
	return checkRegion(offset, size, m.dataSize, predEnd, succStart)
}

func checkRegion(offset, size, dataSize, predEnd, succStart int64) error {
	if offset < 0 || offset+size > dataSize {
		return ebmlerr.New(ebmlerr.Write, "layout: region out of bounds")
	}
	if offset < predEnd {
		return ebmlerr.New(ebmlerr.Write, "layout: overlaps predecessor")
	}
	if offset == predEnd+1 {
		return ebmlerr.New(ebmlerr.Write, "layout: one-byte gap before child")
	}
	if offset+size == succStart-1 {
		return ebmlerr.New(ebmlerr.Write, "layout: one-byte gap after child")
	}
	if offset == 1 {
		return ebmlerr.New(ebmlerr.Write, "layout: offset 1 leaves no room for a header void")
	}
	return nil
}

// checkSizeVintWidth checks that the manager's fixed sizeVintWidth
// can still encode newDataSize.
func (m *Manager) checkSizeVintWidth(newDataSize uint64) error {
	if newDataSize >= vintLimit(m.sizeVintWidth) {
		return ebmlerr.New(ebmlerr.Resize, "layout: new size does not fit in the fixed size-vint width")
	}
	return nil
}
