//go:build !linux

package infile

// This platform has no fallocate(2) range operations; the emulated
// forms in fallocate_emul.go are the only implementation.

func (h *handle) punchHoleRange(offset, size int64) error {
	return h.punchHoleEmulated(offset, size)
}

func (h *handle) collapseRangeFile(offset, size int64) error {
	return h.collapseRangeEmulated(offset, size)
}

func (h *handle) insertRangeFile(offset, size int64) error {
	return h.insertRangeEmulated(offset, size)
}
