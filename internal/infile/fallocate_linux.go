//go:build linux

package infile

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// fallocateUnsupported reports whether err means the filesystem (or
// the requested alignment) cannot honor the range flag, in which case
// the slower copy-based emulation still produces the correct bytes.
// COLLAPSE_RANGE and INSERT_RANGE demand block-aligned offsets and
// lengths, which element-granularity edits rarely have.
func fallocateUnsupported(err error) bool {
	return errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS)
}

// punchHoleRange deallocates [offset, offset+size) within the file
// without changing its apparent size, leaving a sparse gap that reads
// back as zero.
func (h *handle) punchHoleRange(offset, size int64) error {
	err := unix.Fallocate(int(h.file.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, size)
	if err == nil {
		return nil
	}
	if fallocateUnsupported(err) {
		return h.punchHoleEmulated(offset, size)
	}
	return ebmlerr.Wrap(ebmlerr.Write, "punch hole", err)
}

// collapseRangeFile removes [offset, offset+size) and shifts
// everything after it left by size, shrinking the file.
func (h *handle) collapseRangeFile(offset, size int64) error {
	err := unix.Fallocate(int(h.file.Fd()), unix.FALLOC_FL_COLLAPSE_RANGE, offset, size)
	if err == nil {
		return nil
	}
	if fallocateUnsupported(err) {
		return h.collapseRangeEmulated(offset, size)
	}
	return ebmlerr.Wrap(ebmlerr.Resize, "collapse range", err)
}

// insertRangeFile inserts size bytes of hole at offset, shifting
// everything from offset onward right by size, growing the file.
func (h *handle) insertRangeFile(offset, size int64) error {
	err := unix.Fallocate(int(h.file.Fd()), unix.FALLOC_FL_INSERT_RANGE, offset, size)
	if err == nil {
		return nil
	}
	if fallocateUnsupported(err) {
		return h.insertRangeEmulated(offset, size)
	}
	return ebmlerr.Wrap(ebmlerr.Resize, "insert range", err)
}
