package infile

import (
	"io"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// Emulated range operations, used directly on platforms without
// fallocate(2) and as a fallback on Linux filesystems that reject the
// range flags (tmpfs and most network filesystems return EOPNOTSUPP).
// They are functionally equivalent but not sparse: an emulated punched
// hole is physically zeroed rather than deallocated.

const emulationChunkSize = 1 << 20

func (h *handle) punchHoleEmulated(offset, size int64) error {
	zero := make([]byte, emulationChunkSize)
	for remaining := size; remaining > 0; {
		n := int64(len(zero))
		if remaining < n {
			n = remaining
		}
		if _, err := h.file.WriteAt(zero[:n], offset); err != nil {
			return ebmlerr.Wrap(ebmlerr.Write, "punch hole (emulated)", err)
		}
		offset += n
		remaining -= n
	}
	return nil
}

func (h *handle) collapseRangeEmulated(offset, size int64) error {
	end, err := h.Size()
	if err != nil {
		return err
	}
	buf := make([]byte, emulationChunkSize)
	readAt := offset + size
	writeAt := offset
	for readAt < end {
		n := int64(len(buf))
		if end-readAt < n {
			n = end - readAt
		}
		if _, err := io.ReadFull(&nonEOFReader{h.file, readAt}, buf[:n]); err != nil {
			return ebmlerr.Wrap(ebmlerr.Read, "collapse range (emulated): read", err)
		}
		if _, err := h.file.WriteAt(buf[:n], writeAt); err != nil {
			return ebmlerr.Wrap(ebmlerr.Write, "collapse range (emulated): write", err)
		}
		readAt += n
		writeAt += n
	}
	return h.Truncate(end - size)
}

func (h *handle) insertRangeEmulated(offset, size int64) error {
	end, err := h.Size()
	if err != nil {
		return err
	}
	if err := h.Truncate(end + size); err != nil {
		return err
	}
	buf := make([]byte, emulationChunkSize)
	readAt := end
	for readAt > offset {
		n := int64(len(buf))
		if readAt-offset < n {
			n = readAt - offset
		}
		readAt -= n
		if _, err := io.ReadFull(&nonEOFReader{h.file, readAt}, buf[:n]); err != nil {
			return ebmlerr.Wrap(ebmlerr.Read, "insert range (emulated): read", err)
		}
		if _, err := h.file.WriteAt(buf[:n], readAt+size); err != nil {
			return ebmlerr.Wrap(ebmlerr.Write, "insert range (emulated): write", err)
		}
	}
	zero := make([]byte, size)
	if _, err := h.file.WriteAt(zero, offset); err != nil {
		return ebmlerr.Wrap(ebmlerr.Write, "insert range (emulated): zero gap", err)
	}
	return nil
}

// nonEOFReader adapts an io.ReaderAt's fixed-offset reads to
// io.ReadFull's expectation of a sequential io.Reader.
type nonEOFReader struct {
	r   io.ReaderAt
	off int64
}

func (n *nonEOFReader) Read(p []byte) (int, error) {
	c, err := n.r.ReadAt(p, n.off)
	n.off += int64(c)
	return c, err
}
