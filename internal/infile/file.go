package infile

import (
	"io"
	"os"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// handle wraps an os.File for the in-file manager: reads and writes
// are always address-based (io.ReaderAt/io.WriterAt). There is no
// separate allocation tracker; the child index (index.go) and layout
// checks (layout.go) are the allocator, since children are placed at
// explicit offsets the manager already validated, not appended at
// end-of-file.
type handle struct {
	file      *os.File
	blockSize int64
}

// OpenMode selects how the backing file is opened.
type OpenMode int

const (
	// ModeRead opens an existing file read-only; mutating operations fail.
	ModeRead OpenMode = iota
	// ModeReadWrite opens an existing file for both reading and mutation.
	ModeReadWrite
	// ModeCreate creates a new file, truncating any existing contents.
	ModeCreate
)

// openHandle opens filename under mode and discovers the filesystem
// block size used for alignment decisions.
func openHandle(filename string, mode OpenMode) (*handle, error) {
	var f *os.File
	var err error
	switch mode {
	case ModeRead:
		f, err = os.Open(filename)
	case ModeReadWrite:
		f, err = os.OpenFile(filename, os.O_RDWR, 0)
	case ModeCreate:
		f, err = os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	default:
		return nil, ebmlerr.New(ebmlerr.Write, "invalid open mode")
	}
	if err != nil {
		return nil, ebmlerr.Wrap(ebmlerr.Read, "open file", err)
	}
	bs, err := discoverBlockSize(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &handle{file: f, blockSize: bs}, nil
}

func (h *handle) ReadAt(p []byte, off int64) (int, error) {
	return h.file.ReadAt(p, off)
}

func (h *handle) WriteAt(p []byte, off int64) (int, error) {
	n, err := h.file.WriteAt(p, off)
	if err != nil {
		return n, ebmlerr.Wrap(ebmlerr.Write, "write file", err)
	}
	return n, nil
}

func (h *handle) Truncate(size int64) error {
	if err := h.file.Truncate(size); err != nil {
		return ebmlerr.Wrap(ebmlerr.Resize, "truncate file", err)
	}
	return nil
}

func (h *handle) Sync() error {
	if err := h.file.Sync(); err != nil {
		return ebmlerr.Wrap(ebmlerr.Write, "sync file", err)
	}
	return nil
}

func (h *handle) Close() error {
	return h.file.Close()
}

func (h *handle) Size() (int64, error) {
	fi, err := h.file.Stat()
	if err != nil {
		return 0, ebmlerr.Wrap(ebmlerr.Read, "stat file", err)
	}
	return fi.Size(), nil
}

var (
	_ io.ReaderAt = (*handle)(nil)
	_ io.WriterAt = (*handle)(nil)
)
