// Package infile implements the in-file master-element manager: a
// mutable, addressable view of a master element's children backed by
// an already-open, seekable file. Children are read, written, moved,
// resized and removed at explicit offsets without rewriting the
// container; only their addresses live in memory.
package infile

import (
	"context"
	"os"
	"sync"

	"github.com/go-ebml/ebml/internal/ebmlerr"
	"github.com/go-ebml/ebml/internal/utils"
)

// Resolver is the one external collaborator this package consumes: a
// factory that tells the manager whether an encountered child tag
// names a nested master element (and so should be hydrated as another
// Manager) or a value leaf (returned to the caller as raw payload
// bytes for the caller's own value-element decoder to interpret). This
// is deliberately the only schema knowledge infile needs.
type Resolver interface {
	IsMaster(tag []byte) bool
}

// Child is one entry produced by GetChild/IterChildren: either a
// hydrated sub-master (Master non-nil) or a leaf's raw payload bytes
// (Payload non-nil). Exactly one of the two is set.
type Child struct {
	Tag     []byte
	Offset  int64
	End     int64
	Master  *Manager
	Payload []byte
}

// Manager is a mutable, addressable view of a master element's
// children, anchored either at the root of an open file or nested
// inside another Manager. Exported methods take the root's mutex;
// unexported "locked" helpers assume the caller already holds it, so
// that cascades up the parent chain never try to re-acquire it.
type Manager struct {
	resolver Resolver
	tag      []byte
	parent   *Manager

	// Only set at the root (parent == nil); sub-managers reach these
	// through root().
	fh        *handle
	mu        *sync.Mutex
	blockSize int64

	offsetInParent int64
	sizeVintWidth  int
	dataSize       int64
	children       *index
}

// Attach binds a Manager to the master-element region starting at
// offset in an already-open file. When create is true, it writes a
// fresh (tag, size=0, sizeVintWidth) header there instead of reading
// one; otherwise it reads the existing header (failing with
// ErrNoMatch if the tag there differs) and scans its children.
func Attach(ctx context.Context, f *os.File, offset int64, tag []byte, sizeVintWidth int, resolver Resolver, create bool) (*Manager, error) {
	bs, err := discoverBlockSize(f)
	if err != nil {
		return nil, err
	}
	return attach(&handle{file: f, blockSize: bs}, offset, tag, sizeVintWidth, resolver, create)
}

// Open opens filename itself and binds a root Manager to the master
// element at offset, creating a fresh header there under ModeCreate.
// The Manager owns the file; release it with Close.
func Open(filename string, mode OpenMode, offset int64, tag []byte, sizeVintWidth int, resolver Resolver) (*Manager, error) {
	h, err := openHandle(filename, mode)
	if err != nil {
		return nil, err
	}
	m, err := attach(h, offset, tag, sizeVintWidth, resolver, mode == ModeCreate)
	if err != nil {
		h.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the underlying file. Only meaningful on a root
// Manager; the file handle is owned there and merely borrowed by
// sub-masters through the parent chain.
func (m *Manager) Close() error {
	return m.root().fh.Close()
}

func attach(h *handle, offset int64, tag []byte, sizeVintWidth int, resolver Resolver, create bool) (*Manager, error) {
	m := &Manager{
		resolver:       resolver,
		tag:            tag,
		fh:             h,
		mu:             &sync.Mutex{},
		blockSize:      h.blockSize,
		offsetInParent: offset,
		sizeVintWidth:  sizeVintWidth,
		children:       newIndex(),
	}
	if create {
		if err := m.writeOwnHeader(0); err != nil {
			return nil, err
		}
		if err := m.file().Truncate(m.dataOffsetInFile()); err != nil {
			return nil, err
		}
		return m, nil
	}

	hd, err := readHeadAt(m.file(), offset)
	if err != nil {
		return nil, err
	}
	if !bytesEqual(hd.Tag, tag) {
		return nil, ebmlerr.New(ebmlerr.NoMatch, "attach in-file master: tag mismatch at offset")
	}
	m.sizeVintWidth = len(hd.SizeVint)
	m.dataSize = int64(hd.Size)
	if err := m.lockedScan(); err != nil {
		return nil, err
	}
	return m, nil
}

// newSubManager constructs a Manager for a freshly written or freshly
// scanned sub-master whose header already exists on disk at
// offsetInParent within parent.
func newSubManager(parent *Manager, tag []byte, offsetInParent int64, sizeVintWidth int, dataSize int64) *Manager {
	return &Manager{
		resolver:       parent.resolver,
		tag:            tag,
		parent:         parent,
		offsetInParent: offsetInParent,
		sizeVintWidth:  sizeVintWidth,
		dataSize:       dataSize,
		children:       newIndex(),
	}
}

func (m *Manager) file() *handle {
	if m.parent != nil {
		return m.parent.file()
	}
	return m.fh
}

func (m *Manager) lock() *sync.Mutex {
	if m.parent != nil {
		return m.parent.lock()
	}
	return m.mu
}

func (m *Manager) root() *Manager {
	if m.parent != nil {
		return m.parent.root()
	}
	return m
}

// BlockSize is the filesystem allocation unit used to align
// fallocate-based range operations, discovered once at the root.
func (m *Manager) BlockSize() int64 { return m.root().blockSize }

func (m *Manager) headerSize() int64 { return int64(len(m.tag)) + int64(m.sizeVintWidth) }

// offsetInFile is this element's own tag's absolute position.
func (m *Manager) offsetInFile() int64 {
	if m.parent == nil {
		return m.offsetInParent
	}
	return m.parent.dataOffsetInFile() + m.offsetInParent
}

// dataOffsetInFile is the absolute position of the first byte of this
// element's payload.
func (m *Manager) dataOffsetInFile() int64 {
	return m.offsetInFile() + m.headerSize()
}

// Tag returns this element's own tag bytes.
func (m *Manager) Tag() []byte { return m.tag }

// OffsetInParent returns the offset of this element's tag within its
// parent's payload (or the absolute file offset, at the root).
func (m *Manager) OffsetInParent() int64 { return m.offsetInParent }

// DataSize returns the payload size currently declared in this
// element's on-disk header.
func (m *Manager) DataSize() int64 { return m.dataSize }

// SizeVintWidth returns the fixed width this element's size vint
// occupies on disk.
func (m *Manager) SizeVintWidth() int { return m.sizeVintWidth }

// writeOwnHeader writes this element's (tag, size) header at its own
// offsetInFile and, if size > 0, fills the declared payload with a
// single Void filler; a freshly allocated region stays void until
// children are added.
func (m *Manager) writeOwnHeader(size int64) error {
	hdr, err := writeHead(m.tag, uint64(size), m.sizeVintWidth)
	if err != nil {
		return err
	}
	if _, err := m.file().WriteAt(hdr, m.offsetInFile()); err != nil {
		return ebmlerr.Wrap(ebmlerr.Write, "write master header", err)
	}
	m.dataSize = size
	if size > 0 {
		if err := m.writeVoidAt(m.dataOffsetInFile(), size); err != nil {
			return err
		}
	}
	return nil
}

// Scan rebuilds this element's child index from its on-disk contents,
// discarding any hydrated sub-manager caches.
func (m *Manager) Scan(ctx context.Context) error {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.lockedScan()
}

func (m *Manager) lockedScan() error {
	idx := newIndex()
	f := m.file()
	base := m.dataOffsetInFile()
	var consumed int64
	for consumed < m.dataSize {
		h, err := readHeadAt(f, base+consumed)
		if err != nil {
			return wrapScan(err)
		}
		if err := utils.ValidatePayloadSize(h.Size, "scan child element"); err != nil {
			return wrapScan(err)
		}
		total64, err := utils.SafeAdd(uint64(h.headerSize()), h.Size)
		if err != nil {
			return wrapScan(err)
		}
		total := int64(total64)
		if !bytesEqual(h.Tag, voidTag) {
			idx.insert(&childEntry{
				offset: consumed,
				tag:    h.Tag,
				end:    consumed + total,
			})
		}
		consumed += total
	}
	m.children = idx
	return nil
}

func wrapScan(err error) error {
	return ebmlerr.Wrap(ebmlerr.Decode, "scan in-file children", err)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// GetChild returns the hydrated child at offset, reading its header
// and payload from file on first access; later calls reuse the cached
// hydration until Evict is called. Hydration is idempotent.
func (m *Manager) GetChild(ctx context.Context, offset int64) (*Child, error) {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	return m.lockedGetChild(offset)
}

func (m *Manager) lockedGetChild(offset int64) (*Child, error) {
	e, ok := m.children.get(offset)
	if !ok {
		return nil, ebmlerr.New(ebmlerr.Read, "get child: no child indexed at offset")
	}
	if e.hydrated != nil {
		return e.hydrated, nil
	}
	c, err := m.hydrate(e)
	if err != nil {
		return nil, err
	}
	e.hydrated = c
	return c, nil
}

func (m *Manager) hydrate(e *childEntry) (*Child, error) {
	if m.resolver != nil && m.resolver.IsMaster(e.tag) {
		h, err := readHeadAt(m.file(), m.dataOffsetInFile()+e.offset)
		if err != nil {
			return nil, err
		}
		sub := newSubManager(m, h.Tag, e.offset, len(h.SizeVint), int64(h.Size))
		if err := sub.lockedScan(); err != nil {
			return nil, err
		}
		return &Child{Tag: e.tag, Offset: e.offset, End: e.end, Master: sub}, nil
	}

	h, err := readHeadAt(m.file(), m.dataOffsetInFile()+e.offset)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidatePayloadSize(h.Size, "hydrate leaf payload"); err != nil {
		return nil, ebmlerr.Wrap(ebmlerr.Read, "hydrate leaf child", err)
	}
	payload := make([]byte, h.Size)
	if _, err := m.file().ReadAt(payload, m.dataOffsetInFile()+e.offset+h.headerSize()); err != nil {
		return nil, ebmlerr.Wrap(ebmlerr.Read, "hydrate leaf child", err)
	}
	return &Child{Tag: e.tag, Offset: e.offset, End: e.end, Payload: payload}, nil
}

// Evict drops the cached hydration (if any) at offset, so the next
// GetChild re-reads from file. Eviction is explicit rather than
// GC-observed; rehydration is idempotent, so callers may evict freely
// under memory pressure.
func (m *Manager) Evict(offset int64) {
	l := m.lock()
	l.Lock()
	defer l.Unlock()
	if e, ok := m.children.get(offset); ok {
		e.hydrated = nil
	}
}

// IterChildren returns a range-over-func iterator over children in
// offset order. It re-queries the next offset after each yield so
// that moves and removals triggered by the caller mid-iteration are
// tolerated: an offset that vanished is skipped, a child that moved
// ahead is picked up at its new position.
func (m *Manager) IterChildren(ctx context.Context) func(yield func(*Child, error) bool) {
	return func(yield func(*Child, error) bool) {
		l := m.lock()
		l.Lock()
		if len(m.children.all()) == 0 {
			l.Unlock()
			return
		}
		offset := m.children.all()[0].offset
		l.Unlock()

		for {
			l = m.lock()
			l.Lock()
			_, ok := m.children.get(offset)
			if !ok {
				next := m.nextChildOffset(offset - 1)
				l.Unlock()
				if next == nil {
					return
				}
				offset = *next
				continue
			}
			c, err := m.lockedGetChild(offset)
			l.Unlock()
			if !yield(c, err) || err != nil {
				return
			}

			l = m.lock()
			l.Lock()
			next := m.nextChildOffset(c.Offset)
			l.Unlock()
			if next == nil {
				return
			}
			offset = *next
		}
	}
}

// nextChildOffset returns the start offset of the first child
// strictly after offset, or nil if none. Caller must hold the lock.
func (m *Manager) nextChildOffset(offset int64) *int64 {
	entries := m.children.all()
	for _, e := range entries {
		if e.offset > offset {
			v := e.offset
			return &v
		}
	}
	return nil
}

// prevChildOffset returns the start offset of the last child strictly
// before offset, or nil if none. Caller must hold the lock.
func (m *Manager) prevChildOffset(offset int64) *int64 {
	entries := m.children.all()
	var found *int64
	for _, e := range entries {
		if e.offset < offset {
			v := e.offset
			found = &v
		} else {
			break
		}
	}
	return found
}
