package ebml

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/go-ebml/ebml/internal/ebmlerr"
	"github.com/go-ebml/ebml/internal/infile"
	"github.com/go-ebml/ebml/internal/utils"
)

// Mode selects how OpenDocument prepares a Document's backing file.
type Mode int

const (
	// ModeRead opens an existing file read-only.
	ModeRead Mode = iota
	// ModeReadWrite opens an existing file for in-place mutation.
	ModeReadWrite
	// ModeCreate creates a new file, discarding any existing contents.
	ModeCreate
)

// SchemaResolver adapts a Schema to infile.Resolver: a tag names a
// nested master element exactly when the schema lists it as
// SlotMaster, the same test decodeSlot itself switches on.
type SchemaResolver struct{ Schema Schema }

// IsMaster implements infile.Resolver.
func (r SchemaResolver) IsMaster(tag []byte) bool {
	slot, ok := r.Schema.find(tag)
	return ok && slot.Kind == SlotMaster
}

// Document binds a fixed header element and a single body root to an
// open file.
//
// Exactly one of InMemoryBody and FileBody is set once a body has
// been bound: a Document does not wrap every mutation of either shape
// behind its own method (the two bodies have genuinely different
// APIs, a slice-of-children tree versus an addressable in-file
// manager), so callers reach through these fields directly rather
// than through Document pass-throughs for everything but Close.
type Document struct {
	file *os.File
	mode Mode

	// Head is the decoded (or, on ModeCreate after WriteHead, the
	// caller-supplied) fixed header element. Nil until WriteHead or a
	// successful OpenDocument read.
	Head *Master

	bodyTag      []byte
	InMemoryBody *Master
	FileBody     *infile.Manager

	headEnd int64
}

// OpenDocument opens filename under mode. Unless mode is ModeCreate,
// it immediately decodes the fixed header at offset 0 (validated
// against headSchema and, if non-nil, expectedHeadTag) and binds the
// body that follows it: as an addressable infile.Manager when
// inFileBody is true (resolver tells master children from leaves), or
// by decoding the entire body into memory against bodySchema
// otherwise. Each schema's own AllowUnknown governs whether
// unrecognized tags are kept or rejected at that level. Under
// ModeCreate the returned Document has no header or body yet; call
// WriteHead then BeginBody.
func OpenDocument(ctx context.Context, filename string, mode Mode, headSchema Schema, expectedHeadTag []byte, bodyTag []byte, bodySchema Schema, resolver infile.Resolver, inFileBody bool) (*Document, error) {
	f, err := openDocumentFile(filename, mode)
	if err != nil {
		return nil, err
	}

	doc := &Document{file: f, mode: mode, bodyTag: bodyTag}
	if mode == ModeCreate {
		return doc, nil
	}

	head, err := ReadHeadAt(f, 0, expectedHeadTag)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := utils.ValidatePayloadSize(head.Size, "document header payload"); err != nil {
		f.Close()
		return nil, wrapf(ebmlerr.Read, "open document", err)
	}
	headPayload := make([]byte, head.Size)
	if _, err := f.ReadAt(headPayload, head.DataOffset()); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, wrapf(ebmlerr.Read, "open document: read head payload", err)
	}
	headElem, err := decodeMaster(head.Tag, headPayload, headSchema)
	if err != nil {
		f.Close()
		return nil, err
	}
	headElem.SetReadOnly(true)
	doc.Head = headElem
	doc.headEnd = head.DataOffset() + int64(head.Size)

	if inFileBody {
		m, err := infile.Attach(ctx, f, doc.headEnd, bodyTag, 0, resolver, false)
		if err != nil {
			f.Close()
			return nil, err
		}
		doc.FileBody = m
		return doc, nil
	}

	bodyHead, err := ReadHeadAt(f, doc.headEnd, bodyTag)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := utils.ValidatePayloadSize(bodyHead.Size, "document body payload"); err != nil {
		f.Close()
		return nil, wrapf(ebmlerr.Read, "open document", err)
	}
	bodyPayload := make([]byte, bodyHead.Size)
	if _, err := f.ReadAt(bodyPayload, bodyHead.DataOffset()); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, wrapf(ebmlerr.Read, "open document: read body payload", err)
	}
	body, err := decodeMaster(bodyHead.Tag, bodyPayload, bodySchema)
	if err != nil {
		f.Close()
		return nil, err
	}
	doc.InMemoryBody = body
	return doc, nil
}

func openDocumentFile(filename string, mode Mode) (*os.File, error) {
	switch mode {
	case ModeRead:
		f, err := os.Open(filename)
		if err != nil {
			return nil, wrapf(ebmlerr.Read, "open document", err)
		}
		return f, nil
	case ModeReadWrite:
		f, err := os.OpenFile(filename, os.O_RDWR, 0)
		if err != nil {
			return nil, wrapf(ebmlerr.Read, "open document", err)
		}
		return f, nil
	case ModeCreate:
		f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
		if err != nil {
			return nil, wrapf(ebmlerr.Write, "open document", err)
		}
		return f, nil
	default:
		return nil, newErr(ebmlerr.Write, "open document: invalid mode")
	}
}

// WriteHead writes head, already built and populated in memory, as
// this document's fixed header at the front of the file. Valid only
// once, on a Document opened with ModeCreate.
func (d *Document) WriteHead(head *Master) error {
	if d.mode == ModeRead || d.mode == ModeReadWrite {
		return newErr(ebmlerr.Write, "write head: document was not opened with ModeCreate")
	}
	if d.Head != nil {
		return newErr(ebmlerr.Write, "write head: document already has a header")
	}

	payload, err := head.Encode()
	if err != nil {
		return err
	}
	hdr, err := WriteHead(head.ElementTag(), uint64(len(payload)), 0)
	if err != nil {
		return err
	}
	if _, err := d.file.WriteAt(hdr, 0); err != nil {
		return wrapf(ebmlerr.Write, "write head: header", err)
	}
	if _, err := d.file.WriteAt(payload, int64(len(hdr))); err != nil {
		return wrapf(ebmlerr.Write, "write head: payload", err)
	}

	head.SetReadOnly(true)
	d.Head = head
	d.headEnd = int64(len(hdr)) + int64(len(payload))
	return nil
}

// BeginBody creates an empty body of the given tag immediately after
// the header, either as an in-file Manager (inFile true, resolver
// tells master children from leaves) or as an empty in-memory Master
// validated against bodySchema. Valid only once, on a Document opened
// with ModeCreate, after WriteHead.
func (d *Document) BeginBody(ctx context.Context, tag []byte, sizeVintWidth int, bodySchema Schema, resolver infile.Resolver, inFile bool) error {
	if d.Head == nil {
		return newErr(ebmlerr.Write, "begin body: document has no header yet")
	}
	if d.InMemoryBody != nil || d.FileBody != nil {
		return newErr(ebmlerr.Write, "begin body: document already has a body")
	}

	d.bodyTag = tag
	if inFile {
		m, err := infile.Attach(ctx, d.file, d.headEnd, tag, sizeVintWidth, resolver, true)
		if err != nil {
			return err
		}
		d.FileBody = m
		return nil
	}

	d.InMemoryBody = NewMaster(tag, bodySchema)
	return nil
}

// FileSize returns the document's total footprint on disk: the
// header plus the file-backed body's own header and currently
// declared payload size. It only applies to a document whose body is
// file-backed; an in-memory body's footprint is only known once
// Close has re-encoded it.
func (d *Document) FileSize() (int64, error) {
	if d.FileBody == nil {
		return 0, newErr(ebmlerr.Read, "file size: document has no in-file body")
	}
	return d.FileBody.OffsetInParent() + int64(len(d.FileBody.Tag())) + int64(d.FileBody.SizeVintWidth()) + d.FileBody.DataSize(), nil
}

// Close finalises a document opened for writing and closes the
// underlying file. A file-backed body is trimmed to exactly the end
// of its last child and the file truncated there, mirroring
// EBMLBody.close's Void-fill-then-truncate finish (the in-file
// manager has already kept every gap Void-filled as it went, so no
// further filling is needed, only the final trim). An in-memory body
// is re-encoded in full and written out. A read-only document simply
// closes the file.
func (d *Document) Close(ctx context.Context) error {
	defer d.file.Close()

	if d.mode == ModeRead {
		return nil
	}

	if d.FileBody != nil {
		end := d.FileBody.LastChildEnd()
		if d.FileBody.DataSize() != end {
			if err := d.FileBody.Resize(ctx, end); err != nil {
				return err
			}
		}
		return nil
	}

	if d.InMemoryBody != nil {
		payload, err := d.InMemoryBody.Encode()
		if err != nil {
			return err
		}
		hdr, err := WriteHead(d.bodyTag, uint64(len(payload)), 0)
		if err != nil {
			return err
		}
		if _, err := d.file.WriteAt(hdr, d.headEnd); err != nil {
			return wrapf(ebmlerr.Write, "close document: body header", err)
		}
		if _, err := d.file.WriteAt(payload, d.headEnd+int64(len(hdr))); err != nil {
			return wrapf(ebmlerr.Write, "close document: body payload", err)
		}
		end := d.headEnd + int64(len(hdr)) + int64(len(payload))
		if err := d.file.Truncate(end); err != nil {
			return wrapf(ebmlerr.Resize, "close document: truncate", err)
		}
		return d.file.Sync()
	}

	return nil
}
