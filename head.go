package ebml

import (
	"bytes"
	"io"
	"strconv"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// Head is the parsed (tag, size) header of an element, before its
// payload has been read.
type Head struct {
	// Offset is the absolute position at which the tag began.
	Offset int64
	// Tag is the raw tag bytes, marker bit retained (it is part of
	// the tag's identity).
	Tag []byte
	// SizeVint is the raw size-vint bytes as they appear on disk.
	SizeVint []byte
	// Size is the decoded payload length.
	Size uint64
}

// DataOffset is the position immediately following the header, where
// the element's payload begins.
func (h Head) DataOffset() int64 {
	return h.Offset + int64(len(h.Tag)) + int64(len(h.SizeVint))
}

// HeaderSize is the number of bytes the tag and size vint occupy.
func (h Head) HeaderSize() int64 {
	return int64(len(h.Tag)) + int64(len(h.SizeVint))
}

// ReadHeadFromSlice reads one element header from the front of b. If
// expectedTag is non-nil and the observed tag differs, the error wraps
// ErrNoMatch so a caller probing for one of several possible roots can
// recover; any other failure (short read, invalid vint) is a decode
// error naming the offset at which it occurred.
func ReadHeadFromSlice(b []byte, offset int64, expectedTag []byte) (Head, []byte, error) {
	tag, rest, err := ReadFromSlice(b)
	if err != nil {
		return Head{}, nil, wrapf(ebmlerr.Decode, headContext(offset, "tag"), err)
	}
	if expectedTag != nil && !bytes.Equal(tag, expectedTag) {
		return Head{}, nil, wrapf(ebmlerr.NoMatch, "read element head: tag mismatch", errTagMismatch{want: expectedTag, got: tag})
	}

	sizeVint, rest, err := ReadFromSlice(rest)
	if err != nil {
		return Head{}, nil, wrapf(ebmlerr.Decode, headContext(offset+int64(len(tag)), "size"), err)
	}
	size, err := Decode(sizeVint)
	if err != nil {
		return Head{}, nil, wrapf(ebmlerr.Decode, headContext(offset+int64(len(tag)), "size"), err)
	}

	return Head{Offset: offset, Tag: tag, SizeVint: sizeVint, Size: size}, rest, nil
}

// ReadHeadAt reads one element header from r at offset, without
// reading the payload. Failure semantics mirror ReadHeadFromSlice.
func ReadHeadAt(r io.ReaderAt, offset int64, expectedTag []byte) (Head, error) {
	tag, err := Peek(r, offset)
	if err != nil {
		return Head{}, wrapf(ebmlerr.Decode, headContext(offset, "tag"), err)
	}
	if expectedTag != nil && !bytes.Equal(tag, expectedTag) {
		return Head{}, wrapf(ebmlerr.NoMatch, "read element head: tag mismatch", errTagMismatch{want: expectedTag, got: tag})
	}

	sizeVint, err := Peek(r, offset+int64(len(tag)))
	if err != nil {
		return Head{}, wrapf(ebmlerr.Decode, headContext(offset+int64(len(tag)), "size"), err)
	}
	size, err := Decode(sizeVint)
	if err != nil {
		return Head{}, wrapf(ebmlerr.Decode, headContext(offset+int64(len(tag)), "size"), err)
	}

	return Head{Offset: offset, Tag: tag, SizeVint: sizeVint, Size: size}, nil
}

// WriteHead renders a (tag, size) header. sizeWidth pins the size
// vint's width (0 chooses the minimal width); a pinned width lets a
// caller preserve a fixed header size across future in-place resizes.
func WriteHead(tag []byte, payloadSize uint64, sizeWidth int) ([]byte, error) {
	if len(tag) == 0 {
		return nil, newErr(ebmlerr.Encode, "write element head: empty tag")
	}
	if _, ok := leadingMarkerWidth(tag[0]); !ok {
		return nil, newErr(ebmlerr.Encode, "write element head: malformed tag")
	}

	sizeVint, err := Encode(payloadSize, sizeWidth)
	if err != nil {
		return nil, wrapf(ebmlerr.Encode, "write element head: size", err)
	}

	out := make([]byte, 0, len(tag)+len(sizeVint))
	out = append(out, tag...)
	out = append(out, sizeVint...)
	return out, nil
}

// headContext names the part of a header that failed to decode and
// the absolute offset at which that part begins.
func headContext(offset int64, part string) string {
	return "read element head at offset " + strconv.FormatInt(offset, 10) + ": " + part
}

type errTagMismatch struct {
	want []byte
	got  []byte
}

func (e errTagMismatch) Error() string {
	return "expected tag " + hexBytes(e.want) + ", got " + hexBytes(e.got)
}

func hexBytes(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 2*len(b)+2)
	out = append(out, '0', 'x')
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0xF])
	}
	return string(out)
}
