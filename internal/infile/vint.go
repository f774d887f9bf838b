package infile

import (
	"io"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// This package cannot import the root ebml package (the root package
// imports this one, for the in-file Document body), so it carries its
// own small vint/head codec rather than sharing the root package's.
// The algorithm is identical; see the root package's vint.go for the
// fuller commentary.

const maxVintWidth = 8
const maxVintValue = (uint64(1) << 56) - 1

func vintLimit(k int) uint64 { return (uint64(1) << uint(7*k)) - 1 }

func sizeOf(n uint64) (int, error) {
	if n >= maxVintValue {
		return 0, ebmlerr.New(ebmlerr.Encode, "vint overflow")
	}
	for k := 1; k <= maxVintWidth; k++ {
		if n < vintLimit(k) {
			return k, nil
		}
	}
	return 0, ebmlerr.New(ebmlerr.Encode, "vint overflow")
}

func leadingMarkerWidth(b byte) (int, bool) {
	if b == 0 {
		return 0, false
	}
	mask := byte(0x80)
	for i := 0; i < 8; i++ {
		if b&mask != 0 {
			return i + 1, true
		}
		mask >>= 1
	}
	return 0, false
}

func encodeVint(n uint64, width int) ([]byte, error) {
	if width == 0 {
		k, err := sizeOf(n)
		if err != nil {
			return nil, err
		}
		width = k
	}
	if width < 1 || width > maxVintWidth || n >= vintLimit(width) {
		return nil, ebmlerr.New(ebmlerr.Encode, "value does not fit in vint width")
	}
	buf := make([]byte, width)
	marker := byte(0x80) >> uint(width-1)
	highBitsMask := marker - 1
	rest := n
	for i := width - 1; i >= 1; i-- {
		buf[i] = byte(rest & 0xFF)
		rest >>= 8
	}
	buf[0] = marker | (byte(rest) & highBitsMask)
	return buf, nil
}

func decodeVint(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, ebmlerr.Wrap(ebmlerr.UnexpectedEOD, "decode vint", io.ErrUnexpectedEOF)
	}
	k, ok := leadingMarkerWidth(b[0])
	if !ok {
		return 0, ebmlerr.New(ebmlerr.Decode, "invalid vint marker byte")
	}
	if k != len(b) {
		return 0, ebmlerr.New(ebmlerr.Decode, "vint width disagrees with byte length")
	}
	marker := byte(0x80) >> uint(k-1)
	n := uint64(b[0] &^ marker)
	for i := 1; i < k; i++ {
		n = n<<8 | uint64(b[i])
	}
	return n, nil
}

// peekVintAt reads the vint starting at offset without disturbing any
// shared file cursor.
func peekVintAt(r io.ReaderAt, offset int64) ([]byte, error) {
	var first [1]byte
	if _, err := r.ReadAt(first[:], offset); err != nil {
		return nil, ebmlerr.Wrap(ebmlerr.UnexpectedEOD, "peek vint", err)
	}
	k, ok := leadingMarkerWidth(first[0])
	if !ok {
		return nil, ebmlerr.New(ebmlerr.Decode, "invalid vint marker byte")
	}
	buf := make([]byte, k)
	buf[0] = first[0]
	if k > 1 {
		if _, err := r.ReadAt(buf[1:], offset+1); err != nil {
			return nil, ebmlerr.Wrap(ebmlerr.UnexpectedEOD, "peek vint", err)
		}
	}
	return buf, nil
}

// head is a parsed (tag, size) pair read from a live file.
type head struct {
	Tag      []byte
	SizeVint []byte
	Size     uint64
}

func (h head) headerSize() int64 { return int64(len(h.Tag) + len(h.SizeVint)) }

func readHeadAt(r io.ReaderAt, offset int64) (head, error) {
	tag, err := peekVintAt(r, offset)
	if err != nil {
		return head{}, ebmlerr.Wrap(ebmlerr.Decode, "read in-file head: tag", err)
	}
	sizeVint, err := peekVintAt(r, offset+int64(len(tag)))
	if err != nil {
		return head{}, ebmlerr.Wrap(ebmlerr.Decode, "read in-file head: size", err)
	}
	size, err := decodeVint(sizeVint)
	if err != nil {
		return head{}, ebmlerr.Wrap(ebmlerr.Decode, "read in-file head: size", err)
	}
	return head{Tag: tag, SizeVint: sizeVint, Size: size}, nil
}

func writeHead(tag []byte, payloadSize uint64, sizeWidth int) ([]byte, error) {
	sizeVint, err := encodeVint(payloadSize, sizeWidth)
	if err != nil {
		return nil, ebmlerr.Wrap(ebmlerr.Encode, "write in-file head: size", err)
	}
	out := make([]byte, 0, len(tag)+len(sizeVint))
	out = append(out, tag...)
	out = append(out, sizeVint...)
	return out, nil
}
