package ebml

import (
	"io"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// MaxVintWidth is the largest number of bytes a vint can occupy.
const MaxVintWidth = 8

// maxVintValue is the reserved all-ones residue for the largest vint
// width (2^56 - 1); values at or above it cannot be encoded by this
// library because they collide with the "unknown length" sentinel.
const maxVintValue = (uint64(1) << 56) - 1

// vintLimit returns the exclusive upper bound representable in a
// k-byte vint: 2^(7k) - 1.
func vintLimit(k int) uint64 {
	return (uint64(1) << uint(7*k)) - 1
}

// SizeOf returns the smallest vint width k in {1..8} with n < 2^(7k)-1.
// It fails with an overflow-flavored encode error if n is too large to
// be represented (n >= 2^56 - 1, the reserved "unknown length" value).
func SizeOf(n uint64) (int, error) {
	if n >= maxVintValue {
		return 0, wrapf(ebmlerr.Encode, "vint overflow", errOverflow(n))
	}
	for k := 1; k <= MaxVintWidth; k++ {
		if n < vintLimit(k) {
			return k, nil
		}
	}
	// Unreachable given the guard above, but keep the function total.
	return 0, wrapf(ebmlerr.Encode, "vint overflow", errOverflow(n))
}

type overflowError struct{ n uint64 }

func (e overflowError) Error() string {
	return "value does not fit in any vint width: " + uitoa(e.n)
}

func errOverflow(n uint64) error { return overflowError{n} }

func uitoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// leadingMarkerWidth returns the vint width implied by the position of
// the highest set bit in b (1-indexed from the MSB), or ok=false if b
// is zero (no marker bit present, an invalid first byte).
func leadingMarkerWidth(b byte) (k int, ok bool) {
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

// Encode renders n as a vint. If width is 0 the smallest width that
// fits n is chosen automatically; otherwise width is pinned (used by
// writers that must preserve a fixed on-disk size-field width for
// future in-place resize).
func Encode(n uint64, width int) ([]byte, error) {
	if width == 0 {
		k, err := SizeOf(n)
		if err != nil {
			return nil, err
		}
		width = k
	}
	if width < 1 || width > MaxVintWidth {
		return nil, wrapf(ebmlerr.Encode, "vint width out of range", errOverflow(uint64(width)))
	}
	if n >= vintLimit(width) {
		return nil, wrapf(ebmlerr.Encode, "value does not fit in pinned vint width", errOverflow(n))
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

// Decode parses a complete k-byte vint, returning its integer value
// with the marker bit stripped. Tags are never passed through Decode:
// they are kept as raw byte strings, marker bit and all, since the
// marker is part of a tag's identity. Decode fails with a decode error
// if the first byte's marker-bit position disagrees with len(b).
func Decode(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, wrapf(ebmlerr.UnexpectedEOD, "decode vint", io.ErrUnexpectedEOF)
	}
	k, ok := leadingMarkerWidth(b[0])
	if !ok {
		return 0, newErr(ebmlerr.Decode, "invalid vint: first byte has no marker bit")
	}
	if k != len(b) {
		return 0, newErr(ebmlerr.Decode, "invalid vint: marker-bit width disagrees with byte length")
	}

	marker := byte(0x80) >> uint(k-1)
	var n uint64
	n = uint64(b[0] &^ marker)
	for i := 1; i < k; i++ {
		n = n<<8 | uint64(b[i])
	}
	return n, nil
}

// ReadFromSlice consumes one vint from the front of b, returning the
// vint's own bytes and the remaining slice.
func ReadFromSlice(b []byte) (vint []byte, rest []byte, err error) {
	if len(b) == 0 {
		return nil, nil, wrapf(ebmlerr.UnexpectedEOD, "read vint from slice", io.ErrUnexpectedEOF)
	}
	k, ok := leadingMarkerWidth(b[0])
	if !ok {
		return nil, nil, newErr(ebmlerr.Decode, "invalid vint: first byte has no marker bit")
	}
	if len(b) < k {
		return nil, nil, wrapf(ebmlerr.UnexpectedEOD, "read vint from slice", io.ErrUnexpectedEOF)
	}
	return b[:k], b[k:], nil
}

// ReadFromFile consumes one vint from r, which is assumed to track its
// own position (e.g. *os.File or any io.Reader wrapping a cursor); the
// reader is left positioned just past the vint.
func ReadFromFile(r io.Reader) ([]byte, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, wrapf(ebmlerr.UnexpectedEOD, "read vint from file", err)
	}
	k, ok := leadingMarkerWidth(first[0])
	if !ok {
		return nil, newErr(ebmlerr.Decode, "invalid vint: first byte has no marker bit")
	}
	buf := make([]byte, k)
	buf[0] = first[0]
	if k > 1 {
		if _, err := io.ReadFull(r, buf[1:]); err != nil {
			return nil, wrapf(ebmlerr.UnexpectedEOD, "read vint from file", err)
		}
	}
	return buf, nil
}

// Peek reads the vint starting at offset in r without advancing any
// cursor the caller may also be using (ReaderAt reads never move a
// shared position).
func Peek(r io.ReaderAt, offset int64) ([]byte, error) {
	var first [1]byte
	if _, err := r.ReadAt(first[:], offset); err != nil {
		return nil, wrapf(ebmlerr.UnexpectedEOD, "peek vint", err)
	}
	k, ok := leadingMarkerWidth(first[0])
	if !ok {
		return nil, newErr(ebmlerr.Decode, "invalid vint: first byte has no marker bit")
	}
	buf := make([]byte, k)
	if k == 1 {
		buf[0] = first[0]
		return buf, nil
	}
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, wrapf(ebmlerr.UnexpectedEOD, "peek vint", err)
	}
	return buf, nil
}

// ScannedElement is one (offset, tag, size-vint-width, payload) triple
// produced by ScanElements.
type ScannedElement struct {
	Offset        int
	Tag           []byte
	SizeVintWidth int
	Payload       []byte
}

// ScanElements walks b from the front, yielding each top-level element
// it contains. It is a range-over-func iterator: ranging over it with
// `for elem, err := range ScanElements(b)` stops early simply by
// `break`-ing out of the loop, with no separate cancellation channel
// needed.
func ScanElements(b []byte) func(yield func(ScannedElement, error) bool) {
	return func(yield func(ScannedElement, error) bool) {
		offset := 0
		rest := b
		for len(rest) > 0 {
			tag, afterTag, err := ReadFromSlice(rest)
			if err != nil {
				yield(ScannedElement{}, err)
				return
			}
			sizeVint, afterSize, err := ReadFromSlice(afterTag)
			if err != nil {
				yield(ScannedElement{}, err)
				return
			}
			size, err := Decode(sizeVint)
			if err != nil {
				yield(ScannedElement{}, err)
				return
			}
			if uint64(len(afterSize)) < size {
				yield(ScannedElement{}, wrapf(ebmlerr.UnexpectedEOD, "scan elements", io.ErrUnexpectedEOF))
				return
			}
			payload := afterSize[:size]
			elem := ScannedElement{
				Offset:        offset,
				Tag:           tag,
				SizeVintWidth: len(sizeVint),
				Payload:       payload,
			}
			if !yield(elem, nil) {
				return
			}
			consumed := len(tag) + len(sizeVint) + int(size)
			offset += consumed
			rest = afterSize[size:]
		}
	}
}

// ScannedFileElement is one element header discovered by ScanFile, with
// the element's payload located but not read.
type ScannedFileElement struct {
	Offset        int64
	Tag           []byte
	SizeVintWidth int
	DataOffset    int64
	PayloadSize   uint64
}

// ScanFile walks r starting at its current position (an io.ReadSeeker,
// typically *os.File), yielding element headers and advancing past
// each element's payload. If limit is non-zero, scanning stops once
// limit bytes have been consumed.
func ScanFile(r io.ReadSeeker, limit int64) func(yield func(ScannedFileElement, error) bool) {
	return func(yield func(ScannedFileElement, error) bool) {
		var consumed int64
		for limit == 0 || consumed < limit {
			offset, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				yield(ScannedFileElement{}, wrapf(ebmlerr.Read, "scan file", err))
				return
			}
			tag, err := ReadFromFile(r)
			if err != nil {
				if err == io.EOF || isEOFCause(err) {
					return
				}
				yield(ScannedFileElement{}, err)
				return
			}
			sizeVint, err := ReadFromFile(r)
			if err != nil {
				yield(ScannedFileElement{}, err)
				return
			}
			size, err := Decode(sizeVint)
			if err != nil {
				yield(ScannedFileElement{}, err)
				return
			}
			dataOffset, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				yield(ScannedFileElement{}, wrapf(ebmlerr.Read, "scan file", err))
				return
			}
			elem := ScannedFileElement{
				Offset:        offset,
				Tag:           tag,
				SizeVintWidth: len(sizeVint),
				DataOffset:    dataOffset,
				PayloadSize:   size,
			}
			if !yield(elem, nil) {
				return
			}
			if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
				yield(ScannedFileElement{}, wrapf(ebmlerr.Read, "scan file", err))
				return
			}
			consumed += int64(len(tag)) + int64(len(sizeVint)) + int64(size)
		}
	}
}

func isEOFCause(err error) bool {
	for err != nil {
		if err == io.EOF {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
