package ebml

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"time"
	"unicode/utf8"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// EpochEBML is the fixed epoch date values measure against: midnight,
// January 1st 2001, UTC.
var EpochEBML = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// VoidTag is the well-known one-byte tag for a Void filler element.
var VoidTag = []byte{0xEC}

// CRC32Tag is the well-known one-byte tag for a CRC32 leaf element.
var CRC32Tag = []byte{0xBF}

// Element is satisfied by every node in the tree: value leaves (this
// file) and master elements (master.go). It is the common currency
// master-element schema slots and the in-file manager's index hold.
type Element interface {
	// ElementTag returns the element's tag bytes, marker bit retained.
	ElementTag() []byte
	// EncodedSize returns the length Encode will produce.
	EncodedSize() uint64
	// Encode renders the element's payload (not including its own
	// tag/size header).
	Encode() ([]byte, error)
	// IsReadOnly reports whether structural mutation is forbidden.
	IsReadOnly() bool
	// Copy returns a deep, mutable clone: read-only flags are not
	// carried over, so a caller holding a read-only view edits its own
	// copy instead of the original.
	Copy() Element
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// minBytesUnsigned returns the minimum number of big-endian bytes
// needed to hold n, with 0 itself taking one byte.
func minBytesUnsigned(n uint64) int {
	if n == 0 {
		return 1
	}
	k := 0
	for tmp := n; tmp > 0; tmp >>= 8 {
		k++
	}
	return k
}

// EncodeUint renders n as the minimum-width big-endian unsigned integer.
func EncodeUint(n uint64) []byte {
	k := minBytesUnsigned(n)
	buf := make([]byte, k)
	v := n
	for i := k - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

// DecodeUint parses a big-endian unsigned integer of any width up to 8
// bytes. An empty payload decodes to 0, matching EBML's convention
// that an omitted value is its zero value.
func DecodeUint(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, newErr(ebmlerr.Decode, "unsigned integer payload wider than 8 bytes")
	}
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	return n, nil
}

// minBytesSigned returns the minimum number of big-endian two's
// complement bytes needed to hold n.
func minBytesSigned(n int64) int {
	k := 1
	if n >= 0 {
		for n >= int64(1)<<uint(8*k-1) {
			k++
		}
		return k
	}
	for n < -(int64(1) << uint(8*k-1)) {
		k++
	}
	return k
}

// EncodeInt renders n as the minimum-width big-endian two's complement
// signed integer.
func EncodeInt(n int64) []byte {
	k := minBytesSigned(n)
	buf := make([]byte, k)
	v := uint64(n)
	for i := k - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}

// DecodeInt parses a big-endian two's complement signed integer of any
// width up to 8 bytes, sign-extending from the payload's own width.
func DecodeInt(b []byte) (int64, error) {
	if len(b) > 8 {
		return 0, newErr(ebmlerr.Decode, "signed integer payload wider than 8 bytes")
	}
	if len(b) == 0 {
		return 0, nil
	}
	var n uint64
	for _, c := range b {
		n = n<<8 | uint64(c)
	}
	bits := uint(len(b) * 8)
	if bits < 64 && b[0]&0x80 != 0 {
		n |= ^uint64(0) << bits
	}
	return int64(n), nil
}

// EncodeFloat renders f as an 8-byte IEEE-754 big-endian double; the
// writer always emits 8 bytes even though Decode accepts 4.
func EncodeFloat(f float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(f))
	return buf
}

// DecodeFloat parses a 4-byte (single precision, widened) or 8-byte
// (double precision) IEEE-754 big-endian payload. A 4-byte payload is
// accepted on read but never produced by EncodeFloat; see DESIGN.md.
func DecodeFloat(b []byte) (float64, error) {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, newErr(ebmlerr.Decode, "float payload must be 4 or 8 bytes")
	}
}

// EncodeDate renders t as a fixed 8-byte signed nanosecond offset from
// EpochEBML.
func EncodeDate(t time.Time) []byte {
	d := t.Sub(EpochEBML)
	return encodeFixedInt64(int64(d))
}

// DecodeDate parses a fixed 8-byte signed nanosecond offset from
// EpochEBML.
func DecodeDate(b []byte) (time.Time, error) {
	if len(b) != 8 {
		return time.Time{}, newErr(ebmlerr.Decode, "date payload must be 8 bytes")
	}
	n := int64(binary.BigEndian.Uint64(b))
	return EpochEBML.Add(time.Duration(n)), nil
}

func encodeFixedInt64(n int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// EncodeString renders s as its UTF-8 byte form.
func EncodeString(s string) []byte {
	return []byte(s)
}

// DecodeString validates b as UTF-8 and returns it as a string.
func DecodeString(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", newErr(ebmlerr.Decode, "string payload is not valid UTF-8")
	}
	return string(b), nil
}

// ComputeCRC32 returns the 4-byte little-endian IEEE CRC32 of data,
// the form this library treats CRC32 elements' payload as taking.
func ComputeCRC32(data []byte) []byte {
	sum := crc32.ChecksumIEEE(data)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, sum)
	return buf
}

// leaf is the shared bookkeeping every concrete value-element type
// embeds: tag identity and the read-only flag.
type leaf struct {
	tag      []byte
	readOnly bool
}

func (l *leaf) ElementTag() []byte  { return l.tag }
func (l *leaf) IsReadOnly() bool    { return l.readOnly }
func (l *leaf) SetReadOnly(ro bool) { l.readOnly = ro }

// BytesElement is a leaf holding an opaque byte payload verbatim; it
// is also the fallback representation for unrecognized child tags
// when a master element's schema has AllowUnknown set.
type BytesElement struct {
	leaf
	Value []byte
}

// NewBytesElement constructs a bytes leaf with the given tag and value.
func NewBytesElement(tag []byte, value []byte) *BytesElement {
	return &BytesElement{leaf: leaf{tag: tag}, Value: value}
}

func (e *BytesElement) EncodedSize() uint64 { return uint64(len(e.Value)) }
func (e *BytesElement) Encode() ([]byte, error) {
	out := make([]byte, len(e.Value))
	copy(out, e.Value)
	return out, nil
}

func (e *BytesElement) Copy() Element {
	return NewBytesElement(cloneBytes(e.tag), cloneBytes(e.Value))
}

// DecodeBytesElement constructs a BytesElement from a decoded payload.
func DecodeBytesElement(tag []byte, payload []byte) (*BytesElement, error) {
	return NewBytesElement(tag, payload), nil
}

// StringElement is a leaf holding a UTF-8 string.
type StringElement struct {
	leaf
	Value string
}

func NewStringElement(tag []byte, value string) *StringElement {
	return &StringElement{leaf: leaf{tag: tag}, Value: value}
}

func (e *StringElement) EncodedSize() uint64 { return uint64(len(e.Value)) }
func (e *StringElement) Encode() ([]byte, error) {
	return EncodeString(e.Value), nil
}

func (e *StringElement) Copy() Element {
	return NewStringElement(cloneBytes(e.tag), e.Value)
}

func DecodeStringElement(tag []byte, payload []byte) (*StringElement, error) {
	s, err := DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return NewStringElement(tag, s), nil
}

// UintElement is a leaf holding an unsigned integer, minimum-width encoded.
type UintElement struct {
	leaf
	Value uint64
}

func NewUintElement(tag []byte, value uint64) *UintElement {
	return &UintElement{leaf: leaf{tag: tag}, Value: value}
}

func (e *UintElement) EncodedSize() uint64 { return uint64(minBytesUnsigned(e.Value)) }
func (e *UintElement) Encode() ([]byte, error) {
	return EncodeUint(e.Value), nil
}

func (e *UintElement) Copy() Element {
	return NewUintElement(cloneBytes(e.tag), e.Value)
}

func DecodeUintElement(tag []byte, payload []byte) (*UintElement, error) {
	v, err := DecodeUint(payload)
	if err != nil {
		return nil, err
	}
	return NewUintElement(tag, v), nil
}

// IntElement is a leaf holding a signed integer, minimum-width encoded.
type IntElement struct {
	leaf
	Value int64
}

func NewIntElement(tag []byte, value int64) *IntElement {
	return &IntElement{leaf: leaf{tag: tag}, Value: value}
}

func (e *IntElement) EncodedSize() uint64 { return uint64(minBytesSigned(e.Value)) }
func (e *IntElement) Encode() ([]byte, error) {
	return EncodeInt(e.Value), nil
}

func (e *IntElement) Copy() Element {
	return NewIntElement(cloneBytes(e.tag), e.Value)
}

func DecodeIntElement(tag []byte, payload []byte) (*IntElement, error) {
	v, err := DecodeInt(payload)
	if err != nil {
		return nil, err
	}
	return NewIntElement(tag, v), nil
}

// FloatElement is a leaf holding a floating-point value, always
// written as 8 bytes.
type FloatElement struct {
	leaf
	Value float64
}

func NewFloatElement(tag []byte, value float64) *FloatElement {
	return &FloatElement{leaf: leaf{tag: tag}, Value: value}
}

func (e *FloatElement) EncodedSize() uint64 { return 8 }
func (e *FloatElement) Encode() ([]byte, error) {
	return EncodeFloat(e.Value), nil
}

func (e *FloatElement) Copy() Element {
	return NewFloatElement(cloneBytes(e.tag), e.Value)
}

func DecodeFloatElement(tag []byte, payload []byte) (*FloatElement, error) {
	v, err := DecodeFloat(payload)
	if err != nil {
		return nil, err
	}
	return NewFloatElement(tag, v), nil
}

// DateElement is a leaf holding a timestamp relative to EpochEBML,
// always written as 8 bytes.
type DateElement struct {
	leaf
	Value time.Time
}

func NewDateElement(tag []byte, value time.Time) *DateElement {
	return &DateElement{leaf: leaf{tag: tag}, Value: value}
}

func (e *DateElement) EncodedSize() uint64 { return 8 }
func (e *DateElement) Encode() ([]byte, error) {
	return EncodeDate(e.Value), nil
}

func (e *DateElement) Copy() Element {
	return NewDateElement(cloneBytes(e.tag), e.Value)
}

func DecodeDateElement(tag []byte, payload []byte) (*DateElement, error) {
	v, err := DecodeDate(payload)
	if err != nil {
		return nil, err
	}
	return NewDateElement(tag, v), nil
}

// VoidElement is a filler leaf: payload bytes are ignored on read; on
// write it emits Size zero bytes (or, when writing directly to a
// seekable file, the caller may seek Size bytes forward instead,
// leaving a sparse hole — see internal/infile).
type VoidElement struct {
	leaf
	Size uint64
}

// NewVoidElement constructs a Void filler of the given payload size.
func NewVoidElement(size uint64) *VoidElement {
	return &VoidElement{leaf: leaf{tag: VoidTag}, Size: size}
}

func (e *VoidElement) EncodedSize() uint64 { return e.Size }
func (e *VoidElement) Encode() ([]byte, error) {
	return make([]byte, e.Size), nil
}

func (e *VoidElement) Copy() Element { return NewVoidElement(e.Size) }

// DecodeVoidElement constructs a VoidElement from a scanned region;
// the payload bytes themselves are discarded. Void content is never
// meaningful on read, whatever the file happens to hold there.
func DecodeVoidElement(payload []byte) *VoidElement {
	return NewVoidElement(uint64(len(payload)))
}

// CRC32Element is an opaque 4-byte leaf; this library treats it as a
// plain byte payload and does not validate it against sibling
// content — any higher-layer validator is an external collaborator.
type CRC32Element struct {
	leaf
	Value [4]byte
}

func NewCRC32Element(value [4]byte) *CRC32Element {
	return &CRC32Element{leaf: leaf{tag: CRC32Tag}, Value: value}
}

func (e *CRC32Element) EncodedSize() uint64 { return 4 }
func (e *CRC32Element) Encode() ([]byte, error) {
	out := make([]byte, 4)
	copy(out, e.Value[:])
	return out, nil
}

func (e *CRC32Element) Copy() Element { return NewCRC32Element(e.Value) }

func DecodeCRC32Element(payload []byte) (*CRC32Element, error) {
	if len(payload) != 4 {
		return nil, newErr(ebmlerr.Decode, "CRC32 payload must be 4 bytes")
	}
	var v [4]byte
	copy(v[:], payload)
	return NewCRC32Element(v), nil
}
