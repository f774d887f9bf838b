package ebml

import (
	"io"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// Well-known tags of the shipped EBML header schema. These are the
// values the EBML family of formats assigns to the header family;
// this module ships them as a concrete worked example and as the
// fixture its own document tests exercise against, not as a general
// document schema.
var (
	EBMLHeadTag           = []byte{0x1A, 0x45, 0xDF, 0xA3}
	EBMLVersionTag        = []byte{0x42, 0x86}
	EBMLReadVersionTag    = []byte{0x42, 0xF7}
	EBMLMaxIDLengthTag    = []byte{0x42, 0xF2}
	EBMLMaxSizeLengthTag  = []byte{0x42, 0xF3}
	DocTypeTag            = []byte{0x42, 0x82}
	DocTypeVersionTag     = []byte{0x42, 0x87}
	DocTypeReadVersionTag = []byte{0x42, 0x85}
)

// NewHeadSchema returns the schema of the shipped EBML header element.
// EBMLVersion, EBMLReadVersion, EBMLMaxIDLength and EBMLMaxSizeLength
// default to 1, 1, 4 and 8 respectively when absent,
// per the family's convention, but this schema marks none of them
// Required beyond DocType: a reader is expected to apply those
// defaults itself after decode, which NewHeadSchema's caller is
// responsible for (an external-schema concern, not this module's).
// The schema allows unknown tags: header extensions from newer format
// versions must not make an otherwise readable document undecodable.
// A caller that wants strict rejection clears AllowUnknown on its copy.
func NewHeadSchema() Schema {
	return Schema{
		AllowUnknown: true,
		Slots: []SlotDescriptor{
			{Tag: EBMLVersionTag, Name: "EBMLVersion", Kind: SlotUint},
			{Tag: EBMLReadVersionTag, Name: "EBMLReadVersion", Kind: SlotUint},
			{Tag: EBMLMaxIDLengthTag, Name: "EBMLMaxIDLength", Kind: SlotUint},
			{Tag: EBMLMaxSizeLengthTag, Name: "EBMLMaxSizeLength", Kind: SlotUint},
			{Tag: DocTypeTag, Name: "DocType", Kind: SlotString, Required: true},
			{Tag: DocTypeVersionTag, Name: "DocTypeVersion", Kind: SlotUint},
			{Tag: DocTypeReadVersionTag, Name: "DocTypeReadVersion", Kind: SlotUint},
		},
	}
}

// DefaultEBMLVersion, DefaultEBMLReadVersion, DefaultEBMLMaxIDLength and
// DefaultEBMLMaxSizeLength are the values the header family specifies
// when the corresponding slot is absent from the header element.
const (
	DefaultEBMLVersion       = 1
	DefaultEBMLReadVersion   = 1
	DefaultEBMLMaxIDLength   = 4
	DefaultEBMLMaxSizeLength = 8
)

// ReadHead decodes an EBML header element from the front of b, using
// expectedTag to distinguish a genuine format mismatch (ErrNoMatch,
// recoverable by a caller probing several possible document types)
// from a structurally invalid header (a decode error).
func ReadHead(b []byte, expectedTag []byte) (*Master, []byte, error) {
	head, rest, err := ReadHeadFromSlice(b, 0, expectedTag)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < head.Size {
		return nil, nil, wrapf(ebmlerr.UnexpectedEOD, "read head: payload", io.ErrUnexpectedEOF)
	}
	payload := rest[:head.Size]
	m, err := decodeMaster(head.Tag, payload, NewHeadSchema())
	if err != nil {
		return nil, nil, err
	}
	return m, rest[head.Size:], nil
}
