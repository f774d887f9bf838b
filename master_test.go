package ebml

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// minimalDocument is the 16-byte EBML header carrying EBMLVersion=1
// and DocType="test".
var minimalDocument = []byte{
	0x1A, 0x45, 0xDF, 0xA3, 0x8B,
	0x42, 0x86, 0x81, 0x01,
	0x42, 0x82, 0x84, 0x74, 0x65, 0x73, 0x74,
}

func TestDecodeMinimalDocument(t *testing.T) {
	head, rest, err := ReadHead(minimalDocument, EBMLHeadTag)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, EBMLHeadTag, head.ElementTag())
	require.Len(t, head.Children(), 2)

	version, ok := head.FindFirst(EBMLVersionTag).(*UintElement)
	require.True(t, ok)
	require.Equal(t, uint64(1), version.Value)

	docType, ok := head.FindFirst(DocTypeTag).(*StringElement)
	require.True(t, ok)
	require.Equal(t, "test", docType.Value)
}

func TestReadHead_WrongRootTag(t *testing.T) {
	_, _, err := ReadHead(minimalDocument, []byte{0xA1})
	require.True(t, errors.Is(err, ErrNoMatch))
}

func TestDecodeMaster_MissingRequiredSlot(t *testing.T) {
	// EBMLVersion only; DocType is required by the head schema.
	payload := []byte{0x42, 0x86, 0x81, 0x01}

	_, err := decodeMaster(EBMLHeadTag, payload, NewHeadSchema())
	require.True(t, errors.Is(err, ErrDecode))
	require.Contains(t, err.Error(), "DocType")
}

func TestDecodeMaster_DuplicateSingletonSlot(t *testing.T) {
	payload := []byte{
		0x42, 0x82, 0x84, 0x74, 0x65, 0x73, 0x74,
		0x42, 0x82, 0x84, 0x74, 0x65, 0x73, 0x74,
	}

	_, err := decodeMaster(EBMLHeadTag, payload, NewHeadSchema())
	require.True(t, errors.Is(err, ErrDecode))
	require.Contains(t, err.Error(), "duplicate")
}

func TestDecodeMaster_UnknownTag(t *testing.T) {
	payload := []byte{
		0x42, 0x82, 0x84, 0x74, 0x65, 0x73, 0x74,
		0xA7, 0x81, 0x2A, // not in the head schema
	}

	strict := NewHeadSchema()
	strict.AllowUnknown = false
	_, err := decodeMaster(EBMLHeadTag, payload, strict)
	require.True(t, errors.Is(err, ErrDecode))

	m, err := decodeMaster(EBMLHeadTag, payload, NewHeadSchema())
	require.NoError(t, err)
	unknown, ok := m.FindFirst([]byte{0xA7}).(*BytesElement)
	require.True(t, ok, "unknown child retained as opaque bytes")
	require.Equal(t, []byte{0x2A}, unknown.Value)
}

// TestDecodeMaster_VoidAndCRCPassAlways checks that fillers and
// checksums decode inside any master regardless of schema strictness.
func TestDecodeMaster_VoidAndCRCPassAlways(t *testing.T) {
	payload := []byte{
		0x42, 0x82, 0x84, 0x74, 0x65, 0x73, 0x74,
		0xEC, 0x82, 0x00, 0x00,
		0xBF, 0x84, 0x01, 0x02, 0x03, 0x04,
	}

	strict := NewHeadSchema()
	strict.AllowUnknown = false
	m, err := decodeMaster(EBMLHeadTag, payload, strict)
	require.NoError(t, err)
	require.Len(t, m.Children(), 3)

	void, ok := m.Children()[1].(*VoidElement)
	require.True(t, ok)
	require.Equal(t, uint64(2), void.Size)

	crc, ok := m.Children()[2].(*CRC32Element)
	require.True(t, ok)
	require.Equal(t, [4]byte{1, 2, 3, 4}, crc.Value)
}

// TestMasterRoundTrip asserts encode(decode(B)) == B for a payload
// mixing schema slots, unknown tags and a zero-payload Void.
func TestMasterRoundTrip(t *testing.T) {
	payload := []byte{
		0x42, 0x86, 0x81, 0x01,
		0xEC, 0x80,
		0x42, 0x82, 0x84, 0x74, 0x65, 0x73, 0x74,
		0xA7, 0x83, 0x01, 0x02, 0x03,
	}

	m, err := decodeMaster(EBMLHeadTag, payload, NewHeadSchema())
	require.NoError(t, err)

	out, err := m.Encode()
	require.NoError(t, err)
	if diff := cmp.Diff(payload, out); diff != "" {
		t.Fatalf("round-trip mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, uint64(len(payload)), m.EncodedSize())
}

func TestDecodeMaster_NestedSchema(t *testing.T) {
	nested := Schema{Slots: []SlotDescriptor{
		{Tag: []byte{0xB1}, Name: "Inner", Kind: SlotUint, Required: true},
	}}
	schema := Schema{Slots: []SlotDescriptor{
		{Tag: []byte{0xA0}, Name: "Group", Kind: SlotMaster, Nested: nested},
	}}

	payload := []byte{0xA0, 0x84, 0xB1, 0x82, 0x01, 0x00}
	m, err := decodeMaster([]byte{0xE0}, payload, schema)
	require.NoError(t, err)

	group, ok := m.FindFirst([]byte{0xA0}).(*Master)
	require.True(t, ok)
	require.Equal(t, m, group.Parent())

	inner, ok := group.FindFirst([]byte{0xB1}).(*UintElement)
	require.True(t, ok)
	require.Equal(t, uint64(256), inner.Value)
}

// TestDecodeMaster_UnknownTagInNestedMaster checks the unknown-tag
// policy is honored per nested schema, independently of the outer
// element's own policy.
func TestDecodeMaster_UnknownTagInNestedMaster(t *testing.T) {
	// The nested payload holds one known child and one tag (0xA7) the
	// nested schema does not name.
	payload := []byte{
		0xA0, 0x86,
		0xB1, 0x81, 0x07,
		0xA7, 0x81, 0x2A,
	}
	innerSlots := []SlotDescriptor{
		{Tag: []byte{0xB1}, Name: "Inner", Kind: SlotUint},
	}

	// Strict nested schema: the unknown tag fails the whole decode,
	// even though the outer schema is lenient.
	strict := Schema{
		AllowUnknown: true,
		Slots: []SlotDescriptor{
			{Tag: []byte{0xA0}, Name: "Group", Kind: SlotMaster, Nested: Schema{Slots: innerSlots}},
		},
	}
	_, err := decodeMaster([]byte{0xE0}, payload, strict)
	require.True(t, errors.Is(err, ErrDecode))

	// Lenient nested schema: the unknown child survives as opaque
	// bytes inside the nested master.
	lenient := Schema{Slots: []SlotDescriptor{
		{Tag: []byte{0xA0}, Name: "Group", Kind: SlotMaster, Nested: Schema{AllowUnknown: true, Slots: innerSlots}},
	}}
	m, err := decodeMaster([]byte{0xE0}, payload, lenient)
	require.NoError(t, err)

	group, ok := m.FindFirst([]byte{0xA0}).(*Master)
	require.True(t, ok)
	unknown, ok := group.FindFirst([]byte{0xA7}).(*BytesElement)
	require.True(t, ok, "unknown child kept inside the nested master")
	require.Equal(t, []byte{0x2A}, unknown.Value)
}

func TestMaster_AddRemoveFind(t *testing.T) {
	m := NewMaster([]byte{0xE0}, Schema{AllowUnknown: true})

	a := NewUintElement([]byte{0xB1}, 7)
	b := NewUintElement([]byte{0xB1}, 8)
	c := NewStringElement([]byte{0xB2}, "x")
	require.NoError(t, m.AddChild(a))
	require.NoError(t, m.AddChild(b))
	require.NoError(t, m.AddChild(c))

	require.Equal(t, a, m.FindFirst([]byte{0xB1}))
	require.Len(t, m.FindAll([]byte{0xB1}), 2)

	removed, err := m.RemoveChild(a)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, b, m.FindFirst([]byte{0xB1}))

	removed, err = m.RemoveChild(a)
	require.NoError(t, err)
	require.False(t, removed, "second removal finds nothing")
}

func TestMaster_ReadOnlyPropagation(t *testing.T) {
	m, err := decodeMaster(EBMLHeadTag, minimalDocument[5:], NewHeadSchema())
	require.NoError(t, err)

	m.SetReadOnly(true)
	require.True(t, m.IsReadOnly())
	for _, c := range m.Children() {
		require.True(t, c.IsReadOnly(), "read-only must reach the whole subtree")
	}

	err = m.AddChild(NewUintElement([]byte{0xB1}, 1))
	require.True(t, errors.Is(err, ErrWrite))
	_, err = m.RemoveChild(m.Children()[0])
	require.True(t, errors.Is(err, ErrWrite))
}

func TestMaster_CopyIsDeepAndMutable(t *testing.T) {
	orig, err := decodeMaster(EBMLHeadTag, minimalDocument[5:], NewHeadSchema())
	require.NoError(t, err)
	orig.SetReadOnly(true)

	cp := orig.Copy().(*Master)
	require.False(t, cp.IsReadOnly())
	require.Nil(t, cp.Parent())
	require.NoError(t, cp.AddChild(NewUintElement(DocTypeVersionTag, 2)))
	require.Len(t, orig.Children(), 2, "editing the copy must not touch the original")

	// The original still encodes to its original bytes after the extra
	// child was appended to the copy.
	origBytes, err := orig.Encode()
	require.NoError(t, err)
	require.Equal(t, minimalDocument[5:], origBytes)
}
