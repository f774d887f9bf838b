package ebml

import "github.com/go-ebml/ebml/internal/ebmlerr"

// Master is an in-memory master element: an ordered list of children,
// each either a value leaf or another Master, validated against a
// Schema. Master implements Element so it can appear as a child of
// another Master.
type Master struct {
	leaf
	schema   Schema
	children []Element
	parent   *Master
}

// NewMaster constructs an empty master element bound to schema. The
// schema carries the element's unknown-tag policy: with AllowUnknown
// false, decodeMaster rejects any child tag the slots don't name; with
// it true, unrecognized children are kept as opaque BytesElement
// leaves so round-tripping never silently drops data.
func NewMaster(tag []byte, schema Schema) *Master {
	return &Master{leaf: leaf{tag: tag}, schema: schema}
}

// SetReadOnly marks this element and its entire subtree read-only, or
// mutable again. A read-only master forbids structural mutation of
// everything beneath it; use Copy to obtain an editable clone.
func (m *Master) SetReadOnly(ro bool) {
	m.readOnly = ro
	for _, c := range m.children {
		if s, ok := c.(interface{ SetReadOnly(bool) }); ok {
			s.SetReadOnly(ro)
		}
	}
}

// Copy returns a deep, mutable clone of the subtree. The clone's
// parent link is nil and every read-only flag is cleared.
func (m *Master) Copy() Element {
	out := NewMaster(cloneBytes(m.tag), m.schema)
	for _, c := range m.children {
		cc := c.Copy()
		if mc, ok := cc.(*Master); ok {
			mc.parent = out
		}
		out.children = append(out.children, cc)
	}
	return out
}

// Parent returns the enclosing master element, or nil at the root.
// The link is a non-owning back-reference: removing a child clears
// its parent but the child's own lifetime is governed solely by
// whoever holds a reference to it.
func (m *Master) Parent() *Master { return m.parent }

// Children returns the element's children in document order. The
// returned slice is owned by Master; callers must not mutate it
// directly, only through AddChild/RemoveChild.
func (m *Master) Children() []Element { return m.children }

// FindFirst returns the first child whose tag equals tag, or nil.
func (m *Master) FindFirst(tag []byte) Element {
	for _, c := range m.children {
		if bytesEqual(c.ElementTag(), tag) {
			return c
		}
	}
	return nil
}

// FindAll returns every child whose tag equals tag, in document order.
func (m *Master) FindAll(tag []byte) []Element {
	var out []Element
	for _, c := range m.children {
		if bytesEqual(c.ElementTag(), tag) {
			out = append(out, c)
		}
	}
	return out
}

// AddChild appends child, binding its parent back-reference to m. It
// does not enforce the schema's Required/Multiple constraints; those
// are checked wholesale by decodeMaster on decode and are the caller's
// responsibility to maintain when building a tree by hand.
func (m *Master) AddChild(child Element) error {
	if m.readOnly {
		return newErr(ebmlerr.Write, "add child: master element is read-only")
	}
	if mc, ok := child.(*Master); ok {
		mc.parent = m
	}
	m.children = append(m.children, child)
	return nil
}

// RemoveChild removes the first child identical to child, clearing
// its parent back-reference. It reports whether a child was removed.
func (m *Master) RemoveChild(child Element) (bool, error) {
	if m.readOnly {
		return false, newErr(ebmlerr.Write, "remove child: master element is read-only")
	}
	for i, c := range m.children {
		if c == child {
			if mc, ok := c.(*Master); ok {
				mc.parent = nil
			}
			m.children = append(m.children[:i], m.children[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// EncodedSize is the sum of every child's own header and payload size.
func (m *Master) EncodedSize() uint64 {
	var total uint64
	for _, c := range m.children {
		headW, _ := SizeOf(c.EncodedSize())
		total += uint64(len(c.ElementTag())) + uint64(headW) + c.EncodedSize()
	}
	return total
}

// Encode renders every child in document order as tag‖size‖payload,
// concatenated.
func (m *Master) Encode() ([]byte, error) {
	out := make([]byte, 0, m.EncodedSize())
	for _, c := range m.children {
		head, err := WriteHead(c.ElementTag(), c.EncodedSize(), 0)
		if err != nil {
			return nil, wrapf(ebmlerr.Encode, "encode master: child header", err)
		}
		payload, err := c.Encode()
		if err != nil {
			return nil, wrapf(ebmlerr.Encode, "encode master: child payload", err)
		}
		if uint64(len(payload)) != c.EncodedSize() {
			return nil, newErr(ebmlerr.Encode, "encode master: child payload length disagrees with EncodedSize")
		}
		out = append(out, head...)
		out = append(out, payload...)
	}
	return out, nil
}

// decodeMaster parses payload as a sequence of children validated
// against schema, returning a populated Master. Slots marked Required
// with no matching child, and a second match of a Multiple=false slot,
// both fail with a decode error: duplicate singleton slots are
// rejected rather than silently keeping the last one. Unrecognized
// tags are kept or rejected per schema.AllowUnknown; nested masters
// apply their own slot's Nested schema policy.
func decodeMaster(tag []byte, payload []byte, schema Schema) (*Master, error) {
	m := NewMaster(tag, schema)
	seen := make(map[string]int, len(schema.Slots))

	for elem, err := range ScanElements(payload) {
		if err != nil {
			return nil, wrapf(ebmlerr.Decode, "decode master: scan children", err)
		}
		slot, ok := schema.find(elem.Tag)
		if !ok {
			// Void and CRC32 pass unconditionally, schema or no schema:
			// fillers and checksums may appear inside any master element.
			if bytesEqual(elem.Tag, VoidTag) {
				m.children = append(m.children, DecodeVoidElement(elem.Payload))
				continue
			}
			if bytesEqual(elem.Tag, CRC32Tag) {
				child, derr := DecodeCRC32Element(elem.Payload)
				if derr != nil {
					return nil, derr
				}
				m.children = append(m.children, child)
				continue
			}
			if !schema.AllowUnknown {
				return nil, newErr(ebmlerr.Decode, "decode master: unrecognized child tag "+hexBytes(elem.Tag))
			}
			child, derr := DecodeBytesElement(elem.Tag, elem.Payload)
			if derr != nil {
				return nil, derr
			}
			m.children = append(m.children, child)
			continue
		}

		seen[slot.Name]++
		if !slot.Multiple && seen[slot.Name] > 1 {
			return nil, newErr(ebmlerr.Decode, "decode master: duplicate singleton child "+slot.Name)
		}

		child, derr := decodeSlot(slot, elem.Tag, elem.Payload)
		if derr != nil {
			return nil, derr
		}
		if mc, ok := child.(*Master); ok {
			mc.parent = m
		}
		m.children = append(m.children, child)
	}

	for _, slot := range schema.Slots {
		if slot.Required && seen[slot.Name] == 0 {
			return nil, newErr(ebmlerr.Decode, "decode master: missing required child "+slot.Name)
		}
	}

	return m, nil
}

func decodeSlot(slot SlotDescriptor, tag []byte, payload []byte) (Element, error) {
	switch slot.Kind {
	case SlotBytes:
		return DecodeBytesElement(tag, payload)
	case SlotString:
		return DecodeStringElement(tag, payload)
	case SlotUint:
		return DecodeUintElement(tag, payload)
	case SlotInt:
		return DecodeIntElement(tag, payload)
	case SlotFloat:
		return DecodeFloatElement(tag, payload)
	case SlotDate:
		return DecodeDateElement(tag, payload)
	case SlotVoid:
		return DecodeVoidElement(payload), nil
	case SlotCRC32:
		return DecodeCRC32Element(payload)
	case SlotMaster:
		return decodeMaster(tag, payload, slot.Nested)
	default:
		return nil, newErr(ebmlerr.Decode, "decode master: slot "+slot.Name+" has unknown kind")
	}
}
