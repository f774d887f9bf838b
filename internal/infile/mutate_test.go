package infile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

// rootDataOffset is where the test root's payload begins: a 1-byte tag
// plus an 8-byte size vint.
const rootDataOffset = 9

// TestAddThenRemove_PreservesInvariants is the write-then-remove
// scenario: two children with a 2-byte Void between them, then the
// first is removed and the vacated span merges into one Void filler.
func TestAddThenRemove_PreservesInvariants(t *testing.T) {
	ctx := context.Background()
	m, path := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 22))

	// Each child is 10 bytes total: 1 tag + 1 size vint + 8 payload.
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("01234567")))
	require.NoError(t, m.AddLeaf(ctx, 12, testLeafTag, []byte("89abcdef")))

	b := readBack(t, path)
	require.Equal(t, byte(0xEC), b[rootDataOffset+10], "2-byte Void between the children")
	require.Equal(t, byte(0x80), b[rootDataOffset+11])

	require.NoError(t, m.RemoveChild(ctx, 0))

	b = readBack(t, path)
	require.Equal(t, byte(0xEC), b[rootDataOffset+0], "single Void spans the whole vacated prefix")
	require.Equal(t, byte(0x8A), b[rootDataOffset+1], "payload 10 covers offsets 0-12")

	require.Equal(t, int64(22), m.DataSize(), "removal leaves the declared size unchanged")
	var offsets []int64
	for c, err := range m.IterChildren(ctx) {
		require.NoError(t, err)
		offsets = append(offsets, c.Offset)
	}
	require.Equal(t, []int64{12}, offsets)
}

func TestRemoveChild_MergesNeighborGaps(t *testing.T) {
	ctx := context.Background()
	m, path := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 40))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("01234567")))
	require.NoError(t, m.AddLeaf(ctx, 20, testLeafTag, []byte("89abcdef")))

	require.NoError(t, m.RemoveChild(ctx, 20))

	// Gap 10-20 (old filler), the vacated 20-30 and the trailing 30-40
	// merge into one Void spanning 10-40.
	b := readBack(t, path)
	require.Equal(t, byte(0xEC), b[rootDataOffset+10])
	require.Equal(t, byte(0x80|28), b[rootDataOffset+11])
}

func TestRemoveChild_UnknownOffset(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	err := m.RemoveChild(ctx, 3)
	require.True(t, errors.Is(err, ebmlerr.ErrWrite))
}

func TestAddLeaf_LayoutChecks(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	// No room before the element has been grown.
	err := m.AddLeaf(ctx, 0, testLeafTag, []byte("x"))
	require.True(t, errors.Is(err, ebmlerr.ErrWrite))

	require.NoError(t, m.Resize(ctx, 30))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("01234567")))

	tests := []struct {
		name    string
		offset  int64
		payload []byte
	}{
		{"overlaps predecessor", 5, []byte("x")},
		{"one-byte gap before", 11, []byte("x")},
		{"one-byte gap at tail", 24, []byte("xxx")}, // ends at 29, payload is 30
		{"out of bounds", 28, []byte("xxx")},
		{"negative offset", -1, []byte("x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.AddLeaf(ctx, tt.offset, testLeafTag, tt.payload)
			require.True(t, errors.Is(err, ebmlerr.ErrWrite))
			require.False(t, m.CanAddLeaf(tt.offset, testLeafTag, tt.payload))
		})
	}

	require.True(t, m.CanAddLeaf(12, testLeafTag, []byte("x")))
}

func TestAddLeaf_OffsetOneForbidden(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 30))
	err := m.AddLeaf(ctx, 1, testLeafTag, []byte("x"))
	require.True(t, errors.Is(err, ebmlerr.ErrWrite), "offset 1 leaves no room for a leading Void")
}

// TestMoveChild_PhysicalCopy moves a child rightward and checks the
// vacated region is re-voided, the index is updated, and a re-run at
// the same offset is a no-op.
func TestMoveChild_PhysicalCopy(t *testing.T) {
	ctx := context.Background()
	m, path := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 64))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("01234567")))

	require.True(t, m.CanMoveChild(0, 32))
	require.NoError(t, m.MoveChild(ctx, 0, 32))

	c, err := m.GetChild(ctx, 32)
	require.NoError(t, err)
	require.Equal(t, []byte("01234567"), c.Payload)
	require.Equal(t, int64(32), c.Offset)

	_, err = m.GetChild(ctx, 0)
	require.Error(t, err, "old offset is no longer indexed")

	b := readBack(t, path)
	require.Equal(t, byte(0xEC), b[rootDataOffset+0], "vacated prefix voided")
	require.Equal(t, byte(0x80|30), b[rootDataOffset+1], "Void spans 0-32")
	require.Equal(t, byte(0xEC), b[rootDataOffset+42], "trailing gap voided")
	require.Equal(t, byte(0x80|20), b[rootDataOffset+43], "Void spans 42-64")

	// Moving to the current offset is a no-op.
	require.NoError(t, m.MoveChild(ctx, 32, 32))
	c, err = m.GetChild(ctx, 32)
	require.NoError(t, err)
	require.Equal(t, []byte("01234567"), c.Payload)
}

// TestMoveChild_OverlappingRegions exercises both copy directions on
// source and destination ranges that overlap.
func TestMoveChild_OverlappingRegions(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 64))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("0123456789abcdef")))

	// Forward move: [0,18) to [8,26).
	require.NoError(t, m.MoveChild(ctx, 0, 8))
	c, err := m.GetChild(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789abcdef"), c.Payload)

	// Backward move: [8,26) to [2,20).
	require.NoError(t, m.MoveChild(ctx, 8, 2))
	c, err = m.GetChild(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789abcdef"), c.Payload)
}

func TestMoveChild_LayoutChecks(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 40))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("01234567")))
	require.NoError(t, m.AddLeaf(ctx, 12, testLeafTag, []byte("89abcdef")))

	require.False(t, m.CanMoveChild(12, 5), "would overlap the first child")
	require.False(t, m.CanMoveChild(12, 11), "one-byte gap after the first child")
	require.False(t, m.CanMoveChild(12, 35), "runs past the payload end")

	err := m.MoveChild(ctx, 3, 20)
	require.True(t, errors.Is(err, ebmlerr.ErrWrite), "no child at source offset")
}

// TestMoveChild_UpdatesHydratedHandles checks a live hydrated child
// follows the move, including a sub-master's own offsetInParent.
func TestMoveChild_UpdatesHydratedHandles(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 96))
	sub, err := m.AddMaster(ctx, 0, testMasterTag, 8, 16)
	require.NoError(t, err)
	require.NoError(t, sub.AddLeaf(ctx, 0, testLeafTag, []byte("zz")))

	// Sub-master total: 1 tag + 8 size vint + 16 payload = 25 bytes.
	require.NoError(t, m.MoveChild(ctx, 0, 32))
	require.Equal(t, int64(32), sub.OffsetInParent())

	inner, err := sub.GetChild(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("zz"), inner.Payload, "sub-master reads through its moved offset")
}
