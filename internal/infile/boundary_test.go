package infile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindFree(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 64))
	require.NoError(t, m.AddLeaf(ctx, 10, testLeafTag, []byte("01234567")))
	require.NoError(t, m.AddLeaf(ctx, 40, testLeafTag, []byte("89abcdef")))

	tests := []struct {
		name   string
		size   int64
		start  int64
		want   int64
		wantOK bool
	}{
		{"exact fit in leading gap", 10, 0, 0, true},
		{"fit with room for a filler", 8, 0, 0, true},
		{"leading gap would leave one byte", 9, 0, 20, true},
		{"skip to middle gap", 18, 0, 20, true},
		{"middle gap would leave one byte", 19, 0, 0, false},
		{"exact fit in middle gap", 20, 0, 20, true},
		{"start inside leading gap", 8, 2, 2, true},
		{"start one forbidden", 8, 1, 2, true},
		{"nothing fits", 40, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, ok := m.FindFree(tt.size, tt.start)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				require.Equal(t, tt.want, off)
			}
		})
	}
}

func TestFindFree_TailGap(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 64))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("01234567")))

	off, ok := m.FindFree(54, 0)
	require.True(t, ok)
	require.Equal(t, int64(10), off, "tail gap fits exactly")

	_, ok = m.FindFree(53, 0)
	require.False(t, ok, "one byte would remain at the tail")
}

func TestFindOpenBoundary(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	bs := m.BlockSize()
	require.Greater(t, bs, int64(rootDataOffset))
	require.NoError(t, m.Resize(ctx, 3*bs))

	// With no children the first block boundary inside the payload wins.
	off, ok := m.FindOpenBoundary(0)
	require.True(t, ok)
	require.Equal(t, bs-rootDataOffset, off)
	require.Equal(t, int64(0), (rootDataOffset+off)%bs)

	// A child covering that boundary pushes the search to the next one.
	require.NoError(t, m.AddLeaf(ctx, bs-rootDataOffset-5, testLeafTag, []byte("01234567")))
	off, ok = m.FindOpenBoundary(0)
	require.True(t, ok)
	require.Equal(t, 2*bs-rootDataOffset, off)

	// Past the payload end nothing is found.
	_, ok = m.FindOpenBoundary(3*bs - 1)
	require.False(t, ok)
}

func TestRFindOpenBoundary(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	bs := m.BlockSize()
	require.NoError(t, m.Resize(ctx, 3*bs))

	// Nil start: first boundary at or after the end of the last child.
	off, ok := m.RFindOpenBoundary(nil)
	require.True(t, ok)
	require.Equal(t, bs-rootDataOffset, off)

	// Explicit start rounds down to the boundary below it.
	start := 2*bs + 5
	off, ok = m.RFindOpenBoundary(&start)
	require.True(t, ok)
	require.Equal(t, 2*bs-rootDataOffset, off)
	require.Equal(t, int64(0), (rootDataOffset+off)%bs)
}

func TestLastChildEnd(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.Equal(t, int64(0), m.LastChildEnd())

	require.NoError(t, m.Resize(ctx, 64))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("01234567")))
	require.NoError(t, m.AddLeaf(ctx, 20, testLeafTag, []byte("89abcdef")))
	require.Equal(t, int64(30), m.LastChildEnd())
}

// TestQuickTrim compacts small children leftward and shrinks the
// element to the first open boundary past the last survivor.
func TestQuickTrim(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	bs := m.BlockSize()
	require.NoError(t, m.Resize(ctx, 3*bs))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("01234567")))
	require.NoError(t, m.AddLeaf(ctx, 1000, testLeafTag, []byte("89abcdef")))

	require.NoError(t, m.QuickTrim(ctx, 100))

	var offsets []int64
	var payloads []string
	for c, err := range m.IterChildren(ctx) {
		require.NoError(t, err)
		offsets = append(offsets, c.Offset)
		payloads = append(payloads, string(c.Payload))
	}
	require.Equal(t, []int64{0, 10}, offsets, "second child moved left against the first")
	require.Equal(t, []string{"01234567", "89abcdef"}, payloads)

	require.Less(t, m.DataSize(), 3*bs, "trim shrank the element")
	require.GreaterOrEqual(t, m.DataSize(), m.LastChildEnd())
}
