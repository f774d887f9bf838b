package infile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-ebml/ebml/internal/ebmlerr"
)

var (
	testRootTag   = []byte{0xE0}
	testLeafTag   = []byte{0xA1}
	testMasterTag = []byte{0xA0}
)

// masterTagResolver marks 0xA0 as the only nested-master tag, standing
// in for the external schema collaborator.
type masterTagResolver struct{}

func (masterTagResolver) IsMaster(tag []byte) bool {
	return len(tag) == 1 && tag[0] == 0xA0
}

// newTestRoot creates a fresh root-in-file master with an 8-byte size
// vint, returning the manager and the backing file's path for raw byte
// inspection.
func newTestRoot(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "root.ebml")
	m, err := Open(path, ModeCreate, 0, testRootTag, 8, masterTagResolver{})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, path
}

func readBack(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func TestOpen_CreateWritesHeader(t *testing.T) {
	m, path := newTestRoot(t)
	require.Equal(t, int64(0), m.DataSize())
	require.Equal(t, 8, m.SizeVintWidth())

	b := readBack(t, path)
	require.Equal(t, []byte{0xE0, 0x01, 0, 0, 0, 0, 0, 0, 0}, b)
}

func TestOpen_ReattachScansChildren(t *testing.T) {
	ctx := context.Background()
	m, path := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 30))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("hello")))
	require.NoError(t, m.AddLeaf(ctx, 10, testLeafTag, []byte("world")))
	require.NoError(t, m.Close())

	m2, err := Open(path, ModeReadWrite, 0, testRootTag, 0, masterTagResolver{})
	require.NoError(t, err)
	defer m2.Close()

	require.Equal(t, int64(30), m2.DataSize())
	require.Equal(t, 8, m2.SizeVintWidth(), "width re-read from disk")

	var offsets []int64
	for c, err := range m2.IterChildren(ctx) {
		require.NoError(t, err)
		offsets = append(offsets, c.Offset)
	}
	require.Equal(t, []int64{0, 10}, offsets, "voids are skipped, children indexed")
}

func TestOpen_TagMismatch(t *testing.T) {
	m, path := newTestRoot(t)
	require.NoError(t, m.Close())

	_, err := Open(path, ModeReadWrite, 0, []byte{0xE7}, 0, masterTagResolver{})
	require.True(t, errors.Is(err, ebmlerr.ErrNoMatch))
}

func TestGetChild_HydrateAndEvict(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 30))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("hello")))

	c, err := m.GetChild(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, testLeafTag, c.Tag)
	require.Equal(t, []byte("hello"), c.Payload)
	require.Nil(t, c.Master)

	// The hydration is cached: a second get returns the same instance.
	c2, err := m.GetChild(ctx, 0)
	require.NoError(t, err)
	require.Same(t, c, c2)

	// Eviction drops the cache; rehydration re-reads the file.
	m.Evict(0)
	c3, err := m.GetChild(ctx, 0)
	require.NoError(t, err)
	require.NotSame(t, c, c3)
	require.Equal(t, []byte("hello"), c3.Payload)
}

func TestGetChild_UnknownOffset(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	_, err := m.GetChild(ctx, 5)
	require.True(t, errors.Is(err, ebmlerr.ErrRead))
}

func TestAddMaster_HydratesAsManager(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 64))
	sub, err := m.AddMaster(ctx, 0, testMasterTag, 8, 20)
	require.NoError(t, err)
	require.Equal(t, int64(20), sub.DataSize())
	require.Equal(t, int64(0), sub.OffsetInParent())

	require.NoError(t, sub.AddLeaf(ctx, 0, testLeafTag, []byte("xy")))

	c, err := m.GetChild(ctx, 0)
	require.NoError(t, err)
	require.Same(t, sub, c.Master, "the freshly created sub-manager is cached")

	// After eviction the sub-master is rebuilt from the on-disk bytes.
	m.Evict(0)
	c, err = m.GetChild(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, c.Master)
	require.NotSame(t, sub, c.Master)
	require.Equal(t, int64(20), c.Master.DataSize())

	inner, err := c.Master.GetChild(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("xy"), inner.Payload)
}

func TestIterChildren_InOrder(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 40))
	require.NoError(t, m.AddLeaf(ctx, 20, testLeafTag, []byte("ccc")))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("aaa")))
	require.NoError(t, m.AddLeaf(ctx, 10, testLeafTag, []byte("bbb")))

	var got []string
	for c, err := range m.IterChildren(ctx) {
		require.NoError(t, err)
		got = append(got, string(c.Payload))
	}
	require.Equal(t, []string{"aaa", "bbb", "ccc"}, got)
}

// TestIterChildren_RemoveDuringIteration checks the iterator tolerates
// a removal between yields: the vanished offset is skipped and the
// walk continues at the next surviving child.
func TestIterChildren_RemoveDuringIteration(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 40))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("aaa")))
	require.NoError(t, m.AddLeaf(ctx, 10, testLeafTag, []byte("bbb")))
	require.NoError(t, m.AddLeaf(ctx, 20, testLeafTag, []byte("ccc")))

	var got []string
	for c, err := range m.IterChildren(ctx) {
		require.NoError(t, err)
		got = append(got, string(c.Payload))
		if c.Offset == 0 {
			require.NoError(t, m.RemoveChild(ctx, 10))
		}
	}
	require.Equal(t, []string{"aaa", "ccc"}, got)
}

func TestScan_RebuildsIndex(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestRoot(t)

	require.NoError(t, m.Resize(ctx, 30))
	require.NoError(t, m.AddLeaf(ctx, 0, testLeafTag, []byte("hello")))
	require.NoError(t, m.AddLeaf(ctx, 10, testLeafTag, []byte("world")))

	require.NoError(t, m.Scan(ctx))

	var offsets []int64
	for c, err := range m.IterChildren(ctx) {
		require.NoError(t, err)
		offsets = append(offsets, c.Offset)
	}
	require.Equal(t, []int64{0, 10}, offsets)
}
