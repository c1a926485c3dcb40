package pagecache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/v2fs/v2fs/page"
)

func TestNewSizesByByteBudget(t *testing.T) {
	c, err := New(page.Size * 4)
	require.NoError(t, err)

	for i := page.ID(0); i < 5; i++ {
		c.Put(i, make([]byte, page.Size), 1)
	}
	require.Equal(t, 4, c.Len(), "5th insert should evict the oldest entry")
}

func TestGetMissAndHit(t *testing.T) {
	c, err := New(page.Size * 4)
	require.NoError(t, err)

	_, _, ok := c.Get(7)
	require.False(t, ok)

	data := []byte("page bytes padded out")
	c.Put(7, data, 3)
	got, version, ok := c.Get(7)
	require.True(t, ok)
	require.Equal(t, data, got)
	require.Equal(t, uint64(3), version)
}

func TestPutCopiesInputBuffer(t *testing.T) {
	c, err := New(page.Size)
	require.NoError(t, err)

	data := []byte{1, 2, 3}
	c.Put(1, data, 1)
	data[0] = 99

	got, _, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, byte(1), got[0], "cache must not alias the caller's buffer")
}

func TestEntriesKeepIndependentVersionTags(t *testing.T) {
	c, err := New(page.Size * 4)
	require.NoError(t, err)

	c.Put(1, []byte{1}, 1)
	c.Put(2, []byte{2}, 1)

	c.Put(1, []byte{1}, 2)

	_, v1, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, uint64(2), v1)

	_, v2, ok := c.Get(2)
	require.True(t, ok)
	require.Equal(t, uint64(1), v2, "a version advance for one page must not touch another entry's tag")
}

func TestRevalidateUpdatesTagWithoutRefetch(t *testing.T) {
	c, err := New(page.Size * 4)
	require.NoError(t, err)

	c.Put(1, []byte{7}, 1)
	c.Revalidate(1, 2)

	data, version, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, []byte{7}, data, "revalidate must not change the cached bytes")
	require.Equal(t, uint64(2), version)
}

func TestRevalidateOnMissingEntryIsNoop(t *testing.T) {
	c, err := New(page.Size * 4)
	require.NoError(t, err)

	c.Revalidate(1, 2)
	_, _, ok := c.Get(1)
	require.False(t, ok)
}

func TestInvalidateDropsSingleEntry(t *testing.T) {
	c, err := New(page.Size * 4)
	require.NoError(t, err)

	c.Put(1, []byte{1}, 1)
	c.Put(2, []byte{2}, 1)
	c.Invalidate(1)

	_, _, ok := c.Get(1)
	require.False(t, ok)
	_, _, ok = c.Get(2)
	require.True(t, ok)
}
