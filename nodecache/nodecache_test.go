package nodecache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/v2fs/v2fs/merkletree"
	"github.com/v2fs/v2fs/page"
)

func TestNewSizesByByteBudget(t *testing.T) {
	c, err := New(recordBytes * 2)
	require.NoError(t, err)

	c.Put(merkletree.NodeID{Level: 0, Index: 0}, page.Digest{1})
	c.Put(merkletree.NodeID{Level: 0, Index: 1}, page.Digest{2})
	c.Put(merkletree.NodeID{Level: 0, Index: 2}, page.Digest{3})
	require.Equal(t, 2, c.Len())
}

func TestGetImplementsNodeLookup(t *testing.T) {
	c, err := New(recordBytes * 4)
	require.NoError(t, err)

	var lookup merkletree.NodeLookup = c

	id := merkletree.NodeID{Level: 1, Index: 3}
	_, ok := lookup.Get(id)
	require.False(t, ok)

	h := page.Digest{7, 7, 7}
	c.Put(id, h)
	got, ok := lookup.Get(id)
	require.True(t, ok)
	require.Equal(t, h, got)
}

func TestPutAllRecordsEveryEntry(t *testing.T) {
	c, err := New(recordBytes * 8)
	require.NoError(t, err)

	entries := []merkletree.Entry{
		{ID: merkletree.NodeID{Level: 1, Index: 0}, Hash: page.Digest{1}},
		{ID: merkletree.NodeID{Level: 2, Index: 0}, Hash: page.Digest{2}},
	}
	c.PutAll(entries)

	for _, e := range entries {
		got, ok := c.Get(e.ID)
		require.True(t, ok)
		require.Equal(t, e.Hash, got)
	}
}

func TestSetVersionPurgesOnChange(t *testing.T) {
	c, err := New(recordBytes * 4)
	require.NoError(t, err)

	c.SetVersion(1)
	c.Put(merkletree.NodeID{Level: 0, Index: 0}, page.Digest{1})
	require.Equal(t, 1, c.Len())

	c.SetVersion(2)
	require.Equal(t, 0, c.Len())
}

func TestInvalidateDropsSingleEntry(t *testing.T) {
	c, err := New(recordBytes * 4)
	require.NoError(t, err)

	id := merkletree.NodeID{Level: 0, Index: 0}
	c.Put(id, page.Digest{1})
	c.Invalidate(id)

	_, ok := c.Get(id)
	require.False(t, ok)
}
