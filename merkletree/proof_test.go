package merkletree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/v2fs/v2fs/page"
)

// referenceTree builds every level of a balanced binary hash tree over n
// leaves in memory, used only to generate full proofs to feed into
// Verify in tests.
type referenceTree struct {
	shape Shape
	nodes map[NodeID]page.Digest
}

func buildReferenceTree(t *testing.T, leafData map[uint64][]byte, n uint64) *referenceTree {
	t.Helper()
	hasher := page.NewHasher()
	shape := NewShape(n)
	nodes := make(map[NodeID]page.Digest)

	for i := uint64(0); i < shape.Padded; i++ {
		id := NodeID{Level: 0, Index: i}
		if shape.FullyPadding(id) {
			nodes[id] = page.PadHash()
			continue
		}
		data, ok := leafData[i]
		require.True(t, ok, "missing leaf data for index %d", i)
		h, err := page.Leaf(hasher, data)
		require.NoError(t, err)
		nodes[id] = h
	}

	for level := uint8(0); level < shape.RootLevel; level++ {
		width := shape.LevelWidth(level)
		for i := uint64(0); i < width; i += 2 {
			left := nodes[NodeID{Level: level, Index: i}]
			right := nodes[NodeID{Level: level, Index: i + 1}]
			parent := NodeID{Level: level + 1, Index: i / 2}
			if shape.FullyPadding(parent) {
				nodes[parent] = page.PadHash()
				continue
			}
			nodes[parent] = page.Internal(hasher, left, right)
		}
	}

	return &referenceTree{shape: shape, nodes: nodes}
}

// proofFor returns the full sibling proof needed to verify queried leaves,
// without relying on any node cache.
func (r *referenceTree) proofFor(queried []uint64) Proof {
	frontier := make(map[NodeID]bool, len(queried))
	for _, idx := range queried {
		frontier[NodeID{Level: 0, Index: idx}] = true
	}

	var entries []Entry
	seen := make(map[NodeID]bool)
	for level := uint8(0); level < r.shape.RootLevel; level++ {
		next := make(map[NodeID]bool)
		for id := range frontier {
			sib := r.shape.Sibling(id)
			if !frontier[sib] && !r.shape.FullyPadding(sib) && !seen[sib] {
				seen[sib] = true
				entries = append(entries, Entry{ID: sib, Hash: r.nodes[sib]})
			}
			next[r.shape.Parent(id)] = true
		}
		frontier = next
	}

	sortEntries(entries)
	return Proof{Entries: entries}
}

func sortEntries(e []Entry) {
	for i := 1; i < len(e); i++ {
		for j := i; j > 0 && e[j].ID.Less(e[j-1].ID); j-- {
			e[j], e[j-1] = e[j-1], e[j]
		}
	}
}

func makePageData(fill byte) []byte {
	d := make([]byte, page.Size)
	for i := range d {
		d[i] = fill
	}
	return d
}

func TestVerifySingleLeafTree(t *testing.T) {
	leafData := map[uint64][]byte{0: makePageData(1)}
	tree := buildReferenceTree(t, leafData, 1)

	hasher := page.NewHasher()
	leafHash, err := page.Leaf(hasher, leafData[0])
	require.NoError(t, err)

	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]
	require.Equal(t, leafHash, root, "single-leaf tree root is the leaf hash itself")

	proof := tree.proofFor([]uint64{0})
	computed, ok, err := Verify(hasher, tree.shape, map[uint64]page.Digest{0: leafHash}, proof, NoCache, root)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, computed)
}

func TestVerifyTwoLeafTree(t *testing.T) {
	leafData := map[uint64][]byte{0: makePageData(1), 1: makePageData(2)}
	tree := buildReferenceTree(t, leafData, 2)
	hasher := page.NewHasher()

	h0, err := page.Leaf(hasher, leafData[0])
	require.NoError(t, err)

	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]
	proof := tree.proofFor([]uint64{0})
	require.Len(t, proof.Entries, 1)
	require.Equal(t, NodeID{Level: 0, Index: 1}, proof.Entries[0].ID)

	computed, ok, err := Verify(hasher, tree.shape, map[uint64]page.Digest{0: h0}, proof, NoCache, root)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, computed, 1)
	require.Equal(t, root, computed[0].Hash)
}

func TestVerifyEightLeafBatchedQuery(t *testing.T) {
	leafData := make(map[uint64][]byte, 8)
	for i := uint64(0); i < 8; i++ {
		leafData[i] = makePageData(byte(i + 1))
	}
	tree := buildReferenceTree(t, leafData, 8)
	hasher := page.NewHasher()
	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]

	queried := []uint64{0, 1, 5}
	leaves := make(map[uint64]page.Digest, len(queried))
	for _, idx := range queried {
		h, err := page.Leaf(hasher, leafData[idx])
		require.NoError(t, err)
		leaves[idx] = h
	}

	proof := tree.proofFor(queried)
	computed, ok, err := Verify(hasher, tree.shape, leaves, proof, NoCache, root)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, computed)
}

func TestBatchedProofSharesCommonAncestors(t *testing.T) {
	leafData := make(map[uint64][]byte, 8)
	for i := uint64(0); i < 8; i++ {
		leafData[i] = makePageData(byte(i + 1))
	}
	tree := buildReferenceTree(t, leafData, 8)
	hasher := page.NewHasher()
	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]

	// Leaves 0 and 1 are siblings, so their joint proof needs only the
	// two uncle hashes above them, not two full three-hash paths.
	proof := tree.proofFor([]uint64{0, 1})
	require.Len(t, proof.Entries, 2)
	require.Equal(t, NodeID{Level: 1, Index: 1}, proof.Entries[0].ID)
	require.Equal(t, NodeID{Level: 2, Index: 1}, proof.Entries[1].ID)

	leaves := make(map[uint64]page.Digest, 2)
	for _, idx := range []uint64{0, 1} {
		h, err := page.Leaf(hasher, leafData[idx])
		require.NoError(t, err)
		leaves[idx] = h
	}
	_, ok, err := Verify(hasher, tree.shape, leaves, proof, NoCache, root)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyPaddedTree(t *testing.T) {
	leafData := map[uint64][]byte{0: makePageData(1), 1: makePageData(2), 2: makePageData(3)}
	tree := buildReferenceTree(t, leafData, 3)
	require.Equal(t, uint64(4), tree.shape.Padded)

	hasher := page.NewHasher()
	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]

	h2, err := page.Leaf(hasher, leafData[2])
	require.NoError(t, err)

	proof := tree.proofFor([]uint64{2})
	computed, ok, err := Verify(hasher, tree.shape, map[uint64]page.Digest{2: h2}, proof, NoCache, root)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, computed)
}

func TestVerifyDetectsTamperedLeaf(t *testing.T) {
	leafData := map[uint64][]byte{0: makePageData(1), 1: makePageData(2)}
	tree := buildReferenceTree(t, leafData, 2)
	hasher := page.NewHasher()
	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]

	tampered, err := page.Leaf(hasher, makePageData(99))
	require.NoError(t, err)

	proof := tree.proofFor([]uint64{0})
	_, ok, err := Verify(hasher, tree.shape, map[uint64]page.Digest{0: tampered}, proof, NoCache, root)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyDetectsTamperedProofEntry(t *testing.T) {
	leafData := map[uint64][]byte{0: makePageData(1), 1: makePageData(2)}
	tree := buildReferenceTree(t, leafData, 2)
	hasher := page.NewHasher()
	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]

	h0, err := page.Leaf(hasher, leafData[0])
	require.NoError(t, err)

	proof := tree.proofFor([]uint64{0})
	proof.Entries[0].Hash[0] ^= 0xFF

	_, ok, err := Verify(hasher, tree.shape, map[uint64]page.Digest{0: h0}, proof, NoCache, root)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsEmptyLeafSet(t *testing.T) {
	hasher := page.NewHasher()
	shape := NewShape(2)
	_, _, err := Verify(hasher, shape, map[uint64]page.Digest{}, Proof{}, NoCache, page.Digest{})
	require.ErrorIs(t, err, ErrEmptyFrontier)
}

func TestVerifyRejectsDuplicateProofEntry(t *testing.T) {
	leafData := map[uint64][]byte{0: makePageData(1), 1: makePageData(2)}
	tree := buildReferenceTree(t, leafData, 2)
	hasher := page.NewHasher()
	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]
	h0, err := page.Leaf(hasher, leafData[0])
	require.NoError(t, err)

	proof := Proof{Entries: []Entry{
		{ID: NodeID{Level: 0, Index: 1}, Hash: tree.nodes[NodeID{Level: 0, Index: 1}]},
		{ID: NodeID{Level: 0, Index: 1}, Hash: tree.nodes[NodeID{Level: 0, Index: 1}]},
	}}
	_, _, err = Verify(hasher, tree.shape, map[uint64]page.Digest{0: h0}, proof, NoCache, root)
	require.ErrorIs(t, err, ErrDuplicateProofEntry)
}

func TestVerifyRejectsUnconsumedProofEntry(t *testing.T) {
	leafData := make(map[uint64][]byte, 8)
	for i := uint64(0); i < 8; i++ {
		leafData[i] = makePageData(byte(i + 1))
	}
	tree := buildReferenceTree(t, leafData, 8)
	hasher := page.NewHasher()
	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]
	h0, err := page.Leaf(hasher, leafData[0])
	require.NoError(t, err)

	proof := tree.proofFor([]uint64{0})
	proof.Entries = append(proof.Entries, Entry{
		ID:   NodeID{Level: 1, Index: 3},
		Hash: tree.nodes[NodeID{Level: 1, Index: 3}],
	})
	sortEntries(proof.Entries)

	_, _, err = Verify(hasher, tree.shape, map[uint64]page.Digest{0: h0}, proof, NoCache, root)
	require.ErrorIs(t, err, ErrUnconsumedProofEntry)
}

func TestNodeCacheSuppliesSibling(t *testing.T) {
	leafData := map[uint64][]byte{0: makePageData(1), 1: makePageData(2)}
	tree := buildReferenceTree(t, leafData, 2)
	hasher := page.NewHasher()
	root := tree.nodes[NodeID{Level: tree.shape.RootLevel, Index: 0}]
	h0, err := page.Leaf(hasher, leafData[0])
	require.NoError(t, err)

	sibID := NodeID{Level: 0, Index: 1}
	cache := fakeCache{sibID: tree.nodes[sibID]}

	_, ok, err := Verify(hasher, tree.shape, map[uint64]page.Digest{0: h0}, Proof{}, cache, root)
	require.NoError(t, err)
	require.True(t, ok)
}

type fakeCache map[NodeID]page.Digest

func (c fakeCache) Get(id NodeID) (page.Digest, bool) {
	h, ok := c[id]
	return h, ok
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	proof := Proof{Entries: []Entry{
		{ID: NodeID{Level: 0, Index: 1}, Hash: page.Digest{1, 2, 3}},
		{ID: NodeID{Level: 1, Index: 3}, Hash: page.Digest{4, 5, 6}},
	}}
	encoded := Encode(proof)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, proof, decoded)
}

func TestDecodeRejectsShortAndBadLength(t *testing.T) {
	_, err := Decode([]byte{0, 0})
	require.ErrorIs(t, err, ErrProofTooShort)

	_, err = Decode([]byte{0, 0, 0, 1})
	require.ErrorIs(t, err, ErrProofBadLength)
}
