// Package v2fstest builds a reference authenticated page set in memory
// and serves it through a store.RemoteStore, so the rest of v2fs can be
// exercised against a real tree instead of hand-rolled proof fixtures.
package v2fstest

import (
	"context"
	"sync"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/require"

	"github.com/v2fs/v2fs/merkletree"
	"github.com/v2fs/v2fs/page"
	"github.com/v2fs/v2fs/store"
)

// Config seeds the synthetic page set a TestContext builds.
type Config struct {
	// PageCount is the number of real (non-padding) pages to generate.
	PageCount uint64
	// Fill derives each page's byte content from its index, so tests can
	// assert on specific page contents without storing them separately.
	Fill func(id page.ID) []byte
}

// TestContext wraps an in-memory reference tree and a RemoteStore
// backed by it, at a single fixed version.
type TestContext struct {
	T     *testing.T
	Shape merkletree.Shape
	Root  page.Digest
	Store store.RemoteStore

	pages map[page.ID][]byte
	nodes map[merkletree.NodeID]page.Digest
}

func defaultFill(id page.ID) []byte {
	d := make([]byte, page.Size)
	d[0] = byte(id)
	d[1] = byte(id >> 8)
	return d
}

type tree struct {
	shape merkletree.Shape
	root  page.Digest
	pages map[page.ID][]byte
	nodes map[merkletree.NodeID]page.Digest
}

// buildTree authenticates one page set the same way an ADS builder
// constructs the MHT from a database file.
func buildTree(t *testing.T, pageCount uint64, fill func(page.ID) []byte) tree {
	t.Helper()
	shape := merkletree.NewShape(pageCount)
	hasher := page.NewHasher()

	pages := make(map[page.ID][]byte, pageCount)
	nodes := make(map[merkletree.NodeID]page.Digest)

	for i := uint64(0); i < shape.Padded; i++ {
		id := merkletree.NodeID{Level: 0, Index: i}
		if shape.FullyPadding(id) {
			nodes[id] = page.PadHash()
			continue
		}
		data := fill(page.ID(i))
		require.Len(t, data, page.Size)
		pages[page.ID(i)] = data
		h, err := page.Leaf(hasher, data)
		require.NoError(t, err)
		nodes[id] = h
	}

	for level := uint8(0); level < shape.RootLevel; level++ {
		width := shape.LevelWidth(level)
		for i := uint64(0); i < width; i += 2 {
			left := nodes[merkletree.NodeID{Level: level, Index: i}]
			right := nodes[merkletree.NodeID{Level: level, Index: i + 1}]
			parent := merkletree.NodeID{Level: level + 1, Index: i / 2}
			if shape.FullyPadding(parent) {
				nodes[parent] = page.PadHash()
				continue
			}
			nodes[parent] = page.Internal(hasher, left, right)
		}
	}

	root := nodes[merkletree.NodeID{Level: shape.RootLevel, Index: 0}]
	return tree{shape: shape, root: root, pages: pages, nodes: nodes}
}

// NewTestContext builds a reference tree over cfg.PageCount pages and a
// RemoteStore serving it, all at version 1.
func NewTestContext(t *testing.T, cfg Config) *TestContext {
	t.Helper()
	logger.New("NOOP")
	if cfg.Fill == nil {
		cfg.Fill = defaultFill
	}

	tr := buildTree(t, cfg.PageCount, cfg.Fill)
	tc := &TestContext{
		T:     t,
		Shape: tr.shape,
		Root:  tr.root,
		pages: tr.pages,
		nodes: tr.nodes,
	}
	tc.Store = &memStore{tc: tc, version: 1}
	return tc
}

// PageData returns the reference bytes stored for id, for assertions.
func (tc *TestContext) PageData(id page.ID) []byte {
	return tc.pages[id]
}

// memStore is a store.RemoteStore backed by a TestContext's reference
// tree. It never changes version once constructed; tests that need a
// version bump use VersionedTestContext instead.
type memStore struct {
	tc      *TestContext
	version uint64
}

func (m *memStore) GetRoot(ctx context.Context) (uint64, page.Digest, error) {
	return m.version, m.tc.Root, nil
}

func (m *memStore) FetchPages(ctx context.Context, ids []page.ID, presence store.PresenceSketch) (store.FetchResult, error) {
	return fetchFromTree(tree{shape: m.tc.Shape, root: m.tc.Root, pages: m.tc.pages, nodes: m.tc.nodes}, ids, presence, m.version)
}

func (m *memStore) GetVBFDelta(ctx context.Context, fromVersion, toVersion uint64) (store.VbfDelta, error) {
	return store.VbfDelta{FromVersion: fromVersion, ToVersion: toVersion}, nil
}

// fetchFromTree serves one batched FetchPages response against a single
// authenticated tree, building the minimal joint proof for ids the way
// a real remote MHT store would.
func fetchFromTree(tr tree, ids []page.ID, presence store.PresenceSketch, version uint64) (store.FetchResult, error) {
	data := make([][]byte, len(ids))
	frontier := make(map[merkletree.NodeID]bool, len(ids))
	for i, id := range ids {
		data[i] = tr.pages[id]
		frontier[merkletree.NodeID{Level: 0, Index: uint64(id)}] = true
	}

	var entries []merkletree.Entry
	seen := make(map[merkletree.NodeID]bool)
	for level := uint8(0); level < tr.shape.RootLevel; level++ {
		next := make(map[merkletree.NodeID]bool)
		for id := range frontier {
			sib := tr.shape.Sibling(id)
			if !frontier[sib] && !seen[sib] && !tr.shape.FullyPadding(sib) && !presence.Has(sib) {
				seen[sib] = true
				entries = append(entries, merkletree.Entry{ID: sib, Hash: tr.nodes[sib]})
			}
			next[tr.shape.Parent(id)] = true
		}
		frontier = next
	}
	sortEntries(entries)

	return store.FetchResult{
		Pages:   data,
		Proof:   merkletree.Proof{Entries: entries},
		Version: version,
	}, nil
}

// VersionedTestContext serves a sequence of authenticated trees — one
// per version — through a single RemoteStore, letting tests exercise a
// root/VBF advance across versions instead of a single fixed tree.
// Versions are numbered 1..len(snapshots).
type VersionedTestContext struct {
	T     *testing.T
	trees []tree

	mu      sync.Mutex
	served  int // 0-based index into trees of the version GetRoot/FetchPages answer with
	pgCount uint64
}

// NewVersionedTestContext builds one authenticated tree per entry of
// snapshots, each a complete page_id -> bytes map for that version. The
// store starts out serving version 1 (snapshots[0]); call Advance to
// move it forward.
func NewVersionedTestContext(t *testing.T, pageCount uint64, snapshots []map[page.ID][]byte) *VersionedTestContext {
	t.Helper()
	logger.New("NOOP")
	require.NotEmpty(t, snapshots, "need at least one version snapshot")

	trees := make([]tree, len(snapshots))
	for i, snap := range snapshots {
		fill := func(id page.ID) []byte { return snap[id] }
		trees[i] = buildTree(t, pageCount, fill)
	}
	return &VersionedTestContext{T: t, trees: trees, pgCount: pageCount}
}

// Store returns a store.RemoteStore over this versioned context.
func (vtc *VersionedTestContext) Store() store.RemoteStore {
	return &versionedStore{vtc: vtc}
}

// Root returns the trusted root for version (1-based).
func (vtc *VersionedTestContext) Root(version int) page.Digest {
	return vtc.trees[version-1].root
}

// PageData returns the reference bytes for id at version (1-based).
func (vtc *VersionedTestContext) PageData(version int, id page.ID) []byte {
	return vtc.trees[version-1].pages[id]
}

// Advance moves the store forward to serve the next version. Returns
// the new (1-based) version number.
func (vtc *VersionedTestContext) Advance() int {
	vtc.mu.Lock()
	defer vtc.mu.Unlock()
	if vtc.served+1 < len(vtc.trees) {
		vtc.served++
	}
	return vtc.served + 1
}

func (vtc *VersionedTestContext) currentVersion() int {
	vtc.mu.Lock()
	defer vtc.mu.Unlock()
	return vtc.served + 1
}

// vbfDelta reports every page whose bytes differ between the two
// snapshots, tagged with toVersion.
func (vtc *VersionedTestContext) vbfDelta(fromVersion, toVersion int) store.VbfDelta {
	from := vtc.trees[fromVersion-1].pages
	to := vtc.trees[toVersion-1].pages
	var changed []store.PageChange
	for id := page.ID(0); id < page.ID(vtc.pgCount); id++ {
		if string(from[id]) != string(to[id]) {
			changed = append(changed, store.PageChange{PageID: id, Version: uint64(toVersion)})
		}
	}
	return store.VbfDelta{FromVersion: uint64(fromVersion), ToVersion: uint64(toVersion), Changed: changed}
}

type versionedStore struct {
	vtc *VersionedTestContext
}

func (s *versionedStore) GetRoot(ctx context.Context) (uint64, page.Digest, error) {
	v := s.vtc.currentVersion()
	return uint64(v), s.vtc.Root(v), nil
}

func (s *versionedStore) FetchPages(ctx context.Context, ids []page.ID, presence store.PresenceSketch) (store.FetchResult, error) {
	v := s.vtc.currentVersion()
	return fetchFromTree(s.vtc.trees[v-1], ids, presence, uint64(v))
}

func (s *versionedStore) GetVBFDelta(ctx context.Context, fromVersion, toVersion uint64) (store.VbfDelta, error) {
	return s.vtc.vbfDelta(int(fromVersion), int(toVersion)), nil
}

func sortEntries(e []merkletree.Entry) {
	for i := 1; i < len(e); i++ {
		for j := i; j > 0 && e[j].ID.Less(e[j-1].ID); j-- {
			e[j], e[j-1] = e[j-1], e[j]
		}
	}
}
