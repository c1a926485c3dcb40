// Package nodecache implements the bounded internal-node cache: verified
// internal hashes are kept so later proofs can omit siblings the client
// already holds, shrinking subsequent fetches.
package nodecache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/v2fs/v2fs/merkletree"
	"github.com/v2fs/v2fs/page"
)

// recordBytes is the fixed width of one cached node entry: a level, an
// index, and a digest. The node cache is budgeted as a fraction of the
// page cache's byte budget; this fixed width is what turns that budget
// into an item count.
const recordBytes = 1 + 8 + page.HashBytes

// Cache is the bounded internal-node cache. It implements
// merkletree.NodeLookup so it can be passed directly to
// merkletree.Verify. Every entry is implicitly tagged with the cache's
// current version: a root change clears the whole cache rather than
// tagging individual entries, unlike the page cache, which tags each
// entry with its own version.
// Not safe for concurrent use without external locking.
type Cache struct {
	lru     *lru.Cache[merkletree.NodeID, page.Digest]
	version uint64
}

// New allocates a node cache sized for budgetBytes, converting the byte
// budget to an item count via the fixed per-record width.
func New(budgetBytes uint64) (*Cache, error) {
	items := int(budgetBytes / recordBytes)
	if items < 1 {
		items = 1
	}
	c, err := lru.New[merkletree.NodeID, page.Digest](items)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// Get implements merkletree.NodeLookup.
func (c *Cache) Get(id merkletree.NodeID) (page.Digest, bool) {
	return c.lru.Get(id)
}

// Put records a verified internal node hash under the cache's current
// version.
func (c *Cache) Put(id merkletree.NodeID, h page.Digest) {
	c.lru.Add(id, h)
}

// PutAll records every entry from a just-completed verification
// (merkletree.Verify's returned []merkletree.Entry).
func (c *Cache) PutAll(entries []merkletree.Entry) {
	for _, e := range entries {
		c.Put(e.ID, e.Hash)
	}
}

// Invalidate drops id from the cache.
func (c *Cache) Invalidate(id merkletree.NodeID) {
	c.lru.Remove(id)
}

// SetVersion updates the version this cache's entries are considered
// valid under. A changed version purges the cache outright: stale
// internal hashes are unsafe to reuse once the root they were verified
// against is no longer current.
func (c *Cache) SetVersion(version uint64) {
	if version == c.version {
		return
	}
	c.version = version
	c.lru.Purge()
}

// Version returns the version this cache's entries are currently valid
// under.
func (c *Cache) Version() uint64 {
	return c.version
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}
