// Package pagecache implements a bounded page cache: a fixed-capacity
// LRU keyed by page id. Each entry carries its own version tag (the
// trusted root it was verified under) rather than the cache sharing one
// cache-wide version, so a root advance does not have to discard an
// entry outright — the caller can consult the versioned Bloom filter
// per entry and keep serving it across a version bump when the filter
// clears it. A version change invalidates exactly the entries whose tag
// differs and whose VBF check does not clear them.
package pagecache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/v2fs/v2fs/page"
)

type entry struct {
	data    []byte
	version uint64
}

// Cache is the bounded page cache. Not safe for concurrent use without
// external locking.
type Cache struct {
	lru *lru.Cache[page.ID, entry]
	cap int
}

// New allocates a page cache sized for budgetBytes of page data. Every
// entry is exactly page.Size bytes, so the byte budget converts
// directly to an item count.
func New(budgetBytes uint64) (*Cache, error) {
	items := int(budgetBytes / page.Size)
	if items < 1 {
		items = 1
	}
	c, err := lru.New[page.ID, entry](items)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c, cap: items}, nil
}

// Get returns the cached bytes for id and the version they were
// verified under, if present. The caller decides whether that version
// is still usable — see pagecache's package doc.
func (c *Cache) Get(id page.ID) (data []byte, version uint64, ok bool) {
	e, ok := c.lru.Get(id)
	if !ok {
		return nil, 0, false
	}
	return e.data, e.version, true
}

// Put stores a verified page's bytes tagged with the root version it
// was verified under.
func (c *Cache) Put(id page.ID, data []byte, version uint64) {
	buf := make([]byte, len(data))
	copy(buf, data)
	c.lru.Add(id, entry{data: buf, version: version})
}

// Revalidate bumps id's stored version tag to version without touching
// its bytes, used once a versioned Bloom filter check has cleared an
// entry as unchanged under the new root: the bytes are still correct,
// only the tag needed catching up.
func (c *Cache) Revalidate(id page.ID, version uint64) {
	if e, ok := c.lru.Get(id); ok {
		e.version = version
		c.lru.Add(id, e)
	}
}

// Invalidate drops id from the cache outright.
func (c *Cache) Invalidate(id page.ID) {
	c.lru.Remove(id)
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Cap reports the fixed number of entries the cache can hold.
func (c *Cache) Cap() int {
	return c.cap
}
