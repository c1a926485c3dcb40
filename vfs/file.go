// Package vfs implements the virtual file backend: a page-aligned read
// surface over an untrusted remote store, where every byte handed to
// the caller has first been verified against the trusted root.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/v2fs/v2fs/merkletree"
	"github.com/v2fs/v2fs/nodecache"
	"github.com/v2fs/v2fs/page"
	"github.com/v2fs/v2fs/pagecache"
	"github.com/v2fs/v2fs/store"
	"github.com/v2fs/v2fs/vbf"
)

// retryBaseDelay is the first backoff a fetch retry waits, doubling on
// each subsequent attempt.
const retryBaseDelay = 2 * time.Millisecond

// TrustedRoot is the caller-supplied anchor a File verifies every fetch
// against. Installing a new value (after a root-attestation check)
// purges the node cache; page cache entries keep their own version
// tags and are checked against the new version on their next read.
type TrustedRoot struct {
	Version uint64
	Root    page.Digest
}

// File is a page-aligned, verify-before-serve view of a remote database
// file. It is not safe for concurrent use without external locking; the
// query driver in package query is what serializes access across
// optimization levels.
type File struct {
	remote    store.RemoteStore
	pages     *pagecache.Cache
	nodes     *nodecache.Cache
	filter    *vbf.Filter
	hasher    hash.Hash
	byteCount uint64
	root      TrustedRoot
	closed    bool

	pagesFetched int
	proofBytes   int

	maxRetries int
}

// Option configures a File at construction.
type Option func(*File)

// WithVBF attaches a versioned Bloom filter a File consults before
// trusting a cached page, letting it skip a round-trip only when the
// filter conclusively reports no change.
func WithVBF(f *vbf.Filter) Option {
	return func(file *File) { file.filter = f }
}

// WithMaxRetries bounds how many times a batched fetch is retried with
// exponential backoff before surfacing a transport error. The default,
// zero, issues a fetch once with no retry.
func WithMaxRetries(n int) Option {
	return func(file *File) { file.maxRetries = n }
}

// New constructs a File over remote, sized for byteCount total bytes of
// database content, trusted against root at construction.
func New(remote store.RemoteStore, byteCount uint64, root TrustedRoot, pages *pagecache.Cache, nodes *nodecache.Cache, opts ...Option) *File {
	f := &File{
		remote:    remote,
		pages:     pages,
		nodes:     nodes,
		hasher:    page.NewHasher(),
		byteCount: byteCount,
		root:      root,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.nodes.SetVersion(root.Version)
	return f
}

// Size returns the total byte length of the database file as currently
// trusted.
func (f *File) Size() uint64 { return f.byteCount }

// InstallRoot moves the File forward to a newly attested root. The node
// cache is purged outright: an internal node's hash commits to every
// page beneath it, and the versioned Bloom filter only speaks to
// individual pages, so there is no cheaper way to know a cached node is
// still valid. The page cache is left untouched — its entries keep
// their own per-page version tags and are resolved lazily against the
// versioned Bloom filter the next time each page is read (see Read),
// so a page unchanged across the root advance survives without ever
// being purged.
func (f *File) InstallRoot(root TrustedRoot) {
	f.root = root
	f.nodes.SetVersion(root.Version)
}

// Read returns the byte range [offset, offset+length) of the database
// file, verifying every page it did not already hold cached against the
// trusted root before returning.
func (f *File) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	if f.closed {
		return nil, ErrClosed
	}
	// Short reads are only permitted past EOF: a range that crosses the
	// end of the authenticated byte count is clamped there, so the final
	// partial page yields exactly the bytes the page count covers.
	if offset >= f.byteCount {
		return nil, nil
	}
	if offset+length > f.byteCount {
		length = f.byteCount - offset
	}
	ids := page.Span(offset, length, page.Count(f.byteCount))
	if len(ids) == 0 {
		return nil, nil
	}

	pageBytes := make(map[page.ID][]byte, len(ids))
	var missing []page.ID
	for _, id := range ids {
		data, tag, ok := f.pages.Get(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		if tag == f.root.Version {
			pageBytes[id] = data
			continue
		}
		// tag is for an earlier root: without a VBF clearing it, a
		// version change invalidates the entry outright. With a VBF, a
		// conclusive "unchanged" lets the entry survive the version
		// advance it would otherwise have been purged for.
		if f.filter != nil && !f.filter.PossiblyChangedSince(id, tag, f.root.Version) {
			f.pages.Revalidate(id, f.root.Version)
			pageBytes[id] = data
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		if err := f.fetchAndVerify(ctx, missing, pageBytes); err != nil {
			return nil, err
		}
	}

	return assembleRange(pageBytes, offset, length), nil
}

// fetchAndVerify coalesces every missing page from one Read call into a
// single batched FetchPages round trip, then verifies the joint proof
// before populating either cache.
func (f *File) fetchAndVerify(ctx context.Context, missing []page.ID, out map[page.ID][]byte) error {
	presence := f.presenceSketch(missing)
	result, err := f.fetchWithRetry(ctx, missing, presence)
	if err != nil {
		return err
	}
	if len(result.Pages) != len(missing) {
		return store.ErrUnexpectedPageCount
	}

	leaves := make(map[uint64]page.Digest, len(missing))
	for i, id := range missing {
		h, err := page.Leaf(f.hasher, result.Pages[i])
		if err != nil {
			return fmt.Errorf("%w: %w", store.ErrProtocol, err)
		}
		leaves[uint64(id)] = h
	}

	shape := merkletree.NewShape(page.Count(f.byteCount))
	computed, ok, err := merkletree.Verify(f.hasher, shape, leaves, result.Proof, f.nodes, f.root.Root)
	if err != nil {
		logger.Sugar.Debugf("vfs: proof rejected: %v", err)
		return fmt.Errorf("%w: %w", store.ErrProtocol, err)
	}
	if !ok {
		return store.ErrTamper
	}

	f.nodes.PutAll(computed)
	for i, id := range missing {
		f.pages.Put(id, result.Pages[i], f.root.Version)
		out[id] = result.Pages[i]
	}
	f.pagesFetched += len(missing)
	f.proofBytes += len(merkletree.Encode(result.Proof))
	return nil
}

// fetchWithRetry issues one FetchPages call, retrying on transport
// failure up to f.maxRetries times with exponential backoff. A failure
// that exhausts retries is wrapped in store.ErrTransport. A
// store.ErrProtocol or store.ErrTamper failure is returned at once,
// without a retry.
func (f *File) fetchWithRetry(ctx context.Context, ids []page.ID, presence store.PresenceSketch) (store.FetchResult, error) {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		result, err := f.remote.FetchPages(ctx, ids, presence)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, store.ErrProtocol) || errors.Is(err, store.ErrTamper) {
			return store.FetchResult{}, err
		}
		lastErr = err
		if attempt == f.maxRetries {
			break
		}
		logger.Sugar.Debugf("vfs: fetch attempt %d failed, retrying in %s: %v", attempt+1, delay, err)
		select {
		case <-ctx.Done():
			return store.FetchResult{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return store.FetchResult{}, fmt.Errorf("%w: %w", store.ErrTransport, lastErr)
}

// Stats returns the number of pages fetched over the network and the
// cumulative wire size of the proofs consumed, since the File was built
// or since the last ResetStats call, for the query driver's per-query
// exit record.
func (f *File) Stats() (pagesFetched, proofBytes int) {
	return f.pagesFetched, f.proofBytes
}

// ResetStats zeroes the counters Stats reports. The query driver builds
// a new File for each query and so does not call it.
func (f *File) ResetStats() {
	f.pagesFetched = 0
	f.proofBytes = 0
}

// presenceSketch advertises the siblings along the path from each
// missing leaf toward the root that File already holds verified in its
// node cache, so the store can omit sibling hashes it knows the client
// can supply itself.
func (f *File) presenceSketch(missing []page.ID) store.PresenceSketch {
	shape := merkletree.NewShape(page.Count(f.byteCount))
	var held []merkletree.NodeID
	seen := make(map[merkletree.NodeID]bool)
	for _, id := range missing {
		node := merkletree.NodeID{Level: 0, Index: uint64(id)}
		for node.Level < shape.RootLevel {
			sib := shape.Sibling(node)
			if !seen[sib] {
				seen[sib] = true
				if _, ok := f.nodes.Get(sib); ok {
					held = append(held, sib)
				}
			}
			node = shape.Parent(node)
		}
	}
	return store.NewPresenceSketch(held)
}

// Close marks the File unusable for further reads.
func (f *File) Close() error {
	f.closed = true
	return nil
}

func assembleRange(pages map[page.ID][]byte, offset, length uint64) []byte {
	out := make([]byte, 0, length)
	remaining := length
	pos := offset
	for remaining > 0 {
		id := page.ID(pos / page.Size)
		inPage := pos % page.Size
		data, ok := pages[id]
		if !ok {
			break
		}
		n := uint64(len(data)) - inPage
		if n > remaining {
			n = remaining
		}
		out = append(out, data[inPage:inPage+n]...)
		pos += n
		remaining -= n
	}
	return out
}
