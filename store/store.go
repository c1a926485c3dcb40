// Package store defines the narrow capability set the virtual file
// backend uses to reach the untrusted server holding the database file
// and its authenticated data structure.
package store

import (
	"context"

	"github.com/v2fs/v2fs/merkletree"
	"github.com/v2fs/v2fs/page"
)

// RemoteStore is the capability set a virtual file backend needs from an
// untrusted server. Implementations may be in-memory (tests), networked,
// or blob-backed (AzureRemoteStore); none of them are trusted — every
// response is verified by merkletree.Verify before use.
type RemoteStore interface {
	// FetchPages returns the requested pages, in the order of ids, plus a
	// proof sufficient to verify them jointly against the store's current
	// root. presence describes node-cache entries the caller already
	// holds, letting the store omit sibling hashes it knows the caller
	// can supply itself.
	FetchPages(ctx context.Context, ids []page.ID, presence PresenceSketch) (FetchResult, error)

	// GetRoot returns the store's current version and trusted root. Used
	// at bootstrap and after an announced version change.
	GetRoot(ctx context.Context) (version uint64, root page.Digest, err error)

	// GetVBFDelta returns the set of pages known to have changed between
	// two versions, for merging into the client's versioned Bloom filter.
	GetVBFDelta(ctx context.Context, fromVersion, toVersion uint64) (VbfDelta, error)
}

// FetchResult is the batched response to FetchPages.
type FetchResult struct {
	Pages   [][]byte
	Proof   merkletree.Proof
	Version uint64
}

// VbfDelta lists the pages the server reports changed in a version
// window, tagged with the version at which each change was observed.
type VbfDelta struct {
	FromVersion uint64
	ToVersion   uint64
	Changed     []PageChange
}

// PageChange is one (page_id, version) pair reported by get_vbf_delta.
type PageChange struct {
	PageID  page.ID
	Version uint64
}
