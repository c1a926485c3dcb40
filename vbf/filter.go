package vbf

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/v2fs/v2fs/page"
	"github.com/v2fs/v2fs/store"
)

// Filter is a versioned Bloom filter over (page_id, checkpoint_version)
// pairs, plus the ascending list of checkpoints it has absorbed deltas
// at. It is not safe for concurrent use without external locking.
type Filter struct {
	mBits       uint32
	k           uint8
	bits        []byte
	checkpoints []uint64
	nInserted   uint32
}

// NewFilter allocates a filter sized for expectedElements entries at
// bitsPerElement bits each, tested with k hash rounds per membership
// check.
func NewFilter(expectedElements uint64, bitsPerElement uint64, k uint8) (*Filter, error) {
	if expectedElements == 0 || bitsPerElement == 0 {
		return nil, ErrBadParams
	}
	if k == 0 {
		return nil, ErrBadK
	}
	mBits := mBitsSafeCast(mBitsFor(expectedElements, bitsPerElement))
	if mBits == 0 {
		return nil, ErrMBitsOverflow
	}
	return &Filter{
		mBits: mBits,
		k:     k,
		bits:  make([]byte, bitsetBytesFor(mBits)),
	}, nil
}

// NewFilterWithBits allocates a filter of exactly mBits bits, tested
// with k hash rounds per membership check. This is the constructor the
// vbf_m/vbf_k configuration surface maps onto directly, as opposed to
// NewFilter's element/density sizing.
func NewFilterWithBits(mBits uint64, k uint8) (*Filter, error) {
	cast := mBitsSafeCast(mBits)
	if cast == 0 {
		return nil, ErrMBitsOverflow
	}
	if k == 0 {
		return nil, ErrBadK
	}
	return &Filter{
		mBits: cast,
		k:     k,
		bits:  make([]byte, bitsetBytesFor(cast)),
	}, nil
}

// MergeDelta absorbs one store.VbfDelta: every changed page_id is
// inserted once, tagged with the delta's ToVersion, and ToVersion is
// recorded as a new checkpoint. Per-PageChange.Version is deliberately
// not used for tagging — all pages in one delta share the delta's
// window.
func (f *Filter) MergeDelta(delta store.VbfDelta) {
	f.recordCheckpoint(delta.ToVersion)
	for _, c := range delta.Changed {
		f.insert(c.PageID, delta.ToVersion)
	}
}

// PossiblyChangedSince reports whether page id may have changed in the
// open-closed window (known, current]. A false return is conclusive:
// the page did not change in that window. A true return means the
// caller must still fetch and verify the page against the remote
// store.
func (f *Filter) PossiblyChangedSince(id page.ID, known, current uint64) bool {
	if known >= current {
		return false
	}
	lo := sort.Search(len(f.checkpoints), func(i int) bool { return f.checkpoints[i] > known })
	for _, checkpoint := range f.checkpoints[lo:] {
		if checkpoint > current {
			break
		}
		if f.maybeContains(id, checkpoint) {
			return true
		}
	}
	return false
}

// Checkpoints returns the ascending list of versions this filter has
// absorbed a delta for.
func (f *Filter) Checkpoints() []uint64 {
	out := make([]uint64, len(f.checkpoints))
	copy(out, f.checkpoints)
	return out
}

func (f *Filter) recordCheckpoint(version uint64) {
	i := sort.Search(len(f.checkpoints), func(i int) bool { return f.checkpoints[i] >= version })
	if i < len(f.checkpoints) && f.checkpoints[i] == version {
		return
	}
	f.checkpoints = append(f.checkpoints, 0)
	copy(f.checkpoints[i+1:], f.checkpoints[i:])
	f.checkpoints[i] = version
}

func (f *Filter) insert(id page.ID, checkpoint uint64) {
	h1, h2 := f.hashPair(id, checkpoint)
	for i := uint64(0); i < uint64(f.k); i++ {
		j := (h1 + i*h2) % uint64(f.mBits)
		f.bits[j>>3] |= 1 << (j & 7)
	}
	f.nInserted++
}

func (f *Filter) maybeContains(id page.ID, checkpoint uint64) bool {
	h1, h2 := f.hashPair(id, checkpoint)
	for i := uint64(0); i < uint64(f.k); i++ {
		j := (h1 + i*h2) % uint64(f.mBits)
		if f.bits[j>>3]&(1<<(j&7)) == 0 {
			return false
		}
	}
	return true
}

// hashPair derives two independent hash lanes from a (page_id,
// checkpoint) element with one domain-separated sha256 call.
func (f *Filter) hashPair(id page.ID, checkpoint uint64) (h1, h2 uint64) {
	var elem [elemBytes]byte
	binary.BigEndian.PutUint64(elem[0:8], uint64(id))
	binary.BigEndian.PutUint64(elem[8:16], checkpoint)

	var buf [1 + elemBytes]byte
	buf[0] = domainTag
	copy(buf[1:], elem[:])
	sum := sha256.Sum256(buf[:])
	h1 = binary.BigEndian.Uint64(sum[0:8])
	h2 = binary.BigEndian.Uint64(sum[8:16])
	if h2 == 0 {
		h2 = 1
	}
	return h1, h2
}
