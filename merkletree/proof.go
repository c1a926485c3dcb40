package merkletree

import (
	"encoding/binary"
	"hash"
	"sort"

	"github.com/v2fs/v2fs/page"
)

// Entry is one (node_id, hash) pair carried on the wire or surfaced by
// Verify as a newly computed internal node.
type Entry struct {
	ID   NodeID
	Hash page.Digest
}

// Proof is the minimal set of sibling hashes needed to recompute the root
// for a jointly-queried leaf set. Entries must be ascending by
// (Level, Index) with no duplicates; Verify enforces this.
type Proof struct {
	Entries []Entry
}

// NodeLookup is the narrow capability Verify uses to consult already
// verified internal nodes instead of requiring them in the proof. The
// node cache is passed in, not owned by the verifier, so the two stay
// decoupled.
type NodeLookup interface {
	Get(id NodeID) (page.Digest, bool)
}

// noLookup is used when the caller has no node cache to consult.
type noLookup struct{}

func (noLookup) Get(NodeID) (page.Digest, bool) { return page.Digest{}, false }

// NoCache is a NodeLookup that never has anything cached.
var NoCache NodeLookup = noLookup{}

// Verify reconstructs the root from the queried leaf hashes and proof,
// walking sibling paths bottom-up from the leaf frontier. It returns
// every internal node it computed along the way, for the caller to fold
// into the node cache after a successful verification, together with
// whether the recomputed root equals trustedRoot.
func Verify(
	hasher hash.Hash,
	shape Shape,
	leaves map[uint64]page.Digest,
	proof Proof,
	cache NodeLookup,
	trustedRoot page.Digest,
) ([]Entry, bool, error) {
	if len(leaves) == 0 {
		return nil, false, ErrEmptyFrontier
	}
	if cache == nil {
		cache = NoCache
	}

	proofByID := make(map[NodeID]page.Digest, len(proof.Entries))
	var prev NodeID
	for i, e := range proof.Entries {
		if i > 0 {
			switch {
			case prev == e.ID:
				return nil, false, ErrDuplicateProofEntry
			case !prev.Less(e.ID):
				return nil, false, ErrProofOutOfOrder
			}
		}
		proofByID[e.ID] = e.Hash
		prev = e.ID
	}
	usedProof := make(map[NodeID]bool, len(proofByID))

	frontier := make(map[NodeID]page.Digest, len(leaves)*2)
	for idx, h := range leaves {
		frontier[NodeID{Level: 0, Index: idx}] = h
	}

	var computed []Entry

	for level := uint8(0); level < shape.RootLevel; level++ {
		var ids []NodeID
		for id := range frontier {
			if id.Level == level {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

		done := make(map[NodeID]bool, len(ids))
		for _, id := range ids {
			if done[id] {
				continue
			}
			sib := shape.Sibling(id)
			sibHash, err := resolveSibling(shape, frontier, cache, proofByID, usedProof, sib)
			if err != nil {
				return nil, false, err
			}
			done[id] = true
			done[sib] = true

			var left, right page.Digest
			if id.Index%2 == 0 {
				left, right = frontier[id], sibHash
			} else {
				left, right = sibHash, frontier[id]
			}
			parent := shape.Parent(id)
			parentHash := page.Internal(hasher, left, right)
			frontier[parent] = parentHash
			computed = append(computed, Entry{ID: parent, Hash: parentHash})
		}
		for id := range done {
			delete(frontier, id)
		}
	}

	for id := range proofByID {
		if !usedProof[id] {
			return computed, false, ErrUnconsumedProofEntry
		}
	}

	root, ok := frontier[NodeID{Level: shape.RootLevel, Index: 0}]
	if !ok || len(frontier) != 1 {
		return computed, false, ErrVerifyFailed
	}
	if root != trustedRoot {
		return computed, false, nil
	}
	return computed, true, nil
}

func resolveSibling(
	shape Shape,
	frontier map[NodeID]page.Digest,
	cache NodeLookup,
	proofByID map[NodeID]page.Digest,
	usedProof map[NodeID]bool,
	sib NodeID,
) (page.Digest, error) {
	if h, ok := frontier[sib]; ok {
		return h, nil
	}
	if shape.FullyPadding(sib) {
		return page.PadHash(), nil
	}
	// The proof is consumed ahead of the cache: a store that ignores the
	// presence sketch and sends a sibling the client also holds must not
	// leave that entry dangling as unconsumed.
	if h, ok := proofByID[sib]; ok {
		usedProof[sib] = true
		return h, nil
	}
	if h, ok := cache.Get(sib); ok {
		return h, nil
	}
	return page.Digest{}, ErrMissingSibling
}

// Encode serializes a proof: a 4-byte big-endian count followed by that
// many (level:u8, index:u64, hash:[32]byte) records in ascending
// (level, index) order.
func Encode(p Proof) []byte {
	out := make([]byte, 4+len(p.Entries)*(1+8+page.HashBytes))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(p.Entries)))
	off := 4
	for _, e := range p.Entries {
		out[off] = e.ID.Level
		binary.BigEndian.PutUint64(out[off+1:off+9], e.ID.Index)
		copy(out[off+9:off+9+page.HashBytes], e.Hash[:])
		off += 1 + 8 + page.HashBytes
	}
	return out
}

// Decode parses the wire format produced by Encode.
func Decode(data []byte) (Proof, error) {
	if len(data) < 4 {
		return Proof{}, ErrProofTooShort
	}
	count := binary.BigEndian.Uint32(data[0:4])
	recordSize := 1 + 8 + page.HashBytes
	need := 4 + int(count)*recordSize
	if len(data) != need {
		return Proof{}, ErrProofBadLength
	}
	entries := make([]Entry, count)
	off := 4
	for i := range entries {
		level := data[off]
		index := binary.BigEndian.Uint64(data[off+1 : off+9])
		var hsh page.Digest
		copy(hsh[:], data[off+9:off+9+page.HashBytes])
		entries[i] = Entry{ID: NodeID{Level: level, Index: index}, Hash: hsh}
		off += recordSize
	}
	return Proof{Entries: entries}, nil
}
