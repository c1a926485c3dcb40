package store

import "github.com/v2fs/v2fs/merkletree"

// PresenceSketch is the compact set of node IDs the client already holds
// verified, advertised alongside a fetch request. A RemoteStore may use
// it to omit sibling hashes the client can supply itself from its node
// cache, shrinking the proof; it is always safe for a store to ignore
// it and return every sibling, since the client falls back to the
// proof for anything it cannot resolve locally.
type PresenceSketch struct {
	ids map[merkletree.NodeID]struct{}
}

// NewPresenceSketch builds a sketch from an explicit set of node IDs.
func NewPresenceSketch(ids []merkletree.NodeID) PresenceSketch {
	s := PresenceSketch{ids: make(map[merkletree.NodeID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Has reports whether id is advertised as already present on the client.
func (s PresenceSketch) Has(id merkletree.NodeID) bool {
	if s.ids == nil {
		return false
	}
	_, ok := s.ids[id]
	return ok
}

// Len reports how many node ids the sketch advertises.
func (s PresenceSketch) Len() int { return len(s.ids) }
