package merkletree

import "errors"

var (
	ErrEmptyFrontier        = errors.New("merkletree: queried leaf set must not be empty")
	ErrDuplicateProofEntry  = errors.New("merkletree: duplicate node id in proof")
	ErrProofOutOfOrder      = errors.New("merkletree: proof entries must be strictly ascending by (level, index)")
	ErrMissingSibling       = errors.New("merkletree: no sibling hash available in proof, node cache, or padding")
	ErrUnconsumedProofEntry = errors.New("merkletree: proof contained entries not required to reach the root")
	ErrVerifyFailed         = errors.New("merkletree: recomputed root does not match the trusted root")
	ErrProofTooShort        = errors.New("merkletree: proof blob shorter than the count header")
	ErrProofBadLength       = errors.New("merkletree: proof blob length does not match its count header")
)
