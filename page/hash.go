package page

import (
	"crypto/sha256"
	"hash"
)

// padHash is the canonical value substituted for a missing sibling on the
// right spine when N is not a power of two. It is H over the empty
// input; this client and the ADS builder must agree on it exactly.
var padHash = sha256.Sum256(nil)

// PadHash returns H_pad, the zero-hash used to pad the right spine of the
// tree up to the next power of two.
func PadHash() Digest {
	return padHash
}

// NewHasher returns the hash.Hash implementation H used throughout v2fs.
// Centralizing construction here means every leaf and internal hash is
// computed with the exact same algorithm.
func NewHasher() hash.Hash {
	return sha256.New()
}

// Leaf computes H(page_bytes) for one verified page.
func Leaf(hasher hash.Hash, data []byte) (Digest, error) {
	if len(data) != Size {
		return Digest{}, ErrBadPageSize
	}
	hasher.Reset()
	hasher.Write(data)
	var out Digest
	copy(out[:], hasher.Sum(nil))
	return out, nil
}

// Internal computes H(left ∥ right) for one MHT internal node.
func Internal(hasher hash.Hash, left, right Digest) Digest {
	hasher.Reset()
	hasher.Write(left[:])
	hasher.Write(right[:])
	var out Digest
	copy(out[:], hasher.Sum(nil))
	return out
}
