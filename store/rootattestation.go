package store

import (
	"github.com/datatrails/go-datatrails-common/cbor"
	commoncose "github.com/datatrails/go-datatrails-common/cose"
	gocose "github.com/veraison/go-cose"

	"github.com/v2fs/v2fs/page"
)

// attestedRoot is the CBOR payload a server signs over: the version its
// root commits to, and the root digest itself.
type attestedRoot struct {
	Version uint64
	Root    page.Digest
}

// VerifyRootAttestation checks a COSE-signed root against verifier and
// returns the attested version and root on success: the server signs
// the root with COSE_Sign1 and the client checks it against a public
// key it already trusts.
func VerifyRootAttestation(
	codec cbor.CBORCodec,
	msg *commoncose.CoseSign1Message,
	verifier gocose.Verifier,
) (version uint64, root page.Digest, err error) {
	if err := msg.Verify(nil, verifier); err != nil {
		return 0, page.Digest{}, ErrRootAttestationFailed
	}

	var attested attestedRoot
	if err := codec.UnmarshalInto(msg.Payload, &attested); err != nil {
		return 0, page.Digest{}, err
	}

	return attested.Version, attested.Root, nil
}
