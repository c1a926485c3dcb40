package store

import (
	commoncbor "github.com/datatrails/go-datatrails-common/cbor"
	"github.com/fxamacker/cbor/v2"

	"github.com/v2fs/v2fs/page"
)

var (
	encOptions = commoncbor.NewDeterministicEncOpts()
	decOptions = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
		IntDec:      cbor.IntDecConvertNone,
		TagsMd:      cbor.TagsForbidden,
	}
)

// wireDelta is the CBOR-on-the-wire shape of a VbfDelta.
type wireDelta struct {
	FromVersion uint64
	ToVersion   uint64
	Changed     []wireChange
}

type wireChange struct {
	PageID  uint64
	Version uint64
}

// NewVbfDeltaCodec builds the CBOR codec used to encode and decode
// VbfDelta blobs.
func NewVbfDeltaCodec() (commoncbor.CBORCodec, error) {
	return commoncbor.NewCBORCodec(encOptions, decOptions)
}

// EncodeVbfDelta serializes a VbfDelta for transport.
func EncodeVbfDelta(codec commoncbor.CBORCodec, delta VbfDelta) ([]byte, error) {
	w := wireDelta{
		FromVersion: delta.FromVersion,
		ToVersion:   delta.ToVersion,
		Changed:     make([]wireChange, len(delta.Changed)),
	}
	for i, c := range delta.Changed {
		w.Changed[i] = wireChange{PageID: uint64(c.PageID), Version: c.Version}
	}
	return codec.MarshalCBOR(w)
}

// DecodeVbfDelta parses a VbfDelta blob produced by EncodeVbfDelta.
func DecodeVbfDelta(codec commoncbor.CBORCodec, data []byte) (VbfDelta, error) {
	var w wireDelta
	if err := codec.UnmarshalInto(data, &w); err != nil {
		return VbfDelta{}, err
	}
	delta := VbfDelta{
		FromVersion: w.FromVersion,
		ToVersion:   w.ToVersion,
		Changed:     make([]PageChange, len(w.Changed)),
	}
	for i, c := range w.Changed {
		delta.Changed[i] = PageChange{PageID: page.ID(c.PageID), Version: c.Version}
	}
	return delta, nil
}
