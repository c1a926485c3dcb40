package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/cbor"

	"github.com/v2fs/v2fs/merkletree"
	"github.com/v2fs/v2fs/page"
)

// AzureRemoteStore is a RemoteStore backed by blob storage, reached
// through azblob.Storer's narrow reader interface. It expects a
// three-blob layout per version: a pages blob (page id order,
// page.Size-byte records), a proof blob (the fixed wire format
// merkletree.Encode produces), and a root blob (8-byte big-endian
// version followed by the 32-byte root digest).
type AzureRemoteStore struct {
	storer   *azblob.Storer
	prefix   string
	vbfCodec cbor.CBORCodec
}

// NewAzureRemoteStore wraps storer for blobs under prefix.
func NewAzureRemoteStore(storer *azblob.Storer, prefix string) (*AzureRemoteStore, error) {
	codec, err := NewVbfDeltaCodec()
	if err != nil {
		return nil, err
	}
	return &AzureRemoteStore{storer: storer, prefix: prefix, vbfCodec: codec}, nil
}

func (s *AzureRemoteStore) blobPath(name string) string {
	return fmt.Sprintf("%s/%s", s.prefix, name)
}

func (s *AzureRemoteStore) readBlob(ctx context.Context, name string) ([]byte, error) {
	rr, err := s.storer.Reader(ctx, s.blobPath(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer rr.Reader.Close()

	data, err := io.ReadAll(rr.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return data, nil
}

// GetRoot reads the current version and trusted root from the root
// blob.
func (s *AzureRemoteStore) GetRoot(ctx context.Context) (uint64, page.Digest, error) {
	data, err := s.readBlob(ctx, "root")
	if err != nil {
		return 0, page.Digest{}, err
	}
	if len(data) != 8+page.HashBytes {
		return 0, page.Digest{}, fmt.Errorf("%w: root blob has unexpected length %d", ErrProtocol, len(data))
	}
	version := binary.BigEndian.Uint64(data[:8])
	var root page.Digest
	copy(root[:], data[8:])
	return version, root, nil
}

// FetchPages reads the requested pages and their joint proof from blob
// storage. The presence sketch is accepted but ignored: a static blob
// store cannot tailor the proof per request the way a live server can,
// so it always returns the full proof for the version's tree.
func (s *AzureRemoteStore) FetchPages(ctx context.Context, ids []page.ID, presence PresenceSketch) (FetchResult, error) {
	version, _, err := s.GetRoot(ctx)
	if err != nil {
		return FetchResult{}, err
	}

	proofData, err := s.readBlob(ctx, "proof")
	if err != nil {
		return FetchResult{}, err
	}
	proof, err := merkletree.Decode(proofData)
	if err != nil {
		return FetchResult{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	pagesData, err := s.readBlob(ctx, "pages")
	if err != nil {
		return FetchResult{}, err
	}

	out := make([][]byte, len(ids))
	for i, id := range ids {
		start := uint64(id) * page.Size
		end := start + page.Size
		if end > uint64(len(pagesData)) {
			return FetchResult{}, fmt.Errorf("%w: page %d out of range", ErrProtocol, id)
		}
		out[i] = pagesData[start:end]
	}

	return FetchResult{Pages: out, Proof: proof, Version: version}, nil
}

// GetVBFDelta reads and decodes the CBOR-encoded VbfDelta blob named
// for the version window.
func (s *AzureRemoteStore) GetVBFDelta(ctx context.Context, fromVersion, toVersion uint64) (VbfDelta, error) {
	name := fmt.Sprintf("vbfdelta-%d-%d", fromVersion, toVersion)
	data, err := s.readBlob(ctx, name)
	if err != nil {
		return VbfDelta{}, err
	}
	return DecodeVbfDelta(s.vbfCodec, data)
}
