package remote

import (
	"bytes"
	"io"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/zstd"
)

var layerEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

// fileLayer is one cached file as a zstd-compressed OCI layer. Digests are
// computed once when the layer is built.
type fileLayer struct {
	raw    []byte
	packed []byte
	digest v1.Hash
	diffID v1.Hash
}

var _ v1.Layer = (*fileLayer)(nil)

func newFileLayer(data []byte) (*fileLayer, error) {
	l := &fileLayer{raw: data, packed: layerEncoder.EncodeAll(data, nil)}
	var err error
	if l.digest, _, err = v1.SHA256(bytes.NewReader(l.packed)); err != nil {
		return nil, err
	}
	if l.diffID, _, err = v1.SHA256(bytes.NewReader(l.raw)); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *fileLayer) Digest() (v1.Hash, error) { return l.digest, nil }
func (l *fileLayer) DiffID() (v1.Hash, error) { return l.diffID, nil }
func (l *fileLayer) Size() (int64, error)     { return int64(len(l.packed)), nil }

func (l *fileLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

func (l *fileLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.packed)), nil
}

func (l *fileLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.raw)), nil
}
