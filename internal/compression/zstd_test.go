package compression_test

import (
	"bytes"
	"testing"

	"github.com/aweris/signproxy/internal/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	c := compression.NewCompressor(2, true)

	tests := []struct {
		name   string
		header string
		size   int64
		want   bool
	}{
		{"zstd accepted", "gzip, zstd", 4096, true},
		{"case insensitive", "ZSTD", 4096, true},
		{"quality zero refuses", "zstd;q=0", 4096, false},
		{"quality zero with decimals refuses", "zstd;q=0.0", 4096, false},
		{"quality zero padded refuses", "gzip, zstd ; q=0.000", 4096, false},
		{"partial quality accepts", "zstd;q=0.5", 4096, true},
		{"uppercase q", "zstd;Q=0", 4096, false},
		{"garbage quality refuses", "zstd;q=abc", 4096, false},
		{"other params ignored", "zstd;level=3", 4096, true},
		{"not offered", "gzip, br", 4096, false},
		{"too small", "zstd", 10, false},
		{"empty header", "", 4096, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Negotiate(tt.header, tt.size))
		})
	}
}

func TestNegotiateDisabled(t *testing.T) {
	c := compression.NewCompressor(2, false)
	assert.False(t, c.Negotiate("zstd", 1<<20))

	var nilCompressor *compression.Compressor
	assert.False(t, nilCompressor.Enabled())
}

func TestWriterRoundTrip(t *testing.T) {
	c := compression.NewCompressor(3, true)
	payload := bytes.Repeat([]byte("MZ signed payload "), 512)

	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Less(t, buf.Len(), len(payload))

	got, err := compression.Decompress(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
