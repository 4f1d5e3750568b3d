// Package compression encodes HTTP responses with zstd when the client asks
// for it.
package compression

import (
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Encoding is the Content-Encoding token for zstd.
const Encoding = "zstd"

// MinSize is the smallest payload worth compressing.
const MinSize = 128

type Compressor struct {
	level   zstd.EncoderLevel
	enabled bool
}

func NewCompressor(level int, enabled bool) *Compressor {
	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 2:
		encoderLevel = zstd.SpeedDefault
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	case 4:
		encoderLevel = zstd.SpeedBestCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}
	return &Compressor{level: encoderLevel, enabled: enabled}
}

// Enabled reports whether responses may be compressed at all.
func (c *Compressor) Enabled() bool { return c != nil && c.enabled }

// Negotiate reports whether a response of size bytes should be encoded for
// a request carrying the given Accept-Encoding header.
func (c *Compressor) Negotiate(acceptEncoding string, size int64) bool {
	if !c.Enabled() || size < MinSize {
		return false
	}
	for _, part := range strings.Split(acceptEncoding, ",") {
		token, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(token), Encoding) {
			continue
		}
		return quality(params) > 0
	}
	return false
}

// quality returns the q parameter of an Accept-Encoding entry. A missing q
// means 1; an unparsable one is treated as a refusal.
func quality(params string) float64 {
	for _, p := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0
		}
		return q
	}
	return 1
}

// NewWriter returns a streaming encoder writing to w. Closing it flushes the
// final frame but does not close w.
func (c *Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w,
		zstd.WithEncoderLevel(c.level),
		zstd.WithEncoderConcurrency(1),
	)
}

// Decompress decodes a complete zstd payload.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
