package cache

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to a stored body. The codec is
// recorded in every envelope, so entries written under one configuration
// remain readable after the configured codec changes.
type Codec string

const (
	CodecNone Codec = "none"
	CodecGzip Codec = "gzip"
	CodecLZ4  Codec = "lz4"
	CodecZstd Codec = "zstd"
)

// ParseCodec maps a codec name to a Codec. The empty string is treated as
// CodecNone so envelopes from before the codec tag existed stay readable.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecNone:
		return CodecNone, nil
	case CodecGzip:
		return CodecGzip, nil
	case CodecLZ4:
		return CodecLZ4, nil
	case CodecZstd:
		return CodecZstd, nil
	default:
		return "", fmt.Errorf("unknown codec %q", s)
	}
}

// Valid reports whether c is one of the supported codecs.
func (c Codec) Valid() bool {
	_, err := ParseCodec(string(c))
	return err == nil && c != ""
}

// Shared zstd coder pair. EncodeAll/DecodeAll on these are safe for
// concurrent use.
var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

// Compress encodes data with the codec.
func (c Codec) Compress(data []byte) ([]byte, error) {
	switch c {
	case "", CodecNone:
		return data, nil

	case CodecGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		return buf.Bytes(), nil

	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			w.Close()
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil

	case CodecZstd:
		zstdEncOnce.Do(func() {
			zstdEnc, _ = zstd.NewWriter(nil)
		})
		if zstdEnc == nil {
			return nil, fmt.Errorf("zstd encoder unavailable")
		}
		return zstdEnc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil

	default:
		return nil, fmt.Errorf("unknown codec %q", string(c))
	}
}

// Decompress decodes data with the codec.
func (c Codec) Decompress(data []byte) ([]byte, error) {
	switch c {
	case "", CodecNone:
		return data, nil

	case CodecGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}
		return out, nil

	case CodecLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil

	case CodecZstd:
		zstdDecOnce.Do(func() {
			zstdDec, _ = zstd.NewReader(nil)
		})
		if zstdDec == nil {
			return nil, fmt.Errorf("zstd decoder unavailable")
		}
		out, err := zstdDec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown codec %q", string(c))
	}
}
