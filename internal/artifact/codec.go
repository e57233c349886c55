// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package artifact

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec selects the on-disk compression for artifacts. Wide schemas produce
// large descriptions; compressed artifacts keep the bindings directory small
// at the cost of a little load time.
type Codec string

const (
	CodecNone   Codec = "none"
	CodecGzip   Codec = "gzip"
	CodecZstd   Codec = "zstd"
	CodecBrotli Codec = "brotli"
)

type codecExt struct {
	codec Codec
	ext   string
}

// codecExtensions maps each codec to the artifact file extension, in probe
// order for Find.
var codecExtensions = []codecExt{
	{CodecNone, ".json"},
	{CodecZstd, ".json.zst"},
	{CodecGzip, ".json.gz"},
	{CodecBrotli, ".json.br"},
}

// StripCodecExtension removes a known artifact extension from p, reporting
// whether p carried one. Paths without one are not artifacts.
func StripCodecExtension(p string) (string, bool) {
	for _, ce := range codecExtensions {
		if strings.HasSuffix(p, ce.ext) {
			return strings.TrimSuffix(p, ce.ext), true
		}
	}
	return p, false
}

// ParseCodec parses a config value into a Codec. Empty means none.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CodecNone, nil
	case "gzip":
		return CodecGzip, nil
	case "zstd":
		return CodecZstd, nil
	case "brotli":
		return CodecBrotli, nil
	default:
		return "", fmt.Errorf("unknown artifact compression %q", s)
	}
}

// Extension returns the artifact file extension for the codec.
func (c Codec) Extension() string {
	for _, ce := range codecExtensions {
		if ce.codec == c {
			return ce.ext
		}
	}
	return ".json"
}

// Compress encodes data with the codec.
func (c Codec) Compress(data []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecGzip:
		var buf bytes.Buffer
		zw := kgzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("gzip artifact: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("close gzip writer: %w", err)
		}
		return buf.Bytes(), nil
	case CodecZstd:
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("zstd artifact: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("close zstd writer: %w", err)
		}
		return buf.Bytes(), nil
	case CodecBrotli:
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		if _, err := bw.Write(data); err != nil {
			return nil, fmt.Errorf("brotli artifact: %w", err)
		}
		if err := bw.Close(); err != nil {
			return nil, fmt.Errorf("close brotli writer: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown artifact codec %q", c)
	}
}

// Decompress decodes data written by Compress.
func (c Codec) Decompress(data []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecGzip:
		zr, err := kgzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open gzip artifact: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gunzip artifact: %w", err)
		}
		return out, nil
	case CodecZstd:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open zstd artifact: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("unzstd artifact: %w", err)
		}
		return out, nil
	case CodecBrotli:
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("unbrotli artifact: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown artifact codec %q", c)
	}
}
