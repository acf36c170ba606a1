// SPDX-License-Identifier: MPL-2.0

package pkgindex

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// ErrDecompression is returned when the compressed block cannot be expanded
// to exactly the recorded decompressed size.
var ErrDecompression = errors.New("decompression failed")

type (
	// Compressor compresses the entry table as one block. It performs no
	// framing; the codec records both sizes in the file header.
	Compressor interface {
		Compress(src []byte) ([]byte, error)
		Decompress(src []byte, decompressedSize int) ([]byte, error)
	}

	// LZ4HC is a raw LZ4 block compressor using the high-compression encoder.
	// Its output is readable by any LZ4 block decoder.
	LZ4HC struct {
		// Level is the HC search depth. The zero value selects lz4.Level9.
		Level lz4.CompressionLevel
	}
)

// Compress encodes src as a single LZ4 block.
func (c LZ4HC) Compress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return []byte{}, nil
	}

	level := c.Level
	if level == 0 {
		level = lz4.Level9
	}

	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlockHC(src, dst, level, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("lz4 compress: no output for %d input bytes", len(src))
	}
	return dst[:n], nil
}

// Decompress expands an LZ4 block into exactly decompressedSize bytes.
func (c LZ4HC) Decompress(src []byte, decompressedSize int) ([]byte, error) {
	if decompressedSize < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrDecompression, decompressedSize)
	}
	if decompressedSize == 0 {
		if len(src) != 0 {
			return nil, fmt.Errorf("%w: %d compressed bytes for an empty block", ErrDecompression, len(src))
		}
		return []byte{}, nil
	}

	dst := make([]byte, decompressedSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompression, err)
	}
	if n != decompressedSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrDecompression, n, decompressedSize)
	}
	return dst, nil
}
