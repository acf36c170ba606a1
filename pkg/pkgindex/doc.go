// SPDX-License-Identifier: MPL-2.0

// Package pkgindex reads, writes, and builds package index files.
//
// A package index maps 60-bit content identifiers to display strings. Indexes
// are built from comma-separated text sources and persisted in a compact
// little-endian container whose entry table is compressed as a single LZ4
// block:
//
//	offset  size  field
//	0       4     magic (0x20494E57, "WNI ")
//	4       2     version (1)
//	6       4     entry count
//	10      4     compressed block size
//	14      4     decompressed block size
//	18      n     compressed entry table
//
// Each entry in the decompressed table is an 8-byte identifier followed by the
// UTF-8 string and a single zero byte terminator.
//
// The package is organized into four concerns:
//   - mask.go and index.go: identifier masking and the in-memory table
//   - build.go: best-effort CSV ingestion (malformed lines are skipped)
//   - codec.go: binary encode/decode and file load/save
//   - compress.go: the block compressor used by the codec
package pkgindex
