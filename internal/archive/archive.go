// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

const (
	// FormatUnknown is returned for archives whose magic bytes are not recognized.
	FormatUnknown Format = iota
	// FormatZip is a PKZIP archive (GitHub zipballs, release assets).
	FormatZip
	// FormatTarGzip is a gzip-compressed tar archive.
	FormatTarGzip
	// FormatTarZstd is a zstd-compressed tar archive.
	FormatTarZstd
)

var (
	// ErrUnsupportedFormat is returned when the archive format cannot be detected.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	magicZip   = []byte("PK\x03\x04")
	magicEmpty = []byte("PK\x05\x06")
	magicGzip  = []byte{0x1f, 0x8b}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

type (
	// Format identifies an archive container.
	Format int

	// Entry describes one member of an archive as seen by Walk.
	Entry struct {
		Name string      // Slash-separated path inside the archive
		Mode fs.FileMode // Permission and type bits
		Size int64       // Uncompressed size, -1 when unknown
	}

	// WalkFunc is called for every archive member. r yields the member's
	// content and is only valid until WalkFunc returns.
	WalkFunc func(e Entry, r io.Reader) error
)

// String returns a short name for the format.
func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarZstd:
		return "tar.zst"
	case FormatUnknown:
		return "unknown"
	}
	return "unknown"
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Mode.IsDir() || strings.HasSuffix(e.Name, "/") }

// IsRegular reports whether the entry is a regular file.
func (e Entry) IsRegular() bool { return e.Mode.IsRegular() && !strings.HasSuffix(e.Name, "/") }

// DetectFormat identifies the archive container from its first bytes.
func DetectFormat(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, magicZip), bytes.HasPrefix(head, magicEmpty):
		return FormatZip
	case bytes.HasPrefix(head, magicGzip):
		return FormatTarGzip
	case bytes.HasPrefix(head, magicZstd):
		return FormatTarZstd
	}
	return FormatUnknown
}

// DetectFile reads the leading bytes of the file at archivePath and
// identifies its format.
func DetectFile(archivePath string) (Format, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return FormatUnknown, err
	}
	defer func() { _ = f.Close() }() // read-only file handle

	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("reading %s: %w", archivePath, err)
	}
	return DetectFormat(head[:n]), nil
}

// Walk calls fn for each member of the archive at archivePath in archive
// order. Walking stops at the first error returned by fn or when ctx is done.
func Walk(ctx context.Context, archivePath string, fn WalkFunc) error {
	format, err := DetectFile(archivePath)
	if err != nil {
		return err
	}

	switch format {
	case FormatZip:
		return walkZip(ctx, archivePath, fn)
	case FormatTarGzip, FormatTarZstd:
		return walkTar(ctx, archivePath, format, fn)
	case FormatUnknown:
	}
	return fmt.Errorf("%s: %w", archivePath, ErrUnsupportedFormat)
}

func walkZip(ctx context.Context, archivePath string, fn WalkFunc) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip %s: %w", archivePath, err)
	}
	defer func() { _ = zr.Close() }() // read-only

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry := Entry{
			Name: normalizeName(zf.Name),
			Mode: zf.Mode(),
			Size: int64(zf.UncompressedSize64), //nolint:gosec // sizes beyond int64 are rejected by the zip reader
		}

		if err := visitZipEntry(zf, entry, fn); err != nil {
			return err
		}
	}
	return nil
}

func visitZipEntry(zf *zip.File, entry Entry, fn WalkFunc) error {
	if entry.IsDir() {
		return fn(entry, bytes.NewReader(nil))
	}

	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", entry.Name, err)
	}
	defer func() { _ = rc.Close() }() // read-only

	return fn(entry, rc)
}

func walkTar(ctx context.Context, archivePath string, format Format, fn WalkFunc) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // read-only file handle

	var src io.Reader
	switch format {
	case FormatTarGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer func() { _ = gz.Close() }()
		src = gz
	default:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("creating zstd reader: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	tr := tar.NewReader(src)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		entry := Entry{
			Name: normalizeName(hdr.Name),
			Mode: hdr.FileInfo().Mode(),
			Size: hdr.Size,
		}
		if err := fn(entry, tr); err != nil {
			return err
		}
	}
}

// normalizeName converts an archive member name to slash-separated form.
// Backslashes written by Windows archivers are treated as separators. Names
// are not cleaned here; Extract rejects any that are not local.
func normalizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	return name
}
