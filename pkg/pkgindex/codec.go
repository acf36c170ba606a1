// SPDX-License-Identifier: MPL-2.0

package pkgindex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Magic identifies a package index file ("WNI " read as a little-endian uint32).
	Magic uint32 = 0x20494E57

	// Version is the format version written by Encode.
	Version uint16 = 1

	// HeaderSize is the fixed size of the file header in bytes.
	HeaderSize = 18

	// DefaultMaxDecompressedSize bounds the entry table accepted by Decode (256 MB).
	DefaultMaxDecompressedSize = 256 << 20

	// idSize is the width of an identifier in the entry table.
	idSize = 8
)

var (
	// ErrBadFormat is returned when the input does not start with Magic.
	ErrBadFormat = errors.New("not a package index file")

	// ErrSizeOverflow is returned when a count or size does not fit the format,
	// or a decompressed size exceeds the decoder limit.
	ErrSizeOverflow = errors.New("size overflow")

	// ErrEmbeddedNUL is returned when encoding a string that contains a zero
	// byte, which would terminate it early on decode.
	ErrEmbeddedNUL = errors.New("string contains a zero byte")

	errNilIndex = errors.New("nil index")

	defaultCodec = NewCodec()
)

type (
	// Header is the fixed-size prefix of a package index file.
	Header struct {
		Magic            uint32
		Version          uint16 // Recorded but not interpreted
		Count            uint32
		CompressedSize   uint32
		DecompressedSize uint32
	}

	// FormatError reports a magic number mismatch. It wraps ErrBadFormat.
	FormatError struct {
		Got uint32
	}

	// Codec encodes and decodes package index files.
	Codec struct {
		compressor      Compressor
		maxDecompressed int64
	}

	// Option configures a Codec during construction.
	Option func(*Codec)
)

// Error describes the unexpected magic value.
func (e *FormatError) Error() string {
	return fmt.Sprintf("not a package index file: magic 0x%08X, want 0x%08X", e.Got, Magic)
}

// Unwrap returns ErrBadFormat so callers can use errors.Is.
func (e *FormatError) Unwrap() error { return ErrBadFormat }

// WithCompressor replaces the default LZ4HC block compressor.
func WithCompressor(c Compressor) Option {
	return func(cd *Codec) {
		cd.compressor = c
	}
}

// WithMaxDecompressedSize sets the largest entry table Decode will allocate.
// Values <= 0 restore the default.
func WithMaxDecompressedSize(n int64) Option {
	return func(cd *Codec) {
		cd.maxDecompressed = n
	}
}

// NewCodec creates a Codec. Defaults: LZ4HC compression and a
// DefaultMaxDecompressedSize decode limit.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	if c.compressor == nil {
		c.compressor = LZ4HC{}
	}
	if c.maxDecompressed <= 0 {
		c.maxDecompressed = DefaultMaxDecompressedSize
	}
	return c
}

// Encode writes idx to w with the default Codec.
func Encode(w io.Writer, idx *Index) error { return defaultCodec.Encode(w, idx) }

// Decode reads an index from r with the default Codec.
func Decode(r io.Reader) (*Index, Header, error) { return defaultCodec.Decode(r) }

// Save writes idx to path with the default Codec.
func Save(idx *Index, path string) error { return defaultCodec.Save(idx, path) }

// Load reads the index file at path with the default Codec.
func Load(path string) (*Index, error) { return defaultCodec.Load(path) }

// Encode serializes the entries of idx in iteration order, compresses them as
// one block, and writes header and block to w.
func (c *Codec) Encode(w io.Writer, idx *Index) error {
	if idx == nil {
		return errNilIndex
	}
	if uint64(idx.Len()) > math.MaxUint32 {
		return fmt.Errorf("%w: %d entries", ErrSizeOverflow, idx.Len())
	}

	var table bytes.Buffer
	var idBuf [idSize]byte
	for id, value := range idx.All() {
		if strings.IndexByte(value, 0) >= 0 {
			return fmt.Errorf("entry 0x%x: %w", id, ErrEmbeddedNUL)
		}
		binary.LittleEndian.PutUint64(idBuf[:], id)
		table.Write(idBuf[:])
		table.WriteString(value)
		table.WriteByte(0)
	}
	if uint64(table.Len()) > math.MaxUint32 {
		return fmt.Errorf("%w: entry table is %d bytes", ErrSizeOverflow, table.Len())
	}

	block, err := c.compressor.Compress(table.Bytes())
	if err != nil {
		return fmt.Errorf("compressing entry table: %w", err)
	}
	if uint64(len(block)) > math.MaxUint32 {
		return fmt.Errorf("%w: compressed block is %d bytes", ErrSizeOverflow, len(block))
	}

	hdr := Header{
		Magic:            Magic,
		Version:          Version,
		Count:            uint32(idx.Len()),
		CompressedSize:   uint32(len(block)),
		DecompressedSize: uint32(table.Len()),
	}

	out := make([]byte, 0, HeaderSize+len(block))
	out = hdr.appendBinary(out)
	out = append(out, block...)
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("writing package index: %w", err)
	}
	return nil
}

// Decode reads a package index from r. A magic mismatch returns a
// *FormatError and no index; truncated input returns an error wrapping
// io.ErrUnexpectedEOF.
func (c *Codec) Decode(r io.Reader) (*Index, Header, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, hdr, err
	}

	if int64(hdr.DecompressedSize) > c.maxDecompressed {
		return nil, hdr, fmt.Errorf("%w: entry table of %d bytes exceeds limit of %d",
			ErrSizeOverflow, hdr.DecompressedSize, c.maxDecompressed)
	}

	// ReadAll grows the buffer as data arrives, so a corrupt size field on a
	// short file fails with a short read instead of a large allocation.
	block, err := io.ReadAll(io.LimitReader(r, int64(hdr.CompressedSize)))
	if err != nil {
		return nil, hdr, fmt.Errorf("reading compressed block: %w", err)
	}
	if len(block) != int(hdr.CompressedSize) {
		return nil, hdr, fmt.Errorf("reading compressed block: got %d of %d bytes: %w",
			len(block), hdr.CompressedSize, io.ErrUnexpectedEOF)
	}

	table, err := c.compressor.Decompress(block, int(hdr.DecompressedSize))
	if err != nil {
		return nil, hdr, fmt.Errorf("decompressing entry table: %w", err)
	}

	idx, err := decodeTable(table, hdr.Count)
	if err != nil {
		return nil, hdr, err
	}
	return idx, hdr, nil
}

// Save writes idx to path, replacing any existing file. The file is written
// to a temporary sibling first and renamed into place.
func (c *Codec) Save(idx *Index, path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pkgindex-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := c.Encode(tmp, idx); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	renamed = true

	return nil
}

// Load reads the package index file at path.
func (c *Codec) Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Read-only file handle; close errors are exotic.
		_ = f.Close()
	}()

	idx, _, err := c.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// ReadHeader reads and validates the fixed header. The magic is checked
// before the rest of the header is read, so a short file with the wrong
// magic still reports a format error.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	var hdr Header

	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return hdr, fmt.Errorf("reading magic: %w", noEOF(err))
	}
	hdr.Magic = binary.LittleEndian.Uint32(buf[0:4])
	if hdr.Magic != Magic {
		return hdr, &FormatError{Got: hdr.Magic}
	}

	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return hdr, fmt.Errorf("reading header: %w", noEOF(err))
	}
	hdr.Version = binary.LittleEndian.Uint16(buf[4:6])
	hdr.Count = binary.LittleEndian.Uint32(buf[6:10])
	hdr.CompressedSize = binary.LittleEndian.Uint32(buf[10:14])
	hdr.DecompressedSize = binary.LittleEndian.Uint32(buf[14:18])

	return hdr, nil
}

// appendBinary appends the little-endian header layout to b.
func (h Header) appendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	b = binary.LittleEndian.AppendUint16(b, h.Version)
	b = binary.LittleEndian.AppendUint32(b, h.Count)
	b = binary.LittleEndian.AppendUint32(b, h.CompressedSize)
	b = binary.LittleEndian.AppendUint32(b, h.DecompressedSize)
	return b
}

// decodeTable parses count entries from a decompressed entry table. Bytes
// after the last entry are ignored.
func decodeTable(table []byte, count uint32) (*Index, error) {
	idx := New()
	off := 0
	for i := range count {
		if len(table)-off < idSize {
			return nil, fmt.Errorf("entry %d: reading id: %w", i, io.ErrUnexpectedEOF)
		}
		id := binary.LittleEndian.Uint64(table[off:])
		off += idSize

		end := bytes.IndexByte(table[off:], 0)
		if end < 0 {
			return nil, fmt.Errorf("entry %d: unterminated string: %w", i, io.ErrUnexpectedEOF)
		}
		idx.Set(id, string(table[off:off+end]))
		off += end + 1
	}
	return idx, nil
}

// noEOF converts a clean EOF into io.ErrUnexpectedEOF: a header is never
// optional.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
