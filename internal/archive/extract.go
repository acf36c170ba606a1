// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hound-tools/updater/internal/platform"
)

// defaultMaxFileBytes bounds a single extracted file (1 GB).
// Prevents decompression bombs from filling the installation volume.
const defaultMaxFileBytes = 1 << 30

var (
	// ErrPathEscape is returned when an entry would be written outside the
	// destination directory.
	ErrPathEscape = errors.New("archive entry escapes destination")

	// ErrEntryTooLarge is returned when an entry exceeds the per-file size limit.
	ErrEntryTooLarge = errors.New("archive entry too large")

	// ErrReservedName is returned for entries Windows cannot create, such as
	// "aux/readme.txt". They are rejected on every platform so a release
	// installs the same way everywhere.
	ErrReservedName = errors.New("archive entry uses a reserved file name")
)

type (
	// Result summarizes an extraction.
	Result struct {
		Files   []string // Destination paths written, in archive order
		Skipped []string // Archive names skipped by WithSkipNames or non-regular type
		Bytes   int64    // Total bytes written
	}

	// ProgressFunc receives the count of files written so far after each file.
	ProgressFunc func(files int, bytes int64)

	// Option configures Extract.
	Option func(*options)

	options struct {
		skip         map[string]bool
		strip        int
		maxFileBytes int64
		progress     ProgressFunc
	}
)

// WithSkipNames protects files whose base name matches one of names
// (case-insensitive) from being overwritten.
func WithSkipNames(names ...string) Option {
	return func(o *options) {
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				o.skip[strings.ToLower(n)] = true
			}
		}
	}
}

// WithStripComponents removes n leading path elements from every entry,
// like tar --strip-components. Entries with fewer elements are skipped.
func WithStripComponents(n int) Option {
	return func(o *options) {
		o.strip = max(n, 0)
	}
}

// WithMaxFileBytes overrides the per-file size limit.
func WithMaxFileBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFileBytes = n
		}
	}
}

// WithProgress registers a callback invoked after each file is written.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// Extract unpacks the archive at archivePath into destDir, overwriting
// existing files. Directory entries and entries with a blank base name are
// skipped; parent directories are created as needed.
func Extract(ctx context.Context, archivePath, destDir string, opts ...Option) (*Result, error) {
	o := options{
		skip:         make(map[string]bool),
		maxFileBytes: defaultMaxFileBytes,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination %s: %w", destDir, err)
	}

	res := &Result{}
	err := Walk(ctx, archivePath, func(e Entry, r io.Reader) error {
		if e.IsDir() {
			return nil
		}

		name := stripComponents(e.Name, o.strip)
		base := baseName(name)
		if strings.TrimSpace(base) == "" {
			return nil
		}
		if o.skip[strings.ToLower(base)] || !e.IsRegular() {
			slog.Debug("skipping archive entry", "name", e.Name, "mode", e.Mode)
			res.Skipped = append(res.Skipped, e.Name)
			return nil
		}

		rel := filepath.FromSlash(name)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("%w: %q", ErrPathEscape, e.Name)
		}
		if elem := platform.ReservedElement(name); elem != "" {
			return fmt.Errorf("%w: %q in %q", ErrReservedName, elem, e.Name)
		}

		target := filepath.Join(destDir, rel)
		n, err := writeFile(target, r, e.Mode.Perm(), o.maxFileBytes)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", e.Name, err)
		}

		res.Files = append(res.Files, target)
		res.Bytes += n
		if o.progress != nil {
			o.progress(len(res.Files), res.Bytes)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	return res, nil
}

// writeFile streams r into a temp file next to target and renames it over
// target. Files are written 0644, or 0755 when any execute bit is set in
// perm. The limit is enforced by reading one byte past it.
func writeFile(target string, r io.Reader, perm os.FileMode, limit int64) (written int64, err error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".extract-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	written, err = io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		return 0, fmt.Errorf("writing: %w", err)
	}
	if written > limit {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrEntryTooLarge, limit)
	}

	mode := os.FileMode(0o644)
	if perm&0o111 != 0 {
		mode = 0o755
	}
	if err := tmp.Chmod(mode); err != nil {
		return 0, fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, fmt.Errorf("replacing file: %w", err)
	}
	renamed = true

	return written, nil
}

// stripComponents drops the first n slash-separated elements of name.
func stripComponents(name string, n int) string {
	for range n {
		i := strings.IndexByte(name, '/')
		if i < 0 {
			return ""
		}
		name = name[i+1:]
	}
	return name
}

// baseName returns the final element of a slash-separated name, or "" for
// names ending in a slash.
func baseName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
