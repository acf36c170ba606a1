// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ChecksumsAssetName is the release asset consulted for SHA256 digests.
const ChecksumsAssetName = "checksums.txt"

var (
	// ErrChecksumMismatch indicates the computed SHA256 does not match the expected one.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrAssetNotFound indicates a file has no entry in checksums.txt or a
	// release has no asset by that name.
	ErrAssetNotFound = errors.New("asset not found")

	errNoValidEntries = errors.New("no valid checksum entries found")
)

type (
	// ChecksumEntry is one line of a checksums file.
	ChecksumEntry struct {
		Hash     string // Lowercase hex SHA256
		Filename string
	}

	// ChecksumError describes a verification failure and wraps ErrChecksumMismatch.
	ChecksumError struct {
		Filename string
		Expected string
		Got      string
	}
)

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s\nExpected: %s\nGot:      %s", e.Filename, e.Expected, e.Got)
}

// Unwrap returns ErrChecksumMismatch so callers can use errors.Is.
func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// ParseChecksums reads sha256sum output ("<hash>  <file>", or "<hash> *<file>"
// for binary mode) as well as BSD-style "SHA256 (<file>) = <hash>" lines.
// Unrecognized lines are skipped; a file with no valid lines is an error.
func ParseChecksums(r io.Reader) ([]ChecksumEntry, error) {
	var entries []ChecksumEntry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if e, ok := parseChecksumLine(strings.TrimSpace(scanner.Text())); ok {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksums: %w", err)
	}

	if len(entries) == 0 {
		return nil, errNoValidEntries
	}
	return entries, nil
}

func parseChecksumLine(line string) (ChecksumEntry, bool) {
	if rest, ok := strings.CutPrefix(line, "SHA256 ("); ok {
		name, hash, found := strings.Cut(rest, ") = ")
		if !found || name == "" || !isValidHexHash(hash) {
			return ChecksumEntry{}, false
		}
		return ChecksumEntry{Hash: strings.ToLower(hash), Filename: name}, true
	}

	hash, name, found := strings.Cut(line, " ")
	if !found || !isValidHexHash(hash) {
		return ChecksumEntry{}, false
	}
	name = strings.TrimPrefix(strings.TrimLeft(name, " "), "*")
	if name == "" {
		return ChecksumEntry{}, false
	}
	return ChecksumEntry{Hash: strings.ToLower(hash), Filename: name}, true
}

// FindChecksum returns the hash recorded for filename. Release assets are
// often produced on Windows, so names compare case-insensitively.
func FindChecksum(entries []ChecksumEntry, filename string) (string, error) {
	for _, e := range entries {
		if strings.EqualFold(e.Filename, filename) {
			return e.Hash, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrAssetNotFound, filename)
}

// VerifyFile hashes the file at path and compares it with expectedHash,
// returning a *ChecksumError on mismatch.
func VerifyFile(path, expectedHash string) error {
	got, err := ComputeFileHash(path)
	if err != nil {
		return err
	}

	if !strings.EqualFold(got, expectedHash) {
		return &ChecksumError{
			Filename: path,
			Expected: strings.ToLower(expectedHash),
			Got:      got,
		}
	}
	return nil
}

// ComputeFileHash returns the lowercase hex SHA256 of the file at path.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // read-only file handle

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isValidHexHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
