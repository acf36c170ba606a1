// SPDX-License-Identifier: MPL-2.0

// Package archive unpacks update archives over an installation directory.
//
// Zip, gzip-compressed tar, and zstd-compressed tar archives are detected by
// their leading magic bytes. Extraction writes every regular file through a
// temporary sibling and a rename, skips directory entries and any base names
// the caller protects (such as the running updater), and rejects entries
// that would land outside the destination directory.
package archive
