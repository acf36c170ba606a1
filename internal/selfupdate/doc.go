// SPDX-License-Identifier: MPL-2.0

// Package selfupdate keeps an installed host application current with its
// GitHub releases.
//
// The package is organized into four concerns:
//   - github.go: REST client for releases, commits, and downloads
//   - version.go: ordering of semantic and four-part numeric versions
//   - checksum.go: SHA256 checksum parsing and file verification
//   - selfupdate.go: Updater, which terminates the host, downloads and
//     extracts the release, and relaunches the host
package selfupdate
