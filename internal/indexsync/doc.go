// SPDX-License-Identifier: MPL-2.0

// Package indexsync keeps a directory of compiled package index files in
// step with the CSV dataset published in a GitHub repository. Each CSV in
// the repository snapshot becomes one ".wni" file; a TOML state file records
// which commit the directory was built from.
package indexsync
