// SPDX-License-Identifier: MPL-2.0

// Package platform holds file-system rules of the platforms the host runs on.
package platform

import "strings"

// windowsReservedNames are device names Windows refuses as file names,
// whatever their extension.
//
//nolint:gochecknoglobals // Read-only lookup table.
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// IsWindowsReservedName reports whether a single path element names a
// Windows device. Everything from the first dot is ignored, so "nul.txt"
// and "COM1.tar.gz" are reserved too.
func IsWindowsReservedName(name string) bool {
	stem, _, _ := strings.Cut(name, ".")
	return windowsReservedNames[strings.ToUpper(strings.TrimRight(stem, " "))]
}

// ReservedElement returns the first element of a slash-separated path that
// is a Windows reserved name, or "" when there is none.
func ReservedElement(path string) string {
	for elem := range strings.SplitSeq(path, "/") {
		if elem != "" && IsWindowsReservedName(elem) {
			return elem
		}
	}
	return ""
}
