// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// notesWordWrap is the column width release notes are wrapped at.
const notesWordWrap = 80

// renderReleaseNotes renders markdown release notes for the terminal. An empty
// style auto-detects the terminal background. The raw body is returned when
// rendering fails so the notes are never lost.
func renderReleaseNotes(body, style string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}

	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(notesWordWrap))
	if err != nil {
		return body + "\n"
	}
	out, err := r.Render(body)
	if err != nil {
		return body + "\n"
	}
	return out
}
