// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/hound-tools/updater/internal/selfupdate"
)

// downloadStep is the percentage granularity of download progress lines.
const downloadStep = 10

// progressPrinter renders updater progress as one line per stage plus
// download percentages. Events arrive from a single goroutine.
type progressPrinter struct {
	w           io.Writer
	stage       selfupdate.Stage
	started     bool
	lastPercent int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

// Handle is a selfupdate.ProgressFunc.
func (p *progressPrinter) Handle(ev selfupdate.ProgressEvent) {
	if !p.started || ev.Stage != p.stage {
		p.started = true
		p.stage = ev.Stage
		p.lastPercent = -1
		fmt.Fprintf(p.w, "%s%s\n", stageStyle.Render(ev.Stage.String()), stageDescription(ev.Stage))
	}
	if ev.Stage != selfupdate.StageDownloading || ev.Total <= 0 {
		return
	}
	percent := int(ev.Current * 100 / ev.Total)
	step := percent / downloadStep * downloadStep
	if step <= p.lastPercent {
		return
	}
	p.lastPercent = step
	fmt.Fprintf(p.w, "%s%3d%% (%s / %s)\n", stageStyle.Render(""), step, formatBytes(ev.Current), formatBytes(ev.Total))
}

func stageDescription(s selfupdate.Stage) string {
	switch s {
	case selfupdate.StageChecking:
		return "Checking for updates..."
	case selfupdate.StageTerminating:
		return "Closing the running host..."
	case selfupdate.StageDownloading:
		return "Downloading update..."
	case selfupdate.StageVerifying:
		return "Verifying download..."
	case selfupdate.StageExtracting:
		return "Installing files..."
	case selfupdate.StageRelaunching:
		return "Starting host..."
	case selfupdate.StageCleanup:
		return "Cleaning up..."
	}
	return ""
}

// formatBytes renders n with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
