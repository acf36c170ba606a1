// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/hound-tools/updater/internal/config"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   config.AppName,
		Short: "Keep Greyhound and its package index up to date",
		Long: TitleStyle.Render(config.AppName) + SubtitleStyle.Render(" - updater for Greyhound and its package index") + `

hound-updater checks GitHub for a newer Greyhound release, closes the
running program, installs the release over the install directory and
starts it again. It also builds, inspects and syncs the package index
(.wni) files Greyhound uses to name assets.

` + SubtitleStyle.Render("Examples:") + `
  hound-updater check               Report whether an update exists
  hound-updater run --yes           Install the newest release
  hound-updater index sync          Rebuild package_index from GitHub
  hound-updater index dump x.wni    Print an index as CSV`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			app.setVerbose(app.verboseFlag)
			app.installLogger()
		},
	}

	root.PersistentFlags().BoolVarP(&app.verboseFlag, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is <config dir>/hound-updater/config.cue)")

	root.AddCommand(
		newRunCommand(app),
		newCheckCommand(app),
		newIndexCommand(app),
		newConfigCommand(app),
	)
	return root
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(exitUserError)
	}
}
