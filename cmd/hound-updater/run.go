// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/hound-tools/updater/internal/config"
	"github.com/hound-tools/updater/internal/selfupdate"
)

type (
	// updateParams bundles the dependencies and flags of the run and check
	// commands, so runUpdate can be tested without Cobra or a live GitHub API.
	updateParams struct {
		stdout     io.Writer
		logger     *log.Logger
		updater    *selfupdate.Updater
		hostName   string
		target     string // release tag to install, empty for the newest stable release
		checkOnly  bool   // report availability without installing
		viaClient  bool   // install in place; otherwise open the download in a browser
		yes        bool   // skip the confirmation prompt
		confirm    ConfirmFunc
		openURL    func(ctx context.Context, url string) error
		notesStyle string
		exitDelay  time.Duration
		sleep      func(time.Duration)
	}

	// updateFlags are the command-line overrides shared by run and check.
	updateFlags struct {
		currentVersion string
		installDir     string
		assetPattern   string
		target         string
		yes            bool
	}
)

// newRunCommand creates `hound-updater run`. The optional positional
// arguments mirror how the host launches the updater:
// owner, repository, display name, host executable and "true" to install in place.
func newRunCommand(app *App) *cobra.Command {
	var flags updateFlags

	cmd := &cobra.Command{
		Use:   "run [owner repo app executable via-client]",
		Short: "Install the newest release of the host",
		Long: `Install the newest release of the host application.

run looks up the newest stable release on GitHub, shows its release notes
and asks for confirmation. It then closes the running host, downloads the
release archive into the install directory, extracts it over the existing
files (never overwriting the updater itself), starts the host again and
exits.

When download_via_client is false the release is opened in a browser
instead of being installed.`,
		Example: `  # Update using the configured host
  hound-updater run

  # The way Greyhound launches the updater
  hound-updater run Scobalula Greyhound Greyhound Greyhound.exe true

  # Install a specific release without prompting
  hound-updater run --target v2.1.71 --yes --current-version 2.1.70`,
		Args: cobra.MaximumNArgs(5),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runUpdateCommand(cmd, args, flags, false)
		},
	}

	addUpdateFlags(cmd, &flags)
	cmd.Flags().StringVar(&flags.target, "target", "", "release tag to install instead of the newest stable release")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

// newCheckCommand creates `hound-updater check`.
func newCheckCommand(app *App) *cobra.Command {
	var flags updateFlags

	cmd := &cobra.Command{
		Use:   "check [version]",
		Short: "Report whether a newer release of the host exists",
		Example: `  hound-updater check --current-version 2.1.70
  hound-updater check v2.1.71`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				flags.target = args[0]
			}
			return app.runUpdateCommand(cmd, nil, flags, true)
		},
	}

	addUpdateFlags(cmd, &flags)
	return cmd
}

func addUpdateFlags(cmd *cobra.Command, flags *updateFlags) {
	cmd.Flags().StringVar(&flags.currentVersion, "current-version", "", "installed host version (default host.current_version)")
	cmd.Flags().StringVar(&flags.installDir, "install-dir", "", "host install directory (default host.install_dir or the updater's directory)")
	cmd.Flags().StringVar(&flags.assetPattern, "asset", "", "glob selecting the release asset (default release.asset_pattern)")
}

// runUpdateCommand resolves configuration and wiring, then hands off to runUpdate.
func (a *App) runUpdateCommand(cmd *cobra.Command, args []string, flags updateFlags, checkOnly bool) error {
	ctx := cmd.Context()

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return a.reportError(err)
	}
	if err := applyUpdateOverrides(cfg, args, flags); err != nil {
		return a.reportError(err)
	}
	if cfg.Host.CurrentVersion == "" {
		return a.reportError(errUnknownVersion)
	}

	stdout := cmd.OutOrStdout()
	updater, err := a.newUpdater(cfg, newProgressPrinter(stdout).Handle)
	if err != nil {
		return a.reportError(err)
	}

	p := updateParams{
		stdout:     stdout,
		logger:     a.logger,
		updater:    updater,
		hostName:   cfg.Host.Name,
		target:     flags.target,
		checkOnly:  checkOnly,
		viaClient:  cfg.Release.DownloadViaClient,
		yes:        flags.yes,
		confirm:    a.confirm,
		openURL:    a.openURL,
		notesStyle: a.notesStyle,
		exitDelay:  cfg.UI.ExitDelay,
		sleep:      a.sleep,
	}
	if err := runUpdate(ctx, p); err != nil {
		return a.reportError(err)
	}
	return nil
}

// applyUpdateOverrides layers positional arguments and flags over cfg and
// revalidates the result.
func applyUpdateOverrides(cfg *config.Config, args []string, flags updateFlags) error {
	overrides := []func(string){
		func(v string) { cfg.Release.Owner = config.RepoSlug(v) },
		func(v string) { cfg.Release.Repo = config.RepoSlug(v) },
		func(v string) { cfg.Host.Name = v },
		func(v string) { cfg.Host.Executable = v },
		func(v string) { cfg.Release.DownloadViaClient = strings.EqualFold(strings.TrimSpace(v), "true") },
	}
	for i, arg := range args {
		overrides[i](arg)
	}

	if flags.currentVersion != "" {
		cfg.Host.CurrentVersion = flags.currentVersion
	}
	if flags.installDir != "" {
		cfg.Host.InstallDir = flags.installDir
	}
	if flags.assetPattern != "" {
		cfg.Release.AssetPattern = config.AssetPattern(flags.assetPattern)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return errors.Join(errs...)
	}
	return nil
}

// newUpdater wires an Updater for the configured host.
func (a *App) newUpdater(cfg *config.Config, progress selfupdate.ProgressFunc) (*selfupdate.Updater, error) {
	installDir, err := a.installDir(cfg)
	if err != nil {
		return nil, err
	}

	opts := []selfupdate.UpdaterOption{
		selfupdate.WithGitHubClient(a.newGitHubClient(cfg, cfg.Release.Owner.String(), cfg.Release.Repo.String())),
		selfupdate.WithProcessManager(a.Processes),
		selfupdate.WithAssetPattern(cfg.Release.AssetPattern.String()),
		selfupdate.WithProgress(progress),
	}
	if self, err := a.executable(); err == nil {
		opts = append(opts, selfupdate.WithSelfName(filepath.Base(self)))
	}

	target := selfupdate.Target{
		InstallDir:     installDir,
		Executable:     cfg.Host.Executable,
		CurrentVersion: cfg.Host.CurrentVersion,
	}
	a.logger.Debug("update target", "install_dir", installDir, "executable", target.Executable,
		"current", target.CurrentVersion, "repo", cfg.Release.Owner.String()+"/"+cfg.Release.Repo.String())
	return selfupdate.NewUpdater(target, opts...), nil
}

// runUpdate is the core of run and check, separated from Cobra for testability.
//
// Flow:
//  1. Check for a newer release.
//  2. If up to date, or in check mode, report and return.
//  3. In browser mode, open the release download and return.
//  4. Otherwise confirm (unless --yes), apply, and wait the exit delay.
func runUpdate(ctx context.Context, p updateParams) error {
	check, err := p.updater.Check(ctx, p.target)
	if err != nil {
		return fmt.Errorf("checking for updates: %w", err)
	}

	fmt.Fprintf(p.stdout, "Current version: %s\n", versionStyle.Render(check.CurrentVersion))
	fmt.Fprintf(p.stdout, "Latest version:  %s\n", versionStyle.Render(check.LatestVersion))

	if !check.UpdateAvailable {
		fmt.Fprintf(p.stdout, "\n%s\n", check.Message)
		return nil
	}

	if check.Release != nil {
		if notes := renderReleaseNotes(check.Release.Body, p.notesStyle); notes != "" {
			fmt.Fprintln(p.stdout)
			fmt.Fprint(p.stdout, notes)
		}
	}

	if p.checkOnly {
		fmt.Fprintf(p.stdout, "\nAn update is available: %s → %s\n", check.CurrentVersion, check.LatestVersion)
		fmt.Fprintln(p.stdout, "Run "+CmdStyle.Render("'hound-updater run'")+" to install.")
		return nil
	}

	if !p.viaClient {
		return openDownload(ctx, p, check)
	}

	if !p.yes {
		confirmed, confirmErr := p.confirm(
			fmt.Sprintf("Update %s from %s to %s?", p.hostName, check.CurrentVersion, check.LatestVersion),
			fmt.Sprintf("%s will be closed while the update is installed.", p.hostName),
		)
		if confirmErr != nil {
			return fmt.Errorf("confirmation prompt: %w", confirmErr)
		}
		if !confirmed {
			fmt.Fprintln(p.stdout, WarningStyle.Render("Update canceled."))
			return nil
		}
	}

	fmt.Fprintln(p.stdout)
	res, err := p.updater.Apply(ctx, check)
	if err != nil {
		return fmt.Errorf("applying update: %w", err)
	}

	if len(res.Skipped) > 0 {
		p.logger.Debug("archive entries skipped", "entries", res.Skipped)
	}
	fmt.Fprintln(p.stdout, SuccessStyle.Render(fmt.Sprintf("Updated %s to %s (%d files, %s downloaded)",
		p.hostName, check.LatestVersion, len(res.Files), formatBytes(res.Bytes))))

	if p.exitDelay > 0 {
		p.sleep(p.exitDelay)
	}
	return nil
}

// openDownload hands the release asset to the browser. A browser failure is
// not fatal because the URL is printed as well.
func openDownload(ctx context.Context, p updateParams, check *selfupdate.UpdateCheck) error {
	url, err := p.updater.OpenInBrowser(check)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.stdout, "\nDownload %s %s from:\n  %s\n", p.hostName, check.LatestVersion, CmdStyle.Render(url))
	if err := p.openURL(ctx, url); err != nil {
		p.logger.Warn("could not open browser", "err", err)
	}
	return nil
}
