// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hound-tools/updater/internal/archive"
	"github.com/hound-tools/updater/internal/hostproc"
)

// DefaultArchiveName is where the downloaded release asset is stored inside
// the install directory until extraction finishes.
const DefaultArchiveName = "Update.zip"

// Update stages, reported in this order by Apply.
const (
	StageChecking Stage = iota
	StageTerminating
	StageDownloading
	StageVerifying
	StageExtracting
	StageRelaunching
	StageCleanup
)

var (
	// ErrNoUpdate is returned by Apply when the check found nothing to install.
	ErrNoUpdate = errors.New("no update available")

	// ErrInvalidTarget indicates the host description is incomplete.
	ErrInvalidTarget = errors.New("invalid update target")

	// ErrHostRunning wraps failures to stop the host before installing.
	ErrHostRunning = errors.New("host could not be stopped")

	// ErrExtract wraps failures writing the release into the install directory.
	ErrExtract = errors.New("extraction failed")

	// ErrRelaunch wraps failures starting the host after installing.
	ErrRelaunch = errors.New("relaunching host")

	//nolint:gochecknoglobals // Test seam for os.Executable().
	osExecutable = os.Executable
)

type (
	// Stage identifies a step of the update flow.
	Stage int

	// ProgressEvent reports progress within a stage. Total is -1 when unknown.
	ProgressEvent struct {
		Stage   Stage
		Current int64
		Total   int64
	}

	// ProgressFunc receives progress events. It is called from the goroutine
	// running Check or Apply.
	ProgressFunc func(ProgressEvent)

	// Target describes the installed host application.
	Target struct {
		InstallDir     string   // Directory the release archive is extracted into
		Executable     string   // Host executable file name, e.g. "Greyhound.exe"
		ProcessName    string   // Defaults to hostproc.ProcessName(Executable)
		CurrentVersion string   // Installed host version
		Args           []string // Arguments passed when relaunching the host
	}

	// UpdateCheck is the result of comparing the installed version with the
	// newest release.
	UpdateCheck struct {
		CurrentVersion  string
		LatestVersion   string
		Release         *Release // nil when no release was resolved
		Asset           *Asset   // Asset to install, nil when up to date
		UpdateAvailable bool
		Message         string
	}

	// ApplyResult summarizes a completed update.
	ApplyResult struct {
		Terminated int      // Host processes killed before extraction
		Archive    string   // Path the asset was downloaded to (removed afterwards)
		Files      []string // Files written into the install directory
		Skipped    []string // Archive entries that were not written
		Bytes      int64    // Downloaded bytes
	}

	// Updater runs the check, download, extract, and relaunch flow for one host.
	Updater struct {
		client       *GitHubClient
		procs        hostproc.Manager
		target       Target
		assetPattern string
		archiveName  string
		selfName     string
		progress     ProgressFunc
	}

	// UpdaterOption configures an Updater during construction.
	UpdaterOption func(*Updater)

	// progressWriter counts bytes written and reports them as download progress.
	progressWriter struct {
		ctx     context.Context
		total   int64
		written int64
		report  func(ProgressEvent)
	}
)

func (s Stage) String() string {
	switch s {
	case StageChecking:
		return "checking"
	case StageTerminating:
		return "terminating"
	case StageDownloading:
		return "downloading"
	case StageVerifying:
		return "verifying"
	case StageExtracting:
		return "extracting"
	case StageRelaunching:
		return "relaunching"
	case StageCleanup:
		return "cleanup"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// WithGitHubClient overrides the release client.
func WithGitHubClient(c *GitHubClient) UpdaterOption {
	return func(u *Updater) {
		u.client = c
	}
}

// WithProcessManager overrides how host processes are found and started.
func WithProcessManager(m hostproc.Manager) UpdaterOption {
	return func(u *Updater) {
		u.procs = m
	}
}

// WithAssetPattern selects the release asset whose name matches the glob
// pattern (case-insensitive). By default the first asset is used.
func WithAssetPattern(pattern string) UpdaterOption {
	return func(u *Updater) {
		u.assetPattern = strings.TrimSpace(pattern)
	}
}

// WithArchiveName changes the download file name inside the install directory.
func WithArchiveName(name string) UpdaterOption {
	return func(u *Updater) {
		if name != "" {
			u.archiveName = name
		}
	}
}

// WithSelfName sets the file name extraction must never overwrite. It
// defaults to the running executable's base name.
func WithSelfName(name string) UpdaterOption {
	return func(u *Updater) {
		u.selfName = name
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) UpdaterOption {
	return func(u *Updater) {
		u.progress = fn
	}
}

// NewUpdater creates an Updater for target. Without options it queries the
// default repository and manages processes on the local machine.
func NewUpdater(target Target, opts ...UpdaterOption) *Updater {
	u := &Updater{
		target:      target,
		archiveName: DefaultArchiveName,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.client == nil {
		u.client = NewGitHubClient()
	}
	if u.procs == nil {
		u.procs = hostproc.NewSystem()
	}
	if u.target.ProcessName == "" {
		u.target.ProcessName = hostproc.ProcessName(u.target.Executable)
	}
	if u.selfName == "" {
		if exe, err := osExecutable(); err == nil {
			u.selfName = filepath.Base(exe)
		}
	}
	return u
}

// Target returns the host description with defaults applied.
func (u *Updater) Target() Target { return u.target }

// Check compares the installed version with the newest stable release, or
// with targetVersion when it is not empty.
func (u *Updater) Check(ctx context.Context, targetVersion string) (*UpdateCheck, error) {
	u.report(ProgressEvent{Stage: StageChecking, Total: -1})

	current, err := ParseVersion(u.target.CurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("current version: %w", err)
	}

	release, err := u.resolveRelease(ctx, targetVersion)
	if err != nil {
		return nil, err
	}

	latest, err := ParseVersion(release.TagName)
	if err != nil {
		return nil, fmt.Errorf("release version: %w", err)
	}

	check := &UpdateCheck{
		CurrentVersion: u.target.CurrentVersion,
		LatestVersion:  release.TagName,
		Release:        release,
	}

	cmp := current.Compare(latest)
	switch {
	case cmp >= 0 && current.IsPrerelease():
		check.Message = fmt.Sprintf("Running pre-release %s (ahead of %s).", current, latest)
		return check, nil
	case cmp >= 0:
		check.Message = "Already up to date."
		return check, nil
	}

	asset, err := selectAsset(release.Assets, u.assetPattern)
	if err != nil {
		return nil, fmt.Errorf("release %s: %w", release.TagName, err)
	}

	check.Asset = asset
	check.UpdateAvailable = true
	check.Message = fmt.Sprintf("Update available: %s -> %s", current, latest)
	return check, nil
}

// Apply installs the update found by Check: it terminates the running host,
// downloads the asset into the install directory, verifies it against the
// release's checksums.txt when one exists, extracts it over the install
// directory, relaunches the host, and removes the download.
//
// Once the host has been terminated it is restarted even when a later step
// fails, so a broken download never leaves the user without the host. The
// step's failure is still returned.
func (u *Updater) Apply(ctx context.Context, check *UpdateCheck) (res *ApplyResult, err error) {
	if check == nil || !check.UpdateAvailable || check.Asset == nil {
		return nil, ErrNoUpdate
	}
	if err := u.validateTarget(); err != nil {
		return nil, err
	}

	res = &ApplyResult{}

	u.report(ProgressEvent{Stage: StageTerminating, Total: -1})
	n, err := u.procs.Terminate(ctx, u.target.ProcessName)
	res.Terminated = n
	if err != nil {
		return res, fmt.Errorf("%w: terminating %s: %w", ErrHostRunning, u.target.ProcessName, err)
	}

	hostPath := filepath.Join(u.target.InstallDir, u.target.Executable)
	relaunched := false
	defer func() {
		if err == nil || relaunched {
			return
		}
		if startErr := u.procs.Start(context.WithoutCancel(ctx), hostPath, u.target.Args...); startErr != nil {
			slog.Warn("could not restart host after failed update", "path", hostPath, "error", startErr)
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrRelaunch, startErr))
		}
	}()

	archivePath := filepath.Join(u.target.InstallDir, u.archiveName)
	res.Bytes, err = u.download(ctx, check.Asset.BrowserDownloadURL, archivePath)
	if err != nil {
		return res, fmt.Errorf("downloading %s: %w", check.Asset.Name, err)
	}
	res.Archive = archivePath
	defer u.cleanup(archivePath)

	u.report(ProgressEvent{Stage: StageVerifying, Total: -1})
	if err := u.verify(ctx, check.Release, check.Asset.Name, archivePath); err != nil {
		return res, fmt.Errorf("verifying %s: %w", check.Asset.Name, err)
	}

	u.report(ProgressEvent{Stage: StageExtracting, Total: -1})
	extracted, err := archive.Extract(ctx, archivePath, u.target.InstallDir,
		archive.WithSkipNames(u.selfName, u.archiveName),
		archive.WithProgress(func(files int, _ int64) {
			u.report(ProgressEvent{Stage: StageExtracting, Current: int64(files), Total: -1})
		}),
	)
	if extracted != nil {
		res.Files = extracted.Files
		res.Skipped = extracted.Skipped
	}
	if err != nil {
		return res, fmt.Errorf("%w: extracting %s: %w", ErrExtract, check.Asset.Name, err)
	}

	u.report(ProgressEvent{Stage: StageRelaunching, Total: -1})
	relaunched = true
	if err := u.procs.Start(ctx, hostPath, u.target.Args...); err != nil {
		return res, fmt.Errorf("%w: %w", ErrRelaunch, err)
	}

	return res, nil
}

// OpenInBrowser returns the download URL for users who prefer to fetch the
// release themselves instead of letting the updater install it.
func (u *Updater) OpenInBrowser(check *UpdateCheck) (string, error) {
	if check == nil || check.Asset == nil {
		return "", ErrNoUpdate
	}
	return check.Asset.BrowserDownloadURL, nil
}

func (u *Updater) resolveRelease(ctx context.Context, targetVersion string) (*Release, error) {
	if targetVersion != "" {
		release, err := u.client.GetReleaseByTag(ctx, targetVersion)
		if err != nil {
			return nil, fmt.Errorf("fetching release %s: %w", targetVersion, err)
		}
		return release, nil
	}

	releases, err := u.client.ListReleases(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing releases: %w", err)
	}
	if len(releases) == 0 {
		return nil, fmt.Errorf("%w: no stable releases in %s", ErrReleaseNotFound, u.client.Repo())
	}
	return &releases[0], nil
}

func (u *Updater) validateTarget() error {
	switch {
	case strings.TrimSpace(u.target.InstallDir) == "":
		return fmt.Errorf("%w: install directory is empty", ErrInvalidTarget)
	case strings.TrimSpace(u.target.Executable) == "":
		return fmt.Errorf("%w: host executable is empty", ErrInvalidTarget)
	case u.target.ProcessName == "":
		return fmt.Errorf("%w: cannot derive a process name from %q", ErrInvalidTarget, u.target.Executable)
	}
	return nil
}

// download streams url into a temp file in the install directory and renames
// it to dest once complete.
func (u *Updater) download(ctx context.Context, url, dest string) (int64, error) {
	body, size, err := u.client.DownloadAsset(ctx, url)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }() // read-only HTTP response body

	u.report(ProgressEvent{Stage: StageDownloading, Total: size})

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".hound-download-*")
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

	pw := &progressWriter{ctx: ctx, total: size, report: u.report}
	if _, err := io.Copy(io.MultiWriter(tmp, pw), body); err != nil {
		return 0, fmt.Errorf("writing download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing download: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("moving download into place: %w", err)
	}
	renamed = true

	return pw.written, nil
}

// verify checks the archive against the release's checksums.txt. Releases
// without one are accepted unverified.
func (u *Updater) verify(ctx context.Context, release *Release, assetName, archivePath string) error {
	if release == nil {
		return nil
	}
	sums, err := findAsset(release.Assets, ChecksumsAssetName)
	if err != nil {
		slog.Debug("release has no checksums, skipping verification", "release", release.TagName)
		return nil
	}

	body, _, err := u.client.DownloadAsset(ctx, sums.BrowserDownloadURL)
	if err != nil {
		return fmt.Errorf("downloading checksums: %w", err)
	}
	defer func() { _ = body.Close() }() // read-only HTTP response body

	entries, err := ParseChecksums(body)
	if err != nil {
		return fmt.Errorf("parsing checksums: %w", err)
	}
	expected, err := FindChecksum(entries, assetName)
	if err != nil {
		return err
	}
	return VerifyFile(archivePath, expected)
}

func (u *Updater) cleanup(archivePath string) {
	u.report(ProgressEvent{Stage: StageCleanup, Total: -1})
	if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not remove downloaded archive", "path", archivePath, "error", err)
	}
}

func (u *Updater) report(ev ProgressEvent) {
	if u.progress != nil {
		u.progress(ev)
	}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	w.written += int64(len(p))
	w.report(ProgressEvent{Stage: StageDownloading, Current: w.written, Total: w.total})
	return len(p), nil
}

// selectAsset picks the first asset matching pattern, or the first asset
// that is not the checksums file when pattern is empty.
func selectAsset(assets []Asset, pattern string) (*Asset, error) {
	pattern = strings.ToLower(pattern)
	for i := range assets {
		name := strings.ToLower(assets[i].Name)
		if name == ChecksumsAssetName {
			continue
		}
		if pattern == "" {
			return &assets[i], nil
		}
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("asset pattern %q: %w", pattern, err)
		}
		if ok {
			return &assets[i], nil
		}
	}
	if pattern != "" {
		return nil, fmt.Errorf("%w: no asset matches %q", ErrNoAssets, pattern)
	}
	return nil, ErrNoAssets
}

func findAsset(assets []Asset, name string) (*Asset, error) {
	for i := range assets {
		if strings.EqualFold(assets[i].Name, name) {
			return &assets[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrAssetNotFound, name)
}
