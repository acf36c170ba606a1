// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"

	"github.com/hound-tools/updater/internal/config"
	"github.com/hound-tools/updater/internal/hostproc"
	"github.com/hound-tools/updater/internal/issue"
	"github.com/hound-tools/updater/internal/selfupdate"
)

type (
	// ConfirmFunc asks the user a yes/no question.
	ConfirmFunc func(title, description string) (bool, error)

	// App wires CLI services and shared dependencies. Every command handler
	// receives it, so tests can swap the GitHub endpoint, process manager
	// and prompts without touching the real machine.
	App struct {
		Config    config.Provider
		Processes hostproc.Manager

		httpClient  *http.Client
		baseURL     string
		stdout      io.Writer
		stderr      io.Writer
		confirm     ConfirmFunc
		openURL     func(ctx context.Context, url string) error
		sleep       func(time.Duration)
		executable  func() (string, error)
		notesStyle  string
		issueStyle  string
		logger      *log.Logger
		configPath  string
		verboseFlag bool
		verbose     bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     config.Provider
		Processes  hostproc.Manager
		HTTPClient *http.Client
		// BaseURL overrides the GitHub API endpoint.
		BaseURL    string
		Stdout     io.Writer
		Stderr     io.Writer
		Confirm    ConfirmFunc
		OpenURL    func(ctx context.Context, url string) error
		Sleep      func(time.Duration)
		Executable func() (string, error)
		// NotesStyle is the glamour style for release notes; empty detects the terminal.
		NotesStyle string
		// IssueStyle is the glamour style for issue help; empty means "dark".
		IssueStyle string
	}
)

// NewApp creates the CLI composition root.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:     deps.Config,
		Processes:  deps.Processes,
		httpClient: deps.HTTPClient,
		baseURL:    deps.BaseURL,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
		confirm:    deps.Confirm,
		openURL:    deps.OpenURL,
		sleep:      deps.Sleep,
		executable: deps.Executable,
		notesStyle: deps.NotesStyle,
		issueStyle: deps.IssueStyle,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.Processes == nil {
		app.Processes = hostproc.NewSystem()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	if app.confirm == nil {
		app.confirm = huhConfirm
	}
	if app.openURL == nil {
		app.openURL = openInBrowser
	}
	if app.sleep == nil {
		app.sleep = time.Sleep
	}
	if app.executable == nil {
		app.executable = os.Executable
	}
	if app.issueStyle == "" {
		app.issueStyle = "dark"
	}
	app.logger = newLogger(app.stderr)
	return app
}

// newLogger builds the charmbracelet logger also installed as the slog default.
func newLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix: config.AppName,
		Level:  log.InfoLevel,
	})
}

// setVerbose switches debug logging and timestamps on or off.
func (a *App) setVerbose(verbose bool) {
	a.verbose = verbose
	if verbose {
		a.logger.SetLevel(log.DebugLevel)
		a.logger.SetReportTimestamp(true)
		return
	}
	a.logger.SetLevel(log.InfoLevel)
	a.logger.SetReportTimestamp(false)
}

// installLogger routes log/slog through the App logger, so library packages
// logging via slog share its level and formatting.
func (a *App) installLogger() {
	slog.SetDefault(slog.New(a.logger))
}

// loadConfig loads configuration honoring --config; verbose mode from the
// config file applies unless --verbose was given.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
	if err != nil {
		return nil, err
	}
	a.setVerbose(a.verboseFlag || cfg.UI.Verbose)
	return cfg, nil
}

// newGitHubClient builds a release client for owner/repo using the configured token.
func (a *App) newGitHubClient(cfg *config.Config, owner, repo string) *selfupdate.GitHubClient {
	opts := []selfupdate.ClientOption{
		selfupdate.WithRepo(owner, repo),
		selfupdate.WithUserAgent(config.AppName + "/" + Version),
	}
	if token := cfg.Release.Token(); token != "" {
		opts = append(opts, selfupdate.WithToken(token))
	}
	if a.httpClient != nil {
		opts = append(opts, selfupdate.WithHTTPClient(a.httpClient))
	}
	if a.baseURL != "" {
		opts = append(opts, selfupdate.WithBaseURL(a.baseURL))
	}
	return selfupdate.NewGitHubClient(opts...)
}

// installDir resolves the host install directory from config or the updater location.
func (a *App) installDir(cfg *config.Config) (string, error) {
	if cfg.Host.InstallDir != "" {
		return cfg.Host.InstallDir, nil
	}
	self, err := a.executable()
	if err != nil {
		return "", fmt.Errorf("locating updater executable: %w", err)
	}
	return cfg.Host.ResolveInstallDir(self), nil
}

// reportError prints err with its catalog entry, if any, and converts it to an ExitError.
func (a *App) reportError(err error) error {
	fmt.Fprintln(a.stderr, formatErrorForDisplay(err, a.verbose))
	if id := issueFor(err); id != 0 {
		if rendered, renderErr := issue.Get(id).Render(a.issueStyle); renderErr == nil {
			fmt.Fprint(a.stderr, rendered)
		} else {
			a.logger.Debug("rendering issue", "id", id, "err", renderErr)
		}
	}
	return &ExitError{Code: classifyExitCode(err), Err: err}
}

// huhConfirm prompts on the terminal. Aborting the prompt counts as "no".
func huhConfirm(title, description string) (bool, error) {
	confirmed := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Update").
		Negative("Cancel").
		Value(&confirmed).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return confirmed, err
}
