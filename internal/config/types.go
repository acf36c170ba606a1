// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultReleaseOwner owns the repository publishing host releases.
	DefaultReleaseOwner RepoSlug = "Scobalula"
	// DefaultReleaseRepo publishes host releases.
	DefaultReleaseRepo RepoSlug = "Greyhound"
	// DefaultAssetPattern matches the first zip asset of a release.
	DefaultAssetPattern AssetPattern = "*.zip"
	// DefaultTokenEnv names the environment variable holding a GitHub token.
	DefaultTokenEnv = "GITHUB_TOKEN"

	// DefaultHostName is the display name of the host application.
	DefaultHostName = "Greyhound"
	// DefaultHostExecutable is the host executable inside the install directory.
	DefaultHostExecutable = "Greyhound.exe"

	// DefaultIndexOwner owns the package index dataset repository.
	DefaultIndexOwner RepoSlug = "Scobalula"
	// DefaultIndexRepo carries the package index CSV files.
	DefaultIndexRepo RepoSlug = "GreyhoundPackageIndex"
	// DefaultIndexBranch is the dataset branch tracked by index sync.
	DefaultIndexBranch = "master"
	// DefaultIndexDirName is the index directory the host loads .wni files from.
	DefaultIndexDirName = "package_index"

	// DefaultExitDelay is how long the updater lingers after relaunching the host.
	DefaultExitDelay = time.Second
)

var (
	// ErrInvalidRepoSlug is returned when a RepoSlug value is malformed.
	ErrInvalidRepoSlug = errors.New("invalid repository slug")
	// ErrInvalidAssetPattern is returned when an AssetPattern is not a valid glob.
	ErrInvalidAssetPattern = errors.New("invalid asset pattern")
	// ErrInvalidReleaseConfig is the sentinel error wrapped by InvalidReleaseConfigError.
	ErrInvalidReleaseConfig = errors.New("invalid release config")
	// ErrInvalidHostConfig is the sentinel error wrapped by InvalidHostConfigError.
	ErrInvalidHostConfig = errors.New("invalid host config")
	// ErrInvalidIndexConfig is the sentinel error wrapped by InvalidIndexConfigError.
	ErrInvalidIndexConfig = errors.New("invalid index config")
	// ErrInvalidUIConfig is the sentinel error wrapped by InvalidUIConfigError.
	ErrInvalidUIConfig = errors.New("invalid UI config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")

	slugPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

type (
	// RepoSlug is a GitHub owner or repository name.
	RepoSlug string

	// InvalidRepoSlugError is returned when a RepoSlug value is malformed.
	// It wraps ErrInvalidRepoSlug for errors.Is() compatibility.
	InvalidRepoSlugError struct {
		Value RepoSlug
	}

	// AssetPattern is a case-insensitive glob selecting the release asset to download.
	AssetPattern string

	// InvalidAssetPatternError is returned when an AssetPattern is empty or not a valid glob.
	InvalidAssetPatternError struct {
		Value AssetPattern
		Err   error
	}

	// InvalidReleaseConfigError is returned when ReleaseConfig has invalid fields.
	InvalidReleaseConfigError struct {
		FieldErrors []error
	}

	// InvalidHostConfigError is returned when HostConfig has invalid fields.
	InvalidHostConfigError struct {
		FieldErrors []error
	}

	// InvalidIndexConfigError is returned when IndexConfig has invalid fields.
	InvalidIndexConfigError struct {
		FieldErrors []error
	}

	// InvalidUIConfigError is returned when UIConfig has invalid fields.
	InvalidUIConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Release selects where host releases are published
		Release ReleaseConfig `json:"release" mapstructure:"release"`
		// Host describes the installed application being updated
		Host HostConfig `json:"host" mapstructure:"host"`
		// Index configures package index dataset sync
		Index IndexConfig `json:"index" mapstructure:"index"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// ReleaseConfig configures the release source.
	ReleaseConfig struct {
		Owner        RepoSlug     `json:"owner" mapstructure:"owner"`
		Repo         RepoSlug     `json:"repo" mapstructure:"repo"`
		AssetPattern AssetPattern `json:"asset_pattern" mapstructure:"asset_pattern"`
		// DownloadViaClient downloads and installs in place when true; otherwise
		// the asset URL is handed to the user's browser.
		DownloadViaClient bool `json:"download_via_client" mapstructure:"download_via_client"`
		// TokenEnv names the environment variable read for an API token.
		TokenEnv string `json:"token_env" mapstructure:"token_env"`
	}

	// HostConfig describes the host installation.
	HostConfig struct {
		Name       string `json:"name" mapstructure:"name"`
		Executable string `json:"executable" mapstructure:"executable"`
		// InstallDir defaults to the directory holding the updater binary.
		InstallDir string `json:"install_dir" mapstructure:"install_dir"`
		// CurrentVersion is the installed host version, e.g. "2.1.0.4".
		CurrentVersion string `json:"current_version" mapstructure:"current_version"`
	}

	// IndexConfig configures the package index dataset.
	IndexConfig struct {
		Owner  RepoSlug `json:"owner" mapstructure:"owner"`
		Repo   RepoSlug `json:"repo" mapstructure:"repo"`
		Branch string   `json:"branch" mapstructure:"branch"`
		// OutputDir defaults to the package_index directory of the host install.
		OutputDir string `json:"output_dir" mapstructure:"output_dir"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
		// ExitDelay is waited after a successful update before exiting
		ExitDelay time.Duration `json:"exit_delay" mapstructure:"exit_delay"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Release: ReleaseConfig{
			Owner:             DefaultReleaseOwner,
			Repo:              DefaultReleaseRepo,
			AssetPattern:      DefaultAssetPattern,
			DownloadViaClient: true,
			TokenEnv:          DefaultTokenEnv,
		},
		Host: HostConfig{
			Name:       DefaultHostName,
			Executable: DefaultHostExecutable,
		},
		Index: IndexConfig{
			Owner:  DefaultIndexOwner,
			Repo:   DefaultIndexRepo,
			Branch: DefaultIndexBranch,
		},
		UI: UIConfig{
			ExitDelay: DefaultExitDelay,
		},
	}
}

// Token returns the API token from the configured environment variable, if any.
func (c ReleaseConfig) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// ResolveInstallDir returns InstallDir, or the directory of selfExe when unset.
func (c HostConfig) ResolveInstallDir(selfExe string) string {
	if c.InstallDir != "" {
		return c.InstallDir
	}
	return filepath.Dir(selfExe)
}

// ResolveOutputDir returns OutputDir, or installDir/package_index when unset.
func (c IndexConfig) ResolveOutputDir(installDir string) string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	return filepath.Join(installDir, DefaultIndexDirName)
}

// IsValid returns whether the Config has valid fields.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Release.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Host.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Index.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", joinFieldErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// IsValid returns whether the ReleaseConfig has valid fields.
// DownloadViaClient is a bool and needs no validation.
func (c ReleaseConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Owner.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Repo.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.AssetPattern.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidReleaseConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidReleaseConfigError.
func (e *InvalidReleaseConfigError) Error() string {
	return fmt.Sprintf("invalid release config: %s", joinFieldErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidReleaseConfig for errors.Is() compatibility.
func (e *InvalidReleaseConfigError) Unwrap() error { return ErrInvalidReleaseConfig }

// IsValid returns whether the HostConfig has valid fields.
// The executable must be a bare file name; it is resolved inside InstallDir.
func (c HostConfig) IsValid() (bool, []error) {
	var errs []error
	if strings.TrimSpace(c.Executable) == "" {
		errs = append(errs, errors.New("executable must be non-empty"))
	} else if strings.ContainsAny(c.Executable, `/\`) {
		errs = append(errs, fmt.Errorf("executable %q must be a file name, not a path", c.Executable))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidHostConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidHostConfigError.
func (e *InvalidHostConfigError) Error() string {
	return fmt.Sprintf("invalid host config: %s", joinFieldErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidHostConfig for errors.Is() compatibility.
func (e *InvalidHostConfigError) Unwrap() error { return ErrInvalidHostConfig }

// IsValid returns whether the IndexConfig has valid fields.
func (c IndexConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Owner.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Repo.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if strings.TrimSpace(c.Branch) == "" {
		errs = append(errs, errors.New("branch must be non-empty"))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidIndexConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidIndexConfigError.
func (e *InvalidIndexConfigError) Error() string {
	return fmt.Sprintf("invalid index config: %s", joinFieldErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidIndexConfig for errors.Is() compatibility.
func (e *InvalidIndexConfigError) Unwrap() error { return ErrInvalidIndexConfig }

// IsValid returns whether the UIConfig has valid fields.
func (c UIConfig) IsValid() (bool, []error) {
	if c.ExitDelay < 0 {
		return false, []error{&InvalidUIConfigError{
			FieldErrors: []error{fmt.Errorf("exit_delay %s must not be negative", c.ExitDelay)},
		}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUIConfigError.
func (e *InvalidUIConfigError) Error() string {
	return fmt.Sprintf("invalid UI config: %s", joinFieldErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidUIConfig for errors.Is() compatibility.
func (e *InvalidUIConfigError) Unwrap() error { return ErrInvalidUIConfig }

// String returns the string representation of the RepoSlug.
func (s RepoSlug) String() string { return string(s) }

// IsValid returns whether the RepoSlug is a plausible GitHub owner or repo name.
func (s RepoSlug) IsValid() (bool, []error) {
	if !slugPattern.MatchString(string(s)) {
		return false, []error{&InvalidRepoSlugError{Value: s}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRepoSlugError.
func (e *InvalidRepoSlugError) Error() string {
	return fmt.Sprintf("invalid repository slug %q: use letters, digits, '.', '-' or '_'", e.Value)
}

// Unwrap returns ErrInvalidRepoSlug for errors.Is() compatibility.
func (e *InvalidRepoSlugError) Unwrap() error { return ErrInvalidRepoSlug }

// String returns the string representation of the AssetPattern.
func (p AssetPattern) String() string { return string(p) }

// IsValid returns whether the AssetPattern is a non-empty, well-formed glob.
func (p AssetPattern) IsValid() (bool, []error) {
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidAssetPatternError{Value: p, Err: errors.New("must be non-empty")}}
	}
	if _, err := path.Match(string(p), ""); err != nil {
		return false, []error{&InvalidAssetPatternError{Value: p, Err: err}}
	}
	return true, nil
}

// Error implements the error interface for InvalidAssetPatternError.
func (e *InvalidAssetPatternError) Error() string {
	return fmt.Sprintf("invalid asset pattern %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidAssetPattern for errors.Is() compatibility.
func (e *InvalidAssetPatternError) Unwrap() error { return ErrInvalidAssetPattern }

func joinFieldErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
