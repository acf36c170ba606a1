// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/hound-tools/updater/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "hound-updater"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. HOUND_UPDATER_RELEASE_OWNER.
	EnvPrefix = "HOUND_UPDATER"

	// maxConfigFileBytes bounds the config file read into memory.
	maxConfigFileBytes = 1 << 20
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the hound-updater configuration directory: %APPDATA% on
// Windows, ~/Library/Application Support on macOS and $XDG_CONFIG_HOME
// (default ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(base, AppName), nil
}

// ConfigFilePath returns the path of the config file inside ConfigDir.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// loadWithOptions resolves defaults, the CUE file and environment overrides
// into a validated Config. It returns the config file used, if any.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := newViper()

	resolvedPath, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}

	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Run 'hound-updater config init --force' to regenerate a default file").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Check the values reported above").
			WithSuggestion("Environment overrides (" + EnvPrefix + "_*) are validated too").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errors.Join(errs...)).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

// newViper returns a viper instance seeded with defaults and environment binding.
func newViper() *viper.Viper {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("release.owner", defaults.Release.Owner.String())
	v.SetDefault("release.repo", defaults.Release.Repo.String())
	v.SetDefault("release.asset_pattern", defaults.Release.AssetPattern.String())
	v.SetDefault("release.download_via_client", defaults.Release.DownloadViaClient)
	v.SetDefault("release.token_env", defaults.Release.TokenEnv)
	v.SetDefault("host.name", defaults.Host.Name)
	v.SetDefault("host.executable", defaults.Host.Executable)
	v.SetDefault("host.install_dir", defaults.Host.InstallDir)
	v.SetDefault("host.current_version", defaults.Host.CurrentVersion)
	v.SetDefault("index.owner", defaults.Index.Owner.String())
	v.SetDefault("index.repo", defaults.Index.Repo.String())
	v.SetDefault("index.branch", defaults.Index.Branch)
	v.SetDefault("index.output_dir", defaults.Index.OutputDir)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	v.SetDefault("ui.exit_delay", defaults.UI.ExitDelay.String())

	// Defaults register every key, so AutomaticEnv also covers Unmarshal.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// resolveConfigFile picks the config file: an explicit path must exist, otherwise
// the config directory then the working directory are tried. No file is not an error.
func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'hound-updater config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}

	name := ConfigFileName + "." + ConfigFileExt
	for _, candidate := range []string{filepath.Join(cfgDir, name), name} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into v.
// The file is decoded into a map rather than Config so that viper keeps
// layering defaults and environment overrides on top of it.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > maxConfigFileBytes {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", path, len(data), maxConfigFileBytes)
	}

	cctx := cuecontext.New()

	schemaValue := cctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := cctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return formatCUEError(userValue.Err(), path)
	}

	unified := schemaValue.LookupPath(cue.ParsePath("#Config")).Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return formatCUEError(err, path)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default config file unless one exists, or
// always when force is set. It returns the file path.
func CreateDefaultConfig(force bool) (string, error) {
	cfgPath, err := ConfigFilePath()
	if err != nil {
		return "", err
	}

	if !force && fileExists(cfgPath) {
		return cfgPath, nil
	}

	if err := writeConfigFile(cfgPath, DefaultConfig()); err != nil {
		return "", err
	}
	return cfgPath, nil
}

// Save writes cfg to the config file.
func Save(cfg *Config) error {
	cfgPath, err := ConfigFilePath()
	if err != nil {
		return err
	}
	return writeConfigFile(cfgPath, cfg)
}

func writeConfigFile(cfgPath string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg as a config.cue document accepted by the schema.
// Empty optional strings are omitted.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// hound-updater configuration\n")
	sb.WriteString("// Environment variables prefixed with " + EnvPrefix + "_ override these values.\n")

	writeBlock(&sb, "release", []cueField{
		{"owner", quote(cfg.Release.Owner.String())},
		{"repo", quote(cfg.Release.Repo.String())},
		{"asset_pattern", quote(cfg.Release.AssetPattern.String())},
		{"download_via_client", fmt.Sprint(cfg.Release.DownloadViaClient)},
		{"token_env", quote(cfg.Release.TokenEnv)},
	})
	writeBlock(&sb, "host", []cueField{
		{"name", quote(cfg.Host.Name)},
		{"executable", quote(cfg.Host.Executable)},
		{"install_dir", quote(cfg.Host.InstallDir)},
		{"current_version", quote(cfg.Host.CurrentVersion)},
	})
	writeBlock(&sb, "index", []cueField{
		{"owner", quote(cfg.Index.Owner.String())},
		{"repo", quote(cfg.Index.Repo.String())},
		{"branch", quote(cfg.Index.Branch)},
		{"output_dir", quote(cfg.Index.OutputDir)},
	})
	writeBlock(&sb, "ui", []cueField{
		{"verbose", fmt.Sprint(cfg.UI.Verbose)},
		{"exit_delay", quote(cfg.UI.ExitDelay.String())},
	})

	return sb.String()
}

type cueField struct {
	name  string
	value string
}

func writeBlock(sb *strings.Builder, name string, fields []cueField) {
	fmt.Fprintf(sb, "\n%s: {\n", name)
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(sb, "\t%s: %s\n", f.name, f.value)
	}
	sb.WriteString("}\n")
}

// quote returns a CUE string literal, or "" for an empty value.
func quote(s string) string {
	if s == "" {
		return ""
	}
	return fmt.Sprintf("%q", s)
}
