// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hound-tools/updater/internal/config"
)

// newConfigCommand creates the `hound-updater config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage hound-updater configuration",
		Long: `Manage hound-updater configuration.

Configuration is stored in:
  - Linux: ~/.config/hound-updater/config.cue
  - macOS: ~/Library/Application Support/hound-updater/config.cue
  - Windows: %APPDATA%\hound-updater\config.cue

A config.cue in the working directory is used when the config directory
has none. Every value can be overridden with HOUND_UPDATER_<SECTION>_<KEY>,
e.g. HOUND_UPDATER_RELEASE_OWNER.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.reportError(err)
			}
			return showConfig(cmd.OutOrStdout(), app.configPath, cfg)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			existing, _ := config.ConfigFilePath()
			existed := existing != "" && fileExists(existing)

			path, err := config.CreateDefaultConfig(force)
			if err != nil {
				return app.reportError(err)
			}
			out := cmd.OutOrStdout()
			if existed && !force {
				fmt.Fprintf(out, "Configuration already exists at %s (use --force to overwrite)\n", path)
				return nil
			}
			fmt.Fprintln(out, SuccessStyle.Render("Created "+path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.Locate(config.LoadOptions{ConfigFilePath: app.configPath})
			if err != nil {
				return app.reportError(err)
			}
			if path == "" {
				if path, err = config.ConfigFilePath(); err != nil {
					return app.reportError(err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	return cfgCmd
}

func showConfig(w io.Writer, explicitPath string, cfg *config.Config) error {
	path, err := config.Locate(config.LoadOptions{ConfigFilePath: explicitPath})
	if err != nil {
		return err
	}
	source := path
	if source == "" {
		source = "(using defaults)"
	}
	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintf(w, "%s: %s\n\n", CmdStyle.Render("Config file"), source)
	fmt.Fprint(w, config.GenerateCUE(cfg))
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
