// SPDX-License-Identifier: MPL-2.0

// Package config loads hound-updater settings with Viper, using CUE as the file format.
//
// The file lives at <config dir>/hound-updater/config.cue where the config dir is
// $XDG_CONFIG_HOME (Linux), ~/Library/Application Support (macOS) or %APPDATA%
// (Windows). It is validated against the embedded config_schema.cue before being
// merged over the built-in defaults; HOUND_UPDATER_* environment variables
// override both.
package config
