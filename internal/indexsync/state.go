// SPDX-License-Identifier: MPL-2.0

package indexsync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// StateFileName is the default state file written next to the index files.
const StateFileName = "index-state.toml"

type (
	// State records the repository commit a directory of index files was
	// built from.
	State struct {
		Repository string      `toml:"repository"`
		Branch     string      `toml:"branch"`
		Commit     string      `toml:"commit"`
		SyncedAt   time.Time   `toml:"synced_at"`
		Files      []FileState `toml:"files"`
	}

	// FileState describes one generated index file.
	FileState struct {
		Name    string `toml:"name"`
		Source  string `toml:"source"`
		Entries int    `toml:"entries"`
		Skipped int    `toml:"skipped"`
	}
)

// LoadState reads the state file at path. A missing file yields an empty
// state, meaning nothing has been synced yet.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("reading sync state: %w", err)
	}

	var st State
	if err := toml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing sync state %s: %w", path, err)
	}
	return &st, nil
}

// SaveState writes st to path through a temp file and rename.
func SaveState(path string, st *State) error {
	data, err := toml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }() // no-op after a successful rename

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("setting state permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing sync state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing sync state: %w", err)
	}
	return nil
}

// File returns the recorded state for the index file name.
func (s *State) File(name string) (FileState, bool) {
	for _, f := range s.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileState{}, false
}
