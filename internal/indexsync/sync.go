// SPDX-License-Identifier: MPL-2.0

package indexsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hound-tools/updater/internal/archive"
	"github.com/hound-tools/updater/pkg/pkgindex"
)

const (
	// DefaultBranch is the dataset branch tracked when none is configured.
	DefaultBranch = "master"

	// IndexExt is the extension of generated index files.
	IndexExt = ".wni"

	// maxCSVBytes bounds a single dataset file held in memory (128 MB).
	maxCSVBytes = 128 << 20
)

// ErrCSVTooLarge is returned when a dataset file exceeds maxCSVBytes.
var ErrCSVTooLarge = errors.New("dataset file too large")

type (
	// Source is the repository the dataset is published in.
	// *selfupdate.GitHubClient satisfies it.
	Source interface {
		Repo() string
		LatestCommit(ctx context.Context, branch string) (string, error)
		DownloadRepositoryArchive(ctx context.Context, ref string) (io.ReadCloser, int64, error)
	}

	// Clock supplies the sync timestamp.
	Clock interface {
		Now() time.Time
	}

	// SyncCheck compares the synced commit with the branch head.
	SyncCheck struct {
		Repository string
		Branch     string
		Current    string // Commit recorded in the state file, empty if never synced
		Latest     string // Current branch head
		UpToDate   bool
	}

	// FileResult describes one index file built by Sync.
	FileResult struct {
		Name   string // Index file name inside the output directory
		Source string // CSV path inside the repository snapshot
		Stats  pkgindex.Stats
	}

	// SyncResult summarizes a Sync call.
	SyncResult struct {
		Commit   string
		UpToDate bool         // True when nothing was rebuilt
		Files    []FileResult // Sorted by Name
		Removed  []string     // Index files from the previous sync that no longer have a source
	}

	// Syncer rebuilds index files from the dataset repository.
	Syncer struct {
		src         Source
		dir         string
		branch      string
		statePath   string
		concurrency int
		clock       Clock
		codec       *pkgindex.Codec
	}

	// Option configures a Syncer.
	Option func(*Syncer)

	realClock struct{}
)

func (realClock) Now() time.Time { return time.Now() }

// WithBranch selects the dataset branch.
func WithBranch(branch string) Option {
	return func(s *Syncer) {
		if branch != "" {
			s.branch = branch
		}
	}
}

// WithStateFile overrides the state file location.
func WithStateFile(path string) Option {
	return func(s *Syncer) {
		if path != "" {
			s.statePath = path
		}
	}
}

// WithConcurrency bounds how many index files are built at once.
func WithConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock replaces the clock used for the sync timestamp.
func WithClock(c Clock) Option {
	return func(s *Syncer) {
		s.clock = c
	}
}

// WithCodec replaces the codec used to write index files.
func WithCodec(c *pkgindex.Codec) Option {
	return func(s *Syncer) {
		s.codec = c
	}
}

// New creates a Syncer writing index files into dir.
func New(src Source, dir string, opts ...Option) *Syncer {
	s := &Syncer{
		src:         src,
		dir:         dir,
		branch:      DefaultBranch,
		statePath:   filepath.Join(dir, StateFileName),
		concurrency: runtime.GOMAXPROCS(0),
		clock:       realClock{},
		codec:       pkgindex.NewCodec(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StatePath returns the state file location.
func (s *Syncer) StatePath() string { return s.statePath }

// Check reports whether the output directory was built from the branch head.
func (s *Syncer) Check(ctx context.Context) (*SyncCheck, error) {
	check, _, err := s.check(ctx)
	return check, err
}

// Sync downloads the dataset at the branch head and rebuilds every index
// file. It does nothing when the state already records the head commit,
// unless force is set.
func (s *Syncer) Sync(ctx context.Context, force bool) (*SyncResult, error) {
	check, prev, err := s.check(ctx)
	if err != nil {
		return nil, err
	}
	if check.UpToDate && !force {
		slog.Debug("package index up to date", "commit", check.Latest)
		return &SyncResult{Commit: check.Latest, UpToDate: true}, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	snapshot, err := s.download(ctx, check.Latest)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(snapshot) }()

	staging, err := os.MkdirTemp(s.dir, ".index-staging-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	files, err := s.build(ctx, snapshot, staging)
	if err != nil {
		return nil, err
	}
	if err := s.publish(staging, files); err != nil {
		return nil, err
	}

	res := &SyncResult{Commit: check.Latest, Files: files}
	res.Removed = s.prune(prev, files)

	st := &State{
		Repository: check.Repository,
		Branch:     s.branch,
		Commit:     check.Latest,
		SyncedAt:   s.clock.Now().UTC().Truncate(time.Second),
	}
	for _, f := range files {
		st.Files = append(st.Files, FileState{
			Name:    f.Name,
			Source:  f.Source,
			Entries: f.Stats.Inserted,
			Skipped: f.Stats.Skipped(),
		})
	}
	if err := SaveState(s.statePath, st); err != nil {
		return nil, err
	}

	slog.Info("package index synced", "commit", check.Latest, "files", len(files), "removed", len(res.Removed))
	return res, nil
}

func (s *Syncer) check(ctx context.Context) (*SyncCheck, *State, error) {
	st, err := LoadState(s.statePath)
	if err != nil {
		return nil, nil, err
	}

	latest, err := s.src.LatestCommit(ctx, s.branch)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving %s@%s: %w", s.src.Repo(), s.branch, err)
	}

	return &SyncCheck{
		Repository: s.src.Repo(),
		Branch:     s.branch,
		Current:    st.Commit,
		Latest:     latest,
		UpToDate:   st.Commit == latest,
	}, st, nil
}

// download saves the repository snapshot at ref to a temp file in the
// output directory and returns its path.
func (s *Syncer) download(ctx context.Context, ref string) (string, error) {
	body, _, err := s.src.DownloadRepositoryArchive(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("downloading %s@%s: %w", s.src.Repo(), ref, err)
	}
	defer func() { _ = body.Close() }() // read-only HTTP response body

	tmp, err := os.CreateTemp(s.dir, ".index-snapshot-*.zip")
	if err != nil {
		return "", fmt.Errorf("creating snapshot file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("closing snapshot: %w", err)
	}
	return tmp.Name(), nil
}

// build walks the snapshot and compiles every CSV into an index file in
// outDir. Archive reading is sequential; parsing and encoding run
// concurrently.
func (s *Syncer) build(ctx context.Context, snapshot, outDir string) ([]FileResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var (
		mu      sync.Mutex
		results []FileResult
		seen    = make(map[string]string)
	)

	walkErr := archive.Walk(gctx, snapshot, func(e archive.Entry, r io.Reader) error {
		if !e.IsRegular() || !strings.EqualFold(path.Ext(e.Name), ".csv") {
			return nil
		}

		name := IndexName(e.Name)
		if other, dup := seen[name]; dup {
			return fmt.Errorf("%s and %s both map to %s", other, e.Name, name)
		}
		seen[name] = e.Name

		data, err := io.ReadAll(io.LimitReader(r, maxCSVBytes+1))
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Name, err)
		}
		if len(data) > maxCSVBytes {
			return fmt.Errorf("%s: %w", e.Name, ErrCSVTooLarge)
		}

		source := e.Name
		g.Go(func() error {
			idx, stats, err := pkgindex.BuildWithStats(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("building %s: %w", source, err)
			}
			if err := s.codec.Save(idx, filepath.Join(outDir, name)); err != nil {
				return err
			}

			slog.Debug("built package index", "source", source, "file", name,
				"entries", stats.Inserted, "skipped", stats.Skipped())

			mu.Lock()
			results = append(results, FileResult{Name: name, Source: source, Stats: stats})
			mu.Unlock()
			return nil
		})
		return nil
	})

	// Wait even when the walk failed so no goroutine outlives build.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, fmt.Errorf("reading snapshot: %w", walkErr)
	}

	slices.SortFunc(results, func(a, b FileResult) int { return strings.Compare(a.Name, b.Name) })
	return results, nil
}

// publish moves freshly built index files from staging into the output
// directory. It runs only after every file built, so a failed build leaves
// the previous commit's files untouched.
func (s *Syncer) publish(staging string, files []FileResult) error {
	for _, f := range files {
		if err := os.Rename(filepath.Join(staging, f.Name), filepath.Join(s.dir, f.Name)); err != nil {
			return fmt.Errorf("publishing %s: %w", f.Name, err)
		}
	}
	return nil
}

// prune removes index files recorded by the previous sync that the new
// snapshot no longer produces.
func (s *Syncer) prune(prev *State, files []FileResult) []string {
	keep := make(map[string]bool, len(files))
	for _, f := range files {
		keep[f.Name] = true
	}

	var removed []string
	for _, f := range prev.Files {
		if keep[f.Name] || !filepath.IsLocal(f.Name) {
			continue
		}
		err := os.Remove(filepath.Join(s.dir, f.Name))
		switch {
		case err == nil:
			removed = append(removed, f.Name)
		case !errors.Is(err, os.ErrNotExist):
			slog.Warn("could not remove stale index file", "file", f.Name, "error", err)
		}
	}
	return removed
}

// IndexName maps a CSV path inside a repository snapshot to its index file
// name. The snapshot's top-level directory is dropped and remaining
// directories are joined with underscores:
//
//	Scobalula-PackageIndex-1a2b3c/bo4/xmodel.csv -> bo4_xmodel.wni
func IndexName(csvPath string) string {
	parts := strings.Split(strings.Trim(csvPath, "/"), "/")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	joined := strings.Join(parts, "_")
	return strings.TrimSuffix(joined, path.Ext(joined)) + IndexExt
}
