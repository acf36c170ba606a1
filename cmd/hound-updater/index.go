// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hound-tools/updater/internal/indexsync"
	"github.com/hound-tools/updater/internal/issue"
	"github.com/hound-tools/updater/pkg/pkgindex"
)

var (
	// errIDNotFound is returned by index lookup when an id has no entry.
	errIDNotFound = errors.New("id not found in index")
	// errInvalidID is returned for identifiers that are not hexadecimal.
	errInvalidID = errors.New("invalid identifier")
)

// newIndexCommand creates the `hound-updater index` command group.
func newIndexCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build, inspect and sync package index (.wni) files",
		Long: `Build, inspect and sync package index (.wni) files.

A package index maps 60-bit asset identifiers to names. Sources are CSV
lines of the form "hexid,name"; the binary .wni form is what Greyhound
loads from its package_index directory.`,
	}

	cmd.AddCommand(
		newIndexBuildCommand(app),
		newIndexDumpCommand(app),
		newIndexLookupCommand(app),
		newIndexSyncCommand(app),
	)
	return cmd
}

func newIndexBuildCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "build <source.csv> <output.wni>",
		Short:   "Build a .wni file from a CSV source",
		Example: `  hound-updater index build xmodels.csv package_index/fnv1a_xmodels.wni`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := buildIndexFile(args[0], args[1])
			if err != nil {
				return app.reportError(err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, SuccessStyle.Render(fmt.Sprintf("Wrote %d entries to %s", stats.Inserted, args[1])))
			if stats.Skipped() > 0 {
				fmt.Fprintf(out, "Skipped %d lines (%d malformed, %d bad ids, %d duplicates)\n",
					stats.Skipped(), stats.Malformed, stats.BadIDs, stats.Duplicates)
			}
			return nil
		},
	}
}

// buildIndexFile compiles the CSV at src into a .wni file at dst.
func buildIndexFile(src, dst string) (pkgindex.Stats, error) {
	f, err := os.Open(src)
	if err != nil {
		return pkgindex.Stats{}, err
	}
	defer func() { _ = f.Close() }() // read-only file

	idx, stats, err := pkgindex.BuildWithStats(f)
	if err != nil {
		return stats, err
	}
	if err := pkgindex.Save(idx, dst); err != nil {
		return stats, issue.NewErrorContext().
			WithOperation("write package index").
			WithResource(dst).
			WithSuggestion("Check that the output directory exists and is writable").
			Wrap(err).
			BuildError()
	}
	return stats, nil
}

func newIndexDumpCommand(app *App) *cobra.Command {
	var headerOnly bool

	cmd := &cobra.Command{
		Use:   "dump <file.wni>",
		Short: "Print a .wni file as CSV",
		Long: `Print the header of a .wni file followed by its entries as
"HEXID,name" lines, in file order. Names without commas or surrounding
whitespace survive a round trip through 'hound-updater index build'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dumpIndex(cmd.OutOrStdout(), args[0], headerOnly); err != nil {
				return app.reportError(err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&headerOnly, "header", false, "print only the header")
	return cmd
}

// dumpIndex writes the header of path as '#' comments, then every entry.
func dumpIndex(w io.Writer, path string, headerOnly bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // read-only file

	if headerOnly {
		h, err := pkgindex.ReadHeader(f)
		if err != nil {
			return corruptIndexError(path, err)
		}
		writeHeader(w, h)
		return nil
	}

	idx, h, err := pkgindex.Decode(bufio.NewReader(f))
	if err != nil {
		return corruptIndexError(path, err)
	}

	bw := bufio.NewWriter(w)
	writeHeader(bw, h)
	for id, value := range idx.All() {
		fmt.Fprintf(bw, "%016X,%s\n", id, value)
	}
	return bw.Flush()
}

func writeHeader(w io.Writer, h pkgindex.Header) {
	fmt.Fprintf(w, "# magic=0x%08X version=%d entries=%d compressed=%d decompressed=%d\n",
		h.Magic, h.Version, h.Count, h.CompressedSize, h.DecompressedSize)
}

func newIndexLookupCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <file.wni> <hexid>...",
		Short: "Look up identifiers in a .wni file",
		Long: `Look up identifiers in a .wni file. Identifiers are hexadecimal,
with or without a 0x prefix, and are masked to 60 bits before lookup.
The command fails if any identifier has no entry.`,
		Example: `  hound-updater index lookup package_index/fnv1a_xmodels.wni 1a2b3c 0xF0000000000000FF`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := lookupIDs(cmd.OutOrStdout(), args[0], args[1:]); err != nil {
				return app.reportError(err)
			}
			return nil
		},
	}
}

// lookupIDs prints "HEXID,name" for every id found and fails when any is missing.
func lookupIDs(w io.Writer, path string, rawIDs []string) error {
	ids := make([]uint64, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := parseHexID(raw)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	idx, err := pkgindex.Load(path)
	if err != nil {
		return corruptIndexError(path, err)
	}

	var missing []string
	for _, id := range ids {
		masked := pkgindex.Mask(id)
		value, ok := idx.Lookup(masked)
		if !ok {
			missing = append(missing, fmt.Sprintf("%016X", masked))
			continue
		}
		fmt.Fprintf(w, "%016X,%s\n", masked, value)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errIDNotFound, strings.Join(missing, ", "))
	}
	return nil
}

func parseHexID(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	id, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", errInvalidID, raw, err)
	}
	return id, nil
}

// corruptIndexError adds remediation to codec failures. I/O errors such as a
// missing file pass through unchanged.
func corruptIndexError(path string, err error) error {
	if !errors.Is(err, pkgindex.ErrBadFormat) && !errors.Is(err, pkgindex.ErrSizeOverflow) {
		return err
	}
	return issue.NewErrorContext().
		WithOperation("read package index").
		WithResource(path).
		WithSuggestion("Run 'hound-updater index sync --force' to rebuild the package index").
		WithIssue(issue.IndexCorruptId).
		Wrap(err).
		BuildError()
}

func newIndexSyncCommand(app *App) *cobra.Command {
	var (
		checkOnly bool
		force     bool
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the package index from its GitHub repository",
		Long: `Rebuild the package index from its GitHub repository.

sync resolves the head of the configured index branch and, when it differs
from the last synced commit, downloads a snapshot of the repository and
builds one .wni file per CSV source into the output directory.`,
		Example: `  hound-updater index sync --check
  hound-updater index sync --force --output ./package_index`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return app.reportError(err)
			}

			dir := outputDir
			if dir == "" {
				installDir, err := app.installDir(cfg)
				if err != nil {
					return app.reportError(err)
				}
				dir = cfg.Index.ResolveOutputDir(installDir)
			}

			client := app.newGitHubClient(cfg, cfg.Index.Owner.String(), cfg.Index.Repo.String())
			syncer := indexsync.New(client, dir, indexsync.WithBranch(cfg.Index.Branch))
			out := cmd.OutOrStdout()

			if checkOnly {
				check, err := syncer.Check(ctx)
				if err != nil {
					return app.reportError(syncError(err))
				}
				printSyncCheck(out, check)
				return nil
			}

			res, err := syncer.Sync(ctx, force)
			if err != nil {
				return app.reportError(syncError(err))
			}
			printSyncResult(out, dir, res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "report whether the index is current without rebuilding")
	cmd.Flags().BoolVar(&force, "force", false, "rebuild even when the index is current")
	cmd.Flags().StringVar(&outputDir, "output", "", "output directory (default index.output_dir or <install dir>/package_index)")
	return cmd
}

// syncError tags sync failures with the catalog entry unless a more
// specific one already applies.
func syncError(err error) error {
	if issueFor(err) != 0 {
		return err
	}
	return issue.NewErrorContext().
		WithOperation("sync package index").
		WithSuggestion("Retry with --verbose to see which step failed").
		WithIssue(issue.IndexSyncFailedId).
		Wrap(err).
		BuildError()
}

func printSyncCheck(w io.Writer, check *indexsync.SyncCheck) {
	current := check.Current
	if current == "" {
		current = "never synced"
	}
	fmt.Fprintf(w, "Repository: %s@%s\n", check.Repository, check.Branch)
	fmt.Fprintf(w, "Synced:     %s\n", versionStyle.Render(current))
	fmt.Fprintf(w, "Latest:     %s\n", versionStyle.Render(check.Latest))
	if check.UpToDate {
		fmt.Fprintln(w, "\nPackage index is up to date.")
		return
	}
	fmt.Fprintln(w, "\nPackage index is out of date. Run "+CmdStyle.Render("'hound-updater index sync'")+" to update.")
}

func printSyncResult(w io.Writer, dir string, res *indexsync.SyncResult) {
	if res.UpToDate {
		fmt.Fprintf(w, "Package index is up to date (%s).\n", res.Commit)
		return
	}
	for _, f := range res.Files {
		line := fmt.Sprintf("%s%s (%d entries", stageStyle.Render("built"), f.Name, f.Stats.Inserted)
		if skipped := f.Stats.Skipped(); skipped > 0 {
			line += fmt.Sprintf(", %d skipped", skipped)
		}
		fmt.Fprintln(w, line+")")
	}
	for _, name := range res.Removed {
		fmt.Fprintf(w, "%s%s\n", stageStyle.Render("removed"), name)
	}
	fmt.Fprintln(w, SuccessStyle.Render(fmt.Sprintf("Synced %d index files into %s at %s", len(res.Files), dir, res.Commit)))
}
