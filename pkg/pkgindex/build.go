// SPDX-License-Identifier: MPL-2.0

package pkgindex

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// maxLineBytes bounds a single source line. Longer lines fail the scan with
// bufio.ErrTooLong, which is reported as an I/O fault.
const maxLineBytes = 1 << 20

// utf8BOM is stripped from the first line; Windows editors prepend it.
const utf8BOM = "\uFEFF"

// Stats counts how each source line was handled by BuildWithStats.
type Stats struct {
	Lines      int // Lines read, including blank ones
	Comments   int // Lines starting with '#'
	Malformed  int // Lines with fewer than two comma-separated fields
	BadIDs     int // Lines whose first field is not a hex uint64
	Duplicates int // Lines whose masked id was already present
	Inserted   int // Lines that produced an entry
}

// Skipped returns the number of non-comment lines that produced no entry.
func (s Stats) Skipped() int {
	return s.Malformed + s.BadIDs + s.Duplicates
}

// Build reads comma-separated "hexid,string" lines from r into a new Index.
//
// Lines are trimmed; '#' comments, lines with fewer than two fields, and lines
// whose id does not parse as hexadecimal are skipped. The first entry seen for
// a masked id wins. A UTF-8 byte order mark before the first line is
// ignored. Only read errors from r are returned.
func Build(r io.Reader) (*Index, error) {
	idx, _, err := BuildWithStats(r)
	return idx, err
}

// BuildWithStats is Build with a per-line accounting of skipped input.
func BuildWithStats(r io.Reader) (*Index, Stats, error) {
	var stats Stats
	idx := New()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		stats.Lines++
		line := scanner.Text()
		if stats.Lines == 1 {
			line = strings.TrimPrefix(line, utf8BOM)
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			stats.Comments++
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			stats.Malformed++
			continue
		}

		id, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			stats.BadIDs++
			continue
		}

		if !idx.Insert(id, fields[1]) {
			stats.Duplicates++
			continue
		}
		stats.Inserted++
	}

	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("reading index source: %w", err)
	}

	return idx, stats, nil
}

// BuildFile builds an Index from the text file at path.
func BuildFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Read-only file handle; close errors are exotic.
		_ = f.Close()
	}()

	idx, err := Build(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}
