// SPDX-License-Identifier: MPL-2.0

package pkgindex

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Scenario(t *testing.T) {
	t.Parallel()

	src := strings.Join([]string{
		"# header",
		"1a2b3c,Weapon Alpha",
		"1A2B3C,Weapon Duplicate",
		"ff,Weapon Beta",
		"badid,Weapon Bad",
	}, "\n")

	idx, stats, err := BuildWithStats(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, map[uint64]string{
		Mask(0x1a2b3c): "Weapon Alpha",
		Mask(0xff):     "Weapon Beta",
	}, idx.Map())
	assert.Equal(t, []uint64{0x1a2b3c, 0xff}, idx.IDs())

	assert.Equal(t, Stats{Lines: 5, Comments: 1, BadIDs: 1, Duplicates: 1, Inserted: 2}, stats)
	assert.Equal(t, 2, stats.Skipped())
}

func TestBuild_LineRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want map[uint64]string
	}{
		{
			name: "comment with comma contributes nothing",
			src:  "# comment,ignored",
			want: map[uint64]string{},
		},
		{
			name: "indented comment",
			src:  "   #10,ignored",
			want: map[uint64]string{},
		},
		{
			name: "non-hex id skipped, parse continues",
			src:  "nothex,value\n10,ten",
			want: map[uint64]string{0x10: "ten"},
		},
		{
			name: "line without comma skipped",
			src:  "10\n20,twenty",
			want: map[uint64]string{0x20: "twenty"},
		},
		{
			name: "blank lines skipped",
			src:  "\n\n  \n30,thirty\n",
			want: map[uint64]string{0x30: "thirty"},
		},
		{
			name: "colliding masked ids keep first",
			src:  "f000000000000001,high\n1,low",
			want: map[uint64]string{1: "high"},
		},
		{
			name: "value not trimmed after split",
			src:  "1,  padded",
			want: map[uint64]string{1: "  padded"},
		},
		{
			name: "surrounding whitespace of the line is trimmed",
			src:  "  2,value  \t",
			want: map[uint64]string{2: "value"},
		},
		{
			name: "leading byte order mark stripped",
			src:  "\uFEFF1a,alpha\n",
			want: map[uint64]string{0x1a: "alpha"},
		},
		{
			name: "byte order mark after the first line is kept",
			src:  "1a,alpha\n\uFEFF1b,beta\n",
			want: map[uint64]string{0x1a: "alpha"},
		},
		{
			name: "only the second field is stored",
			src:  "3,name,extra,fields",
			want: map[uint64]string{3: "name"},
		},
		{
			name: "empty value is stored",
			src:  "4,",
			want: map[uint64]string{4: ""},
		},
		{
			name: "id overflowing 64 bits skipped",
			src:  "1ffffffffffffffff,too big",
			want: map[uint64]string{},
		},
		{
			name: "hex prefix is not accepted",
			src:  "0x10,prefixed",
			want: map[uint64]string{},
		},
		{
			name: "utf-8 values preserved",
			src:  "5,Épée ⚔",
			want: map[uint64]string{5: "Épée ⚔"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			idx, err := Build(strings.NewReader(tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.want, idx.Map())
		})
	}
}

func TestBuild_ReadErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	_, err := Build(iotest.ErrReader(boom))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestBuild_LongLine(t *testing.T) {
	t.Parallel()

	long := "1," + strings.Repeat("a", 200_000)
	idx, err := Build(strings.NewReader(long))
	require.NoError(t, err)
	v, ok := idx.Lookup(1)
	require.True(t, ok)
	assert.Len(t, v, 200_000)
}

func TestBuildFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "weapons.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,Alpha\r\nb,Beta\r\n"), 0o644))

	idx, err := BuildFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{0xa: "Alpha", 0xb: "Beta"}, idx.Map())

	_, err = BuildFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
