// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// maxNumericParts is the component count of a Windows file version
// (major.minor.build.revision).
const maxNumericParts = 4

// ErrInvalidVersion indicates a string is neither semver nor a dotted
// numeric version.
var ErrInvalidVersion = errors.New("invalid version")

// Version is a parsed release tag or host file version. Semantic versions
// and dotted numeric versions of up to four components share one ordering:
// numeric components first, then pre-release per semver rules.
type Version struct {
	raw        string
	core       [maxNumericParts]int
	prerelease string // semver pre-release including the leading '-'
}

// ParseVersion accepts "v1.2.3", "1.2.3-rc.1", "1.3.0.5", and "2" style
// versions. A leading "v" is optional and build metadata is ignored.
func ParseVersion(s string) (Version, error) {
	trimmed := strings.TrimSpace(s)
	bare := strings.TrimPrefix(strings.TrimPrefix(trimmed, "v"), "V")
	if bare == "" {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	if core, ok := parseNumeric(bare); ok {
		return Version{raw: trimmed, core: core}, nil
	}

	sv := "v" + bare
	if !semver.IsValid(sv) {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	// Canonical is always vMAJOR.MINOR.PATCH[-pre] for a valid input.
	canon := strings.TrimPrefix(semver.Canonical(sv), "v")
	pre := semver.Prerelease(sv)
	core, ok := parseNumeric(strings.TrimSuffix(canon, pre))
	if !ok {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	return Version{raw: trimmed, core: core, prerelease: pre}, nil
}

// CompareVersions parses a and b and returns -1, 0, or +1.
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Compare returns -1, 0, or +1 as v is older than, equal to, or newer than w.
func (v Version) Compare(w Version) int {
	for i := range v.core {
		switch {
		case v.core[i] < w.core[i]:
			return -1
		case v.core[i] > w.core[i]:
			return 1
		}
	}

	switch {
	case v.prerelease == w.prerelease:
		return 0
	case v.prerelease == "":
		return 1
	case w.prerelease == "":
		return -1
	}
	return semver.Compare("v0.0.0"+v.prerelease, "v0.0.0"+w.prerelease)
}

// IsPrerelease reports whether the version carries a pre-release suffix.
func (v Version) IsPrerelease() bool { return v.prerelease != "" }

// String returns the version as it was parsed, whitespace trimmed.
func (v Version) String() string { return v.raw }

// parseNumeric parses one to four dot-separated non-negative integers.
// Missing components are zero.
func parseNumeric(s string) ([maxNumericParts]int, bool) {
	var core [maxNumericParts]int
	parts := strings.Split(s, ".")
	if len(parts) > maxNumericParts {
		return core, false
	}
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return core, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return core, false
		}
		core[i] = n
	}
	return core, true
}
