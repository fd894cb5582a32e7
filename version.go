package lnunify

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed node software version. Components that were not
// present in the text are nil, which is different from zero.
type Version struct {
	Core       *int   `json:"core"`
	Major      *int   `json:"major"`
	Minor      *int   `json:"minor"`
	ReleaseTag string `json:"release_tag,omitempty"`
}

// ParseVersion parses strings like "v0.3.0-beta-1", "V11.4" or
// "0.18.4-beta commit=v0.18.4-beta". Anything after the first whitespace is
// ignored and everything after the first hyphen is the release tag.
func ParseVersion(text string) (Version, error) {
	s := strings.TrimSpace(text)
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")

	var v Version
	if i := strings.IndexByte(s, '-'); i >= 0 {
		v.ReleaseTag = s[i+1:]
		s = s[:i]
	}
	if s == "" {
		return Version{}, fmt.Errorf("empty version: %q", text)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		// CLN reports e.g. "v24.11.1.0" for some builds, extra
		// components carry no ordering information we use.
		parts = parts[:3]
	}
	slots := []**int{&v.Core, &v.Major, &v.Minor}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version component %q in %q", p, text)
		}
		*slots[i] = &n
	}
	return v, nil
}

// MustParseVersion is ParseVersion for constants.
func MustParseVersion(text string) Version {
	v, err := ParseVersion(text)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	var parts []string
	for _, c := range []*int{v.Core, v.Major, v.Minor} {
		if c == nil {
			break
		}
		parts = append(parts, strconv.Itoa(*c))
	}
	s := "v" + strings.Join(parts, ".")
	if v.ReleaseTag != "" {
		s += "-" + v.ReleaseTag
	}
	return s
}

// order is the result of comparing two versions component by component.
type order int

const (
	less order = iota - 1
	equal
	greater
	// undecided means a component was absent on one side only, so the two
	// versions are not ordered at that component.
	undecided
)

// compare walks core, major, minor. Absent against absent is skipped, absent
// against present is undecided.
func compare(a, b Version) order {
	pairs := [][2]*int{{a.Core, b.Core}, {a.Major, b.Major}, {a.Minor, b.Minor}}
	for _, p := range pairs {
		x, y := p[0], p[1]
		switch {
		case x == nil && y == nil:
			continue
		case x == nil || y == nil:
			return undecided
		case *x < *y:
			return less
		case *x > *y:
			return greater
		}
	}
	return equal
}

// AtLeast reports whether v satisfies the minimum version min. A component
// that is absent on v never satisfies a component that min sets. A
// component that min leaves absent places no bound.
func (v Version) AtLeast(min Version) bool {
	pairs := [][2]*int{{v.Core, min.Core}, {v.Major, min.Major}, {v.Minor, min.Minor}}
	for _, p := range pairs {
		x, y := p[0], p[1]
		switch {
		case y == nil:
			return true
		case x == nil:
			return false
		case *x > *y:
			return true
		case *x < *y:
			return false
		}
	}
	return true
}

// Before reports whether v is strictly ordered before the end-of-support
// version eos. Any comparison that is not decidable, or a v equal to eos,
// counts as not before.
func (v Version) Before(eos Version) bool {
	return compare(v, eos) == less
}

// IsSupportedVersion reports whether user is at least min and, if eos is
// non-empty, still strictly before the end-of-support version. Unparsable
// input is never supported.
func IsSupportedVersion(user, min string, eos ...string) bool {
	u, err := ParseVersion(user)
	if err != nil {
		return false
	}
	m, err := ParseVersion(min)
	if err != nil {
		return false
	}
	if !u.AtLeast(m) {
		return false
	}
	if len(eos) == 0 || eos[0] == "" {
		return true
	}
	e, err := ParseVersion(eos[0])
	if err != nil {
		return false
	}
	return u.Before(e)
}
