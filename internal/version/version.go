// Package version parses the version banner printed by `bitcoind -version`
// and answers capability questions the launcher needs when it renders the
// daemon configuration.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoVersion is returned when the banner carries no recognisable version.
var ErrNoVersion = errors.New("no version found in output")

// Version is a Bitcoin Core release number. Releases before 22.0 use the
// 0.MINOR.PATCH scheme, some of them with a fourth build component (0.19.0.1).
type Version struct {
	Major int
	Minor int
	Patch int
	Build int
	Pre   string // e.g. "rc1"
}

var versionPattern = regexp.MustCompile(`v?(\d+)\.(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:-?(rc\d+))?`)

// Parse extracts the version from output such as
// "Bitcoin Core version v24.0.1" or "Bitcoin Core Daemon version v0.17.1".
// A bare version string ("23.0", "v0.21.1") is accepted too.
func Parse(output string) (Version, error) {
	line := strings.TrimSpace(output)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(strings.ToLower(line), "version"); i >= 0 {
		line = line[i+len("version"):]
	}

	m := versionPattern.FindStringSubmatch(line)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrNoVersion, strings.TrimSpace(output))
	}

	var v Version
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	if m[4] != "" {
		v.Build, _ = strconv.Atoi(m[4])
	}
	v.Pre = m[5]
	return v, nil
}

// FromClientVersion converts the numeric version reported by getnetworkinfo
// (220000 for 22.0, 210100 for 0.21.1). Zero or negative yields the zero
// Version.
func FromClientVersion(n int) Version {
	if n <= 0 {
		return Version{}
	}
	// Releases jumped from 0.21 to 22.0, so a leading 22+ is a major number.
	if n/10000 >= 22 {
		return Version{Major: n / 10000, Minor: n / 100 % 100, Patch: n % 100}
	}
	return Version{Minor: n / 10000, Patch: n / 100 % 100, Build: n % 100}
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare returns -1, 0 or 1. A pre-release sorts before its final release.
func (v Version) Compare(o Version) int {
	for _, d := range [][2]int{{v.Major, o.Major}, {v.Minor, o.Minor}, {v.Patch, o.Patch}, {v.Build, o.Build}} {
		if d[0] < d[1] {
			return -1
		}
		if d[0] > d[1] {
			return 1
		}
	}
	switch {
	case v.Pre == o.Pre:
		return 0
	case v.Pre == "":
		return 1
	case o.Pre == "":
		return -1
	case v.Pre < o.Pre:
		return -1
	default:
		return 1
	}
}

// AtLeast reports whether v >= major.minor.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// IsZero reports whether v is the zero value (unknown version).
func (v Version) IsZero() bool {
	return v == Version{}
}

// String renders the version without the leading "v", keeping the release
// scheme in use (0.21.1, 0.19.0.1, 24.0.1).
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d", v.Major, v.Minor)
	if v.Patch != 0 || v.Build != 0 || v.Major == 0 {
		s += fmt.Sprintf(".%d", v.Patch)
	}
	if v.Build != 0 {
		s += fmt.Sprintf(".%d", v.Build)
	}
	if v.Pre != "" {
		s += v.Pre
	}
	return s
}

// SupportsConfigSections reports whether network sections ([regtest]) are
// understood in bitcoin.conf. Introduced in 0.17; from then on network-specific
// options outside a section are ignored.
func (v Version) SupportsConfigSections() bool {
	return v.IsZero() || v.AtLeast(0, 17)
}

// SupportsCreateWallet reports whether the createwallet RPC exists.
func (v Version) SupportsCreateWallet() bool {
	return v.IsZero() || v.AtLeast(0, 17)
}

// UsesAppleDarwinArchives reports whether macOS release archives are named
// after the target triple (x86_64-apple-darwin) instead of osx64.
func (v Version) UsesAppleDarwinArchives() bool {
	return v.AtLeast(23, 0)
}
