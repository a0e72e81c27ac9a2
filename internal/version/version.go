// Package version compares the release numbers reported by search servers.
package version

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// MinimumServer is the oldest server release whose JSON responses carry the fields the
// statistics read
const MinimumServer = "4.0"

// Compare returns -1, 0 or 1 when a is older, equal or newer than b.
// Unparseable versions sort before every valid one.
func Compare(a, b string) int {
	va, errA := parse(a)
	vb, errB := parse(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// AtLeast reports whether v is minimum or newer. An unparseable v is never supported.
func AtLeast(v, minimum string) bool {
	parsed, err := parse(v)
	if err != nil {
		return false
	}
	floor, err := parse(minimum)
	if err != nil {
		return false
	}
	return parsed.GreaterThanOrEqual(floor)
}

// parse accepts "9.4.1", "v9.4", "10.0.0-SNAPSHOT" and implementation strings such as
// "9.4.1 1234abcd - builder - 2024-01-01"
func parse(v string) (*goversion.Version, error) {
	v = strings.TrimSpace(v)
	if idx := strings.IndexByte(v, ' '); idx != -1 {
		v = v[:idx]
	}
	return goversion.NewVersion(v)
}
