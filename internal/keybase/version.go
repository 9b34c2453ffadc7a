package keybase

import (
	"fmt"
	"strconv"
	"strings"
)

// CheckVersion returns nil if current >= minVersion, error otherwise.
// An empty minVersion disables the check.
func CheckVersion(current, minVersion string) error {
	if minVersion == "" {
		return nil
	}
	if CompareVersions(current, minVersion) < 0 {
		return fmt.Errorf("keybase version %s required, found %s", minVersion, current)
	}
	return nil
}

// CompareVersions compares the X.Y.Z core of two version strings.
// A leading "v" and any "-prerelease" or "+build" suffix are ignored.
// Returns -1 if a < b, 0 if equal, 1 if a > b.
func CompareVersions(a, b string) int {
	partsA := strings.Split(versionCore(a), ".")
	partsB := strings.Split(versionCore(b), ".")

	for i := range 3 {
		numA, _ := strconv.Atoi(safeIndex(partsA, i))
		numB, _ := strconv.Atoi(safeIndex(partsB, i))
		if numA < numB {
			return -1
		}
		if numA > numB {
			return 1
		}
	}
	return 0
}

func versionCore(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	return v
}

func safeIndex(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return "0"
}
