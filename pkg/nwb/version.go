package nwb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrVersionExists is returned when a computed output path already exists
// on disk. Versioned outputs are immutable; hitting this is an invariant
// violation, not a recoverable condition.
var ErrVersionExists = errors.New("output version already exists")

var versionSuffix = regexp.MustCompile(`_v(\d+)\.nwb$`)

// Stem derives the output stem from an input path: the basename with its
// extension chain stripped (e.g. "rec.ap.bin" -> "rec").
func Stem(inputPath string) string {
	base := filepath.Base(inputPath)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

// VersionOf extracts the version number from a versioned output path.
// Returns 0 if the path is empty or carries no version suffix.
func VersionOf(outputPath string) int {
	m := versionSuffix.FindStringSubmatch(outputPath)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// VersionPath returns "<dir>/<stem>_v<n>.nwb".
func VersionPath(dir, stem string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_v%d.nwb", stem, n))
}

// NextVersionPath computes the path for the next conversion attempt given
// the previous output path ("" for the first attempt). It verifies the new
// path does not already exist; prior versions are never overwritten.
func NextVersionPath(dir, stem, previous string) (string, error) {
	next := VersionOf(previous) + 1
	path := VersionPath(dir, stem, next)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrVersionExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return path, nil
}

// ReportPath returns the report path for an output file with the given
// extension ("json", "txt", "pdf"): "<stem>_vN.report.<ext>".
func ReportPath(outputPath, ext string) string {
	return strings.TrimSuffix(outputPath, ".nwb") + ".report." + ext
}
