// Package jobs wires the REST surface (submit/upload/status/list/cancel/
// stats/download/progress stream/server-file browsing) onto an
// internal/jobqueue.Queue and internal/dda request building.
package jobs

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	// ErrAbsolutePath is returned when a caller-supplied relative path is
	// actually absolute.
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	// ErrPathTraversal is returned when a caller-supplied path contains "..".
	ErrPathTraversal = errors.New("path traversal sequences are not allowed")
	// ErrOutsideBase is returned when a resolved path escapes the base directory.
	ErrOutsideBase = errors.New("access denied")
)

// resolveServerPath validates a caller-supplied relative path against a
// base directory and returns its canonical absolute form. Checks run in a
// fixed order: reject absolute paths, reject ".." substrings, join with
// base, canonicalize both sides, then verify the canonical result is still
// rooted under base.
func resolveServerPath(baseDir, relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", ErrAbsolutePath
	}
	if strings.Contains(relPath, "..") {
		return "", ErrPathTraversal
	}

	joined := filepath.Join(baseDir, relPath)

	canonicalBase, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		return "", err
	}
	canonicalTarget, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(canonicalBase, canonicalTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideBase
	}
	return canonicalTarget, nil
}

// sanitizeFilename keeps only alphanumerics, '-', '_', '.' and truncates to
// 100 runes, matching the upload handler's on-disk naming scheme.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if b.Len() >= 100 {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
