// Package security validates client-supplied filesystem paths. The map
// save and load services accept paths over HTTP; when the server is
// configured with a map directory, every path must resolve inside it.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside safeDir,
// including escapes through .. components and through symlinks. For paths
// that do not exist yet (save targets), the nearest existing ancestor is
// resolved instead, so a symlinked parent cannot redirect the write.
func ValidatePathWithinDirectory(path, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	canonicalPath := canonicalize(absPath)
	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path outside %s: %w", safeDir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, safeDir)
	}
	return nil
}

// canonicalize resolves symlinks in absPath. When the path does not exist
// the walk falls back to the nearest existing ancestor and rejoins the
// remaining components onto its resolved form.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	check := absPath
	for {
		parent := filepath.Dir(check)
		if parent == check {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, relErr := filepath.Rel(parent, absPath)
			if relErr != nil {
				return absPath
			}
			return filepath.Join(resolved, rel)
		}
		check = parent
	}
}
