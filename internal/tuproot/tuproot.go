// Package tuproot locates the build root: the directory containing the
// ".tup" state directory that holds the persisted store (§6). This plays
// the same role the teacher's internal/env.DistriRoot plays for locating a
// distri checkout, generalized from a single fixed env var to the
// dominating-directory search a build tool typically does (the same idea as
// finding a repository's ".git").
package tuproot

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDir is the name of the directory holding the persisted store, created
// by Init and located by Find.
const StateDir = ".tup"

// Find walks up from the current working directory looking for a ".tup"
// directory, honoring $TUPROOT as an explicit override. It returns the
// directory containing ".tup", not the state directory itself.
func Find() (string, error) {
	if env := os.Getenv("TUPROOT"); env != "" {
		if _, err := os.Stat(filepath.Join(env, StateDir)); err != nil {
			return "", fmt.Errorf("tuproot: TUPROOT=%s has no %s directory: %w", env, StateDir, err)
		}
		return env, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("tuproot: getwd: %w", err)
	}

	for {
		if fi, err := os.Stat(filepath.Join(dir, StateDir)); err == nil && fi.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("tuproot: no %s directory found above the current directory", StateDir)
		}
		dir = parent
	}
}

// Init creates a fresh ".tup" state directory under dir, failing if one
// already exists.
func Init(dir string) error {
	path := filepath.Join(dir, StateDir)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("tuproot: %s already exists", path)
	}
	return os.Mkdir(path, 0755)
}
