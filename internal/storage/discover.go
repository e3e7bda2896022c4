package storage

import (
	"os"
	"path/filepath"
)

// FindRoot walks up from startDir (the working directory when empty) to the
// nearest directory holding an initialised DefaultRoot, and returns that
// storage root. It returns "" when none is found.
func FindRoot(startDir string) string {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			return ""
		}
	}

	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		root := filepath.Join(dir, DefaultRoot)
		if info, err := os.Stat(filepath.Join(root, IdentityFile)); err == nil && info.Mode().IsRegular() {
			return root
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}
	return ""
}
