package patch

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

// Scan walks root and returns the relative paths of every regular file under
// it, sorted and normalized to forward-slash separators. The walk is
// read-only. Symlinks (both link files and linked directories) are skipped:
// links are never captured in a snapshot, and apply refuses to write through
// them.
func Scan(root string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("rel path for %s: %w", path, err)
		}

		paths = append(paths, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// WalkDir visits in lexical order per directory, but normalized
	// forward-slash paths need their own sort for a stable global order.
	sort.Strings(paths)
	return paths, nil
}
