package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spideyzac/polylauncher/internal/event"
	"github.com/spideyzac/polylauncher/internal/stats"
)

// ApplyConfig controls patch application.
type ApplyConfig struct {
	// Version is the package format version this applier accepts.
	// Zero means FormatVersion.
	Version uint32
	Events  chan<- event.Event
	Stats   *stats.Collector
}

// ApplyPackage replays pkg against targetRoot, processing entries strictly
// in package order. Application is not transactional: an error on entry k
// leaves earlier entries applied, but the per-entry checks guarantee entry k
// itself is never left half-written. Relative paths in a package are
// attacker-influenced; every entry passes a lexical containment check and a
// component-by-component symlink walk before its operation runs.
func ApplyPackage(pkg *Package, targetRoot string, cfg ApplyConfig) error {
	supported := cfg.Version
	if supported == 0 {
		supported = FormatVersion
	}

	info, err := os.Lstat(targetRoot)
	if err != nil {
		return fmt.Errorf("target %s: %w", targetRoot, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: target %s is a symlink", ErrSymlinkRefused, targetRoot)
	}
	if !info.IsDir() {
		return fmt.Errorf("target %s: not a directory", targetRoot)
	}

	// Version gate runs before any entry is inspected.
	if pkg.Version != supported {
		return fmt.Errorf("%w: package version %d, supported %d",
			ErrUnsupportedVersion, pkg.Version, supported)
	}

	root, err := filepath.Abs(targetRoot)
	if err != nil {
		return fmt.Errorf("resolve target %s: %w", targetRoot, err)
	}

	event.Emit(cfg.Events, event.Event{
		Type:  event.ApplyStarted,
		Path:  targetRoot,
		Total: int64(len(pkg.Entries)),
	})

	for i := range pkg.Entries {
		e := &pkg.Entries[i]

		dest, err := resolveEntryPath(root, e.RelPath)
		if err != nil {
			return err
		}

		var skipped bool
		switch e.Kind {
		case OpAdd:
			err = applyAdd(dest, e)
		case OpRemove:
			err = applyRemove(root, dest, e, cfg)
		case OpModify:
			skipped, err = applyModify(dest, e)
		default:
			err = fmt.Errorf("%w: unknown op kind %d for %s", ErrCorruptPackage, e.Kind, e.RelPath)
		}
		if err != nil {
			return err
		}
		if skipped {
			event.Emit(cfg.Events, event.Event{
				Type: event.EntrySkipped,
				Path: e.RelPath,
				Op:   e.Kind.String(),
			})
			continue
		}

		event.Emit(cfg.Events, event.Event{
			Type: event.EntryApplied,
			Path: e.RelPath,
			Op:   e.Kind.String(),
		})
		if cfg.Stats != nil {
			cfg.Stats.AddEntriesApplied(1)
		}
	}

	event.Emit(cfg.Events, event.Event{
		Type:  event.ApplyComplete,
		Path:  targetRoot,
		Total: int64(len(pkg.Entries)),
	})
	return nil
}

// resolveEntryPath joins relPath onto root, normalizes it purely lexically,
// and verifies it stays inside root and crosses no existing symlink below
// root. Returns the absolute destination path.
func resolveEntryPath(root, relPath string) (string, error) {
	// filepath.Join runs Clean, which resolves "." and ".." segments without
	// touching the filesystem. A traversal like "../outside.txt" therefore
	// surfaces as a path outside root rather than a live escape.
	dest := filepath.Join(root, filepath.FromSlash(relPath))

	sep := string(filepath.Separator)
	if dest == root || !strings.HasPrefix(dest, root+sep) {
		return "", fmt.Errorf("%w: %q resolves to %s", ErrPathEscape, relPath, dest)
	}

	// Defense in depth alongside the containment check above: that check
	// only catches traversal encoded in relPath itself, not a symlink
	// already planted inside the target tree redirecting the write.
	cur := root
	for _, comp := range strings.Split(dest[len(root)+1:], sep) {
		cur = filepath.Join(cur, comp)
		fi, err := os.Lstat(cur)
		if err != nil {
			if os.IsNotExist(err) {
				// Nothing further down exists yet, so nothing can be a link.
				break
			}
			return "", fmt.Errorf("lstat %s: %w", cur, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: path component %s of %q", ErrSymlinkRefused, cur, relPath)
		}
	}

	return dest, nil
}

func applyAdd(dest string, e *Entry) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent directories for %s: %w", e.RelPath, err)
	}

	// Re-check just before the overwrite; the destination may have appeared
	// since the component walk.
	if fi, err := os.Lstat(dest); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: overwrite of %s", ErrSymlinkRefused, e.RelPath)
	}

	if err := os.WriteFile(dest, e.Data, 0o644); err != nil {
		return fmt.Errorf("write added file %s: %w", e.RelPath, err)
	}
	return nil
}

func applyRemove(root, dest string, e *Entry, cfg ApplyConfig) error {
	fi, err := os.Lstat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			// Already satisfied; keeps re-application idempotent.
			return nil
		}
		return fmt.Errorf("lstat %s: %w", e.RelPath, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: removal of %s", ErrSymlinkRefused, e.RelPath)
	}

	if err := os.Remove(dest); err != nil {
		return fmt.Errorf("remove %s: %w", e.RelPath, err)
	}

	pruneEmptyParents(root, dest, cfg)
	return nil
}

func applyModify(dest string, e *Entry) (skipped bool, err error) {
	fi, err := os.Lstat(dest)
	if err != nil {
		return false, fmt.Errorf("lstat %s: %w", e.RelPath, err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return false, fmt.Errorf("%w: modification of %s", ErrSymlinkRefused, e.RelPath)
	}

	current, err := os.ReadFile(dest)
	if err != nil {
		return false, fmt.Errorf("read %s for modification: %w", e.RelPath, err)
	}

	sum := Fingerprint(current)
	if sum == e.Delta.AfterSum {
		// Already at the post-image (re-applied patch); nothing to do.
		return true, nil
	}
	if sum != e.Delta.BeforeSum {
		return false, fmt.Errorf("%w: %s changed since patch was built (expected %x, found %x)",
			ErrIntegrityMismatch, e.RelPath, e.Delta.BeforeSum, sum)
	}

	modified, err := e.Delta.Apply(current)
	if err != nil {
		return false, fmt.Errorf("apply delta to %s: %w", e.RelPath, err)
	}

	if sum := Fingerprint(modified); sum != e.Delta.AfterSum {
		return false, fmt.Errorf("%w: reconstruction of %s corrupted (expected %x, produced %x)",
			ErrIntegrityMismatch, e.RelPath, e.Delta.AfterSum, sum)
	}

	if err := os.WriteFile(dest, modified, 0o644); err != nil {
		return false, fmt.Errorf("write modified file %s: %w", e.RelPath, err)
	}
	return false, nil
}

// pruneEmptyParents walks upward from a removed file's parent, deleting each
// now-empty directory. It stops at the first non-empty directory or at the
// target root, which is never deleted. Failures are swallowed: cleanup is
// best-effort, not a correctness requirement.
func pruneEmptyParents(root, removed string, cfg ApplyConfig) {
	sep := string(filepath.Separator)
	dir := filepath.Dir(removed)
	for dir != root && strings.HasPrefix(dir, root+sep) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		event.Emit(cfg.Events, event.Event{Type: event.DirPruned, Path: dir})
		if cfg.Stats != nil {
			cfg.Stats.AddDirsPruned(1)
		}
		dir = filepath.Dir(dir)
	}
}
