package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spideyzac/polylauncher/internal/event"
	"github.com/spideyzac/polylauncher/internal/stats"
)

// writePatchFile builds a patch from before to after and writes it to a temp
// location, returning the patch path.
func writePatchFile(t *testing.T, beforeRoot, afterRoot string) string {
	t.Helper()
	patchLoc := filepath.Join(t.TempDir(), "update.patch")
	require.NoError(t, Create(patchLoc, beforeRoot, afterRoot))
	return patchLoc
}

// encodePackage serializes a hand-built package to a temp file. Used to
// exercise the applier against packages no honest builder would produce.
func encodePackage(t *testing.T, pkg *Package) string {
	t.Helper()
	data, err := Encode(pkg)
	require.NoError(t, err)
	patchLoc := filepath.Join(t.TempDir(), "crafted.patch")
	require.NoError(t, os.WriteFile(patchLoc, data, 0o644))
	return patchLoc
}

func TestApply_RoundTrip(t *testing.T) {
	before := t.TempDir()
	after := t.TempDir()

	writeTree(t, before, map[string]string{
		"unchanged.txt":      "stable",
		"modified.txt":       "version one of this file",
		"removed.txt":        "to be deleted",
		"sub/also-gone.txt":  "whole directory vanishes",
		"other/kept.txt":     "sibling directory survives",
		"nested/a/b/old.txt": "deep removal",
	})
	writeTree(t, after, map[string]string{
		"unchanged.txt":  "stable",
		"modified.txt":   "version two of this file, slightly longer",
		"other/kept.txt": "sibling directory survives",
		"new/added.txt":  "created by the patch",
	})

	patchLoc := writePatchFile(t, before, after)

	target := copyTree(t, before)
	require.NoError(t, Apply(patchLoc, target))

	assert.Equal(t, readTree(t, after), readTree(t, target))
}

func TestApply_Idempotent(t *testing.T) {
	before := t.TempDir()
	after := t.TempDir()

	writeTree(t, before, map[string]string{
		"modified.txt": "before state",
		"removed.txt":  "x",
	})
	writeTree(t, after, map[string]string{
		"modified.txt": "after state",
		"added.txt":    "new",
	})

	patchLoc := writePatchFile(t, before, after)
	target := copyTree(t, before)

	require.NoError(t, Apply(patchLoc, target))
	// Second application against the already-patched tree: Remove is a
	// no-op, Add rewrites identical bytes, Modify sees the post-image and
	// leaves it alone.
	require.NoError(t, Apply(patchLoc, target))

	assert.Equal(t, readTree(t, after), readTree(t, target))
}

func TestApplyPackage_SecondRunSkipsModify(t *testing.T) {
	before := t.TempDir()
	after := t.TempDir()
	writeTree(t, before, map[string]string{"modified.txt": "before state"})
	writeTree(t, after, map[string]string{"modified.txt": "after state"})

	data, err := os.ReadFile(writePatchFile(t, before, after))
	require.NoError(t, err)
	pkg, err := Decode(data)
	require.NoError(t, err)

	target := copyTree(t, before)
	require.NoError(t, ApplyPackage(pkg, target, ApplyConfig{}))

	collector := stats.NewCollector()
	events := make(chan event.Event, 16)
	require.NoError(t, ApplyPackage(pkg, target, ApplyConfig{Events: events, Stats: collector}))
	close(events)

	assert.Equal(t, int64(0), collector.Snapshot().EntriesApplied)
	var sawSkip bool
	for ev := range events {
		if ev.Type == event.EntrySkipped && ev.Path == "modified.txt" {
			sawSkip = true
		}
	}
	assert.True(t, sawSkip, "re-applied modify should surface as a skip")
}

func TestApply_PathEscapeRejected(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "target")
	require.NoError(t, os.Mkdir(target, 0o755))

	patchLoc := encodePackage(t, &Package{
		Version: FormatVersion,
		Entries: []Entry{
			{RelPath: "safe.txt", Kind: OpAdd, Data: []byte("inside")},
			{RelPath: "../outside.txt", Kind: OpAdd, Data: []byte("escaped")},
			{RelPath: "never.txt", Kind: OpAdd, Data: []byte("unreached")},
		},
	})

	err := Apply(patchLoc, target)
	require.ErrorIs(t, err, ErrPathEscape)

	// Nothing outside the target was touched.
	assert.NoFileExists(t, filepath.Join(base, "outside.txt"))
	// Entries before the bad one stay applied; entries after are never run.
	assert.FileExists(t, filepath.Join(target, "safe.txt"))
	assert.NoFileExists(t, filepath.Join(target, "never.txt"))
}

func TestApply_DotDotWithinRootRejected(t *testing.T) {
	// Traversal hidden behind a legitimate-looking first segment still
	// normalizes to a path outside the root.
	target := t.TempDir()

	patchLoc := encodePackage(t, &Package{
		Version: FormatVersion,
		Entries: []Entry{
			{RelPath: "a/../../escape.txt", Kind: OpAdd, Data: []byte("x")},
		},
	})

	err := Apply(patchLoc, target)
	require.ErrorIs(t, err, ErrPathEscape)
}

func TestApply_EmptyRelPathRejected(t *testing.T) {
	// An entry resolving to the target root itself is an escape, not a write.
	target := t.TempDir()

	patchLoc := encodePackage(t, &Package{
		Version: FormatVersion,
		Entries: []Entry{
			{RelPath: ".", Kind: OpAdd, Data: []byte("x")},
		},
	})

	err := Apply(patchLoc, target)
	require.ErrorIs(t, err, ErrPathEscape)
}

func TestApply_SymlinkedDirRefused(t *testing.T) {
	target := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(target, "link")))

	patchLoc := encodePackage(t, &Package{
		Version: FormatVersion,
		Entries: []Entry{
			{RelPath: "link/inner.txt", Kind: OpAdd, Data: []byte("redirected")},
		},
	})

	err := Apply(patchLoc, target)
	require.ErrorIs(t, err, ErrSymlinkRefused)
	assert.NoFileExists(t, filepath.Join(outside, "inner.txt"))
}

func TestApply_SymlinkedFileRefused(t *testing.T) {
	target := t.TempDir()
	outside := t.TempDir()
	victim := filepath.Join(outside, "victim.txt")
	require.NoError(t, os.WriteFile(victim, []byte("original"), 0o644))
	require.NoError(t, os.Symlink(victim, filepath.Join(target, "file.txt")))

	patchLoc := encodePackage(t, &Package{
		Version: FormatVersion,
		Entries: []Entry{
			{RelPath: "file.txt", Kind: OpAdd, Data: []byte("overwritten")},
		},
	})

	err := Apply(patchLoc, target)
	require.ErrorIs(t, err, ErrSymlinkRefused)

	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestApply_SymlinkTargetRootRefused(t *testing.T) {
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "root-link")
	require.NoError(t, os.Symlink(real, link))

	patchLoc := encodePackage(t, &Package{Version: FormatVersion})

	err := Apply(patchLoc, link)
	require.ErrorIs(t, err, ErrSymlinkRefused)
}

func TestApply_IntegrityMismatchOnDrift(t *testing.T) {
	before := t.TempDir()
	after := t.TempDir()
	writeTree(t, before, map[string]string{"a.txt": "hello"})
	writeTree(t, after, map[string]string{"a.txt": "hello world"})

	patchLoc := writePatchFile(t, before, after)

	target := t.TempDir()
	writeTree(t, target, map[string]string{"a.txt": "tampered"})

	err := Apply(patchLoc, target)
	require.ErrorIs(t, err, ErrIntegrityMismatch)

	// The drifted file is reported, never overwritten.
	data, err := os.ReadFile(filepath.Join(target, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "tampered", string(data))
}

func TestApply_CorruptDeltaCaughtBeforeWrite(t *testing.T) {
	before := []byte("correct before image")
	delta, err := Diff(before, []byte("correct after image"))
	require.NoError(t, err)

	// Sabotage the expected post-image fingerprint so reconstruction
	// cannot satisfy it.
	delta.AfterSum[0] ^= 0xFF

	target := t.TempDir()
	writeTree(t, target, map[string]string{"a.txt": string(before)})

	patchLoc := encodePackage(t, &Package{
		Version: FormatVersion,
		Entries: []Entry{{RelPath: "a.txt", Kind: OpModify, Delta: delta}},
	})

	err = Apply(patchLoc, target)
	require.ErrorIs(t, err, ErrIntegrityMismatch)

	data, err := os.ReadFile(filepath.Join(target, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, before, data, "file must not be written when reconstruction fails verification")
}

func TestApply_RemoveMissingIsNoop(t *testing.T) {
	target := t.TempDir()

	patchLoc := encodePackage(t, &Package{
		Version: FormatVersion,
		Entries: []Entry{{RelPath: "already-gone.txt", Kind: OpRemove}},
	})

	require.NoError(t, Apply(patchLoc, target))
}

func TestApply_PrunesEmptyParentDirs(t *testing.T) {
	before := t.TempDir()
	after := t.TempDir()
	writeTree(t, before, map[string]string{
		"sub/deep/only.txt": "lonely",
		"other/keep.txt":    "stays",
	})
	writeTree(t, after, map[string]string{
		"other/keep.txt": "stays",
	})

	patchLoc := writePatchFile(t, before, after)
	target := copyTree(t, before)

	collector := stats.NewCollector()
	data, err := os.ReadFile(patchLoc)
	require.NoError(t, err)
	pkg, err := Decode(data)
	require.NoError(t, err)
	require.NoError(t, ApplyPackage(pkg, target, ApplyConfig{Stats: collector}))

	assert.NoDirExists(t, filepath.Join(target, "sub", "deep"))
	assert.NoDirExists(t, filepath.Join(target, "sub"))
	assert.DirExists(t, filepath.Join(target, "other"))
	assert.FileExists(t, filepath.Join(target, "other", "keep.txt"))
	assert.DirExists(t, target, "target root itself is never pruned")

	assert.Equal(t, int64(2), collector.Snapshot().DirsPruned)
	assert.Equal(t, int64(1), collector.Snapshot().EntriesApplied)
}

func TestApply_VersionGate(t *testing.T) {
	target := t.TempDir()

	data, err := Encode(&Package{
		Version: FormatVersion,
		Entries: []Entry{{RelPath: "a.txt", Kind: OpAdd, Data: []byte("x")}},
	})
	require.NoError(t, err)

	// Rewrite the header to claim a future format version.
	data[7] = 99
	patchLoc := filepath.Join(t.TempDir(), "future.patch")
	require.NoError(t, os.WriteFile(patchLoc, data, 0o644))

	err = Apply(patchLoc, target)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.NoFileExists(t, filepath.Join(target, "a.txt"))
}

func TestApplyPackage_VersionGateBeforeEntries(t *testing.T) {
	target := t.TempDir()

	pkg := &Package{
		Version: FormatVersion + 1,
		Entries: []Entry{{RelPath: "a.txt", Kind: OpAdd, Data: []byte("x")}},
	}

	err := ApplyPackage(pkg, target, ApplyConfig{})
	require.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.NoFileExists(t, filepath.Join(target, "a.txt"))
}

func TestApply_MissingTarget(t *testing.T) {
	patchLoc := encodePackage(t, &Package{Version: FormatVersion})
	err := Apply(patchLoc, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestApply_CorruptPatchFile(t *testing.T) {
	patchLoc := filepath.Join(t.TempDir(), "bad.patch")
	require.NoError(t, os.WriteFile(patchLoc, []byte("not a patch at all"), 0o644))

	err := Apply(patchLoc, t.TempDir())
	require.ErrorIs(t, err, ErrCorruptPackage)
}
