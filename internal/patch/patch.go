// Package patch computes and applies binary patches between two versions of
// a directory tree. A patch is a versioned, ordered sequence of per-file
// operations (add, remove, modify) serialized to a single compact file.
//
// Building is all-or-nothing: no patch file is written unless every file in
// both snapshots could be read and diffed. Applying is sequential and
// per-entry safe (an entry is either fully applied or untouched) but not
// transactional across entries; callers that need an atomic tree update
// must apply to a scratch copy and swap it in themselves.
package patch

import (
	"fmt"
	"os"
)

// FormatVersion pins the on-disk encoding of patch packages.
// Bump only on breaking format changes.
const FormatVersion uint32 = 1

// OpKind identifies the kind of operation a patch entry performs.
type OpKind byte

const (
	OpAdd    OpKind = 1 // file did not exist before, exists after
	OpRemove OpKind = 2 // file existed before, does not exist after
	OpModify OpKind = 3 // file exists in both with different content
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpModify:
		return "modify"
	default:
		return "unknown"
	}
}

// Entry is a single per-file operation in a patch package. RelPath is always
// relative, forward-slash separated, with no leading separator. Data is set
// only for OpAdd; Delta only for OpModify.
type Entry struct {
	RelPath string
	Kind    OpKind
	Data    []byte
	Delta   *Delta
}

// Package is an immutable, ordered collection of patch entries. Entries are
// sorted lexicographically by RelPath so that two builds over identical
// inputs produce byte-identical packages.
type Package struct {
	Version uint32
	Entries []Entry
}

// Create writes a patch file at patchLoc representing the changes from
// beforeDir to afterDir.
func Create(patchLoc, beforeDir, afterDir string) error {
	pkg, err := Build(beforeDir, afterDir, BuildConfig{})
	if err != nil {
		return err
	}

	data, err := Encode(pkg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(patchLoc, data, 0o644); err != nil {
		return fmt.Errorf("write patch file %s: %w", patchLoc, err)
	}
	return nil
}

// Apply mutates targetDir in place to move it from its current state toward
// the state captured by the patch at patchLoc. The target is assumed to
// match the patch's "before" state; drift is detected per file by
// fingerprint and reported as ErrIntegrityMismatch.
func Apply(patchLoc, targetDir string) error {
	data, err := os.ReadFile(patchLoc)
	if err != nil {
		return fmt.Errorf("read patch file %s: %w", patchLoc, err)
	}

	// Cheap header-only version check before committing to a full decode.
	version, err := PeekVersion(data)
	if err != nil {
		return err
	}
	if version != FormatVersion {
		return fmt.Errorf("%w: package version %d, supported %d",
			ErrUnsupportedVersion, version, FormatVersion)
	}

	pkg, err := Decode(data)
	if err != nil {
		return err
	}

	return ApplyPackage(pkg, targetDir, ApplyConfig{})
}
