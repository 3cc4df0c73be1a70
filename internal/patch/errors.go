package patch

import "errors"

// ErrCorruptPackage is returned when a serialized package fails structural
// validation during decode.
var ErrCorruptPackage = errors.New("corrupt patch package")

// ErrUnsupportedVersion is returned when a package's format version differs
// from the version this build supports.
var ErrUnsupportedVersion = errors.New("unsupported patch package version")

// ErrPathEscape is returned when an entry's relative path, once normalized,
// resolves outside the target directory.
var ErrPathEscape = errors.New("patch entry escapes target directory")

// ErrSymlinkRefused is returned when a path component is, or an operation
// would go through, a symlink.
var ErrSymlinkRefused = errors.New("refusing to operate on symlink")

// ErrIntegrityMismatch is returned when a fingerprint check fails before or
// after applying a delta.
var ErrIntegrityMismatch = errors.New("fingerprint mismatch")
