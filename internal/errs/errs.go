// Package errs provides the typed error vocabulary used across the backup
// and restore pipelines. Every abstract error kind in the design (path
// safety, permissions, crypto, integrity, chain, resource limits) has a
// sentinel here so callers can branch with errors.Is/errors.As instead of
// matching strings.
//
// Wrapping goes through github.com/cockroachdb/errors instead of
// fmt.Errorf so that fatal, unexpected errors keep a stack trace from the
// point they were first wrapped, which is invaluable when an entry aborts
// mid-commit and only the AuditLog survives to explain why.
package errs

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors for the abstract kinds named in the design's error
// handling section. Use errors.Is(err, errs.ErrPathTraversal) etc.
var (
	// Path-kernel violations.
	ErrPathTraversal  = errors.New("path traversal rejected")
	ErrNullByteInPath = errors.New("null byte in path")
	ErrUnicodeAttack  = errors.New("unicode normalization attack rejected")
	ErrSymlinkRejected = errors.New("symlink not followed")

	// Permissions.
	ErrPermissionDenied = errors.New("permission denied")

	// Crypto / integrity.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrIntegrityFailure     = errors.New("integrity verification failed")

	// Chain / restore.
	ErrBrokenChain = errors.New("predecessor chain broken")

	// Keying.
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")

	// Resource limits.
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
	ErrInsufficientSpace     = errors.New("insufficient free space at destination")

	// Generic.
	ErrIOError       = errors.New("io error")
	ErrConfigInvalid = errors.New("config invalid")
	ErrCancelled     = errors.New("operation cancelled")
)

// Wrap attaches a message and a stack frame to err. Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, message)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Is is a re-export of errors.Is for callers that only import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is a re-export of errors.As for callers that only import this package.
func As(err error, target any) bool { return errors.As(err, target) }

// PathError carries the offending path alongside one of the path-kernel
// sentinel errors.
type PathError struct {
	Kind error
	Path string
}

func (e *PathError) Error() string {
	return errors.Wrapf(e.Kind, "path %q", e.Path).Error()
}

func (e *PathError) Unwrap() error { return e.Kind }

// NewPathError builds a PathError for one of the path-kernel sentinels.
func NewPathError(kind error, path string) *PathError {
	return &PathError{Kind: kind, Path: path}
}

// FileError carries an operation name and path alongside an underlying error,
// mirroring the per-file failures the processing and restore pipelines
// recover from without aborting the whole run.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	if e.Err != nil {
		return errors.Wrapf(e.Err, "%s %s", e.Op, e.Path).Error()
	}
	return e.Op + " " + e.Path + " failed"
}

func (e *FileError) Unwrap() error { return e.Err }

// NewFileError builds a FileError.
func NewFileError(op, path string, err error) *FileError {
	return &FileError{Op: op, Path: path, Err: err}
}

// IsSecurityViolation reports whether err represents one of the
// path-kernel/security-classified kinds that must always be mirrored into
// the AuditLog as a SecurityViolation event, regardless of how it also
// surfaces to the caller.
func IsSecurityViolation(err error) bool {
	return errors.Is(err, ErrPathTraversal) ||
		errors.Is(err, ErrNullByteInPath) ||
		errors.Is(err, ErrUnicodeAttack) ||
		errors.Is(err, ErrSymlinkRejected) ||
		errors.Is(err, ErrAuthenticationFailed)
}
