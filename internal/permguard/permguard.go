// Package permguard verifies that a target or destination directory is
// actually readable/writable/executable by this process before the
// pipelines commit to using it, rather than discovering a permission
// failure mid-backup after partial work has already happened.
package permguard

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/larkspurhq/strongbox/internal/errs"
)

// CheckRead verifies dir exists, is a directory, and its contents can be
// listed by this process.
func CheckRead(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsPermission(err) {
			return errs.NewPathError(errs.ErrPermissionDenied, dir)
		}
		return errs.NewFileError("stat", dir, err)
	}
	if !info.IsDir() {
		return errs.NewFileError("stat", dir, fmt.Errorf("not a directory"))
	}

	f, err := os.Open(dir)
	if err != nil {
		if os.IsPermission(err) {
			return errs.NewPathError(errs.ErrPermissionDenied, dir)
		}
		return errs.NewFileError("open", dir, err)
	}
	defer f.Close()

	if _, err := f.Readdirnames(1); err != nil && err.Error() != "EOF" {
		if os.IsPermission(err) {
			return errs.NewPathError(errs.ErrPermissionDenied, dir)
		}
	}
	return nil
}

// CheckWrite verifies dir can be written to by atomically creating and
// removing a probe file scoped to this process, so concurrent probes from
// other processes never collide.
func CheckWrite(dir string) error {
	probe := filepath.Join(dir, fmt.Sprintf(".probe_%d", os.Getpid()))

	f, err := os.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsPermission(err) {
			return errs.NewPathError(errs.ErrPermissionDenied, dir)
		}
		return errs.NewFileError("create probe", dir, err)
	}
	f.Close()
	defer os.Remove(probe)

	return nil
}

// CheckExecute verifies dir can be entered (traversed) by this process,
// which on POSIX systems requires the execute bit rather than the read
// bit. It is checked by attempting to stat a definitely-nonexistent child
// entry: an EACCES at that point means the directory itself could not be
// traversed, whereas IsNotExist means traversal succeeded.
func CheckExecute(dir string) error {
	probe := filepath.Join(dir, ".strongbox-execute-probe-nonexistent")
	_, err := os.Stat(probe)
	if err == nil {
		// Pathological: the probe name actually exists. Traversal clearly
		// succeeded.
		return nil
	}
	if os.IsPermission(err) {
		return errs.NewPathError(errs.ErrPermissionDenied, dir)
	}
	return nil
}
