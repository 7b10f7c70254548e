//go:build !windows

package pathsafe

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/larkspurhq/strongbox/internal/errs"
)

// SafeOpenReadonly opens path for reading without following a terminal
// symlink component: O_NOFOLLOW causes the open to fail with ELOOP if the
// leaf itself is a symlink. Intermediate symlink components are still
// resolved by the kernel, which is why Sanitize's EvalSymlinks pass on the
// parent directory is the layer that closes that hole.
func SafeOpenReadonly(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		if err == unix.ELOOP {
			return nil, errs.NewPathError(errs.ErrSymlinkRejected, path)
		}
		return nil, errs.NewFileError("open", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}
