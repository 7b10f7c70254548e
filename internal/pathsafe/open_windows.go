//go:build windows

package pathsafe

import (
	"os"

	"github.com/larkspurhq/strongbox/internal/errs"
)

// SafeOpenReadonly opens path for reading, then rejects it if path itself
// is a reparse point (Windows' symlink/junction mechanism). There is no
// portable O_NOFOLLOW on Windows, so the check happens post-open against
// the attributes os.Lstat reports for path.
func SafeOpenReadonly(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.NewFileError("open", path, err)
	}
	info, err := os.Lstat(path)
	if err != nil {
		f.Close()
		return nil, errs.NewFileError("stat", path, err)
	}
	if info.Mode()&(os.ModeSymlink|os.ModeIrregular) != 0 {
		f.Close()
		return nil, errs.NewPathError(errs.ErrSymlinkRejected, path)
	}
	return f, nil
}
