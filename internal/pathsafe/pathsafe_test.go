package pathsafe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkspurhq/strongbox/internal/errs"
)

func TestSanitizeRejectsTraversalAttacks(t *testing.T) {
	base := t.TempDir()

	cases := []struct {
		name string
		path string
	}{
		{"dotdot unix", "../../../etc/passwd"},
		{"dotdot windows", `..\..\..\windows\system32`},
		{"absolute", "/absolute/path"},
		{"null byte", "foo\x00bar"},
		{"fraction slash", "etc⁄passwd"},
		{"fullwidth dot", "．．/x"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Sanitize(base, c.path)
			require.Error(t, err)
		})
	}
}

func TestSanitizeAcceptsOrdinaryRelativePath(t *testing.T) {
	base := t.TempDir()
	got, err := Sanitize(base, "sub/dir/file.txt")
	require.NoError(t, err)

	canonicalBase, err := canonicalize(base)
	require.NoError(t, err)
	assert.True(t, isDescendant(canonicalBase, got))
}

func TestSanitizeRejectsSymlinkEscape(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(base, "escape")
	require.NoError(t, os.Symlink(outside, link))

	_, err := Sanitize(base, "escape/secret.txt")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrPathTraversal))
}

func TestValidateShallowRejectsDotDot(t *testing.T) {
	err := ValidateShallow("a/../b")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrPathTraversal))
}

func TestValidateShallowAcceptsOrdinaryRelative(t *testing.T) {
	assert.NoError(t, ValidateShallow("a/b/c.txt"))
}

func TestValidateShallowRejectsNullByte(t *testing.T) {
	err := ValidateShallow("a\x00b")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrNullByteInPath))
}
