package errs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "x"))
}

func TestPathErrorUnwraps(t *testing.T) {
	err := NewPathError(ErrPathTraversal, "/etc/../passwd")
	assert.True(t, Is(err, ErrPathTraversal))
	assert.Contains(t, err.Error(), "/etc/../passwd")
}

func TestFileErrorUnwraps(t *testing.T) {
	inner := Wrap(ErrIOError, "read")
	err := NewFileError("read", "/tmp/x", inner)
	require.Error(t, err)
	assert.True(t, Is(err, ErrIOError))
}

func TestIsSecurityViolation(t *testing.T) {
	assert.True(t, IsSecurityViolation(ErrPathTraversal))
	assert.True(t, IsSecurityViolation(ErrSymlinkRejected))
	assert.True(t, IsSecurityViolation(ErrAuthenticationFailed))
	assert.False(t, IsSecurityViolation(ErrInsufficientSpace))
}
