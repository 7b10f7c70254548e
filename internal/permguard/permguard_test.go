package permguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckReadOnOrdinaryDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckRead(dir))
}

func TestCheckReadOnFileFails(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	err := CheckRead(file)
	require.Error(t, err)
}

func TestCheckWriteSucceedsAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CheckWrite(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckExecuteOnOrdinaryDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExecute(dir))
}
