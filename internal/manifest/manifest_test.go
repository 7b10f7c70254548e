package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntryNameFormat(t *testing.T) {
	ts := time.Date(2026, 7, 31, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "backup_20260731_140509", NewEntryName(ts))
}

func TestWriteLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	entry := NewEntry("backup_20260731_140509", KindFull, "")
	entry.Status = StatusSuccess
	entry.FileCount = 1
	entry.Files = []FileRecord{
		{
			LogicalPath:    "a.txt",
			StoredPath:     "a.txt",
			OriginalSize:   10,
			StoredSize:     10,
			SHA256Original: "deadbeef",
		},
	}

	require.NoError(t, Write(root, entry))

	loaded, err := Load(ManifestPath(root))
	require.NoError(t, err)
	assert.Equal(t, entry.Name, loaded.Name)
	require.Len(t, loaded.Files, 1)
	assert.Equal(t, "a.txt", loaded.Files[0].LogicalPath)
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	root := t.TempDir()
	entry := NewEntry("backup_x", KindFull, "")
	require.NoError(t, Write(root, entry))

	_, err := filepath.Glob(filepath.Join(root, "*.tmp"))
	require.NoError(t, err)

	matches, _ := filepath.Glob(filepath.Join(root, "manifest.toml.tmp"))
	assert.Empty(t, matches)
}

func TestLoadRejectsUnsupportedMajorVersion(t *testing.T) {
	root := t.TempDir()
	entry := NewEntry("backup_x", KindFull, "")
	entry.Version = "2.0.0"
	require.NoError(t, Write(root, entry))

	_, err := Load(ManifestPath(root))
	require.Error(t, err)
}

func TestListEntryNamesOnEmptyDestination(t *testing.T) {
	names, err := ListEntryNames(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, names)
}
