package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsRelativeDestination(t *testing.T) {
	cfg := Default()
	cfg.Destination = "relative/path"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDestinationInsideTarget(t *testing.T) {
	cfg := Default()
	cfg.Destination = "/home/user/projects/backups"
	require.NoError(t, cfg.AddTarget("/home/user/projects", PriorityHigh, TargetDirectory, "code", nil))
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateTargets(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.AddTarget("/home/user/docs", PriorityLow, TargetDirectory, "docs", nil))
	err := cfg.AddTarget("/home/user/docs", PriorityLow, TargetDirectory, "docs", nil)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Destination = filepath.Join(dir, "backups")
	require.NoError(t, cfg.AddTarget(filepath.Join(dir, "src"), PriorityMedium, TargetDirectory, "code", []string{`\.git/`}))

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Destination, loaded.Destination)
	require.Len(t, loaded.Targets, 1)
	assert.Equal(t, cfg.Targets[0].Path, loaded.Targets[0].Path)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	cfg := Default()
	cfg.Destination = filepath.Join(dir, "backups")
	require.NoError(t, Save(path, cfg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "config.toml", entries[0].Name())
}
