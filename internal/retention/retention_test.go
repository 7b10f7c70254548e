package retention

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkspurhq/strongbox/internal/manifest"
)

func seedEntry(t *testing.T, destination, name string, kind manifest.Kind, predecessor string, age time.Duration) {
	t.Helper()
	root := manifest.RootDir(destination, name)
	require.NoError(t, os.MkdirAll(root, 0o755))

	entry := manifest.NewEntry(name, kind, predecessor)
	entry.CreatedAt = time.Now().UTC().Add(-age)
	entry.Status = manifest.StatusSuccess
	require.NoError(t, manifest.Write(root, entry))
}

func TestCleanupPreservesChainAnchor(t *testing.T) {
	destination := t.TempDir()
	seedEntry(t, destination, "backup_full", manifest.KindFull, "", 45*24*time.Hour)
	seedEntry(t, destination, "backup_inc", manifest.KindIncremental, "backup_full", 10*24*time.Hour)

	plan, err := Cleanup(destination, 30, false)
	require.NoError(t, err)

	var fullDeleted, incDeleted bool
	for _, d := range plan.Decisions {
		if d.Name == "backup_full" {
			fullDeleted = d.Deleted
		}
		if d.Name == "backup_inc" {
			incDeleted = d.Deleted
		}
	}
	assert.False(t, fullDeleted, "full entry anchoring a retained incremental must not be deleted")
	assert.False(t, incDeleted)

	_, err = os.Stat(manifest.RootDir(destination, "backup_full"))
	assert.NoError(t, err)
}

func TestCleanupDeletesUnanchoredOldEntries(t *testing.T) {
	destination := t.TempDir()
	seedEntry(t, destination, "backup_old", manifest.KindFull, "", 60*24*time.Hour)

	plan, err := Cleanup(destination, 30, false)
	require.NoError(t, err)
	require.Len(t, plan.Decisions, 1)
	assert.True(t, plan.Decisions[0].Deleted)

	_, err = os.Stat(manifest.RootDir(destination, "backup_old"))
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupDryRunMakesNoChanges(t *testing.T) {
	destination := t.TempDir()
	seedEntry(t, destination, "backup_old", manifest.KindFull, "", 60*24*time.Hour)

	plan, err := Cleanup(destination, 30, true)
	require.NoError(t, err)
	require.Len(t, plan.Decisions, 1)
	assert.True(t, plan.Decisions[0].Deleted)

	_, err = os.Stat(manifest.RootDir(destination, "backup_old"))
	assert.NoError(t, err, "dry run must not delete anything")
}
