package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkspurhq/strongbox/internal/manifest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPlanFullIncludesAllSurvivingFiles(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "aaa")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "bbb")

	plan, err := PlanFull([]TargetSource{{Root: src}})
	require.NoError(t, err)
	require.Len(t, plan.Files, 2)
	assert.Equal(t, "a.txt", plan.Files[0].LogicalPath)
	assert.Equal(t, filepath.Join("sub", "b.txt"), plan.Files[1].LogicalPath)
}

func TestWalkDescendantsSkipsSymlinks(t *testing.T) {
	src := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret"), "s")
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret"), filepath.Join(src, "link")))
	writeFile(t, filepath.Join(src, "real.txt"), "r")

	kept, skipped, err := WalkDescendants(src)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "real.txt", kept[0].RelativePath)
	require.Len(t, skipped, 1)
	assert.Equal(t, "link", skipped[0])
}

func writeEntry(t *testing.T, destination, name string, entry manifest.BackupEntry) {
	t.Helper()
	root := manifest.RootDir(destination, name)
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, manifest.Write(root, entry))
	require.NoError(t, os.WriteFile(manifest.IntegrityPath(root), []byte("deadbeef  a.txt\n"), 0o600))
}

func TestResolveChainWalksToFull(t *testing.T) {
	destination := t.TempDir()

	full := manifest.NewEntry("backup_full", manifest.KindFull, "")
	writeEntry(t, destination, "backup_full", full)

	inc := manifest.NewEntry("backup_inc", manifest.KindIncremental, "backup_full")
	writeEntry(t, destination, "backup_inc", inc)

	chain, err := ResolveChain(destination, "backup_inc")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "backup_inc", chain[0].Name)
	assert.Equal(t, "backup_full", chain[1].Name)
}

func TestResolveChainDetectsMissingPredecessor(t *testing.T) {
	destination := t.TempDir()
	inc := manifest.NewEntry("backup_inc", manifest.KindIncremental, "backup_missing")
	writeEntry(t, destination, "backup_inc", inc)

	_, err := ResolveChain(destination, "backup_inc")
	require.Error(t, err)
}

func TestPlanIncrementalOmitsUnchangedFiles(t *testing.T) {
	src := t.TempDir()
	destination := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "unchanged")
	writeFile(t, filepath.Join(src, "b.txt"), "will change")

	unchangedHash, err := hashFile(filepath.Join(src, "a.txt"))
	require.NoError(t, err)
	staleHash, err := hashFile(filepath.Join(src, "b.txt"))
	require.NoError(t, err)
	_ = staleHash

	full := manifest.NewEntry("backup_full", manifest.KindFull, "")
	full.Files = []manifest.FileRecord{
		{LogicalPath: "a.txt", SHA256Original: unchangedHash},
		{LogicalPath: "b.txt", SHA256Original: "stale-hash-value"},
	}
	writeEntry(t, destination, "backup_full", full)

	chain, err := ResolveChain(destination, "backup_full")
	require.NoError(t, err)

	plan, hashedAll, err := PlanIncremental([]TargetSource{{Root: src}}, chain)
	require.NoError(t, err)
	assert.Len(t, hashedAll, 2)
	require.Len(t, plan.Files, 1)
	assert.Equal(t, "b.txt", plan.Files[0].LogicalPath)
}
