package restore

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkspurhq/strongbox/internal/compression"
	"github.com/larkspurhq/strongbox/internal/integrity"
	"github.com/larkspurhq/strongbox/internal/keyderiv"
	"github.com/larkspurhq/strongbox/internal/manifest"
	"github.com/larkspurhq/strongbox/internal/pipeline"
	"github.com/larkspurhq/strongbox/internal/planner"
)

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func integrityLedgerFrom(result pipeline.Result) *integrity.Ledger {
	ledger := integrity.New()
	for _, rec := range result.IntegrityRecords {
		ledger.Add(rec.StoredPath, rec.SHA256Hex)
	}
	return ledger
}

func backupOneFile(t *testing.T, destination, name, content string, opts pipeline.Options) manifest.BackupEntry {
	t.Helper()
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "f.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte(content), 0o644))

	entryName := manifest.NewEntryName(time.Now())
	rootDir := manifest.RootDir(destination, entryName)
	require.NoError(t, os.MkdirAll(rootDir, 0o755))

	files := []planner.FileTask{{LogicalPath: name, TargetRoot: srcDir, SourcePath: srcPath, Size: int64(len(content))}}
	result, err := pipeline.Run(context.Background(), rootDir, files, opts)
	require.NoError(t, err)
	require.Empty(t, result.Failures)

	entry := manifest.NewEntry(entryName, manifest.KindFull, "")
	entry.Status = manifest.StatusSuccess
	entry.Files = result.Records
	entry.FileCount = len(result.Records)
	entry.BytesLogical = result.BytesLogical
	entry.BytesStored = result.BytesStored
	if opts.Compression != compression.None {
		entry.Compression = manifest.CompressionSpec{Algorithm: opts.Compression.String(), Level: opts.CompressLevel}
	}
	if opts.MasterKey != nil {
		entry.Encryption = manifest.EncryptionSpec{Enabled: true, Salt: hexEncode(opts.Salt)}
	}
	require.NoError(t, manifest.Write(rootDir, entry))

	ledger := integrityLedgerFrom(result)
	require.NoError(t, ledger.Write(manifest.IntegrityPath(rootDir)))

	return entry
}

func TestRunRestoresPlainFile(t *testing.T) {
	destination := t.TempDir()
	entry := backupOneFile(t, destination, "a.txt", "plain content", pipeline.Options{})

	chain := planner.Chain{entry}
	fileMap := EffectiveFileMap(destination, chain)
	require.Len(t, fileMap, 1)

	restoreDir := t.TempDir()
	result, err := Run(context.Background(), restoreDir, fileMap, Options{})
	require.NoError(t, err)
	require.Empty(t, result.Failures)
	require.Len(t, result.Restored, 1)

	data, err := os.ReadFile(filepath.Join(restoreDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "plain content", string(data))
}

func TestRunRestoresCompressedFile(t *testing.T) {
	destination := t.TempDir()
	entry := backupOneFile(t, destination, "b.txt", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", pipeline.Options{
		Compression: compression.Zstd, CompressLevel: compression.DefaultZstdLevel,
	})

	fileMap := EffectiveFileMap(destination, planner.Chain{entry})
	restoreDir := t.TempDir()
	result, err := Run(context.Background(), restoreDir, fileMap, Options{})
	require.NoError(t, err)
	require.Empty(t, result.Failures)

	data, err := os.ReadFile(filepath.Join(restoreDir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", string(data))
}

func TestRunRestoresEncryptedFile(t *testing.T) {
	destination := t.TempDir()
	salt, err := keyderiv.NewSalt()
	require.NoError(t, err)
	key, err := keyderiv.Derive([]byte("hunter2"), salt, keyderiv.DefaultParams())
	require.NoError(t, err)
	defer key.Close()

	entry := backupOneFile(t, destination, "c.txt", "encrypted payload", pipeline.Options{
		MasterKey: key, Salt: salt, ChunkSize: 16,
	})

	fileMap := EffectiveFileMap(destination, planner.Chain{entry})
	restoreDir := t.TempDir()

	result, err := Run(context.Background(), restoreDir, fileMap, Options{MasterKey: key, Salt: salt})
	require.NoError(t, err)
	require.Empty(t, result.Failures)

	data, err := os.ReadFile(filepath.Join(restoreDir, "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "encrypted payload", string(data))
}

func TestRunFailsSoftlyWithoutKeyForEncryptedEntry(t *testing.T) {
	destination := t.TempDir()
	salt, err := keyderiv.NewSalt()
	require.NoError(t, err)
	key, err := keyderiv.Derive([]byte("hunter2"), salt, keyderiv.DefaultParams())
	require.NoError(t, err)
	defer key.Close()

	entry := backupOneFile(t, destination, "d.txt", "needs a password", pipeline.Options{MasterKey: key, Salt: salt})

	fileMap := EffectiveFileMap(destination, planner.Chain{entry})
	restoreDir := t.TempDir()

	result, err := Run(context.Background(), restoreDir, fileMap, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Restored)
	require.Len(t, result.Failures, 1)
}

func TestEffectiveFileMapNewestWins(t *testing.T) {
	destination := t.TempDir()
	full := backupOneFile(t, destination, "shared.txt", "version one", pipeline.Options{})

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "f.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("version two"), 0o644))
	incName := manifest.NewEntryName(time.Now().Add(time.Second))
	incRoot := manifest.RootDir(destination, incName)
	require.NoError(t, os.MkdirAll(incRoot, 0o755))
	files := []planner.FileTask{{LogicalPath: "shared.txt", TargetRoot: srcDir, SourcePath: srcPath, Size: 11}}
	result, err := pipeline.Run(context.Background(), incRoot, files, pipeline.Options{})
	require.NoError(t, err)
	incEntry := manifest.NewEntry(incName, manifest.KindIncremental, full.Name)
	incEntry.Status = manifest.StatusSuccess
	incEntry.Files = result.Records
	require.NoError(t, manifest.Write(incRoot, incEntry))
	require.NoError(t, integrityLedgerFrom(result).Write(manifest.IntegrityPath(incRoot)))

	chain := planner.Chain{incEntry, full} // newest first
	fileMap := EffectiveFileMap(destination, chain)

	restoreDir := t.TempDir()
	res, err := Run(context.Background(), restoreDir, fileMap, Options{})
	require.NoError(t, err)
	require.Empty(t, res.Failures)

	data, err := os.ReadFile(filepath.Join(restoreDir, "shared.txt"))
	require.NoError(t, err)
	assert.Equal(t, "version two", string(data))
}
