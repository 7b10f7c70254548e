// Package manifest defines BackupEntry and FileRecord, and the store
// that reads/writes an entry's manifest.toml: the file-list, sizes,
// hashes, and predecessor link that make up one physical backup.
package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/larkspurhq/strongbox/internal/errs"
)

// ManifestVersionMajor is bumped only on a breaking manifest schema
// change; readers reject any manifest whose major differs.
const ManifestVersionMajor = 1

// ManifestVersion is the full semantic version written to new manifests.
const ManifestVersion = "1.0.0"

// Kind distinguishes a self-contained entry from one relying on a
// predecessor chain.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// Status is the final outcome of a backup or restore run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// CompressionSpec records which codec (if any) was used, and at what level.
type CompressionSpec struct {
	Algorithm string `toml:"algorithm"` // "none" | "zstd" | "gzip"
	Level     int    `toml:"level"`
}

// EncryptionSpec records the AEAD/KDF parameters needed to decrypt, but
// never the key or password itself.
type EncryptionSpec struct {
	Enabled       bool   `toml:"enabled"`
	Salt          string `toml:"salt,omitempty"` // hex
	MemoryCostKiB uint32 `toml:"memory_cost_kib,omitempty"`
	TimeCost      uint32 `toml:"time_cost,omitempty"`
	Parallelism   uint8  `toml:"parallelism,omitempty"`
}

// FileFlags is a bitset over {compressed, encrypted}.
type FileFlags uint8

const (
	FlagCompressed FileFlags = 1 << iota
	FlagEncrypted
)

// FileRecord describes one file captured by a BackupEntry.
type FileRecord struct {
	LogicalPath    string    `toml:"logical_path"`
	TargetRoot     string    `toml:"target_root"`
	StoredPath     string    `toml:"stored_path"`
	OriginalSize   int64     `toml:"original_size"`
	StoredSize     int64     `toml:"stored_size"`
	SHA256Original string    `toml:"sha256_original"` // hex
	Flags          FileFlags `toml:"flags"`
	ModifiedAt     time.Time `toml:"modified_at"`
	NonceBase      string    `toml:"nonce_base,omitempty"` // hex, 12 bytes
}

// BackupEntry is the full manifest of one physical backup directory.
type BackupEntry struct {
	ID            string          `toml:"id"`
	Name          string          `toml:"name"`
	Version       string          `toml:"version"`
	Predecessor   string          `toml:"predecessor,omitempty"`
	Kind          Kind            `toml:"kind"`
	CreatedAt     time.Time       `toml:"created_at"`
	DurationMs    int64           `toml:"duration_ms"`
	Status        Status          `toml:"status"`
	FileCount     int             `toml:"file_count"`
	BytesLogical  int64           `toml:"bytes_logical"`
	BytesStored   int64           `toml:"bytes_stored"`
	Compression   CompressionSpec `toml:"compression"`
	Encryption    EncryptionSpec  `toml:"encryption"`
	Files         []FileRecord    `toml:"files"`
}

// RootDir returns destination/name.
func RootDir(destination, name string) string {
	return filepath.Join(destination, name)
}

// ManifestPath returns root_dir/manifest.toml.
func ManifestPath(rootDir string) string {
	return filepath.Join(rootDir, "manifest.toml")
}

// IntegrityPath returns root_dir/.integrity.
func IntegrityPath(rootDir string) string {
	return filepath.Join(rootDir, ".integrity")
}

// NewEntryName formats the backup_YYYYMMDD_HHMMSS name for ts (UTC).
func NewEntryName(ts time.Time) string {
	return "backup_" + ts.UTC().Format("20060102_150405")
}

// NewEntry builds a fresh, uncommitted BackupEntry skeleton.
func NewEntry(name string, kind Kind, predecessor string) BackupEntry {
	return BackupEntry{
		ID:          uuid.NewString(),
		Name:        name,
		Version:     ManifestVersion,
		Predecessor: predecessor,
		Kind:        kind,
		CreatedAt:   time.Now().UTC(),
	}
}

// Load reads and parses a manifest.toml, tolerant of unknown fields but
// rejecting an unknown major version.
func Load(path string) (BackupEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BackupEntry{}, errs.Wrap(err, "reading manifest")
	}
	var entry BackupEntry
	if err := toml.Unmarshal(data, &entry); err != nil {
		return BackupEntry{}, errs.Wrapf(errs.ErrConfigInvalid, "parsing manifest toml: %v", err)
	}
	if major := majorOf(entry.Version); major != ManifestVersionMajor {
		return BackupEntry{}, errs.Wrapf(errs.ErrConfigInvalid, "manifest version %q has unsupported major %d", entry.Version, major)
	}
	return entry, nil
}

func majorOf(version string) int {
	var major int
	for _, r := range version {
		if r < '0' || r > '9' {
			break
		}
		major = major*10 + int(r-'0')
	}
	return major
}

// Write serializes entry to root_dir/manifest.toml via write-to-temp,
// fsync, rename — the commit point after which the entry is visible to
// the rest of the system.
func Write(rootDir string, entry BackupEntry) error {
	data, err := toml.Marshal(entry)
	if err != nil {
		return errs.Wrap(err, "marshaling manifest toml")
	}

	finalPath := ManifestPath(rootDir)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errs.Wrap(err, "creating temp manifest")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errs.Wrap(err, "writing temp manifest")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.Wrap(err, "fsyncing temp manifest")
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(err, "closing temp manifest")
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return errs.Wrap(err, "renaming manifest into place")
	}
	return nil
}

// ListEntryNames returns the backup_* directory names directly under
// destination that contain a committed manifest.toml, unsorted.
func ListEntryNames(destination string) ([]string, error) {
	dirEntries, err := os.ReadDir(destination)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(err, "listing destination")
	}
	var names []string
	for _, de := range dirEntries {
		if !de.IsDir() || !strings.HasPrefix(de.Name(), "backup_") {
			continue
		}
		if _, err := os.Stat(ManifestPath(filepath.Join(destination, de.Name()))); err == nil {
			names = append(names, de.Name())
		}
	}
	return names, nil
}
