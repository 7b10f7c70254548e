// Package integrity implements the per-entry .integrity sidecar: one
// SHA-256 line per file, used to verify an entry's stored bytes without
// needing the full manifest.
package integrity

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/larkspurhq/strongbox/internal/errs"
)

// Record is one line of an .integrity file.
type Record struct {
	SHA256Hex  string
	StoredPath string
}

// Ledger accumulates records for the entry currently being built, and is
// flushed to disk once at commit time alongside the manifest.
type Ledger struct {
	records []Record
}

// New returns an empty Ledger.
func New() *Ledger { return &Ledger{} }

// Add records the SHA-256 of storedPath's stored (post-compress,
// post-encrypt) bytes.
func (l *Ledger) Add(storedPath string, sha256Hex string) {
	l.records = append(l.records, Record{SHA256Hex: sha256Hex, StoredPath: storedPath})
}

// Write serializes the ledger to path, one "sha256_hex  stored_path" line
// per record, in the order they were added.
func (l *Ledger) Write(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errs.Wrap(err, "creating integrity ledger")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range l.records {
		if _, err := w.WriteString(r.SHA256Hex + "  " + r.StoredPath + "\n"); err != nil {
			return errs.Wrap(err, "writing integrity record")
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(err, "flushing integrity ledger")
	}
	return f.Sync()
}

// Read parses an .integrity file into a map keyed by stored_path.
func Read(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "opening integrity ledger")
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "  ", 2)
		if len(fields) != 2 {
			return nil, errs.Wrapf(errs.ErrConfigInvalid, "malformed integrity line %q", line)
		}
		out[fields[1]] = fields[0]
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(err, "scanning integrity ledger")
	}
	return out, nil
}

// HashReader computes the SHA-256 of r's full contents, hex-encoded.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", errs.Wrap(err, "hashing stream")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the SHA-256 of r and compares it against want
// (hex-encoded), returning errs.ErrIntegrityFailure on mismatch.
func Verify(r io.Reader, want string) error {
	got, err := HashReader(r)
	if err != nil {
		return err
	}
	if got != want {
		return errs.Wrapf(errs.ErrIntegrityFailure, "sha256 mismatch: want %s got %s", want, got)
	}
	return nil
}
