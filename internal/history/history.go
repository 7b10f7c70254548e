// Package history implements the append-only run log: a capped record
// of recent backup outcomes used for reporting, distinct from
// the tamper-evident AuditLog.
package history

import (
	"os"
	"sort"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/larkspurhq/strongbox/internal/errs"
	"github.com/larkspurhq/strongbox/internal/manifest"
)

// MaxEntries is the cap on retained history entries; the oldest are
// dropped once this is exceeded.
const MaxEntries = 100

// Entry mirrors BackupEntry metadata minus the file list.
type Entry struct {
	Name         string          `toml:"name"`
	Kind         manifest.Kind   `toml:"kind"`
	CreatedAt    time.Time       `toml:"created_at"`
	DurationMs   int64           `toml:"duration_ms"`
	Status       manifest.Status `toml:"status"`
	FileCount    int             `toml:"file_count"`
	BytesLogical int64           `toml:"bytes_logical"`
	BytesStored  int64           `toml:"bytes_stored"`
	Category     string          `toml:"category,omitempty"`
	Priority     string          `toml:"priority,omitempty"`
}

// FromBackupEntry builds a history Entry from a committed manifest entry.
func FromBackupEntry(e manifest.BackupEntry, category, priority string) Entry {
	return Entry{
		Name:         e.Name,
		Kind:         e.Kind,
		CreatedAt:    e.CreatedAt,
		DurationMs:   e.DurationMs,
		Status:       e.Status,
		FileCount:    e.FileCount,
		BytesLogical: e.BytesLogical,
		BytesStored:  e.BytesStored,
		Category:     category,
		Priority:     priority,
	}
}

type document struct {
	Entries []Entry `toml:"entries"`
}

// Store wraps the history.toml file at path.
type Store struct {
	path string
}

// Open returns a Store bound to path; the file need not exist yet.
func Open(path string) *Store { return &Store{path: path} }

// Append adds entry, capping the stored set at MaxEntries (oldest
// dropped), and writes the file via write-to-temp + rename.
func (s *Store) Append(entry Entry) error {
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Entries = append(doc.Entries, entry)
	sort.Slice(doc.Entries, func(i, j int) bool { return doc.Entries[i].CreatedAt.Before(doc.Entries[j].CreatedAt) })
	if len(doc.Entries) > MaxEntries {
		doc.Entries = doc.Entries[len(doc.Entries)-MaxEntries:]
	}
	return s.save(doc)
}

// All returns every stored entry, oldest first.
func (s *Store) All() ([]Entry, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

// Filter returns entries matching all given non-zero-value criteria:
// sinceDays (0 = no limit), category ("" = any), priority ("" = any).
func (s *Store) Filter(sinceDays int, category, priority string) ([]Entry, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	var cutoff time.Time
	if sinceDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -sinceDays)
	}

	var out []Entry
	for _, e := range all {
		if sinceDays > 0 && e.CreatedAt.Before(cutoff) {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		if priority != "" && e.Priority != priority {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, nil
		}
		return document{}, errs.Wrap(err, "reading history store")
	}
	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return document{}, errs.Wrapf(errs.ErrConfigInvalid, "parsing history toml: %v", err)
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return errs.Wrap(err, "marshaling history toml")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(err, "writing temp history file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errs.Wrap(err, "renaming history file into place")
	}
	return nil
}
