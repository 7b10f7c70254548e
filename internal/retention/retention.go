// Package retention implements age-based cleanup of backup entries,
// refusing to remove a Full entry that anchors a retained Incremental.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/larkspurhq/strongbox/internal/errs"
	"github.com/larkspurhq/strongbox/internal/manifest"
)

// Decision records what cleanup intends (or did) to one entry.
type Decision struct {
	Name      string
	Deleted   bool
	Reason    string // non-empty only when skipped
	CreatedAt time.Time
}

// Plan is the full outcome of a cleanup pass, in newest-first order.
type Plan struct {
	Decisions []Decision
}

// Cleanup enumerates destination's entries and decides which to delete
// per the age cutoff, honoring chain integrity; if dryRun, no filesystem
// changes are made.
func Cleanup(destination string, days int, dryRun bool) (Plan, error) {
	names, err := manifest.ListEntryNames(destination)
	if err != nil {
		return Plan{}, err
	}

	entries := make(map[string]manifest.BackupEntry, len(names))
	for _, name := range names {
		entry, err := manifest.Load(manifest.ManifestPath(manifest.RootDir(destination, name)))
		if err != nil {
			continue // unreadable manifests are left alone, not deleted blindly
		}
		entries[name] = entry
	}

	sorted := make([]string, 0, len(entries))
	for name := range entries {
		sorted = append(sorted, name)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return entries[sorted[i]].CreatedAt.After(entries[sorted[j]].CreatedAt)
	})

	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	retained := make(map[string]bool, len(entries))
	for _, name := range sorted {
		if entries[name].CreatedAt.After(cutoff) || entries[name].CreatedAt.Equal(cutoff) {
			retained[name] = true
		}
	}
	// Any Full entry anchoring a retained Incremental must itself be retained,
	// transitively, regardless of its own age.
	changed := true
	for changed {
		changed = false
		for _, name := range sorted {
			if !retained[name] {
				continue
			}
			entry := entries[name]
			if entry.Kind == manifest.KindIncremental && entry.Predecessor != "" && !retained[entry.Predecessor] {
				if _, ok := entries[entry.Predecessor]; ok {
					retained[entry.Predecessor] = true
					changed = true
				}
			}
		}
	}

	plan := Plan{}
	for _, name := range sorted {
		entry := entries[name]
		if retained[name] {
			reason := ""
			if !entry.CreatedAt.After(cutoff) {
				reason = "retained: anchors a newer incremental entry"
			}
			plan.Decisions = append(plan.Decisions, Decision{Name: name, Deleted: false, Reason: reason, CreatedAt: entry.CreatedAt})
			continue
		}

		if !dryRun {
			if err := removeEntry(destination, name); err != nil {
				return Plan{}, err
			}
		}
		plan.Decisions = append(plan.Decisions, Decision{Name: name, Deleted: true, CreatedAt: entry.CreatedAt})
	}

	return plan, nil
}

// removeEntry renames root_dir to a .trash-<name> sibling, then
// recursively removes it, so a crash mid-delete never leaves a
// half-deleted entry masquerading as valid.
func removeEntry(destination, name string) error {
	root := manifest.RootDir(destination, name)
	trash := filepath.Join(destination, fmt.Sprintf(".trash-%s", name))

	if err := os.Rename(root, trash); err != nil {
		return errs.Wrap(err, "renaming entry to trash")
	}
	if err := os.RemoveAll(trash); err != nil {
		return errs.Wrap(err, "removing trashed entry")
	}
	return nil
}
