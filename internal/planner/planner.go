// Package planner decides what a backup run actually needs to write:
// everything (Full) or only what changed since a resolved predecessor
// chain (Incremental).
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/larkspurhq/strongbox/internal/errs"
	"github.com/larkspurhq/strongbox/internal/filefilter"
	"github.com/larkspurhq/strongbox/internal/manifest"
)

// FileTask is one file the ProcessingPipeline must read, transform, and
// write, already resolved against its target root.
type FileTask struct {
	LogicalPath string
	TargetRoot  string
	SourcePath  string
	Size        int64
	ModifiedAt  time.Time
}

// Plan is the output of planning: a kind, an optional predecessor name,
// and the deterministically ordered set of files to process.
type Plan struct {
	Kind        manifest.Kind
	Predecessor string
	Files       []FileTask
}

// TargetSource describes one configured target, abstracted from
// internal/config so this package does not import it directly.
type TargetSource struct {
	Root            string
	ExcludePatterns []string
	SizeCap         int64
}

// WalkDescendants lists target's descendants without following symlinks,
// returning the relative path and lstat info for each. Symlinks
// themselves are reported via skipped, never descended into.
func WalkDescendants(root string) (kept []filefilter.Descendant, skippedSymlinks []string, err error) {
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if info.Mode()&os.ModeSymlink != 0 {
			skippedSymlinks = append(skippedSymlinks, rel)
			return nil
		}
		if info.IsDir() {
			return nil
		}
		kept = append(kept, filefilter.Descendant{RelativePath: rel, Size: info.Size(), Mode: info.Mode()})
		return nil
	})
	if err != nil {
		return nil, nil, errs.Wrap(err, "walking target")
	}
	return kept, skippedSymlinks, nil
}

// PlanFull builds a Full plan: every descendant surviving the filter.
func PlanFull(sources []TargetSource) (Plan, error) {
	plan := Plan{Kind: manifest.KindFull}
	for _, src := range sources {
		descendants, _, err := WalkDescendants(src.Root)
		if err != nil {
			return Plan{}, err
		}
		filter, err := filefilter.Compile(src.ExcludePatterns, src.SizeCap)
		if err != nil {
			return Plan{}, err
		}
		for _, d := range filter.Apply(descendants) {
			plan.Files = append(plan.Files, FileTask{
				LogicalPath: d.RelativePath,
				TargetRoot:  src.Root,
				SourcePath:  filepath.Join(src.Root, d.RelativePath),
				Size:        d.Size,
			})
		}
	}
	sortByLogicalPath(plan.Files)
	return plan, nil
}

// Chain is the ordered predecessor list from the base entry (inclusive)
// back to its Full ancestor (inclusive), oldest last.
type Chain []manifest.BackupEntry

// ResolveChain loads baseName and walks predecessor links back to a Full
// entry, validating that every entry along the way has a readable
// manifest and .integrity sidecar. Returns errs.ErrBrokenChain otherwise.
func ResolveChain(destination, baseName string) (Chain, error) {
	var chain Chain
	name := baseName
	for {
		rootDir := manifest.RootDir(destination, name)
		entry, err := manifest.Load(manifest.ManifestPath(rootDir))
		if err != nil {
			return nil, errs.Wrapf(errs.ErrBrokenChain, "loading entry %q: %v", name, err)
		}
		if _, err := os.Stat(manifest.IntegrityPath(rootDir)); err != nil {
			return nil, errs.Wrapf(errs.ErrBrokenChain, "entry %q missing integrity sidecar", name)
		}
		chain = append(chain, entry)

		if entry.Kind == manifest.KindFull {
			return chain, nil
		}
		if entry.Predecessor == "" {
			return nil, errs.Wrapf(errs.ErrBrokenChain, "incremental entry %q has no predecessor", name)
		}
		if entry.Predecessor == name {
			return nil, errs.Wrapf(errs.ErrBrokenChain, "entry %q claims itself as predecessor", name)
		}
		name = entry.Predecessor
	}
}

// LatestEntryName returns the most recent Success-or-Partial entry name
// in destination by created_at, or "" if none exists.
func LatestEntryName(destination string) (string, error) {
	names, err := manifest.ListEntryNames(destination)
	if err != nil {
		return "", err
	}
	var latestName string
	var latestTime time.Time
	for _, name := range names {
		entry, err := manifest.Load(manifest.ManifestPath(manifest.RootDir(destination, name)))
		if err != nil {
			continue // unreadable manifests are not viable bases
		}
		if entry.Status == manifest.StatusFailed {
			continue
		}
		if entry.CreatedAt.After(latestTime) {
			latestTime = entry.CreatedAt
			latestName = name
		}
	}
	return latestName, nil
}

// latestHashInChain returns the SHA-256 recorded for logicalPath in the
// most recent entry of the chain that contains it, searching newest
// (index 0) to oldest.
func latestHashInChain(chain Chain, logicalPath string) (string, bool) {
	for _, entry := range chain {
		for _, f := range entry.Files {
			if f.LogicalPath == logicalPath {
				return f.SHA256Original, true
			}
		}
	}
	return "", false
}

// PlanIncremental builds an Incremental plan against an already-resolved
// chain, including a file iff its current content hash differs from (or
// is absent from) the chain.
func PlanIncremental(sources []TargetSource, chain Chain) (Plan, []string, error) {
	plan := Plan{Kind: manifest.KindIncremental, Predecessor: chain[0].Name}
	var hashedAll []string

	for _, src := range sources {
		descendants, _, err := WalkDescendants(src.Root)
		if err != nil {
			return Plan{}, nil, err
		}
		filter, err := filefilter.Compile(src.ExcludePatterns, src.SizeCap)
		if err != nil {
			return Plan{}, nil, err
		}
		for _, d := range filter.Apply(descendants) {
			sourcePath := filepath.Join(src.Root, d.RelativePath)
			hash, err := hashFile(sourcePath)
			if err != nil {
				return Plan{}, nil, err
			}
			hashedAll = append(hashedAll, d.RelativePath)

			prevHash, ok := latestHashInChain(chain, d.RelativePath)
			if ok && prevHash == hash {
				continue // unchanged; restorer finds it in the chain
			}
			plan.Files = append(plan.Files, FileTask{
				LogicalPath: d.RelativePath,
				TargetRoot:  src.Root,
				SourcePath:  sourcePath,
				Size:        d.Size,
			})
		}
	}
	sortByLogicalPath(plan.Files)
	return plan, hashedAll, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(err, "opening file for hashing")
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errs.Wrap(err, "hashing file")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sortByLogicalPath(files []FileTask) {
	sort.Slice(files, func(i, j int) bool { return files[i].LogicalPath < files[j].LogicalPath })
}
