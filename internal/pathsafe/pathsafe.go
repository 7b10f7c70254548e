// Package pathsafe is the path-safety kernel: every path that crosses a
// trust boundary (a target root, a backup entry's root, a restore
// destination) is normalized and validated here before anything opens it.
// No other package in this module is permitted to open a user- or
// manifest-supplied path directly.
//
// AUDIT-CRITICAL: this package is the single place responsible for
// rejecting traversal, null-byte, unicode-normalization, and
// symlink-follow attacks uniformly across platforms.
package pathsafe

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/larkspurhq/strongbox/internal/errs"
)

// fullWidthAttackRunes are Unicode code points that normalize or render as
// path separators/dots on some filesystems but are not ASCII '/' or '.'.
// NFKC normalization folds most of these to ASCII, but platforms whose
// filesystem driver does not itself normalize must be defended explicitly.
var fullWidthAttackRunes = []rune{
	'⁄', // FRACTION SLASH
	'．', // FULLWIDTH FULL STOP
	'／', // FULLWIDTH SOLIDUS
}

// Sanitize validates child against base and returns the canonicalized,
// guaranteed-descendant absolute path.
//
// Steps (all MUST hold, in order):
//  1. Reject if child contains a NUL byte.
//  2. NFKC-normalize child.
//  3. Reject if the normalized string contains a full-width slash/dot
//     analogue that the OS does not itself normalize.
//  4. Reject if the (NFKC-normalized) string contains a parent-reference
//     (“..”) or root-reference component — never strip and continue.
//  5. Join onto base.
//  6. Canonicalize both base and the join; require the canonicalized join
//     to be a descendant of canonicalized base, else fail with
//     ErrPathTraversal.
func Sanitize(base, child string) (string, error) {
	if strings.IndexByte(child, 0) >= 0 {
		return "", errs.NewPathError(errs.ErrNullByteInPath, child)
	}

	normalized := norm.NFKC.String(child)

	for _, r := range fullWidthAttackRunes {
		if strings.ContainsRune(normalized, r) {
			return "", errs.NewPathError(errs.ErrUnicodeAttack, child)
		}
	}

	cleanedChild, err := rejectUnsafeComponents(normalized)
	if err != nil {
		return "", errs.NewPathError(errs.ErrPathTraversal, child)
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", errs.NewFileError("abs", base, err)
	}
	canonicalBase, err := canonicalize(absBase)
	if err != nil {
		return "", errs.NewFileError("canonicalize", base, err)
	}

	joined := filepath.Join(canonicalBase, cleanedChild)

	canonicalJoined, err := canonicalizeJoined(joined)
	if err != nil {
		return "", errs.NewFileError("canonicalize", joined, err)
	}

	if !isDescendant(canonicalBase, canonicalJoined) {
		return "", errs.NewPathError(errs.ErrPathTraversal, child)
	}

	return canonicalJoined, nil
}

// rejectUnsafeComponents scans child for a parent-reference ("..")
// component, a leading root reference ("/..."), or a volume/drive
// reference ("C:\...") and returns an error the moment one is found,
// rather than silently dropping it and continuing: a caller that
// trusted a stripped result would accept "../../../etc/passwd" and
// "/absolute/path" as safe relative paths, which they are not. On
// success it returns child's cleaned relative skeleton, with "."
// components and duplicate separators collapsed.
func rejectUnsafeComponents(child string) (string, error) {
	// Normalize separators so Windows-style traversal strings are caught
	// on every platform.
	normalized := strings.ReplaceAll(child, "\\", "/")

	if strings.HasPrefix(normalized, "/") {
		return "", errs.ErrPathTraversal
	}
	if vol := filepath.VolumeName(normalized); vol != "" {
		return "", errs.ErrPathTraversal
	}

	parts := strings.Split(normalized, "/")
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == ".." {
			return "", errs.ErrPathTraversal
		}
		if p == "" || p == "." {
			continue
		}
		kept = append(kept, p)
	}
	return filepath.Join(kept...), nil
}

// canonicalize resolves base to an absolute, symlink-free path. base is
// expected to exist (it is either a configured target root or a backup
// destination); EvalSymlinks also collapses "." and ".." segments.
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			// base may legitimately not exist yet (e.g. a fresh restore
			// destination); resolve its parent the same way and append
			// the last element lexically, so symlinks in the existing
			// ancestors are still resolved.
			parent := filepath.Dir(path)
			if parent == path {
				return filepath.Clean(path), nil
			}
			resolvedParent, perr := canonicalize(parent)
			if perr != nil {
				return "", perr
			}
			return filepath.Join(resolvedParent, filepath.Base(path)), nil
		}
		return "", err
	}
	return resolved, nil
}

// canonicalizeJoined resolves the joined candidate path. Unlike the
// base, the candidate file itself usually does not
// exist yet (it is about to be created), so only its parent directory is
// resolved through symlinks; the leaf name is appended lexically. This
// still closes the symlink-escape hole: an attacker would need a symlink
// somewhere in the parent chain, which EvalSymlinks catches.
func canonicalizeJoined(path string) (string, error) {
	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	resolvedDir, err := canonicalize(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

// isDescendant reports whether candidate is base itself or a path under
// base, comparing cleaned, OS-appropriate path strings.
func isDescendant(base, candidate string) bool {
	base = filepath.Clean(base)
	candidate = filepath.Clean(candidate)
	if base == candidate {
		return true
	}
	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ValidateShallow performs a cheap, allocation-light scan used on hot
// paths before the full Sanitize/canonicalize pass: it rejects any path
// containing a literal parent-reference component or an absolute path
// that is suspiciously shallow (fewer than two components below a root),
// which is almost never a legitimate logical path inside a target.
func ValidateShallow(path string) error {
	if strings.IndexByte(path, 0) >= 0 {
		return errs.NewPathError(errs.ErrNullByteInPath, path)
	}
	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return errs.NewPathError(errs.ErrPathTraversal, path)
		}
	}
	if filepath.IsAbs(path) {
		trimmed := strings.Trim(normalized, "/")
		if trimmed == "" || len(strings.Split(trimmed, "/")) < 2 {
			return errs.NewPathError(errs.ErrPathTraversal, path)
		}
	}
	return nil
}
