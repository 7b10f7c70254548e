// Package filefilter decides which descendants of a directory walk
// survive into a backup plan: exclude patterns, a size cap, and
// filesystem-special kinds (sockets, devices, FIFOs) are all applied
// here, once, before anything is opened for reading.
package filefilter

import (
	"os"
	"regexp"

	"github.com/larkspurhq/strongbox/internal/errs"
)

const (
	// MaxPatterns bounds the exclude-pattern list per target (ReDoS
	// defense: an unbounded pattern count is itself a denial-of-service
	// surface during compilation and matching).
	MaxPatterns = 100
	// MaxPatternBytes bounds any single pattern's length.
	MaxPatternBytes = 1024

	// DefaultSizeCap is the default per-file size ceiling (10 GiB).
	DefaultSizeCap = 10 << 30
)

// Descendant is one entry discovered by a directory walk, described
// without having been opened.
type Descendant struct {
	RelativePath string
	Size         int64
	Mode         os.FileMode
}

// Filter holds the compiled exclude patterns and size cap for one target.
type Filter struct {
	patterns []*regexp.Regexp
	sizeCap  int64
}

// Compile validates and compiles rawPatterns, enforcing the ReDoS-defense
// limits, and pairs them with sizeCap (0 means DefaultSizeCap).
func Compile(rawPatterns []string, sizeCap int64) (*Filter, error) {
	if len(rawPatterns) > MaxPatterns {
		return nil, errs.Wrapf(errs.ErrConfigInvalid, "too many exclude patterns: %d > %d", len(rawPatterns), MaxPatterns)
	}
	compiled := make([]*regexp.Regexp, 0, len(rawPatterns))
	for _, p := range rawPatterns {
		if len(p) > MaxPatternBytes {
			return nil, errs.Wrapf(errs.ErrConfigInvalid, "exclude pattern exceeds %d bytes", MaxPatternBytes)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errs.Wrapf(errs.ErrConfigInvalid, "invalid exclude pattern %q: %v", p, err)
		}
		compiled = append(compiled, re)
	}
	if sizeCap <= 0 {
		sizeCap = DefaultSizeCap
	}
	return &Filter{patterns: compiled, sizeCap: sizeCap}, nil
}

// Keep reports whether d survives all three filter stages.
func (f *Filter) Keep(d Descendant) bool {
	if isSpecialKind(d.Mode) {
		return false
	}
	if d.Size > f.sizeCap {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(d.RelativePath) {
			return false
		}
	}
	return true
}

// Apply filters a full descendant list, returning only the survivors in
// their original order.
func (f *Filter) Apply(descendants []Descendant) []Descendant {
	kept := make([]Descendant, 0, len(descendants))
	for _, d := range descendants {
		if f.Keep(d) {
			kept = append(kept, d)
		}
	}
	return kept
}

// isSpecialKind reports whether mode identifies a socket, device, or
// FIFO rather than a regular file or directory.
func isSpecialKind(mode os.FileMode) bool {
	return mode&(os.ModeSocket|os.ModeDevice|os.ModeCharDevice|os.ModeNamedPipe) != 0
}
