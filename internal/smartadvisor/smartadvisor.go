// Package smartadvisor is a read-only analytic over HistoryStore data:
// it scores how important a target category looks based on
// how recently and how often it changes, without ever feeding back into
// run_backup's own decisions. Nothing here writes to the backup store.
package smartadvisor

import (
	"math"
	"time"

	"github.com/larkspurhq/strongbox/internal/history"
)

// Score summarizes one target's ImportanceScore and the inputs behind it.
type Score struct {
	Path             string
	ImportanceScore  float64 // 0..1, higher means "changes often and recently"
	RecencyDays      float64
	ChangeFrequency  float64 // fraction of observed entries that touched this target's category
	SizeStabilityPct float64 // 0..1, 1 means size barely varies across observed entries
}

// ImportanceScore ranks every category seen in entries by recency, change
// frequency, and size stability. entries should be ordered oldest first,
// the same order Store.All returns.
func ImportanceScore(entries []history.Entry, now time.Time) []Score {
	byCategory := make(map[string][]history.Entry)
	for _, e := range entries {
		if e.Category == "" {
			continue
		}
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	scores := make([]Score, 0, len(byCategory))
	for category, group := range byCategory {
		recency := recencyScore(group, now)
		frequency := float64(len(group)) / float64(len(entries))
		stability := sizeStabilityScore(group)

		importance := 0.5*recency + 0.3*frequency + 0.2*stability
		scores = append(scores, Score{
			Path:             category,
			ImportanceScore:  importance,
			RecencyDays:      daysSince(group[len(group)-1].CreatedAt, now),
			ChangeFrequency:  frequency,
			SizeStabilityPct: stability,
		})
	}
	return scores
}

// recencyScore maps "days since the group's last entry" onto (0,1] via
// exponential decay with a 14-day half-life: a target backed up today
// scores near 1, one untouched for a month trails off toward 0.
func recencyScore(group []history.Entry, now time.Time) float64 {
	last := group[len(group)-1].CreatedAt
	days := daysSince(last, now)
	const halfLifeDays = 14.0
	return math.Exp(-math.Ln2 * days / halfLifeDays)
}

func daysSince(t, now time.Time) float64 {
	d := now.Sub(t).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

// sizeStabilityScore is 1 minus the coefficient of variation of
// BytesLogical across group, clamped to [0,1]. A target whose size barely
// changes run to run scores close to 1; one that swings wildly scores
// close to 0.
func sizeStabilityScore(group []history.Entry) float64 {
	if len(group) < 2 {
		return 1
	}
	var sum float64
	for _, e := range group {
		sum += float64(e.BytesLogical)
	}
	mean := sum / float64(len(group))
	if mean == 0 {
		return 1
	}

	var variance float64
	for _, e := range group {
		diff := float64(e.BytesLogical) - mean
		variance += diff * diff
	}
	variance /= float64(len(group))
	stddev := math.Sqrt(variance)
	cv := stddev / mean

	stability := 1 - cv
	if stability < 0 {
		return 0
	}
	if stability > 1 {
		return 1
	}
	return stability
}
