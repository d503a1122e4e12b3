// Package aggregate reduces per-source metric lines to headline fractions.
package aggregate

import (
	"math"

	"github.com/openusage/meterd/internal/meter"
	"github.com/openusage/meterd/internal/state"
)

// DefaultMaxEntries caps the aggregate list.
const DefaultMaxEntries = 4

// Config selects which sources aggregate and how.
type Config struct {
	// MaxEntries caps the returned list; zero means DefaultMaxEntries.
	MaxEntries int
	// Composite names sources whose primary metric is the sum of several
	// bucket lines rather than a single line, keyed to the bucket labels.
	Composite map[meter.SourceID][]string
}

// Entry is one source's aggregate slot. Fraction is nil while the source has
// a candidate label but no resolvable data yet; the entry is still emitted so
// display positions stay stable as sources load asynchronously.
type Entry struct {
	ID       meter.SourceID `json:"id"`
	Fraction *float64       `json:"fraction,omitempty"`
}

// Reduce walks the enabled sources in order and produces up to MaxEntries
// aggregate entries for those with at least one primary candidate label.
func Reduce(
	enabled []meter.SourceID,
	metas map[meter.SourceID]meter.SourceMeta,
	states map[meter.SourceID]state.SourceState,
	mode meter.DisplayMode,
	cfg Config,
) []Entry {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	var entries []Entry
	for _, id := range enabled {
		if len(entries) >= maxEntries {
			break
		}
		meta, ok := metas[id]
		if !ok || len(meta.PrimaryCandidates) == 0 {
			continue
		}
		entry := Entry{ID: id}
		if st, ok := states[id]; ok && st.Data != nil {
			if buckets, composite := cfg.Composite[id]; composite {
				entry.Fraction = sumBuckets(st.Data.Lines, buckets, mode)
			} else {
				entry.Fraction = firstCandidate(st.Data.Lines, meta.PrimaryCandidates, mode)
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// firstCandidate resolves the first candidate label with a matching progress
// line and a positive limit.
func firstCandidate(lines []meter.MetricLine, candidates []string, mode meter.DisplayMode) *float64 {
	for _, label := range candidates {
		for _, line := range lines {
			if line.Kind != meter.LineProgress || line.Label != label {
				continue
			}
			if line.Limit <= 0 {
				return nil
			}
			return clampFraction(mode.ShownAmount(line.Used, line.Limit) / line.Limit)
		}
	}
	return nil
}

// sumBuckets totals shown amount and limit across the named bucket lines,
// skipping lines without a finite positive limit.
func sumBuckets(lines []meter.MetricLine, buckets []string, mode meter.DisplayMode) *float64 {
	wanted := make(map[string]bool, len(buckets))
	for _, label := range buckets {
		wanted[label] = true
	}
	var shownSum, limitSum float64
	for _, line := range lines {
		if line.Kind != meter.LineProgress || !wanted[line.Label] {
			continue
		}
		if line.Limit <= 0 || math.IsInf(line.Limit, 0) || math.IsNaN(line.Limit) {
			continue
		}
		shownSum += mode.ShownAmount(line.Used, line.Limit)
		limitSum += line.Limit
	}
	if limitSum <= 0 {
		return nil
	}
	return clampFraction(shownSum / limitSum)
}

func clampFraction(f float64) *float64 {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return &f
}
