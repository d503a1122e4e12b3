// Package pace projects end-of-period usage from a single snapshot.
package pace

import (
	"fmt"
	"math"
	"time"
)

// Status classifies a projection against the limit.
type Status string

// Pace classifications.
const (
	Ahead   Status = "ahead"
	OnTrack Status = "on-track"
	Behind  Status = "behind"
)

const (
	// earlySampleFraction rejects projections before 5% of the period has
	// elapsed; too little data to extrapolate reliably.
	earlySampleFraction = 0.05
	// aheadFraction is the projected/limit boundary below which usage counts
	// as ahead of pace.
	aheadFraction = 0.8
)

// Result is a derived classification; it is recomputed on demand and never
// stored.
type Result struct {
	Status         Status  `json:"status"`
	ProjectedUsage float64 `json:"projected_usage"`
}

// Classify linearly extrapolates current usage to the end of the period.
// It returns nil when no reliable projection exists: non-finite inputs,
// limit <= 0, period <= 0, a period that has not started or has already
// ended (boundary-inclusive on both edges), or an elapsed fraction below the
// early-sample threshold. No smoothing is applied; the projection is a
// single-point linear burn rate.
func Classify(used, limit float64, resetsAt time.Time, period time.Duration, now time.Time) *Result {
	if math.IsNaN(used) || math.IsInf(used, 0) || math.IsNaN(limit) || math.IsInf(limit, 0) {
		return nil
	}
	if used < 0 || limit <= 0 || period <= 0 {
		return nil
	}
	periodStart := resetsAt.Add(-period)
	if !now.After(periodStart) || !now.Before(resetsAt) {
		return nil
	}
	elapsed := now.Sub(periodStart)
	if float64(elapsed)/float64(period) < earlySampleFraction {
		return nil
	}

	projected := used * float64(period) / float64(elapsed)
	status := Behind
	switch {
	case projected <= aheadFraction*limit:
		status = Ahead
	case projected <= limit:
		status = OnTrack
	}
	return &Result{Status: status, ProjectedUsage: projected}
}

// TimeToLimit estimates how long until usage hits the limit at the current
// burn rate. It is defined only for a behind classification, and only when
// the limit is actually projected to be hit before the period resets;
// otherwise ok is false and the caller should fall back to a clamped
// projected-percentage message.
func TimeToLimit(used, limit float64, resetsAt time.Time, period time.Duration, now time.Time) (time.Duration, bool) {
	res := Classify(used, limit, resetsAt, period, now)
	if res == nil || res.Status != Behind {
		return 0, false
	}
	elapsed := now.Sub(resetsAt.Add(-period))
	rate := used / float64(elapsed)
	if rate <= 0 {
		return 0, false
	}
	eta := time.Duration((limit - used) / rate)
	if !now.Add(eta).Before(resetsAt) {
		return 0, false
	}
	return eta, true
}

// ProjectedPercent converts a projection to a display percentage clamped to
// [0, 100].
func ProjectedPercent(projected, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	pct := projected / limit * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// FormatCompactDuration renders d using its two largest non-zero units, e.g.
// "2d 3h" or "8h 5m". Sub-minute durations render "<1m". ok is false for
// non-positive input.
func FormatCompactDuration(d time.Duration) (string, bool) {
	if d <= 0 {
		return "", false
	}
	if d < time.Minute {
		return "<1m", true
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	type unit struct {
		value  int
		suffix string
	}
	var parts []string
	for _, u := range []unit{{days, "d"}, {hours, "h"}, {minutes, "m"}} {
		if u.value == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d%s", u.value, u.suffix))
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 2 {
		return parts[0] + " " + parts[1], true
	}
	return parts[0], true
}
