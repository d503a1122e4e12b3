// Package store persists usage samples for burn-rate history.
package store

import (
	"context"
	"time"

	"github.com/openusage/meterd/internal/meter"
)

// Sample is one progress line observed at a point in time.
type Sample struct {
	SourceID   meter.SourceID
	Label      string
	Used       float64
	Limit      float64
	Plan       string
	RecordedAt time.Time
}

// SampleRepository appends usage samples.
type SampleRepository interface {
	InsertSamples(ctx context.Context, samples []Sample) error
	Close()
}
