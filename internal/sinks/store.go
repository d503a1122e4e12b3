package sinks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/bus"
	"github.com/openusage/meterd/internal/meter"
	"github.com/openusage/meterd/internal/store"
)

const storeWriteTimeout = 10 * time.Second

// StoreSink appends one usage sample row per progress line of every applied
// result, giving operators a burn-rate history. Carried errors produce no
// rows.
type StoreSink struct {
	repo   store.SampleRepository
	clock  meter.Clock
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.SampleRepository, clock meter.Clock, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, clock: clock, logger: logger}
}

// Handle implements bus.Handler.
func (s *StoreSink) Handle(evt bus.Event) {
	if s == nil || s.repo == nil || evt.Kind != bus.EventResult {
		return
	}
	if _, carried := evt.Output.CarriedError(); carried {
		return
	}
	now := s.clock.Now()
	var samples []store.Sample
	for _, line := range evt.Output.Lines {
		if line.Kind != meter.LineProgress {
			continue
		}
		samples = append(samples, store.Sample{
			SourceID:   evt.Output.SourceID,
			Label:      line.Label,
			Used:       line.Used,
			Limit:      line.Limit,
			Plan:       evt.Output.Plan,
			RecordedAt: now,
		})
	}
	if len(samples) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := s.repo.InsertSamples(ctx, samples); err != nil {
		s.logger.Warn("sample insert failed",
			zap.String("source_id", string(evt.Output.SourceID)),
			zap.Error(err),
		)
	}
}
