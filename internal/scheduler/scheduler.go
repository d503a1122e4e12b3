// Package scheduler drives automatic and manual probe refresh.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/meter"
	"github.com/openusage/meterd/internal/state"
)

// DispatchFailureMessage is the generic error facet applied to sources whose
// batch request could not be issued.
const DispatchFailureMessage = "Failed to start probe"

// Batcher issues a correlated probe batch and reports the accepted id set.
type Batcher interface {
	StartBatch(ctx context.Context, ids []meter.SourceID, onComplete func(batchID string)) ([]meter.SourceID, error)
}

// Scheduler maintains the recurring auto-update timer. Each tick marks the
// enabled set loading, requests a batch for exactly those ids, and advances
// the schedule by a full interval whether or not the dispatch succeeded. Any
// reconfiguration rearms a fresh full-interval countdown; a stale timer is
// fenced out by an epoch token.
type Scheduler struct {
	clock   meter.Clock
	logger  *zap.Logger
	batches Batcher
	states  *state.Reducer
	enabled func() []meter.SourceID

	mu       sync.Mutex
	interval time.Duration
	epoch    uint64
	timer    *time.Timer
	nextAt   time.Time
}

// New creates a Scheduler. enabled resolves the current enabled id set on
// every tick, so settings changes take effect without rewiring.
func New(
	clock meter.Clock,
	batches Batcher,
	states *state.Reducer,
	enabled func() []meter.SourceID,
	interval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		clock:    clock,
		logger:   logger,
		batches:  batches,
		states:   states,
		enabled:  enabled,
		interval: interval,
	}
}

// Start arms the first countdown.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked()
}

// Stop cancels the armed timer. NextUpdateAt reports nil afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
}

// Reset tears down the countdown and rearms a fresh full interval. A manual
// action uses this to snooze the next automatic tick by a whole period.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked()
}

// SetInterval replaces the interval and rearms with a fresh full countdown;
// it never keeps a stale remaining duration.
func (s *Scheduler) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = interval
	s.armLocked()
}

// Interval returns the configured interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// NextUpdateAt reports when the armed timer fires, or nil when none is armed.
func (s *Scheduler) NextUpdateAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextAt.IsZero() {
		return nil
	}
	at := s.nextAt
	return &at
}

// armLocked increments the epoch, cancels any prior timer, and installs a new
// full-interval countdown. With no enabled sources the next scheduled time
// becomes undefined and no timer runs.
func (s *Scheduler) armLocked() {
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextAt = time.Time{}
	if s.interval <= 0 || len(s.enabled()) == 0 {
		return
	}
	epoch := s.epoch
	s.nextAt = s.clock.Now().Add(s.interval)
	s.timer = time.AfterFunc(s.interval, func() {
		s.fire(epoch)
	})
}

func (s *Scheduler) disarmLocked() {
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextAt = time.Time{}
}

func (s *Scheduler) fire(epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.tick()

	s.mu.Lock()
	if epoch == s.epoch {
		s.armLocked()
	}
	s.mu.Unlock()
}

func (s *Scheduler) tick() {
	ids := s.enabled()
	if len(ids) == 0 {
		return
	}
	s.states.SetLoading(ids)
	if _, err := s.batches.StartBatch(context.Background(), ids, nil); err != nil {
		s.logger.Warn("auto-update dispatch failed", zap.Error(err))
		s.states.SetError(ids, DispatchFailureMessage)
	}
}
