package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/meter"
	"github.com/openusage/meterd/internal/state"
)

// ManualCooldown is the window after a successful manual refresh during which
// RefreshAll skips the source. Retry ignores it.
const ManualCooldown = time.Minute

// Controller fields user-initiated refresh: single-source retry and a
// cooldown-gated refresh-all. Both reset the automatic countdown when they
// dispatch.
type Controller struct {
	sched   *Scheduler
	batches Batcher
	states  *state.Reducer
	clock   meter.Clock
	enabled func() []meter.SourceID
	logger  *zap.Logger
}

// NewController creates a Controller sharing the scheduler's collaborators.
func NewController(
	sched *Scheduler,
	batches Batcher,
	states *state.Reducer,
	clock meter.Clock,
	enabled func() []meter.SourceID,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		sched:   sched,
		batches: batches,
		states:  states,
		clock:   clock,
		enabled: enabled,
		logger:  logger,
	}
}

// Retry refreshes a single source. It is always allowed regardless of
// cooldown, snoozes the next automatic tick by a full interval, and tags the
// result manual.
func (c *Controller) Retry(ctx context.Context, id meter.SourceID) error {
	return c.dispatch(ctx, []meter.SourceID{id})
}

// RefreshAll refreshes the eligible subset of the enabled set. A source is
// skipped while it is loading, has a manual refresh in flight, or sits inside
// the cooldown window. With no eligible sources the call is a no-op: nothing
// is dispatched and the schedule is not reset.
func (c *Controller) RefreshAll(ctx context.Context) ([]meter.SourceID, error) {
	now := c.clock.Now()
	var eligible []meter.SourceID
	for _, id := range c.enabled() {
		if c.states.Loading(id) || c.states.ManualPending(id) {
			continue
		}
		if st, ok := c.states.State(id); ok &&
			!st.LastManualRefreshAt.IsZero() &&
			now.Sub(st.LastManualRefreshAt) < ManualCooldown {
			continue
		}
		eligible = append(eligible, id)
	}
	if len(eligible) == 0 {
		c.logger.Debug("refresh-all found no eligible sources")
		return nil, nil
	}
	if err := c.dispatch(ctx, eligible); err != nil {
		return nil, err
	}
	return eligible, nil
}

// dispatch optimistically marks ids manual and loading, resets the countdown,
// and starts the batch. On dispatch failure everything is rolled back to the
// error facet so no source is left stuck loading.
func (c *Controller) dispatch(ctx context.Context, ids []meter.SourceID) error {
	c.states.MarkManual(ids)
	c.states.SetLoading(ids)
	c.sched.Reset()
	if _, err := c.batches.StartBatch(ctx, ids, nil); err != nil {
		c.logger.Warn("manual dispatch failed", zap.Error(err))
		c.states.UnmarkManual(ids)
		c.states.SetError(ids, DispatchFailureMessage)
		return err
	}
	return nil
}
