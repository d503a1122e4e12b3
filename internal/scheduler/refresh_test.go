package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openusage/meterd/internal/meter"
	"github.com/openusage/meterd/internal/state"
)

func newTestController(clock *stubClock, batcher *stubBatcher, ids ...meter.SourceID) (*Controller, *Scheduler, *state.Reducer) {
	states := state.New(clock, nil)
	sched := New(clock, batcher, states, enabledFn(ids...), 15*time.Minute, nil)
	ctrl := NewController(sched, batcher, states, clock, enabledFn(ids...), nil)
	return ctrl, sched, states
}

func TestRetryDispatchesAndResetsCountdown(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	batcher := newStubBatcher()
	ctrl, sched, states := newTestController(clock, batcher, "a", "b")
	defer sched.Stop()

	sched.Start()
	clock.advance(5 * time.Minute)

	require.NoError(t, ctrl.Retry(context.Background(), "a"))

	require.Equal(t, [][]meter.SourceID{{"a"}}, batcher.calls())
	require.True(t, states.Loading("a"))
	require.True(t, states.ManualPending("a"))

	// The countdown snoozed to a fresh full interval.
	next := sched.NextUpdateAt()
	require.NotNil(t, next)
	require.Equal(t, clock.Now().Add(15*time.Minute), *next)

	// "b" was never touched.
	_, probedB := states.State("b")
	require.False(t, probedB)
}

func TestRetryIgnoresCooldown(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	batcher := newStubBatcher()
	ctrl, sched, states := newTestController(clock, batcher, "a")
	defer sched.Stop()

	require.NoError(t, ctrl.Retry(context.Background(), "a"))
	states.ApplyResult(sampleOutput("a"))

	// Still inside the cooldown window, but retry is always allowed.
	clock.advance(ManualCooldown / 2)
	require.NoError(t, ctrl.Retry(context.Background(), "a"))
	require.Len(t, batcher.calls(), 2)
}

func TestRefreshAllCooldownExclusion(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	batcher := newStubBatcher()
	ctrl, sched, states := newTestController(clock, batcher, "a", "b")
	defer sched.Stop()

	// A successful manual retry of "a" stamps its cooldown.
	require.NoError(t, ctrl.Retry(context.Background(), "a"))
	states.ApplyResult(sampleOutput("a"))

	// Inside the window, refresh-all excludes "a".
	clock.advance(ManualCooldown / 2)
	refreshed, err := ctrl.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []meter.SourceID{"b"}, refreshed)
	states.ApplyResult(sampleOutput("b"))

	// Past the window, "a" is eligible again.
	clock.advance(ManualCooldown)
	refreshed, err = ctrl.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []meter.SourceID{"a", "b"}, refreshed)
}

func TestRefreshAllSkipsLoadingAndPendingManual(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	batcher := newStubBatcher()
	ctrl, sched, states := newTestController(clock, batcher, "a", "b", "c")
	defer sched.Stop()

	states.SetLoading([]meter.SourceID{"a"})
	states.MarkManual([]meter.SourceID{"b"})

	refreshed, err := ctrl.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []meter.SourceID{"c"}, refreshed)
}

func TestRefreshAllNoopLeavesScheduleAlone(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	batcher := newStubBatcher()
	ctrl, sched, states := newTestController(clock, batcher, "a")
	defer sched.Stop()

	sched.Start()
	armed := sched.NextUpdateAt()
	require.NotNil(t, armed)

	states.SetLoading([]meter.SourceID{"a"})
	clock.advance(time.Minute)

	refreshed, err := ctrl.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, refreshed)
	require.Empty(t, batcher.calls())

	// No dispatch means no schedule reset.
	next := sched.NextUpdateAt()
	require.NotNil(t, next)
	require.Equal(t, *armed, *next)
}

func TestManualDispatchFailureRollsBack(t *testing.T) {
	t.Parallel()

	clock := newStubClock()
	batcher := newStubBatcher()
	batcher.err = errors.New("surface rejected")
	ctrl, sched, states := newTestController(clock, batcher, "a")
	defer sched.Stop()

	err := ctrl.Retry(context.Background(), "a")
	require.Error(t, err)

	st, ok := states.State("a")
	require.True(t, ok)
	require.False(t, st.Loading)
	require.Equal(t, DispatchFailureMessage, st.Err)
	require.False(t, states.ManualPending("a"))
}

func sampleOutput(id meter.SourceID) meter.PluginOutput {
	return meter.PluginOutput{
		SourceID:    id,
		DisplayName: string(id),
		Lines:       []meter.MetricLine{meter.ProgressLine("Session", 1, 10)},
	}
}
