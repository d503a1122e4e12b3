package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/batch"
	"github.com/openusage/meterd/internal/bus"
	clocksystem "github.com/openusage/meterd/internal/clock/system"
	"github.com/openusage/meterd/internal/dispatch"
	"github.com/openusage/meterd/internal/id/token"
	"github.com/openusage/meterd/internal/meter"
	"github.com/openusage/meterd/internal/probes/static"
	"github.com/openusage/meterd/internal/scheduler"
	"github.com/openusage/meterd/internal/state"
)

// Wires the full manual-refresh path with fixed-output probes: controller to
// correlator to dispatcher, results back over the bus into the reducer.
func TestManualRefreshRoundTrip(t *testing.T) {
	t.Parallel()

	clock := clocksystem.New()
	eventBus := bus.New()
	reducer := state.New(clock, zap.NewNop())
	enabled := func() []meter.SourceID { return []meter.SourceID{"alpha", "beta"} }

	dispatcher := dispatch.New(eventBus, clock, enabled, dispatch.Config{}, zap.NewNop())
	require.NoError(t, dispatcher.Register(static.New(
		meter.SourceMeta{ID: "alpha", Name: "Alpha", PrimaryCandidates: []string{"Session"}},
		meter.PluginOutput{
			Plan:  "pro",
			Lines: []meter.MetricLine{meter.ProgressLine("Session", 30, 100)},
		},
	)))
	require.NoError(t, dispatcher.Register(static.New(
		meter.SourceMeta{ID: "beta", Name: "Beta"},
		meter.PluginOutput{
			Lines: []meter.MetricLine{meter.TextLine("Plan", "free")},
		},
	)))

	correlator := batch.New(dispatcher, token.New(), reducer, zap.NewNop())
	correlator.Start(eventBus)
	defer correlator.Stop()

	sched := scheduler.New(clock, correlator, reducer, enabled, 15*time.Minute, zap.NewNop())
	defer sched.Stop()
	controller := scheduler.NewController(sched, correlator, reducer, clock, enabled, zap.NewNop())

	refreshed, err := controller.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []meter.SourceID{"alpha", "beta"}, refreshed)

	require.Eventually(t, func() bool {
		alpha, ok := reducer.State("alpha")
		if !ok || alpha.Data == nil || alpha.Loading {
			return false
		}
		beta, ok := reducer.State("beta")
		return ok && beta.Data != nil && !beta.Loading
	}, 2*time.Second, 5*time.Millisecond)

	alpha, _ := reducer.State("alpha")
	require.Equal(t, "Alpha", alpha.Data.DisplayName)
	require.Equal(t, "pro", alpha.Data.Plan)
	require.False(t, alpha.LastManualRefreshAt.IsZero())

	require.Eventually(t, func() bool {
		return correlator.OpenBatches() == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, dispatcher.Drain(context.Background()))

	// Everyone just refreshed, so an immediate second refresh-all is a no-op.
	refreshed, err = controller.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, refreshed)
}
