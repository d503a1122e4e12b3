package meter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCarriedError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		output  PluginOutput
		message string
		carried bool
	}{
		{
			name:    "single error badge",
			output:  ErrorOutput("a", "Source A", "rate limited"),
			message: "rate limited",
			carried: true,
		},
		{
			name: "badge with other label",
			output: PluginOutput{
				Lines: []MetricLine{BadgeLine("Status", "degraded")},
			},
		},
		{
			name: "error badge among other lines",
			output: PluginOutput{
				Lines: []MetricLine{
					BadgeLine(ErrorBadgeLabel, "partial"),
					ProgressLine("Session", 1, 10),
				},
			},
		},
		{
			name: "text line labeled error",
			output: PluginOutput{
				Lines: []MetricLine{TextLine(ErrorBadgeLabel, "nope")},
			},
		},
		{
			name:   "no lines",
			output: PluginOutput{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg, carried := tc.output.CarriedError()
			require.Equal(t, tc.carried, carried)
			require.Equal(t, tc.message, msg)
		})
	}
}

func TestShownAmount(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 30.0, DisplayUsed.ShownAmount(30, 100), 1e-9)
	require.InDelta(t, 70.0, DisplayLeft.ShownAmount(30, 100), 1e-9)
	// Overuse never shows negative remaining.
	require.InDelta(t, 0.0, DisplayLeft.ShownAmount(150, 100), 1e-9)
	require.InDelta(t, 150.0, DisplayUsed.ShownAmount(150, 100), 1e-9)
}

func TestSettingsNormalize(t *testing.T) {
	t.Parallel()

	known := map[SourceID]bool{"a": true, "b": true, "c": true}
	s := Settings{
		Order:    []SourceID{"a", "ghost", "b", "a", "c"},
		Disabled: map[SourceID]bool{"b": true, "ghost": true, "d": true},
	}

	got := s.Normalize(known)
	require.Equal(t, []SourceID{"a", "b", "c"}, got.Order)
	require.Equal(t, map[SourceID]bool{"b": true}, got.Disabled)
}

func TestSettingsEnabled(t *testing.T) {
	t.Parallel()

	s := Settings{
		Order:    []SourceID{"a", "b", "c"},
		Disabled: map[SourceID]bool{"b": true},
	}

	require.Equal(t, []SourceID{"a", "c"}, s.Enabled())
	require.True(t, s.IsEnabled("a"))
	require.False(t, s.IsEnabled("b"))
	require.False(t, s.IsEnabled("ghost"))
}
