// Package meter defines core types shared across subsystems.
package meter

import (
	"time"
)

// SourceID identifies a configured usage source. Opaque, unique per probe.
type SourceID string

// LineKind discriminates the MetricLine union.
type LineKind string

// Supported metric line kinds.
const (
	LineText     LineKind = "text"
	LineProgress LineKind = "progress"
	LineBadge    LineKind = "badge"
)

// ErrorBadgeLabel is the sentinel badge label used by probes to carry a
// source-level error through an otherwise successful transport round trip.
const ErrorBadgeLabel = "Error"

// MetricLine is one row of a source's reported usage. Exactly the fields for
// its Kind are meaningful; the rest are zero.
type MetricLine struct {
	Kind  LineKind `json:"kind"`
	Label string   `json:"label"`

	// Text lines.
	Value string `json:"value,omitempty"`

	// Progress lines. Limit <= 0 means no ratio is computable.
	Used           float64       `json:"used,omitempty"`
	Limit          float64       `json:"limit,omitempty"`
	Format         string        `json:"format,omitempty"`
	ResetsAt       *time.Time    `json:"resets_at,omitempty"`
	PeriodDuration time.Duration `json:"period_duration,omitempty"`

	// Badge lines.
	Text string `json:"text,omitempty"`
}

// TextLine builds a text MetricLine.
func TextLine(label, value string) MetricLine {
	return MetricLine{Kind: LineText, Label: label, Value: value}
}

// ProgressLine builds a progress MetricLine.
func ProgressLine(label string, used, limit float64) MetricLine {
	return MetricLine{Kind: LineProgress, Label: label, Used: used, Limit: limit}
}

// BadgeLine builds a badge MetricLine.
func BadgeLine(label, text string) MetricLine {
	return MetricLine{Kind: LineBadge, Label: label, Text: text}
}

// PluginOutput is one source's normalized probe result. Produced entirely by
// the probe; treated as immutable once received.
type PluginOutput struct {
	SourceID    SourceID     `json:"source_id"`
	DisplayName string       `json:"display_name"`
	Plan        string       `json:"plan,omitempty"`
	Lines       []MetricLine `json:"lines"`
	IconURL     string       `json:"icon_url,omitempty"`
}

// CarriedError reports whether the output is a transport-level success that
// semantically carries an error: exactly one badge line labeled
// ErrorBadgeLabel. The badge text is the error message.
func (o PluginOutput) CarriedError() (string, bool) {
	if len(o.Lines) != 1 {
		return "", false
	}
	line := o.Lines[0]
	if line.Kind != LineBadge || line.Label != ErrorBadgeLabel {
		return "", false
	}
	return line.Text, true
}

// ErrorOutput builds a PluginOutput carrying the given error message.
func ErrorOutput(id SourceID, displayName, message string) PluginOutput {
	return PluginOutput{
		SourceID:    id,
		DisplayName: displayName,
		Lines:       []MetricLine{BadgeLine(ErrorBadgeLabel, message)},
	}
}

// SourceMeta is the static, per-source metadata consumed from settings.
type SourceMeta struct {
	ID   SourceID `json:"id"`
	Name string   `json:"name"`
	// IconURL is forwarded verbatim to display layers.
	IconURL string `json:"icon_url,omitempty"`
	// PrimaryCandidates lists progress-line labels, in preference order,
	// identifying the source's headline usage figure.
	PrimaryCandidates []string `json:"primary_candidates,omitempty"`
}

// DisplayMode selects how progress fractions interpret the used value.
type DisplayMode string

// Supported display modes.
const (
	DisplayUsed DisplayMode = "used"
	DisplayLeft DisplayMode = "left"
)

// ShownAmount resolves the displayed quantity for a progress line under the
// given mode. Left mode never goes negative.
func (m DisplayMode) ShownAmount(used, limit float64) float64 {
	if m == DisplayLeft {
		left := limit - used
		if left < 0 {
			return 0
		}
		return left
	}
	return used
}
