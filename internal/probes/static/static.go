// Package static provides a fixed-output probe for development and tests.
package static

import (
	"context"

	"github.com/openusage/meterd/internal/meter"
)

// Probe returns the same output on every call.
type Probe struct {
	meta   meter.SourceMeta
	output meter.PluginOutput
}

// New creates a static Probe reporting output.
func New(meta meter.SourceMeta, output meter.PluginOutput) *Probe {
	output.SourceID = meta.ID
	if output.DisplayName == "" {
		output.DisplayName = meta.Name
	}
	return &Probe{meta: meta, output: output}
}

// ID returns the source id.
func (p *Probe) ID() meter.SourceID {
	return p.meta.ID
}

// Meta returns the source metadata.
func (p *Probe) Meta() meter.SourceMeta {
	return p.meta
}

// Probe returns the configured output unless ctx is already done.
func (p *Probe) Probe(ctx context.Context) (meter.PluginOutput, error) {
	if err := ctx.Err(); err != nil {
		return meter.PluginOutput{}, err
	}
	return p.output, nil
}
