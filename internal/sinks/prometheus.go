package sinks

import (
	"github.com/openusage/meterd/internal/bus"
	"github.com/openusage/meterd/internal/metrics"
)

// PromSink translates bus events into Prometheus counters.
type PromSink struct{}

// NewPromSink constructs a PromSink.
func NewPromSink() *PromSink {
	return &PromSink{}
}

// Handle implements bus.Handler.
func (s *PromSink) Handle(evt bus.Event) {
	switch evt.Kind {
	case bus.EventResult:
		metrics.ObserveProbeResult(string(evt.Output.SourceID), outcome(evt.Output))
	case bus.EventBatchComplete:
		metrics.ObserveBatchCompleted()
	}
}
