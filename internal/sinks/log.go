// Package sinks contains bus observers translating probe events into logs,
// Prometheus series, and sample rows.
package sinks

import (
	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/bus"
	"github.com/openusage/meterd/internal/meter"
)

// LogSink writes one structured log line per bus event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Handle implements bus.Handler.
func (s *LogSink) Handle(evt bus.Event) {
	switch evt.Kind {
	case bus.EventResult:
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchID),
			zap.String("source_id", string(evt.Output.SourceID)),
			zap.Int("lines", len(evt.Output.Lines)),
		}
		if message, carried := evt.Output.CarriedError(); carried {
			fields = append(fields, zap.String("carried_error", message))
		}
		s.logger.Info("probe result", fields...)
	case bus.EventBatchComplete:
		s.logger.Info("batch complete", zap.String("batch_id", evt.BatchID))
	}
}

func outcome(output meter.PluginOutput) string {
	if _, carried := output.CarriedError(); carried {
		return "error"
	}
	return "ok"
}
