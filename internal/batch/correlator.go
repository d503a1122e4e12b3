// Package batch correlates probe batches with their asynchronous results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/bus"
	"github.com/openusage/meterd/internal/meter"
)

// ErrDispatch is returned when the command surface rejects a batch request.
var ErrDispatch = errors.New("failed to start probe batch")

// ResultSink receives outputs attributed to an open batch.
type ResultSink interface {
	ApplyResult(output meter.PluginOutput)
}

// CompletionFunc runs exactly once when a batch completes.
type CompletionFunc func(batchID string)

// Correlator issues batches under unique tokens and filters incoming bus
// events by batch membership. Multiple batches may be open concurrently; a
// result whose token is unknown or already closed is silently dropped.
type Correlator struct {
	surface meter.Surface
	tokens  meter.TokenGenerator
	sink    ResultSink
	logger  *zap.Logger

	mu   sync.Mutex
	open map[string]CompletionFunc

	subs    bus.SubscriptionSet
	dropped atomic.Int64
	onDrop  func()
}

// New creates a Correlator. Call Start to begin consuming bus events.
func New(surface meter.Surface, tokens meter.TokenGenerator, sink ResultSink, logger *zap.Logger) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		surface: surface,
		tokens:  tokens,
		sink:    sink,
		logger:  logger,
		open:    map[string]CompletionFunc{},
	}
}

// SetDropObserver installs a hook invoked whenever an event is discarded for
// an unknown or closed batch. Must be called before Start.
func (c *Correlator) SetDropObserver(fn func()) {
	c.onDrop = fn
}

// Start subscribes to the bus for the process lifetime.
func (c *Correlator) Start(b *bus.Bus) {
	c.subs.Add(b.Subscribe(c.handle))
}

// Stop releases every bus subscription. Batches still open simply never fire
// their completion callback.
func (c *Correlator) Stop() {
	c.subs.Close()
}

// StartBatch generates a token, registers it as open, and asks the surface to
// probe the given ids (nil means the full enabled set, resolved by the
// surface). It returns the id set the surface accepted. The token is
// registered before the request is issued so a result racing the
// acknowledgment is still attributed; on request failure the token is removed
// and ErrDispatch is returned with nothing left registered.
func (c *Correlator) StartBatch(ctx context.Context, ids []meter.SourceID, onComplete func(batchID string)) ([]meter.SourceID, error) {
	token, err := c.tokens.NewToken()
	if err != nil {
		return nil, fmt.Errorf("new batch token: %w", err)
	}

	c.mu.Lock()
	c.open[token] = onComplete
	c.mu.Unlock()

	reply, err := c.surface.StartBatch(ctx, meter.BatchRequest{BatchID: token, SourceIDs: ids})
	if err != nil {
		c.mu.Lock()
		delete(c.open, token)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	c.logger.Debug("batch started",
		zap.String("batch_id", token),
		zap.Int("requested", len(ids)),
		zap.Int("accepted", len(reply.SourceIDs)),
	)
	return reply.SourceIDs, nil
}

// OpenBatches reports how many batches are currently open.
func (c *Correlator) OpenBatches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

// Dropped returns the number of events discarded for unknown or closed
// batch tokens.
func (c *Correlator) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Correlator) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.EventResult:
		c.mu.Lock()
		_, isOpen := c.open[evt.BatchID]
		c.mu.Unlock()
		if !isOpen {
			c.dropped.Add(1)
			if c.onDrop != nil {
				c.onDrop()
			}
			c.logger.Debug("dropping result for closed batch",
				zap.String("batch_id", evt.BatchID),
				zap.String("source_id", string(evt.Output.SourceID)),
			)
			return
		}
		c.sink.ApplyResult(evt.Output)
	case bus.EventBatchComplete:
		// Removal is the gate: completing an already-removed token is a
		// no-op and never re-fires the callback.
		c.mu.Lock()
		cb, isOpen := c.open[evt.BatchID]
		if isOpen {
			delete(c.open, evt.BatchID)
		}
		c.mu.Unlock()
		if !isOpen {
			return
		}
		c.logger.Debug("batch completed", zap.String("batch_id", evt.BatchID))
		if cb != nil {
			cb(evt.BatchID)
		}
	}
}
