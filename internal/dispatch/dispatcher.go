// Package dispatch fans probe batches out to the registered sources and
// reports results on the event bus.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/bus"
	"github.com/openusage/meterd/internal/meter"
	"github.com/openusage/meterd/internal/metrics"
)

const (
	defaultMaxParallel  = 4
	defaultProbeTimeout = 30 * time.Second
)

// Config controls Dispatcher behavior.
type Config struct {
	// MaxParallel bounds concurrently running probes (default 4).
	MaxParallel int
	// ProbeTimeout bounds one probe call (default 30s).
	ProbeTimeout time.Duration
	// BaseContext is the parent for probe calls so they outlive the request
	// that started the batch (defaults to context.Background()).
	BaseContext context.Context
}

// Dispatcher implements meter.Surface. A source already mid-probe is
// coalesced out of new batches, so the accepted id set may be a subset of the
// request. A probe failure is not a batch failure: it is reported as an
// error-badge output on the bus like any other result.
type Dispatcher struct {
	cfg     Config
	bus     *bus.Bus
	clock   meter.Clock
	logger  *zap.Logger
	enabled func() []meter.SourceID
	sem     chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	probers  map[meter.SourceID]meter.Prober
	inflight map[meter.SourceID]string
}

// New constructs a Dispatcher. enabled resolves the full probe set when a
// batch request names no ids.
func New(b *bus.Bus, clock meter.Clock, enabled func() []meter.SourceID, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg,
		bus:      b,
		clock:    clock,
		logger:   logger,
		enabled:  enabled,
		sem:      make(chan struct{}, cfg.MaxParallel),
		probers:  map[meter.SourceID]meter.Prober{},
		inflight: map[meter.SourceID]string{},
	}
}

// Register adds a probe to the registry.
func (d *Dispatcher) Register(p meter.Prober) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := p.ID()
	if _, exists := d.probers[id]; exists {
		return fmt.Errorf("probe %q already registered", id)
	}
	d.probers[id] = p
	return nil
}

// Metas returns the registered sources' metadata keyed by id.
func (d *Dispatcher) Metas() map[meter.SourceID]meter.SourceMeta {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[meter.SourceID]meter.SourceMeta, len(d.probers))
	for id, p := range d.probers {
		out[id] = p.Meta()
	}
	return out
}

// Known reports the registered source ids as a membership set.
func (d *Dispatcher) Known() map[meter.SourceID]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[meter.SourceID]bool, len(d.probers))
	for id := range d.probers {
		out[id] = true
	}
	return out
}

// StartBatch accepts the subset of requested ids that are registered and not
// already in flight, then probes them in the background. Results and the
// final batch-complete signal arrive on the bus.
func (d *Dispatcher) StartBatch(_ context.Context, req meter.BatchRequest) (meter.BatchReply, error) {
	if req.BatchID == "" {
		return meter.BatchReply{}, fmt.Errorf("batch id is required")
	}
	requested := req.SourceIDs
	if len(requested) == 0 {
		requested = d.enabled()
	}

	d.mu.Lock()
	var accepted []meter.SourceID
	var probers []meter.Prober
	for _, id := range requested {
		p, known := d.probers[id]
		if !known {
			continue
		}
		if _, busy := d.inflight[id]; busy {
			continue
		}
		d.inflight[id] = req.BatchID
		accepted = append(accepted, id)
		probers = append(probers, p)
	}
	d.mu.Unlock()

	metrics.ObserveBatchStarted()
	d.logger.Debug("dispatching batch",
		zap.String("batch_id", req.BatchID),
		zap.Int("requested", len(requested)),
		zap.Int("accepted", len(accepted)),
	)

	d.wg.Add(1)
	go d.runBatch(req.BatchID, accepted, probers)

	return meter.BatchReply{BatchID: req.BatchID, SourceIDs: accepted}, nil
}

// Drain blocks until every in-flight batch has settled or ctx expires.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) runBatch(batchID string, ids []meter.SourceID, probers []meter.Prober) {
	defer d.wg.Done()

	var wg sync.WaitGroup
	for i, p := range probers {
		wg.Add(1)
		go func(id meter.SourceID, p meter.Prober) {
			defer wg.Done()
			d.sem <- struct{}{}
			defer func() { <-d.sem }()
			d.runProbe(batchID, id, p)
		}(ids[i], p)
	}
	wg.Wait()

	d.bus.Publish(bus.Event{Kind: bus.EventBatchComplete, BatchID: batchID})
}

func (d *Dispatcher) runProbe(batchID string, id meter.SourceID, p meter.Prober) {
	metrics.IncActiveProbes()
	defer metrics.DecActiveProbes()

	ctx, cancel := context.WithTimeout(d.cfg.BaseContext, d.cfg.ProbeTimeout)
	defer cancel()

	start := d.clock.Now()
	out, err := p.Probe(ctx)
	if err != nil {
		d.logger.Warn("probe failed",
			zap.String("batch_id", batchID),
			zap.String("source_id", string(id)),
			zap.Error(err),
		)
		out = meter.ErrorOutput(id, p.Meta().Name, err.Error())
	}
	// Probes must not report under a different id.
	out.SourceID = id
	elapsed := d.clock.Now().Sub(start)
	metrics.ObserveProbeDuration(string(id), elapsed)

	d.mu.Lock()
	if d.inflight[id] == batchID {
		delete(d.inflight, id)
	}
	d.mu.Unlock()

	d.bus.Publish(bus.Event{Kind: bus.EventResult, BatchID: batchID, Output: out})
	d.logger.Debug("probe settled",
		zap.String("batch_id", batchID),
		zap.String("source_id", string(id)),
		zap.Duration("duration", elapsed),
	)
}
