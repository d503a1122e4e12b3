package batch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openusage/meterd/internal/bus"
	"github.com/openusage/meterd/internal/meter"
)

func TestStartBatchRegistersTokenBeforeDispatch(t *testing.T) {
	t.Parallel()

	b := bus.New()
	sink := newStubSink()
	// The surface publishes a result synchronously, before acknowledging:
	// the token must already be open so the result is attributed.
	surface := &stubSurface{
		onStart: func(req meter.BatchRequest) {
			b.Publish(bus.Event{
				Kind:    bus.EventResult,
				BatchID: req.BatchID,
				Output:  sampleOutput("a"),
			})
		},
	}
	c := New(surface, stubTokens{}, sink, nil)
	c.Start(b)
	defer c.Stop()

	accepted, err := c.StartBatch(context.Background(), []meter.SourceID{"a"}, nil)
	require.NoError(t, err)
	require.Equal(t, []meter.SourceID{"a"}, accepted)
	require.Equal(t, []meter.SourceID{"a"}, sink.sourceIDs())
}

func TestStartBatchRollsBackOnDispatchFailure(t *testing.T) {
	t.Parallel()

	b := bus.New()
	sink := newStubSink()
	surface := &stubSurface{err: errors.New("transport down")}
	c := New(surface, stubTokens{}, sink, nil)
	c.Start(b)
	defer c.Stop()

	_, err := c.StartBatch(context.Background(), []meter.SourceID{"a"}, nil)
	require.ErrorIs(t, err, ErrDispatch)
	require.Zero(t, c.OpenBatches())

	// Nothing left registered: a late result for that token is dropped.
	b.Publish(bus.Event{
		Kind:    bus.EventResult,
		BatchID: surface.lastBatchID(),
		Output:  sampleOutput("a"),
	})
	require.Empty(t, sink.sourceIDs())
	require.EqualValues(t, 1, c.Dropped())
}

func TestUnknownBatchResultIsDropped(t *testing.T) {
	t.Parallel()

	b := bus.New()
	sink := newStubSink()
	c := New(&stubSurface{}, stubTokens{}, sink, nil)
	c.Start(b)
	defer c.Stop()

	b.Publish(bus.Event{
		Kind:    bus.EventResult,
		BatchID: "never-opened",
		Output:  sampleOutput("a"),
	})
	require.Empty(t, sink.sourceIDs())
	require.EqualValues(t, 1, c.Dropped())
}

func TestResultAfterCompletionIsDropped(t *testing.T) {
	t.Parallel()

	b := bus.New()
	sink := newStubSink()
	surface := &stubSurface{}
	c := New(surface, stubTokens{}, sink, nil)
	c.Start(b)
	defer c.Stop()

	_, err := c.StartBatch(context.Background(), []meter.SourceID{"a"}, nil)
	require.NoError(t, err)
	token := surface.lastBatchID()

	b.Publish(bus.Event{Kind: bus.EventBatchComplete, BatchID: token})
	b.Publish(bus.Event{Kind: bus.EventResult, BatchID: token, Output: sampleOutput("a")})

	require.Empty(t, sink.sourceIDs())
}

func TestCompletionFiresExactlyOnce(t *testing.T) {
	t.Parallel()

	b := bus.New()
	surface := &stubSurface{}
	c := New(surface, stubTokens{}, newStubSink(), nil)
	c.Start(b)
	defer c.Stop()

	var completions []string
	_, err := c.StartBatch(context.Background(), []meter.SourceID{"a"}, func(batchID string) {
		completions = append(completions, batchID)
	})
	require.NoError(t, err)
	token := surface.lastBatchID()

	b.Publish(bus.Event{Kind: bus.EventBatchComplete, BatchID: token})
	// Duplicate delivery must not re-fire; removal is the gate.
	b.Publish(bus.Event{Kind: bus.EventBatchComplete, BatchID: token})

	require.Equal(t, []string{token}, completions)
	require.Zero(t, c.OpenBatches())
}

func TestConcurrentBatchesDoNotInterfere(t *testing.T) {
	t.Parallel()

	b := bus.New()
	sink := newStubSink()
	surface := &stubSurface{}
	c := New(surface, stubTokens{}, sink, nil)
	c.Start(b)
	defer c.Stop()

	_, err := c.StartBatch(context.Background(), []meter.SourceID{"a"}, nil)
	require.NoError(t, err)
	first := surface.lastBatchID()
	_, err = c.StartBatch(context.Background(), []meter.SourceID{"b"}, nil)
	require.NoError(t, err)
	second := surface.lastBatchID()

	require.NotEqual(t, first, second)
	require.Equal(t, 2, c.OpenBatches())

	// Completing the first leaves the second open and receiving results.
	b.Publish(bus.Event{Kind: bus.EventBatchComplete, BatchID: first})
	require.Equal(t, 1, c.OpenBatches())

	b.Publish(bus.Event{Kind: bus.EventResult, BatchID: second, Output: sampleOutput("b")})
	require.Equal(t, []meter.SourceID{"b"}, sink.sourceIDs())
}

func sampleOutput(id meter.SourceID) meter.PluginOutput {
	return meter.PluginOutput{
		SourceID:    id,
		DisplayName: string(id),
		Lines:       []meter.MetricLine{meter.ProgressLine("Session", 1, 10)},
	}
}

type stubSurface struct {
	mu      sync.Mutex
	err     error
	onStart func(req meter.BatchRequest)
	last    string
}

func (s *stubSurface) StartBatch(_ context.Context, req meter.BatchRequest) (meter.BatchReply, error) {
	s.mu.Lock()
	s.last = req.BatchID
	s.mu.Unlock()
	if s.onStart != nil {
		s.onStart(req)
	}
	if s.err != nil {
		return meter.BatchReply{}, s.err
	}
	return meter.BatchReply{BatchID: req.BatchID, SourceIDs: req.SourceIDs}, nil
}

func (s *stubSurface) lastBatchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type stubTokens struct{}

var tokenCounter struct {
	mu sync.Mutex
	n  int
}

func (stubTokens) NewToken() (string, error) {
	tokenCounter.mu.Lock()
	defer tokenCounter.mu.Unlock()
	tokenCounter.n++
	return "token-" + strconv.Itoa(tokenCounter.n), nil
}

type stubSink struct {
	mu      sync.Mutex
	applied []meter.PluginOutput
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) ApplyResult(output meter.PluginOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, output)
}

func (s *stubSink) sourceIDs() []meter.SourceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []meter.SourceID
	for _, out := range s.applied {
		ids = append(ids, out.SourceID)
	}
	return ids
}
