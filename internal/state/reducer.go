// Package state owns per-source probe state and its transitions.
package state

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openusage/meterd/internal/meter"
)

// SourceState is one source's last-known condition. Exactly one of Data,
// Loading, and Err is active at a time. LastManualRefreshAt is sticky across
// transitions; the zero time means the source was never manually refreshed.
type SourceState struct {
	Data                *meter.PluginOutput
	Loading             bool
	Err                 string
	LastManualRefreshAt time.Time
}

// Reducer applies batch results and loading/error transitions to the
// per-source state map. Entries are created lazily (absent means "never
// probed") and never deleted. Transitions are last-write-wins per source id;
// when overlapping batches report for the same id the later event wins.
type Reducer struct {
	mu            sync.Mutex
	clock         meter.Clock
	logger        *zap.Logger
	states        map[meter.SourceID]*SourceState
	pendingManual map[meter.SourceID]struct{}
}

// New creates an empty Reducer.
func New(clock meter.Clock, logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{
		clock:         clock,
		logger:        logger,
		states:        map[meter.SourceID]*SourceState{},
		pendingManual: map[meter.SourceID]struct{}{},
	}
}

func (r *Reducer) entry(id meter.SourceID) *SourceState {
	st, ok := r.states[id]
	if !ok {
		st = &SourceState{}
		r.states[id] = st
	}
	return st
}

// SetLoading marks each id loading, clearing data and error.
func (r *Reducer) SetLoading(ids []meter.SourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		st := r.entry(id)
		st.Loading = true
		st.Data = nil
		st.Err = ""
	}
}

// SetError puts each id into the error facet with the given message.
func (r *Reducer) SetError(ids []meter.SourceID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		st := r.entry(id)
		st.Err = message
		st.Loading = false
		st.Data = nil
	}
}

// MarkManual adds ids to the pending-manual set. A source counts as manual
// for exactly one in-flight result.
func (r *Reducer) MarkManual(ids []meter.SourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.pendingManual[id] = struct{}{}
	}
}

// UnmarkManual rolls ids back out of the pending-manual set, used when a
// dispatch fails after optimistic marking.
func (r *Reducer) UnmarkManual(ids []meter.SourceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.pendingManual, id)
	}
}

// ManualPending reports whether id has a manual refresh in flight.
func (r *Reducer) ManualPending(id meter.SourceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pendingManual[id]
	return ok
}

// ApplyResult folds one probe output into the source's state. An output whose
// single line is the error badge is treated as a carried error rather than
// displayable data. The pending-manual membership is consumed unconditionally
// (success or carried error) so a source counts once per manual request;
// LastManualRefreshAt advances only on a successful manual result.
func (r *Reducer) ApplyResult(output meter.PluginOutput) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := output.SourceID
	_, manual := r.pendingManual[id]
	delete(r.pendingManual, id)

	st := r.entry(id)
	st.Loading = false
	if message, carried := output.CarriedError(); carried {
		st.Err = message
		st.Data = nil
		r.logger.Debug("source reported carried error",
			zap.String("source_id", string(id)),
			zap.String("error", message),
		)
		return
	}
	out := output
	st.Data = &out
	st.Err = ""
	if manual {
		st.LastManualRefreshAt = r.clock.Now()
	}
}

// State returns a copy of the id's state. ok is false when the source was
// never probed.
func (r *Reducer) State(id meter.SourceID) (SourceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return SourceState{}, false
	}
	return *st, true
}

// Loading reports whether id is currently in the loading facet.
func (r *Reducer) Loading(id meter.SourceID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	return ok && st.Loading
}

// Snapshot returns a copy of the full state map.
func (r *Reducer) Snapshot() map[meter.SourceID]SourceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[meter.SourceID]SourceState, len(r.states))
	for id, st := range r.states {
		out[id] = *st
	}
	return out
}
