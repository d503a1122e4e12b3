// Package memory contains an in-memory sample repository for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/openusage/meterd/internal/store"
)

// Repository stores inserted samples for inspection.
type Repository struct {
	mu      sync.RWMutex
	samples []store.Sample
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{}
}

// InsertSamples records the samples.
func (r *Repository) InsertSamples(_ context.Context, samples []store.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, samples...)
	return nil
}

// Samples returns a copy of everything recorded.
func (r *Repository) Samples() []store.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Close is a no-op.
func (r *Repository) Close() {}
