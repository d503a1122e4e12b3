package meter

import (
	"context"
	"time"
)

// Prober is one opaque usage source. Probe performs whatever network calls
// and parsing the source needs and returns a normalized output; retry and
// auth policy are internal to the implementation.
type Prober interface {
	ID() SourceID
	Meta() SourceMeta
	Probe(ctx context.Context) (PluginOutput, error)
}

// BatchRequest asks the command surface to probe a set of sources under one
// correlation token. An empty SourceIDs means "everything currently enabled".
type BatchRequest struct {
	BatchID   string
	SourceIDs []SourceID
}

// BatchReply confirms the id set the surface actually accepted; it may be a
// subset of the request, e.g. when a source is mid-probe and coalesced.
type BatchReply struct {
	BatchID   string
	SourceIDs []SourceID
}

// Surface is the command side of the probe transport: it registers intent to
// probe and later reports results and completion on the event bus.
type Surface interface {
	StartBatch(ctx context.Context, req BatchRequest) (BatchReply, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// TokenGenerator produces batch correlation tokens.
type TokenGenerator interface {
	NewToken() (string, error)
}
