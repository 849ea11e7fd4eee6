package forum

import (
	"context"
	"io"
	"time"
)

// Transport performs exactly one round trip per Send.
type Transport interface {
	Send(ctx context.Context, req Request) Outcome
}

// Caller issues API requests with rate-limit recovery.
type Caller interface {
	Call(ctx context.Context, req Request) (Response, error)
}

// Pauser suspends the caller for a delay, returning early on cancellation.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists harvest run metadata.
type RunStore interface {
	StartRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
