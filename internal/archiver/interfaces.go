package archiver

import (
	"context"
	"time"
)

// Fetcher performs exactly one fetch attempt for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Clock returns the current time and sleeps (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Mirror copies a committed capture to secondary storage.
type Mirror interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes capture notifications to the named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Ledger records committed captures in a durable index.
type Ledger interface {
	RecordCapture(ctx context.Context, capture Capture) error
}

// Hasher computes digests for integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces cycle and capture IDs.
type IDGenerator interface {
	NewID() (string, error)
}
