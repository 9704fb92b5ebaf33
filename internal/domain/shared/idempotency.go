package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed keys for a TTL so that redelivered
// messages are handled once
type IdempotencyStore interface {
	// MarkProcessed returns true if key was newly marked, false if it was already processed
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether key is marked and not expired
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Close releases resources
	Close() error
}
