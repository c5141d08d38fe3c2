package risk

import (
	"context"
	"time"
)

// Store holds per-identifier failure counters
type Store interface {
	// Incr increments key and, only when the counter was absent, sets its
	// expiry to window. It returns the new count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// Get returns the current count and remaining lifetime of key. A missing
	// or expired key is 0, 0.
	Get(ctx context.Context, key string) (int64, time.Duration, error)

	// Del removes key
	Del(ctx context.Context, key string) error
}
