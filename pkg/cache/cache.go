package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented cache with TTL. Used to absorb repeated
// snapshot and ohlc reads from the store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
