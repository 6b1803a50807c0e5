// Package ttlstore is a small get/set/delete-with-TTL key-value abstraction.
// Pending two-factor sessions and failed-login tracking live behind it, so a
// single-process map and a shared redis cache are interchangeable: the map
// suffices for one instance, horizontal scaling points REDIS_ADDR at a
// shared cache and nothing else changes.
package ttlstore

import (
	"context"
	"time"
)

type Store interface {
	// Get returns the value for key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key for ttl. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
