// Package cache defines the short-lived keyed store backing in-flight
// authorization requests and opaque authorization codes. Implementations
// must be safe for concurrent use; single-use semantics are built on Take,
// which removes and returns an entry in one operation.
package cache

import (
	"context"
	"time"
)

// Policy controls how long an entry lives. Exactly one of the fields is
// normally set: Absolute pins the entry to a fixed deadline, Sliding
// renews the deadline on every Get.
type Policy struct {
	// Absolute is the instant the entry expires, regardless of access.
	Absolute time.Time
	// Sliding extends the entry's life by this window on each Get.
	Sliding time.Duration
}

// Cache is a TTL'd key-value store for protocol state.
type Cache interface {
	// Put stores value under key with the given lifetime policy,
	// replacing any existing entry.
	Put(ctx context.Context, key string, value []byte, policy Policy) error
	// Get returns the entry if present and unexpired, renewing sliding
	// lifetimes. The second return reports presence.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Take atomically removes and returns the entry. A second Take of the
	// same key reports absence: this is what makes authorization codes
	// single-use.
	Take(ctx context.Context, key string) ([]byte, bool, error)
}
