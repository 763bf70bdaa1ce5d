// Package memcache is an in-process cache.Cache. All data is lost when
// the process ends, which suits a single-node deployment; multi-node
// deployments should use one of the shared backends.
package memcache

import (
	"context"
	"sync"
	"time"

	"github.com/elmwood/oidcop/cache"
)

type record struct {
	data    []byte
	expires time.Time
	sliding time.Duration
}

// Cache is an in-memory implementation of cache.Cache.
type Cache struct {
	mu sync.Mutex
	m  map[string]*record

	// Now is the time source, overridable in tests.
	Now func() time.Time
}

// New returns an empty in-memory cache.
func New() *Cache {
	return &Cache{
		m:   make(map[string]*record),
		Now: time.Now,
	}
}

func (c *Cache) Put(_ context.Context, key string, value []byte, policy cache.Policy) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := &record{
		data:    append([]byte(nil), value...),
		expires: policy.Absolute,
		sliding: policy.Sliding,
	}
	if policy.Sliding > 0 {
		r.expires = c.Now().Add(policy.Sliding)
	}
	c.m[key] = r
	return nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	now := c.Now()
	if !r.expires.IsZero() && now.After(r.expires) {
		delete(c.m, key)
		return nil, false, nil
	}
	if r.sliding > 0 {
		r.expires = now.Add(r.sliding)
	}
	return append([]byte(nil), r.data...), true, nil
}

func (c *Cache) Take(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	delete(c.m, key)
	if !r.expires.IsZero() && c.Now().After(r.expires) {
		return nil, false, nil
	}
	return r.data, true, nil
}

// StartGC sweeps expired entries every frequency until ctx is canceled.
// Get and Take drop expired entries lazily, so the sweep only bounds
// memory held by keys that are never touched again.
func (c *Cache) StartGC(ctx context.Context, frequency time.Duration) {
	go func() {
		ticker := time.NewTicker(frequency)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	for k, r := range c.m {
		if !r.expires.IsZero() && now.After(r.expires) {
			delete(c.m, k)
		}
	}
}
