// Package cache is a TTL-bounded, prefix-invalidated cache fronting hot read
// paths. Instances are explicitly constructed and injected; the background
// expiry sweep runs only between Start and the cancellation of its context.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Dannydropz/phuketradar-sub003/internal/globaltime"
)

type item struct {
	value     any
	expiresAt time.Time
}

// Cache is safe for concurrent use. Reads never block on writes beyond the
// lock hold; a stale read inside the TTL window is accepted.
type Cache struct {
	mu            sync.RWMutex
	items         map[string]item
	defaultTTL    time.Duration
	sweepInterval time.Duration
}

// Options tunes cache behavior.
type Options struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

func New(opts Options) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	return &Cache{
		items:         map[string]item{},
		defaultTTL:    opts.DefaultTTL,
		sweepInterval: opts.SweepInterval,
	}
}

// Start launches the expiry sweep goroutine; it stops when ctx is canceled.
func (c *Cache) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(c.sweepInterval)
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

// Get returns the cached value when present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || globaltime.UTC().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key. A non-positive ttl uses the default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.items[key] = item{value: value, expiresAt: globaltime.UTC().Add(ttl)}
	c.mu.Unlock()
}

// InvalidatePrefix drops all keys sharing the prefix. Article store writes
// call this for the views they touch.
func (c *Cache) InvalidatePrefix(prefix string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
}

// GetOrLoad reads through: on a miss the loader runs and its result is cached
// with the default TTL.
func (c *Cache) GetOrLoad(key string, loader func() (any, error)) (any, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := loader()
	if err != nil {
		return nil, err
	}
	c.Set(key, value, 0)
	return value, nil
}

// Len reports the current entry count, expired entries included until swept.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) sweep() {
	now := globaltime.UTC()
	c.mu.Lock()
	for key, entry := range c.items {
		if now.After(entry.expiresAt) {
			delete(c.items, key)
		}
	}
	c.mu.Unlock()
}
