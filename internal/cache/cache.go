// Package cache provides the two-tier TTL result cache: a mutex-protected
// in-memory tier that is authoritative, plus an optional durable tier used
// as a promotion source. Durable-tier failures degrade to memory-only
// behavior and are never surfaced to callers.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-group/scorecard-cli/internal/model"
)

// Entry is one cached extraction result with its lifetime bounds. Entries
// are never mutated in place; a refresh writes a new entry under the key.
type Entry struct {
	Value     *model.ExtractedData `json:"value"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// DurableTier is an optional second cache tier (file directory, sqlite,
// Postgres). Get returns (nil, nil) when the key is absent or expired.
type DurableTier interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	SweepExpired(ctx context.Context) (int, error)
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entry_count"`
}

// ResultCache is safe for concurrent use.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]Entry
	durable DurableTier

	hits   int64
	misses int64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a ResultCache. durable may be nil for memory-only operation.
func New(durable DurableTier) *ResultCache {
	return &ResultCache{
		entries: make(map[string]Entry),
		durable: durable,
		nowFunc: time.Now,
	}
}

// Get returns the cached value for key, or (nil, false) on a miss. An
// expired in-memory entry is evicted and treated as a miss. On a memory
// miss, a non-expired durable entry is promoted into the memory tier and
// counts as a hit.
func (c *ResultCache) Get(ctx context.Context, key string) (*model.ExtractedData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	if e, ok := c.entries[key]; ok {
		if !e.Expired(now) {
			c.hits++
			return e.Value, true
		}
		delete(c.entries, key)
	}

	if c.durable != nil {
		e, err := c.durable.Get(ctx, key)
		if err != nil {
			zap.L().Warn("cache: durable read failed",
				zap.String("key", key),
				zap.Error(err),
			)
		} else if e != nil && !e.Expired(now) {
			c.entries[key] = *e
			c.hits++
			return e.Value, true
		}
	}

	c.misses++
	return nil, false
}

// Set writes the value under key with the given TTL. The memory write always
// succeeds; a durable write failure is logged and ignored.
func (c *ResultCache) Set(ctx context.Context, key string, value *model.ExtractedData, ttl time.Duration) {
	now := c.nowFunc()
	e := Entry{Value: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.Set(ctx, key, e); err != nil {
			zap.L().Warn("cache: durable write failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

// Delete removes the entry for key from both tiers.
func (c *ResultCache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.Delete(ctx, key); err != nil {
			zap.L().Warn("cache: durable delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Clear removes all entries from both tiers. Hit/miss counters are kept.
func (c *ResultCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.Clear(ctx); err != nil {
			zap.L().Warn("cache: durable clear failed", zap.Error(err))
		}
	}
}

// SweepExpired evicts expired entries and returns how many were removed
// from the memory tier. The memory tier is authoritative for the count; the
// durable tier sweeps its own rows and any failure there is logged only.
func (c *ResultCache) SweepExpired(ctx context.Context) int {
	c.mu.Lock()
	now := c.nowFunc()
	removed := 0
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if c.durable != nil {
		if n, err := c.durable.SweepExpired(ctx); err != nil {
			zap.L().Warn("cache: durable sweep failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Debug("cache: durable sweep", zap.Int("removed", n))
		}
	}

	return removed
}

// Stats returns hit/miss counters and the live entry count.
func (c *ResultCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
