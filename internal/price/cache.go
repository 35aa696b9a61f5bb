// Package price serves the latest fund prices through a process-local
// read-through cache. Aggregate refreshes invalidate it, so stale prices
// live at most one TTL.
package price

import (
	"context"
	"sync"
	"time"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// DefaultTTL bounds how long a cached snapshot is served.
const DefaultTTL = time.Hour

// Source loads price rows from storage.
type Source interface {
	LatestFundPrices(ctx context.Context) (map[model.FundCode]model.FundPrice, error)
	PricesForDate(ctx context.Context, date time.Time) (map[model.FundCode]model.FundPrice, error)
}

// Cache is a read-through cache over a Source. Safe for concurrent use.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	snapshot  map[model.FundCode]model.FundPrice
	fetchedAt time.Time
}

// NewCache wraps source. A non-positive ttl falls back to DefaultTTL; a
// nil now falls back to the wall clock.
func NewCache(source Source, ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{source: source, ttl: ttl, now: now}
}

// Latest returns the cached snapshot, refreshing it from the source when
// empty or expired.
func (c *Cache) Latest(ctx context.Context) (map[model.FundCode]model.FundPrice, error) {
	c.mu.RLock()
	if c.snapshot != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		snap := c.snapshot
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have refreshed while we waited for the lock.
	if c.snapshot != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.snapshot, nil
	}

	snap, err := c.source.LatestFundPrices(ctx)
	if err != nil {
		return nil, err
	}
	c.snapshot = snap
	c.fetchedAt = c.now()
	return snap, nil
}

// ForDate returns each fund's price effective on the given day. Historical
// lookups are rare, so they go straight to the source.
func (c *Cache) ForDate(ctx context.Context, date time.Time) (map[model.FundCode]model.FundPrice, error) {
	return c.source.PricesForDate(ctx, date)
}

// Invalidate drops the snapshot. The next Latest call refetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}
