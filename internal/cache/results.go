// Package cache keeps recently read analysis results in memory so repeated
// re-analyses of the same entity do not hit the store for the baseline.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iago/risk-reanalysis/internal/domain"
)

// ResultFetcher loads one stored result by id.
type ResultFetcher interface {
	GetResult(ctx context.Context, resultID string) (*domain.StoredResult, error)
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

type entry struct {
	result    *domain.StoredResult
	createdAt time.Time
	expiresAt time.Time
}

// ResultCache is a read-through TTL cache in front of a ResultFetcher.
// Stored results are immutable, so entries are never invalidated early.
type ResultCache struct {
	source ResultFetcher
	now    func() time.Time

	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
}

func NewResultCache(source ResultFetcher, config Config) *ResultCache {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 2000
	}
	return &ResultCache{
		source:     source,
		now:        func() time.Time { return time.Now().UTC() },
		entries:    make(map[string]entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

// GetResult serves from memory when possible and falls through to the
// source otherwise. Errors are not cached.
func (c *ResultCache) GetResult(ctx context.Context, resultID string) (*domain.StoredResult, error) {
	if result, ok := c.get(resultID); ok {
		return result, nil
	}

	result, err := c.source.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	c.set(resultID, result)
	return result.Clone(), nil
}

// Len reports the number of live and expired entries still held.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResultCache) get(resultID string) (*domain.StoredResult, bool) {
	c.mu.RLock()
	cached, exists := c.entries[resultID]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if c.now().After(cached.expiresAt) {
		c.mu.Lock()
		delete(c.entries, resultID)
		c.mu.Unlock()
		return nil, false
	}
	return cached.result.Clone(), true
}

func (c *ResultCache) set(resultID string, result *domain.StoredResult) {
	now := c.now()
	cached := entry{
		result:    result.Clone(),
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[resultID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[resultID] = cached
}

func (c *ResultCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.createdAt.Before(pairs[j].value.createdAt)
	})
	delete(c.entries, pairs[0].key)
}
