// Package cachemem is a TTL map for verdicts, keyed by the receipt digest
// and policy hash pair.
package cachemem

import (
	"context"
	"sync"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/usecase"
)

type Cache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     domain.Verdict
	expiresAt time.Time
	hasExpiry bool
}

func New() *Cache {
	return NewAt(time.Now)
}

func NewAt(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) Get(_ context.Context, key string) (*domain.Verdict, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.hasExpiry && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *Cache) Put(_ context.Context, key string, value domain.Verdict, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.hasExpiry = true
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

var _ usecase.VerdictCache = (*Cache)(nil)
