package coverage

import (
	"context"
	"sync"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// MemoryCache is an in-process Cache for tests and cacheless runs.
type MemoryCache struct {
	mu   sync.Mutex
	recs map[string]domain.CoverageRecord
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{recs: make(map[string]domain.CoverageRecord)}
}

// GetCoverage returns the record stored under key, marked as cache-sourced.
func (c *MemoryCache) GetCoverage(_ context.Context, key string) (domain.CoverageRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.recs[key]
	if !ok {
		return domain.CoverageRecord{}, false, nil
	}
	rec.Source = domain.CoverageFromCache
	return rec, true, nil
}

// PutCoverage stores rec under its key.
func (c *MemoryCache) PutCoverage(_ context.Context, rec domain.CoverageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[rec.Key()] = rec
	return nil
}
