package tool

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ResultCache memoizes successful results of [Cacheable] tools, keyed by
// organization, tool name and canonical JSON parameters. Each entry costs 1, so maxEntries
// bounds the number of cached results.
type ResultCache struct {
	c *ristretto.Cache[string, *Result]
}

// NewResultCache creates a cache holding up to maxEntries results.
func NewResultCache(maxEntries int64) (*ResultCache, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *Result]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &ResultCache{c: c}, nil
}

// Key derives the cache key of a call made on behalf of orgID.
// encoding/json sorts map keys, which makes the key independent of
// parameter order.
func Key(orgID, toolName string, params map[string]any) (string, bool) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", false
	}
	return orgID + "|" + toolName + "|" + string(raw), true
}

// Get returns a cached result.
func (c *ResultCache) Get(key string) (*Result, bool) {
	return c.c.Get(key)
}

// Set stores r for ttl. Admission is best-effort.
func (c *ResultCache) Set(key string, r *Result, ttl time.Duration) {
	c.c.SetWithTTL(key, r, 1, ttl)
}

// Wait blocks until buffered writes are applied.
func (c *ResultCache) Wait() {
	c.c.Wait()
}

// Clear drops every cached result.
func (c *ResultCache) Clear() {
	c.c.Clear()
}

// Close releases the cache's background goroutines.
func (c *ResultCache) Close() {
	c.c.Close()
}
