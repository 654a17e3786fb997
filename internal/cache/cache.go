// Package cache holds recently computed statement results so repeated
// executions of an unchanged statement within the TTL window skip the
// backend. The cache is a pure accelerator: correctness never depends on
// an entry being present.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	ds "github.com/sqlwatch/sqlwatch/internal/domain/datasource"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "result_cache_hits_total", Help: "Statement results served from cache.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "result_cache_misses_total", Help: "Cache lookups that missed or were expired.",
	})
)

type entry struct {
	outcome   ds.Outcome
	storedAt  time.Time
	expiresAt time.Time
}

type ResultCache struct {
	mu      sync.Mutex
	entries map[string]entry

	now func() time.Time
}

func New() *ResultCache {
	return &ResultCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func key(dsID, stmt string) string {
	h := sha256.Sum256([]byte(stmt))
	return dsID + ":" + hex.EncodeToString(h[:])
}

// Lookup returns the cached outcome for (data source, statement) if one
// exists and has not expired. Expired entries are evicted lazily here.
// The returned outcome carries the time it was originally stored.
func (c *ResultCache) Lookup(dsID, stmt string) (ds.Outcome, bool) {
	k := key(dsID, stmt)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		cacheMisses.Inc()
		return ds.Outcome{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, k)
		cacheMisses.Inc()
		return ds.Outcome{}, false
	}

	cacheHits.Inc()
	out := e.outcome
	stored := e.storedAt
	out.CachedAt = &stored
	return out, true
}

// Store unconditionally overwrites the entry for (data source, statement).
// A zero or negative TTL disables caching for that source.
func (c *ResultCache) Store(dsID, stmt string, out ds.Outcome, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out.CachedAt = nil
	c.entries[key(dsID, stmt)] = entry{
		outcome:   out,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

// Len reports the number of live entries, counting expired ones that have
// not been evicted yet.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
