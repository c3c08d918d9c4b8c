// cache.go - Content-addressed cache of validated extractions

package storage

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Defaults for the in-process tier
const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = 24 * time.Hour
)

// CacheKey addresses an extraction by exact image bytes and schema version.
func CacheKey(fingerprint, schemaVersion string) string {
	return fingerprint + ":" + schemaVersion
}

// CacheEntry is one stored extraction.
type CacheEntry struct {
	Key        string          `json:"key"`
	Record     identity.Record `json:"record"`
	InsertedAt time.Time       `json:"inserted_at"`
	Hits       int64           `json:"hits"`
}

// SharedCache is an optional second tier shared between instances.
type SharedCache interface {
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, entry *CacheEntry, ttl time.Duration) error
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Coalesced int64 `json:"coalesced"`
}

// ExtractionCache is an LRU with TTL in front of an optional shared tier. Concurrent
// lookups of the same key are coalesced into one load.
type ExtractionCache struct {
	local  *expirable.LRU[string, *CacheEntry]
	shared SharedCache
	ttl    time.Duration
	logger *slog.Logger

	group     singleflight.Group
	mu        sync.Mutex // guards Hits on entries
	hits      atomic.Int64
	misses    atomic.Int64
	coalesced atomic.Int64
}

// NewExtractionCache builds the cache. shared and logger may be nil.
func NewExtractionCache(size int, ttl time.Duration, shared SharedCache, logger *slog.Logger) *ExtractionCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionCache{
		local:  expirable.NewLRU[string, *CacheEntry](size, nil, ttl),
		shared: shared,
		ttl:    ttl,
		logger: logger,
	}
}

// Cacheable reports whether a record may be stored: it must have full_name and at least
// one non-null field.
func Cacheable(rec *identity.Record) bool {
	return rec != nil && rec.Fields.HasFullName() && rec.Fields.NonNullCount() > 0
}

// Get returns a copy of the stored record with Cached set.
func (c *ExtractionCache) Get(ctx context.Context, key string) (*identity.Record, bool) {
	entry, ok := c.lookup(ctx, key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.mu.Lock()
	entry.Hits++
	c.mu.Unlock()

	rec := cloneRecord(&entry.Record)
	rec.Cached = true
	return rec, true
}

// lookup checks the local tier, then the shared tier, promoting shared hits.
func (c *ExtractionCache) lookup(ctx context.Context, key string) (*CacheEntry, bool) {
	if entry, ok := c.local.Get(key); ok {
		return entry, true
	}
	if c.shared == nil {
		return nil, false
	}
	entry, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache.shared.get_failed", "key", key, "error", err)
		return nil, false
	}
	if !ok || entry == nil || !Cacheable(&entry.Record) {
		return nil, false
	}
	if err := identity.ValidateFields(&entry.Record.Fields); err != nil {
		c.logger.Warn("cache.shared.invalid", "key", key, "error", err)
		return nil, false
	}
	c.local.Add(key, entry)
	return entry, true
}

// Set stores a validated record. Records failing Cacheable are ignored and false is returned.
func (c *ExtractionCache) Set(ctx context.Context, key string, rec *identity.Record) bool {
	if !Cacheable(rec) {
		return false
	}
	stored := cloneRecord(rec)
	stored.Cached = false
	entry := &CacheEntry{Key: key, Record: *stored, InsertedAt: time.Now()}
	c.local.Add(key, entry)

	if c.shared != nil {
		if err := c.shared.Set(ctx, entry, c.ttl); err != nil {
			c.logger.Warn("cache.shared.set_failed", "key", key, "error", err)
		}
	}
	return true
}

// Do returns the cached record for key or runs load once for all concurrent callers
// of the same key. A successful, cacheable result is stored. The bool is true when the
// record came from the cache.
//
// load runs on a context detached from any single caller's cancellation, so one caller
// giving up does not fail the others; load must bound itself with its own timeouts. Each
// caller still stops waiting when its own ctx is done.
func (c *ExtractionCache) Do(ctx context.Context, key string, load func(ctx context.Context) (*identity.Record, error)) (*identity.Record, bool, error) {
	if rec, ok := c.Get(ctx, key); ok {
		return rec, true, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// a previous flight may have filled the key between Get and DoChan
		if entry, ok := c.local.Get(key); ok {
			return cloneRecord(&entry.Record), nil
		}
		rec, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Set(loadCtx, key, rec)
		return rec, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.coalesced.Add(1)
		}
		if res.Err != nil {
			return nil, false, res.Err
		}
		return cloneRecord(res.Val.(*identity.Record)), false, nil
	}
}

// Len returns the number of live local entries.
func (c *ExtractionCache) Len() int {
	return c.local.Len()
}

// Stats returns a snapshot of the counters.
func (c *ExtractionCache) Stats() CacheStats {
	return CacheStats{
		Entries:   c.local.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
	}
}

// Reset drops every local entry and zeroes the counters. The shared tier is left alone.
func (c *ExtractionCache) Reset() {
	c.local.Purge()
	c.hits.Store(0)
	c.misses.Store(0)
	c.coalesced.Store(0)
}

func cloneRecord(rec *identity.Record) *identity.Record {
	out := *rec
	out.Warnings = slices.Clone(rec.Warnings)
	return &out
}
