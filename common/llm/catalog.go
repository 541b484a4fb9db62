package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ModelCapability tags a catalog entry by the role it can serve.
type ModelCapability string

const (
	CapabilityThinking   ModelCapability = "thinking"
	CapabilityTask       ModelCapability = "task"
	CapabilityEmbedding  ModelCapability = "embedding"
	CapabilitySpecialist ModelCapability = "specialist"
)

// ModelInfo describes one available model deployment.
type ModelInfo struct {
	Name         string          `json:"name"`
	Capability   ModelCapability `json:"capability"`
	ContextLimit int             `json:"context_limit"`
}

// CatalogFetcher retrieves the live model listing from upstream.
type CatalogFetcher func(ctx context.Context) ([]ModelInfo, error)

const catalogRedisKey = "deepresearch:model-catalog"

// Catalog is a cached, periodically refreshed model listing. It is
// single-writer/multi-reader: on a cache miss the first caller populates it
// and subsequent callers reuse the result.
type Catalog struct {
	fetch CatalogFetcher
	ttl   time.Duration
	rdb   *redis.Client

	mu       sync.Mutex
	cached   []ModelInfo
	cachedAt time.Time
}

func NewCatalog(rdb *redis.Client, ttl time.Duration, fetch CatalogFetcher) *Catalog {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Catalog{fetch: fetch, ttl: ttl, rdb: rdb}
}

type catalogEntry struct {
	Models    []ModelInfo `json:"models"`
	CachedAt  time.Time   `json:"cached_at"`
}

// List returns the cached catalog, refreshing it if the TTL has elapsed. On
// upstream failure, an expired cache entry is returned as a best-effort
// fallback rather than propagating the error, provided one exists.
func (c *Catalog) List(ctx context.Context) ([]ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cachedAt) < c.ttl {
		return c.cached, nil
	}

	if entry, ok := c.readRedis(ctx); ok && time.Since(entry.CachedAt) < c.ttl {
		c.cached, c.cachedAt = entry.Models, entry.CachedAt
		return c.cached, nil
	}

	models, err := c.fetch(ctx)
	if err != nil {
		if c.cached != nil {
			slog.WarnContext(ctx, "model catalog refresh failed, serving stale cache", "error", err)
			return c.cached, nil
		}
		if entry, ok := c.readRedis(ctx); ok {
			slog.WarnContext(ctx, "model catalog refresh failed, serving stale redis cache", "error", err)
			c.cached, c.cachedAt = entry.Models, entry.CachedAt
			return c.cached, nil
		}
		return nil, fmt.Errorf("model catalog fetch: %w", err)
	}

	c.cached = models
	c.cachedAt = time.Now()
	c.writeRedis(ctx, catalogEntry{Models: models, CachedAt: c.cachedAt})
	return models, nil
}

// Refresh forces an upstream fetch regardless of TTL.
// On upstream failure the previously cached listing, if any, is returned.
func (c *Catalog) Refresh(ctx context.Context) ([]ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	models, err := c.fetch(ctx)
	if err != nil && c.cached != nil {
		slog.WarnContext(ctx, "model catalog refresh failed, serving stale cache", "error", err)
		return c.cached, nil
	}
	if err != nil {
		return nil, fmt.Errorf("model catalog fetch: %w", err)
	}
	c.cached, c.cachedAt = models, time.Now()
	c.writeRedis(ctx, catalogEntry{Models: models, CachedAt: c.cachedAt})
	return models, nil
}

// Invalidate drops the cached entry without fetching a replacement.
func (c *Catalog) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.cached = nil
	c.cachedAt = time.Time{}
	c.mu.Unlock()
	if c.rdb != nil {
		c.rdb.Del(ctx, catalogRedisKey)
	}
}

func (c *Catalog) readRedis(ctx context.Context) (catalogEntry, bool) {
	if c.rdb == nil {
		return catalogEntry{}, false
	}
	raw, err := c.rdb.Get(ctx, catalogRedisKey).Bytes()
	if err != nil {
		return catalogEntry{}, false
	}
	var entry catalogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return catalogEntry{}, false
	}
	return entry, true
}

func (c *Catalog) writeRedis(ctx context.Context, entry catalogEntry) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, catalogRedisKey, raw, c.ttl*2).Err(); err != nil {
		slog.WarnContext(ctx, "model catalog redis write failed", "error", err)
	}
}
