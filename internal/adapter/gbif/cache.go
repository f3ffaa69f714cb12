package gbif

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/cache"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
	"github.com/redis/go-redis/v9"
)

// MatchCache stores resolved name matches.
type MatchCache interface {
	Get(ctx context.Context, key string) (domain.ResolvedTaxon, bool, error)
	Put(ctx context.Context, key string, taxon domain.ResolvedTaxon) error
	Backend() string
}

// CachedMatcher wraps an occurrence source with a name-match cache. Occurrence
// searches pass straight through.
type CachedMatcher struct {
	inner   domain.OccurrenceSource
	cache   MatchCache
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewCachedMatcher creates a cache decorator around src.
func NewCachedMatcher(src domain.OccurrenceSource, c MatchCache, metrics *observability.Metrics, logger *slog.Logger) *CachedMatcher {
	return &CachedMatcher{
		inner:   src,
		cache:   c,
		metrics: metrics,
		logger:  logger,
	}
}

func (c *CachedMatcher) MatchName(ctx context.Context, name string, rank domain.Rank) (domain.ResolvedTaxon, error) {
	key := matchKey(name, rank)

	taxon, ok, err := c.cache.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.MatchCache.WithLabelValues(c.cache.Backend(), "error").Inc()
		c.logger.Warn("match cache read failed", "key", key, "error", err)
	case ok:
		c.metrics.MatchCache.WithLabelValues(c.cache.Backend(), "hit").Inc()
		return taxon, nil
	default:
		c.metrics.MatchCache.WithLabelValues(c.cache.Backend(), "miss").Inc()
	}

	taxon, err = c.inner.MatchName(ctx, name, rank)
	if err != nil {
		return taxon, err
	}
	// Only cache resolved matches so names added to the backbone later are picked up.
	if taxon.Resolved {
		if err := c.cache.Put(ctx, key, taxon); err != nil {
			c.logger.Warn("match cache write failed", "key", key, "error", err)
		}
	}
	return taxon, nil
}

func (c *CachedMatcher) SearchOccurrences(ctx context.Context, q domain.OccurrenceQuery) (domain.OccurrencePage, error) {
	return c.inner.SearchOccurrences(ctx, q)
}

func matchKey(name string, rank domain.Rank) string {
	return fmt.Sprintf("match:%s|%s", rank, strings.ToLower(strings.Join(strings.Fields(name), " ")))
}

// MemoryMatchCache is an in-process LRU match cache.
type MemoryMatchCache struct {
	lru *cache.LRU[string, domain.ResolvedTaxon]
}

// NewMemoryMatchCache creates an LRU cache holding up to maxEntries matches.
func NewMemoryMatchCache(maxEntries int) *MemoryMatchCache {
	return &MemoryMatchCache{lru: cache.NewLRU[string, domain.ResolvedTaxon](maxEntries)}
}

func (m *MemoryMatchCache) Get(_ context.Context, key string) (domain.ResolvedTaxon, bool, error) {
	t, ok := m.lru.Get(key)
	return t, ok, nil
}

func (m *MemoryMatchCache) Put(_ context.Context, key string, taxon domain.ResolvedTaxon) error {
	m.lru.Put(key, taxon)
	return nil
}

func (m *MemoryMatchCache) Backend() string { return "memory" }

// RedisMatchCache shares matches between instances through Redis. Entries expire
// after ttl.
type RedisMatchCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisMatchCache wraps an existing Redis client.
func NewRedisMatchCache(client redis.UniversalClient, ttl time.Duration) *RedisMatchCache {
	return &RedisMatchCache{client: client, prefix: "ecoregion:", ttl: ttl}
}

func (r *RedisMatchCache) Get(ctx context.Context, key string) (domain.ResolvedTaxon, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ResolvedTaxon{}, false, nil
	}
	if err != nil {
		return domain.ResolvedTaxon{}, false, fmt.Errorf("redis get: %w", err)
	}
	var taxon domain.ResolvedTaxon
	if err := json.Unmarshal(data, &taxon); err != nil {
		return domain.ResolvedTaxon{}, false, fmt.Errorf("decode cached match: %w", err)
	}
	return taxon, true, nil
}

func (r *RedisMatchCache) Put(ctx context.Context, key string, taxon domain.ResolvedTaxon) error {
	data, err := json.Marshal(taxon)
	if err != nil {
		return fmt.Errorf("encode match: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisMatchCache) Backend() string { return "redis" }

// CheckReadiness pings Redis.
func (r *RedisMatchCache) CheckReadiness(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
