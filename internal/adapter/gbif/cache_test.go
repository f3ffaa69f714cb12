package gbif

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock for cache tests ---

type countingSource struct {
	matchCalls  int
	searchCalls int
	taxon       domain.ResolvedTaxon
	err         error
}

func (m *countingSource) MatchName(_ context.Context, _ string, _ domain.Rank) (domain.ResolvedTaxon, error) {
	m.matchCalls++
	return m.taxon, m.err
}

func (m *countingSource) SearchOccurrences(_ context.Context, _ domain.OccurrenceQuery) (domain.OccurrencePage, error) {
	m.searchCalls++
	return domain.OccurrencePage{EndOfRecords: true}, nil
}

var cixius = domain.ResolvedTaxon{Resolved: true, Key: 2018712, CanonicalName: "Cixius nervosus", Rank: domain.RankSpecies, MatchType: "EXACT"}

func newCachedMatcher(inner domain.OccurrenceSource, c MatchCache) *CachedMatcher {
	return NewCachedMatcher(inner, c, observability.NewMetricsForTesting(), testLogger())
}

// --- CachedMatcher tests ---

func TestCachedMatcher_CacheHit(t *testing.T) {
	inner := &countingSource{taxon: cixius}
	cached := newCachedMatcher(inner, NewMemoryMatchCache(10))

	t1, err := cached.MatchName(context.Background(), "Cixius nervosus", domain.RankSpecies)
	require.NoError(t, err)
	t2, err := cached.MatchName(context.Background(), "  cixius   NERVOSUS ", domain.RankSpecies)
	require.NoError(t, err)

	assert.Equal(t, cixius, t1)
	assert.Equal(t, cixius, t2)
	assert.Equal(t, 1, inner.matchCalls, "should only call inner once")
	assert.InDelta(t, 1, testutil.ToFloat64(cached.metrics.MatchCache.WithLabelValues("memory", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(cached.metrics.MatchCache.WithLabelValues("memory", "miss")), 0)
}

func TestCachedMatcher_RankIsPartOfKey(t *testing.T) {
	inner := &countingSource{taxon: cixius}
	cached := newCachedMatcher(inner, NewMemoryMatchCache(10))

	_, _ = cached.MatchName(context.Background(), "Cixius", domain.RankGenus)
	_, _ = cached.MatchName(context.Background(), "Cixius", domain.RankSpecies)

	assert.Equal(t, 2, inner.matchCalls)
}

func TestCachedMatcher_UnresolvedNotCached(t *testing.T) {
	inner := &countingSource{taxon: domain.Unresolved("NONE")}
	cached := newCachedMatcher(inner, NewMemoryMatchCache(10))

	_, _ = cached.MatchName(context.Background(), "Nonexistus", domain.RankSpecies)
	_, _ = cached.MatchName(context.Background(), "Nonexistus", domain.RankSpecies)

	assert.Equal(t, 2, inner.matchCalls)
}

func TestCachedMatcher_ErrorNotCached(t *testing.T) {
	inner := &countingSource{err: errors.New("boom")}
	cached := newCachedMatcher(inner, NewMemoryMatchCache(10))

	_, err := cached.MatchName(context.Background(), "Cixius", domain.RankGenus)
	require.Error(t, err)

	inner.err = nil
	inner.taxon = cixius
	taxon, err := cached.MatchName(context.Background(), "Cixius", domain.RankGenus)
	require.NoError(t, err)
	assert.True(t, taxon.Resolved)
	assert.Equal(t, 2, inner.matchCalls)
}

func TestCachedMatcher_SearchPassesThrough(t *testing.T) {
	inner := &countingSource{}
	cached := newCachedMatcher(inner, NewMemoryMatchCache(10))

	_, err := cached.SearchOccurrences(context.Background(), domain.OccurrenceQuery{TaxonKey: 1})
	require.NoError(t, err)
	_, err = cached.SearchOccurrences(context.Background(), domain.OccurrenceQuery{TaxonKey: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, inner.searchCalls)
}

func TestCachedMatcher_RedisUnavailableFallsThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	inner := &countingSource{taxon: cixius}
	cached := newCachedMatcher(inner, NewRedisMatchCache(client, time.Hour))

	taxon, err := cached.MatchName(context.Background(), "Cixius nervosus", domain.RankSpecies)

	require.NoError(t, err)
	assert.Equal(t, cixius, taxon)
	assert.Equal(t, 1, inner.matchCalls)
	assert.InDelta(t, 1, testutil.ToFloat64(cached.metrics.MatchCache.WithLabelValues("redis", "error")), 0)
}

func TestMatchKey(t *testing.T) {
	assert.Equal(t, "match:species|cixius nervosus", matchKey(" Cixius\tnervosus ", domain.RankSpecies))
	assert.NotEqual(t, matchKey("Cixius", domain.RankGenus), matchKey("Cixius", domain.RankSpecies))
}
