package gbif

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(baseURL string) *Client {
	return NewClient(Options{BaseURL: baseURL, Timeout: 5 * time.Second, HasCoordinate: true}, observability.NewMetricsForTesting(), testLogger())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set(headerContentType, contentTypeJSON)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClient_MatchName_Exact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/species/match", r.URL.Path)
		assert.Equal(t, "Cixius nervosus", r.URL.Query().Get("name"))
		assert.Equal(t, "SPECIES", r.URL.Query().Get("rank"))

		writeJSON(t, w, matchResponse{
			UsageKey:       2018712,
			ScientificName: "Cixius nervosus (Linnaeus, 1758)",
			CanonicalName:  "Cixius nervosus",
			Rank:           "SPECIES",
			Status:         "ACCEPTED",
			Confidence:     99,
			MatchType:      "EXACT",
			Kingdom:        "Animalia",
			Phylum:         "Arthropoda",
			Class:          "Insecta",
			Order:          "Hemiptera",
			Family:         "Cixiidae",
			Genus:          "Cixius",
			Species:        "Cixius nervosus",
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	taxon, err := c.MatchName(context.Background(), "Cixius nervosus", domain.RankSpecies)
	require.NoError(t, err)

	assert.True(t, taxon.Resolved)
	assert.Equal(t, int64(2018712), taxon.Key)
	assert.Equal(t, "Cixius nervosus", taxon.CanonicalName)
	assert.Equal(t, domain.RankSpecies, taxon.Rank)
	assert.Equal(t, "EXACT", taxon.MatchType)
	assert.Equal(t, 99, taxon.Confidence)
	assert.Equal(t, "Insecta", taxon.Lineage.Class)
	assert.Equal(t, "Cixiidae", taxon.Lineage.Family)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GBIFRequests.WithLabelValues(endpointMatch, "success")), 0)
}

func TestClient_MatchName_Unresolved(t *testing.T) {
	tests := []struct {
		name     string
		resp     string
		wantType string
	}{
		{"none", `{"confidence":100,"matchType":"NONE","synonym":false}`, "NONE"},
		{"higher rank", `{"usageKey":8470,"rank":"FAMILY","matchType":"HIGHERRANK","canonicalName":"Cixiidae"}`, "HIGHERRANK"},
		{"missing usage key", `{"matchType":"FUZZY"}`, "FUZZY"},
		{"empty body", `{}`, "NONE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set(headerContentType, contentTypeJSON)
				_, _ = w.Write([]byte(tt.resp))
			}))
			defer srv.Close()

			c := testClient(srv.URL)
			taxon, err := c.MatchName(context.Background(), "Nonexistus fabricatus", domain.RankSpecies)

			require.NoError(t, err)
			assert.False(t, taxon.Resolved)
			assert.Zero(t, taxon.Key)
			assert.Equal(t, tt.wantType, taxon.MatchType)
			assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GBIFRequests.WithLabelValues(endpointMatch, "empty")), 0)
		})
	}
}

func TestClient_SearchOccurrences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/occurrence/search", r.URL.Path)
		assert.Equal(t, "2018712", q.Get("taxonKey"))
		assert.Equal(t, "300", q.Get("offset"))
		assert.Equal(t, "300", q.Get("limit"))
		assert.Equal(t, "true", q.Get("hasCoordinate"))
		assert.Equal(t, "false", q.Get("hasGeospatialIssue"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{
			"offset": 300, "limit": 300, "endOfRecords": true, "count": 302,
			"results": [
				{"key": 4011234567, "decimalLongitude": 2.35, "decimalLatitude": 48.85, "species": "Cixius nervosus", "year": 2019},
				{"key": 4011234568, "country": "France"}
			]
		}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	page, err := c.SearchOccurrences(context.Background(), domain.OccurrenceQuery{TaxonKey: 2018712, Offset: 300, Limit: 300})
	require.NoError(t, err)

	assert.True(t, page.EndOfRecords)
	assert.Equal(t, int64(302), page.Count)
	require.Len(t, page.Records, 2)
	assert.Equal(t, json.Number("4011234567"), page.Records[0]["key"], "numbers are decoded losslessly")

	table := domain.Normalize(page.Records, domain.KeepFields, domain.WGS84)
	require.Equal(t, 1, table.Len())
	assert.Equal(t, 1, table.Dropped)
	assert.Equal(t, int64(4011234567), *table.Points[0].Attributes.Key)
	assert.Equal(t, int64(2019), *table.Points[0].Attributes.Year)
}

func TestClient_SearchOccurrences_WithoutCoordinateFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("hasCoordinate"))
		writeJSON(t, w, searchResponse{EndOfRecords: true, Results: []map[string]any{}})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL + "/", Timeout: time.Second}, observability.NewMetricsForTesting(), testLogger())
	page, err := c.SearchOccurrences(context.Background(), domain.OccurrenceQuery{TaxonKey: 1, Limit: 10})

	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GBIFRequests.WithLabelValues(endpointSearch, "empty")), 0)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"Service Unavailable"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.SearchOccurrences(context.Background(), domain.OccurrenceQuery{TaxonKey: 1, Limit: 10})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "Service Unavailable")
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GBIFRequests.WithLabelValues(endpointSearch, "error")), 0)
}

func TestClient_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"results": [`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SearchOccurrences(context.Background(), domain.OccurrenceQuery{TaxonKey: 1, Limit: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode search response")
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, observability.NewMetricsForTesting(), testLogger())

	_, err := c.MatchName(context.Background(), "Cixius", domain.RankGenus)
	require.Error(t, err)
}

func TestClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, searchResponse{EndOfRecords: true})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(srv.URL).SearchOccurrences(ctx, domain.OccurrenceQuery{TaxonKey: 1, Limit: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_RateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(t, w, searchResponse{EndOfRecords: true})
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second, RateLimit: 10}, observability.NewMetricsForTesting(), testLogger())

	start := time.Now()
	for range 3 {
		_, err := c.SearchOccurrences(context.Background(), domain.OccurrenceQuery{TaxonKey: 1, Limit: 10})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond, "3 requests at 10/s with burst 1 take at least 200ms")
}

func TestClient_ResolveAndFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/species/match", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, matchResponse{UsageKey: 42, CanonicalName: "Cixius nervosus", Rank: "SPECIES", MatchType: "EXACT"})
	})
	mux.HandleFunc("/occurrence/search", func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		results := make([]map[string]any, 0, 2)
		for range 2 {
			results = append(results, map[string]any{"decimalLongitude": 2.35, "decimalLatitude": 48.85})
		}
		writeJSON(t, w, searchResponse{Results: results, Count: 4, EndOfRecords: offset == "2"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result, err := domain.ResolveAndFetch(context.Background(), testClient(srv.URL), "Cixius nervosus", domain.RankSpecies,
		domain.FetchLimits{PageSize: 2}, testLogger())

	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Taxon.Key)
	assert.Len(t, result.Records, 4)
	assert.Equal(t, 2, result.Pages)
}
