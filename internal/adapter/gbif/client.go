// Package gbif implements the occurrence source over the GBIF API v1.
package gbif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
	"golang.org/x/time/rate"
)

const (
	endpointMatch  = "match"
	endpointSearch = "search"

	// maxErrorBody bounds how much of a failed response is quoted in the error.
	maxErrorBody = 512
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration

	// RateLimit is the sustained request rate per second; 0 disables limiting.
	RateLimit float64

	// HasCoordinate restricts searches to georeferenced records.
	HasCoordinate bool
}

// Client implements domain.OccurrenceSource using the GBIF species and
// occurrence APIs.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	limiter       *rate.Limiter
	hasCoordinate bool
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// NewClient creates a GBIF client.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		limiter:       rate.NewLimiter(limit, 1),
		hasCoordinate: opts.HasCoordinate,
		metrics:       metrics,
		logger:        logger,
	}
}

// MatchName resolves name against the GBIF backbone taxonomy. Matches of type NONE or
// HIGHERRANK, or without a usage key, are reported as unresolved.
func (c *Client) MatchName(ctx context.Context, name string, rank domain.Rank) (domain.ResolvedTaxon, error) {
	params := url.Values{
		"name":    {name},
		"rank":    {strings.ToUpper(string(rank))},
		"verbose": {"false"},
	}

	var resp matchResponse
	if err := c.get(ctx, endpointMatch, "/species/match", params, &resp); err != nil {
		return domain.ResolvedTaxon{}, err
	}

	taxon := resp.toTaxon()
	if !taxon.Resolved {
		c.metrics.GBIFRequests.WithLabelValues(endpointMatch, "empty").Inc()
	} else {
		c.metrics.GBIFRequests.WithLabelValues(endpointMatch, "success").Inc()
	}
	c.logger.Debug("name matched",
		"name", name,
		"rank", rank,
		"match_type", resp.MatchType,
		"usage_key", resp.UsageKey,
		"confidence", resp.Confidence,
	)
	return taxon, nil
}

// SearchOccurrences returns one page of occurrences for a taxon. Records flagged with
// geospatial issues are always excluded.
func (c *Client) SearchOccurrences(ctx context.Context, q domain.OccurrenceQuery) (domain.OccurrencePage, error) {
	params := url.Values{
		"taxonKey":           {strconv.FormatInt(q.TaxonKey, 10)},
		"offset":             {strconv.Itoa(q.Offset)},
		"limit":              {strconv.Itoa(q.Limit)},
		"hasGeospatialIssue": {"false"},
	}
	if c.hasCoordinate {
		params.Set("hasCoordinate", "true")
	}

	var resp searchResponse
	if err := c.get(ctx, endpointSearch, "/occurrence/search", params, &resp); err != nil {
		return domain.OccurrencePage{}, err
	}

	page := domain.OccurrencePage{
		Records:      make([]domain.OccurrenceRecord, len(resp.Results)),
		EndOfRecords: resp.EndOfRecords,
		Count:        resp.Count,
	}
	for i, r := range resp.Results {
		page.Records[i] = domain.OccurrenceRecord(r)
	}

	outcome := "success"
	if len(page.Records) == 0 {
		outcome = "empty"
	}
	c.metrics.GBIFRequests.WithLabelValues(endpointSearch, outcome).Inc()
	return page, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.GBIFRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("%s rate limit wait: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GBIFAPIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GBIFRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.GBIFRequests.WithLabelValues(endpoint, "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("gbif API error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		c.metrics.GBIFRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// GBIF API response types.

type matchResponse struct {
	UsageKey       int64  `json:"usageKey"`
	ScientificName string `json:"scientificName"`
	CanonicalName  string `json:"canonicalName"`
	Rank           string `json:"rank"`
	Status         string `json:"status"`
	Confidence     int    `json:"confidence"`
	MatchType      string `json:"matchType"`
	Kingdom        string `json:"kingdom"`
	Phylum         string `json:"phylum"`
	Class          string `json:"class"`
	Order          string `json:"order"`
	Family         string `json:"family"`
	Genus          string `json:"genus"`
	Species        string `json:"species"`
}

func (m matchResponse) toTaxon() domain.ResolvedTaxon {
	if m.UsageKey == 0 || m.MatchType == "NONE" || m.MatchType == "HIGHERRANK" || m.MatchType == "" {
		return domain.Unresolved(orNone(m.MatchType))
	}
	return domain.ResolvedTaxon{
		Resolved:       true,
		Key:            m.UsageKey,
		ScientificName: m.ScientificName,
		CanonicalName:  m.CanonicalName,
		Rank:           domain.Rank(strings.ToLower(m.Rank)),
		Status:         m.Status,
		MatchType:      m.MatchType,
		Confidence:     m.Confidence,
		Lineage: domain.Lineage{
			Kingdom: m.Kingdom,
			Phylum:  m.Phylum,
			Class:   m.Class,
			Order:   m.Order,
			Family:  m.Family,
			Genus:   m.Genus,
			Species: m.Species,
		},
	}
}

func orNone(matchType string) string {
	if matchType == "" {
		return "NONE"
	}
	return matchType
}

type searchResponse struct {
	Offset       int              `json:"offset"`
	Limit        int              `json:"limit"`
	EndOfRecords bool             `json:"endOfRecords"`
	Count        int64            `json:"count"`
	Results      []map[string]any `json:"results"`
}
