package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
	"github.com/google/uuid"
)

// Status classifies the outcome of a query.
type Status string

const (
	// StatusOK means at least one occurrence fell inside an eco-region.
	StatusOK Status = "ok"
	// StatusNoOccurrences means the taxon resolved but nothing usable landed in a region.
	StatusNoOccurrences Status = "no_occurrences"
	// StatusUnresolved means the name has no canonical match.
	StatusUnresolved Status = "unresolved"
	// StatusPartial means the fetch failed midway and the data gathered so far was used.
	StatusPartial Status = "partial"
	// StatusFetchFailed means the fetch failed and no tables were built.
	StatusFetchFailed Status = "fetch_failed"
)

// Query is one resolution request.
type Query struct {
	Name string      `json:"name"`
	Rank domain.Rank `json:"rank"`
}

// Summary holds the headline numbers of a result.
type Summary struct {
	TotalResolved   int `json:"total_resolved" yaml:"total_resolved"`
	DistinctRegions int `json:"distinct_regions" yaml:"distinct_regions"`
}

// Result is the complete outcome of a query. It shares nothing with the service and
// can be kept or serialized freely.
type Result struct {
	QueryID     string                      `json:"query_id" yaml:"query_id"`
	Query       Query                       `json:"query" yaml:"query"`
	Status      Status                      `json:"status" yaml:"status"`
	Taxon       domain.ResolvedTaxon        `json:"taxon" yaml:"taxon"`
	Regions     []domain.RegionCount        `json:"regions" yaml:"regions"`
	Summary     Summary                     `json:"summary" yaml:"summary"`
	Fetched     int                         `json:"fetched" yaml:"fetched"`
	Dropped     int                         `json:"dropped" yaml:"dropped"`
	Pages       int                         `json:"pages" yaml:"pages"`
	Available   int64                       `json:"available" yaml:"available"`
	Truncated   bool                        `json:"truncated" yaml:"truncated"`
	Error       string                      `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time                   `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time                   `json:"completed_at" yaml:"completed_at"`
	Points      domain.PointTable           `json:"points" yaml:"-"`
	Resolved    []domain.ResolvedOccurrence `json:"resolved" yaml:"-"`
}

// Options tunes the query service.
type Options struct {
	Limits domain.FetchLimits

	// AcceptPartial builds tables from the pages fetched before a failure instead of
	// reporting fetch_failed.
	AcceptPartial bool

	// KeepFields is the attribute projection; nil keeps domain.KeepFields.
	KeepFields []string

	// SourceCRS is the coordinate system of the occurrence source; empty means WGS84.
	SourceCRS domain.CRS
}

// Service runs the fetch, normalize, resolve and aggregate chain for one query at a
// time per call. The only state it holds is the immutable region table.
type Service struct {
	source   domain.OccurrenceSource
	polygons *domain.PolygonTable
	opts     Options
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService creates a query service over the given source and region table.
func NewService(src domain.OccurrenceSource, polygons *domain.PolygonTable, opts Options, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if opts.KeepFields == nil {
		opts.KeepFields = domain.KeepFields
	}
	if opts.SourceCRS == "" {
		opts.SourceCRS = domain.WGS84
	}
	return &Service{
		source:   src,
		polygons: polygons,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
	}
}

// Polygons returns the region table the service resolves against.
func (s *Service) Polygons() *domain.PolygonTable { return s.polygons }

// Resolve runs one query. Fetch failures are reported through Result.Status and
// Result.Error; the returned error is non-nil only when ctx ends before the query
// completes or the tables cannot be joined.
func (s *Service) Resolve(ctx context.Context, q Query) (Result, error) {
	if q.Rank == "" {
		q.Rank = domain.RankSpecies
	}
	start := time.Now()
	res := Result{
		QueryID:   uuid.NewString(),
		Query:     q,
		Regions:   []domain.RegionCount{},
		Points:    domain.PointTable{CRS: s.opts.SourceCRS, Points: []domain.OccurrencePoint{}},
		Resolved:  []domain.ResolvedOccurrence{},
		StartedAt: domain.Now(),
	}
	logger := s.logger.With("query_id", res.QueryID, "name", q.Name, "rank", q.Rank)

	fetch, err := domain.ResolveAndFetch(ctx, s.source, q.Name, q.Rank, s.opts.Limits, logger)
	res.Taxon = fetch.Taxon
	res.Fetched = len(fetch.Records)
	res.Pages = fetch.Pages
	res.Available = fetch.Total
	res.Truncated = fetch.Truncated
	s.metrics.OccurrencesFetched.Add(float64(res.Fetched))

	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("resolve %q: %w", q.Name, ctx.Err())
		}
		res.Error = err.Error()
		if !s.opts.AcceptPartial || len(fetch.Records) == 0 {
			logger.Warn("occurrence fetch failed", "error", err)
			return s.finish(res, StatusFetchFailed, start, logger), nil
		}
		logger.Warn("occurrence fetch incomplete, using partial data", "error", err, "records", res.Fetched)
		res.Status = StatusPartial
	}

	if !fetch.Taxon.Resolved {
		return s.finish(res, StatusUnresolved, start, logger), nil
	}

	points := domain.Normalize(fetch.Records, s.opts.KeepFields, s.opts.SourceCRS)
	resolved, err := domain.Resolve(points, s.polygons)
	if err != nil {
		return res, fmt.Errorf("resolve %q: %w", q.Name, err)
	}

	res.Points = points
	res.Dropped = points.Dropped
	res.Resolved = resolved
	res.Regions = domain.Aggregate(resolved)
	res.Summary = Summary{
		TotalResolved:   len(resolved),
		DistinctRegions: domain.DistinctRegions(resolved),
	}
	s.metrics.RecordsDropped.Add(float64(points.Dropped))
	s.metrics.OccurrencesResolved.Add(float64(len(resolved)))

	status := res.Status
	switch {
	case status == StatusPartial:
	case len(resolved) > 0:
		status = StatusOK
	default:
		status = StatusNoOccurrences
	}
	return s.finish(res, status, start, logger), nil
}

func (s *Service) finish(res Result, status Status, start time.Time, logger *slog.Logger) Result {
	res.Status = status
	res.CompletedAt = domain.Now()
	s.metrics.Queries.WithLabelValues(string(status)).Inc()
	s.metrics.QueryDuration.Observe(time.Since(start).Seconds())

	logger.Info("query completed",
		"status", status,
		"taxon_key", res.Taxon.Key,
		"fetched", res.Fetched,
		"dropped", res.Dropped,
		"resolved", res.Summary.TotalResolved,
		"regions", res.Summary.DistinctRegions,
		"truncated", res.Truncated,
		"duration", time.Since(start),
	)
	return res
}
