package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// OccurrenceQuery requests one page of occurrences for a taxon.
type OccurrenceQuery struct {
	TaxonKey int64
	Offset   int
	Limit    int
}

// OccurrencePage is one page of search results.
type OccurrencePage struct {
	Records      []OccurrenceRecord
	EndOfRecords bool
	Count        int64 // total matches reported by the source, if known
}

// OccurrenceSource resolves names and pages through occurrences.
type OccurrenceSource interface {
	// MatchName resolves a scientific name at the given rank. A name with no
	// canonical match returns a ResolvedTaxon with Resolved=false and a nil error.
	MatchName(ctx context.Context, name string, rank Rank) (ResolvedTaxon, error)

	// SearchOccurrences returns one page of occurrence records.
	SearchOccurrences(ctx context.Context, q OccurrenceQuery) (OccurrencePage, error)
}

// FetchLimits bounds a single fetch. Zero values fall back to defaults; a zero
// MaxRecords, PageTimeout or Budget means unlimited.
type FetchLimits struct {
	PageSize    int
	MaxRecords  int
	PageTimeout time.Duration
	Budget      time.Duration
}

// DefaultPageSize is the largest page the GBIF occurrence search accepts.
const DefaultPageSize = 300

// FetchResult is everything gathered for one name.
type FetchResult struct {
	Taxon     ResolvedTaxon
	Records   []OccurrenceRecord
	Pages     int
	Total     int64
	Truncated bool
}

// ResolveAndFetch matches name at rank and then pages through all of its occurrences
// until the source reports the end, an empty page arrives, or limits.MaxRecords is
// reached.
//
// An unresolved name yields an empty result and a nil error. On a page failure the
// records gathered so far are returned together with a *FetchError; failed pages are
// not retried.
func ResolveAndFetch(ctx context.Context, src OccurrenceSource, name string, rank Rank, limits FetchLimits, logger *slog.Logger) (FetchResult, error) {
	result := FetchResult{Records: []OccurrenceRecord{}}

	name = strings.TrimSpace(name)
	if name == "" {
		result.Taxon = Unresolved("NONE")
		return result, nil
	}

	if limits.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.Budget)
		defer cancel()
	}

	taxon, err := callWithTimeout(ctx, limits.PageTimeout, func(ctx context.Context) (ResolvedTaxon, error) {
		return src.MatchName(ctx, name, rank)
	})
	if err != nil {
		return result, &FetchError{Stage: "match", Err: budgetErr(ctx, err)}
	}
	result.Taxon = taxon
	if !taxon.Resolved {
		logger.Info("name not resolved", "name", name, "rank", rank, "match_type", taxon.MatchType)
		return result, nil
	}

	pageSize := limits.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	offset := 0
	for {
		limit := pageSize
		if limits.MaxRecords > 0 {
			limit = min(limit, limits.MaxRecords-len(result.Records))
		}

		q := OccurrenceQuery{TaxonKey: taxon.Key, Offset: offset, Limit: limit}
		page, err := callWithTimeout(ctx, limits.PageTimeout, func(ctx context.Context) (OccurrencePage, error) {
			return src.SearchOccurrences(ctx, q)
		})
		if err != nil {
			logger.Warn("occurrence page failed",
				"taxon_key", taxon.Key,
				"offset", offset,
				"pages", result.Pages,
				"records", len(result.Records),
				"error", err,
			)
			return result, &FetchError{
				Stage:   "search",
				Pages:   result.Pages,
				Records: len(result.Records),
				Err:     budgetErr(ctx, err),
			}
		}

		result.Pages++
		result.Total = page.Count
		result.Records = append(result.Records, page.Records...)
		offset += len(page.Records)

		logger.Debug("occurrence page fetched",
			"taxon_key", taxon.Key,
			"offset", q.Offset,
			"page_records", len(page.Records),
			"end_of_records", page.EndOfRecords,
		)

		if page.EndOfRecords || len(page.Records) == 0 {
			break
		}
		if limits.MaxRecords > 0 && len(result.Records) >= limits.MaxRecords {
			result.Records = result.Records[:limits.MaxRecords]
			result.Truncated = true
			break
		}
	}

	return result, nil
}

// callWithTimeout runs fn under a per-call deadline when timeout is positive.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

// budgetErr labels errors caused by the overall fetch deadline.
func budgetErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("fetch budget exceeded: %w", err)
	}
	return err
}
