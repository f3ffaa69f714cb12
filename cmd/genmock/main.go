// Command genmock builds the mock occurrence fixture from the live GBIF API. It
// matches every name in the taxon list, fetches a bounded sample of occurrences
// for each, and trims the records to the attribute projection the resolver keeps.
// The fixture lets the service, CLI, and tests run without network access.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -taxa data/taxons.csv \
//	  -regions data/eco_regions.csv \
//	  -max-records 50 \
//	  -out data/mock/occurrences.json
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/adapter/fixture"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/adapter/gbif"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/config"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/reference"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	taxaPath := flag.String("taxa", "data/taxons.csv", "taxon CSV listing the names to fetch")
	names := flag.String("names", "", "comma-separated names to fetch instead of the taxon CSV")
	regionsPath := flag.String("regions", "", "eco-region CSV for the summary (optional)")
	out := flag.String("out", "data/mock/occurrences.json", "output path for the fixture")
	maxRecords := flag.Int("max-records", 50, "occurrences kept per taxon")
	baseURL := flag.String("base-url", config.DefaultGBIFBaseURL, "GBIF API base URL")
	flag.Parse()

	if *out == "" || *maxRecords <= 0 {
		flag.Usage()
		return fmt.Errorf("-out and a positive -max-records are required")
	}

	list, err := nameList(*names, *taxaPath)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return fmt.Errorf("no names to fetch")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := gbif.NewClient(gbif.Options{
		BaseURL:       *baseURL,
		Timeout:       30 * time.Second,
		RateLimit:     5,
		HasCoordinate: true,
	}, observability.NewMetricsForTesting(), logger)

	limits := domain.FetchLimits{
		PageSize:   min(*maxRecords, domain.DefaultPageSize),
		MaxRecords: *maxRecords,
		Budget:     2 * time.Minute,
	}

	var f fixture.File
	for _, name := range list {
		taxon, err := fetchTaxon(ctx, client, name, limits, logger)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		f.Taxa = append(f.Taxa, taxon)
		log.Printf("%s: resolved=%t key=%d occurrences=%d", name, taxon.Match.Resolved, taxon.Match.Key, len(taxon.Occurrences))
	}

	if err := fixture.WriteFile(*out, f); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote fixture: %s (%d taxa)", *out, len(f.Taxa))

	if *regionsPath != "" {
		polygons, err := reference.LoadPolygons(*regionsPath, reference.PolygonOptions{})
		if err != nil {
			return fmt.Errorf("loading eco-regions: %w", err)
		}
		return printStats(f, polygons)
	}
	return nil
}

// nameList returns the names given on the command line, or every species in the
// taxon CSV.
func nameList(names, taxaPath string) ([]string, error) {
	if names != "" {
		var list []string
		for _, n := range strings.Split(names, ",") {
			if n = strings.TrimSpace(n); n != "" {
				list = append(list, n)
			}
		}
		return list, nil
	}

	idx, err := reference.LoadTaxonIndex(taxaPath, reference.TaxonOptions{})
	if err != nil {
		return nil, err
	}
	var list []string
	for _, g := range idx.Genera() {
		list = append(list, idx.Species(g)...)
	}
	return list, nil
}

func fetchTaxon(ctx context.Context, src domain.OccurrenceSource, name string, limits domain.FetchLimits, logger *slog.Logger) (fixture.Taxon, error) {
	result, err := domain.ResolveAndFetch(ctx, src, name, domain.RankSpecies, limits, logger)
	if err != nil {
		return fixture.Taxon{}, err
	}
	taxon := fixture.Taxon{
		Name:  name,
		Rank:  domain.RankSpecies,
		Match: result.Taxon,
	}
	for _, rec := range result.Records {
		taxon.Occurrences = append(taxon.Occurrences, project(rec))
	}
	return taxon, nil
}

// project keeps only the attributes the resolver reads.
func project(rec domain.OccurrenceRecord) domain.OccurrenceRecord {
	out := make(domain.OccurrenceRecord, len(domain.KeepFields))
	for _, k := range domain.KeepFields {
		if v, ok := rec[k]; ok {
			out[k] = v
		}
	}
	return out
}

type regionCount struct {
	name  string
	count int
}

// printStats prints per-region counts for updating test assertions.
func printStats(f fixture.File, polygons *domain.PolygonTable) error {
	fmt.Println("\n=== Stats for updating test assertions ===")
	for _, t := range f.Taxa {
		table := domain.Normalize(t.Occurrences, domain.KeepFields, domain.WGS84)
		resolved, err := domain.Resolve(table, polygons)
		if err != nil {
			return err
		}

		fmt.Printf("%s: fetched=%d dropped=%d resolved=%d regions=%d\n",
			t.Name, len(t.Occurrences), table.Dropped, len(resolved), domain.DistinctRegions(resolved))

		counts := domain.Aggregate(resolved)
		rc := make([]regionCount, 0, len(counts))
		for _, c := range counts {
			rc = append(rc, regionCount{name: c.RegionID + " " + c.RegionName, count: c.Count})
		}
		sort.SliceStable(rc, func(i, j int) bool { return rc[i].count > rc[j].count })
		for _, c := range rc {
			fmt.Printf("  %-60s %d\n", c.name, c.count)
		}
	}
	return nil
}
