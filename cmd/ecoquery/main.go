// Command ecoquery resolves one taxon name against the eco-region layer and prints
// the per-region counts. Optionally it writes the map as HTML and GeoJSON.
//
// Usage:
//
//	go run ./cmd/ecoquery -name "Cixius nervosus" -format yaml -map cixius.html
//	go run ./cmd/ecoquery -name "Cixius nervosus" -fixture data/mock/occurrences.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/adapter/fixture"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/adapter/gbif"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/config"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/pipeline"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/reference"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/render"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitFetchFailed = 2
)

type options struct {
	name        string
	rank        string
	format      string
	mapOut      string
	geojsonOut  string
	fixturePath string
	regionsPath string
	maxRecords  int
	allRegions  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.name, "name", "", "scientific name to resolve (required)")
	flag.StringVar(&opts.rank, "rank", "species", "taxon rank of the name")
	flag.StringVar(&opts.format, "format", "json", "output format: json or yaml")
	flag.StringVar(&opts.mapOut, "map", "", "write an HTML map to this path")
	flag.StringVar(&opts.geojsonOut, "geojson", "", "write the map features as GeoJSON to this path")
	flag.StringVar(&opts.fixturePath, "fixture", "", "read occurrences from a fixture file instead of GBIF")
	flag.StringVar(&opts.regionsPath, "regions", "", "eco-region CSV (defaults to ECOREGIONS_PATH)")
	flag.IntVar(&opts.maxRecords, "max-records", -1, "cap on fetched records (defaults to GBIF_MAX_RECORDS)")
	flag.BoolVar(&opts.allRegions, "all-regions", false, "include regions without occurrences in the map")
	flag.Parse()

	if opts.name == "" {
		flag.Usage()
		os.Exit(exitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, opts, os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, opts options, stdout io.Writer) int {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitError
	}
	logger := observability.NewLoggerTo(os.Stderr, cfg)
	metrics := observability.NewMetricsForTesting()

	rank, err := domain.ParseRank(opts.rank)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitError
	}
	if opts.format != "json" && opts.format != "yaml" {
		fmt.Fprintf(os.Stderr, "unknown format %q\n", opts.format)
		return exitError
	}

	regionsPath := cfg.EcoRegionsPath
	if opts.regionsPath != "" {
		regionsPath = opts.regionsPath
	}
	polygons, err := reference.LoadPolygons(regionsPath, reference.PolygonOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "load eco-regions: %v\n", err)
		return exitError
	}

	var src domain.OccurrenceSource
	if opts.fixturePath != "" {
		src, err = fixture.Load(opts.fixturePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
			return exitError
		}
	} else {
		src = gbif.NewClient(gbif.Options{
			BaseURL:       cfg.GBIFBaseURL,
			Timeout:       cfg.GBIFTimeout,
			RateLimit:     cfg.GBIFRateLimit,
			HasCoordinate: cfg.GBIFHasCoordinate,
		}, metrics, logger)
	}

	limits := domain.FetchLimits{
		PageSize:    cfg.GBIFPageSize,
		MaxRecords:  cfg.GBIFMaxRecords,
		PageTimeout: cfg.GBIFTimeout,
		Budget:      cfg.GBIFFetchBudget,
	}
	if opts.maxRecords >= 0 {
		limits.MaxRecords = opts.maxRecords
	}

	svc := pipeline.NewService(src, polygons, pipeline.Options{
		Limits:        limits,
		AcceptPartial: cfg.GBIFAcceptPartial,
	}, metrics, logger)

	res, err := svc.Resolve(ctx, pipeline.Query{Name: opts.name, Rank: rank})
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve: %v\n", err)
		return exitError
	}

	if err := writeResult(stdout, opts.format, res); err != nil {
		fmt.Fprintf(os.Stderr, "write result: %v\n", err)
		return exitError
	}

	if opts.mapOut != "" || opts.geojsonOut != "" {
		if err := writeMap(res, polygons, opts); err != nil {
			fmt.Fprintf(os.Stderr, "write map: %v\n", err)
			return exitError
		}
	}

	if res.Status == pipeline.StatusFetchFailed {
		return exitFetchFailed
	}
	return exitOK
}

func writeResult(w io.Writer, format string, res pipeline.Result) error {
	switch format {
	case "yaml":
		out, err := yaml.Marshal(res)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "json":
		// Points and resolved rows go to the map outputs, not stdout.
		res.Points = domain.PointTable{}
		res.Resolved = nil
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	default:
		return errors.New("unknown format " + format)
	}
}

func writeMap(res pipeline.Result, polygons *domain.PolygonTable, opts options) error {
	art, err := render.Render(res.Resolved, res.Points, polygons, render.Options{
		Title:               res.Query.Name,
		IncludeEmptyRegions: opts.allRegions,
	})
	if err != nil {
		return err
	}
	if opts.mapOut != "" {
		if err := os.WriteFile(opts.mapOut, art.HTML, 0o600); err != nil {
			return err
		}
	}
	if opts.geojsonOut != "" {
		data, err := art.GeoJSON.MarshalJSON()
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.geojsonOut, data, 0o600); err != nil {
			return err
		}
	}
	return nil
}
