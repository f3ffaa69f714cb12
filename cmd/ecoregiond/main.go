package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/ecoregion-occurrence-service/internal/adapter/gbif"
	httpadapter "github.com/couchcryptid/ecoregion-occurrence-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/ecoregion-occurrence-service/internal/adapter/kafka"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/config"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/domain"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/observability"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/pipeline"
	"github.com/couchcryptid/ecoregion-occurrence-service/internal/reference"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Local overrides for development; absent in deployed environments.
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Reference data is loaded once, before any listener starts.
	polygons, err := reference.LoadPolygons(cfg.EcoRegionsPath, reference.PolygonOptions{})
	if err != nil {
		logger.Error("failed to load eco-regions", "path", cfg.EcoRegionsPath, "error", err)
		os.Exit(1)
	}
	metrics.ReferenceRegions.Set(float64(polygons.Len()))
	logger.Info("eco-regions loaded", "path", cfg.EcoRegionsPath, "regions", polygons.Len())

	var names *domain.NameIndex
	if cfg.TaxonIndexPath != "" {
		names, err = reference.LoadTaxonIndex(cfg.TaxonIndexPath, reference.TaxonOptions{})
		if err != nil {
			logger.Error("failed to load taxon index", "path", cfg.TaxonIndexPath, "error", err)
			os.Exit(1)
		}
		metrics.ReferenceTaxa.Set(float64(names.Len()))
		logger.Info("taxon index loaded", "path", cfg.TaxonIndexPath, "taxa", names.Len())
	} else {
		logger.Info("taxon index disabled")
	}

	ready := &readiness{}

	client := gbif.NewClient(gbif.Options{
		BaseURL:       cfg.GBIFBaseURL,
		Timeout:       cfg.GBIFTimeout,
		RateLimit:     cfg.GBIFRateLimit,
		HasCoordinate: cfg.GBIFHasCoordinate,
	}, metrics, logger)

	var matchCache gbif.MatchCache
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		rc := gbif.NewRedisMatchCache(rdb, cfg.MatchCacheTTL)
		ready.add("redis", rc)
		matchCache = rc
	} else {
		matchCache = gbif.NewMemoryMatchCache(cfg.MatchCacheSize)
	}
	logger.Info("name-match cache", "backend", matchCache.Backend(), "size", cfg.MatchCacheSize, "ttl", cfg.MatchCacheTTL)
	source := gbif.NewCachedMatcher(client, matchCache, metrics, logger)

	svc := pipeline.NewService(source, polygons, pipeline.Options{
		Limits: domain.FetchLimits{
			PageSize:    cfg.GBIFPageSize,
			MaxRecords:  cfg.GBIFMaxRecords,
			PageTimeout: cfg.GBIFTimeout,
			Budget:      cfg.GBIFFetchBudget,
		},
		AcceptPartial: cfg.GBIFAcceptPartial,
	}, metrics, logger)
	sessions := pipeline.NewSessions(cfg.SessionCacheSize, metrics, logger)

	var p *pipeline.Pipeline
	var reader *kafkaadapter.Reader
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		p = pipeline.New(reader, pipeline.NewTransformer(svc, logger), writer, logger, metrics, cfg.BatchSize)
		ready.add("pipeline", p)
		logger.Info("kafka batch mode enabled", "source", cfg.KafkaSourceTopic, "sink", cfg.KafkaSinkTopic)
	}

	queryTimeout := cfg.GBIFFetchBudget
	if queryTimeout > 0 {
		queryTimeout += cfg.GBIFTimeout
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, httpadapter.API{
		Resolver:     svc,
		Sessions:     sessions,
		Polygons:     polygons,
		Names:        names,
		QueryTimeout: queryTimeout,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start batch pipeline.
	if p != nil {
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// readiness reports ready only when every registered dependency is.
type readiness struct {
	names  []string
	checks []sharedobs.ReadinessChecker
}

func (r *readiness) add(name string, c sharedobs.ReadinessChecker) {
	r.names = append(r.names, name)
	r.checks = append(r.checks, c)
}

func (r *readiness) CheckReadiness(ctx context.Context) error {
	for i, c := range r.checks {
		if err := c.CheckReadiness(ctx); err != nil {
			return fmt.Errorf("%s: %w", r.names[i], err)
		}
	}
	return nil
}
