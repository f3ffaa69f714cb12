package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Reference data.
	EcoRegionsPath string
	TaxonIndexPath string

	// GBIF occurrence source.
	GBIFBaseURL       string
	GBIFTimeout       time.Duration
	GBIFPageSize      int
	GBIFMaxRecords    int
	GBIFFetchBudget   time.Duration
	GBIFRateLimit     float64 // requests per second; 0 disables limiting
	GBIFAcceptPartial bool
	GBIFHasCoordinate bool

	// Name-match cache; Redis replaces the in-process LRU when RedisAddr is set.
	MatchCacheSize int
	MatchCacheTTL  time.Duration
	RedisAddr      string
	RedisPassword  string

	SessionCacheSize int

	// Optional Kafka batch mode.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration
}

// DefaultGBIFBaseURL is the public GBIF API.
const DefaultGBIFBaseURL = "https://api.gbif.org/v1"

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		EcoRegionsPath: sharedcfg.EnvOrDefault("ECOREGIONS_PATH", "data/eco_regions.csv"),
		TaxonIndexPath: os.Getenv("TAXON_INDEX_PATH"),

		GBIFBaseURL:   sharedcfg.EnvOrDefault("GBIF_BASE_URL", DefaultGBIFBaseURL),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "ecoregion-queries"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "ecoregion-results"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "ecoregion-resolver"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
	}

	if cfg.GBIFTimeout, err = parseDuration("GBIF_TIMEOUT", "30s", false); err != nil {
		return nil, err
	}
	if cfg.GBIFFetchBudget, err = parseDuration("GBIF_FETCH_BUDGET", "2m", true); err != nil {
		return nil, err
	}
	if cfg.MatchCacheTTL, err = parseDuration("MATCH_CACHE_TTL", "24h", false); err != nil {
		return nil, err
	}
	if cfg.GBIFPageSize, err = parseInt("GBIF_PAGE_SIZE", 300, 1, 300); err != nil {
		return nil, err
	}
	if cfg.GBIFMaxRecords, err = parseInt("GBIF_MAX_RECORDS", 10000, 0, 1_000_000); err != nil {
		return nil, err
	}
	if cfg.MatchCacheSize, err = parseInt("MATCH_CACHE_SIZE", 1000, 1, 1_000_000); err != nil {
		return nil, err
	}
	if cfg.SessionCacheSize, err = parseInt("SESSION_CACHE_SIZE", 256, 1, 100_000); err != nil {
		return nil, err
	}
	if cfg.GBIFRateLimit, err = parseFloat("GBIF_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.GBIFAcceptPartial, err = parseBool("GBIF_ACCEPT_PARTIAL", false); err != nil {
		return nil, err
	}
	if cfg.GBIFHasCoordinate, err = parseBool("GBIF_HAS_COORDINATE", true); err != nil {
		return nil, err
	}
	if cfg.KafkaEnabled, err = parseBool("KAFKA_ENABLED", false); err != nil {
		return nil, err
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

// parseDuration reads a positive duration. allowZero permits "0" to mean unlimited.
func parseDuration(key, fallback string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseInt(key string, fallback, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be %d-%d", key, lo, hi)
	}
	return n, nil
}

func parseFloat(key string, fallback float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s: must be a non-negative number", key)
	}
	return f, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: must be true or false", key)
	}
	return b, nil
}
