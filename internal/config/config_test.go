package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, "data/eco_regions.csv", cfg.EcoRegionsPath)
	assert.Empty(t, cfg.TaxonIndexPath)

	assert.Equal(t, DefaultGBIFBaseURL, cfg.GBIFBaseURL)
	assert.Equal(t, 30*time.Second, cfg.GBIFTimeout)
	assert.Equal(t, 300, cfg.GBIFPageSize)
	assert.Equal(t, 10000, cfg.GBIFMaxRecords)
	assert.Equal(t, 2*time.Minute, cfg.GBIFFetchBudget)
	assert.InDelta(t, 10.0, cfg.GBIFRateLimit, 0)
	assert.False(t, cfg.GBIFAcceptPartial)
	assert.True(t, cfg.GBIFHasCoordinate)

	assert.Equal(t, 1000, cfg.MatchCacheSize)
	assert.Equal(t, 24*time.Hour, cfg.MatchCacheTTL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 256, cfg.SessionCacheSize)

	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "ecoregion-queries", cfg.KafkaSourceTopic)
	assert.Equal(t, "ecoregion-results", cfg.KafkaSinkTopic)
	assert.Equal(t, "ecoregion-resolver", cfg.KafkaGroupID)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("ECOREGIONS_PATH", "/srv/eco.csv")
	t.Setenv("TAXON_INDEX_PATH", "/srv/taxa.csv")
	t.Setenv("GBIF_BASE_URL", "http://gbif.local/v1")
	t.Setenv("GBIF_TIMEOUT", "5s")
	t.Setenv("GBIF_PAGE_SIZE", "100")
	t.Setenv("GBIF_MAX_RECORDS", "0")
	t.Setenv("GBIF_FETCH_BUDGET", "0")
	t.Setenv("GBIF_RATE_LIMIT", "2.5")
	t.Setenv("GBIF_ACCEPT_PARTIAL", "true")
	t.Setenv("GBIF_HAS_COORDINATE", "false")
	t.Setenv("MATCH_CACHE_SIZE", "50")
	t.Setenv("MATCH_CACHE_TTL", "1h")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("SESSION_CACHE_SIZE", "8")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_SOURCE_TOPIC", "custom-source")
	t.Setenv("KAFKA_SINK_TOPIC", "custom-sink")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/srv/eco.csv", cfg.EcoRegionsPath)
	assert.Equal(t, "/srv/taxa.csv", cfg.TaxonIndexPath)
	assert.Equal(t, "http://gbif.local/v1", cfg.GBIFBaseURL)
	assert.Equal(t, 5*time.Second, cfg.GBIFTimeout)
	assert.Equal(t, 100, cfg.GBIFPageSize)
	assert.Zero(t, cfg.GBIFMaxRecords)
	assert.Zero(t, cfg.GBIFFetchBudget)
	assert.InDelta(t, 2.5, cfg.GBIFRateLimit, 0)
	assert.True(t, cfg.GBIFAcceptPartial)
	assert.False(t, cfg.GBIFHasCoordinate)
	assert.Equal(t, 50, cfg.MatchCacheSize)
	assert.Equal(t, time.Hour, cfg.MatchCacheTTL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "secret", cfg.RedisPassword)
	assert.Equal(t, 8, cfg.SessionCacheSize)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-source", cfg.KafkaSourceTopic)
	assert.Equal(t, "custom-sink", cfg.KafkaSinkTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration"},
		{"SHUTDOWN_TIMEOUT", "-1s"},
		{"BATCH_SIZE", "0"},
		{"BATCH_SIZE", "9999"},
		{"BATCH_FLUSH_INTERVAL", "not-a-duration"},
		{"GBIF_TIMEOUT", "bad"},
		{"GBIF_TIMEOUT", "0"},
		{"GBIF_FETCH_BUDGET", "-5s"},
		{"GBIF_PAGE_SIZE", "301"},
		{"GBIF_PAGE_SIZE", "0"},
		{"GBIF_MAX_RECORDS", "-1"},
		{"GBIF_RATE_LIMIT", "fast"},
		{"GBIF_ACCEPT_PARTIAL", "maybe"},
		{"MATCH_CACHE_SIZE", "none"},
		{"MATCH_CACHE_TTL", "forever"},
		{"SESSION_CACHE_SIZE", "0"},
		{"KAFKA_ENABLED", "yes please"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_KafkaRequiresBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", " , ")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_KafkaBrokersIgnoredWhenDisabled(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " , ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.KafkaBrokers)
}
