package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.ioda.inetintel.cc.gatech.edu/v2", cfg.BaseURL)
	assert.Equal(t, "ioda-pipeline/0.1", cfg.UserAgent)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.MinRequestInterval)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.InitialChunk)
	assert.Equal(t, 5_000_000, cfg.MaxResponseBytes)
	assert.Equal(t, 10_000, cfg.MaxPoints)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, filepath.Join("config", "west_africa.yaml"), cfg.TargetsPath)
	assert.Equal(t, filepath.Join("data", "ioda.db"), cfg.DBPath)
	assert.Equal(t, 168*time.Hour, cfg.CoverageTTL)
	assert.Equal(t, 720*time.Hour, cfg.RecentWindow)
	assert.Equal(t, 2000, cfg.EarliestFloorYear)
	assert.Equal(t, 48, cfg.ProbeBudget)
	assert.Equal(t, 1.5, cfg.QAGapMultiple)
	assert.Equal(t, 10.0, cfg.QASpikeMultiple)
	assert.Equal(t, 25, cfg.QASpikeWindow)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, "ioda-observations", cfg.KafkaTopic)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("IODA_BASE_URL", "http://localhost:8081/v2")
	t.Setenv("IODA_USER_AGENT", "test-agent/9")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("MIN_REQUEST_INTERVAL", "50ms")
	t.Setenv("MAX_ATTEMPTS", "3")
	t.Setenv("FETCH_CONCURRENCY", "8")
	t.Setenv("INITIAL_CHUNK", "6h")
	t.Setenv("MAX_RESPONSE_BYTES", "1000000")
	t.Setenv("DATA_DIR", "/tmp/ioda-data")
	t.Setenv("COVERAGE_TTL", "24h")
	t.Setenv("PROBE_BUDGET", "16")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-observations")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8081/v2", cfg.BaseURL)
	assert.Equal(t, "test-agent/9", cfg.UserAgent)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.MinRequestInterval)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 8, cfg.FetchConcurrency)
	assert.Equal(t, 6*time.Hour, cfg.InitialChunk)
	assert.Equal(t, 1_000_000, cfg.MaxResponseBytes)
	assert.Equal(t, "/tmp/ioda-data", cfg.DataDir)
	assert.Equal(t, filepath.Join("/tmp/ioda-data", "ioda.db"), cfg.DBPath)
	assert.Equal(t, 24*time.Hour, cfg.CoverageTTL)
	assert.Equal(t, 16, cfg.ProbeBudget)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, "custom-observations", cfg.KafkaTopic)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidRequestTimeout(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_TIMEOUT")
}

func TestLoad_NegativeCoverageTTL(t *testing.T) {
	t.Setenv("COVERAGE_TTL", "-1h")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COVERAGE_TTL")
}

func TestLoad_InvalidMaxAttempts(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_ATTEMPTS")
}

func TestLoad_InvalidConcurrency(t *testing.T) {
	t.Setenv("FETCH_CONCURRENCY", "-2")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_CONCURRENCY")
}

func TestLoad_InitialChunkTooSmall(t *testing.T) {
	t.Setenv("INITIAL_CHUNK", "10s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INITIAL_CHUNK")
}

func TestLoad_InvalidFloorYear(t *testing.T) {
	t.Setenv("EARLIEST_FLOOR_YEAR", "1960")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EARLIEST_FLOOR_YEAR")
}

func TestLoad_InvalidProbeBudget(t *testing.T) {
	t.Setenv("PROBE_BUDGET", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROBE_BUDGET")
}

func TestLoad_InvalidMaxPoints(t *testing.T) {
	t.Setenv("MAX_POINTS", "-5")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_POINTS")
}

func TestLoad_KafkaEnabledWithoutBrokers(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_KafkaBrokersImplyEnabled(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.KafkaEnabled)
}

func TestLoad_KafkaExplicitlyDisabled(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("KAFKA_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.KafkaEnabled)
}
