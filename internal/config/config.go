package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	// IODA API client.
	BaseURL            string
	UserAgent          string
	RequestTimeout     time.Duration
	MinRequestInterval time.Duration
	MaxAttempts        int

	// Chunked fetching.
	FetchConcurrency int
	InitialChunk     time.Duration
	MaxResponseBytes int
	MaxPoints        int

	// Filesystem layout.
	DataDir     string
	TargetsPath string
	DocsDir     string
	DBPath      string
	AuditPath   string

	// Coverage probing.
	CoverageTTL       time.Duration
	RecentWindow      time.Duration
	EarliestFloorYear int
	ProbeBudget       int

	// QA thresholds.
	QAGapMultiple   float64
	QASpikeMultiple float64
	QASpikeWindow   int

	// Kafka observation publishing.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	requestTimeout, err := parseDurationEnv("REQUEST_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	minInterval, err := parseDurationEnv("MIN_REQUEST_INTERVAL", "500ms")
	if err != nil {
		return nil, err
	}
	initialChunk, err := parseDurationEnv("INITIAL_CHUNK", "24h")
	if err != nil {
		return nil, err
	}
	coverageTTL, err := parseDurationEnv("COVERAGE_TTL", "168h")
	if err != nil {
		return nil, err
	}
	recentWindow, err := parseDurationEnv("RECENT_WINDOW", "720h")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseDurationEnv("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	maxAttempts, err := parseIntEnv("MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	concurrency, err := parseIntEnv("FETCH_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	maxBytes, err := parseIntEnv("MAX_RESPONSE_BYTES", 5_000_000)
	if err != nil {
		return nil, err
	}
	maxPoints, err := parseIntEnv("MAX_POINTS", 10_000)
	if err != nil {
		return nil, err
	}
	floorYear, err := parseIntEnv("EARLIEST_FLOOR_YEAR", 2000)
	if err != nil {
		return nil, err
	}
	probeBudget, err := parseIntEnv("PROBE_BUDGET", 48)
	if err != nil {
		return nil, err
	}
	spikeWindow, err := parseIntEnv("QA_SPIKE_WINDOW", 25)
	if err != nil {
		return nil, err
	}

	gapMultiple, err := parseFloatEnv("QA_GAP_MULTIPLE", 1.5)
	if err != nil {
		return nil, err
	}
	spikeMultiple, err := parseFloatEnv("QA_SPIKE_MULTIPLE", 10)
	if err != nil {
		return nil, err
	}

	dataDir := envOrDefault("DATA_DIR", "data")

	brokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		BaseURL:            envOrDefault("IODA_BASE_URL", "https://api.ioda.inetintel.cc.gatech.edu/v2"),
		UserAgent:          envOrDefault("IODA_USER_AGENT", "ioda-pipeline/0.1"),
		RequestTimeout:     requestTimeout,
		MinRequestInterval: minInterval,
		MaxAttempts:        maxAttempts,

		FetchConcurrency: concurrency,
		InitialChunk:     initialChunk,
		MaxResponseBytes: maxBytes,
		MaxPoints:        maxPoints,

		DataDir:     dataDir,
		TargetsPath: envOrDefault("TARGETS_PATH", filepath.Join("config", "west_africa.yaml")),
		DocsDir:     envOrDefault("DOCS_DIR", "docs"),
		DBPath:      envOrDefault("DB_PATH", filepath.Join(dataDir, "ioda.db")),
		AuditPath:   envOrDefault("AUDIT_PATH", filepath.Join(dataDir, "audit", "requests.ndjson")),

		CoverageTTL:       coverageTTL,
		RecentWindow:      recentWindow,
		EarliestFloorYear: floorYear,
		ProbeBudget:       probeBudget,

		QAGapMultiple:   gapMultiple,
		QASpikeMultiple: spikeMultiple,
		QASpikeWindow:   spikeWindow,

		KafkaBrokers: brokers,
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "ioda-observations"),
		KafkaEnabled: kafkaEnabled,

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("IODA_BASE_URL is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("MAX_ATTEMPTS must be at least 1")
	}
	if cfg.FetchConcurrency < 1 {
		return nil, errors.New("FETCH_CONCURRENCY must be at least 1")
	}
	if cfg.InitialChunk < time.Minute {
		return nil, errors.New("INITIAL_CHUNK must be at least 1m")
	}
	if cfg.MaxResponseBytes < 1 {
		return nil, errors.New("MAX_RESPONSE_BYTES must be at least 1")
	}
	if cfg.MaxPoints < 1 {
		return nil, errors.New("MAX_POINTS must be at least 1")
	}
	if cfg.ProbeBudget < 1 {
		return nil, errors.New("PROBE_BUDGET must be at least 1")
	}
	if cfg.QASpikeWindow < 1 {
		return nil, errors.New("QA_SPIKE_WINDOW must be at least 1")
	}
	if cfg.EarliestFloorYear < 1970 {
		return nil, errors.New("EARLIEST_FLOOR_YEAR must be 1970 or later")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

// RawDir is where raw API response chunks are stored.
func (c *Config) RawDir() string {
	return filepath.Join(c.DataDir, "raw")
}

// ProcessedDir is where normalized tables and QA outputs are written.
func (c *Config) ProcessedDir() string {
	return filepath.Join(c.DataDir, "processed")
}

func envOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return d, nil
}

func parseIntEnv(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func parseFloatEnv(name string, def float64) (float64, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return f, nil
}

func parseBrokers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
