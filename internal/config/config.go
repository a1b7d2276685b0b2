// Package config loads runtime configuration from environment variables and
// per-run YAML files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Source   SourceConfig
	Download DownloadConfig
	Recovery RecoveryConfig
	Logging  LoggingConfig

	// PartialExecution lets the run continue past a stage-fatal error so
	// downstream stages still see whatever completed.
	PartialExecution bool

	// MetricsAddr, when set, serves Prometheus metrics during the run.
	MetricsAddr string

	JournalPath string
	OutputDir   string
}

// SourceConfig holds content-source client parameters.
type SourceConfig struct {
	BaseURL      string
	Token        string
	UserAgent    string
	PageSize     int
	PaceInterval time.Duration
}

// DownloadConfig holds download-stage parameters.
type DownloadConfig struct {
	Workers        int
	AttemptTimeout time.Duration
}

// RecoveryConfig holds retry policy parameters.
type RecoveryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	OnExhausted string
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

const (
	defaultBaseURL        = "https://api.example.com"
	defaultUserAgent      = "grabbit/1.0"
	defaultPageSize       = 100
	defaultPaceInterval   = time.Second
	defaultWorkers        = 4
	defaultAttemptTimeout = 60 * time.Second
	defaultMaxAttempts    = 3
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultOnExhausted    = "abort"
	defaultJournalPath    = "grabbit.db"
	defaultOutputDir      = "downloads"
	defaultLogFormat      = "json"
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided.
func Load() (Config, error) {
	cfg := Config{
		Source: SourceConfig{
			BaseURL:      getEnv("GRABBIT_BASE_URL", defaultBaseURL),
			Token:        os.Getenv("GRABBIT_TOKEN"),
			UserAgent:    getEnv("GRABBIT_USER_AGENT", defaultUserAgent),
			PageSize:     defaultPageSize,
			PaceInterval: defaultPaceInterval,
		},
		Download: DownloadConfig{
			Workers:        defaultWorkers,
			AttemptTimeout: defaultAttemptTimeout,
		},
		Recovery: RecoveryConfig{
			MaxAttempts: defaultMaxAttempts,
			BaseDelay:   defaultBaseDelay,
			MaxDelay:    defaultMaxDelay,
			OnExhausted: defaultOnExhausted,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		MetricsAddr: os.Getenv("GRABBIT_METRICS_ADDR"),
		JournalPath: getEnv("GRABBIT_JOURNAL", defaultJournalPath),
		OutputDir:   getEnv("GRABBIT_OUTPUT_DIR", defaultOutputDir),
	}

	if v := os.Getenv("GRABBIT_PAGE_SIZE"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GRABBIT_PAGE_SIZE: %w", err)
		}
		cfg.Source.PageSize = n
	}

	if v := os.Getenv("GRABBIT_PACE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return Config{}, fmt.Errorf("invalid GRABBIT_PACE_MS: must be a non-negative integer")
		}
		cfg.Source.PaceInterval = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("GRABBIT_WORKERS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GRABBIT_WORKERS: %w", err)
		}
		cfg.Download.Workers = n
	}

	if v := os.Getenv("GRABBIT_ATTEMPT_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GRABBIT_ATTEMPT_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Download.AttemptTimeout = d
	}

	if v := os.Getenv("GRABBIT_MAX_ATTEMPTS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GRABBIT_MAX_ATTEMPTS: %w", err)
		}
		cfg.Recovery.MaxAttempts = n
	}

	if v := os.Getenv("GRABBIT_ON_EXHAUSTED"); v != "" {
		switch v {
		case "abort", "skip":
			cfg.Recovery.OnExhausted = v
		default:
			return Config{}, fmt.Errorf("invalid GRABBIT_ON_EXHAUSTED: must be 'abort' or 'skip'")
		}
	}

	if v := os.Getenv("GRABBIT_PARTIAL_EXECUTION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GRABBIT_PARTIAL_EXECUTION: %w", err)
		}
		cfg.PartialExecution = b
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
