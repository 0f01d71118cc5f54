// Package config loads docplane settings from an optional config file, .env
// files and environment variables. Environment variables win.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the API
	HTTPPort int

	// Per-client request limit on the API, 0 means unlimited
	APIRateLimit float64
	APIRateBurst int

	// Extraction service
	ExtractionURL       string
	ExtractionAPIKey    string
	ExtractionTimeout   time.Duration
	ExtractionRateLimit float64 // Requests per second, 0 disables throttling

	// Similarity search service
	VectorStoreURL  string
	SearchThreshold float64

	// Where uploads live; highlighted PDFs are written next to them
	UploadDir string

	// Pipeline sizing
	MaxRetries         int
	ProcessConcurrency int
	StepConcurrency    int
	SchedulerInterval  time.Duration

	// OpenTelemetry collector endpoint (gRPC), empty disables trace export
	OTELEndpoint     string
	TraceSampleRatio float64

	LogLevel string
}

// envKeys maps config keys to their environment variables.
var envKeys = map[string]string{
	"database_url":              "DATABASE_URL",
	"http_port":                 "PORT",
	"api_rate_limit":            "API_RATE_LIMIT",
	"api_rate_burst":            "API_RATE_BURST",
	"extraction_url":            "EXTRACTION_URL",
	"extraction_api_key":        "EXTRACTION_API_KEY",
	"extraction_timeout":        "EXTRACTION_TIMEOUT",
	"extraction_rate_limit":     "EXTRACTION_RATE_LIMIT",
	"vectorstore_url":           "VECTORSTORE_URL",
	"search_distance_threshold": "SEARCH_DISTANCE_THRESHOLD",
	"upload_dir":                "UPLOAD_DIR",
	"max_retries":               "MAX_RETRIES",
	"process_concurrency":       "PROCESS_CONCURRENCY",
	"step_concurrency":          "STEP_CONCURRENCY",
	"scheduler_interval":        "SCHEDULER_INTERVAL",
	"otel_endpoint":             "OTEL_EXPORTER_OTLP_ENDPOINT",
	"trace_sample_ratio":        "OTEL_TRACES_SAMPLER_ARG",
	"log_level":                 "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("api_rate_limit", 0)
	v.SetDefault("api_rate_burst", 20)
	v.SetDefault("extraction_url", "https://api.domer.ai")
	v.SetDefault("extraction_timeout", 360*time.Second)
	v.SetDefault("extraction_rate_limit", 0)
	v.SetDefault("vectorstore_url", "http://localhost:8000")
	v.SetDefault("search_distance_threshold", 3.0)
	v.SetDefault("upload_dir", "./uploads")
	v.SetDefault("max_retries", 3)
	v.SetDefault("process_concurrency", 5)
	v.SetDefault("step_concurrency", 3)
	v.SetDefault("scheduler_interval", 60*time.Second)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("trace_sample_ratio", 1.0)
	v.SetDefault("log_level", "info")
}

// Load reads configuration. path is an optional YAML/JSON/TOML file; .env.local
// and .env in the working directory are loaded into the environment first
// without overriding variables that are already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:         v.GetString("database_url"),
		HTTPPort:            v.GetInt("http_port"),
		APIRateLimit:        v.GetFloat64("api_rate_limit"),
		APIRateBurst:        v.GetInt("api_rate_burst"),
		ExtractionURL:       v.GetString("extraction_url"),
		ExtractionAPIKey:    v.GetString("extraction_api_key"),
		ExtractionTimeout:   v.GetDuration("extraction_timeout"),
		ExtractionRateLimit: v.GetFloat64("extraction_rate_limit"),
		VectorStoreURL:      v.GetString("vectorstore_url"),
		SearchThreshold:     v.GetFloat64("search_distance_threshold"),
		UploadDir:           v.GetString("upload_dir"),
		MaxRetries:          v.GetInt("max_retries"),
		ProcessConcurrency:  v.GetInt("process_concurrency"),
		StepConcurrency:     v.GetInt("step_concurrency"),
		SchedulerInterval:   v.GetDuration("scheduler_interval"),
		OTELEndpoint:        v.GetString("otel_endpoint"),
		TraceSampleRatio:    v.GetFloat64("trace_sample_ratio"),
		LogLevel:            strings.ToLower(v.GetString("log_level")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d (env: PORT)", c.HTTPPort)
	}
	if c.APIRateLimit < 0 {
		return fmt.Errorf("api_rate_limit must not be negative (env: API_RATE_LIMIT)")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive (env: MAX_RETRIES)")
	}
	if c.ProcessConcurrency <= 0 {
		return fmt.Errorf("process_concurrency must be positive (env: PROCESS_CONCURRENCY)")
	}
	if c.StepConcurrency <= 0 {
		return fmt.Errorf("step_concurrency must be positive (env: STEP_CONCURRENCY)")
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler_interval must be positive (env: SCHEDULER_INTERVAL)")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("trace_sample_ratio must be within [0, 1] (env: OTEL_TRACES_SAMPLER_ARG)")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (env: LOG_LEVEL)", c.LogLevel)
	}
	return nil
}
