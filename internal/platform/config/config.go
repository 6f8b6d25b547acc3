// Package config builds engine configuration from environment variables so
// main stays lean. Source credentials validate through internal/source; the
// rest are plain server, store, and broker settings.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"courseflow/internal/source"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
}

// Postgres captures the relational store settings.
type Postgres struct {
	URL string
}

// Redis captures the optional last-seen-hash cache settings. An empty URL
// disables the cache.
type Redis struct {
	URL          string
	DedupeTTL    time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka captures the optional audit publisher settings. No brokers means
// no audit events are published.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

// Pipeline captures engine-wide tuning knobs shared by all sources.
type Pipeline struct {
	RateLimitDelay time.Duration
	MaxRetries     int
	Timeout        time.Duration
	FanoutWorkers  int
}

// Config is everything the engine needs at startup.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Pipeline Pipeline

	sourceEndpoints string
	sourceTokens    string
}

// FromEnv reads configuration from the environment.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envOr("COURSEFLOW_ADDR", ":8080"),
			JWTSigningKey: envOr("COURSEFLOW_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Postgres: Postgres{
			URL: os.Getenv("COURSEFLOW_DATABASE_URL"),
		},
		Redis: Redis{
			URL:          os.Getenv("COURSEFLOW_REDIS_URL"),
			DedupeTTL:    envDuration("COURSEFLOW_REDIS_DEDUPE_TTL", 24*time.Hour),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		},
		Kafka: Kafka{
			Brokers:    splitNonEmpty(os.Getenv("COURSEFLOW_KAFKA_BROKERS")),
			AuditTopic: envOr("COURSEFLOW_AUDIT_TOPIC", "courseflow.pipeline.audit"),
		},
		Pipeline: Pipeline{
			RateLimitDelay: envDuration("COURSEFLOW_RATE_LIMIT_DELAY", source.DefaultRateLimitDelay),
			MaxRetries:     envInt("COURSEFLOW_MAX_RETRIES", source.DefaultMaxRetries),
			Timeout:        envDuration("COURSEFLOW_FETCH_TIMEOUT", source.DefaultTimeout),
			FanoutWorkers:  envInt("COURSEFLOW_FANOUT_WORKERS", 4),
		},
		sourceEndpoints: firstNonEmpty(os.Getenv("COURSEFLOW_SOURCE_URLS"), os.Getenv("COURSEFLOW_SOURCE_URL")),
		sourceTokens:    firstNonEmpty(os.Getenv("COURSEFLOW_SOURCE_TOKENS"), os.Getenv("COURSEFLOW_SOURCE_TOKEN")),
	}
}

// Sources parses and validates the configured source list, applying the
// pipeline-wide pacing and retry defaults to each source.
func (c Config) Sources() ([]source.Config, error) {
	configs, err := source.ParseList(c.sourceEndpoints, c.sourceTokens)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		configs[i].RateLimitDelay = c.Pipeline.RateLimitDelay
		configs[i].MaxRetries = c.Pipeline.MaxRetries
		configs[i].Timeout = c.Pipeline.Timeout
	}
	return configs, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
