// Package source holds per-source configuration and its validation rules.
// A Config is validated once, when a fetch client is constructed; nothing
// in the engine reads mutable process-wide source state.
package source

import (
	"fmt"
	"strings"
	"time"

	dErrors "courseflow/pkg/errors"
)

// minEndpointLength is the shortest normalized endpoint accepted, e.g.
// "https://a.co".
const minEndpointLength = 12

// Defaults applied when a Config leaves pacing or retry settings zero.
const (
	DefaultRateLimitDelay = time.Second
	DefaultMaxRetries     = 3
	DefaultTimeout        = 30 * time.Second
)

// Config describes one remote source instance.
type Config struct {
	ID             string
	Endpoint       string
	Token          string
	RateLimitDelay time.Duration
	MaxRetries     int
	Timeout        time.Duration
}

// Normalize validates the config and fills defaults. The returned config
// carries the canonical endpoint form: https scheme, no trailing slash.
func (c Config) Normalize() (Config, error) {
	if c.ID == "" {
		return Config{}, dErrors.New(dErrors.CodeConfiguration, "source id cannot be empty")
	}
	if c.Token == "" {
		return Config{}, dErrors.Newf(dErrors.CodeConfiguration, "source %s: token cannot be empty", c.ID)
	}

	endpoint, err := NormalizeEndpoint(c.Endpoint)
	if err != nil {
		return Config{}, err
	}
	c.Endpoint = endpoint

	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = DefaultRateLimitDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c, nil
}

// NormalizeEndpoint enforces the encrypted-transport policy: an explicit
// http:// endpoint is a fatal configuration error, a missing scheme
// defaults to https://, and the trailing path separator is stripped.
func NormalizeEndpoint(raw string) (string, error) {
	if raw == "" {
		return "", dErrors.New(dErrors.CodeConfiguration, "source endpoint cannot be empty")
	}

	endpoint := strings.TrimSpace(raw)

	if strings.HasPrefix(strings.ToLower(endpoint), "http://") {
		return "", dErrors.Newf(dErrors.CodeConfiguration,
			"insecure HTTP endpoint detected, use HTTPS: %s", endpoint)
	}

	if strings.HasPrefix(strings.ToLower(endpoint), "https://") {
		endpoint = "https://" + endpoint[len("https://"):]
	} else {
		endpoint = "https://" + endpoint
	}

	endpoint = strings.TrimRight(endpoint, "/")

	if len(endpoint) < minEndpointLength {
		return "", dErrors.Newf(dErrors.CodeConfiguration, "invalid source endpoint format: %s", endpoint)
	}
	return endpoint, nil
}

// ParseList builds source configs from comma-separated endpoint and token
// lists. Position i of each list describes source "source<i+1>". The lists
// must pair up exactly; a mismatch is a configuration error, not a warning.
func ParseList(endpoints, tokens string) ([]Config, error) {
	if endpoints == "" || tokens == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "both source endpoints and tokens must be provided")
	}

	es := splitList(endpoints)
	ts := splitList(tokens)

	if len(es) != len(ts) {
		return nil, dErrors.Newf(dErrors.CodeConfiguration,
			"number of endpoints (%d) must match number of tokens (%d)", len(es), len(ts))
	}
	if len(es) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "at least one source endpoint and token must be provided")
	}

	configs := make([]Config, 0, len(es))
	for i := range es {
		cfg, err := Config{
			ID:       fmt.Sprintf("source%d", i+1),
			Endpoint: es[i],
			Token:    ts[i],
		}.Normalize()
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Find returns the config with the given source ID.
func Find(configs []Config, sourceID string) (Config, error) {
	for _, cfg := range configs {
		if cfg.ID == sourceID {
			return cfg, nil
		}
	}
	return Config{}, dErrors.Newf(dErrors.CodeNotFound, "source %q not found in configuration", sourceID)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
