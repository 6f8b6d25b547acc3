// Package fetch implements the rate-limited, retrying client for a source
// instance's web-service API. One Client serves one source; its pacer
// serializes every caller sharing it, and independent sources never
// cross-throttle because they hold independent clients.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"courseflow/internal/entity"
	"courseflow/internal/platform/circuit"
	"courseflow/internal/platform/metrics"
	"courseflow/internal/source"
	dErrors "courseflow/pkg/errors"
)

// restPath is the web-service REST endpoint relative to the source base URL.
const restPath = "/webservice/rest/server.php"

// envelopeKeys are the response keys a source may wrap its list under.
var envelopeKeys = []string{"users", "usergrades", "tables"}

// Result is one decoded call outcome. Retries counts the attempts beyond
// the first that were needed to get it.
type Result struct {
	Documents []entity.Document
	Retries   int
}

// Client calls one source's web-service functions.
type Client struct {
	cfg     source.Config
	http    *http.Client
	pacer   *pacer
	retry   RetryPolicy
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures optional client collaborators.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient overrides the transport, primarily for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryPolicy overrides the default backoff schedule.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithCircuitBreaker guards the transport with a breaker.
func WithCircuitBreaker(cb *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// NewClient validates the source config and builds a client for it.
// Construction fails fast on an empty, malformed, or unencrypted endpoint.
func NewClient(cfg source.Config, opts ...Option) (*Client, error) {
	normalized, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:   normalized,
		http:  &http.Client{Timeout: normalized.Timeout},
		pacer: newPacer(normalized.RateLimitDelay),
		retry: DefaultRetryPolicy(normalized.MaxRetries),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// SourceID returns the validated source identifier this client serves.
func (c *Client) SourceID() string {
	return c.cfg.ID
}

// Endpoint returns the normalized base URL.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

// Call invokes a named web-service function. Transport errors and 5xx/429
// statuses retry with exponential backoff up to the configured ceiling; a
// well-formed error envelope from the remote side fails immediately.
func (c *Client) Call(ctx context.Context, function string, params url.Values) (*Result, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, dErrors.Newf(dErrors.CodeTransient,
			"source %s: circuit %s, skipping call to %s", c.cfg.ID, c.breaker.State(), function)
	}

	var lastErr error
	retries := 0

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			retries++
			if c.metrics != nil {
				c.metrics.FetchRetries.WithLabelValues(c.cfg.ID).Inc()
			}
			if err := sleep(ctx, c.retry.Backoff(attempt)); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeTransient, "cancelled during backoff")
			}
		}

		if err := c.pacer.wait(ctx); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTransient, "cancelled waiting for rate limiter")
		}

		docs, err := c.attempt(ctx, function, params)
		if err == nil {
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			return &Result{Documents: docs, Retries: retries}, nil
		}

		if !dErrors.IsRetryable(err) {
			if c.breaker != nil {
				c.breaker.RecordFailure()
			}
			return nil, err
		}

		lastErr = err
		c.logger.WarnContext(ctx, "source call failed, will retry",
			"source", c.cfg.ID,
			"function", function,
			"attempt", attempt+1,
			"error", err.Error(),
		)
	}

	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeTransient,
		fmt.Sprintf("source %s: %s failed after %d retries", c.cfg.ID, function, c.retry.MaxRetries))
}

// attempt performs one HTTP round trip and decodes the response.
func (c *Client) attempt(ctx context.Context, function string, params url.Values) ([]entity.Document, error) {
	form := url.Values{}
	form.Set("wstoken", c.cfg.Token)
	form.Set("wsfunction", function)
	form.Set("moodlewsrestformat", "json")
	for key, values := range params {
		for _, v := range values {
			form.Add(key, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Endpoint+restPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, fmt.Sprintf("call %s", function))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, dErrors.Newf(dErrors.CodeTransient, "%s returned status %d", function, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeRemote, "%s returned unexpected status %d", function, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "read response body")
	}

	return decodeResponse(function, body)
}

// decodeResponse turns a response body into a document list, detecting the
// remote error envelope and unwrapping known list envelopes.
func decodeResponse(function string, body []byte) ([]entity.Document, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeRemote, fmt.Sprintf("%s returned invalid JSON", function))
	}

	switch v := payload.(type) {
	case []any:
		return toDocuments(v), nil
	case map[string]any:
		if _, found := v["exception"]; found {
			message, _ := v["message"].(string)
			if message == "" {
				message = "unknown remote error"
			}
			return nil, dErrors.Newf(dErrors.CodeRemote, "%s: %s", function, message)
		}
		for _, key := range envelopeKeys {
			if wrapped, ok := v[key].([]any); ok {
				return toDocuments(wrapped), nil
			}
		}
		// A bare object is a single-entity response.
		return []entity.Document{entity.Document(v)}, nil
	case nil:
		return nil, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeRemote, "%s returned unexpected payload shape", function)
	}
}

func toDocuments(items []any) []entity.Document {
	docs := make([]entity.Document, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			docs = append(docs, entity.Document(m))
		}
	}
	return docs
}
