// Package audit publishes pipeline run events to Kafka. Publishing is
// best-effort: the pipeline never blocks or fails because the audit trail
// is unavailable, and a breaker stops it from hammering a dead broker.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"courseflow/internal/platform/circuit"
	"courseflow/internal/platform/config"
	dErrors "courseflow/pkg/errors"
)

// Event is one stage outcome in a pipeline run.
type Event struct {
	RunID      string    `json:"run_id"`
	SourceID   string    `json:"source_id,omitempty"`
	Stage      string    `json:"stage"`
	Entity     string    `json:"entity,omitempty"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	Records    int       `json:"records"`
	DurationMS int64     `json:"duration_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// Publisher writes events to the audit topic. A nil Publisher is a no-op,
// so callers never branch on whether auditing is configured.
type Publisher struct {
	client  *kgo.Client
	topic   string
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// NewPublisher connects to the configured brokers and ensures the audit
// topic exists. Returns (nil, nil) when no brokers are configured.
func NewPublisher(ctx context.Context, cfg config.Kafka, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AuditTopic),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "connect kafka brokers")
	}

	if err := ensureTopic(ctx, client, cfg.AuditTopic); err != nil {
		client.Close()
		return nil, err
	}

	return &Publisher{
		client:  client,
		topic:   cfg.AuditTopic,
		breaker: circuit.NewBreaker(5, 30*time.Second),
		logger:  logger,
	}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resps, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeConfiguration, "create audit topic")
	}
	for _, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return dErrors.Wrap(resp.Err, dErrors.CodeConfiguration, "create audit topic")
		}
	}
	return nil
}

// Publish emits one event asynchronously. Failures are logged, counted
// against the breaker, and otherwise dropped.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil {
		return
	}
	if !p.breaker.Allow() {
		p.logger.DebugContext(ctx, "audit breaker tripped, dropping event",
			"state", p.breaker.State().String(), "run_id", ev.RunID, "stage", ev.Stage)
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal audit event", "error", err)
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.RunID),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.breaker.RecordFailure()
			p.logger.Warn("audit publish failed",
				"run_id", ev.RunID, "stage", ev.Stage, "error", err.Error())
			return
		}
		p.breaker.RecordSuccess()
	})
}

// Close flushes pending events and releases the client. Nil-safe.
func (p *Publisher) Close(ctx context.Context) {
	if p == nil {
		return
	}
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("audit flush failed", "error", err.Error())
	}
	p.client.Close()
}
