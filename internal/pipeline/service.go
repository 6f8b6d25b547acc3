// Package pipeline wires fetch, landing, staging, and mart into externally
// triggerable stages and a per-source run that orders them by dependency.
package pipeline

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"courseflow/internal/audit"
	"courseflow/internal/entity"
	"courseflow/internal/fetch"
	"courseflow/internal/landing"
	"courseflow/internal/mart"
	"courseflow/internal/platform/metrics"
	"courseflow/internal/source"
	"courseflow/internal/staging"
	dErrors "courseflow/pkg/errors"
)

// Service exposes the four pipeline stages. Each stage is independently
// invocable; Run chains them for one source in dependency order.
type Service struct {
	sources []source.Config
	clients map[string]*fetch.Client

	db      *sql.DB
	landing *landing.Store
	staging *staging.Engine
	mart    *mart.Builder
	auditor *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	workers int
}

type Option func(*Service)

func WithAudit(p *audit.Publisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithFanoutWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// New builds the pipeline service. One fetch client is created per source so
// concurrent stages share that source's pacer and breaker, and sources never
// cross-throttle.
func New(
	sources []source.Config,
	db *sql.DB,
	landingStore *landing.Store,
	stagingEngine *staging.Engine,
	martBuilder *mart.Builder,
	logger *slog.Logger,
	opts ...Option,
) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		sources: sources,
		clients: make(map[string]*fetch.Client, len(sources)),
		db:      db,
		landing: landingStore,
		staging: stagingEngine,
		mart:    martBuilder,
		logger:  logger,
		tracer:  otel.Tracer("courseflow/pipeline"),
		workers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, cfg := range sources {
		client, err := fetch.NewClient(cfg,
			fetch.WithLogger(logger.With("source", cfg.ID)),
			fetch.WithMetrics(s.metrics),
		)
		if err != nil {
			return nil, err
		}
		s.clients[cfg.ID] = client
	}
	return s, nil
}

// Client returns the fetch client for a source.
func (s *Service) Client(sourceID string) (*fetch.Client, error) {
	client, ok := s.clients[sourceID]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown source %q", sourceID)
	}
	return client, nil
}

// Sources lists the configured source IDs.
func (s *Service) Sources() []string {
	ids := make([]string, 0, len(s.sources))
	for _, cfg := range s.sources {
		ids = append(ids, cfg.ID)
	}
	return ids
}

// Extract fetches one entity kind from a source. Course-scoped kinds fan
// out over the staged course list, completions over staged enrolments, so
// the stage stays invocable on its own between runs.
func (s *Service) Extract(ctx context.Context, runID, sourceID string, kind entity.Kind) ([]entity.Document, error) {
	client, err := s.Client(sourceID)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "pipeline.extract", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("source.id", sourceID),
		attribute.String("entity.kind", string(kind)),
	))
	defer span.End()
	start := time.Now()

	docs, err := s.extract(ctx, client, sourceID, kind)
	s.metrics.ObserveStage("extract", time.Since(start))
	s.publishAudit(ctx, runID, sourceID, "extract", string(kind), len(docs), start, err)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.DocumentsFetched.WithLabelValues(sourceID, string(kind)).Add(float64(len(docs)))
	}
	return docs, nil
}

func (s *Service) extract(ctx context.Context, client *fetch.Client, sourceID string, kind entity.Kind) ([]entity.Document, error) {
	switch kind {
	case entity.KindUser:
		return client.Users(ctx)
	case entity.KindCourse:
		return client.Courses(ctx)
	case entity.KindRole:
		return client.Roles(ctx)
	case entity.KindEnrolment, entity.KindEnrolmentMethod:
		courseIDs, err := s.stagedCourseIDs(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		return s.extractForCourses(ctx, client, kind, courseIDs)
	case entity.KindGradeItem, entity.KindGrade:
		courseIDs, err := s.stagedCourseIDs(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		items, grades, err := s.extractGradeReports(ctx, client, courseIDs)
		if err != nil {
			return nil, err
		}
		if kind == entity.KindGradeItem {
			return items, nil
		}
		return grades, nil
	case entity.KindCompletion:
		pairs, err := s.stagedEnrolmentPairs(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		return s.extractCompletions(ctx, client, pairs)
	default:
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown entity kind %q", kind)
	}
}

// Land appends extracted documents to the raw log.
func (s *Service) Land(ctx context.Context, runID, sourceID string, kind entity.Kind, docs []entity.Document) (landing.Result, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.land", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("source.id", sourceID),
		attribute.String("entity.kind", string(kind)),
	))
	defer span.End()
	start := time.Now()

	records, invalid, err := landing.Prepare(sourceID, kind, docs, s.logger)
	if err != nil {
		s.publishAudit(ctx, runID, sourceID, "land", string(kind), 0, start, err)
		return landing.Result{}, err
	}

	result, err := s.landing.Append(ctx, records)
	result.Invalid = invalid
	s.metrics.ObserveStage("land", time.Since(start))
	s.publishAudit(ctx, runID, sourceID, "land", string(kind), result.Landed, start, err)
	return result, err
}

// Transform projects the latest raw state of one kind into staging.
func (s *Service) Transform(ctx context.Context, runID string, kind entity.Kind) (staging.Result, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.transform", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("entity.kind", string(kind)),
	))
	defer span.End()
	start := time.Now()

	result, err := s.staging.Transform(ctx, kind)
	s.metrics.ObserveStage("transform", time.Since(start))
	s.publishAudit(ctx, runID, "", "transform", string(kind), result.Upserted, start, err)
	return result, err
}

// Aggregate rebuilds the mart from staging.
func (s *Service) Aggregate(ctx context.Context, runID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.aggregate", trace.WithAttributes(
		attribute.String("run.id", runID),
	))
	defer span.End()
	start := time.Now()

	rows, err := s.mart.Rebuild(ctx)
	s.metrics.ObserveStage("aggregate", time.Since(start))
	s.publishAudit(ctx, runID, "", "aggregate", "", int(rows), start, err)
	return rows, err
}

// NewRunID mints the identifier carried through logs, spans, and audit
// events for one triggered operation.
func NewRunID() string {
	return uuid.NewString()
}

func (s *Service) publishAudit(ctx context.Context, runID, sourceID, stage, kind string, records int, start time.Time, err error) {
	ev := audit.Event{
		RunID:      runID,
		SourceID:   sourceID,
		Stage:      stage,
		Entity:     kind,
		Outcome:    audit.OutcomeSucceeded,
		Records:    records,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		ev.Outcome = audit.OutcomeFailed
		ev.Detail = err.Error()
	}
	s.auditor.Publish(ctx, ev)
}

func (s *Service) stagedCourseIDs(ctx context.Context, sourceID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT course_id FROM stg_courses WHERE source_id = $1 ORDER BY course_id`, sourceID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "list staged courses")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "scan course id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) stagedEnrolmentPairs(ctx context.Context, sourceID string) ([]enrolmentPair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT course_id, user_id FROM stg_enrolments WHERE source_id = $1 ORDER BY course_id, user_id`, sourceID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "list staged enrolments")
	}
	defer rows.Close()

	var pairs []enrolmentPair
	for rows.Next() {
		var p enrolmentPair
		if err := rows.Scan(&p.courseID, &p.userID); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "scan enrolment pair")
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
