package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"courseflow/internal/entity"
	"courseflow/internal/landing"
	"courseflow/internal/pipeline"
	"courseflow/internal/staging"
	dErrors "courseflow/pkg/errors"
)

// Pipeline is the slice of the pipeline service the API needs.
type Pipeline interface {
	Extract(ctx context.Context, runID, sourceID string, kind entity.Kind) ([]entity.Document, error)
	Land(ctx context.Context, runID, sourceID string, kind entity.Kind, docs []entity.Document) (landing.Result, error)
	Transform(ctx context.Context, runID string, kind entity.Kind) (staging.Result, error)
	Aggregate(ctx context.Context, runID string) (int64, error)
	Run(ctx context.Context, sourceID string) (*pipeline.Report, error)
}

// Handler wires stage endpoints to the pipeline service.
type Handler struct {
	pipeline Pipeline
	health   []HealthFunc
	logger   *slog.Logger
}

func NewHandler(p Pipeline, logger *slog.Logger, health ...HealthFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{pipeline: p, health: health, logger: logger}
}

type extractRequest struct {
	Kind string `json:"kind"`
}

type extractResponse struct {
	RunID   string `json:"run_id"`
	Source  string `json:"source"`
	Kind    string `json:"kind"`
	Fetched int    `json:"fetched"`
	Landed  int    `json:"landed"`
	Deduped int    `json:"deduped"`
	Invalid int    `json:"invalid"`
}

// HandleExtract handles POST /v1/sources/{source}/extract: one fetch plus
// landing for a single entity kind.
func (h *Handler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sourceID := chi.URLParam(r, "source")

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	kind, err := entity.Parse(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}

	runID := pipeline.NewRunID()
	docs, err := h.pipeline.Extract(ctx, runID, sourceID, kind)
	if err != nil {
		h.logger.ErrorContext(ctx, "extract failed",
			"run_id", runID, "source", sourceID, "entity", string(kind), "error", err.Error())
		writeError(w, err)
		return
	}

	result, err := h.pipeline.Land(ctx, runID, sourceID, kind, docs)
	if err != nil {
		h.logger.ErrorContext(ctx, "landing failed",
			"run_id", runID, "source", sourceID, "entity", string(kind), "error", err.Error())
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{
		RunID:   runID,
		Source:  sourceID,
		Kind:    string(kind),
		Fetched: len(docs),
		Landed:  result.Landed,
		Deduped: result.Deduped,
		Invalid: result.Invalid,
	})
}

type runResponse struct {
	RunID    string         `json:"run_id"`
	Source   string         `json:"source"`
	MartRows int64          `json:"mart_rows"`
	Landed   map[string]int `json:"landed"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// HandleRun handles POST /v1/sources/{source}/run: the full pipeline for
// one source. Partial failures come back with 207 so the scheduler can
// retry selectively.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sourceID := chi.URLParam(r, "source")

	report, err := h.pipeline.Run(ctx, sourceID)
	if err != nil {
		h.logger.ErrorContext(ctx, "pipeline run failed", "source", sourceID, "error", err.Error())
		writeError(w, err)
		return
	}

	resp := runResponse{
		RunID:    report.RunID,
		Source:   report.SourceID,
		MartRows: report.MartRows,
		Landed:   make(map[string]int, len(report.Landed)),
	}
	for kind, res := range report.Landed {
		resp.Landed[string(kind)] = res.Landed
	}
	status := http.StatusOK
	if report.Failed() {
		status = http.StatusMultiStatus
		resp.Errors = make(map[string]string, len(report.Errors))
		for kind, kindErr := range report.Errors {
			resp.Errors[string(kind)] = kindErr.Error()
		}
	}
	writeJSON(w, status, resp)
}

type transformResponse struct {
	RunID    string `json:"run_id"`
	Kind     string `json:"kind"`
	Upserted int    `json:"upserted"`
	Skipped  int    `json:"skipped"`
}

// HandleTransform handles POST /v1/transform/{kind}.
func (h *Handler) HandleTransform(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	kind, err := entity.Parse(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, err)
		return
	}

	runID := pipeline.NewRunID()
	result, err := h.pipeline.Transform(ctx, runID, kind)
	if err != nil {
		h.logger.ErrorContext(ctx, "transform failed",
			"run_id", runID, "entity", string(kind), "error", err.Error())
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transformResponse{
		RunID:    runID,
		Kind:     string(kind),
		Upserted: result.Upserted,
		Skipped:  result.Skipped,
	})
}

type aggregateResponse struct {
	RunID string `json:"run_id"`
	Rows  int64  `json:"rows"`
}

// HandleAggregate handles POST /v1/aggregate.
func (h *Handler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	runID := pipeline.NewRunID()
	rows, err := h.pipeline.Aggregate(ctx, runID)
	if err != nil {
		h.logger.ErrorContext(ctx, "aggregate failed", "run_id", runID, "error", err.Error())
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, aggregateResponse{RunID: runID, Rows: rows})
}

// HandleHealth handles GET /healthz, probing every registered dependency.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	for _, probe := range h.health {
		if err := probe(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
