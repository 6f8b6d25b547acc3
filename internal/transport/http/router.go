// Package httptransport exposes the pipeline stages over an authenticated
// JSON API so any external scheduler can drive the engine.
package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courseflow/internal/platform/middleware"
	dErrors "courseflow/pkg/errors"
)

// HealthFunc reports readiness of a backing dependency.
type HealthFunc func(ctx context.Context) error

// NewRouter wires the API. Health and metrics stay unauthenticated; every
// stage trigger sits behind the JWT middleware.
func NewRouter(h *Handler, validator middleware.TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Logger(h.logger))

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, h.logger))
		r.Post("/sources/{source}/extract", h.HandleExtract)
		r.Post("/sources/{source}/run", h.HandleRun)
		r.Post("/transform/{kind}", h.HandleTransform)
		r.Post("/aggregate", h.HandleAggregate)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	writeJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": err.Error(),
	})
}
