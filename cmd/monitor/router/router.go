// Package router configures HTTP routes for the monitor's HTTP API.
//
// The monitor exposes an HTTP server on port 8090 (configurable) that
// provides drift verdict retrieval, model lifecycle operations, retraining
// control, health checks, and Prometheus metrics.
//
// Routes configured:
//   - GET  /drift/latest - Latest evaluation (verdicts plus decision)
//   - GET  /drift/history?limit=<n> - Recent evaluations, newest first
//   - GET  /models - All model versions, newest first
//   - GET  /models/current - The current production version
//   - POST /models/promote - Promote a staged version {"id": "..."}
//   - POST /models/reject - Reject a staged version {"id": "...", "reason": "..."}
//   - POST /models/rollback - Restore an archived version {"id": "..."}
//   - POST /retrain - Start a manual retraining run {"reason": "..."}
//   - GET  /jobs - Retraining jobs, newest first
//   - GET  /jobs/history?limit=<n> - Persisted finished jobs, newest first
//   - POST /jobs/cancel - Cancel a running job {"id": "...", "reason": "..."}
//   - GET  /healthz - Health check endpoint (returns 200 OK)
//   - GET  /metrics - Prometheus metrics endpoint
package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelops/driftwatch/pkg/httpx"
	"github.com/modelops/driftwatch/pkg/registry"
	"github.com/modelops/driftwatch/pkg/retrain"
)

// Deps bundles what the handlers need.
type Deps struct {
	Registry    *registry.Registry
	Store       registry.Store
	Coordinator *retrain.Coordinator

	// Trigger starts a manual retraining run. The boolean reports whether
	// a new job was started or an in-flight one was returned.
	Trigger func(reason string) (retrain.Job, bool)

	// Interval is the evaluation loop interval. Responses from
	// /drift/latest carry a stale header when the newest evaluation is
	// older than twice this. Zero disables the marker.
	Interval time.Duration

	Logger *slog.Logger
}

const handlerTimeout = 5 * time.Second

// SetupRoutes configures HTTP endpoints for the monitor.
func SetupRoutes(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandler())
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /drift/latest", handleDriftLatest(deps))
	mux.HandleFunc("GET /drift/history", handleDriftHistory(deps))

	mux.HandleFunc("GET /models", handleListModels(deps))
	mux.HandleFunc("GET /models/current", handleCurrentModel(deps))
	mux.HandleFunc("POST /models/promote", handlePromote(deps))
	mux.HandleFunc("POST /models/reject", handleReject(deps))
	mux.HandleFunc("POST /models/rollback", handleRollback(deps))

	mux.HandleFunc("POST /retrain", handleRetrain(deps))
	mux.HandleFunc("GET /jobs", handleListJobs(deps))
	mux.HandleFunc("GET /jobs/history", handleJobHistory(deps))
	mux.HandleFunc("POST /jobs/cancel", handleCancelJob(deps))

	return mux
}

func handleDriftLatest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()

		evals, err := deps.Store.Evaluations(ctx, 1)
		if err != nil {
			deps.Logger.Error("failed to load evaluations", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if len(evals) == 0 {
			httpx.WriteErrorMessage(w, http.StatusNotFound, "no evaluations recorded yet")
			return
		}

		latest := evals[0]
		if deps.Interval > 0 && time.Since(latest.EvaluatedAt) > 2*deps.Interval {
			w.Header().Set("X-Driftwatch-Stale", "true")
		}

		if err := httpx.WriteJSON(w, http.StatusOK, latest); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleDriftHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()

		evals, err := deps.Store.Evaluations(ctx, limit)
		if err != nil {
			deps.Logger.Error("failed to load evaluations", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, map[string]any{"evaluations": evals}); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleListModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()

		versions, err := deps.Registry.List(ctx)
		if err != nil {
			deps.Logger.Error("failed to list versions", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, map[string]any{"versions": versions}); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleCurrentModel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()

		current, found, err := deps.Registry.Current(ctx)
		if err != nil {
			deps.Logger.Error("failed to load current version", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, "no version in production")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, current); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

type versionRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

func handlePromote(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req versionRequest
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if req.ID == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "id required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()

		promoted, err := deps.Registry.Promote(ctx, req.ID)
		if err != nil {
			writeLifecycleError(w, deps.Logger, err)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, promoted); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleReject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req versionRequest
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if req.ID == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "id required")
			return
		}
		if req.Reason == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "reason required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()

		rejected, err := deps.Registry.Reject(ctx, req.ID, req.Reason)
		if err != nil {
			writeLifecycleError(w, deps.Logger, err)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, rejected); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleRollback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req versionRequest
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if req.ID == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "id required")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()

		restored, err := deps.Registry.Rollback(ctx, req.ID)
		if err != nil {
			writeLifecycleError(w, deps.Logger, err)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, restored); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

type retrainRequest struct {
	Reason string `json:"reason,omitempty"`
}

func handleRetrain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retrainRequest
		if r.ContentLength != 0 {
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err)
				return
			}
		}

		job, started := deps.Trigger(req.Reason)
		status := http.StatusAccepted
		if !started {
			// An equivalent run is already in flight; report it instead.
			status = http.StatusOK
		}

		if err := httpx.WriteJSON(w, status, job); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := deps.Coordinator.Jobs()
		if err := httpx.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs}); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleJobHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()

		jobs, err := deps.Store.JobHistory(ctx, limit)
		if err != nil {
			deps.Logger.Error("failed to load job history", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs}); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

type cancelRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

func handleCancelJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}
		if req.ID == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "id required")
			return
		}

		job, err := deps.Coordinator.Cancel(req.ID, req.Reason)
		if err != nil {
			if errors.Is(err, retrain.ErrJobNotFound) {
				httpx.WriteError(w, http.StatusNotFound, err)
				return
			}
			httpx.WriteError(w, http.StatusConflict, err)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, job); err != nil {
			deps.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// writeLifecycleError maps registry errors onto HTTP statuses.
func writeLifecycleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var transErr *registry.InvalidStateTransitionError
	var gateErr *registry.GateError

	switch {
	case errors.Is(err, registry.ErrVersionNotFound):
		httpx.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, registry.ErrConcurrentPromotion):
		httpx.WriteError(w, http.StatusConflict, err)
	case errors.As(err, &transErr):
		httpx.WriteError(w, http.StatusConflict, err)
	case errors.As(err, &gateErr):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err)
	default:
		logger.Error("version lifecycle operation failed", "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
