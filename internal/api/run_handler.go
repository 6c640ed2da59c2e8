package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/prism-api/internal/api/shared"
	"github.com/phrazzld/prism-api/internal/coordinator"
	"github.com/phrazzld/prism-api/internal/platform/logger"
)

// Runner is the part of the coordinator the HTTP layer uses.
type Runner interface {
	Run(ctx context.Context, input string, opts coordinator.RunOptions) (*coordinator.Result, error)
	RunQueued(ctx context.Context, input string, opts coordinator.RunOptions) (*coordinator.Result, error)
	RunWorker(ctx context.Context, name, input string, opts coordinator.RunOptions) (*coordinator.WorkerRun, error)
	Compare(ctx context.Context, a, b string) (*coordinator.ComparisonResult, error)
	Stats() coordinator.Stats
}

// RunHandler handles run-related HTTP requests.
type RunHandler struct {
	runner Runner
	stream *EventStream
	logger *slog.Logger
}

// NewRunHandler creates a RunHandler. stream may be nil.
func NewRunHandler(runner Runner, stream *EventStream, logger *slog.Logger) *RunHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunHandler{
		runner: runner,
		stream: stream,
		logger: logger.With("component", "run_handler"),
	}
}

// decode reads and validates a request body, writing the error response
// itself when it fails.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := shared.DecodeJSON(r, v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}

// CreateRun handles POST /api/runs.
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.runner.Run(r.Context(), req.Input, req.Options())
	if err != nil {
		HandleAPIError(w, r, err, "Run failed")
		return
	}

	logger.FromContext(r.Context()).Debug("run served",
		"run_id", res.RunID,
		"worker_count", res.WorkerCount)
	shared.RespondWithJSON(w, r, http.StatusOK, res)
}

// CreateQueuedRun handles POST /api/runs/queued.
func (h *RunHandler) CreateQueuedRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.runner.RunQueued(r.Context(), req.Input, req.Options())
	if err != nil {
		HandleAPIError(w, r, err, "Queued run failed")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, res)
}

// RunWorker handles POST /api/workers/{name}.
func (h *RunHandler) RunWorker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Worker name is required")
		return
	}

	var req WorkerRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.runner.RunWorker(r.Context(), name, req.Input, req.Options())
	if err != nil {
		HandleAPIError(w, r, err, "Worker call failed")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, res)
}

// Compare handles POST /api/compare.
func (h *RunHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.runner.Compare(r.Context(), req.InputA, req.InputB)
	if err != nil {
		HandleAPIError(w, r, err, "Comparison failed")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, res)
}

// Stats handles GET /api/stats.
func (h *RunHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Coordinator: h.runner.Stats()}
	if h.stream != nil {
		resp.Clients = h.stream.ClientCount()
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
