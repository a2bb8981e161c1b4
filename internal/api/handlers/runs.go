package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wonny/settle/internal/archive"
	"github.com/wonny/settle/pkg/logger"
)

// RunsHandler serves archived settlement runs
type RunsHandler struct {
	repo   *archive.RunRepository
	logger *logger.Logger
}

// NewRunsHandler creates a new runs handler. The repository may be nil
// when the archive is disabled; endpoints then answer 503.
func NewRunsHandler(repo *archive.RunRepository, log *logger.Logger) *RunsHandler {
	return &RunsHandler{repo: repo, logger: log}
}

// List returns recent runs, newest first
// GET /api/runs?source_id=...&limit=...
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		respondError(w, http.StatusServiceUnavailable, "Archive is not configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(w, http.StatusBadRequest, "Invalid limit (1-500)")
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), r.URL.Query().Get("source_id"), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list runs")
		respondError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

// Get returns one archived run with its full result object
// GET /api/runs/{id}
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		respondError(w, http.StatusServiceUnavailable, "Archive is not configured")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run id")
		return
	}

	run, err := h.repo.GetRun(r.Context(), id)
	if errors.Is(err, archive.ErrRunNotFound) {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get run")
		respondError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	respondJSON(w, http.StatusOK, run)
}
