package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/goerr/v2"
)

const defaultRunListLimit = 20

// RunsHandler serves the read API over persisted workflow runs.
type RunsHandler struct {
	store interfaces.RunStore
}

// NewRunsHandler creates a new RunsHandler
func NewRunsHandler(store interfaces.RunStore) *RunsHandler {
	return &RunsHandler{store: store}
}

// List returns the most recent runs, newest first. The `limit` query
// parameter caps the result (default 20).
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultRunListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, goerr.New("limit must be a positive integer"), http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.store.List(ctx, limit)
	if err != nil {
		ctxlog.From(ctx).Error("Failed to list runs", "error", err)
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Get returns one run by ID.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	run, err := h.store.Get(ctx, id)
	if err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, run)
}
