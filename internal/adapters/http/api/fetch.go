package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/velora/criterium/internal/app"
)

// FetchHandler triggers batch fetch runs and streams their progress.
type FetchHandler struct {
	deps Dependencies
}

// NewFetchHandler creates a fetch handler.
func NewFetchHandler(deps Dependencies) *FetchHandler {
	return &FetchHandler{deps: deps}
}

// HandleFetch handles POST /weeks/{id}/fetch. Progress events stream as
// NDJSON, one object per line, flushed as each athlete completes, and the
// stream always ends with exactly one terminal event. A client hanging up
// does not abort in-flight processing.
func (h *FetchHandler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	const op = "api.fetch_week"

	weekID := r.PathValue("id")
	if weekID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	events, err := h.deps.RunBatchFetch(r.Context(), weekID)
	if err != nil {
		if errors.Is(err, app.ErrUnknownID) {
			writeError(w, http.StatusNotFound, "unknown_week", Wrap(op, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Caller went away; keep draining so the run finishes.
			for range events {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
