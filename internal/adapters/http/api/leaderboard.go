package api

import (
	"errors"
	"net/http"

	"github.com/velora/criterium/internal/app"
)

// LeaderboardHandler serves week and season leaderboard reads.
type LeaderboardHandler struct {
	deps Dependencies
}

// NewLeaderboardHandler creates a leaderboard handler.
func NewLeaderboardHandler(deps Dependencies) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps}
}

// HandleWeek handles GET /leaderboard/week/{id}.
func (h *LeaderboardHandler) HandleWeek(w http.ResponseWriter, r *http.Request) {
	const op = "api.leaderboard_week"

	weekID := r.PathValue("id")
	if weekID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	lb, err := h.deps.WeekLeaderboard(r.Context(), weekID)
	if err != nil {
		if errors.Is(err, app.ErrUnknownID) {
			writeError(w, http.StatusNotFound, "unknown_week", Wrap(op, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

// HandleSeason handles GET /leaderboard/season/{id}.
func (h *LeaderboardHandler) HandleSeason(w http.ResponseWriter, r *http.Request) {
	const op = "api.leaderboard_season"

	seasonID := r.PathValue("id")
	if seasonID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	lb, err := h.deps.SeasonLeaderboard(r.Context(), seasonID)
	if err != nil {
		if errors.Is(err, app.ErrUnknownID) {
			writeError(w, http.StatusNotFound, "unknown_season", Wrap(op, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, lb)
}
