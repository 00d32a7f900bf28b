// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/internal/domain/types"
	"github.com/velora/criterium/internal/orchestrator"
	"github.com/velora/criterium/pkg/metrics"
)

// Dependencies required by the HTTP handlers. An interface bundle keeps the
// handler layer loosely coupled to the service implementation.
type Dependencies interface {
	// Webhook intake
	SeenAndRecord(ctx context.Context, id string) bool
	Unrecord(ctx context.Context, id string)
	EnqueueWebhook(ctx context.Context, ev model.WebhookEvent) bool

	// Batch fetch
	RunBatchFetch(ctx context.Context, weekID string) (<-chan orchestrator.Event, error)

	// Leaderboard reads
	WeekLeaderboard(ctx context.Context, weekID string) (types.WeekLeaderboard, error)
	SeasonLeaderboard(ctx context.Context, seasonID string) (types.SeasonLeaderboard, error)

	// Monitoring
	Stats(ctx context.Context) map[string]any
}

// Server wires HTTP routes for the business API.
type Server struct {
	webhookHandler     *WebhookHandler
	fetchHandler       *FetchHandler
	leaderboardHandler *LeaderboardHandler
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
}

// NewServer creates an API server with all handlers.
func NewServer(deps Dependencies, verifyToken string) *Server {
	return &Server{
		webhookHandler:     NewWebhookHandler(deps, verifyToken),
		fetchHandler:       NewFetchHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps),
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /webhook", MetricsMiddleware(s.webhookHandler.HandleVerify, "webhook_verify"))
	mux.HandleFunc("POST /webhook", MetricsMiddleware(s.webhookHandler.HandleEvent, "webhook"))
	mux.HandleFunc("POST /weeks/{id}/fetch", MetricsMiddleware(s.fetchHandler.HandleFetch, "fetch"))
	mux.HandleFunc("GET /leaderboard/week/{id}", MetricsMiddleware(s.leaderboardHandler.HandleWeek, "leaderboard_week"))
	mux.HandleFunc("GET /leaderboard/season/{id}", MetricsMiddleware(s.leaderboardHandler.HandleSeason, "leaderboard_season"))
	mux.Handle("GET /metrics", metrics.Handler())
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
