// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Dan-Hightower/hirebot/internal/domain/dedupe"
	"github.com/Dan-Hightower/hirebot/internal/domain/model"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	dedupe.Deduper

	// Enqueue pushes a job for async processing. Returns false on backpressure.
	Enqueue(ctx context.Context, job model.Job) bool
}

// Config configures the Slack ingress.
type Config struct {
	SigningSecret string
	// Command is the slash command accepted, e.g. "/hire".
	Command string
}

// Server wires HTTP routes for the bot.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	slackHandler  *SlackHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(cfg Config, deps Dependencies, statsProvider StatsProvider, log logger.Logger) *Server {
	if log == nil {
		log = logger.Get().Named("http")
	}
	return &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		slackHandler:  NewSlackHandler(cfg, deps, log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/health", MetricsMiddleware(s.healthHandler.HandleHealth, "health"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/slack/commands", MetricsMiddleware(s.slackHandler.HandleCommand, "slack_commands"))
	mux.HandleFunc("/slack/interactions", MetricsMiddleware(s.slackHandler.HandleInteraction, "slack_interactions"))
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
