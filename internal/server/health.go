package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/kempenbot/internal/session"
	"github.com/ashureev/kempenbot/internal/sheet"
)

// HealthHandler reports service liveness and dependency status.
type HealthHandler struct {
	gateway  sheet.Gateway
	registry *session.Registry
}

// NewHealthHandler creates a health check handler.
func NewHealthHandler(gateway sheet.Gateway, registry *session.Registry) *HealthHandler {
	return &HealthHandler{gateway: gateway, registry: registry}
}

// RegisterHealth mounts the health endpoint on the router.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.handleHealth)
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Sessions int    `json:"sessions"`
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Sessions: h.registry.Len(),
	}
	status := http.StatusOK
	if err := h.gateway.Ping(ctx); err != nil {
		slog.Warn("Health check: database unreachable", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("Failed to write health response", "error", err)
	}
}
