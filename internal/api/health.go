package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger is a dependency whose reachability is reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db         Pinger
	crmEnabled bool
	timeout    time.Duration
}

// NewHealthHandler creates a health handler. db may be nil when the audit
// store is not configured.
func NewHealthHandler(db Pinger, crmEnabled bool) *HealthHandler {
	return &HealthHandler{db: db, crmEnabled: crmEnabled, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies.
// A missing CRM token is reported but does not degrade health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "crm": "disabled"}
	if h.crmEnabled {
		checks["crm"] = "enabled"
	}
	status := map[string]interface{}{
		"status": "ok",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			status["status"] = "degraded"
			checks["database"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
