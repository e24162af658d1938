package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
	"github.com/cashbackfinance/advisor-chat/internal/store"
)

// AdminHandler exposes the lead-sync audit trail to operators.
type AdminHandler struct {
	repo  store.Repository
	token string
}

// NewAdminHandler creates an admin handler guarded by a static bearer token.
func NewAdminHandler(repo store.Repository, token string) *AdminHandler {
	return &AdminHandler{repo: repo, token: token}
}

// RegisterRoutes registers the admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.requireToken)
		r.Get("/lead-syncs", h.ListLeadSyncs)
	})
}

func (h *AdminHandler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if h.token == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListLeadSyncs handles GET /api/admin/lead-syncs?limit=N.
func (h *AdminHandler) ListLeadSyncs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	syncs, err := h.repo.RecentSyncs(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list lead syncs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list lead syncs")
		return
	}
	if syncs == nil {
		syncs = []*domain.LeadSync{}
	}
	counts, err := h.repo.CountSyncsByStatus(r.Context())
	if err != nil {
		slog.Error("Failed to count lead syncs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to count lead syncs")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"syncs":  syncs,
		"counts": counts,
	})
}
