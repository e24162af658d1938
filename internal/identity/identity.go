// Package identity provides anonymous per-device visitor identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
	"github.com/cashbackfinance/advisor-chat/internal/store"
)

const (
	VisitorCookieName     = "cbf_visitor_id"
	SessionHeaderName     = "X-Chat-Session-ID"
	DefaultSessionIDValue = "default"
	visitorCookieMaxAge   = 30 * 24 * time.Hour

	// lastSeenResolution limits how often activity is written back.
	lastSeenResolution = time.Minute
)

type contextKey int

const (
	visitorIDKey contextKey = iota
	sessionIDKey
)

var (
	visitorIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// VisitorIDFromContext extracts the visitor ID from the request context.
func VisitorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(visitorIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithVisitor returns a context carrying the given identity.
func WithVisitor(ctx context.Context, visitorID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, visitorIDKey, visitorID)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func generateVisitorID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate visitor id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidVisitorID(id string) bool {
	return visitorIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func ensureVisitor(ctx context.Context, repo store.Repository, visitorID string, now time.Time) error {
	visitor, err := repo.GetVisitor(ctx, visitorID)
	if err != nil {
		return err
	}
	if visitor == nil {
		return repo.UpsertVisitor(ctx, &domain.Visitor{
			ID:         visitorID,
			LastSeenAt: now,
			CreatedAt:  now,
		})
	}
	if visitor.IdleFor(now) < lastSeenResolution {
		return nil
	}
	return repo.UpdateLastSeen(ctx, visitorID, now)
}

// visitorCookie builds the identity cookie. The chat widget is embedded on
// other sites, so production cookies are SameSite=None and Secure.
func visitorCookie(id string, isDev bool) *http.Cookie {
	c := &http.Cookie{
		Name:     VisitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(visitorCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	}
	if isDev {
		c.SameSite = http.SameSiteLaxMode
		c.Secure = false
	}
	return c
}

func getOrCreateVisitorID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(VisitorCookieName); err == nil && isValidVisitorID(c.Value) {
		http.SetCookie(w, visitorCookie(c.Value, isDev))
		return c.Value, nil
	}

	id, err := generateVisitorID()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, visitorCookie(id, isDev))
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects anonymous visitor identity and per-request session ID.
// A nil repo skips visitor bookkeeping. Bookkeeping failures are logged and
// never block the chat.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitorID, err := getOrCreateVisitorID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if repo != nil {
				if err := ensureVisitor(r.Context(), repo, visitorID, time.Now()); err != nil {
					slog.Warn("Failed to record visitor", "visitor_id", visitorID, "error", err)
				}
			}

			ctx := WithVisitor(r.Context(), visitorID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
