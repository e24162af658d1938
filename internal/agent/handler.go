package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cashbackfinance/advisor-chat/internal/api"
	"github.com/cashbackfinance/advisor-chat/internal/identity"
	"github.com/cashbackfinance/advisor-chat/internal/metrics"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerOptions configures the chat HTTP surface.
type HandlerOptions struct {
	RateLimit      int
	RateWindow     time.Duration
	MaxBodySize    int64
	AllowedOrigins []string
	IsDev          bool
}

// Handler serves the chat, lead and websocket endpoints.
type Handler struct {
	svc            *Service
	sessions       *SessionManager
	rateLimiter    *RateLimiter
	maxBodySize    int64
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates the chat handler. The rate limiter's background
// eviction stops when ctx is done.
func NewHandler(ctx context.Context, svc *Service, sessions *SessionManager, opts HandlerOptions) *Handler {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxRequestBodySize
	}
	if sessions == nil {
		sessions = NewSessionManager()
	}
	return &Handler{
		svc:            svc,
		sessions:       sessions,
		rateLimiter:    NewRateLimiter(ctx, opts.RateLimit, opts.RateWindow),
		maxBodySize:    opts.MaxBodySize,
		allowedOrigins: opts.AllowedOrigins,
		isDev:          opts.IsDev,
	}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Post("/chat/stream", h.HandleChatStream)
	r.Post("/lead", h.HandleLead)
	r.Get("/ws/chat", h.HandleWebSocket)
}

// allowTurn applies the per-visitor limit and answers 429 with Retry-After
// when the visitor is over it.
func (h *Handler) allowTurn(w http.ResponseWriter, r *http.Request) bool {
	ok, retryAfter := h.rateLimiter.Allow(rateKey(r))
	if ok {
		return true
	}
	metrics.RateLimitedTotal.WithLabelValues("http").Inc()
	w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
	api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func retrySeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func rateKey(r *http.Request) string {
	if id := identity.VisitorIDFromContext(r.Context()); id != "" {
		return id
	}
	return identity.IPFromRequest(r)
}

// decodeBody reads a size-limited JSON body and writes the error response
// itself when decoding fails.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		api.Error(w, http.StatusBadRequest, err.Error())
	default:
		api.Error(w, http.StatusInternalServerError, err.Error())
	}
}

// HandleChat handles POST /chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.allowTurn(w, r) {
		return
	}

	var req ChatRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	req.VisitorID = visitorID
	req.SessionID = sessionID

	slog.Info("Chat request",
		"visitor_id", visitorID,
		"session_id", sessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"turns", len(req.Messages),
		"lead_opt_in", req.LeadOptIn,
	)

	resp, err := h.svc.Chat(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrModel) {
			slog.Error("Chat model call failed", "visitor_id", visitorID, "error", err)
		}
		writeServiceError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleChatStream handles POST /chat/stream. The reply is sent as
// server-sent events: "delta" per fragment, then "done" with the full
// message, or "error".
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.allowTurn(w, r) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	var req ChatRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	req.VisitorID = visitorID
	req.SessionID = sessionID

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	// Headers are sent with the first event so that failures before any
	// output still get a plain JSON status.
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	resp, err := h.svc.ChatStream(r.Context(), req, func(delta string) error {
		start()
		data, err := json.Marshal(map[string]string{"content": delta})
		if err != nil {
			return err
		}
		if err := writeSSE(w, "delta", string(data)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrModel) {
			slog.Error("Chat stream failed", "visitor_id", visitorID, "error", err)
		}
		if !started {
			writeServiceError(w, err)
			return
		}
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		if writeErr := writeSSE(w, "error", string(data)); writeErr != nil {
			slog.Debug("failed to write SSE error event", "error", writeErr)
			return
		}
		flusher.Flush()
		return
	}

	start()
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("failed to marshal chat response", "error", err)
		return
	}
	if err := writeSSE(w, "done", string(data)); err != nil {
		slog.Debug("failed to write SSE done event", "error", err)
		return
	}
	flusher.Flush()
}

// HandleLead handles POST /lead.
func (h *Handler) HandleLead(w http.ResponseWriter, r *http.Request) {
	if !h.allowTurn(w, r) {
		return
	}

	var req LeadRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	req.VisitorID = identity.VisitorIDFromContext(r.Context())
	req.SessionID = identity.SessionIDFromContext(r.Context())

	resp, err := h.svc.SubmitLead(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// HandleWebSocket handles GET /ws/chat. Each "chat" message carries the
// full conversation and is answered with streamed "delta" messages and a
// final "done".
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		api.Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "visitor_id", visitorID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "visitor_id", visitorID)
		}
	}()
	ws.SetReadLimit(h.maxBodySize)

	h.sessions.Register(visitorID, sessionID, ws)
	defer h.sessions.Unregister(visitorID, sessionID, ws)

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.readLoop(ctx, ws, rateKey(r), visitorID, sessionID)
	slog.Info("Chat session ended", "visitor_id", visitorID, "session_id", sessionID)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, key, visitorID, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				slog.Debug("WebSocket closed", "visitor_id", visitorID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "visitor_id", visitorID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := writeWS(ctx, ws, wsMessage{Type: "error", Error: "invalid message"}); err != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "ping":
			if err := writeWS(ctx, ws, wsMessage{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		case "chat":
			if ok, retryAfter := h.rateLimiter.Allow(key); !ok {
				metrics.RateLimitedTotal.WithLabelValues("websocket").Inc()
				msg := fmt.Sprintf("rate limit exceeded, retry in %ds", retrySeconds(retryAfter))
				if err := writeWS(ctx, ws, wsMessage{Type: "error", Error: msg}); err != nil {
					return
				}
				continue
			}
			req := ChatRequest{
				Messages:  msg.Messages,
				LeadOptIn: msg.LeadOptIn,
				Email:     msg.Email,
				VisitorID: visitorID,
				SessionID: sessionID,
			}
			resp, err := h.svc.ChatStream(ctx, req, func(delta string) error {
				return writeWS(ctx, ws, wsMessage{Type: "delta", Content: delta})
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("WebSocket chat failed", "visitor_id", visitorID, "error", err)
				if err := writeWS(ctx, ws, wsMessage{Type: "error", Error: err.Error()}); err != nil {
					return
				}
				continue
			}
			if err := writeWS(ctx, ws, wsMessage{Type: "done", Content: resp.Message.Content}); err != nil {
				return
			}
		default:
			if err := writeWS(ctx, ws, wsMessage{Type: "error", Error: fmt.Sprintf("unknown message type %q", msg.Type)}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func writeWS(ctx context.Context, ws *websocket.Conn, msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
