package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashbackfinance/advisor-chat/internal/identity"
)

func newTestRouter(t *testing.T, svc *Service, opts HandlerOptions) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := chi.NewRouter()
	r.Use(identity.Middleware(nil, true))
	NewHandler(ctx, svc, NewSessionManager(), opts).RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const annaBody = `{"messages":[
	{"role":"user","content":"Ich heiße Anna Schmidt, Email anna@example.com, PLZ 10115 Berlin"},
	{"role":"user","content":"Ja, bitte übermitteln"}
]}`

func TestHandleChat(t *testing.T) {
	client := &fakeCRM{}
	h := newTestRouter(t, newTestService(&fakeModel{reply: "Danke!"}, client), HandlerOptions{})

	rec := postJSON(t, h, "/chat", annaBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ChatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "assistant", string(resp.Message.Role))
	assert.Equal(t, "Danke!", resp.Message.Content)
	assert.Equal(t, 1, client.contactCount())
}

func TestHandleChat_Errors(t *testing.T) {
	tests := []struct {
		name   string
		model  *fakeModel
		body   string
		status int
		errMsg string
	}{
		{"malformed json", &fakeModel{}, `{"messages":`, http.StatusBadRequest, "invalid request body"},
		{"validation", &fakeModel{}, `{"messages":[]}`, http.StatusBadRequest, "invalid request"},
		{"model failure", &fakeModel{err: errors.New("upstream 503")}, annaBody, http.StatusInternalServerError, "model error: upstream 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, newTestService(tt.model, &fakeCRM{}), HandlerOptions{})
			rec := postJSON(t, h, "/chat", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Contains(t, body["error"], tt.errMsg)
		})
	}
}

func TestHandleChat_BodyTooLarge(t *testing.T) {
	h := newTestRouter(t, newTestService(&fakeModel{reply: "x"}, &fakeCRM{}), HandlerOptions{MaxBodySize: 32})
	rec := postJSON(t, h, "/chat", annaBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleChat_RateLimited(t *testing.T) {
	h := newTestRouter(t, newTestService(&fakeModel{reply: "x"}, &fakeCRM{}), HandlerOptions{RateLimit: 1, RateWindow: time.Hour})

	cookieReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[{"role":"user","content":"Hallo"}]}`))
		req.AddCookie(&http.Cookie{Name: identity.VisitorCookieName, Value: "anon_0123456789abcdef0123456789abcdef"})
		return req
	}

	first := httptest.NewRecorder()
	h.ServeHTTP(first, cookieReq())
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, cookieReq())
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

type sseEvent struct {
	name string
	data string
}

func readSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.name != "" {
				events = append(events, cur)
			}
			cur = sseEvent{}
		}
	}
	return events
}

func TestHandleChatStream(t *testing.T) {
	client := &fakeCRM{}
	h := newTestRouter(t, newTestService(&fakeModel{deltas: []string{"Hal", "lo"}}, client), HandlerOptions{})

	rec := postJSON(t, h, "/chat/stream", annaBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readSSE(t, rec.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, "delta", events[0].name)
	assert.JSONEq(t, `{"content":"Hal"}`, events[0].data)
	assert.Equal(t, "delta", events[1].name)
	assert.Equal(t, "done", events[2].name)
	assert.JSONEq(t, `{"message":{"role":"assistant","content":"Hallo"}}`, events[2].data)
	assert.Equal(t, 1, client.contactCount())
}

func TestHandleChatStream_ErrorBeforeOutput(t *testing.T) {
	h := newTestRouter(t, newTestService(&fakeModel{err: errors.New("boom")}, &fakeCRM{}), HandlerOptions{})

	rec := postJSON(t, h, "/chat/stream", annaBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "model error: boom")
}

func TestHandleChatStream_ErrorMidStream(t *testing.T) {
	client := &fakeCRM{}
	h := newTestRouter(t, newTestService(&fakeModel{deltas: []string{"Hal"}, err: errors.New("cut")}, client), HandlerOptions{})

	rec := postJSON(t, h, "/chat/stream", annaBody)
	assert.Equal(t, http.StatusOK, rec.Code)

	events := readSSE(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "delta", events[0].name)
	assert.Equal(t, "error", events[1].name)
	assert.Equal(t, 0, client.contactCount(), "incomplete replies do not sync")
}

func TestHandleLead(t *testing.T) {
	h := newTestRouter(t, newTestService(&fakeModel{}, &fakeCRM{}), HandlerOptions{})

	rec := postJSON(t, h, "/lead", `{"email":"anna@example.com","firstname":"Anna","context":"Rückruf"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","hubspot_contact_id":"901"}`, rec.Body.String())

	rec = postJSON(t, h, "/lead", `{"email":"kaputt"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLead_SkippedAndFailed(t *testing.T) {
	skipped := newTestRouter(t, newTestService(&fakeModel{}, &fakeCRM{disabled: true}), HandlerOptions{})
	rec := postJSON(t, skipped, "/lead", `{"email":"anna@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"skipped","detail":"No HUBSPOT_PRIVATE_APP_TOKEN set"}`, rec.Body.String())

	failed := newTestRouter(t, newTestService(&fakeModel{}, &fakeCRM{err: errors.New("401")}), HandlerOptions{})
	rec = postJSON(t, failed, "/lead", `{"email":"anna@example.com"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "HubSpot error: 401")
}

func dialChat(t *testing.T, h http.Handler) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat?session_id=tab-1", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func sendWS(t *testing.T, ctx context.Context, conn *websocket.Conn, msg wsMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func recvWS(t *testing.T, ctx context.Context, conn *websocket.Conn) wsMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg wsMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandleWebSocket_Chat(t *testing.T) {
	client := &fakeCRM{}
	h := newTestRouter(t, newTestService(&fakeModel{deltas: []string{"Gu", "ten Tag"}}, client), HandlerOptions{})
	conn, ctx := dialChat(t, h)

	sendWS(t, ctx, conn, wsMessage{Type: "ping"})
	assert.Equal(t, "pong", recvWS(t, ctx, conn).Type)

	chat := wsMessage{Type: "chat", LeadOptIn: true}
	require.NoError(t, json.Unmarshal([]byte(annaBody), &chat))
	sendWS(t, ctx, conn, chat)

	first := recvWS(t, ctx, conn)
	assert.Equal(t, wsMessage{Type: "delta", Content: "Gu"}, first)
	second := recvWS(t, ctx, conn)
	assert.Equal(t, "ten Tag", second.Content)
	done := recvWS(t, ctx, conn)
	assert.Equal(t, wsMessage{Type: "done", Content: "Guten Tag"}, done)
	assert.Equal(t, 1, client.contactCount())
}

func TestHandleWebSocket_Errors(t *testing.T) {
	h := newTestRouter(t, newTestService(&fakeModel{reply: "x"}, &fakeCRM{}), HandlerOptions{})
	conn, ctx := dialChat(t, h)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))
	assert.Equal(t, wsMessage{Type: "error", Error: "invalid message"}, recvWS(t, ctx, conn))

	sendWS(t, ctx, conn, wsMessage{Type: "dance"})
	msg := recvWS(t, ctx, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "dance")

	sendWS(t, ctx, conn, wsMessage{Type: "chat"})
	msg = recvWS(t, ctx, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "invalid request")
}

func TestCheckOrigin(t *testing.T) {
	h := &Handler{allowedOrigins: []string{"https://www.cashback-finance.de"}}

	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	assert.True(t, h.checkOrigin(req), "missing origin is allowed")

	req.Header.Set("Origin", "https://www.cashback-finance.de")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))

	h.isDev = true
	assert.True(t, h.checkOrigin(req))
}
