package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

func newTestCompleter(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAI(Options{
		APIKey:      "sk-test",
		BaseURL:     srv.URL + "/v1/",
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewOpenAI_Validation(t *testing.T) {
	_, err := NewOpenAI(Options{Model: "gpt-4o-mini"})
	assert.Error(t, err)

	_, err = NewOpenAI(Options{APIKey: "sk"})
	assert.Error(t, err)
}

func TestComplete(t *testing.T) {
	var got openai.ChatCompletionRequest
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: "assistant", Content: "1. Betrag klären"},
			}},
		})
	})

	reply, err := c.Complete(context.Background(), "Du bist die KI.", []domain.Turn{
		{Role: domain.RoleUser, Content: "Ich brauche einen Kredit"},
		{Role: domain.RoleAssistant, Content: "Wie viel?"},
		{Role: domain.RoleUser, Content: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "1. Betrag klären", reply)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 0.001)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "Du bist die KI.", got.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, got.Messages[2].Role)
	assert.Equal(t, "", got.Messages[3].Content)
}

func TestComplete_EmptyChoices(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := c.Complete(context.Background(), "", []domain.Turn{{Role: domain.RoleUser, Content: "Hallo"}})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestComplete_UpstreamError(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key","type":"invalid_request_error"}}`))
	})

	_, err := c.Complete(context.Background(), "", []domain.Turn{{Role: domain.RoleUser, Content: "Hallo"}})
	require.Error(t, err)

	var apiErr *openai.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func writeStream(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		chunk := openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: d},
			}},
		}
		raw, _ := json.Marshal(chunk)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", raw)
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestStream(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, _ *http.Request) {
		writeStream(w, "1. ", "Betrag ", "klären")
	})

	var deltas []string
	reply, err := c.Stream(context.Background(), "prompt", []domain.Turn{{Role: domain.RoleUser, Content: "Hi"}},
		func(d string) error {
			deltas = append(deltas, d)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "1. Betrag klären", reply)
	assert.Equal(t, []string{"1. ", "Betrag ", "klären"}, deltas)
}

func TestStream_CallbackAborts(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, _ *http.Request) {
		writeStream(w, "a", "b", "c")
	})

	stop := errors.New("client gone")
	reply, err := c.Stream(context.Background(), "", []domain.Turn{{Role: domain.RoleUser, Content: "Hi"}},
		func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "a", reply)
}

func TestStream_Empty(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, _ *http.Request) {
		writeStream(w)
	})

	_, err := c.Stream(context.Background(), "", []domain.Turn{{Role: domain.RoleUser, Content: "Hi"}}, nil)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}
