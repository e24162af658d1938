// Package llm wraps the chat-completion model used to answer visitors.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cashbackfinance/advisor-chat/internal/domain"
)

// ErrEmptyCompletion is returned when the model answers without any choice.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Completer produces the assistant reply for a conversation.
type Completer interface {
	// Complete returns the full reply.
	Complete(ctx context.Context, systemPrompt string, turns []domain.Turn) (string, error)

	// Stream calls onDelta for every content fragment and returns the
	// concatenated reply. A non-nil error from onDelta aborts the stream.
	Stream(ctx context.Context, systemPrompt string, turns []domain.Turn, onDelta func(string) error) (string, error)
}

// Options configures the OpenAI completer.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// OpenAI implements Completer with the OpenAI chat-completions API or any
// compatible endpoint reachable through BaseURL.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewOpenAI creates a completer.
func NewOpenAI(opts Options) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("llm: api key is required")
	}
	if opts.Model == "" {
		return nil, errors.New("llm: model is required")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{}

	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
	}, nil
}

// Model returns the configured model name.
func (c *OpenAI) Model() string {
	return c.model
}

// Complete returns the full reply of the model.
func (c *OpenAI) Complete(ctx context.Context, systemPrompt string, turns []domain.Turn) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, c.request(systemPrompt, turns, false))
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream streams the reply of the model.
func (c *OpenAI) Stream(ctx context.Context, systemPrompt string, turns []domain.Turn, onDelta func(string) error) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(systemPrompt, turns, true))
	if err != nil {
		return "", fmt.Errorf("create chat completion stream: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	received := false
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reply.String(), fmt.Errorf("receive completion chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		received = true
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return reply.String(), err
			}
		}
	}
	if !received {
		return "", ErrEmptyCompletion
	}
	return reply.String(), nil
}

func (c *OpenAI) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *OpenAI) request(systemPrompt string, turns []domain.Turn, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toMessages(systemPrompt, turns),
		Temperature: c.temperature,
		Stream:      stream,
	}
}

// toMessages prepends the system prompt and maps roles one to one. Empty
// turns are kept as empty strings.
func toMessages(systemPrompt string, turns []domain.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    roleName(t.Role),
			Content: t.Content,
		})
	}
	return msgs
}

func roleName(r domain.Role) string {
	switch r {
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case domain.RoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}
