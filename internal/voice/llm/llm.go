// Package llm generates agent replies from conversation history.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// Role of a history entry. Mirrors conversation roles without importing them.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one prior utterance, oldest first.
type Message struct {
	Role    Role
	Content string
}

// Params carry the per-agent generation settings.
type Params struct {
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Responder produces the agent's next utterance. The last history entry is
// the caller's newest message.
type Responder interface {
	Respond(ctx context.Context, history []Message, p Params) (string, error)
}

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("llm returned an empty reply")

// LangChainResponder calls any OpenAI-compatible chat completion endpoint
// (Groq by default) through langchaingo.
type LangChainResponder struct {
	model   llms.Model
	counter TokenCounter
	budget  int
}

// NewOpenAICompatible builds a responder for an OpenAI-style endpoint.
func NewOpenAICompatible(baseURL, token, model string) (*LangChainResponder, error) {
	client, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return NewResponder(client), nil
}

// NewResponder wraps an existing langchaingo model.
func NewResponder(model llms.Model) *LangChainResponder {
	return &LangChainResponder{model: model}
}

// WithHistoryBudget trims history to budget tokens before each call.
func (r *LangChainResponder) WithHistoryBudget(counter TokenCounter, budget int) *LangChainResponder {
	r.counter = counter
	r.budget = budget
	return r
}

func (r *LangChainResponder) Respond(ctx context.Context, history []Message, p Params) (string, error) {
	if len(history) == 0 {
		return "", errors.New("llm: empty history")
	}
	if r.counter != nil && r.budget > 0 {
		history = TrimHistory(r.counter, p.SystemPrompt, history, r.budget)
	}

	content := make([]llms.MessageContent, 0, len(history)+1)
	if strings.TrimSpace(p.SystemPrompt) != "" {
		content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, p.SystemPrompt))
	}
	for _, m := range history {
		typ := schema.ChatMessageTypeHuman
		if m.Role == RoleAgent {
			typ = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(typ, m.Content))
	}

	opts := []llms.CallOption{llms.WithTemperature(p.Temperature)}
	if p.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.MaxTokens))
	}
	if p.Model != "" {
		opts = append(opts, llms.WithModel(p.Model))
	}

	resp, err := r.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	reply := strings.TrimSpace(resp.Choices[0].Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
