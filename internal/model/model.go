// Package model adapts the function-calling language model behind a narrow
// interface the orchestrator can mock.
//
// The production implementation drives Genkit with tool requests returned
// to the caller instead of auto-executed: the dispatch registry, not the
// model runtime, owns every side effect.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// ErrModelFailed indicates the model call failed after retries.
var ErrModelFailed = errors.New("model call failed")

// Conversation is one model-call's worth of assembled input.
type Conversation struct {
	// System is the system prompt, including serialized domain context.
	System string

	// Messages is the running message list: prior exchanges, the user's
	// message, and any model/tool messages appended during the dispatch
	// loop.
	Messages []*ai.Message
}

// Append adds a message, returning the conversation for chaining.
func (c *Conversation) Append(msg *ai.Message) *Conversation {
	c.Messages = append(c.Messages, msg)
	return c
}

// Turn is the model's response to one Converse call.
type Turn struct {
	// Reply is the model's text. Empty while ToolRequests is non-empty.
	Reply string

	// ToolRequests are the operations the model asked for, in order.
	ToolRequests []*ai.ToolRequest

	// Message is the raw model message, appended back to the conversation
	// before tool responses so follow-up calls carry full context.
	Message *ai.Message
}

// Model is the language-model surface the orchestrator depends on.
type Model interface {
	Converse(ctx context.Context, conv *Conversation) (*Turn, error)
}

// Config wires a GenkitModel.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Tools     []ai.Tool
	Logger    *slog.Logger

	Retry   RetryConfig          // zero value uses defaults
	Breaker CircuitBreakerConfig // zero value uses defaults
	Limiter *rate.Limiter        // nil = default 10 rps, burst 30
}

// GenkitModel implements Model over genkit.Generate.
type GenkitModel struct {
	g         *genkit.Genkit
	modelName string
	toolRefs  []ai.ToolRef

	retry   RetryConfig
	breaker *CircuitBreaker
	limiter *rate.Limiter
	log     *slog.Logger
}

// New creates a GenkitModel.
func New(cfg Config) (*GenkitModel, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
	}

	return &GenkitModel{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		toolRefs:  toolRefs,
		retry:     retry,
		breaker:   NewCircuitBreaker(cfg.Breaker),
		limiter:   limiter,
		log:       cfg.Logger,
	}, nil
}

// Converse sends the conversation to the model and returns its turn.
//
// Tool requests are returned, never executed here: the generate call sets
// WithReturnToolRequests so the registered tool functions are only schema
// carriers. The circuit breaker rejects calls while the provider is down.
func (m *GenkitModel) Converse(ctx context.Context, conv *Conversation) (*Turn, error) {
	if err := m.breaker.Allow(); err != nil {
		m.log.Warn("model circuit open, rejecting call", "state", m.breaker.State().String())
		return nil, fmt.Errorf("%w: %w", ErrModelFailed, err)
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(m.modelName),
		ai.WithSystem(conv.System),
		ai.WithMessages(conv.Messages...),
		ai.WithReturnToolRequests(true),
	}
	if len(m.toolRefs) > 0 {
		opts = append(opts, ai.WithTools(m.toolRefs...))
	}

	resp, err := m.generateWithRetry(ctx, opts)
	if err != nil {
		m.breaker.Failure()
		return nil, fmt.Errorf("%w: %w", ErrModelFailed, err)
	}
	m.breaker.Success()

	return &Turn{
		Reply:        strings.TrimSpace(resp.Text()),
		ToolRequests: resp.ToolRequests(),
		Message:      resp.Message,
	}, nil
}
