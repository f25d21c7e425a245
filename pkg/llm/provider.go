package llm

import (
	"context"
	"errors"
)

// ErrAborted is returned when generation stops because the caller's context
// was cancelled. Callers must treat it as a clean termination, not a failure.
var ErrAborted = errors.New("llm: generation aborted")

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// Result is the final output of one generation.
type Result struct {
	Text           string
	ThoughtContent string
}

// StreamHandler receives incremental output. Any callback may be nil.
// OnThoughtDone fires at most once, before the first answer delta, even when
// the model produced no reasoning tokens at all.
type StreamHandler struct {
	OnThoughtDelta func(delta string)
	OnThoughtDone  func()
	OnAnswerDelta  func(delta string)
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// Provider defines the contract for any LLM backend.
type Provider interface {
	// GenerateStream sends a chat history, forwards incremental deltas to
	// the handler, and returns the accumulated result.
	GenerateStream(ctx context.Context, history []Message, handler StreamHandler, options ...Option) (*Result, error)

	// Generate sends a chat history and waits for the complete response.
	Generate(ctx context.Context, history []Message, options ...Option) (*Result, error)
}
