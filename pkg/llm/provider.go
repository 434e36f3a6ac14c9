package llm

import "context"

// Transport opens a streaming chat completion against a model backend.
// Implementations handle protocol-specific details such as request
// formatting, authentication, and response parsing.
type Transport interface {
	// Open sends the prior conversation and returns a channel of events
	// for one turn. The channel is closed after a done or error event.
	// Cancelling ctx stops the stream cooperatively; implementations must
	// stop sending and close the channel promptly.
	Open(ctx context.Context, messages []Message, modelID string, opts Options) (<-chan Event, error)
}

// Completer performs a non-streaming chat completion. Used for ancillary
// requests such as title generation.
type Completer interface {
	Complete(ctx context.Context, messages []Message, modelID string, opts Options) (string, error)
}

// Config holds common configuration for LLM clients.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}
