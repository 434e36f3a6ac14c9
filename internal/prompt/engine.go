// Package prompt assembles token-budgeted prompt windows for the
// model transport.
package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// Engine trims conversation history to a model's context window.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates a prompt engine for the given model. maxTokens is the
// model's context window size; reserve is held back for the response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// Window returns the system prompt plus the most recent history messages
// that fit the input budget. Messages are never split, and the newest
// message (the just-submitted user text) is always kept even when it
// alone exceeds the budget.
func (e *Engine) Window(systemPrompt string, history []types.Message) []llm.Message {
	budget := e.maxTokens - e.reserve
	if systemPrompt != "" {
		budget -= e.countTokens(systemPrompt)
	}

	// Walk newest-to-oldest, keeping whole messages while they fit.
	var kept []types.Message
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		cost := e.countTokens(msg.Content)
		if used+cost > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, msg)
		used += cost
	}

	out := make([]llm.Message, 0, len(kept)+1)
	if systemPrompt != "" {
		out = append(out, llm.Message{Role: "system", Content: systemPrompt})
	}
	// kept is newest-first; reverse into chronological order.
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, llm.Message{
			Role:    string(kept[i].Role),
			Content: kept[i].Content,
		})
	}
	return out
}
