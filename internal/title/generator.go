// Package title derives short session titles from the first user message.
package title

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

const maxTitleLen = 60

const titlePrompt = "Write a title of at most five words for a conversation that starts with the following message. Reply with the title only, no quotes or punctuation around it."

// Generator produces session titles via a non-streaming completion.
// Best-effort: callers treat failures as non-fatal.
type Generator struct {
	completer llm.Completer
	modelID   string
}

var _ types.TitleGenerator = (*Generator)(nil)

// New creates a Generator using modelID for title completions.
func New(completer llm.Completer, modelID string) *Generator {
	return &Generator{completer: completer, modelID: modelID}
}

// GenerateTitle asks the model for a short title and normalizes it.
func (g *Generator) GenerateTitle(ctx context.Context, text string) (string, error) {
	out, err := g.completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: titlePrompt},
		{Role: "user", Content: text},
	}, g.modelID, llm.Options{MaxTokens: 30})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	title := Clean(out)
	if title == "" {
		return "", fmt.Errorf("generate title: empty result")
	}
	return title, nil
}

// Clean strips quotes and newlines from a raw title and clamps its length.
func Clean(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	if len(title) > maxTitleLen {
		title = strings.TrimSpace(title[:maxTitleLen])
	}
	return title
}
