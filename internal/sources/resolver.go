// Package sources resolves citation URLs into markdown previews for the
// rendering layer.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/parley/pkg/llm"
)

const (
	maxFetchBytes   = 256 * 1024
	maxSnippetChars = 600
)

// Preview is a rendered citation: the original reference plus a markdown
// snippet of the target page.
type Preview struct {
	Source  llm.SourceRef
	Snippet string
}

// Resolver fetches citation URLs and converts their content to markdown
// snippets. Fetch failures degrade to the bare reference, never an error.
type Resolver struct {
	client *http.Client
}

// NewResolver creates a Resolver with a 30 second fetch timeout.
func NewResolver() *Resolver {
	return &Resolver{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Resolve fetches each citation and returns previews in the same order.
func (r *Resolver) Resolve(ctx context.Context, refs []llm.SourceRef) []Preview {
	previews := make([]Preview, len(refs))
	for i, ref := range refs {
		previews[i] = Preview{Source: ref}
		snippet, err := r.fetchSnippet(ctx, ref.URL)
		if err != nil {
			continue
		}
		previews[i].Snippet = snippet
	}
	return previews
}

func (r *Resolver) fetchSnippet(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Parley/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	markdown, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}

	snippet := strings.TrimSpace(markdown)
	if len(snippet) > maxSnippetChars {
		snippet = snippet[:maxSnippetChars] + "…"
	}
	return snippet, nil
}
