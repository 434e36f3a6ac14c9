package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/parley/pkg/llm"
)

// Client implements llm.Transport and llm.Completer for OpenAI-compatible
// chat completion APIs.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// chatResponse is the non-streaming chat completions response body.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// streamChunk is one SSE data payload from a streaming completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) newRequest(ctx context.Context, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	url := c.config.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	return req, nil
}

func (c *Client) buildBody(messages []llm.Message, modelID string, opts llm.Options) chatRequest {
	body := chatRequest{
		Model:    modelID,
		Messages: messages,
	}
	if body.Model == "" {
		body.Model = c.config.Model
	}
	if opts.MaxTokens > 0 {
		body.MaxTokens = opts.MaxTokens
	} else if c.config.MaxTokens > 0 {
		body.MaxTokens = c.config.MaxTokens
	}
	temp := opts.Temperature
	if temp == 0 {
		temp = c.config.Temperature
	}
	if temp != 0 {
		body.Temperature = &temp
	}
	return body
}

// Complete sends a non-streaming chat completion request and returns the
// response text.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, modelID string, opts llm.Options) (string, error) {
	req, err := c.newRequest(ctx, c.buildBody(messages, modelID, opts))
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// Open sends a streaming chat completion request and returns a channel of
// events parsed from the SSE response. The channel is closed after a done
// or error event. Cancelling ctx aborts the underlying request.
func (c *Client) Open(ctx context.Context, messages []llm.Message, modelID string, opts llm.Options) (<-chan llm.Event, error) {
	body := c.buildBody(messages, modelID, opts)
	body.Stream = true

	req, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	ch := make(chan llm.Event, 16)
	go c.readStream(ctx, resp.Body, ch)
	return ch, nil
}

// callState accumulates tool-call fragments streamed across chunks,
// keyed by choice index.
type callState struct {
	id   string
	name string
	args strings.Builder
}

// readStream parses SSE lines into events until [DONE], an error, or ctx
// cancellation. Always closes ch.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, ch chan<- llm.Event) {
	defer close(ch)
	defer body.Close()

	calls := make(map[int]*callState)
	emit := func(ev llm.Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Flush any accumulated tool calls as full upserts.
	flushCalls := func() bool {
		for _, cs := range calls {
			args := map[string]any{}
			if cs.args.Len() > 0 {
				if err := json.Unmarshal([]byte(cs.args.String()), &args); err != nil {
					args = map[string]any{"_raw": cs.args.String()}
				}
			}
			if !emit(llm.Event{Type: llm.EventToolCall, ToolCall: &llm.ToolCallDelta{
				ID:        cs.id,
				Name:      cs.name,
				Arguments: args,
			}}) {
				return false
			}
		}
		return true
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			if !flushCalls() {
				return
			}
			emit(llm.Event{Type: llm.EventDone})
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			emit(llm.Event{Type: llm.EventError, Err: fmt.Sprintf("parse stream chunk: %v", err)})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			if !emit(llm.Event{Type: llm.EventTextDelta, Text: delta.Content}) {
				return
			}
		}
		if delta.ReasoningContent != "" {
			if !emit(llm.Event{Type: llm.EventReasoningDelta, Text: delta.ReasoningContent}) {
				return
			}
		}
		for _, tc := range delta.ToolCalls {
			cs, ok := calls[tc.Index]
			if !ok {
				cs = &callState{}
				calls[tc.Index] = cs
			}
			if tc.ID != "" {
				cs.id = tc.ID
			}
			if tc.Function.Name != "" {
				cs.name = tc.Function.Name
			}
			cs.args.WriteString(tc.Function.Arguments)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// Cooperative cancel; the assembler finalizes what it has.
			return
		}
		emit(llm.Event{Type: llm.EventError, Err: err.Error()})
		return
	}

	// Stream ended without [DONE]; treat as transport error.
	emit(llm.Event{Type: llm.EventError, Err: "stream closed before completion"})
}
