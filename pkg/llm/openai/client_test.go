package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/parley/pkg/llm"
)

func TestComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req["model"] != "gpt-4o-mini" {
			t.Errorf("expected model gpt-4o-mini, got %v", req["model"])
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role":    "assistant",
						"content": "test response",
					},
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     10,
				"completion_tokens": 5,
				"total_tokens":      15,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(&llm.Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	})

	text, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "hello"},
	}, "", llm.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if text != "test response" {
		t.Errorf("expected 'test response', got %s", text)
	}
}

func TestCompleteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "bad key"}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "bad", Model: "m"})
	_, err := client.Complete(context.Background(), nil, "", llm.Options{})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func sseChunk(content string) string {
	chunk := map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]any{"content": content}},
		},
	}
	data, _ := json.Marshal(chunk)
	return fmt.Sprintf("data: %s\n\n", data)
}

func TestOpenStreamsDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["stream"] != true {
			t.Error("expected stream: true in request body")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Hel"))
		fmt.Fprint(w, sseChunk("lo"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k", Model: "m"})
	ch, err := client.Open(context.Background(), []llm.Message{{Role: "user", Content: "hi"}}, "m", llm.Options{})
	if err != nil {
		t.Fatal(err)
	}

	var text string
	var sawDone bool
	for ev := range ch {
		switch ev.Type {
		case llm.EventTextDelta:
			text += ev.Text
		case llm.EventDone:
			sawDone = true
		case llm.EventError:
			t.Fatalf("unexpected error event: %s", ev.Err)
		}
	}
	if text != "Hello" {
		t.Errorf("expected concatenated text 'Hello', got %q", text)
	}
	if !sawDone {
		t.Error("expected done event before channel close")
	}
}

func TestOpenFoldsToolCallFragments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frag1 := `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search","arguments":"{\"q\":"}}]}}]}`
		frag2 := `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`
		fmt.Fprintf(w, "data: %s\n\ndata: %s\n\ndata: [DONE]\n\n", frag1, frag2)
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k", Model: "m"})
	ch, err := client.Open(context.Background(), nil, "m", llm.Options{})
	if err != nil {
		t.Fatal(err)
	}

	var call *llm.ToolCallDelta
	for ev := range ch {
		if ev.Type == llm.EventToolCall {
			call = ev.ToolCall
		}
	}
	if call == nil {
		t.Fatal("expected a tool_call event")
	}
	if call.ID != "call_1" || call.Name != "search" {
		t.Errorf("unexpected call identity: %+v", call)
	}
	if call.Arguments["q"] != "go" {
		t.Errorf("expected folded arguments {q: go}, got %v", call.Arguments)
	}
}

func TestOpenTruncatedStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("partial"))
		// No [DONE]; connection closes.
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k", Model: "m"})
	ch, err := client.Open(context.Background(), nil, "m", llm.Options{})
	if err != nil {
		t.Fatal(err)
	}

	var last llm.Event
	for ev := range ch {
		last = ev
	}
	if last.Type != llm.EventError {
		t.Errorf("expected trailing error event, got %s", last.Type)
	}
}
