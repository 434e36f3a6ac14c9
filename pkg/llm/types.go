package llm

// Message represents a chat message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SourceRef is a citation emitted by the model during a turn.
type SourceRef struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ToolCallDelta is a (possibly partial) tool invocation update. The same
// call ID may be streamed multiple times as arguments accumulate; later
// updates replace earlier ones.
type ToolCallDelta struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`
}

// ToolResultDelta reports the outcome of a previously announced tool call.
type ToolResultDelta struct {
	CallID    string `json:"call_id"`
	OK        bool   `json:"ok"`
	Payload   string `json:"payload,omitempty"`
	ErrorText string `json:"error_text,omitempty"`
}

// EventType discriminates stream events for one turn.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventSourceRef      EventType = "source_ref"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// Event is one discrete unit emitted by a transport during a turn.
// Exactly the field matching Type is populated. Events for a single turn
// arrive strictly ordered; there is no cross-turn ordering guarantee.
type Event struct {
	Type       EventType        `json:"type"`
	Text       string           `json:"text,omitempty"`
	Source     *SourceRef       `json:"source,omitempty"`
	ToolCall   *ToolCallDelta   `json:"tool_call,omitempty"`
	ToolResult *ToolResultDelta `json:"tool_result,omitempty"`
	Err        string           `json:"error,omitempty"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Options holds per-request generation parameters.
type Options struct {
	Temperature float32
	MaxTokens   int
}
