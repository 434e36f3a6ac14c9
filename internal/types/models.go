// internal/types/models.go
package types

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// CallStatus is the lifecycle state of a tool invocation within a turn.
type CallStatus string

const (
	CallPending CallStatus = "pending"
	CallRunning CallStatus = "running"
	CallSuccess CallStatus = "success"
	CallError   CallStatus = "error"
)

// Session is a persisted conversation container. Identity is immutable
// once created; Title may change (user edit or auto-generation).
type Session struct {
	ID        SessionID `json:"id"`
	Title     string    `json:"title"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one entry in a session's history. A persisted message is
// immutable; the in-flight assistant draft mutates until its turn
// completes and is then persisted as a single record.
type Message struct {
	ID        MessageID        `json:"id"`
	SessionID SessionID        `json:"session_id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// ToolResult carries the outcome of a tool invocation.
type ToolResult struct {
	OK        bool   `json:"ok"`
	Payload   string `json:"payload,omitempty"`
	ErrorText string `json:"error_text,omitempty"`
}

// ToolCallRecord tracks one tool invocation attached to a message.
// Records are appended to the draft as tool events arrive and become part
// of the message's immutable snapshot at completion.
type ToolCallRecord struct {
	ID        CallID         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Status    CallStatus     `json:"status"`
	Result    *ToolResult    `json:"result,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// SessionFilter narrows ListSessions results. The zero value matches all.
type SessionFilter struct {
	ModelID string
	Limit   int
}

// SessionFields holds the mutable session columns for UpdateSession.
// Nil fields are left unchanged.
type SessionFields struct {
	Title   *string
	ModelID *string
}
