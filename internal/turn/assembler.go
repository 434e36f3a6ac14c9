// Package turn implements the chat-turn orchestration core: the stream
// assembler, the persistence coordinator, and the submit/cancel turn
// controller exposed to the UI.
package turn

import (
	"log/slog"
	"strings"
	"time"

	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// ErrorMarker prefixes mid-stream transport errors appended to the
// visible text, so partial output is kept rather than silently dropped.
const ErrorMarker = "❌ Error: "

// Assembler folds the ordered event stream of one turn into a single
// growing assistant message plus its reasoning trace and citations.
// Apply is not safe for concurrent use; the transport delivers events
// for one turn serially.
type Assembler struct {
	sessionID types.SessionID

	text      strings.Builder
	reasoning strings.Builder
	sources   []llm.SourceRef
	seenURLs  map[string]bool

	calls     []types.ToolCallRecord
	callIndex map[types.CallID]int

	errored   bool
	done      bool
	finalized bool
}

// NewAssembler begins a turn for the given session.
func NewAssembler(sessionID types.SessionID) *Assembler {
	return &Assembler{
		sessionID: sessionID,
		seenURLs:  make(map[string]bool),
		callIndex: make(map[types.CallID]int),
	}
}

// Apply folds one event into the draft. Events arriving after Finalize
// are dropped (logged as anomalies): the finalized message is immutable.
func (a *Assembler) Apply(ev llm.Event) {
	if a.finalized {
		slog.Warn("event after finalize dropped", "session_id", string(a.sessionID), "type", string(ev.Type))
		return
	}

	switch ev.Type {
	case llm.EventTextDelta:
		a.text.WriteString(ev.Text)

	case llm.EventReasoningDelta:
		a.reasoning.WriteString(ev.Text)

	case llm.EventSourceRef:
		if ev.Source == nil || ev.Source.URL == "" {
			return
		}
		if a.seenURLs[ev.Source.URL] {
			return
		}
		a.seenURLs[ev.Source.URL] = true
		a.sources = append(a.sources, *ev.Source)

	case llm.EventToolCall:
		if ev.ToolCall == nil || ev.ToolCall.ID == "" {
			return
		}
		a.upsertCall(ev.ToolCall)

	case llm.EventToolResult:
		if ev.ToolResult == nil {
			return
		}
		a.applyResult(ev.ToolResult)

	case llm.EventError:
		a.text.WriteString(ErrorMarker + ev.Err)
		a.errored = true
		a.done = true

	case llm.EventDone:
		a.done = true
	}
}

// upsertCall replaces the record for a known call id (progressive
// argument streaming) or appends a new one preserving arrival order.
func (a *Assembler) upsertCall(tc *llm.ToolCallDelta) {
	id := types.CallID(tc.ID)
	rec := types.ToolCallRecord{
		ID:        id,
		Name:      tc.Name,
		Arguments: tc.Arguments,
		Status:    types.CallPending,
		ServerID:  tc.ServerID,
		UpdatedAt: time.Now(),
	}
	if i, ok := a.callIndex[id]; ok {
		// Keep a result that already landed for this call.
		if prev := a.calls[i]; prev.Result != nil {
			rec.Result = prev.Result
			rec.Status = prev.Status
		} else {
			rec.Status = types.CallRunning
		}
		a.calls[i] = rec
		return
	}
	a.callIndex[id] = len(a.calls)
	a.calls = append(a.calls, rec)
}

// applyResult attaches a result to its call. An unknown call id never
// mutates the list; it is logged as an anomaly, not fatal.
func (a *Assembler) applyResult(tr *llm.ToolResultDelta) {
	i, ok := a.callIndex[types.CallID(tr.CallID)]
	if !ok {
		slog.Warn("tool result for unknown call", "session_id", string(a.sessionID), "call_id", tr.CallID)
		return
	}
	rec := &a.calls[i]
	rec.Result = &types.ToolResult{
		OK:        tr.OK,
		Payload:   tr.Payload,
		ErrorText: tr.ErrorText,
	}
	if tr.OK {
		rec.Status = types.CallSuccess
	} else {
		rec.Status = types.CallError
	}
	rec.UpdatedAt = time.Now()
}

// Text returns the visible text accumulated so far.
func (a *Assembler) Text() string { return a.text.String() }

// Reasoning returns the reasoning trace accumulated so far.
func (a *Assembler) Reasoning() string { return a.reasoning.String() }

// Sources returns the ordered, URL-deduplicated citation list.
func (a *Assembler) Sources() []llm.SourceRef {
	out := make([]llm.SourceRef, len(a.sources))
	copy(out, a.sources)
	return out
}

// Errored reports whether a mid-stream error ended the turn.
func (a *Assembler) Errored() bool { return a.errored }

// Done reports whether a done or error event has arrived.
func (a *Assembler) Done() bool { return a.done }

// Snapshot returns the draft as a message without finalizing it.
func (a *Assembler) Snapshot() types.Message {
	calls := make([]types.ToolCallRecord, len(a.calls))
	copy(calls, a.calls)
	return types.Message{
		SessionID: a.sessionID,
		Role:      types.RoleAssistant,
		Content:   a.text.String(),
		ToolCalls: calls,
	}
}

// Finalize seals the draft into an immutable message snapshot. Further
// events are no-ops.
func (a *Assembler) Finalize() types.Message {
	a.finalized = true
	msg := a.Snapshot()
	msg.ID = types.NewMessageID()
	msg.CreatedAt = time.Now()
	return msg
}
