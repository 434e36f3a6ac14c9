package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// fakeGateway is an in-memory types.SessionGateway with failure injection.
type fakeGateway struct {
	mu       sync.Mutex
	sessions map[types.SessionID]*types.Session
	messages map[types.SessionID][]*types.Message

	createSessionCalls int
	createSessionErr   error
	// failRole makes CreateMessage fail for messages of that role.
	failRole    types.Role
	failRoleErr error
}

var _ types.SessionGateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sessions: make(map[types.SessionID]*types.Session),
		messages: make(map[types.SessionID][]*types.Message),
	}
}

func (f *fakeGateway) CreateSession(_ context.Context, title, modelID string) (*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createSessionCalls++
	if f.createSessionErr != nil {
		return nil, f.createSessionErr
	}
	now := time.Now()
	sess := &types.Session{
		ID:        types.NewSessionID(),
		Title:     title,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.sessions[sess.ID] = sess
	out := *sess
	return &out, nil
}

func (f *fakeGateway) GetSession(_ context.Context, id types.SessionID) (*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	out := *sess
	return &out, nil
}

func (f *fakeGateway) ListSessions(_ context.Context, _ types.SessionFilter) ([]*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Session, 0, len(f.sessions))
	for _, sess := range f.sessions {
		s := *sess
		out = append(out, &s)
	}
	return out, nil
}

func (f *fakeGateway) UpdateSession(_ context.Context, id types.SessionID, fields types.SessionFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	if fields.Title != nil {
		sess.Title = *fields.Title
	}
	if fields.ModelID != nil {
		sess.ModelID = *fields.ModelID
	}
	sess.UpdatedAt = time.Now()
	return nil
}

func (f *fakeGateway) TouchSession(_ context.Context, id types.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("session not found: %s", id)
	}
	sess.UpdatedAt = time.Now()
	return nil
}

func (f *fakeGateway) DeleteSession(_ context.Context, id types.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeGateway) CreateMessage(_ context.Context, msg *types.Message) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRole != "" && msg.Role == f.failRole {
		err := f.failRoleErr
		if err == nil {
			err = errors.New("database is locked")
		}
		return nil, err
	}
	stored := *msg
	if stored.ID == "" {
		stored.ID = types.NewMessageID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	f.messages[stored.SessionID] = append(f.messages[stored.SessionID], &stored)
	out := stored
	return &out, nil
}

func (f *fakeGateway) ListMessages(_ context.Context, sessionID types.SessionID, limit, offset int) ([]*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[sessionID]
	if offset > len(msgs) {
		offset = len(msgs)
	}
	msgs = msgs[offset:]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	out := make([]*types.Message, len(msgs))
	for i, msg := range msgs {
		m := *msg
		out[i] = &m
	}
	return out, nil
}

func (f *fakeGateway) CountMessages(_ context.Context, sessionID types.SessionID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.messages[sessionID])), nil
}

func (f *fakeGateway) SearchMessages(_ context.Context, query string, sessionID types.SessionID) ([]*types.Message, error) {
	return nil, nil
}

// sessionCount and messagesFor are read helpers for assertions.
func (f *fakeGateway) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeGateway) messagesFor(id types.SessionID) []types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Message, 0, len(f.messages[id]))
	for _, msg := range f.messages[id] {
		out = append(out, *msg)
	}
	return out
}

func (f *fakeGateway) onlySession() *types.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sess := range f.sessions {
		out := *sess
		return &out
	}
	return nil
}

// fakeTitler is a scripted types.TitleGenerator.
type fakeTitler struct {
	mu    sync.Mutex
	title string
	err   error
	calls int
	// gate, when set, blocks generation until closed.
	gate chan struct{}
}

func (f *fakeTitler) GenerateTitle(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.title, f.err
}

func (f *fakeTitler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// turnScript describes one Open call: events to emit, then either close
// (blockAfter < 0) or hold the stream open until ctx is cancelled.
type turnScript struct {
	events     []llm.Event
	holdOpen   bool
	openErr    error
	onOpenOnce func()
}

// fakeTransport plays one script per Open call, emitting events serially.
type fakeTransport struct {
	mu      sync.Mutex
	scripts []turnScript
	opens   int
	sent    [][]llm.Message
}

var _ llm.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) Open(ctx context.Context, messages []llm.Message, modelID string, _ llm.Options) (<-chan llm.Event, error) {
	f.mu.Lock()
	if f.opens >= len(f.scripts) {
		f.mu.Unlock()
		return nil, fmt.Errorf("unexpected Open call %d", f.opens)
	}
	script := f.scripts[f.opens]
	f.opens++
	f.sent = append(f.sent, messages)
	f.mu.Unlock()

	if script.onOpenOnce != nil {
		script.onOpenOnce()
	}
	if script.openErr != nil {
		return nil, script.openErr
	}

	ch := make(chan llm.Event)
	go func() {
		defer close(ch)
		for _, ev := range script.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if script.holdOpen {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeTransport) sentMessages(i int) []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sent) {
		return nil
	}
	return f.sent[i]
}

func text(s string) llm.Event { return llm.Event{Type: llm.EventTextDelta, Text: s} }
func done() llm.Event         { return llm.Event{Type: llm.EventDone} }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}
