package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/parley/internal/types"
)

// fakeGateway is an in-memory types.SessionGateway for manager tests.
type fakeGateway struct {
	mu       sync.Mutex
	sessions map[types.SessionID]*types.Session
	messages map[types.SessionID][]*types.Message

	createCalls int
	createHook  func() // runs inside CreateSession, before the insert
	createErr   error
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
	f.createCalls++
	hook := f.createHook
	err := f.createErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &types.Session{
		ID:        types.NewSessionID(),
		Title:     title,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.mu.Lock()
	f.sessions[sess.ID] = sess
	f.mu.Unlock()
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
	stored := *msg
	if stored.ID == "" {
		stored.ID = types.NewMessageID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
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
