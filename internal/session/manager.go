// Package session owns the identity of the current conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/user/parley/internal/types"
)

// ErrStaleSession is returned when a session creation resolves after the
// user has switched away. The created session is not adopted and the
// caller's pending input is not consumed.
var ErrStaleSession = errors.New("session changed during creation")

// Manager owns the single "current session" reference. It creates
// sessions lazily on first send and arbitrates between concurrently
// created sessions and in-flight sends. All other components treat the
// sessions it hands out as read-only, captured-at-call-time state.
type Manager struct {
	gateway types.SessionGateway

	mu      sync.Mutex
	current *types.Session
	history []types.Message
	// epoch is the creation request token: bumped by SwitchTo/StartNew so
	// that a create resolving against an older epoch is discarded instead
	// of clobbering the newly selected session.
	epoch uint64

	sf singleflight.Group
}

// NewManager creates a Manager backed by the given gateway.
func NewManager(gateway types.SessionGateway) *Manager {
	return &Manager{gateway: gateway}
}

// EnsureSession returns the current session, creating one if none exists.
// Concurrent callers share a single creation; exactly one session is
// created for the first message even under rapid submits.
func (m *Manager) EnsureSession(ctx context.Context, candidateTitle, modelID string) (*types.Session, error) {
	m.mu.Lock()
	if m.current != nil {
		sess := *m.current
		m.mu.Unlock()
		return &sess, nil
	}
	epoch := m.epoch
	m.mu.Unlock()

	// The epoch in the key keeps a post-StartNew create from joining an
	// in-flight create from the previous epoch.
	key := fmt.Sprintf("create-%d", epoch)
	v, err, _ := m.sf.Do(key, func() (any, error) {
		return m.gateway.CreateSession(ctx, candidateTitle, modelID)
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	created := v.(*types.Session)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return nil, ErrStaleSession
	}
	if m.current != nil {
		// A sibling caller adopted the shared creation first.
		sess := *m.current
		return &sess, nil
	}
	m.current = created
	m.history = nil
	sess := *created
	return &sess, nil
}

// SwitchTo loads the session and its full message history and replaces
// "current" entirely. Any outstanding creation from before the switch is
// invalidated.
func (m *Manager) SwitchTo(ctx context.Context, id types.SessionID) (*types.Session, error) {
	sess, err := m.gateway.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("switch session: %w", err)
	}
	msgs, err := m.gateway.ListMessages(ctx, id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := make([]types.Message, len(msgs))
	for i, msg := range msgs {
		history[i] = *msg
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.current = sess
	m.history = history
	out := *sess
	return &out, nil
}

// StartNew clears "current" to nothing. The next EnsureSession creates a
// fresh session.
func (m *Manager) StartNew() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.current = nil
	m.history = nil
}

// Current returns a snapshot of the current session, or nil.
func (m *Manager) Current() *types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	sess := *m.current
	return &sess
}

// CurrentID returns the current session's ID, or "" when none exists.
func (m *Manager) CurrentID() types.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// SetTitle applies a title to the in-memory session if id still matches
// the current session. Returns false when the result is stale.
func (m *Manager) SetTitle(id types.SessionID, title string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != id {
		return false
	}
	m.current.Title = title
	return true
}

// History returns a copy of the loaded message history.
func (m *Manager) History() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Message, len(m.history))
	copy(out, m.history)
	return out
}

// AppendHistory adds a persisted message to the in-memory history when it
// belongs to the current session. Stale messages are dropped.
func (m *Manager) AppendHistory(msg types.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != msg.SessionID {
		return false
	}
	m.history = append(m.history, msg)
	return true
}
