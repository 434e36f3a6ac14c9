package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/parley/internal/session"
	"github.com/user/parley/internal/types"
)

// Coordinator decides when and what to write back to the session gateway:
// the user message immediately, the assistant message on completion, the
// auto-generated title after the first user turn. Write failures never
// lose in-memory state.
type Coordinator struct {
	gateway types.SessionGateway
	titles  types.TitleGenerator
	manager *session.Manager
	retry   *RetryPolicy

	mu      sync.Mutex
	pending []types.Message // assistant messages awaiting a write retry
}

// NewCoordinator wires a Coordinator. titles may be nil to disable title
// generation.
func NewCoordinator(gateway types.SessionGateway, titles types.TitleGenerator, manager *session.Manager) *Coordinator {
	return &Coordinator{
		gateway: gateway,
		titles:  titles,
		manager: manager,
		retry:   DefaultRetryPolicy(),
	}
}

// PersistUserMessage writes the user's text and bumps the session's
// UpdatedAt. On failure the text is handed back to the caller unconsumed.
func (c *Coordinator) PersistUserMessage(ctx context.Context, sess *types.Session, text string) (*types.Message, error) {
	msg, err := c.gateway.CreateMessage(ctx, &types.Message{
		SessionID: sess.ID,
		Role:      types.RoleUser,
		Content:   text,
	})
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	c.touch(ctx, sess.ID)
	return msg, nil
}

// PersistAssistantMessage writes the finalized draft. On failure the
// snapshot is queued for background retry and a retryable error is
// returned; the caller keeps rendering the in-memory draft either way.
func (c *Coordinator) PersistAssistantMessage(ctx context.Context, sess *types.Session, draft types.Message) (*types.Message, error) {
	draft.SessionID = sess.ID
	msg, err := c.gateway.CreateMessage(ctx, &draft)
	if err != nil {
		c.mu.Lock()
		c.pending = append(c.pending, draft)
		queued := len(c.pending)
		c.mu.Unlock()
		slog.Warn("assistant write failed, queued for retry",
			"session_id", string(sess.ID), "queued", queued, "error", err)
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}
	c.touch(ctx, sess.ID)
	return msg, nil
}

func (c *Coordinator) touch(ctx context.Context, id types.SessionID) {
	if err := c.gateway.TouchSession(ctx, id); err != nil {
		slog.Warn("touch session failed", "session_id", string(id), "error", err)
	}
}

// PendingWrites reports how many assistant messages await a retry.
func (c *Coordinator) PendingWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// FlushRetries replays queued assistant writes. Messages that still fail
// retryably stay queued; permanently failing messages are dropped with a
// log entry so the queue cannot wedge.
func (c *Coordinator) FlushRetries(ctx context.Context) {
	c.mu.Lock()
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	var still []types.Message
	for _, msg := range queued {
		_, err := c.gateway.CreateMessage(ctx, &msg)
		if err == nil {
			c.touch(ctx, msg.SessionID)
			continue
		}
		if c.retry.isRetryable(err) {
			still = append(still, msg)
		} else {
			slog.Error("dropping unpersistable assistant message",
				"session_id", string(msg.SessionID), "error", err)
		}
	}

	if len(still) > 0 {
		c.mu.Lock()
		c.pending = append(still, c.pending...)
		c.mu.Unlock()
	}
}

// MaybeGenerateTitle auto-titles the session after its first persisted
// user message. The gate queries the message count rather than a local
// counter so it stays correct across process restarts; it runs
// synchronously (call this right after persisting the user message, while
// the count is still 1) and the generation itself runs in the background.
// The result is discarded when the current session has changed by the
// time generation completes.
func (c *Coordinator) MaybeGenerateTitle(ctx context.Context, sess *types.Session, firstUserText string) {
	if c.titles == nil {
		return
	}
	count, err := c.gateway.CountMessages(ctx, sess.ID)
	if err != nil {
		slog.Warn("title gate count failed", "session_id", string(sess.ID), "error", err)
		return
	}
	if count != 1 {
		return
	}
	go c.generateTitle(context.WithoutCancel(ctx), sess, firstUserText)
}

func (c *Coordinator) generateTitle(ctx context.Context, sess *types.Session, firstUserText string) {
	title, err := c.titles.GenerateTitle(ctx, firstUserText)
	if err != nil || title == "" {
		slog.Warn("title generation failed", "session_id", string(sess.ID), "error", err)
		return
	}

	// Re-validate after the suspension: applying a late title to a
	// different session would corrupt it.
	if c.manager.CurrentID() != sess.ID {
		slog.Debug("discarding stale title", "session_id", string(sess.ID))
		return
	}
	if err := c.gateway.UpdateSession(ctx, sess.ID, types.SessionFields{Title: &title}); err != nil {
		slog.Warn("title write failed", "session_id", string(sess.ID), "error", err)
		return
	}
	c.manager.SetTitle(sess.ID, title)
}
