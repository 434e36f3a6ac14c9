package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/parley/internal/prompt"
	"github.com/user/parley/internal/session"
	"github.com/user/parley/internal/types"
	"github.com/user/parley/pkg/llm"
)

// Status is the observable lifecycle state of the controller.
type Status string

const (
	// StatusIdle: no turn in flight.
	StatusIdle Status = "idle"
	// StatusSubmitted: user message accepted, awaiting the first token.
	StatusSubmitted Status = "submitted"
	// StatusStreaming: events are being folded into the draft.
	StatusStreaming Status = "streaming"
	// StatusError: the last turn ended in error. Submitting proceeds from
	// this state exactly as from idle.
	StatusError Status = "error"
)

// Snapshot is the observable surface handed to subscribers. Messages is
// the persisted history with the draft appended while one exists.
type Snapshot struct {
	Status    Status
	DraftText string
	Reasoning string
	Sources   []llm.SourceRef
	Messages  []types.Message
	Err       string
}

// Config holds controller-level generation settings.
type Config struct {
	ModelID      string
	SystemPrompt string
	Options      llm.Options
}

// Controller is the public-facing state machine exposed to the UI. It
// composes the session manager, stream assembler, and persistence
// coordinator into a single submit/cancel contract with an observable
// status. At most one turn is active at a time.
type Controller struct {
	manager   *session.Manager
	coord     *Coordinator
	transport llm.Transport
	prompts   *prompt.Engine
	cfg       Config

	// turnGate serializes turn execution across goroutines; the status
	// machine prevents two logical turns, the semaphore makes the
	// back-to-back handoff (queued resubmit) airtight.
	turnGate *semaphore.Weighted

	mu      sync.Mutex
	status  Status
	lastErr string
	asm     *Assembler
	cancel  context.CancelFunc
	queued  *string
	subs    map[int]func(Snapshot)
	nextSub int
}

// NewController wires a Controller. prompts may be nil to disable token
// windowing (the full history is sent).
func NewController(manager *session.Manager, coord *Coordinator, transport llm.Transport, prompts *prompt.Engine, cfg Config) *Controller {
	return &Controller{
		manager:   manager,
		coord:     coord,
		transport: transport,
		prompts:   prompts,
		cfg:       cfg,
		turnGate:  semaphore.NewWeighted(1),
		status:    StatusIdle,
		subs:      make(map[int]func(Snapshot)),
	}
}

// Subscribe registers an observer for state changes and returns an
// unsubscribe function. The UI is an external subscriber, not part of
// this core.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:   c.status,
		Messages: c.manager.History(),
		Err:      c.lastErr,
	}
	if c.asm != nil {
		snap.DraftText = c.asm.Text()
		snap.Reasoning = c.asm.Reasoning()
		snap.Sources = c.asm.Sources()
		snap.Messages = append(snap.Messages, c.asm.Snapshot())
	}
	return snap
}

func (c *Controller) notify() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Submit starts a turn for text. While a turn is streaming, Submit
// reinterprets as "cancel the current turn, then send text once
// cancellation completes": never dropped, never sent out of order ahead
// of the cancellation. On failure before streaming, the input is not
// consumed and the error is returned to the caller.
func (c *Controller) Submit(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.status == StatusSubmitted || c.status == StatusStreaming {
		c.queued = &text
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.startTurn(ctx, text)
}

// Cancel requests the transport to stop. The draft assembled so far is
// still finalized and persisted; a user-cancelled response is saved, not
// discarded.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
}

// SwitchSession cancels any in-flight turn (discarding its draft) and
// replaces the current conversation with the stored one.
func (c *Controller) SwitchSession(ctx context.Context, id types.SessionID) error {
	c.abandonTurn()
	if _, err := c.manager.SwitchTo(ctx, id); err != nil {
		return err
	}
	c.notify()
	return nil
}

// StartNew cancels any in-flight turn (discarding its draft) and clears
// the current conversation.
func (c *Controller) StartNew() {
	c.abandonTurn()
	c.manager.StartNew()
	c.notify()
}

// abandonTurn cancels the active turn and drops its draft and any queued
// resubmit; navigation away means the user no longer wants them.
func (c *Controller) abandonTurn() {
	c.mu.Lock()
	cancel := c.cancel
	c.queued = nil
	c.asm = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) startTurn(ctx context.Context, text string) error {
	// Wait for any finishing turn to fully unwind before starting.
	if err := c.turnGate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire turn: %w", err)
	}

	sess, err := c.manager.EnsureSession(ctx, "New chat", c.cfg.ModelID)
	if err != nil {
		c.turnGate.Release(1)
		// Pending input is handed back to the caller, not consumed.
		return err
	}

	userMsg, err := c.coord.PersistUserMessage(ctx, sess, text)
	if err != nil {
		c.turnGate.Release(1)
		return err
	}
	c.manager.AppendHistory(*userMsg)

	// Auto-title after the first persisted user message; the gate runs
	// synchronously while the message count is still 1, generation and the
	// staleness check run in the background inside the coordinator.
	c.coord.MaybeGenerateTitle(ctx, sess, text)

	turnCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.status = StatusSubmitted
	c.lastErr = ""
	c.asm = NewAssembler(sess.ID)
	c.cancel = cancel
	c.mu.Unlock()
	c.notify()

	messages := c.buildWindow()
	ch, err := c.transport.Open(turnCtx, messages, sess.ModelID, c.cfg.Options)
	if err != nil {
		// Configuration/connection failure surfaces at submit time; the
		// turn never enters streaming.
		cancel()
		c.mu.Lock()
		c.status = StatusError
		c.lastErr = err.Error()
		c.asm = nil
		c.cancel = nil
		c.mu.Unlock()
		c.turnGate.Release(1)
		c.notify()
		return fmt.Errorf("open stream: %w", err)
	}

	go c.consume(sess, ch)
	return nil
}

func (c *Controller) buildWindow() []llm.Message {
	history := c.manager.History()
	if c.prompts != nil {
		return c.prompts.Window(c.cfg.SystemPrompt, history)
	}
	out := make([]llm.Message, 0, len(history)+1)
	if c.cfg.SystemPrompt != "" {
		out = append(out, llm.Message{Role: "system", Content: c.cfg.SystemPrompt})
	}
	for _, msg := range history {
		out = append(out, llm.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

// consume folds the event stream into the draft until the transport
// closes the channel, then finalizes and persists the turn.
func (c *Controller) consume(sess *types.Session, ch <-chan llm.Event) {
	for ev := range ch {
		c.mu.Lock()
		if c.asm == nil {
			// Turn abandoned (session switch); drain silently.
			c.mu.Unlock()
			continue
		}
		if c.status == StatusSubmitted {
			c.status = StatusStreaming
		}
		c.asm.Apply(ev)
		c.mu.Unlock()
		c.notify()
	}
	c.finishTurn(sess)
}

func (c *Controller) finishTurn(sess *types.Session) {
	c.mu.Lock()
	asm := c.asm
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if asm == nil {
		// Abandoned turn: nothing to persist, nothing to report.
		c.mu.Lock()
		c.status = StatusIdle
		c.mu.Unlock()
		c.turnGate.Release(1)
		c.notify()
		c.launchQueued()
		return
	}

	errored := asm.Errored()
	final := asm.Finalize()

	persistFailed := false
	if final.Content == "" && len(final.ToolCalls) == 0 {
		// A turn that ends with no assistant content is a persistence
		// no-op, only a status reset.
	} else {
		persisted, err := c.coord.PersistAssistantMessage(context.Background(), sess, final)
		if err != nil {
			persistFailed = true
			c.mu.Lock()
			c.lastErr = err.Error()
			c.mu.Unlock()
		} else {
			c.manager.AppendHistory(*persisted)
		}
	}

	c.mu.Lock()
	if errored || persistFailed {
		c.status = StatusError
		if c.lastErr == "" {
			c.lastErr = "turn ended in error"
		}
	} else {
		c.status = StatusIdle
	}
	if persistFailed {
		// Keep rendering the unsaved draft; the flusher retries the write
		// in the background.
	} else {
		c.asm = nil
	}
	c.mu.Unlock()
	c.turnGate.Release(1)
	c.notify()
	c.launchQueued()
}

// launchQueued starts the turn queued during cancellation, if any.
func (c *Controller) launchQueued() {
	c.mu.Lock()
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()
	if queued == nil {
		return
	}
	if err := c.startTurn(context.Background(), *queued); err != nil {
		slog.Error("queued submit failed", "error", err)
	}
}
