// internal/types/interfaces.go
package types

import "context"

// SessionGateway is the durable store for sessions and their messages.
// All operations are request/response with explicit errors; no panics
// cross this boundary. A session exclusively owns its messages: deleting
// a session cascades to them.
type SessionGateway interface {
	CreateSession(ctx context.Context, title, modelID string) (*Session, error)
	GetSession(ctx context.Context, id SessionID) (*Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*Session, error)
	UpdateSession(ctx context.Context, id SessionID, fields SessionFields) error
	DeleteSession(ctx context.Context, id SessionID) error

	CreateMessage(ctx context.Context, msg *Message) (*Message, error)
	ListMessages(ctx context.Context, sessionID SessionID, limit, offset int) ([]*Message, error)
	CountMessages(ctx context.Context, sessionID SessionID) (int64, error)
	SearchMessages(ctx context.Context, query string, sessionID SessionID) ([]*Message, error)

	// TouchSession advances the session's UpdatedAt. Persisting a message
	// always touches its session.
	TouchSession(ctx context.Context, id SessionID) error
}

// TitleGenerator produces a short session title from the first user
// message. Best-effort: failures are non-fatal and results may be
// discarded if the session has changed by the time they arrive.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, text string) (string, error)
}
