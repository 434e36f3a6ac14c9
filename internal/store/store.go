// Package store implements the durable session/message gateway on sqlite.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/parley/internal/types"
)

// ErrNotFound is returned when a session or message does not exist.
var ErrNotFound = errors.New("not found")

// Store is a gorm-backed implementation of types.SessionGateway.
type Store struct {
	db *gorm.DB
}

var _ types.SessionGateway = (*Store)(nil)

// Open connects to the sqlite database at path (":memory:" for tests),
// enables foreign keys, and migrates the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&sessionRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateSession inserts a new session and returns it.
func (s *Store) CreateSession(ctx context.Context, title, modelID string) (*types.Session, error) {
	now := time.Now()
	row := &sessionRow{
		ID:        string(types.NewSessionID()),
		Title:     title,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return toSession(row), nil
}

// GetSession returns the session with the given ID.
func (s *Store) GetSession(ctx context.Context, id types.SessionID) (*types.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return toSession(&row), nil
}

// ListSessions returns sessions ordered by most recent activity.
func (s *Store) ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error) {
	q := s.db.WithContext(ctx).Model(&sessionRow{}).Order("updated_at DESC")
	if filter.ModelID != "" {
		q = q.Where("model_id = ?", filter.ModelID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []sessionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]*types.Session, len(rows))
	for i := range rows {
		sessions[i] = toSession(&rows[i])
	}
	return sessions, nil
}

// UpdateSession applies the non-nil fields to the session.
func (s *Store) UpdateSession(ctx context.Context, id types.SessionID, fields types.SessionFields) error {
	updates := map[string]any{"updated_at": time.Now()}
	if fields.Title != nil {
		updates["title"] = *fields.Title
	}
	if fields.ModelID != nil {
		updates["model_id"] = *fields.ModelID
	}

	res := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", string(id)).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// TouchSession advances the session's UpdatedAt.
func (s *Store) TouchSession(ctx context.Context, id types.SessionID) error {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ?", string(id)).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return fmt.Errorf("touch session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSession removes the session and, via cascade, its messages.
func (s *Store) DeleteSession(ctx context.Context, id types.SessionID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Explicit child delete in addition to the FK constraint; sqlite
		// only enforces cascade when foreign_keys is on for the connection.
		if err := tx.Where("session_id = ?", string(id)).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("delete session messages: %w", err)
		}
		res := tx.Where("id = ?", string(id)).Delete(&sessionRow{})
		if res.Error != nil {
			return fmt.Errorf("delete session: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// CreateMessage persists a message. The message's ID and CreatedAt are
// assigned here if unset.
func (s *Store) CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	if msg.SessionID == "" {
		return nil, fmt.Errorf("create message: missing session id")
	}
	stored := *msg
	if stored.ID == "" {
		stored.ID = types.NewMessageID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	row, err := fromMessage(&stored)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &stored, nil
}

// ListMessages returns a session's messages in chronological order.
// limit <= 0 means no limit.
func (s *Store) ListMessages(ctx context.Context, sessionID types.SessionID, limit, offset int) ([]*types.Message, error) {
	q := s.db.WithContext(ctx).
		Where("session_id = ?", string(sessionID)).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return toMessages(rows)
}

// CountMessages returns how many messages the session holds.
func (s *Store) CountMessages(ctx context.Context, sessionID types.SessionID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("session_id = ?", string(sessionID)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// SearchMessages returns messages whose content matches the query,
// optionally restricted to one session.
func (s *Store) SearchMessages(ctx context.Context, query string, sessionID types.SessionID) ([]*types.Message, error) {
	q := s.db.WithContext(ctx).
		Where("content LIKE ?", "%"+query+"%").
		Order("created_at ASC, id ASC")
	if sessionID != "" {
		q = q.Where("session_id = ?", string(sessionID))
	}

	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return toMessages(rows)
}

func toMessages(rows []messageRow) ([]*types.Message, error) {
	msgs := make([]*types.Message, 0, len(rows))
	for i := range rows {
		msg, err := toMessage(&rows[i])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
