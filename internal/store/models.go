package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/parley/internal/types"
)

// sessionRow is the gorm model backing types.Session.
type sessionRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Title     string    `gorm:"size:256"`
	ModelID   string    `gorm:"size:128;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Messages []messageRow `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (sessionRow) TableName() string { return "sessions" }

// messageRow is the gorm model backing types.Message. Tool calls are
// stored as a JSON column.
type messageRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"size:36;not null;index"`
	Role      string `gorm:"size:16;not null"`
	Content   string `gorm:"type:text"`
	ToolCalls string `gorm:"type:json"`
	CreatedAt time.Time
}

func (messageRow) TableName() string { return "messages" }

func toSession(row *sessionRow) *types.Session {
	return &types.Session{
		ID:        types.SessionID(row.ID),
		Title:     row.Title,
		ModelID:   row.ModelID,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func toMessage(row *messageRow) (*types.Message, error) {
	msg := &types.Message{
		ID:        types.MessageID(row.ID),
		SessionID: types.SessionID(row.SessionID),
		Role:      types.Role(row.Role),
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
	}
	if row.ToolCalls != "" {
		if err := json.Unmarshal([]byte(row.ToolCalls), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls for message %s: %w", row.ID, err)
		}
	}
	return msg, nil
}

func fromMessage(msg *types.Message) (*messageRow, error) {
	row := &messageRow{
		ID:        string(msg.ID),
		SessionID: string(msg.SessionID),
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("marshal tool calls: %w", err)
		}
		row.ToolCalls = string(data)
	}
	return row, nil
}
