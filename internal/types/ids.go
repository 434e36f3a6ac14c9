package types

import "github.com/google/uuid"

type SessionID string
type MessageID string
type CallID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}
