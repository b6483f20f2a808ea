package model

import (
	"time"

	"gorm.io/datatypes"
)

// MetaCorrelationKey is the metadata field carrying the client-generated
// correlation id. It travels in the broadcast payload and is persisted
// with the row, so the two arrivals of one message can be joined exactly.
const MetaCorrelationKey = "correlation_id"

// Message is the canonical, persisted form of a chat message. The ID is
// server-assigned and absent until the database has confirmed the row.
type Message struct {
	ID      string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TopicID string            `gorm:"index;not null;type:varchar(64)" json:"topic_id"`
	Body    string            `gorm:"column:message;type:text;not null" json:"message"`
	UserID  string            `gorm:"index;not null;type:varchar(64)" json:"user_id"`
	SeqID   int64             `gorm:"index" json:"seq_id"`
	Meta    datatypes.JSONMap `gorm:"type:jsonb" json:"meta,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`

	// Profile is attached only when the join against the profile store
	// succeeds; nil otherwise.
	Profile *Profile `gorm:"foreignKey:UserID;references:ID" json:"profile,omitempty"`
}

func (Message) TableName() string {
	return "messages"
}

// CorrelationID returns the client correlation id carried in the row
// metadata, or "" when the writer did not set one.
func (m *Message) CorrelationID() string {
	if m.Meta == nil {
		return ""
	}
	if v, ok := m.Meta[MetaCorrelationKey].(string); ok {
		return v
	}
	return ""
}

// BroadcastMessage is the ephemeral, optimistic form of a message sent
// over the realtime channel before the row is committed. It has no
// server identity; matching against the later persisted row is done by
// correlation id or by content and timestamp proximity.
type BroadcastMessage struct {
	Body      string         `json:"message"`
	UserID    string         `json:"user_id"`
	CreatedAt time.Time      `json:"created_at"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// CorrelationID returns the client correlation id from the payload
// metadata, or "" when absent.
func (b *BroadcastMessage) CorrelationID() string {
	if b.Meta == nil {
		return ""
	}
	if v, ok := b.Meta[MetaCorrelationKey].(string); ok {
		return v
	}
	return ""
}
