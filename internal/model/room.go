package model

import (
	"time"
)

// Room is a chat topic: it scopes messages and the realtime channel.
type Room struct {
	ID   string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name string `gorm:"not null;type:varchar(255)" json:"name"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Room) TableName() string {
	return "rooms"
}
