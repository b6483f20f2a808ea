package model

import (
	"time"
)

// Profile is the author display profile row.
type Profile struct {
	ID       string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	FullName string `gorm:"type:varchar(255)" json:"full_name"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Profile) TableName() string {
	return "profiles"
}
