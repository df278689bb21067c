package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session is the persisted header of a conversation.
type Session struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Model         string    `json:"model"`
	AutoRetry     bool      `json:"autoRetry"`
	MaxRetryCount int       `json:"maxRetryCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MessageRecord stores one log entry. Position keeps log order.
type MessageRecord struct {
	ID        uint           `gorm:"primaryKey"`
	SessionID string         `gorm:"index;size:36"`
	Position  int            `gorm:"index"`
	MessageID string         `gorm:"size:36"`
	Payload   datatypes.JSON `gorm:"type:text"`
	CreatedAt time.Time
}
