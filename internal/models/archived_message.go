package models

import "time"

// ArchivedMessage is one human or AI chat event persisted after broadcast.
// EventID is unique so redelivered queue messages insert once.
type ArchivedMessage struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	EventID        string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"id"`
	ConversationID string    `gorm:"type:varchar(128);not null;index:idx_archived_conv_sent,priority:1" json:"conversation_id"`
	UserID         *string   `gorm:"type:varchar(64);index" json:"user_id"`
	UserName       string    `gorm:"type:varchar(64);not null" json:"user_name"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	IsAIMessage    bool      `gorm:"not null;default:false" json:"is_ai_message"`
	SentAt         time.Time `gorm:"not null;index:idx_archived_conv_sent,priority:2" json:"sent_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (ArchivedMessage) TableName() string { return "archived_messages" }
