package chat

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/suPer8Hu/polylog/internal/common"
)

const (
	SystemName    = "System"
	AnonymousName = "Anonymous User"
	PingContent   = "ping"
)

// Event is the envelope every client receives. UserID is nil for system and
// AI-authored events. Events are values and are never mutated after broadcast.
type Event struct {
	ID          string    `json:"id"`
	UserID      *string   `json:"userId"`
	UserName    string    `json:"userName"`
	Content     string    `json:"content"`
	IsAIMessage bool      `json:"isAiMessage"`
	Timestamp   time.Time `json:"timestamp"`
}

func newEvent(userID *string, userName, content string, isAI bool) Event {
	now := time.Now().UTC()
	id, err := common.NewULIDAt(now)
	if err != nil {
		id = strconv.FormatInt(now.UnixNano(), 10)
	}
	return Event{
		ID:          id,
		UserID:      userID,
		UserName:    userName,
		Content:     content,
		IsAIMessage: isAI,
		Timestamp:   now,
	}
}

// HumanEvent wraps text sent by a connected participant.
func HumanEvent(userID, userName, content string) Event {
	var uid *string
	if userID != "" {
		uid = &userID
	}
	return newEvent(uid, userName, content, false)
}

// AIEvent wraps a reply authored by the automated participant.
func AIEvent(aiName, content string) Event {
	return newEvent(nil, aiName, content, true)
}

// SystemEvent wraps join/leave/welcome notices and liveness probes.
func SystemEvent(content string) Event {
	return newEvent(nil, SystemName, content, false)
}

func (e Event) IsSystem() bool {
	return e.UserID == nil && !e.IsAIMessage && e.UserName == SystemName
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
