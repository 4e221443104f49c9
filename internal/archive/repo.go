package archive

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/polylog/internal/chat"
	"github.com/suPer8Hu/polylog/internal/models"
)

func ToModel(conversationID string, ev chat.Event) *models.ArchivedMessage {
	return &models.ArchivedMessage{
		EventID:        ev.ID,
		ConversationID: conversationID,
		UserID:         ev.UserID,
		UserName:       ev.UserName,
		Content:        ev.Content,
		IsAIMessage:    ev.IsAIMessage,
		SentAt:         ev.Timestamp,
	}
}

func FromModel(m models.ArchivedMessage) chat.Event {
	return chat.Event{
		ID:          m.EventID,
		UserID:      m.UserID,
		UserName:    m.UserName,
		Content:     m.Content,
		IsAIMessage: m.IsAIMessage,
		Timestamp:   m.SentAt.UTC(),
	}
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Insert is idempotent on the event id.
func (r *Repo) Insert(ctx context.Context, m *models.ArchivedMessage) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(m).Error
}

func (r *Repo) Store(ctx context.Context, conversationID string, ev chat.Event) error {
	return r.Insert(ctx, ToModel(conversationID, ev))
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, conversationID string, limit int, beforeID uint64) ([]models.ArchivedMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []models.ArchivedMessage
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
