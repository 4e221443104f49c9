package main

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/polylog/internal/archive"
	"github.com/suPer8Hu/polylog/internal/models"
	"github.com/suPer8Hu/polylog/internal/store/rabbitmq"
)

const (
	maxAttempts  = 3
	retryDelay   = 5 * time.Second
	retryHeader  = "x-retry-count"
	insertWindow = 10 * time.Second
)

type messageInserter interface {
	Insert(ctx context.Context, m *models.ArchivedMessage) error
}

// handleDelivery persists one archive message. Malformed bodies return
// rabbitmq.ErrBadMessage and must not be retried.
func handleDelivery(ctx context.Context, repo messageInserter, body []byte) error {
	m, err := rabbitmq.DecodeEvent(body)
	if err != nil {
		return err
	}
	ictx, cancel := context.WithTimeout(ctx, insertWindow)
	defer cancel()
	return repo.Insert(ictx, archive.ToModel(m.ConversationID, m.Event))
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// scheduleRetry parks the message on the retry queue; its TTL dead-letters
// it back onto the main queue.
func scheduleRetry(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery, attempt int) error {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(pctx, "", queue+".retry", false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Body:         d.Body,
		Expiration:   strconv.FormatInt(retryDelay.Milliseconds(), 10),
		Headers:      amqp.Table{retryHeader: int32(attempt)},
		Timestamp:    time.Now(),
	})
}
