package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/polylog/internal/chat"
)

var ErrBadMessage = errors.New("rabbitmq: bad archive message")

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// EventMessage is the archive queue payload.
type EventMessage struct {
	ConversationID string     `json:"conversation_id"`
	Event          chat.Event `json:"event"`
}

func EncodeEvent(conversationID string, ev chat.Event) ([]byte, error) {
	return json.Marshal(EventMessage{ConversationID: conversationID, Event: ev})
}

func DecodeEvent(body []byte) (EventMessage, error) {
	var m EventMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return EventMessage{}, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	if m.ConversationID == "" || m.Event.ID == "" {
		return EventMessage{}, fmt.Errorf("%w: missing conversation or event id", ErrBadMessage)
	}
	return m, nil
}

// DeclareTopology declares the main queue plus its retry and dead-letter
// queues. Publisher and worker both call it so either may start first.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Healthy reports whether the broker connection is still open.
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && !p.conn.IsClosed()
}

func (p *Publisher) PublishEvent(ctx context.Context, conversationID string, ev chat.Event) error {
	body, err := EncodeEvent(conversationID, ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// Store lets the publisher act as an archive sink.
func (p *Publisher) Store(ctx context.Context, conversationID string, ev chat.Event) error {
	return p.PublishEvent(ctx, conversationID, ev)
}
