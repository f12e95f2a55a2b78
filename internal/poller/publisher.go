package poller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher announces logouts so every instance drops the user's cart.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(topic string, brokers ...string) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w}
}

// PublishLogout has the shape of a session logout hook.
func (p *Publisher) PublishLogout(ctx context.Context, userID string) error {
	payload, err := json.Marshal(SessionEvent{Event: EventLogout, UserID: userID})
	if err != nil {
		return fmt.Errorf("marshal logout event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(userID), // keeps one user's events ordered
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventLogout)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish logout event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
