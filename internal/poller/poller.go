package poller

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const EventLogout = "logout"

// CartClearer empties a user's cart.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

// SessionEvent is published by the auth service when a session changes.
type SessionEvent struct {
	Event  string `json:"event"`
	UserID string `json:"user_id"`
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Poller clears carts of users whose session ended elsewhere.
type Poller struct {
	carts  CartClearer
	reader messageReader
	log    *logrus.Entry
}

func NewPoller(carts CartClearer, log *logrus.Entry, topic, groupID string, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, reader: reader, log: log}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.readAndClearCart(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.WithError(err).Error("error closing reader")
	}
}

func (p *Poller) readAndClearCart(ctx context.Context) {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.WithError(err).Error("error reading message")
		}
		return
	}
	p.handle(ctx, m)
}

func (p *Poller) handle(ctx context.Context, m kafka.Message) {
	log := p.log.WithFields(logrus.Fields{
		"partition": m.Partition,
		"offset":    m.Offset,
	})

	var event SessionEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		log.WithError(err).Warn("error parsing message")
		return
	}
	if event.Event != EventLogout {
		log.WithField("event", event.Event).Debug("ignoring session event")
		return
	}
	if event.UserID == "" {
		log.Warn("missing user_id in logout event")
		return
	}

	if err := p.carts.Clear(ctx, event.UserID); err != nil {
		log.WithError(err).WithField("user_id", event.UserID).Error("failed to clear cart")
		return
	}
	log.WithField("user_id", event.UserID).Info("cart cleared after logout")
}
