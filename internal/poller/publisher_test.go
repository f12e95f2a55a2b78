package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mu   sync.RWMutex
	msgs []kafkaGo.Message
	err  error
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error { return nil }

func TestPublishLogout(t *testing.T) {
	w := &mockWriter{}
	p := &Publisher{writer: w}

	require.NoError(t, p.PublishLogout(context.Background(), "42"))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte("42"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)

	var event SessionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, SessionEvent{Event: EventLogout, UserID: "42"}, event)
}

func TestPublishLogout_WriteError(t *testing.T) {
	p := &Publisher{writer: &mockWriter{err: errors.New("broker down")}}

	err := p.PublishLogout(context.Background(), "42")
	assert.ErrorContains(t, err, "broker down")
}

func TestPublishedEventIsConsumed(t *testing.T) {
	w := &mockWriter{}
	pub := &Publisher{writer: w}
	require.NoError(t, pub.PublishLogout(context.Background(), "9"))

	carts := &mockClearer{}
	p := &Poller{carts: carts, reader: &sliceReader{}, log: testLogger()}
	p.handle(context.Background(), w.msgs[0])

	assert.Equal(t, []string{"9"}, carts.Cleared())
}
