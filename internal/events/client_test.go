package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spesync/internal/log"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, exponentialBackoff(tt.attempt))
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"refused", errors.New("dial AMQP: connection refused"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"closed sentinel", fmt.Errorf("publish: %w", amqp091.ErrClosed), true},
		{"message channel", errors.New("message channel closed"), true},
		{"other", errors.New("declare queue: access refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isConnectionError(tt.err))
		})
	}
}

func TestRoutingKeyIsPerUsername(t *testing.T) {
	assert.Equal(t, "expenses.616c696365", routingKey("alice"))
	assert.NotEqual(t, routingKey("alice"), routingKey("Alice"))

	for _, name := range []string{"*", "#", "a.b", "al*ce", "#.x"} {
		key := routingKey(name)
		word := key[len(routingPrefix):]
		assert.NotContains(t, word, "*", name)
		assert.NotContains(t, word, "#", name)
		assert.NotContains(t, word, ".", name)
	}
}

func TestChangeMessageFromJSON(t *testing.T) {
	msg := NewChangeMessage("origin-1", "alice", "42", log.OpDelete)
	body, err := msg.ToJSON()
	require.NoError(t, err)

	back, err := ChangeMessageFromJSON(body)
	require.NoError(t, err)
	assert.Equal(t, "alice", back.Username)
	assert.Equal(t, "42", back.ExpenseID)
	assert.Equal(t, log.OpDelete, back.Operation)

	_, err = ChangeMessageFromJSON([]byte(`{"operation":"create"}`))
	assert.Error(t, err)
	_, err = ChangeMessageFromJSON([]byte(`not json`))
	assert.Error(t, err)
}

type ackRecorder struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }
func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}
func (a *ackRecorder) Reject(uint64, bool) error { return nil }

func delivery(t *testing.T, ack *ackRecorder, msg *ChangeMessage, redelivered bool) amqp091.Delivery {
	t.Helper()
	body, err := msg.ToJSON()
	require.NoError(t, err)
	return amqp091.Delivery{Acknowledger: ack, Body: body, Redelivered: redelivered}
}

func TestHandle(t *testing.T) {
	c := &Client{origin: "me", logger: log.Discard()}
	ctx := context.Background()

	t.Run("own notices are skipped", func(t *testing.T) {
		ack := &ackRecorder{}
		called := false
		c.handle(ctx, "alice", delivery(t, ack, NewChangeMessage("me", "alice", "1", "create"), false),
			func(context.Context, *ChangeMessage) error { called = true; return nil })
		assert.False(t, called)
		assert.Equal(t, 1, ack.acked)
	})

	t.Run("foreign notices reach the handler", func(t *testing.T) {
		ack := &ackRecorder{}
		var got *ChangeMessage
		c.handle(ctx, "alice", delivery(t, ack, NewChangeMessage("other", "alice", "1", "update"), false),
			func(_ context.Context, m *ChangeMessage) error { got = m; return nil })
		require.NotNil(t, got)
		assert.Equal(t, "update", got.Operation)
		assert.Equal(t, 1, ack.acked)
	})

	t.Run("notices for another identity are skipped", func(t *testing.T) {
		ack := &ackRecorder{}
		called := false
		c.handle(ctx, "alice", delivery(t, ack, NewChangeMessage("other", "Alice", "1", "create"), false),
			func(context.Context, *ChangeMessage) error { called = true; return nil })
		assert.False(t, called)
		assert.Equal(t, 1, ack.acked)
	})

	t.Run("handler failure requeues once", func(t *testing.T) {
		fail := func(context.Context, *ChangeMessage) error { return errors.New("boom") }

		ack := &ackRecorder{}
		c.handle(ctx, "alice", delivery(t, ack, NewChangeMessage("other", "alice", "", "delete"), false), fail)
		assert.Equal(t, 1, ack.nacked)
		assert.True(t, ack.requeue)

		ack = &ackRecorder{}
		c.handle(ctx, "alice", delivery(t, ack, NewChangeMessage("other", "alice", "", "delete"), true), fail)
		assert.False(t, ack.requeue)
	})

	t.Run("undecodable bodies are dropped", func(t *testing.T) {
		ack := &ackRecorder{}
		c.handle(ctx, "alice", amqp091.Delivery{Acknowledger: ack, Body: []byte("{")}, nil)
		assert.Equal(t, 1, ack.nacked)
		assert.False(t, ack.requeue)
	})
}
