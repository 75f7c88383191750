// Package events carries expense change notices over AMQP so that every
// running client of an identity can reload after another one mutates.
package events

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"spesync/internal/log"
)

const routingPrefix = "expenses."

// Handler processes one change notice. Returning an error requeues it.
type Handler func(ctx context.Context, msg *ChangeMessage) error

type Client struct {
	url      string
	exchange string
	origin   string
	logger   *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Dial connects and declares the topic exchange.
func Dial(url, exchange string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	c := &Client{
		url:      url,
		exchange: exchange,
		origin:   uuid.NewString(),
		logger:   logger.WithComponent(log.ComponentAMQP),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Origin identifies this client in the notices it publishes.
func (c *Client) Origin() string {
	return c.origin
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		c.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()
	return nil
}

// routingKey hex-encodes username so the key is a single word free of
// topic wildcards and distinct usernames never share a key.
func routingKey(username string) string {
	return routingPrefix + hex.EncodeToString([]byte(username))
}

// ExpenseChanged publishes a change notice for username.
func (c *Client) ExpenseChanged(ctx context.Context, username, expenseID, op string) error {
	body, err := NewChangeMessage(c.origin, username, expenseID, op).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return errors.New("publish: channel closed")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		c.exchange,
		routingKey(username),
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Transient,
			Timestamp:    time.Now(),
			MessageId:    uuid.NewString(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	c.logger.DebugContext(ctx, "Published change notice",
		log.FieldUsername, username,
		log.FieldExpenseID, expenseID,
		log.FieldOperation, op)
	return nil
}

// Consume delivers notices for username to h until ctx is done. Notices
// published by this client are acknowledged and skipped.
func (c *Client) Consume(ctx context.Context, username string, h Handler) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return errors.New("consume: channel closed")
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey(username), c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Consuming change notices", log.FieldUsername, username)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			c.handle(ctx, username, d, h)
		}
	}
}

// ConsumeWithRetry keeps Consume running across connection losses,
// backing off exponentially between attempts.
func (c *Client) ConsumeWithRetry(ctx context.Context, username string, h Handler) error {
	for attempt := 0; ; attempt++ {
		err := c.Consume(ctx, username, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isConnectionError(err) {
			return err
		}
		wait := exponentialBackoff(attempt)
		c.logger.WarnContext(ctx, "Change notice consumer lost connection, retrying",
			log.FieldError, fmt.Sprint(err), "retry_in", wait.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if err := c.reconnect(); err != nil {
			c.logger.WarnContext(ctx, "Reconnect failed", log.FieldError, err.Error())
			continue
		}
		attempt = -1
	}
}

func (c *Client) reconnect() error {
	c.closeConn()
	return c.connect()
}

func (c *Client) handle(ctx context.Context, username string, d amqp091.Delivery, h Handler) {
	msg, err := ChangeMessageFromJSON(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to decode change notice", log.FieldError, err.Error())
		_ = d.Nack(false, false)
		return
	}
	if msg.Origin == c.origin || msg.Username != username {
		_ = d.Ack(false)
		return
	}
	if err := h(ctx, msg); err != nil {
		c.logger.ErrorContext(ctx, "Failed to handle change notice",
			log.FieldError, err.Error(),
			log.FieldOperation, msg.Operation)
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}

func (c *Client) Close() error {
	return c.closeConn()
}

func (c *Client) closeConn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil && !errors.Is(err, amqp091.ErrClosed) {
			return err
		}
	}
	return nil
}

// exponentialBackoff returns 1s, 2s, 4s ... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return 30 * time.Second
	}
	d := time.Second << attempt
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection closed", "EOF", "broken pipe", "closed network connection", "channel closed", "dial AMQP"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
