package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer drains the events queue and appends one line per event to an
// audit log file.
type Consumer struct {
	url     string
	logPath string
	log     zerolog.Logger
}

// NewConsumer returns a consumer writing to logPath (logs/rsvp.log when
// empty).
func NewConsumer(url, logPath string, log zerolog.Logger) *Consumer {
	if url == "" {
		url = BrokerURL()
	}
	if logPath == "" {
		logPath = filepath.Join("logs", "rsvp.log")
	}
	return &Consumer{url: url, logPath: logPath, log: log}
}

// Run connects to the broker and consumes until ctx is cancelled,
// reconnecting with exponential backoff capped at 30 seconds.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("event-consumer: dial failed")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("event-consumer: consume loop ended, reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("event-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(EventsQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(EventsQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				c.log.Warn().Err(err).Msg("event-consumer: handle message failed")
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(body []byte) error {
	line, err := FormatLine(body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders an envelope as a single human-readable log line.
func FormatLine(body []byte) (string, error) {
	var env struct {
		Type       string          `json:"type"`
		OccurredAt string          `json:"occurred_at"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}
	switch env.Type {
	case RsvpCommitted{}.Type():
		var ev RsvpCommitted
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return "", fmt.Errorf("unmarshal payload: %w", err)
		}
		return fmt.Sprintf("[%s] RSVP %s | room_id=%s | user_id=%s | booked=%d/%d | waitlist=%d\n",
			env.OccurredAt, ev.Status, ev.RoomID, ev.UserID, ev.BookedCount, ev.Capacity, ev.WaitlistCount), nil
	case RsvpCancelled{}.Type():
		var ev RsvpCancelled
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return "", fmt.Errorf("unmarshal payload: %w", err)
		}
		return fmt.Sprintf("[%s] RSVP CANCELLED | room_id=%s | user_id=%s | was=%s\n",
			env.OccurredAt, ev.RoomID, ev.UserID, ev.PreviousStatus), nil
	case AudienceJoined{}.Type():
		var ev AudienceJoined
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return "", fmt.Errorf("unmarshal payload: %w", err)
		}
		return fmt.Sprintf("[%s] JOIN | room_id=%s | user_id=%s | session=%s | returning=%t\n",
			env.OccurredAt, ev.RoomID, ev.UserID, ev.SessionKey, ev.Returning), nil
	case LedgerDrift{}.Type():
		var ev LedgerDrift
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return "", fmt.Errorf("unmarshal payload: %w", err)
		}
		return fmt.Sprintf("[%s] DRIFT | room_id=%s | user_id=%s | outcome=%s | reason=%q\n",
			env.OccurredAt, ev.RoomID, ev.UserID, ev.Outcome, ev.Reason), nil
	}
	return "", fmt.Errorf("unknown event type %q", env.Type)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
