// Package events publishes journal outcomes to downstream consumers after commit.
// Publishing is best effort: a failed publish is logged and never undoes ledger state.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/ayo6706/ledger-engine/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TypeJournalCompleted = "journal.completed"
	TypeJournalFailed    = "journal.failed"

	DefaultRedisChannel = "ledger_events"
)

// Event describes one finalized journal entry.
type Event struct {
	Type          string    `json:"event_type"`
	EntryID       string    `json:"entry_id"`
	Seq           int64     `json:"seq"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	Fee           string    `json:"fee,omitempty"`
	Currency      string    `json:"currency"`
	FromAccountID string    `json:"from_account_id,omitempty"`
	ToAccountID   string    `json:"to_account_id,omitempty"`
	FromUserID    string    `json:"from_user_id,omitempty"`
	ToUserID      string    `json:"to_user_id,omitempty"`
	ReferenceID   string    `json:"reference_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// FromEntry builds the event for a finalized entry.
func FromEntry(e *models.JournalEntry) Event {
	ev := Event{
		Type:        TypeJournalCompleted,
		EntryID:     e.ID.String(),
		Seq:         e.Seq,
		Kind:        e.Kind,
		Status:      e.Status,
		Amount:      domain.FormatAmount(e.Amount),
		Currency:    e.Currency,
		ReferenceID: e.ReferenceID,
		Timestamp:   e.UpdatedAt,
	}
	if e.Status == domain.StatusFailed {
		ev.Type = TypeJournalFailed
	}
	if e.Fee > 0 {
		ev.Fee = domain.FormatAmount(e.Fee)
	}
	if e.FinalizedAt != nil {
		ev.Timestamp = *e.FinalizedAt
	}
	if e.FromAccountID != nil {
		ev.FromAccountID = e.FromAccountID.String()
	}
	if e.ToAccountID != nil {
		ev.ToAccountID = e.ToAccountID.String()
	}
	if e.FromUserID != nil {
		ev.FromUserID = e.FromUserID.String()
	}
	if e.ToUserID != nil {
		ev.ToUserID = e.ToUserID.String()
	}
	return ev
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// PublishEntries publishes finalized entries and logs failures.
func PublishEntries(ctx context.Context, p Publisher, entries ...*models.JournalEntry) {
	if p == nil || len(entries) == 0 {
		return
	}
	evs := make([]Event, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Status == domain.StatusPending {
			continue
		}
		evs = append(evs, FromEntry(e))
	}
	if len(evs) == 0 {
		return
	}
	if err := p.Publish(ctx, evs...); err != nil {
		zap.L().Warn("failed to publish journal events", zap.Error(err), zap.Int("count", len(evs)))
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }

// RedisPublisher publishes JSON events on a pub/sub channel.
type RedisPublisher struct {
	rdb     redis.Cmdable
	channel string
}

func NewRedisPublisher(rdb redis.Cmdable, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, events ...Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by entry id.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher builds an async batching writer for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			zap.L().Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			zap.L().Warn(fmt.Sprintf(msg, args...))
		}),
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.EntryID),
			Value: payload,
			Time:  ev.Timestamp,
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write kafka messages: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Multi fans events out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
