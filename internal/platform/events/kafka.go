// Package events publishes committed domain events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer defines the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope wraps every payload with its type and publication time.
type Envelope struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// KafkaPublisher writes JSON envelopes keyed by aggregate id so events for one
// counterparty or product stay ordered within a partition.
type KafkaPublisher struct {
	writer Writer
	logger *slog.Logger
	now    func() time.Time
}

// NewKafkaPublisher connects a hash-balanced writer to the brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return NewKafkaPublisherWithWriter(w, logger)
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{writer: w, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Publish marshals the envelope to JSON and writes it with the given key.
func (p *KafkaPublisher) Publish(ctx context.Context, key, eventType string, payload any) error {
	body, err := json.Marshal(Envelope{Type: eventType, Key: key, OccurredAt: p.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   body,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write %s: %w", eventType, err)
	}
	p.logger.Debug("event published", slog.String("type", eventType), slog.String("key", key))
	return nil
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Discard drops every event. It is used when no brokers are configured.
type Discard struct{}

// Publish implements the publisher contract without side effects.
func (Discard) Publish(context.Context, string, string, any) error { return nil }

// Close implements io.Closer.
func (Discard) Close() error { return nil }
