package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eventtix/internal/logger"

	"github.com/segmentio/kafka-go"
)

// EventUpdate is the part of an event service message this service needs.
type EventUpdate struct {
	EventID string `json:"eventId"`
	ID      string `json:"id"`
}

func (u EventUpdate) Target() string {
	if u.EventID != "" {
		return u.EventID
	}
	return u.ID
}

// Read errors back off from minReadBackoff, doubling up to maxReadBackoff.
const (
	minReadBackoff = 500 * time.Millisecond
	maxReadBackoff = 30 * time.Second
)

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader     messageReader
	topic      string
	logger     *logger.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, topic: topic, logger: log, minBackoff: minReadBackoff, maxBackoff: maxReadBackoff}
}

func decodeEventUpdate(msg kafka.Message) (EventUpdate, error) {
	var u EventUpdate
	if err := json.Unmarshal(msg.Value, &u); err != nil {
		return u, err
	}
	if u.Target() == "" {
		u.EventID = string(msg.Key)
	}
	if u.Target() == "" {
		return u, errors.New("message carries no event id")
	}
	return u, nil
}

// Run reads event updates until ctx ends and hands each to handle.
// Unreadable messages are logged and skipped. While the broker is
// unreachable reads are retried with a growing delay.
func (c *Consumer) Run(ctx context.Context, handle func(ctx context.Context, u EventUpdate) error) error {
	c.logger.LogKafka("CONSUME", c.topic, "consumer started")
	backoff := c.minBackoff
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading message, retrying in %s: %v", backoff, err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff

		u, err := decodeEventUpdate(msg)
		if err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Skipping message at offset %d: %v", msg.Offset, err))
			continue
		}
		if err := handle(ctx, u); err != nil {
			c.logger.Error("KAFKA", fmt.Sprintf("Failed to apply update for event %s: %v", u.Target(), err))
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
