package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventtix/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Publisher sends one JSON message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type Producer struct {
	Writer *kafka.Writer
	Logger *logger.Logger
}

// NewProducer returns an asynchronous producer: Publish hands the message to
// the writer and delivery failures are logged from the completion callback.
func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range messages {
				log.Error("KAFKA", fmt.Sprintf("Failed to deliver %s to %s: %v", string(m.Key), m.Topic, err))
			}
		},
	}
	return &Producer{Writer: writer, Logger: log}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.Logger.LogKafka("PUBLISH", topic, key)
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
}

// Close flushes pending messages.
func (p *Producer) Close() error {
	return p.Writer.Close()
}
