package activity

import (
	"context"
	"fmt"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/Tyrowin/roomrelay/internal/room"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes activity to a Kafka topic keyed by room ID, so every
// event of one room lands on the same partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a writer for cfg.KafkaTopic.
func NewKafkaSink(cfg Config) (*KafkaSink, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Printf("Publishing room activity to kafka topic %q via %v", cfg.KafkaTopic, cfg.KafkaBrokers)
	return newKafkaSink(writer, cfg.KafkaTopic), nil
}

func newKafkaSink(w messageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

// Publish writes one message for the activity.
func (s *KafkaSink) Publish(ctx context.Context, a room.Activity) error {
	payload, err := Encode(a)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(a.RoomID),
		Value: payload,
		Time:  a.At,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
