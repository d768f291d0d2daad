package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roach88/abxfeed/internal/feed"
)

// MessageWriter is the part of *kafka.Writer the Kafka sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per packet, keyed by symbol so every symbol
// keeps its order within a partition.
type Kafka struct {
	writer MessageWriter
}

// NewKafka creates a Kafka sink writing synchronously to topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	})
}

// NewKafkaWithWriter creates a Kafka sink on an existing writer.
func NewKafkaWithWriter(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Write(ctx context.Context, res *feed.Result) error {
	if len(res.Packets) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(res.Packets))
	for _, p := range res.Packets {
		value, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("kafka: encode packet %d: %w", p.Sequence, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(p.Symbol),
			Value: value,
			Headers: []kafka.Header{
				{Key: "run_id", Value: []byte(res.RunID)},
				{Key: "sequence", Value: []byte(strconv.Itoa(int(p.Sequence)))},
			},
		})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: publish %d packets: %w", len(msgs), err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
