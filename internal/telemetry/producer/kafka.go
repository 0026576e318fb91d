package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"codescope/backend/internal/logging"
	"codescope/backend/internal/telemetry/domain"
)

// messageWriter is the subset of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	writer messageWriter
	topic  string
	log    logging.Logger
}

// NewKafkaProducer creates a producer that writes classified records to topic. It returns nil when
// brokers or topic are empty, which disables mirroring. Call Close when shutting down.
func NewKafkaProducer(brokers []string, topic string, log logging.Logger) *KafkaProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	log = logging.OrDiscard(log).WithField("topic", topic)
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.WithError(err).WithField("messages", len(msgs)).Warn("telemetry: kafka mirror write failed")
			}
		},
	}
	return &KafkaProducer{writer: writer, topic: topic, log: log}
}

// Publish serializes rec as JSON and queues it on the topic. Messages are keyed by session id so one
// session's records stay ordered within a partition; records without a session get a random key.
func (p *KafkaProducer) Publish(ctx context.Context, rec *domain.ClassifiedMetric) error {
	if p == nil || p.writer == nil || rec == nil {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := rec.SessionID
	if key == "" {
		key = uuid.NewString()
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(rec.Category)},
			{Key: "kind", Value: []byte(rec.Kind)},
		},
	})
}

// Close flushes and closes the Kafka writer. Safe to call on a nil producer.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
