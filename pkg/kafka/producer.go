package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fluxpay/engine/pkg/logger"
)

// Producer publishes outbox events to Kafka. It satisfies the BrokerProducer
// interface internal/outbox depends on.
type Producer struct {
	writer *kafka.Writer
	cfg    Config
}

// NewProducer builds a Producer. Partitioning is by message key so that all
// events for a given aggregate land on the same partition and preserve order.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	logger.Info().Strs("brokers", cfg.Brokers).Msg("kafka producer created")

	return &Producer{writer: writer, cfg: cfg}, nil
}

// Publish ships a single message, adding trace/correlation headers from ctx
// when not already present in headers.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	merged := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		merged[k] = v
	}
	if _, ok := merged[HeaderTraceID]; !ok {
		if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
			merged[HeaderTraceID] = traceID
		}
	}
	if _, ok := merged[HeaderCorrelation]; !ok {
		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			merged[HeaderCorrelation] = correlationID
		}
	}

	msg := &Message{Key: key, Value: value, Topic: topic, Headers: merged, Time: time.Now()}

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		logger.Error().Err(err).Str("topic", topic).Str("key", string(key)).Msg("kafka publish failed")
		return fmt.Errorf("publishing to kafka: %w", err)
	}

	logger.Debug().Str("topic", topic).Str("key", string(key)).Msg("kafka message published")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("closing kafka producer: %w", err)
	}
	return nil
}
