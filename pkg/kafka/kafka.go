// Package kafka wraps segmentio/kafka-go for the outbox publisher's broker leg.
package kafka

import (
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fluxpay/engine/pkg/logger"
)

// Header keys carried on every published message.
const (
	HeaderEventID     = "event-id"
	HeaderEventType   = "event-type"
	HeaderTenantID    = "tenant-id"
	HeaderTraceID     = "trace_id"
	HeaderCorrelation = "correlation_id"
)

// Config holds the broker connection settings.
type Config struct {
	Brokers []string
	Topic   string
}

// Message is a broker-agnostic outbound message.
type Message struct {
	Key     []byte
	Value   []byte
	Topic   string
	Headers map[string]string
	Time    time.Time
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Topic:   m.Topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: headers,
		Time:    m.Time,
	}
}

// TopicConfig describes a topic to provision at startup.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
}

// EnsureTopics creates topics that do not yet exist. Safe to call on every
// startup — existing topics are left untouched.
func EnsureTopics(brokers []string, topics []TopicConfig) error {
	if len(brokers) == 0 {
		return nil
	}

	log := logger.Logger()

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer func() { _ = controllerConn.Close() }()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, t := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             t.Name,
			NumPartitions:     t.NumPartitions,
			ReplicationFactor: t.ReplicationFactor,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		log.Warn().Err(err).Msg("error creating topics (may already exist)")
	}

	for _, t := range topics {
		log.Info().Str("topic", t.Name).Int("partitions", t.NumPartitions).Msg("topic ensured")
	}

	return nil
}

// DefaultTopics returns the topic layout FluxPay provisions at startup.
func DefaultTopics(eventsTopic string) []TopicConfig {
	return []TopicConfig{
		{Name: eventsTopic, NumPartitions: 6, ReplicationFactor: 1},
	}
}
