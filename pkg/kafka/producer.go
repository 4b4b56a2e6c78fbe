package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Shopify/sarama"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// Publisher sends keyed messages to a topic
type Publisher interface {
	SendMessage(ctx context.Context, topic string, key string, value []byte, headers map[string]string) error
	Close() error
}

// ProducerConfig holds the broker connection settings
type ProducerConfig struct {
	Brokers  []string
	ClientID string
}

// Producer is a wrapper around the Sarama producer
type Producer struct {
	producer sarama.SyncProducer
	logger   logger.Logger
}

// NewProducer creates an idempotent Kafka producer that waits for all replicas
func NewProducer(cfg ProducerConfig, logger logger.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	if cfg.ClientID != "" {
		config.ClientID = cfg.ClientID
	}
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 10
	config.Producer.Return.Successes = true
	config.Producer.Retry.Backoff = 500 * time.Millisecond
	config.Producer.Timeout = 5 * time.Second
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewProducerFromSync(producer, logger), nil
}

// NewProducerFromSync wraps an existing sarama producer
func NewProducerFromSync(producer sarama.SyncProducer, logger logger.Logger) *Producer {
	return &Producer{
		producer: producer,
		logger:   logger,
	}
}

// SendMessage publishes value to topic. Messages with the same key land on
// the same partition.
func (p *Producer) SendMessage(ctx context.Context, topic string, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send cancelled: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}

	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	msg.Headers = recordHeaders(headers)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("Failed to send message to Kafka",
			"error", err,
			"topic", topic,
			"key", key)
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	p.logger.Debug("Message sent to Kafka",
		"topic", topic,
		"key", key,
		"partition", partition,
		"offset", offset)

	return nil
}

func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}
	return out
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
