package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/kafka"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	logger    logger.Logger
	publisher kafka.Publisher
	topic     string
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(publisher kafka.Publisher, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// HandleMessage publishes the event envelope keyed by order ID, so events of
// one order stay on one partition
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	key := message.AggregateID

	h.logger.Debug("Publishing message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	headers := map[string]string{
		"event_type":     message.EventType,
		"aggregate_type": message.AggregateType,
	}

	if err := h.publisher.SendMessage(ctx, h.topic, key, message.Payload, headers); err != nil {
		h.logger.Error("Failed to publish message to Kafka",
			"error", err,
			"messageID", message.ID,
			"aggregateID", message.AggregateID)
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Info("Successfully published message to Kafka",
		"messageID", message.ID,
		"aggregateID", message.AggregateID)

	return nil
}

// FanOut runs several handlers for one event type, stopping at the first error
type FanOut []MessageHandler

// HandleMessage implements MessageHandler
func (f FanOut) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	for _, h := range f {
		if err := h.HandleMessage(ctx, message); err != nil {
			return err
		}
	}
	return nil
}
