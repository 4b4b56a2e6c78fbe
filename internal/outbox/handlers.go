package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// LoggingHandler logs events that have no other consumer
type LoggingHandler struct {
	logger logger.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{
		logger: logger,
	}
}

// HandleMessage logs the event envelope
func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	var data map[string]interface{}

	event, err := models.DecodeEvent(message, &data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal outbox message: %w", err)
	}

	h.logger.Info("Handling outbox message",
		"messageID", message.ID,
		"eventType", message.EventType,
		"aggregateID", message.AggregateID,
		"eventID", event.EventID,
		"occurredAt", event.OccurredAt)

	return nil
}

// Notifier sends a chat message to a client
type Notifier interface {
	SendNotificationWithRetry(ctx context.Context, chatID int64, text string) bool
}

// NotificationHandler delivers client_notification_requested events
type NotificationHandler struct {
	notifier Notifier
	logger   logger.Logger
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(notifier Notifier, logger logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifier: notifier,
		logger:   logger,
	}
}

// HandleMessage sends the notification text. A failed send is returned as
// an error so the processor requeues the message.
func (h *NotificationHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	var note models.ClientNotification
	if _, err := models.DecodeEvent(message, &note); err != nil {
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	if note.ChatID == 0 {
		h.logger.Warn("Dropping notification without chat", "messageID", message.ID, "orderID", note.OrderID)
		return nil
	}

	if !h.notifier.SendNotificationWithRetry(ctx, note.ChatID, note.Text) {
		return fmt.Errorf("notification for order %s to client %s not delivered", note.OrderID, note.ClientID)
	}

	h.logger.Info("Client notified", "orderID", note.OrderID, "clientID", note.ClientID)
	return nil
}
