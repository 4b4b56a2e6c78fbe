package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Outbox event types
const (
	EventOrderCreated                = "order_created"
	EventOrderStatusChanged          = "order_status_changed"
	EventClientNotificationRequested = "client_notification_requested"
)

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent is the envelope stored in OutboxMessage.Payload
type OutboxMessageEvent struct {
	EventType   string          `json:"event_type"`
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// OrderStatusChanged is the data of an order_status_changed event
type OrderStatusChanged struct {
	OrderID         string      `json:"order_id"`
	ClientID        string      `json:"client_id"`
	OldStatus       OrderStatus `json:"old_status"`
	NewStatus       OrderStatus `json:"new_status"`
	Amount          string      `json:"amount"`
	RejectionReason *string     `json:"rejection_reason,omitempty"`
	Credits         []Credit    `json:"credits,omitempty"`
}

// Credit is a designer commission credited by a completion
type Credit struct {
	DesignerID string `json:"designer_id"`
	Amount     string `json:"amount"`
	Balance    string `json:"balance"`
}

// ClientNotification is the data of a client_notification_requested event
type ClientNotification struct {
	OrderID  string `json:"order_id"`
	ClientID string `json:"client_id"`
	ChatID   int64  `json:"chat_id"`
	Text     string `json:"text"`
}

// OrderCreated is the data of an order_created event
type OrderCreated struct {
	OrderID   string   `json:"order_id"`
	ClientID  string   `json:"client_id"`
	Amount    string   `json:"amount"`
	RachmaIDs []string `json:"rachma_ids"`
}

// NewOrderCreatedEvent creates a new event for order creation
func NewOrderCreatedEvent(order *Order, rachmaIDs []string) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderCreated, order.ID, OrderCreated{
		OrderID:   order.ID,
		ClientID:  order.ClientID,
		Amount:    order.Amount.StringFixed(2),
		RachmaIDs: rachmaIDs,
	})
}

// NewOrderStatusChangedEvent creates a new event for order status change
func NewOrderStatusChangedEvent(order *Order, oldStatus OrderStatus, credits []Credit) (*OutboxMessage, error) {
	return newOrderEvent(EventOrderStatusChanged, order.ID, OrderStatusChanged{
		OrderID:         order.ID,
		ClientID:        order.ClientID,
		OldStatus:       oldStatus,
		NewStatus:       order.Status,
		Amount:          order.Amount.StringFixed(2),
		RejectionReason: order.RejectionReason,
		Credits:         credits,
	})
}

// NewClientNotificationEvent queues a best-effort chat message to the client
func NewClientNotificationEvent(order *Order, chatID int64, text string) (*OutboxMessage, error) {
	return newOrderEvent(EventClientNotificationRequested, order.ID, ClientNotification{
		OrderID:  order.ID,
		ClientID: order.ClientID,
		ChatID:   chatID,
		Text:     text,
	})
}

func newOrderEvent(eventType, orderID string, data interface{}) (*OutboxMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	now := GetCurrentTime()
	event := OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateID("evt"),
		AggregateID: orderID,
		OccurredAt:  now,
		Data:        raw,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		EventType:     eventType,
		Payload:       payload,
		AggregateType: "order",
		AggregateID:   orderID,
		CreatedAt:     now,
		Status:        OutboxStatusPending,
	}, nil
}

// DecodeEvent unpacks the envelope and decodes its data into out
func DecodeEvent(message *OutboxMessage, out interface{}) (*OutboxMessageEvent, error) {
	var event OutboxMessageEvent
	if err := json.Unmarshal(message.Payload, &event); err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(event.Data, out); err != nil {
			return nil, err
		}
	}
	return &event, nil
}
