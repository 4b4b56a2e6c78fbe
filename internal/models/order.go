package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Valid reports whether s is one of the known statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusRejected:
		return true
	}
	return false
}

// Order represents a client's purchase of one or more rachmat.
// RachmaID is the legacy single-product reference; newer orders use order_items.
type Order struct {
	ID               string          `db:"id" json:"id"`
	ClientID         string          `db:"client_id" json:"client_id"`
	RachmaID         *string         `db:"rachma_id" json:"rachma_id,omitempty"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	PaymentMethod    string          `db:"payment_method" json:"payment_method"`
	PaymentProofPath *string         `db:"payment_proof_path" json:"payment_proof_path,omitempty"`
	Status           OrderStatus     `db:"status" json:"status"`
	AdminNotes       *string         `db:"admin_notes" json:"admin_notes,omitempty"`
	RejectionReason  *string         `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ConfirmedAt      *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	FileSentAt       *time.Time      `db:"file_sent_at" json:"file_sent_at,omitempty"`
	RejectedAt       *time.Time      `db:"rejected_at" json:"rejected_at,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is one line of a multi-product order
type OrderItem struct {
	ID        string          `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	RachmaID  string          `db:"rachma_id" json:"rachma_id"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// NewOrder creates a pending order for the given rachmat
func NewOrder(clientID string, amount decimal.Decimal, paymentMethod string) *Order {
	now := GetCurrentTime()

	return &Order{
		ID:            GenerateID("ord"),
		ClientID:      clientID,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		Status:        OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// MarkCompleted stamps the completion timestamps
func (o *Order) MarkCompleted(now time.Time) {
	o.Status = OrderStatusCompleted
	o.CompletedAt = &now
	o.ConfirmedAt = &now
	o.FileSentAt = &now
	o.RejectedAt = nil
	o.RejectionReason = nil
}

// MarkRejected records the rejection reason and timestamp. Existing notes
// stay when adminNotes is nil.
func (o *Order) MarkRejected(now time.Time, reason string, adminNotes *string) {
	o.Status = OrderStatusRejected
	o.RejectionReason = &reason
	o.RejectedAt = &now
	if adminNotes != nil {
		o.AdminNotes = adminNotes
	}
}

// Reopen moves a rejected order back to pending
func (o *Order) Reopen() {
	o.Status = OrderStatusPending
	o.RejectionReason = nil
	o.RejectedAt = nil
}
