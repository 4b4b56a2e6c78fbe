package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rachma is an embroidery pattern sold by a designer
type Rachma struct {
	ID         string          `db:"id" json:"id"`
	DesignerID string          `db:"designer_id" json:"designer_id"`
	Title      string          `db:"title" json:"title"`
	Price      decimal.Decimal `db:"price" json:"price"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// RachmaFile is one downloadable artifact of a rachma
type RachmaFile struct {
	ID        string    `db:"id" json:"id"`
	RachmaID  string    `db:"rachma_id" json:"rachma_id"`
	Format    string    `db:"format" json:"format"`
	Path      string    `db:"path" json:"path"`
	Disk      string    `db:"disk" json:"disk"`
	Size      int64     `db:"size" json:"size"`
	IsPrimary bool      `db:"is_primary" json:"is_primary"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Client is a buyer. TelegramChatID is the delivery address.
type Client struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	TelegramChatID *int64    `db:"telegram_chat_id" json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// HasDeliveryAddress reports whether files can be pushed to the client
func (c *Client) HasDeliveryAddress() bool {
	return c != nil && c.TelegramChatID != nil && *c.TelegramChatID != 0
}

// Designer accumulates commission on completed orders
type Designer struct {
	ID           string          `db:"id" json:"id"`
	StoreName    string          `db:"store_name" json:"store_name"`
	Earnings     decimal.Decimal `db:"earnings" json:"earnings"`
	PaidEarnings decimal.Decimal `db:"paid_earnings" json:"paid_earnings"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// UnpaidEarnings is the balance not yet paid out
func (d *Designer) UnpaidEarnings() decimal.Decimal {
	return d.Earnings.Sub(d.PaidEarnings)
}

// EarningsEntry records one commission credit, keyed by order and designer
type EarningsEntry struct {
	ID             string          `db:"id" json:"id"`
	OrderID        string          `db:"order_id" json:"order_id"`
	DesignerID     string          `db:"designer_id" json:"designer_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	CommissionRate decimal.Decimal `db:"commission_rate" json:"commission_rate"`
	PolicyVersion  string          `db:"policy_version" json:"policy_version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// Artifact is a resolved, existing-on-disk file of an ordered rachma
type Artifact struct {
	FileID     string `json:"file_id"`
	RachmaID   string `json:"rachma_id"`
	DesignerID string `json:"designer_id"`
	Title      string `json:"title"`
	Format     string `json:"format"`
	Disk       string `json:"disk"`
	Path       string `json:"path"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
}

// NewArtifact binds a file to its rachma. size is the measured on-disk size.
func NewArtifact(rachma *Rachma, file *RachmaFile, size int64) Artifact {
	return Artifact{
		FileID:     file.ID,
		RachmaID:   rachma.ID,
		DesignerID: rachma.DesignerID,
		Title:      rachma.Title,
		Format:     file.Format,
		Disk:       file.Disk,
		Path:       file.Path,
		Name:       DisplayName(file),
		Size:       size,
	}
}
