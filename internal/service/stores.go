package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/vaidashi/rachma-marketplace/internal/clients"
	"github.com/vaidashi/rachma-marketplace/internal/models"
)

// The interfaces below are satisfied by the repository package and by
// *database.Database; services depend on them so they can be tested in memory.

// TxRunner runs fn in a single database transaction
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// OrderStore reads and writes orders
type OrderStore interface {
	CreateInTx(ctx context.Context, tx *sqlx.Tx, order *models.Order, items []*models.OrderItem) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Order, error)
	GetItems(ctx context.Context, orderID string) ([]*models.OrderItem, error)
	GetByClientID(ctx context.Context, clientID string, limit, offset int) ([]*models.Order, error)
	TransitionInTx(ctx context.Context, tx *sqlx.Tx, order *models.Order, from models.OrderStatus) error
}

// CatalogStore reads rachmat, their files and clients
type CatalogStore interface {
	GetRachma(ctx context.Context, id string) (*models.Rachma, error)
	GetFiles(ctx context.Context, rachmaID string) ([]*models.RachmaFile, error)
	GetClient(ctx context.Context, id string) (*models.Client, error)
}

// LedgerStore writes earnings entries and designer balances
type LedgerStore interface {
	InsertEntryInTx(ctx context.Context, tx *sqlx.Tx, entry *models.EarningsEntry) (bool, error)
	AddEarningsInTx(ctx context.Context, tx *sqlx.Tx, designerID string, amount decimal.Decimal) (decimal.Decimal, error)
	GetEarningsInTx(ctx context.Context, tx *sqlx.Tx, designerID string) (decimal.Decimal, error)
}

// DeliveryStore keeps per-file delivery receipts
type DeliveryStore interface {
	Record(ctx context.Context, orderID, fileID string, sentAt time.Time) error
	SentFiles(ctx context.Context, orderID string) (map[string]time.Time, error)
}

// OutboxStore queues events in the caller's transaction
type OutboxStore interface {
	CreateInTx(ctx context.Context, tx *sqlx.Tx, message *models.OutboxMessage) error
}

// Deliverer pushes files and notifications to a client chat
type Deliverer interface {
	SendRachmaFilesWithRetry(ctx context.Context, req clients.FileDeliveryRequest) *clients.DeliveryReport
	SendNotificationWithRetry(ctx context.Context, chatID int64, text string) bool
}
