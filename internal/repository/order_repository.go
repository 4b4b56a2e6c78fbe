package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/vaidashi/rachma-marketplace/internal/database"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDatabase       = errors.New("database error")
	ErrStatusConflict = errors.New("order status changed concurrently")
)

const orderColumns = `id, client_id, rachma_id, amount, payment_method, payment_proof_path, status,
		admin_notes, rejection_reason, confirmed_at, file_sent_at, rejected_at, completed_at,
		created_at, updated_at`

// OrderRepository handles database operations for orders
type OrderRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// CreateInTx inserts an order and its lines
func (r *OrderRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, order *models.Order, items []*models.OrderItem) error {
	query := `
		INSERT INTO orders (id, client_id, rachma_id, amount, payment_method, payment_proof_path, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := tx.ExecContext(ctx, query,
		order.ID,
		order.ClientID,
		order.RachmaID,
		order.Amount,
		order.PaymentMethod,
		order.PaymentProofPath,
		order.Status,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create order", "error", err, "orderID", order.ID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	for _, item := range items {
		item.OrderID = order.ID
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (id, order_id, rachma_id, price, created_at) VALUES ($1, $2, $3, $4, $5)`,
			item.ID, item.OrderID, item.RachmaID, item.Price, item.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to create order item", "error", err, "orderID", order.ID, "rachmaID", item.RachmaID)
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}
	}

	return nil
}

// GetByID retrieves an order by its ID
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return r.get(ctx, r.db.DB, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// LockForUpdate reads the order and holds its row lock until tx ends.
// NO KEY UPDATE still lets other connections insert rows referencing the order.
func (r *OrderRepository) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Order, error) {
	return r.get(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR NO KEY UPDATE`, id)
}

func (r *OrderRepository) get(ctx context.Context, q sqlx.QueryerContext, query, id string) (*models.Order, error) {
	var order models.Order

	if err := sqlx.GetContext(ctx, q, &order, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &order, nil
}

// GetItems returns the order lines in insertion order
func (r *OrderRepository) GetItems(ctx context.Context, orderID string) ([]*models.OrderItem, error) {
	query := `
		SELECT id, order_id, rachma_id, price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`

	var items []*models.OrderItem
	if err := r.db.DB.SelectContext(ctx, &items, query, orderID); err != nil {
		r.logger.Error("Failed to get order items", "error", err, "orderID", orderID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return items, nil
}

// GetByClientID retrieves the orders of a client, newest first
func (r *OrderRepository) GetByClientID(ctx context.Context, clientID string, limit, offset int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE client_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	var orders []*models.Order
	if err := r.db.DB.SelectContext(ctx, &orders, query, clientID, limit, offset); err != nil {
		r.logger.Error("Failed to get orders by client ID", "error", err, "clientID", clientID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return orders, nil
}

// TransitionInTx writes the lifecycle columns of order, but only if the
// stored status still equals from. ErrStatusConflict is returned otherwise.
func (r *OrderRepository) TransitionInTx(ctx context.Context, tx *sqlx.Tx, order *models.Order, from models.OrderStatus) error {
	query := `
		UPDATE orders
		SET status = $1, admin_notes = $2, rejection_reason = $3, confirmed_at = $4,
			file_sent_at = $5, rejected_at = $6, completed_at = $7, updated_at = $8
		WHERE id = $9 AND status = $10
	`

	order.UpdatedAt = models.GetCurrentTime()

	result, err := tx.ExecContext(ctx, query,
		order.Status,
		order.AdminNotes,
		order.RejectionReason,
		order.ConfirmedAt,
		order.FileSentAt,
		order.RejectedAt,
		order.CompletedAt,
		order.UpdatedAt,
		order.ID,
		from,
	)
	if err != nil {
		r.logger.Error("Failed to transition order", "error", err, "orderID", order.ID, "from", from, "to", order.Status)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return ErrStatusConflict
	}

	return nil
}
