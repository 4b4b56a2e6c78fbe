package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vaidashi/rachma-marketplace/internal/database"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// DeliveryRepository records which files of an order reached the client.
// Receipts are written outside the completion transaction so that a failed
// completion keeps the files that did go through.
type DeliveryRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewDeliveryRepository creates a new DeliveryRepository
func NewDeliveryRepository(db *database.Database, logger logger.Logger) *DeliveryRepository {
	return &DeliveryRepository{
		db:     db,
		logger: logger,
	}
}

// Record stores a receipt; recording the same file twice is a no-op
func (r *DeliveryRepository) Record(ctx context.Context, orderID, fileID string, sentAt time.Time) error {
	query := `
		INSERT INTO order_file_deliveries (order_id, file_id, sent_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id, file_id) DO NOTHING
	`

	if _, err := r.db.DB.ExecContext(ctx, query, orderID, fileID, sentAt); err != nil {
		r.logger.Error("Failed to record file delivery", "error", err, "orderID", orderID, "fileID", fileID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// SentFiles returns the ids of files already delivered for the order
func (r *DeliveryRepository) SentFiles(ctx context.Context, orderID string) (map[string]time.Time, error) {
	rows, err := r.db.DB.QueryxContext(ctx,
		`SELECT file_id, sent_at FROM order_file_deliveries WHERE order_id = $1`, orderID)
	if err != nil {
		r.logger.Error("Failed to list file deliveries", "error", err, "orderID", orderID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer rows.Close()

	sent := make(map[string]time.Time)
	for rows.Next() {
		var fileID string
		var sentAt time.Time
		if err := rows.Scan(&fileID, &sentAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		sent[fileID] = sentAt
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return sent, nil
}
