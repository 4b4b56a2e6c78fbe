package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vaidashi/rachma-marketplace/internal/database"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// OutboxRepository handles database operations for outbox messages
type OutboxRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *database.Database, logger logger.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// CreateInTx creates a new outbox message within a transaction
func (r *OutboxRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, message *models.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (
			aggregate_type, aggregate_id, event_type, payload,
			created_at, status
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) RETURNING id
	`

	var id int64

	err := tx.QueryRowxContext(ctx, query,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to create outbox message in transaction: %w", err)
	}

	message.ID = id
	return nil
}

// GetPendingMessages retrieves pending outbox messages, oldest first
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
			   created_at, processed_at, processing_attempts, last_error, status
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	var messages []*models.OutboxMessage
	if err := r.db.DB.SelectContext(ctx, &messages, query, models.OutboxStatusPending, limit); err != nil {
		r.logger.Error("Failed to get pending outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// MarkAsProcessing claims a pending message and increments its attempt count.
// It returns false when another worker already claimed it.
func (r *OutboxRepository) MarkAsProcessing(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE outbox_messages
		SET status = $1, processing_attempts = processing_attempts + 1, claimed_at = $4
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.DB.ExecContext(ctx, query, models.OutboxStatusProcessing, id, models.OutboxStatusPending, time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to mark outbox message as processing", "error", err, "message_id", id)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return rowsAffected == 1, nil
}

// RequeueStale returns messages claimed before cutoff to the pending queue.
// A worker that died or lost its database connection mid-message leaves
// such rows behind.
func (r *OutboxRepository) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE outbox_messages
		SET status = $1, last_error = COALESCE(last_error, $2)
		WHERE status = $3 AND claimed_at < $4
	`

	result, err := r.db.DB.ExecContext(ctx, query,
		models.OutboxStatusPending, "processing lease expired", models.OutboxStatusProcessing, cutoff)
	if err != nil {
		r.logger.Error("Failed to requeue stale outbox messages", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	requeued, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return requeued, nil
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *OutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, models.OutboxStatusCompleted, nil)
}

// MarkAsFailed parks a message after its last attempt
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	return r.setStatus(ctx, id, models.OutboxStatusFailed, &errorMessage)
}

// MarkForRetry puts a message back in the pending queue
func (r *OutboxRepository) MarkForRetry(ctx context.Context, id int64, errorMessage string) error {
	return r.setStatus(ctx, id, models.OutboxStatusPending, &errorMessage)
}

func (r *OutboxRepository) setStatus(ctx context.Context, id int64, status models.OutboxStatus, lastError *string) error {
	var processedAt *time.Time
	if status == models.OutboxStatusCompleted {
		now := time.Now().UTC()
		processedAt = &now
	}

	query := `
		UPDATE outbox_messages
		SET status = $1, processed_at = COALESCE($2, processed_at), last_error = COALESCE($3, last_error)
		WHERE id = $4
	`

	if _, err := r.db.DB.ExecContext(ctx, query, status, processedAt, lastError, id); err != nil {
		r.logger.Error("Failed to update outbox message", "error", err, "message_id", id, "status", status)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetMessage retrieves an outbox message by ID
func (r *OutboxRepository) GetMessage(ctx context.Context, id int64) (*models.OutboxMessage, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
			   created_at, processed_at, processing_attempts, last_error, status
		FROM outbox_messages
		WHERE id = $1
	`

	var message models.OutboxMessage
	if err := r.db.DB.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get outbox message", "error", err, "message_id", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &message, nil
}
