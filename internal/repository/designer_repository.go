package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/vaidashi/rachma-marketplace/internal/database"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// DesignerRepository handles designer balances and the earnings ledger
type DesignerRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewDesignerRepository creates a new DesignerRepository
func NewDesignerRepository(db *database.Database, logger logger.Logger) *DesignerRepository {
	return &DesignerRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a designer by its ID
func (r *DesignerRepository) GetByID(ctx context.Context, id string) (*models.Designer, error) {
	query := `SELECT id, store_name, earnings, paid_earnings, created_at, updated_at FROM designers WHERE id = $1`

	var designer models.Designer
	if err := r.db.DB.GetContext(ctx, &designer, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get designer", "error", err, "designerID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &designer, nil
}

// InsertEntryInTx records a ledger entry. It returns false when an entry for
// the same order and designer already exists.
func (r *DesignerRepository) InsertEntryInTx(ctx context.Context, tx *sqlx.Tx, entry *models.EarningsEntry) (bool, error) {
	query := `
		INSERT INTO earnings_entries (id, order_id, designer_id, amount, commission_rate, policy_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id, designer_id) DO NOTHING
	`

	result, err := tx.ExecContext(ctx, query,
		entry.ID,
		entry.OrderID,
		entry.DesignerID,
		entry.Amount,
		entry.CommissionRate,
		entry.PolicyVersion,
		entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert earnings entry", "error", err, "orderID", entry.OrderID, "designerID", entry.DesignerID)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return rowsAffected == 1, nil
}

// AddEarningsInTx adds amount to the designer balance and returns the new balance
func (r *DesignerRepository) AddEarningsInTx(ctx context.Context, tx *sqlx.Tx, designerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE designers
		SET earnings = earnings + $1, updated_at = $2
		WHERE id = $3
		RETURNING earnings
	`

	var balance decimal.Decimal
	err := tx.QueryRowxContext(ctx, query, amount, models.GetCurrentTime(), designerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		r.logger.Error("Failed to add designer earnings", "error", err, "designerID", designerID)
		return decimal.Zero, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return balance, nil
}

// GetEarningsInTx reads the current balance inside tx
func (r *DesignerRepository) GetEarningsInTx(ctx context.Context, tx *sqlx.Tx, designerID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRowxContext(ctx, `SELECT earnings FROM designers WHERE id = $1`, designerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return balance, nil
}
