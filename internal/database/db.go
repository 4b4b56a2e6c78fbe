package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := sqlx.Connect("postgres", cfg.GetDBConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to database", "host", cfg.DB.Host, "database", cfg.DB.Name)

	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an already opened connection
func NewWithDB(db *sqlx.DB, logger logger.Logger) *Database {
	return &Database{
		DB:     db,
		logger: logger,
	}
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// RunInTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise.
func (d *Database) RunInTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := d.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				d.logger.Error("Failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		d.logger.Error("Failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// RunMigrations runs database migrations
func (d *Database) RunMigrations() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id VARCHAR(50) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL,
		telegram_chat_id BIGINT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS designers (
		id VARCHAR(50) PRIMARY KEY,
		store_name VARCHAR(255) NOT NULL,
		earnings NUMERIC(12, 2) NOT NULL DEFAULT 0,
		paid_earnings NUMERIC(12, 2) NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS rachmat (
		id VARCHAR(50) PRIMARY KEY,
		designer_id VARCHAR(50) NOT NULL REFERENCES designers(id),
		title VARCHAR(255) NOT NULL,
		price NUMERIC(10, 2) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS rachma_files (
		id VARCHAR(50) PRIMARY KEY,
		rachma_id VARCHAR(50) NOT NULL REFERENCES rachmat(id),
		format VARCHAR(20) NOT NULL,
		path TEXT NOT NULL,
		disk VARCHAR(50) NOT NULL DEFAULT 'private',
		size BIGINT NOT NULL DEFAULT 0,
		is_primary BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_rachma_files_rachma_id ON rachma_files(rachma_id);

	CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(50) PRIMARY KEY,
		client_id VARCHAR(50) NOT NULL REFERENCES clients(id),
		rachma_id VARCHAR(50) REFERENCES rachmat(id),
		amount NUMERIC(10, 2) NOT NULL,
		payment_method VARCHAR(50) NOT NULL,
		payment_proof_path TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		admin_notes TEXT,
		rejection_reason TEXT,
		confirmed_at TIMESTAMP,
		file_sent_at TIMESTAMP,
		rejected_at TIMESTAMP,
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		CONSTRAINT chk_orders_status CHECK (status IN ('pending', 'completed', 'rejected')),
		CONSTRAINT chk_orders_completed_at CHECK ((status = 'completed') = (completed_at IS NOT NULL)),
		CONSTRAINT chk_orders_rejected CHECK ((status = 'rejected') = (rejected_at IS NOT NULL AND rejection_reason IS NOT NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_orders_client_id ON orders(client_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

	CREATE TABLE IF NOT EXISTS order_items (
		id VARCHAR(50) PRIMARY KEY,
		order_id VARCHAR(50) NOT NULL REFERENCES orders(id),
		rachma_id VARCHAR(50) NOT NULL REFERENCES rachmat(id),
		price NUMERIC(10, 2) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);

	CREATE TABLE IF NOT EXISTS earnings_entries (
		id VARCHAR(50) PRIMARY KEY,
		order_id VARCHAR(50) NOT NULL REFERENCES orders(id),
		designer_id VARCHAR(50) NOT NULL REFERENCES designers(id),
		amount NUMERIC(12, 2) NOT NULL,
		commission_rate NUMERIC(5, 4) NOT NULL,
		policy_version VARCHAR(50) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (order_id, designer_id)
	);

	CREATE TABLE IF NOT EXISTS order_file_deliveries (
		order_id VARCHAR(50) NOT NULL REFERENCES orders(id),
		file_id VARCHAR(50) NOT NULL REFERENCES rachma_files(id),
		sent_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (order_id, file_id)
	);

	CREATE TABLE IF NOT EXISTS outbox_messages (
		id SERIAL PRIMARY KEY,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id VARCHAR(50) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMP,
		processing_attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		claimed_at TIMESTAMP
	);

	ALTER TABLE outbox_messages ADD COLUMN IF NOT EXISTS claimed_at TIMESTAMP;

	CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
	CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);
	`

	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}
