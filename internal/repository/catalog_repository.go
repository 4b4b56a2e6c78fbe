package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vaidashi/rachma-marketplace/internal/database"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// CatalogRepository reads rachmat, their files and their buyers
type CatalogRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewCatalogRepository creates a new CatalogRepository
func NewCatalogRepository(db *database.Database, logger logger.Logger) *CatalogRepository {
	return &CatalogRepository{
		db:     db,
		logger: logger,
	}
}

// GetRachma retrieves a rachma by its ID
func (r *CatalogRepository) GetRachma(ctx context.Context, id string) (*models.Rachma, error) {
	query := `SELECT id, designer_id, title, price, created_at FROM rachmat WHERE id = $1`

	var rachma models.Rachma
	if err := r.db.DB.GetContext(ctx, &rachma, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get rachma", "error", err, "rachmaID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &rachma, nil
}

// GetFiles returns the file metadata of a rachma, primary file first
func (r *CatalogRepository) GetFiles(ctx context.Context, rachmaID string) ([]*models.RachmaFile, error) {
	query := `
		SELECT id, rachma_id, format, path, disk, size, is_primary, created_at
		FROM rachma_files
		WHERE rachma_id = $1
		ORDER BY is_primary DESC, created_at ASC, id ASC
	`

	var files []*models.RachmaFile
	if err := r.db.DB.SelectContext(ctx, &files, query, rachmaID); err != nil {
		r.logger.Error("Failed to get rachma files", "error", err, "rachmaID", rachmaID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return files, nil
}

// GetClient retrieves a client by its ID
func (r *CatalogRepository) GetClient(ctx context.Context, id string) (*models.Client, error) {
	query := `SELECT id, name, email, telegram_chat_id, created_at FROM clients WHERE id = $1`

	var client models.Client
	if err := r.db.DB.GetContext(ctx, &client, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get client", "error", err, "clientID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &client, nil
}
