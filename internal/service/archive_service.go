package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"

	"github.com/vaidashi/rachma-marketplace/internal/archive"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/internal/repository"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// ArchiveService builds downloadable bundles of completed orders for their clients
type ArchiveService struct {
	orders   OrderStore
	resolver *AssetResolver
	packager *archive.Packager
	registry archive.Registry
	logger   logger.Logger
}

// NewArchiveService creates a new ArchiveService
func NewArchiveService(orders OrderStore, resolver *AssetResolver, packager *archive.Packager, registry archive.Registry, logger logger.Logger) *ArchiveService {
	return &ArchiveService{
		orders:   orders,
		resolver: resolver,
		packager: packager,
		registry: registry,
		logger:   logger,
	}
}

// BuildForOrder packages the files of a completed order owned by clientID
func (s *ArchiveService) BuildForOrder(ctx context.Context, orderID, clientID string) (*archive.Archive, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("order %s not found", orderID))
		}
		return nil, err
	}

	// other clients' orders look the same as missing ones
	if order.ClientID != clientID {
		return nil, errors.NewNotFoundError(fmt.Sprintf("order %s not found", orderID))
	}
	if order.Status != models.OrderStatusCompleted {
		return nil, errors.NewConflictError(fmt.Sprintf("order %s is %s; only completed orders can be downloaded", orderID, order.Status))
	}

	artifacts, err := s.resolver.Artifacts(ctx, order)
	if err != nil {
		return nil, err
	}

	bundle, err := s.packager.Build(ctx, "order-"+order.ID, artifacts)
	if err != nil {
		if stderrors.Is(err, archive.ErrNothingToPackage) {
			s.logger.Warn("No files to package", "orderID", orderID, "error", err)
			return nil, errors.NewAppError(err, err.Error(), http.StatusUnprocessableEntity, false)
		}
		return nil, err
	}
	bundle.OrderID = order.ID

	if err := s.registry.Put(ctx, bundle); err != nil {
		os.Remove(bundle.Path)
		return nil, fmt.Errorf("failed to register archive: %w", err)
	}

	if len(bundle.Skipped) > 0 {
		s.logger.Warn("Archive built with missing files", "orderID", orderID, "token", bundle.Token, "skipped", bundle.Skipped)
	}

	return bundle, nil
}

// Open returns a live archive and its content
func (s *ArchiveService) Open(ctx context.Context, token string) (*archive.Archive, *os.File, error) {
	bundle, err := s.registry.Get(ctx, token)
	if err != nil {
		if stderrors.Is(err, archive.ErrArchiveNotFound) {
			return nil, nil, errors.NewNotFoundError("archive not found or expired")
		}
		return nil, nil, err
	}

	f, err := s.packager.Open(bundle)
	if err != nil {
		if stderrors.Is(err, archive.ErrArchiveNotFound) {
			return nil, nil, errors.NewNotFoundError("archive not found or expired")
		}
		return nil, nil, err
	}

	return bundle, f, nil
}
