package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/internal/repository"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// CreateOrderRequest places an order for one or more rachmat
type CreateOrderRequest struct {
	ClientID      string   `json:"client_id" validate:"required"`
	RachmaIDs     []string `json:"rachma_ids" validate:"required,min=1,dive,required"`
	PaymentMethod string   `json:"payment_method" validate:"required,max=50"`
	// Legacy stores a single rachma on the order row instead of order_items
	Legacy bool `json:"legacy"`
}

// OrderService handles order creation and queries
type OrderService struct {
	tx      TxRunner
	orders  OrderStore
	catalog CatalogStore
	outbox  OutboxStore
	logger  logger.Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(
	tx TxRunner,
	orders OrderStore,
	catalog CatalogStore,
	outbox OutboxStore,
	logger logger.Logger,
) *OrderService {
	return &OrderService{
		tx:      tx,
		orders:  orders,
		catalog: catalog,
		outbox:  outbox,
		logger:  logger,
	}
}

// CreateOrder creates a pending order priced from the catalog and queues an outbox message
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.OrderView, error) {
	if err := newValidator().Struct(req); err != nil {
		return nil, toFieldErrors(err)
	}
	if req.Legacy && len(req.RachmaIDs) != 1 {
		fields := errors.FieldErrors{}
		fields.Add("rachma_ids", "A legacy order references exactly one rachma")
		return nil, fields
	}

	if _, err := s.catalog.GetClient(ctx, req.ClientID); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("client %s not found", req.ClientID))
		}
		return nil, err
	}

	seen := make(map[string]bool)
	var rachmat []*models.Rachma
	total := decimal.Zero

	for _, id := range req.RachmaIDs {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		seen[id] = true

		rachma, err := s.catalog.GetRachma(ctx, id)
		if err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				return nil, errors.NewNotFoundError(fmt.Sprintf("rachma %s not found", id))
			}
			return nil, err
		}
		rachmat = append(rachmat, rachma)
		total = total.Add(rachma.Price)
	}

	order := models.NewOrder(req.ClientID, total, req.PaymentMethod)

	var items []*models.OrderItem
	ids := make([]string, 0, len(rachmat))
	for _, rachma := range rachmat {
		ids = append(ids, rachma.ID)
		if req.Legacy {
			rachmaID := rachma.ID
			order.RachmaID = &rachmaID
			continue
		}
		items = append(items, &models.OrderItem{
			ID:        models.GenerateID("itm"),
			RachmaID:  rachma.ID,
			Price:     rachma.Price,
			CreatedAt: order.CreatedAt,
		})
	}

	outboxMsg, err := models.NewOrderCreatedEvent(order, ids)
	if err != nil {
		s.logger.Error("Failed to create outbox message", "error", err)
		return nil, fmt.Errorf("failed to create outbox message: %w", err)
	}

	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.orders.CreateInTx(ctx, tx, order, items); err != nil {
			return err
		}
		return s.outbox.CreateInTx(ctx, tx, outboxMsg)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order created with outbox message", "orderID", order.ID, "amount", order.Amount.StringFixed(2), "outboxID", outboxMsg.ID)
	return models.NewOrderView(order, items), nil
}

// GetOrder retrieves an order and its lines
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.OrderView, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
		}
		return nil, err
	}

	items, err := s.orders.GetItems(ctx, id)
	if err != nil {
		return nil, err
	}

	return models.NewOrderView(order, items), nil
}

// GetClientOrders lists the orders of a client, newest first
func (s *OrderService) GetClientOrders(ctx context.Context, clientID string, limit, offset int) ([]*models.OrderView, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.orders.GetByClientID(ctx, clientID, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]*models.OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, models.NewOrderView(order, nil))
	}
	return views, nil
}
