package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vaidashi/rachma-marketplace/internal/clients"
	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/internal/repository"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// ErrorKind lets the admin UI branch on why a status change did not happen
type ErrorKind string

const (
	ErrorKindNone         ErrorKind = "none"
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindFileDelivery ErrorKind = "file_delivery"
)

// StatusChangeRequest is an admin request to move an order to Status
type StatusChangeRequest struct {
	Status          models.OrderStatus `json:"status" validate:"required,oneof=pending completed rejected"`
	AdminNotes      *string            `json:"admin_notes" validate:"omitempty,max=2000"`
	RejectionReason string             `json:"rejection_reason" validate:"required_if=Status rejected,max=1000"`
}

// Outcome is the structured result of ChangeStatus
type Outcome struct {
	Success     bool                    `json:"success"`
	ErrorKind   ErrorKind               `json:"error_kind"`
	Detail      string                  `json:"detail,omitempty"`
	FieldErrors errors.FieldErrors      `json:"field_errors,omitempty"`
	Order       *models.OrderView       `json:"order,omitempty"`
	Delivery    *clients.DeliveryReport `json:"delivery,omitempty"`
	Credits     []models.Credit         `json:"credits,omitempty"`
}

func succeeded(order *models.Order, detail string) *Outcome {
	return &Outcome{Success: true, ErrorKind: ErrorKindNone, Detail: detail, Order: models.NewOrderView(order, nil)}
}

func invalid(fields errors.FieldErrors) *Outcome {
	return &Outcome{ErrorKind: ErrorKindValidation, Detail: fields.Error(), FieldErrors: fields}
}

func invalidField(field, message string) *Outcome {
	fields := errors.FieldErrors{}
	fields.Add(field, message)
	return invalid(fields)
}

func deliveryFailed(detail string) *Outcome {
	fields := errors.FieldErrors{}
	fields.Add(string(ErrorKindFileDelivery), detail)
	return &Outcome{ErrorKind: ErrorKindFileDelivery, Detail: detail, FieldErrors: fields}
}

// FulfillmentOptions holds the completion policy
type FulfillmentOptions struct {
	// DeliveryTimeout bounds the whole delivery step of one completion
	DeliveryTimeout time.Duration
	// ResumePartial skips files confirmed by an earlier failed completion
	ResumePartial bool
}

// NewFulfillmentOptions reads the options from the fulfillment configuration
func NewFulfillmentOptions(cfg config.FulfillmentConfig) FulfillmentOptions {
	return FulfillmentOptions{DeliveryTimeout: cfg.DeliveryTimeout, ResumePartial: cfg.ResumePartial}
}

// FulfillmentService moves orders between pending, completed and rejected
type FulfillmentService struct {
	tx         TxRunner
	orders     OrderStore
	catalog    CatalogStore
	deliveries DeliveryStore
	outbox     OutboxStore
	resolver   *AssetResolver
	ledger     *EarningsLedger
	delivery   Deliverer
	opts       FulfillmentOptions
	logger     logger.Logger
}

// FulfillmentDeps groups the collaborators of FulfillmentService
type FulfillmentDeps struct {
	Tx         TxRunner
	Orders     OrderStore
	Catalog    CatalogStore
	Deliveries DeliveryStore
	Outbox     OutboxStore
	Resolver   *AssetResolver
	Ledger     *EarningsLedger
	Delivery   Deliverer
}

// NewFulfillmentService creates a new FulfillmentService
func NewFulfillmentService(deps FulfillmentDeps, opts FulfillmentOptions, logger logger.Logger) *FulfillmentService {
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 2 * time.Minute
	}

	return &FulfillmentService{
		tx:         deps.Tx,
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		deliveries: deps.Deliveries,
		outbox:     deps.Outbox,
		resolver:   deps.Resolver,
		ledger:     deps.Ledger,
		delivery:   deps.Delivery,
		opts:       opts,
		logger:     logger,
	}
}

// ChangeStatus applies req to the order. Refused changes come back as an
// Outcome with Success=false; the error is reserved for missing orders and
// infrastructure failures.
func (s *FulfillmentService) ChangeStatus(ctx context.Context, orderID string, req StatusChangeRequest) (*Outcome, error) {
	req.RejectionReason = strings.TrimSpace(req.RejectionReason)
	if req.AdminNotes != nil {
		notes := strings.TrimSpace(*req.AdminNotes)
		req.AdminNotes = &notes
		if notes == "" {
			req.AdminNotes = nil
		}
	}

	if err := newValidator().Struct(req); err != nil {
		return invalid(toFieldErrors(err)), nil
	}

	var (
		outcome *Outcome
		err     error
	)

	log := s.logger.With("orderID", orderID, "target", req.Status)

	switch req.Status {
	case models.OrderStatusCompleted:
		outcome, err = s.complete(ctx, orderID, req)
	case models.OrderStatusRejected:
		outcome, err = s.reject(ctx, orderID, req)
	case models.OrderStatusPending:
		outcome, err = s.reopen(ctx, orderID)
	}

	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("order %s not found", orderID))
		}
		if stderrors.Is(err, repository.ErrStatusConflict) {
			return nil, errors.NewConflictError(fmt.Sprintf("order %s changed concurrently, retry", orderID))
		}
		log.Error("Failed to change order status", "error", err)
		return nil, err
	}

	if outcome.Success {
		log.Info("Order status change applied", "detail", outcome.Detail)
	} else {
		log.Warn("Order status change refused", "errorKind", outcome.ErrorKind, "detail", outcome.Detail)
	}

	return outcome, nil
}

// complete runs pending -> completed. The order row stays locked from the
// status check to the commit so concurrent completions deliver and credit once.
func (s *FulfillmentService) complete(ctx context.Context, orderID string, req StatusChangeRequest) (*Outcome, error) {
	var outcome *Outcome

	err := s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case models.OrderStatusCompleted:
			outcome = succeeded(order, "order already completed")
			return nil
		case models.OrderStatusRejected:
			outcome = invalidField("status", "a rejected order must be reopened before it can be completed")
			return nil
		}

		client, err := s.catalog.GetClient(ctx, order.ClientID)
		if err != nil && !stderrors.Is(err, repository.ErrNotFound) {
			return err
		}
		if !client.HasDeliveryAddress() {
			outcome = deliveryFailed("client has no linked delivery address")
			return nil
		}

		deliverables, err := s.resolver.Resolve(ctx, order)
		if err != nil {
			return err
		}
		if !deliverables.CanDeliver() {
			outcome = deliveryFailed(deliverables.FirstIssue())
			return nil
		}

		report, err := s.deliver(ctx, order, *client.TelegramChatID, deliverables)
		if err != nil {
			return err
		}
		if !report.Delivered() {
			outcome = deliveryFailed(report.FirstFailure())
			outcome.Delivery = report
			return nil
		}

		from := order.Status
		if req.AdminNotes != nil {
			order.AdminNotes = req.AdminNotes
		}
		order.MarkCompleted(models.GetCurrentTime())

		if err := s.orders.TransitionInTx(ctx, tx, order, from); err != nil {
			return err
		}

		credits, err := s.ledger.CreditOrder(ctx, tx, order, SplitOrder(order, deliverables.Products))
		if err != nil {
			return err
		}

		if err := s.queueStatusChanged(ctx, tx, order, from, credits); err != nil {
			return err
		}

		text := fmt.Sprintf("Your order %s is complete. %d files were sent to this chat.", order.ID, len(deliverables.Files))
		if err := s.queueNotification(ctx, tx, order, *client.TelegramChatID, text); err != nil {
			return err
		}

		outcome = succeeded(order, fmt.Sprintf("%d files delivered", len(deliverables.Files)))
		outcome.Delivery = report
		outcome.Credits = credits
		return nil
	})
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

// deliver sends the files under the delivery deadline. Each confirmed file
// is recorded outside the transaction so a later attempt can skip it.
func (s *FulfillmentService) deliver(ctx context.Context, order *models.Order, chatID int64, deliverables *Deliverables) (*clients.DeliveryReport, error) {
	skip := make(map[string]bool)
	if s.opts.ResumePartial {
		sent, err := s.deliveries.SentFiles(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		for fileID := range sent {
			skip[fileID] = true
		}
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, s.opts.DeliveryTimeout)
	defer cancel()

	return s.delivery.SendRachmaFilesWithRetry(deliveryCtx, clients.FileDeliveryRequest{
		OrderID:  order.ID,
		ClientID: order.ClientID,
		ChatID:   chatID,
		Files:    deliverables.Files,
		Skip:     skip,
		OnSent: func(file models.Artifact, sentAt time.Time) {
			if err := s.deliveries.Record(ctx, order.ID, file.FileID, sentAt); err != nil {
				s.logger.Error("Failed to record file delivery", "error", err, "orderID", order.ID, "fileID", file.FileID)
			}
		},
	}), nil
}

// reject runs pending -> rejected
func (s *FulfillmentService) reject(ctx context.Context, orderID string, req StatusChangeRequest) (*Outcome, error) {
	var outcome *Outcome

	err := s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case models.OrderStatusRejected:
			outcome = succeeded(order, "order already rejected")
			return nil
		case models.OrderStatusCompleted:
			outcome = invalidField("status", "a completed order cannot be rejected")
			return nil
		}

		from := order.Status
		order.MarkRejected(models.GetCurrentTime(), req.RejectionReason, req.AdminNotes)

		if err := s.orders.TransitionInTx(ctx, tx, order, from); err != nil {
			return err
		}
		if err := s.queueStatusChanged(ctx, tx, order, from, nil); err != nil {
			return err
		}

		// The notification is best-effort; no address only means no message
		client, err := s.catalog.GetClient(ctx, order.ClientID)
		if err != nil && !stderrors.Is(err, repository.ErrNotFound) {
			return err
		}
		if client.HasDeliveryAddress() {
			text := fmt.Sprintf("Your order %s was rejected: %s", order.ID, req.RejectionReason)
			if err := s.queueNotification(ctx, tx, order, *client.TelegramChatID, text); err != nil {
				return err
			}
		}

		outcome = succeeded(order, "order rejected")
		return nil
	})
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

// reopen runs rejected -> pending
func (s *FulfillmentService) reopen(ctx context.Context, orderID string) (*Outcome, error) {
	var outcome *Outcome

	err := s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		order, err := s.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch order.Status {
		case models.OrderStatusPending:
			outcome = succeeded(order, "order already pending")
			return nil
		case models.OrderStatusCompleted:
			outcome = invalidField("status", "a completed order cannot be reopened")
			return nil
		}

		from := order.Status
		order.Reopen()

		if err := s.orders.TransitionInTx(ctx, tx, order, from); err != nil {
			return err
		}
		if err := s.queueStatusChanged(ctx, tx, order, from, nil); err != nil {
			return err
		}

		outcome = succeeded(order, "order reopened")
		return nil
	})
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

func (s *FulfillmentService) queueStatusChanged(ctx context.Context, tx *sqlx.Tx, order *models.Order, from models.OrderStatus, credits []models.Credit) error {
	msg, err := models.NewOrderStatusChangedEvent(order, from, credits)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return s.outbox.CreateInTx(ctx, tx, msg)
}

func (s *FulfillmentService) queueNotification(ctx context.Context, tx *sqlx.Tx, order *models.Order, chatID int64, text string) error {
	msg, err := models.NewClientNotificationEvent(order, chatID, text)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return s.outbox.CreateInTx(ctx, tx, msg)
}

// Deliverables reports what completing the order would send, without
// sending anything
func (s *FulfillmentService) Deliverables(ctx context.Context, orderID string) (*models.DeliverablesView, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("order %s not found", orderID))
		}
		return nil, err
	}

	client, err := s.catalog.GetClient(ctx, order.ClientID)
	if err != nil && !stderrors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	deliverables, err := s.resolver.Resolve(ctx, order)
	if err != nil {
		return nil, err
	}

	issues := deliverables.Issues
	if !client.HasDeliveryAddress() {
		issues = append([]string{"client has no linked delivery address"}, issues...)
	}

	view := models.NewDeliverablesView(order.ID, deliverables.FileViews(), len(deliverables.Files),
		deliverables.TotalSize, issues, client.HasDeliveryAddress())

	sent, err := s.deliveries.SentFiles(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	for fileID := range sent {
		view.AlreadySent = append(view.AlreadySent, fileID)
	}
	sort.Strings(view.AlreadySent)

	return view, nil
}
