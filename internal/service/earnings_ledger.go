package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// CommissionPolicy is the versioned share of an order credited to designers
type CommissionPolicy struct {
	Rate    decimal.Decimal
	Version string
}

// NewCommissionPolicy reads the policy from the fulfillment configuration
func NewCommissionPolicy(cfg config.FulfillmentConfig) CommissionPolicy {
	return CommissionPolicy{Rate: cfg.CommissionRate, Version: cfg.CommissionVersion}
}

// Commission returns amount x rate rounded to cents
func (p CommissionPolicy) Commission(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(p.Rate).Round(2)
}

// Share is the part of an order amount attributed to one designer
type Share struct {
	DesignerID string
	Amount     decimal.Decimal
}

var cent = decimal.New(1, -2)

// SplitOrder attributes the order amount to the designers of its products.
// Line item prices are weights; the legacy product weighs whatever of the
// amount the items do not cover. The shares always sum to the order amount.
func SplitOrder(order *models.Order, products []ProductDeliverable) []Share {
	itemTotal := decimal.Zero
	for _, p := range products {
		if p.Line.Price != nil {
			itemTotal = itemTotal.Add(*p.Line.Price)
		}
	}

	remainder := order.Amount.Sub(itemTotal)
	if remainder.IsNegative() {
		remainder = decimal.Zero
	}

	var weighted []Share
	index := make(map[string]int)

	for _, p := range products {
		if p.Rachma == nil {
			continue
		}

		weight := remainder
		if p.Line.Price != nil {
			weight = *p.Line.Price
		} else {
			// only one legacy reference per order
			remainder = decimal.Zero
		}
		if !weight.IsPositive() {
			continue
		}

		if i, ok := index[p.Rachma.DesignerID]; ok {
			weighted[i].Amount = weighted[i].Amount.Add(weight)
			continue
		}
		index[p.Rachma.DesignerID] = len(weighted)
		weighted = append(weighted, Share{DesignerID: p.Rachma.DesignerID, Amount: weight})
	}

	return apportion(order.Amount, weighted)
}

// apportion spreads total across the shares in proportion to their amounts,
// in whole cents, handing leftover cents to the largest fractional parts.
// Shares that end up at zero are dropped.
func apportion(total decimal.Decimal, weights []Share) []Share {
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w.Amount)
	}
	if !sum.IsPositive() || !total.IsPositive() {
		return nil
	}

	total = total.Round(2)
	parts := make([]Share, len(weights))
	fractions := make([]decimal.Decimal, len(weights))
	allotted := decimal.Zero

	for i, w := range weights {
		exact := total.Mul(w.Amount).Div(sum)
		floor := exact.RoundFloor(2)
		parts[i] = Share{DesignerID: w.DesignerID, Amount: floor}
		fractions[i] = exact.Sub(floor)
		allotted = allotted.Add(floor)
	}

	order := make([]int, len(parts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fractions[order[a]].GreaterThan(fractions[order[b]])
	})

	left := total.Sub(allotted).Div(cent).IntPart()
	for k := 0; k < len(order) && left > 0; k++ {
		i := order[k]
		parts[i].Amount = parts[i].Amount.Add(cent)
		left--
	}

	shares := parts[:0]
	for _, p := range parts {
		if p.Amount.IsPositive() {
			shares = append(shares, p)
		}
	}
	return shares
}

// EarningsLedger credits designer commission inside the completion transaction
type EarningsLedger struct {
	store  LedgerStore
	policy CommissionPolicy
	logger logger.Logger
}

// NewEarningsLedger creates a new EarningsLedger
func NewEarningsLedger(store LedgerStore, policy CommissionPolicy, logger logger.Logger) *EarningsLedger {
	return &EarningsLedger{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Policy returns the commission policy in use
func (l *EarningsLedger) Policy() CommissionPolicy {
	return l.policy
}

// Credit adds the commission on amount to the designer and returns the new
// balance. A second credit for the same order and designer changes nothing;
// credited is false in that case.
func (l *EarningsLedger) Credit(ctx context.Context, tx *sqlx.Tx, orderID, designerID string, amount decimal.Decimal) (balance decimal.Decimal, credited bool, err error) {
	return l.credit(ctx, tx, orderID, designerID, l.policy.Commission(amount))
}

func (l *EarningsLedger) credit(ctx context.Context, tx *sqlx.Tx, orderID, designerID string, commission decimal.Decimal) (balance decimal.Decimal, credited bool, err error) {
	entry := &models.EarningsEntry{
		ID:             models.GenerateID("ern"),
		OrderID:        orderID,
		DesignerID:     designerID,
		Amount:         commission,
		CommissionRate: l.policy.Rate,
		PolicyVersion:  l.policy.Version,
		CreatedAt:      models.GetCurrentTime(),
	}

	inserted, err := l.store.InsertEntryInTx(ctx, tx, entry)
	if err != nil {
		return decimal.Zero, false, err
	}

	if !inserted {
		l.logger.Warn("Earnings already credited, skipping", "orderID", orderID, "designerID", designerID)
		balance, err := l.store.GetEarningsInTx(ctx, tx, designerID)
		return balance, false, err
	}

	balance, err = l.store.AddEarningsInTx(ctx, tx, designerID, commission)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to credit designer %s: %w", designerID, err)
	}

	l.logger.Info("Credited designer earnings",
		"orderID", orderID,
		"designerID", designerID,
		"amount", commission.StringFixed(2),
		"balance", balance.StringFixed(2),
		"policy", l.policy.Version)

	return balance, true, nil
}

// CreditOrder credits the commission on the order amount, apportioned over
// shares, and returns the credits applied
func (l *EarningsLedger) CreditOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order, shares []Share) ([]models.Credit, error) {
	var credits []models.Credit

	for _, share := range apportion(l.policy.Commission(order.Amount), shares) {
		balance, credited, err := l.credit(ctx, tx, order.ID, share.DesignerID, share.Amount)
		if err != nil {
			return nil, err
		}
		if !credited {
			continue
		}

		credits = append(credits, models.Credit{
			DesignerID: share.DesignerID,
			Amount:     share.Amount.StringFixed(2),
			Balance:    balance.StringFixed(2),
		})
	}

	return credits, nil
}
