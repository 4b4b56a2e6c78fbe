package service

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
)

func TestOrderService_CreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("multi product order is priced from the catalog", func(t *testing.T) {
		f := newFixture(t)
		f.db.rachmat["rch-2"] = &models.Rachma{ID: "rch-2", DesignerID: "des-2", Title: "Tulip", Price: decimal.RequireFromString("1200.50")}

		view, err := f.orders.CreateOrder(ctx, CreateOrderRequest{
			ClientID:      testClientID,
			RachmaIDs:     []string{testRachmaID, "rch-2", testRachmaID},
			PaymentMethod: "baridimob",
		})

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(view.ID, "ord-"))
		assert.Equal(t, models.OrderStatusPending, view.Status)
		assert.Equal(t, "3700.50", view.Amount)
		assert.Nil(t, view.RachmaID)
		assert.Equal(t, []models.ItemView{{RachmaID: testRachmaID, Price: "2500.00"}, {RachmaID: "rch-2", Price: "1200.50"}}, view.Items)

		items := f.db.items[view.ID]
		require.Len(t, items, 2)
		assert.Equal(t, view.ID, items[0].OrderID)
		assert.True(t, strings.HasPrefix(items[0].ID, "itm-"))
		assert.Equal(t, []string{models.EventOrderCreated}, f.db.outboxTypes())
	})

	t.Run("legacy order keeps the rachma on the row", func(t *testing.T) {
		f := newFixture(t)

		view, err := f.orders.CreateOrder(ctx, CreateOrderRequest{
			ClientID:      testClientID,
			RachmaIDs:     []string{testRachmaID},
			PaymentMethod: "ccp",
			Legacy:        true,
		})

		require.NoError(t, err)
		require.NotNil(t, view.RachmaID)
		assert.Equal(t, testRachmaID, *view.RachmaID)
		assert.Empty(t, view.Items)

		order := f.db.order(view.ID)
		lines, err := f.resolver.Lines(ctx, &order)
		require.NoError(t, err)
		assert.Equal(t, []OrderLine{{RachmaID: testRachmaID}}, lines)
	})

	t.Run("created order can be completed", func(t *testing.T) {
		f := newFixture(t)

		view, err := f.orders.CreateOrder(ctx, CreateOrderRequest{ClientID: testClientID, RachmaIDs: []string{testRachmaID}, PaymentMethod: "ccp"})
		require.NoError(t, err)

		outcome, err := f.svc.ChangeStatus(ctx, view.ID, completeReq)
		require.NoError(t, err)
		assert.True(t, outcome.Success, outcome.Detail)
		assert.Equal(t, "1750.00", f.db.balance(testDesignerID).StringFixed(2))
	})
}

func TestOrderService_CreateOrderErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		req    CreateOrderRequest
		status int
		field  string
	}{
		{
			name:   "no rachmat",
			req:    CreateOrderRequest{ClientID: testClientID, PaymentMethod: "ccp"},
			status: 400,
			field:  "rachma_ids",
		},
		{
			name:   "missing payment method",
			req:    CreateOrderRequest{ClientID: testClientID, RachmaIDs: []string{testRachmaID}},
			status: 400,
			field:  "payment_method",
		},
		{
			name:   "legacy with two rachmat",
			req:    CreateOrderRequest{ClientID: testClientID, RachmaIDs: []string{testRachmaID, "rch-2"}, PaymentMethod: "ccp", Legacy: true},
			status: 400,
			field:  "rachma_ids",
		},
		{
			name:   "unknown client",
			req:    CreateOrderRequest{ClientID: "cli-404", RachmaIDs: []string{testRachmaID}, PaymentMethod: "ccp"},
			status: 404,
		},
		{
			name:   "unknown rachma",
			req:    CreateOrderRequest{ClientID: testClientID, RachmaIDs: []string{"rch-404"}, PaymentMethod: "ccp"},
			status: 404,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			view, err := f.orders.CreateOrder(ctx, tt.req)

			assert.Nil(t, view)
			require.Error(t, err)
			if tt.field != "" {
				var fields errors.FieldErrors
				require.True(t, stderrors.As(err, &fields))
				assert.Contains(t, fields, tt.field)
				assert.True(t, stderrors.Is(err, errors.ErrValidation))
			} else {
				assert.Equal(t, tt.status, errors.StatusCode(err))
			}
			assert.Len(t, f.db.orders, 1)
			assert.Empty(t, f.db.outboxTypes())
		})
	}
}

func TestOrderService_Queries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.orders.GetOrder(ctx, testOrderID)
	require.NoError(t, err)
	assert.Equal(t, "2500.00", view.Amount)
	assert.Equal(t, "ccp", view.PaymentMethod)

	_, err = f.orders.GetOrder(ctx, "ord-404")
	assert.Equal(t, 404, errors.StatusCode(err))

	views, err := f.orders.GetClientOrders(ctx, testClientID, 0, -1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, testOrderID, views[0].ID)

	views, err = f.orders.GetClientOrders(ctx, "cli-none", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, views)
}
