package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/rachma-marketplace/internal/models"
)

func TestAssetResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("legacy reference", func(t *testing.T) {
		f := newFixture(t)
		order := f.db.order(testOrderID)

		d, err := f.resolver.Resolve(ctx, &order)

		require.NoError(t, err)
		assert.True(t, d.CanDeliver())
		assert.Empty(t, d.Issues)
		require.Len(t, d.Files, 2)
		assert.Equal(t, "fil-1", d.Files[0].FileID)
		assert.Equal(t, "rose.dst", d.Files[0].Name)
		assert.Equal(t, testDesignerID, d.Files[0].DesignerID)
		assert.Equal(t, int64(len("dst-bytes")+len("pes-bytes")), d.TotalSize)
	})

	t.Run("legacy reference and line items are both walked", func(t *testing.T) {
		f := newFixture(t)
		f.db.earnings["des-2"] = decimal.Zero
		f.db.rachmat["rch-2"] = &models.Rachma{ID: "rch-2", DesignerID: "des-2", Title: "Tulip", Price: decimal.RequireFromString("1200")}
		f.addFile("rch-2", &models.RachmaFile{ID: "fil-3", RachmaID: "rch-2", Format: "jef", Path: "rachmat/tulip.jef", Disk: "private"}, strPtr("jef"))
		f.db.items[testOrderID] = []*models.OrderItem{
			{ID: "itm-1", OrderID: testOrderID, RachmaID: testRachmaID, Price: decimal.RequireFromString("2500")},
			{ID: "itm-2", OrderID: testOrderID, RachmaID: "rch-2", Price: decimal.RequireFromString("1200")},
		}
		order := f.db.order(testOrderID)

		lines, err := f.resolver.Lines(ctx, &order)
		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.Equal(t, testRachmaID, lines[0].RachmaID)
		require.NotNil(t, lines[0].Price, "item price replaces the unpriced legacy line")
		assert.Equal(t, "2500", lines[0].Price.String())

		d, err := f.resolver.Resolve(ctx, &order)
		require.NoError(t, err)
		assert.True(t, d.CanDeliver())
		assert.Len(t, d.Files, 3)
		assert.Len(t, d.Products, 2)
	})

	t.Run("issues are collected across products", func(t *testing.T) {
		f := newFixture(t)
		f.db.rachmat["rch-2"] = &models.Rachma{ID: "rch-2", DesignerID: testDesignerID, Title: "Tulip"}
		f.db.items[testOrderID] = []*models.OrderItem{
			{ID: "itm-1", RachmaID: "rch-2", Price: decimal.RequireFromString("100")},
			{ID: "itm-2", RachmaID: "rch-404", Price: decimal.RequireFromString("100")},
		}
		f.files.content = map[string]string{"private:rachmat/rose.dst": "dst"}
		order := f.db.order(testOrderID)

		d, err := f.resolver.Resolve(ctx, &order)

		require.NoError(t, err)
		assert.False(t, d.CanDeliver())
		assert.Equal(t, []string{
			`rachma "Rose": file rose.pes missing on disk`,
			`rachma "Tulip" has no files`,
			"rachma rch-404 not found",
		}, d.Issues)
		assert.Equal(t, `rachma "Rose": file rose.pes missing on disk`, d.FirstIssue())
		assert.Len(t, d.Files, 1)
	})

	t.Run("metadata without files on disk", func(t *testing.T) {
		f := newFixture(t)
		f.files.content = map[string]string{}
		order := f.db.order(testOrderID)

		d, err := f.resolver.Resolve(ctx, &order)

		require.NoError(t, err)
		assert.False(t, d.CanDeliver())
		assert.Equal(t, []string{`rachma "Rose": no files exist on disk`}, d.Issues)
		for _, view := range d.FileViews() {
			assert.False(t, view.Exists)
			assert.Equal(t, "0 B", view.SizeHuman)
		}
	})

	t.Run("unreachable disk counts as missing", func(t *testing.T) {
		f := newFixture(t)
		f.files.broken["private"] = true
		order := f.db.order(testOrderID)

		d, err := f.resolver.Resolve(ctx, &order)

		require.NoError(t, err)
		assert.False(t, d.CanDeliver())
		assert.Empty(t, d.Files)
	})

	t.Run("order without products", func(t *testing.T) {
		f := newFixture(t)
		order := f.db.order(testOrderID)
		order.RachmaID = nil

		d, err := f.resolver.Resolve(ctx, &order)

		require.NoError(t, err)
		assert.False(t, d.CanDeliver())
		assert.Equal(t, "order has no products", d.FirstIssue())
	})
}

func TestAssetResolver_IsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.svc.ChangeStatus(ctx, testOrderID, StatusChangeRequest{Status: models.OrderStatusCompleted})
	require.NoError(t, err)
	require.True(t, outcome.Success)

	before := f.db.snapshot()
	order := f.db.order(testOrderID)

	for i := 0; i < 3; i++ {
		d, err := f.resolver.Resolve(ctx, &order)
		require.NoError(t, err)
		assert.True(t, d.CanDeliver())
	}

	after := f.db.snapshot()
	assert.Equal(t, before.writes, after.writes)
	assert.Equal(t, before.orders, after.orders)
	assert.Equal(t, before.earnings, after.earnings)
	assert.Equal(t, before.outbox, after.outbox)
}
