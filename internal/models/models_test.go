package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderTransitions(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	t.Run("completion stamps all timestamps", func(t *testing.T) {
		o := NewOrder("cli-1", decimal.RequireFromString("2500.00"), "ccp")
		o.MarkCompleted(now)

		assert.Equal(t, OrderStatusCompleted, o.Status)
		require.NotNil(t, o.CompletedAt)
		require.NotNil(t, o.ConfirmedAt)
		require.NotNil(t, o.FileSentAt)
		assert.Nil(t, o.RejectedAt)
	})

	t.Run("reject then reopen clears the reason", func(t *testing.T) {
		o := NewOrder("cli-1", decimal.RequireFromString("2500.00"), "ccp")
		notes := "proof unreadable"
		o.MarkRejected(now, "payment not received", &notes)

		assert.Equal(t, OrderStatusRejected, o.Status)
		assert.Equal(t, "payment not received", *o.RejectionReason)

		o.Reopen()
		assert.Equal(t, OrderStatusPending, o.Status)
		assert.Nil(t, o.RejectionReason)
		assert.Nil(t, o.RejectedAt)
		assert.Equal(t, "proof unreadable", *o.AdminNotes)
	})

	t.Run("reject without notes keeps the stored notes", func(t *testing.T) {
		o := NewOrder("cli-1", decimal.RequireFromString("2500.00"), "ccp")
		notes := "called the client"
		o.AdminNotes = &notes
		o.MarkRejected(now, "duplicate order", nil)

		require.NotNil(t, o.AdminNotes)
		assert.Equal(t, "called the client", *o.AdminNotes)
	})

	t.Run("status validity", func(t *testing.T) {
		assert.True(t, OrderStatusRejected.Valid())
		assert.False(t, OrderStatus("shipped").Valid())
	})
}

func TestViews(t *testing.T) {
	file := &RachmaFile{ID: "fil-1", RachmaID: "rch-1", Format: "DST", Path: "rachmat/rch-1/rose.dst", Disk: "private"}

	v := NewFileView(file, true, 1536)
	assert.Equal(t, "rose.dst", v.Name)
	assert.Equal(t, "1.50 KB", v.SizeHuman)
	assert.True(t, v.Exists)

	missing := NewFileView(file, false, 99)
	assert.Equal(t, int64(0), missing.Size)
	assert.False(t, missing.Exists)

	assert.Equal(t, "512 B", HumanSize(512))
	assert.Equal(t, "3.00 MB", HumanSize(3*1024*1024))

	o := NewOrder("cli-1", decimal.RequireFromString("1200"), "baridimob")
	ov := NewOrderView(o, []*OrderItem{{RachmaID: "rch-1", Price: decimal.RequireFromString("600")}})
	assert.Equal(t, "1200.00", ov.Amount)
	assert.Equal(t, "600.00", ov.Items[0].Price)
	assert.Nil(t, NewOrderView(nil, nil))
}

func TestOutboxEvents(t *testing.T) {
	o := NewOrder("cli-1", decimal.RequireFromString("2500"), "ccp")
	o.MarkCompleted(GetCurrentTime())

	msg, err := NewOrderStatusChangedEvent(o, OrderStatusPending, []Credit{{DesignerID: "des-1", Amount: "1750.00", Balance: "1750.00"}})
	require.NoError(t, err)
	assert.Equal(t, EventOrderStatusChanged, msg.EventType)
	assert.Equal(t, o.ID, msg.AggregateID)
	assert.Equal(t, OutboxStatusPending, msg.Status)

	var data OrderStatusChanged
	event, err := DecodeEvent(msg, &data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(event.EventID, "evt-"))
	assert.Equal(t, OrderStatusCompleted, data.NewStatus)
	assert.Equal(t, "2500.00", data.Amount)
	assert.Equal(t, "1750.00", data.Credits[0].Amount)

	note, err := NewClientNotificationEvent(o, 42, "hello")
	require.NoError(t, err)

	var n ClientNotification
	_, err = DecodeEvent(note, &n)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n.ChatID)
}
