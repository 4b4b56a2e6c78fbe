package models

import (
	"fmt"
	"path"
	"time"
)

// OrderView is the read-only representation returned to the admin UI
type OrderView struct {
	ID              string      `json:"id"`
	ClientID        string      `json:"client_id"`
	RachmaID        *string     `json:"rachma_id,omitempty"`
	Amount          string      `json:"amount"`
	PaymentMethod   string      `json:"payment_method"`
	Status          OrderStatus `json:"status"`
	AdminNotes      *string     `json:"admin_notes,omitempty"`
	RejectionReason *string     `json:"rejection_reason,omitempty"`
	ConfirmedAt     *time.Time  `json:"confirmed_at,omitempty"`
	FileSentAt      *time.Time  `json:"file_sent_at,omitempty"`
	RejectedAt      *time.Time  `json:"rejected_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	Items           []ItemView  `json:"items,omitempty"`
}

// ItemView is one order line in an OrderView
type ItemView struct {
	RachmaID string `json:"rachma_id"`
	Price    string `json:"price"`
}

// FileView describes an artifact together with its on-disk state
type FileView struct {
	ID        string `json:"id"`
	RachmaID  string `json:"rachma_id"`
	Name      string `json:"name"`
	Format    string `json:"format"`
	Disk      string `json:"disk"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
	IsPrimary bool   `json:"is_primary"`
	Exists    bool   `json:"exists"`
}

// NewOrderView builds the view of an order and its lines
func NewOrderView(order *Order, items []*OrderItem) *OrderView {
	if order == nil {
		return nil
	}

	view := &OrderView{
		ID:              order.ID,
		ClientID:        order.ClientID,
		RachmaID:        order.RachmaID,
		Amount:          order.Amount.StringFixed(2),
		PaymentMethod:   order.PaymentMethod,
		Status:          order.Status,
		AdminNotes:      order.AdminNotes,
		RejectionReason: order.RejectionReason,
		ConfirmedAt:     order.ConfirmedAt,
		FileSentAt:      order.FileSentAt,
		RejectedAt:      order.RejectedAt,
		CompletedAt:     order.CompletedAt,
		CreatedAt:       order.CreatedAt,
	}

	for _, item := range items {
		view.Items = append(view.Items, ItemView{RachmaID: item.RachmaID, Price: item.Price.StringFixed(2)})
	}

	return view
}

// NewFileView builds the view of a file. size is the measured on-disk size when exists.
func NewFileView(file *RachmaFile, exists bool, size int64) FileView {
	if !exists {
		size = 0
	}

	return FileView{
		ID:        file.ID,
		RachmaID:  file.RachmaID,
		Name:      DisplayName(file),
		Format:    file.Format,
		Disk:      file.Disk,
		Size:      size,
		SizeHuman: HumanSize(size),
		IsPrimary: file.IsPrimary,
		Exists:    exists,
	}
}

// DisplayName is the file name shown to clients
func DisplayName(file *RachmaFile) string {
	return path.Base(file.Path)
}

// HumanSize formats a byte count as B, KB, MB or GB
func HumanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	units := []string{"KB", "MB", "GB", "TB"}
	value := float64(bytes) / unit
	i := 0
	for value >= unit && i < len(units)-1 {
		value /= unit
		i++
	}
	return fmt.Sprintf("%.2f %s", value, units[i])
}

// DeliverablesView is the admin diagnostic of what a completion would send
type DeliverablesView struct {
	OrderID            string     `json:"order_id"`
	HasDeliveryAddress bool       `json:"has_delivery_address"`
	CanDeliver         bool       `json:"can_deliver"`
	FileCount          int        `json:"file_count"`
	TotalSize          int64      `json:"total_size"`
	TotalSizeHuman     string     `json:"total_size_human"`
	Files              []FileView `json:"files"`
	Issues             []string   `json:"issues"`
	AlreadySent        []string   `json:"already_sent,omitempty"`
}

// NewDeliverablesView builds the diagnostic. files lists every known file, not only the existing ones.
func NewDeliverablesView(orderID string, files []FileView, existing int, totalSize int64, issues []string, hasAddress bool) *DeliverablesView {
	if files == nil {
		files = []FileView{}
	}
	if issues == nil {
		issues = []string{}
	}

	return &DeliverablesView{
		OrderID:            orderID,
		HasDeliveryAddress: hasAddress,
		CanDeliver:         hasAddress && len(issues) == 0 && existing > 0,
		FileCount:          existing,
		TotalSize:          totalSize,
		TotalSizeHuman:     HumanSize(totalSize),
		Files:              files,
		Issues:             issues,
	}
}
