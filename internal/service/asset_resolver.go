package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/internal/repository"
	"github.com/vaidashi/rachma-marketplace/internal/storage"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// OrderLine is one product reference of an order. Price is nil for the
// legacy single-product reference, which carries no price of its own.
type OrderLine struct {
	RachmaID string
	Price    *decimal.Decimal
}

// LineSource yields the product references of an order
type LineSource interface {
	Lines(ctx context.Context) ([]OrderLine, error)
}

// legacyLine is the orders.rachma_id reference
type legacyLine struct {
	rachmaID string
}

func (l legacyLine) Lines(context.Context) ([]OrderLine, error) {
	return []OrderLine{{RachmaID: l.rachmaID}}, nil
}

// itemLines are the order_items rows of an order
type itemLines struct {
	orderID string
	orders  OrderStore
}

func (l itemLines) Lines(ctx context.Context) ([]OrderLine, error) {
	items, err := l.orders.GetItems(ctx, l.orderID)
	if err != nil {
		return nil, err
	}

	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		price := item.Price
		lines = append(lines, OrderLine{RachmaID: item.RachmaID, Price: &price})
	}
	return lines, nil
}

// ProductDeliverable is one ordered rachma and what was found for it
type ProductDeliverable struct {
	Line   OrderLine
	Rachma *models.Rachma
	Files  []models.FileView
}

// Deliverables is the resolved file set of an order
type Deliverables struct {
	OrderID   string
	Products  []ProductDeliverable
	Files     []models.Artifact
	TotalSize int64
	Issues    []string
}

// CanDeliver is true when nothing blocks delivery and there is at least one file
func (d *Deliverables) CanDeliver() bool {
	return len(d.Issues) == 0 && len(d.Files) > 0
}

// FirstIssue names the first blocking condition
func (d *Deliverables) FirstIssue() string {
	if len(d.Issues) > 0 {
		return d.Issues[0]
	}
	if len(d.Files) == 0 {
		return "no files to deliver"
	}
	return ""
}

// FileViews flattens the per-product file views
func (d *Deliverables) FileViews() []models.FileView {
	var views []models.FileView
	for _, p := range d.Products {
		views = append(views, p.Files...)
	}
	return views
}

// AssetResolver determines the downloadable files of an order. It only
// reads; calling it never changes persisted state.
type AssetResolver struct {
	orders  OrderStore
	catalog CatalogStore
	files   storage.Storage
	logger  logger.Logger
}

// NewAssetResolver creates a new AssetResolver
func NewAssetResolver(orders OrderStore, catalog CatalogStore, files storage.Storage, logger logger.Logger) *AssetResolver {
	return &AssetResolver{
		orders:  orders,
		catalog: catalog,
		files:   files,
		logger:  logger,
	}
}

// Sources returns the line sources of order. Both the legacy reference and
// the line items are walked when both exist.
func (r *AssetResolver) Sources(order *models.Order) []LineSource {
	var sources []LineSource
	if order.RachmaID != nil && *order.RachmaID != "" {
		sources = append(sources, legacyLine{rachmaID: *order.RachmaID})
	}
	return append(sources, itemLines{orderID: order.ID, orders: r.orders})
}

// Lines merges every source, de-duplicated by rachma. A priced line wins
// over the legacy reference to the same rachma.
func (r *AssetResolver) Lines(ctx context.Context, order *models.Order) ([]OrderLine, error) {
	var merged []OrderLine
	index := make(map[string]int)

	for _, source := range r.Sources(order) {
		lines, err := source.Lines(ctx)
		if err != nil {
			return nil, err
		}

		for _, line := range lines {
			if i, ok := index[line.RachmaID]; ok {
				if merged[i].Price == nil && line.Price != nil {
					merged[i].Price = line.Price
				}
				continue
			}
			index[line.RachmaID] = len(merged)
			merged = append(merged, line)
		}
	}

	return merged, nil
}

// Resolve walks every product of order and collects its existing files.
// Problems are gathered as issues; only infrastructure failures are errors.
func (r *AssetResolver) Resolve(ctx context.Context, order *models.Order) (*Deliverables, error) {
	lines, err := r.Lines(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to list order lines: %w", err)
	}

	result := &Deliverables{OrderID: order.ID}
	if len(lines) == 0 {
		result.Issues = append(result.Issues, "order has no products")
		return result, nil
	}

	for _, line := range lines {
		if err := r.resolveProduct(ctx, line, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (r *AssetResolver) resolveProduct(ctx context.Context, line OrderLine, result *Deliverables) error {
	rachma, err := r.catalog.GetRachma(ctx, line.RachmaID)
	if errors.Is(err, repository.ErrNotFound) {
		result.Issues = append(result.Issues, fmt.Sprintf("rachma %s not found", line.RachmaID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get rachma %s: %w", line.RachmaID, err)
	}

	product := ProductDeliverable{Line: line, Rachma: rachma}
	defer func() { result.Products = append(result.Products, product) }()

	files, err := r.catalog.GetFiles(ctx, rachma.ID)
	if err != nil {
		return fmt.Errorf("failed to get files of rachma %s: %w", rachma.ID, err)
	}
	if len(files) == 0 {
		result.Issues = append(result.Issues, fmt.Sprintf("rachma %q has no files", rachma.Title))
		return nil
	}

	var missing []string
	for _, file := range files {
		exists, size, err := r.stat(ctx, file)
		if err != nil {
			r.logger.Warn("Failed to check rachma file", "error", err, "rachmaID", rachma.ID, "fileID", file.ID, "disk", file.Disk)
		}

		product.Files = append(product.Files, models.NewFileView(file, exists, size))
		if !exists {
			missing = append(missing, models.DisplayName(file))
			continue
		}

		result.Files = append(result.Files, models.NewArtifact(rachma, file, size))
		result.TotalSize += size
	}

	switch {
	case len(missing) == len(files):
		result.Issues = append(result.Issues, fmt.Sprintf("rachma %q: no files exist on disk", rachma.Title))
	case len(missing) > 0:
		for _, name := range missing {
			result.Issues = append(result.Issues, fmt.Sprintf("rachma %q: file %s missing on disk", rachma.Title, name))
		}
	}

	return nil
}

// Artifacts lists every catalogued file of order without checking the disks
func (r *AssetResolver) Artifacts(ctx context.Context, order *models.Order) ([]models.Artifact, error) {
	lines, err := r.Lines(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("failed to list order lines: %w", err)
	}

	var artifacts []models.Artifact
	for _, line := range lines {
		rachma, err := r.catalog.GetRachma(ctx, line.RachmaID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get rachma %s: %w", line.RachmaID, err)
		}

		files, err := r.catalog.GetFiles(ctx, rachma.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get files of rachma %s: %w", rachma.ID, err)
		}
		for _, file := range files {
			artifacts = append(artifacts, models.NewArtifact(rachma, file, file.Size))
		}
	}

	return artifacts, nil
}

// stat reports physical existence; a file that cannot be checked counts as missing
func (r *AssetResolver) stat(ctx context.Context, file *models.RachmaFile) (bool, int64, error) {
	exists, err := r.files.Exists(ctx, file.Disk, file.Path)
	if err != nil || !exists {
		return false, 0, err
	}

	size, err := r.files.Size(ctx, file.Disk, file.Path)
	if err != nil {
		return false, 0, err
	}
	return true, size, nil
}
