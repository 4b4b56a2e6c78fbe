package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
	"github.com/vaidashi/rachma-marketplace/pkg/retry"
)

// Transport is the single-attempt bot API surface FileDelivery retries over
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, doc Document) error
}

// DeliveryPolicy bounds the retries of every send
type DeliveryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultDeliveryPolicy is three attempts two seconds apart
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second}
}

// NewDeliveryPolicy reads the retry bounds from the fulfillment configuration
func NewDeliveryPolicy(cfg config.FulfillmentConfig) DeliveryPolicy {
	return DeliveryPolicy{MaxAttempts: cfg.DeliveryAttempts, Backoff: cfg.DeliveryBackoff}
}

// FileDeliveryRequest describes the files of one order to push to a client
type FileDeliveryRequest struct {
	OrderID  string
	ClientID string
	ChatID   int64
	Files    []models.Artifact
	// Skip holds file ids already delivered by a previous attempt
	Skip map[string]bool
	// OnSent is called after each confirmed send
	OnSent func(file models.Artifact, sentAt time.Time)
}

// FailedArtifact is a file that could not be sent within the policy
type FailedArtifact struct {
	FileID   string `json:"file_id"`
	Name     string `json:"name"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// DeliveryReport is the per-file result of SendRachmaFilesWithRetry
type DeliveryReport struct {
	OrderID string           `json:"order_id"`
	Sent    []string         `json:"sent"`
	Skipped []string         `json:"skipped,omitempty"`
	Pending []string         `json:"pending,omitempty"`
	Failed  []FailedArtifact `json:"failed,omitempty"`
}

// Delivered is true when every file of the request reached the client
func (r *DeliveryReport) Delivered() bool {
	if r == nil {
		return false
	}
	return len(r.Failed) == 0 && len(r.Pending) == 0 && len(r.Sent)+len(r.Skipped) > 0
}

// FirstFailure describes the first blocking file, or "" when delivered
func (r *DeliveryReport) FirstFailure() string {
	if r == nil {
		return "no delivery report"
	}
	if len(r.Failed) > 0 {
		f := r.Failed[0]
		return fmt.Sprintf("file %s could not be sent after %d attempts: %s", f.Name, f.Attempts, f.Error)
	}
	if len(r.Pending) > 0 {
		return fmt.Sprintf("%d files were not sent", len(r.Pending))
	}
	if len(r.Sent)+len(r.Skipped) == 0 {
		return "no files to send"
	}
	return ""
}

// FileDelivery wraps a Transport with bounded retries. Failures never
// escape as errors; callers only see booleans and reports.
type FileDelivery struct {
	transport Transport
	policy    DeliveryPolicy
	logger    logger.Logger
}

// NewFileDelivery creates a new FileDelivery instance
func NewFileDelivery(transport Transport, policy DeliveryPolicy, logger logger.Logger) *FileDelivery {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	return &FileDelivery{
		transport: transport,
		policy:    policy,
		logger:    logger,
	}
}

// Policy returns the retry policy in use
func (d *FileDelivery) Policy() DeliveryPolicy {
	return d.policy
}

func (d *FileDelivery) retryConfig(log logger.Logger) *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts:     d.policy.MaxAttempts,
		BackoffStrategy: &retry.ConstantBackoff{Interval: d.policy.Backoff},
		Logger:          log,
		Classifier:      errors.IsRetryable,
	}
}

// SendNotificationWithRetry sends a text message, retrying per policy
func (d *FileDelivery) SendNotificationWithRetry(ctx context.Context, chatID int64, text string) bool {
	log := d.logger.With("chatID", chatID)

	err := retry.Retry(ctx, func(attempt int) error {
		return d.transport.SendMessage(ctx, chatID, text)
	}, d.retryConfig(log))
	if err != nil {
		log.Error("Failed to send notification after retries", "error", err)
		return false
	}

	return true
}

// SendRachmaFilesWithRetry sends every file of the request, each with its
// own bounded retries. It stops at the first file that cannot be sent; the
// remaining files are reported as pending.
func (d *FileDelivery) SendRachmaFilesWithRetry(ctx context.Context, req FileDeliveryRequest) *DeliveryReport {
	report := &DeliveryReport{OrderID: req.OrderID}
	log := d.logger.With("orderID", req.OrderID, "clientID", req.ClientID, "chatID", req.ChatID)

	for i, file := range req.Files {
		if req.Skip[file.FileID] {
			report.Skipped = append(report.Skipped, file.FileID)
			continue
		}

		doc := Document{
			Disk:    file.Disk,
			Path:    file.Path,
			Name:    file.Name,
			Caption: fmt.Sprintf("%s (%s) - order %s", file.Title, file.Format, req.OrderID),
		}

		attempts := 0
		err := retry.Retry(ctx, func(attempt int) error {
			attempts = attempt
			return d.transport.SendDocument(ctx, req.ChatID, doc)
		}, d.retryConfig(log.With("fileID", file.FileID)))

		if err != nil {
			log.Error("Failed to deliver file after retries",
				"error", err,
				"fileID", file.FileID,
				"rachmaID", file.RachmaID,
				"attempts", attempts)

			report.Failed = append(report.Failed, FailedArtifact{
				FileID:   file.FileID,
				Name:     file.Name,
				Attempts: attempts,
				Error:    err.Error(),
			})
			for _, rest := range req.Files[i+1:] {
				if !req.Skip[rest.FileID] {
					report.Pending = append(report.Pending, rest.FileID)
				}
			}
			return report
		}

		report.Sent = append(report.Sent, file.FileID)
		if req.OnSent != nil {
			req.OnSent(file, models.GetCurrentTime())
		}
	}

	log.Info("Delivered order files", "sent", len(report.Sent), "skipped", len(report.Skipped))
	return report
}
