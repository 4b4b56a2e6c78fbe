package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// RetryableFunc defines a function that can be retried. attempt starts at 1.
type RetryableFunc func(attempt int) error

// RetryConfig holds the configuration for retrying operations
type RetryConfig struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	RetryableErrors []error          // List of errors to retry on
	Classifier      func(error) bool // Overrides RetryableErrors when set
}

// Error is returned once every attempt has failed
type Error struct {
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("all %d retry attempts failed, last error: %v", e.Attempts, e.Last)
}

func (e *Error) Unwrap() error {
	return e.Last
}

// Retry retries the given function according to the provided configuration.
// The wait between attempts is bounded by ctx.
func Retry(ctx context.Context, fn RetryableFunc, cfg *RetryConfig) error {
	var lastErr error

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
		default:
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == maxAttempts {
			break
		}

		if !cfg.isRetryable(err) {
			log.Warn("Non-retryable error encountered, giving up",
				"error", err,
				"attempt", attempt)
			return err
		}

		var backoff time.Duration
		if cfg.BackoffStrategy != nil {
			backoff = cfg.BackoffStrategy.NextBackoff(attempt)
		}

		log.Info("Retrying after error",
			"error", err,
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled by context during backoff: %w", ctx.Err())
		}
	}

	return &Error{Attempts: maxAttempts, Last: lastErr}
}

func (cfg *RetryConfig) isRetryable(err error) bool {
	if cfg.Classifier != nil {
		return cfg.Classifier(err)
	}

	// If no specific errors are defined, assume all errors are retryable
	if len(cfg.RetryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range cfg.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}
