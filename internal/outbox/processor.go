package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
	"github.com/vaidashi/rachma-marketplace/pkg/retry"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// Store is the outbox table as seen by the processor
type Store interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkAsProcessing(ctx context.Context, id int64) (bool, error)
	MarkAsCompleted(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64, errorMessage string) error
	MarkForRetry(ctx context.Context, id int64, errorMessage string) error
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// statusTimeout bounds a status update once the handler has returned
const statusTimeout = 5 * time.Second

// Processor polls the outbox table and hands messages to their handlers
type Processor struct {
	store           Store
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	handlerTimeout  time.Duration
	lease           time.Duration
	backoff         retry.BackoffStrategy
	logger          logger.Logger
	now             func() time.Time

	// retryAt holds requeued messages until their backoff elapses. It is
	// per process; after a restart requeued messages are picked up at once.
	retryAt map[int64]time.Time
	retryMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	// HandlerTimeout bounds a single handler call
	HandlerTimeout time.Duration
	// Lease is how long a claimed message may stay in processing before
	// it is put back in the queue
	Lease time.Duration
	// Backoff delays a requeued message before it is picked up again
	Backoff retry.BackoffStrategy
}

// NewProcessorConfig reads the processor settings from the outbox configuration
func NewProcessorConfig(cfg config.OutboxConfig) ProcessorConfig {
	return ProcessorConfig{
		PollingInterval: cfg.PollingInterval,
		BatchSize:       cfg.BatchSize,
		MaxRetries:      cfg.MaxRetries,
		HandlerTimeout:  cfg.HandlerTimeout,
		Lease:           cfg.ProcessingLease,
		Backoff: &retry.ExponentialBackoff{
			InitialInterval: cfg.RetryInitial,
			MaxInterval:     cfg.RetryMax,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	}
}

// NewProcessor creates a new Processor
func NewProcessor(store Store, config ProcessorConfig, logger logger.Logger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	if config.PollingInterval <= 0 {
		config.PollingInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 2 * time.Minute
	}
	if config.Lease <= config.HandlerTimeout {
		config.Lease = config.HandlerTimeout + statusTimeout
	}
	if config.Backoff == nil {
		config.Backoff = retry.NewDefaultExponentialBackoff()
	}

	return &Processor{
		store:           store,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		handlerTimeout:  config.HandlerTimeout,
		lease:           config.Lease,
		backoff:         config.Backoff,
		logger:          logger,
		now:             time.Now,
		retryAt:         make(map[int64]time.Time),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType string, handler MessageHandler) {
	p.handlers[eventType] = handler
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.processOutbox()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize)
}

// Stop stops the outbox processor
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) processOutbox() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
		}
	}
}

// ProcessBatch handles one batch of pending messages and returns how many completed
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	requeued, err := p.store.RequeueStale(ctx, p.now().Add(-p.lease))
	if err != nil {
		p.logger.Warn("Failed to requeue stale outbox messages", "error", err)
	} else if requeued > 0 {
		p.logger.Warn("Requeued outbox messages past their lease", "count", requeued, "lease", p.lease)
	}

	messages, err := p.store.GetPendingMessages(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending messages: %w", err)
	}

	if len(messages) == 0 {
		p.logger.Debug("No pending messages to process")
		return 0, nil
	}

	p.logger.Info("Processing batch of outbox messages", "count", len(messages))

	completed := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if p.waiting(msg.ID) {
			continue
		}

		err := p.processMessage(ctx, msg)
		if errors.Is(err, errSkipped) {
			continue
		}
		if err != nil {
			p.logger.Error("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType)
			continue
		}
		completed++
	}

	return completed, nil
}

// waiting reports whether msg is still inside its retry backoff
func (p *Processor) waiting(id int64) bool {
	p.retryMu.Lock()
	defer p.retryMu.Unlock()

	at, ok := p.retryAt[id]
	if !ok {
		return false
	}
	if p.now().Before(at) {
		return true
	}
	delete(p.retryAt, id)
	return false
}

func (p *Processor) deferRetry(id int64, attempt int) time.Duration {
	wait := p.backoff.NextBackoff(attempt)

	p.retryMu.Lock()
	p.retryAt[id] = p.now().Add(wait)
	p.retryMu.Unlock()

	return wait
}

// errSkipped marks a message another worker claimed first
var errSkipped = errors.New("message already claimed")

func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	claimed, err := p.store.MarkAsProcessing(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to mark message as processing: %w", err)
	}
	if !claimed {
		p.logger.Debug("Message claimed by another worker", "messageID", msg.ID)
		return errSkipped
	}
	attempts := msg.ProcessingAttempts + 1

	handler, exists := p.handlers[msg.EventType]
	var handleErr error
	if exists {
		handleErr = p.handle(ctx, handler, msg)
	}

	// status updates must land even when the handler used up its time
	// or the processor is stopping
	statusCtx, cancelStatus := p.statusContext(ctx)
	defer cancelStatus()

	if !exists {
		errorMsg := fmt.Sprintf("no handler registered for event type: %s", msg.EventType)
		if err := p.store.MarkAsFailed(statusCtx, msg.ID, errorMsg); err != nil {
			p.logger.Error("Failed to mark message as failed", "error", err, "messageID", msg.ID)
		}
		return fmt.Errorf("%s", errorMsg)
	}

	if err := handleErr; err != nil {
		if attempts >= p.maxRetries {
			errorMsg := fmt.Sprintf("max retries reached: %s", err.Error())
			if markErr := p.store.MarkAsFailed(statusCtx, msg.ID, errorMsg); markErr != nil {
				p.logger.Error("Failed to mark message as failed", "error", markErr, "messageID", msg.ID)
			}
			return fmt.Errorf("message failed after %d attempts: %w", attempts, err)
		}

		wait := p.deferRetry(msg.ID, attempts)
		p.logger.Warn("Message processing failed, will retry",
			"error", err,
			"messageID", msg.ID,
			"attempt", attempts,
			"retryIn", wait)
		if markErr := p.store.MarkForRetry(statusCtx, msg.ID, err.Error()); markErr != nil {
			p.logger.Error("Failed to requeue message", "error", markErr, "messageID", msg.ID)
		}
		return err
	}

	if err := p.store.MarkAsCompleted(statusCtx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as completed: %w", err)
	}

	p.logger.Info("Successfully processed message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return nil
}

func (p *Processor) handle(ctx context.Context, handler MessageHandler, msg *models.OutboxMessage) error {
	ctx, cancel := context.WithTimeout(ctx, p.handlerTimeout)
	defer cancel()
	return handler.HandleMessage(ctx, msg)
}

// statusContext detaches from ctx so a status write is not cut short by
// the cancellation that ended the handler
func (p *Processor) statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
}
