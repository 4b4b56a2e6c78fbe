package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaidashi/rachma-marketplace/internal/api"
	"github.com/vaidashi/rachma-marketplace/internal/archive"
	"github.com/vaidashi/rachma-marketplace/internal/clients"
	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/internal/database"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/internal/outbox"
	"github.com/vaidashi/rachma-marketplace/internal/repository"
	"github.com/vaidashi/rachma-marketplace/internal/service"
	"github.com/vaidashi/rachma-marketplace/internal/storage"
	"github.com/vaidashi/rachma-marketplace/pkg/kafka"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
	"github.com/vaidashi/rachma-marketplace/pkg/middleware"
)

func main() {
	cfg, err := config.Load()

	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	l := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"}).
		With("env", cfg.Env)
	defer logger.Sync(l)

	l.Info("Starting API server...")

	server, err := buildServer(context.Background(), cfg, l)
	if err != nil {
		l.Error("Failed to initialize server", "error", err)
		logger.Sync(l)
		os.Exit(1)
	}

	// Start the server in a goroutine
	go func() {
		l.Info(fmt.Sprintf("Server is starting on port %d", cfg.Port))

		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			l.Error("Failed to start server", "error", err)
			logger.Sync(l)
			os.Exit(1)
		}
	}()

	// Graceful shutdown via interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Fulfillment.DeliveryTimeout+10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		l.Error("Server forced to shutdown", "error", err)
	} else {
		l.Info("Server exiting")
	}
}

// buildServer wires storage, the bot API, the fulfillment services and the
// background workers behind the HTTP server
func buildServer(ctx context.Context, cfg *config.Config, l logger.Logger) (*api.Server, error) {
	var closers []io.Closer

	db, err := database.New(cfg, l)
	if err != nil {
		return nil, err
	}
	closers = append(closers, db)

	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	orderRepo := repository.NewOrderRepository(db, l)
	catalogRepo := repository.NewCatalogRepository(db, l)
	designerRepo := repository.NewDesignerRepository(db, l)
	deliveryRepo := repository.NewDeliveryRepository(db, l)
	outboxRepo := repository.NewOutboxRepository(db, l)

	files, err := storage.NewFromConfig(ctx, cfg.Storage, l)
	if err != nil {
		db.Close()
		return nil, err
	}

	telegram := clients.NewTelegramClient(cfg.Telegram, files, l.With("component", "telegram"))
	delivery := clients.NewFileDelivery(telegram, clients.NewDeliveryPolicy(cfg.Fulfillment), l.With("component", "delivery"))

	resolver := service.NewAssetResolver(orderRepo, catalogRepo, files, l)
	ledger := service.NewEarningsLedger(designerRepo, service.NewCommissionPolicy(cfg.Fulfillment), l)

	fulfillment := service.NewFulfillmentService(service.FulfillmentDeps{
		Tx:         db,
		Orders:     orderRepo,
		Catalog:    catalogRepo,
		Deliveries: deliveryRepo,
		Outbox:     outboxRepo,
		Resolver:   resolver,
		Ledger:     ledger,
		Delivery:   delivery,
	}, service.NewFulfillmentOptions(cfg.Fulfillment), l.With("component", "fulfillment"))

	orderService := service.NewOrderService(db, orderRepo, catalogRepo, outboxRepo, l)

	packager, err := archive.NewPackager(files, cfg.Archive.Dir, cfg.Archive.TTL, l.With("component", "archive"))
	if err != nil {
		db.Close()
		return nil, err
	}

	var registry archive.Registry = archive.NewMemoryRegistry()
	if cfg.Archive.Registry == "redis" {
		client, err := archive.NewRedisClient(cfg.Redis)
		if err != nil {
			db.Close()
			return nil, err
		}
		closers = append(closers, client)
		registry = archive.NewRedisRegistry(client, "")
		l.Info("Archive registry on Redis", "addr", cfg.GetRedisAddr())
	}

	janitor := archive.NewJanitor(packager, registry, cfg.Archive.CleanupInterval, l.With("component", "janitor"))
	archives := service.NewArchiveService(orderRepo, resolver, packager, registry, l)

	processor := outbox.NewProcessor(outboxRepo, outbox.NewProcessorConfig(cfg.Outbox), l.With("component", "outbox"))
	logging := outbox.NewLoggingHandler(l)
	notifications := outbox.NewNotificationHandler(delivery, l)

	var statusHandlers outbox.FanOut
	createdHandler := outbox.MessageHandler(logging)
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers, ClientID: cfg.Kafka.ClientID}, l)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
		}
		// the producer is closed before the database so in-flight handlers finish first
		closers = append([]io.Closer{producer}, closers...)

		kafkaHandler := outbox.NewKafkaHandler(producer, cfg.Kafka.OrdersTopic, l)
		statusHandlers = append(statusHandlers, kafkaHandler)
		createdHandler = kafkaHandler
	}
	statusHandlers = append(statusHandlers, logging)

	processor.RegisterHandler(models.EventOrderCreated, createdHandler)
	processor.RegisterHandler(models.EventOrderStatusChanged, statusHandlers)
	processor.RegisterHandler(models.EventClientNotificationRequested, notifications)

	limiter := middleware.NewRateLimiterMiddleware(&middleware.RateLimiterConfig{
		IPMaxTokens:       cfg.RateLimit.MaxTokens,
		IPRefillRate:      cfg.RateLimit.RefillRate,
		TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
	}, l)

	return api.NewServer(cfg, api.Dependencies{
		Fulfillment:     fulfillment,
		Orders:          orderService,
		Archives:        archives,
		Chats:           telegram,
		Designers:       designerRepo,
		Outbox:          outboxRepo,
		Breaker:         telegram.Breaker(),
		Database:        db,
		DownloadLimiter: limiter,
		Workers:         []api.Worker{processor, janitor},
		Closers:         closers,
	}, l), nil
}
