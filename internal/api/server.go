package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/vaidashi/rachma-marketplace/internal/archive"
	"github.com/vaidashi/rachma-marketplace/internal/clients"
	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/internal/service"
	"github.com/vaidashi/rachma-marketplace/pkg/circuitbreaker"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
	"github.com/vaidashi/rachma-marketplace/pkg/middleware"
)

// Fulfillment is the admin side of the order state machine
type Fulfillment interface {
	ChangeStatus(ctx context.Context, orderID string, req service.StatusChangeRequest) (*service.Outcome, error)
	Deliverables(ctx context.Context, orderID string) (*models.DeliverablesView, error)
}

// Orders creates and reads orders
type Orders interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*models.OrderView, error)
	GetOrder(ctx context.Context, id string) (*models.OrderView, error)
	GetClientOrders(ctx context.Context, clientID string, limit, offset int) ([]*models.OrderView, error)
}

// Archives builds and serves client download bundles
type Archives interface {
	BuildForOrder(ctx context.Context, orderID, clientID string) (*archive.Archive, error)
	Open(ctx context.Context, token string) (*archive.Archive, *os.File, error)
}

// Chats looks up bot API chats
type Chats interface {
	GetChat(ctx context.Context, chatID int64) (*clients.Chat, error)
}

// Designers reads designer balances
type Designers interface {
	GetByID(ctx context.Context, id string) (*models.Designer, error)
}

// OutboxMessages reads queued events
type OutboxMessages interface {
	GetMessage(ctx context.Context, id int64) (*models.OutboxMessage, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Worker is a background loop owned by the server
type Worker interface {
	Start()
	Stop()
}

// Dependencies are the collaborators the server routes requests to. Only
// Fulfillment, Orders and Archives are required.
type Dependencies struct {
	Fulfillment     Fulfillment
	Orders          Orders
	Archives        Archives
	Chats           Chats
	Designers       Designers
	Outbox          OutboxMessages
	Breaker         *circuitbreaker.CircuitBreaker
	Database        Pinger
	DownloadLimiter *middleware.RateLimiterMiddleware
	Workers         []Worker
	// Closers are released after the HTTP server stops, in order
	Closers []io.Closer
}

type Server struct {
	config     *config.Config
	logger     logger.Logger
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
}

// NewServer creates a new API server with the given configuration and logger.
func NewServer(cfg *config.Config, deps Dependencies, logger logger.Logger) *Server {
	r := mux.NewRouter()

	server := &Server{
		router: r,
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     r,
			ReadTimeout: 15 * time.Second,
			// completion waits for file delivery, which is bounded separately
			WriteTimeout: cfg.Fulfillment.DeliveryTimeout + 15*time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	server.setupRoutes()

	return server
}

// Handler returns the routed handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the background workers and then the HTTP server
func (s *Server) Start() error {
	for _, w := range s.deps.Workers {
		w.Start()
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	var result error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}

	for _, w := range s.deps.Workers {
		w.Stop()
	}

	if s.deps.DownloadLimiter != nil {
		s.deps.DownloadLimiter.Stop()
	}

	for _, c := range s.deps.Closers {
		if err := c.Close(); err != nil {
			s.logger.Error("Error releasing resource", "error", err)
			result = multierror.Append(result, err)
		}
	}

	return result
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	// Client endpoints
	api.HandleFunc("/clients/{id}/orders", s.getClientOrdersHandler).Methods(http.MethodGet)
	api.Handle("/orders/{id}/archive", s.limited(s.buildArchiveHandler)).Methods(http.MethodPost)
	api.Handle("/archives/{token}", s.limited(s.downloadArchiveHandler)).Methods(http.MethodGet)

	// Admin API for fulfillment
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/orders", s.createOrderHandler).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}", s.getOrderHandler).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/status", s.changeOrderStatusHandler).Methods(http.MethodPatch)
	admin.HandleFunc("/orders/{id}/deliverables", s.getDeliverablesHandler).Methods(http.MethodGet)
	admin.HandleFunc("/designers/{id}", s.getDesignerHandler).Methods(http.MethodGet)
	admin.HandleFunc("/outbox/{id:[0-9]+}", s.getOutboxMessageHandler).Methods(http.MethodGet)
	admin.HandleFunc("/chats/{chatID}", s.getChatHandler).Methods(http.MethodGet)
	admin.HandleFunc("/delivery/breaker", s.getCircuitBreakerStatusHandler).Methods(http.MethodGet)
	admin.HandleFunc("/delivery/breaker/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
}

// limited applies the per-IP download limiter when one is configured
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	if s.deps.DownloadLimiter == nil {
		return h
	}
	return s.deps.DownloadLimiter.Middleware(h)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}
