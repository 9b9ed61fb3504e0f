// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/income-verifier/internal/logging"
	"github.com/income-verifier/internal/metrics"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/service"
	"github.com/income-verifier/internal/types"
)

// Service interfaces for dependency injection and testing

// TransactionServiceInterface defines the enrichment operations exposed over HTTP
type TransactionServiceInterface interface {
	GetWalletTransactions(ctx context.Context, userID, walletID string, q service.WalletQuery) (*service.WalletTransactionsResult, error)
	GetAllUserTransactions(ctx context.Context, userID string, q service.AllQuery) ([]*types.EnrichedTransaction, error)
	RefreshWallet(ctx context.Context, userID, walletID string) error
}

// MetadataServiceInterface defines the annotation operations
type MetadataServiceInterface interface {
	SetLabel(ctx context.Context, target service.AnnotationTarget, label string) (*models.TransactionMeta, error)
	LinkVerifiedSender(ctx context.Context, target service.AnnotationTarget, senderID string) (*models.TransactionMeta, error)
	ListVerifiedSenders(ctx context.Context, chainID *types.ChainID) ([]*models.VerifiedSender, error)
}

// WalletServiceInterface defines the wallet linking operations
type WalletServiceInterface interface {
	IssueChallenge(ctx context.Context, userID, address string, chainID types.ChainID) (*service.WalletChallenge, error)
	LinkWallet(ctx context.Context, in service.LinkWalletInput) (*models.Wallet, error)
	ListWallets(ctx context.Context, userID string) ([]*models.Wallet, error)
}

// ReportServiceInterface defines the report draft operations
type ReportServiceInterface interface {
	BuildReport(ctx context.Context, in service.BuildReportInput) (*models.Report, error)
	GetReport(ctx context.Context, userID, reportID string) (*models.Report, error)
}

// Services groups the handlers' collaborators
type Services struct {
	Transactions TransactionServiceInterface
	Metadata     MetadataServiceInterface
	Wallets      WalletServiceInterface
	Reports      ReportServiceInterface
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerMinute int // Per-user request budget
	Burst             int
}

// NewServer creates a new API server instance.
// registry is served on /metrics; m records HTTP metrics and may be nil.
func NewServer(config *ServerConfig, services Services, registry *prometheus.Registry, m *metrics.Metrics, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		registry: registry,
		metrics:  m,
		logger:   logger,
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerMinute, s.config.Burst)

	// Order matters: logging wraps everything so recovered panics are logged with their status
	s.router.Use(LoggingMiddleware(s.logger, s.metrics))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		})).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()

	// Transaction endpoints
	api.HandleFunc("/transactions", s.handleGetTransactions).Methods("GET")
	api.HandleFunc("/transactions/{hash}/label", s.handleSetLabel).Methods("PUT")
	api.HandleFunc("/transactions/{hash}/verified-sender", s.handleLinkVerifiedSender).Methods("PUT")

	api.HandleFunc("/verified-senders", s.handleListVerifiedSenders).Methods("GET")

	// Wallet endpoints
	api.HandleFunc("/wallets", s.handleListWallets).Methods("GET")
	api.HandleFunc("/wallets", s.handleLinkWallet).Methods("POST")
	api.HandleFunc("/wallets/challenge", s.handleIssueChallenge).Methods("POST")
	api.HandleFunc("/wallets/{id}/refresh", s.handleRefreshWallet).Methods("POST")

	// Report endpoints
	api.HandleFunc("/reports", s.handleCreateReport).Methods("POST")
	api.HandleFunc("/reports/{id}", s.handleGetReport).Methods("GET")
}

// Handler returns the root handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "income-verifier",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
