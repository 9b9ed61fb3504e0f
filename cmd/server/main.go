// Package main provides the API server entry point for the income verifier service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/income-verifier/internal/adapter"
	"github.com/income-verifier/internal/api"
	"github.com/income-verifier/internal/config"
	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/logging"
	"github.com/income-verifier/internal/metrics"
	"github.com/income-verifier/internal/price"
	"github.com/income-verifier/internal/retry"
	"github.com/income-verifier/internal/service"
	"github.com/income-verifier/internal/storage"
	"github.com/income-verifier/internal/worker"
)

func main() {
	log.Println("Income Verifier API Server starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics()
	m.MustRegister(registry)

	// Postgres
	postgres, err := storage.NewPostgresDB(startupCtx, &cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	if cfg.Database.Postgres.AutoMigrate {
		migrator := storage.NewMigrator(storage.DatabaseURL(&cfg.Database.Postgres), cfg.Database.Postgres.MigrationsPath)
		if err := migrator.Up(); err != nil {
			logger.WithError(err).Fatal("Failed to apply migrations")
		}
		logger.Info("Migrations applied")
	}

	// Transfer cache
	var transferCache service.TransferCache
	switch cfg.Cache.Backend {
	case "redis":
		redis, err := storage.NewRedisCache(startupCtx, &cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redis.Close()
		transferCache = storage.NewRedisTransferCache(redis, cfg.Cache.TransferTTL)
	default:
		transferCache = storage.NewMemoryTransferCache(cfg.Cache.TransferTTL)
	}
	logger.WithFields(map[string]interface{}{
		"backend": cfg.Cache.Backend,
		"ttl":     cfg.Cache.TransferTTL.String(),
	}).Info("Transfer cache initialized")

	// Indexer
	if cfg.Indexer.APIKey == "" {
		logger.Warn("ALCHEMY_API_KEY is not set - transfer lists will be empty")
	}
	alchemy := adapter.NewAlchemyClient(adapter.AlchemyConfig{
		APIKey:          cfg.Indexer.APIKey,
		URLTemplate:     cfg.Indexer.URLTemplate,
		RequestsPerSec:  cfg.Indexer.RequestsPerSec,
		DefaultMaxCount: cfg.Indexer.DefaultMaxCount,
		Timeout:         cfg.Indexer.Timeout,
		SupportedChains: cfg.Indexer.SupportedChains,
		Metrics:         m,
	})
	defer alchemy.Close()

	// Prices
	cgConfig := price.DefaultCoinGeckoConfig()
	cgConfig.BaseURL = cfg.Price.BaseURL
	cgConfig.APIKey = cfg.Price.APIKey
	cgConfig.Timeout = cfg.Price.Timeout
	cgConfig.Metrics = m
	resolver := price.NewResolver(price.NewCoinGeckoClient(cgConfig), price.ResolverConfig{
		Cache:   gocache.New(cfg.Cache.PriceTTL, 2*cfg.Cache.PriceTTL),
		TTL:     cfg.Cache.PriceTTL,
		Metrics: m,
	})

	// Repositories
	walletRepo := storage.NewWalletRepository(postgres)
	metadataRepo := storage.NewMetadataRepository(postgres)
	senderRepo := storage.NewVerifiedSenderRepository(postgres)
	reportRepo := storage.NewReportRepository(postgres)

	// Services
	logger.Info("Initializing services...")

	enrichment := service.NewEnrichmentService(service.EnrichmentDeps{
		Wallets:  walletRepo,
		Metadata: metadataRepo,
		Senders:  senderRepo,
		Source:   alchemy,
		Prices:   resolver,
		Cache:    transferCache,
		Pool:     worker.NewPool(worker.PoolConfig{Size: cfg.Enrich.Workers}),
		Metrics:  m,
	})

	reportRetry := retry.DefaultRetryConfig()
	reportRetry.ShouldRetry = apperrors.IsRetryable

	services := api.Services{
		Transactions: enrichment,
		Metadata:     service.NewMetadataService(walletRepo, metadataRepo, senderRepo),
		Wallets:      service.NewWalletService(walletRepo, alchemy, service.NewChallengeStore(cfg.Cache.ChallengeTTL)),
		Reports:      service.NewReportService(enrichment, reportRepo, reportRetry),
	}

	logger.Info("Services initialized")

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, services, registry, m, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
