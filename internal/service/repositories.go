package service

import (
	"context"
	"time"

	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/storage"
	"github.com/income-verifier/internal/types"
)

// Repository interfaces for dependency injection

// WalletRepository interface for wallet data operations
type WalletRepository interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByID(ctx context.Context, id string) (*models.Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Wallet, error)
}

// MetadataRepository interface for transaction annotation operations
type MetadataRepository interface {
	UpsertLabel(ctx context.Context, key storage.MetaKey, label *string) (*models.TransactionMeta, error)
	UpsertVerifiedSender(ctx context.Context, key storage.MetaKey, senderID string) (*models.TransactionMeta, error)
	FindByHashes(ctx context.Context, userID string, chainID types.ChainID, hashes []string) ([]*models.TransactionMeta, error)
}

// VerifiedSenderRepository interface for verified sender lookups
type VerifiedSenderRepository interface {
	GetByID(ctx context.Context, id string) (*models.VerifiedSender, error)
	FindActiveByAddresses(ctx context.Context, chainID types.ChainID, addresses []string) (map[string]*models.VerifiedSender, error)
	ListActive(ctx context.Context, chainID *types.ChainID) ([]*models.VerifiedSender, error)
}

// ReportRepository interface for report persistence
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id string) (*models.Report, error)
}

// TransferCache stores the first page of transfers per (address, chain).
// Implemented by storage.MemoryTransferCache and storage.RedisTransferCache.
type TransferCache interface {
	Get(ctx context.Context, address string, chainID types.ChainID) (*storage.TransferCacheEntry, bool, error)
	Set(ctx context.Context, address string, chainID types.ChainID, page *types.TransferPage) error
	Invalidate(ctx context.Context, address string, chainID types.ChainID) error
	Clear(ctx context.Context) error
}

// PriceResolver values tokens at a point in time. nil means unknown.
type PriceResolver interface {
	HistoricalPrice(ctx context.Context, symbol string, at time.Time) *float64
}

// ChainSupport reports whether the indexer can serve a chain
type ChainSupport interface {
	SupportsChain(chainID types.ChainID) bool
}
