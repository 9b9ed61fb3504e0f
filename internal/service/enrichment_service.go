package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/income-verifier/internal/adapter"
	"github.com/income-verifier/internal/logging"
	"github.com/income-verifier/internal/metrics"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/price"
	"github.com/income-verifier/internal/types"
	"github.com/income-verifier/internal/worker"
)

// Cache lookup results recorded in metrics
const (
	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheBypass = "bypass"
)

// EnrichmentDeps holds the collaborators of an EnrichmentService
type EnrichmentDeps struct {
	Wallets  WalletRepository
	Metadata MetadataRepository
	Senders  VerifiedSenderRepository
	Source   adapter.TransferSource
	Prices   PriceResolver
	Cache    TransferCache
	Pool     *worker.Pool     // nil runs one goroutine per transfer
	Metrics  *metrics.Metrics // optional
}

// EnrichmentService merges indexer transfers with user metadata and USD valuations
type EnrichmentService struct {
	wallets  WalletRepository
	metadata MetadataRepository
	senders  VerifiedSenderRepository
	source   adapter.TransferSource
	prices   PriceResolver
	cache    TransferCache
	pool     *worker.Pool
	metrics  *metrics.Metrics
}

// NewEnrichmentService creates a new enrichment service
func NewEnrichmentService(deps EnrichmentDeps) *EnrichmentService {
	pool := deps.Pool
	if pool == nil {
		pool = worker.NewPool(worker.PoolConfig{})
	}
	return &EnrichmentService{
		wallets:  deps.Wallets,
		metadata: deps.Metadata,
		senders:  deps.Senders,
		source:   deps.Source,
		prices:   deps.Prices,
		cache:    deps.Cache,
		pool:     pool,
		metrics:  deps.Metrics,
	}
}

// WalletQuery selects a page of a single wallet's transactions
type WalletQuery struct {
	MaxCount  int    // 0 uses the indexer default
	PageKey   string // Continuation cursor; non-empty bypasses the cache
	SkipCache bool
}

// WalletTransactionsResult is one enriched page
type WalletTransactionsResult struct {
	Transactions []*types.EnrichedTransaction `json:"transactions"`
	PageKey      string                       `json:"pageKey,omitempty"`
	FromCache    bool                         `json:"fromCache"`
}

// AllQuery selects the first page of every wallet a user owns
type AllQuery struct {
	MaxCountPerWallet int
	SkipCache         bool
}

// GetWalletTransactions returns enriched incoming transfers for one of the user's wallets.
// Only a missing or foreign wallet is an error; upstream failures yield partial data.
func (s *EnrichmentService) GetWalletTransactions(ctx context.Context, userID, walletID string, q WalletQuery) (*WalletTransactionsResult, error) {
	wallet, err := loadOwnedWallet(ctx, s.wallets, userID, walletID)
	if err != nil {
		return nil, err
	}
	return s.enrichWallet(ctx, wallet, q), nil
}

// GetAllUserTransactions enriches the first page of every wallet of the user.
// Wallets are processed concurrently; a failing wallet is logged and left out.
// The result is ordered by timestamp, newest first.
func (s *EnrichmentService) GetAllUserTransactions(ctx context.Context, userID string, q AllQuery) ([]*types.EnrichedTransaction, error) {
	wallets, err := s.wallets.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	perWallet := make([][]*types.EnrichedTransaction, len(wallets))
	errs := s.pool.Map(ctx, len(wallets), func(ctx context.Context, i int) error {
		res := s.enrichWallet(ctx, wallets[i], WalletQuery{MaxCount: q.MaxCountPerWallet, SkipCache: q.SkipCache})
		perWallet[i] = res.Transactions
		return nil
	})

	all := make([]*types.EnrichedTransaction, 0)
	for i, txs := range perWallet {
		if errs[i] != nil {
			s.metrics.RecordWalletFailure()
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"wallet_id": wallets[i].ID,
				"chain_id":  wallets[i].ChainID.String(),
			}).WithError(errs[i]).Warn("Skipping wallet in combined transaction list")
			continue
		}
		all = append(all, txs...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp > all[j].Timestamp
	})
	return all, nil
}

// RefreshWallet drops the cached transfers of one of the user's wallets
func (s *EnrichmentService) RefreshWallet(ctx context.Context, userID, walletID string) error {
	wallet, err := loadOwnedWallet(ctx, s.wallets, userID, walletID)
	if err != nil {
		return err
	}
	return s.InvalidateCache(ctx, wallet.Address, wallet.ChainID)
}

// InvalidateCache drops the cached transfers for one address on one chain
func (s *EnrichmentService) InvalidateCache(ctx context.Context, address string, chainID types.ChainID) error {
	return s.cache.Invalidate(ctx, address, chainID)
}

// InvalidateAll drops every cached transfer list
func (s *EnrichmentService) InvalidateAll(ctx context.Context) error {
	return s.cache.Clear(ctx)
}

func (s *EnrichmentService) enrichWallet(ctx context.Context, wallet *models.Wallet, q WalletQuery) *WalletTransactionsResult {
	if !s.source.SupportsChain(wallet.ChainID) {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"wallet_id": wallet.ID,
			"chain_id":  wallet.ChainID.String(),
		}).Info("Chain not supported by indexer, returning no transactions")
		return &WalletTransactionsResult{Transactions: []*types.EnrichedTransaction{}}
	}

	page, fromCache := s.loadTransfers(ctx, wallet, q)
	return &WalletTransactionsResult{
		Transactions: s.enrich(ctx, wallet, page.Transfers),
		PageKey:      page.PageKey,
		FromCache:    fromCache,
	}
}

// loadTransfers serves first pages from the cache when fresh.
// Continuation pages always hit the indexer and never touch the cache.
func (s *EnrichmentService) loadTransfers(ctx context.Context, wallet *models.Wallet, q WalletQuery) (*types.TransferPage, bool) {
	log := logging.FromContext(ctx).WithField("wallet_id", wallet.ID)
	firstPage := q.PageKey == ""

	if firstPage && !q.SkipCache {
		entry, ok, err := s.cache.Get(ctx, wallet.Address, wallet.ChainID)
		if err != nil {
			log.WithError(err).Warn("Transfer cache read failed")
		}
		if ok {
			s.metrics.RecordCacheLookup(metrics.CacheTransfers, cacheHit)
			return &types.TransferPage{Transfers: entry.Transfers, PageKey: entry.PageKey}, true
		}
		s.metrics.RecordCacheLookup(metrics.CacheTransfers, cacheMiss)
	} else {
		s.metrics.RecordCacheLookup(metrics.CacheTransfers, cacheBypass)
	}

	page := s.source.FetchTransfers(ctx, wallet.Address, wallet.ChainID, adapter.FetchOptions{
		PageKey:  q.PageKey,
		MaxCount: q.MaxCount,
	})
	if page == nil {
		page = &types.TransferPage{}
	}

	if firstPage {
		if err := s.cache.Set(ctx, wallet.Address, wallet.ChainID, page); err != nil {
			log.WithError(err).Warn("Transfer cache write failed")
		}
	}
	return page, false
}

// enrich attaches metadata, sender and USD value to each transfer, preserving order
func (s *EnrichmentService) enrich(ctx context.Context, wallet *models.Wallet, transfers []*types.NormalizedTransfer) []*types.EnrichedTransaction {
	out := make([]*types.EnrichedTransaction, 0, len(transfers))
	if len(transfers) == 0 {
		return out
	}

	metas, senders := s.lookupAnnotations(ctx, wallet, transfers)
	view := wallet.View()

	for _, t := range transfers {
		tx := &types.EnrichedTransaction{NormalizedTransfer: *t, Wallet: view}

		if meta, ok := metas[strings.ToLower(t.Hash)]; ok {
			id := meta.ID
			tx.MetaID = &id
			tx.UserLabel = meta.Label
			if meta.VerifiedSender != nil {
				tx.VerifiedSender = meta.VerifiedSender.View()
			}
		}
		if tx.VerifiedSender == nil {
			if sender, ok := senders[strings.ToLower(t.From)]; ok {
				tx.VerifiedSender = sender.View()
			}
		}
		out = append(out, tx)
	}

	errs := s.pool.Map(ctx, len(out), func(ctx context.Context, i int) error {
		out[i].AmountUSD = s.valueInUSD(ctx, out[i])
		return nil
	})
	for i, err := range errs {
		if err != nil {
			logging.FromContext(ctx).WithField("hash", out[i].Hash).WithError(err).Warn("Price lookup aborted")
		}
	}
	return out
}

// lookupAnnotations bulk-loads meta rows by hash and active senders by from-address.
// Store failures are logged and yield empty maps.
func (s *EnrichmentService) lookupAnnotations(ctx context.Context, wallet *models.Wallet, transfers []*types.NormalizedTransfer) (map[string]*models.TransactionMeta, map[string]*models.VerifiedSender) {
	log := logging.FromContext(ctx).WithField("wallet_id", wallet.ID)

	hashes := make([]string, 0, len(transfers))
	seen := make(map[string]bool)
	froms := make([]string, 0)
	for _, t := range transfers {
		hashes = append(hashes, t.Hash)
		from := strings.ToLower(t.From)
		if from != "" && !seen[from] {
			seen[from] = true
			froms = append(froms, from)
		}
	}

	metas := make(map[string]*models.TransactionMeta)
	rows, err := s.metadata.FindByHashes(ctx, wallet.UserID, wallet.ChainID, hashes)
	if err != nil {
		log.WithError(err).Warn("Failed to load transaction metadata")
	}
	for _, m := range rows {
		metas[strings.ToLower(m.TxHash)] = m
	}

	senders, err := s.senders.FindActiveByAddresses(ctx, wallet.ChainID, froms)
	if err != nil {
		log.WithError(err).Warn("Failed to load verified senders")
		senders = nil
	}
	return metas, senders
}

// valueInUSD prices the transfer at its own block time; nil when unknown
func (s *EnrichmentService) valueInUSD(ctx context.Context, tx *types.EnrichedTransaction) *float64 {
	unit := s.prices.HistoricalPrice(ctx, tx.TokenSymbol, time.Unix(tx.Timestamp, 0).UTC())
	if unit == nil || math.IsNaN(*unit) || math.IsInf(*unit, 0) {
		return nil
	}

	usd, err := price.ConvertToUSD(tx.RawAmount, tx.TokenDecimals, *unit)
	if err != nil {
		logging.FromContext(ctx).WithField("hash", tx.Hash).WithError(err).Debug("Cannot convert amount to USD")
		return nil
	}
	return &usd
}
