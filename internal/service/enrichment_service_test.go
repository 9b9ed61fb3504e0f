package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/storage"
	"github.com/income-verifier/internal/types"
	"github.com/income-verifier/internal/worker"
)

const (
	walletAddrA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletAddrB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	payrollAddr = "0x1111111111111111111111111111111111111111"
	randomAddr  = "0x2222222222222222222222222222222222222222"
	exchangeAdr = "0x3333333333333333333333333333333333333333"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	wallets  *mockWalletRepo
	metadata *mockMetadataRepo
	senders  *mockSenderRepo
	source   *fakeSource
	prices   *fakePrices
	clock    *testClock
	svc      *EnrichmentService
	meta     *MetadataService
}

func strPtr(s string) *string { return &s }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	senders := newMockSenderRepo(
		&models.VerifiedSender{ID: "s-payroll", Address: payrollAddr, ChainID: types.ChainEthereum, CompanyName: "Acme Payroll", OfficialLabel: strPtr("Acme Corp"), IsActive: true},
		&models.VerifiedSender{ID: "s-exchange", Address: exchangeAdr, ChainID: types.ChainEthereum, CompanyName: "Exchange Co", IsActive: true},
		&models.VerifiedSender{ID: "s-retired", Address: randomAddr, ChainID: types.ChainEthereum, CompanyName: "Gone Ltd", IsActive: false},
	)
	wallets := newMockWalletRepo(
		&models.Wallet{ID: "w-eth", UserID: "user-1", Address: walletAddrA, ChainID: types.ChainEthereum, Label: strPtr("Main")},
		&models.Wallet{ID: "w-poly", UserID: "user-1", Address: walletAddrB, ChainID: types.ChainPolygon},
		&models.Wallet{ID: "w-bnb", UserID: "user-2", Address: walletAddrA, ChainID: types.ChainBNB},
		&models.Wallet{ID: "w-other", UserID: "user-2", Address: walletAddrB, ChainID: types.ChainEthereum},
	)

	source := newFakeSource(types.ChainEthereum, types.ChainPolygon)
	source.pages[walletAddrA] = &types.TransferPage{
		Transfers: []*types.NormalizedTransfer{
			{Hash: "0xusdc", ChainID: types.ChainEthereum, From: payrollAddr, To: walletAddrA, RawAmount: "1500000000", TokenSymbol: "USDC", TokenDecimals: 6, Timestamp: 1709294400, Category: types.CategoryToken},
			{Hash: "0xeth", ChainID: types.ChainEthereum, From: randomAddr, To: walletAddrA, RawAmount: "500000000000000000", TokenSymbol: "ETH", TokenDecimals: 18, Timestamp: 1709200000, Category: types.CategoryNative},
			{Hash: "0xfoo", ChainID: types.ChainEthereum, From: randomAddr, To: walletAddrA, RawAmount: "42", TokenSymbol: "FOO", TokenDecimals: 0, Timestamp: 1709100000, Category: types.CategoryToken},
		},
		PageKey: "p2",
	}
	source.pages[walletAddrA+"|p2"] = &types.TransferPage{
		Transfers: []*types.NormalizedTransfer{
			{Hash: "0xold", ChainID: types.ChainEthereum, From: randomAddr, To: walletAddrA, RawAmount: "1000000", TokenSymbol: "USDT", TokenDecimals: 6, Timestamp: 1700000000, Category: types.CategoryToken},
		},
	}
	source.pages[walletAddrB] = &types.TransferPage{
		Transfers: []*types.NormalizedTransfer{
			{Hash: "0xpoly", ChainID: types.ChainPolygon, From: randomAddr, To: walletAddrB, RawAmount: "2000000000000000000", TokenSymbol: "MATIC", TokenDecimals: 18, Timestamp: 1709250000, Category: types.CategoryNative},
		},
	}

	prices := &fakePrices{prices: map[string]float64{"USDC": 1, "USDT": 1, "ETH": 3000, "MATIC": 0.5}}
	clock := &testClock{now: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)}
	metadata := newMockMetadataRepo(senders)

	svc := NewEnrichmentService(EnrichmentDeps{
		Wallets:  wallets,
		Metadata: metadata,
		Senders:  senders,
		Source:   source,
		Prices:   prices,
		Cache:    storage.NewMemoryTransferCache(5 * time.Minute).WithClock(clock.Now),
		Pool:     worker.NewPool(worker.PoolConfig{Size: 2}),
	})

	return &fixture{
		wallets:  wallets,
		metadata: metadata,
		senders:  senders,
		source:   source,
		prices:   prices,
		clock:    clock,
		svc:      svc,
		meta:     NewMetadataService(wallets, metadata, senders),
	}
}

func TestGetWalletTransactions_Enriches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "p2", res.PageKey)
	require.Len(t, res.Transactions, 3)

	hashes := []string{res.Transactions[0].Hash, res.Transactions[1].Hash, res.Transactions[2].Hash}
	assert.Equal(t, []string{"0xusdc", "0xeth", "0xfoo"}, hashes, "provider order is kept")

	usdc := res.Transactions[0]
	require.NotNil(t, usdc.AmountUSD)
	assert.InDelta(t, 1500.0, *usdc.AmountUSD, 1e-9)
	require.NotNil(t, usdc.VerifiedSender, "from-address match verifies the payroll transfer")
	assert.Equal(t, "Acme Payroll", usdc.VerifiedSender.CompanyName)
	assert.Equal(t, "w-eth", usdc.Wallet.ID)
	assert.Equal(t, walletAddrA, usdc.Wallet.Address)
	assert.Equal(t, "Main", *usdc.Wallet.Label)
	assert.Nil(t, usdc.MetaID)
	assert.Nil(t, usdc.UserLabel)

	eth := res.Transactions[1]
	require.NotNil(t, eth.AmountUSD)
	assert.InDelta(t, 1500.0, *eth.AmountUSD, 1e-9)
	assert.Nil(t, eth.VerifiedSender, "inactive sender does not verify")

	assert.Nil(t, res.Transactions[2].AmountUSD, "unknown symbol has no valuation")

	asked := map[int64]bool{}
	for _, at := range f.prices.asked {
		asked[at.Unix()] = true
	}
	assert.True(t, asked[1709294400] && asked[1709200000] && asked[1709100000], "each transfer is priced at its own timestamp")
}

func TestGetWalletTransactions_SenderPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// explicit link overrides the address match
	_, err := f.meta.LinkVerifiedSender(ctx, AnnotationTarget{UserID: "user-1", TxHash: "0xUSDC", ChainID: types.ChainEthereum, WalletID: "w-eth"}, "s-exchange")
	require.NoError(t, err)
	// explicit link verifies a transfer with no address match
	_, err = f.meta.LinkVerifiedSender(ctx, AnnotationTarget{UserID: "user-1", TxHash: "0xeth", ChainID: types.ChainEthereum, WalletID: "w-eth"}, "s-payroll")
	require.NoError(t, err)

	res, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)

	assert.Equal(t, "Exchange Co", res.Transactions[0].VerifiedSender.CompanyName)
	assert.NotNil(t, res.Transactions[0].MetaID)
	assert.Equal(t, "Acme Payroll", res.Transactions[1].VerifiedSender.CompanyName)
	assert.Nil(t, res.Transactions[2].VerifiedSender)
}

func TestGetWalletTransactions_CacheTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, 1, f.source.callCount())

	f.clock.Advance(4 * time.Minute)
	second, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "p2", second.PageKey)
	assert.Len(t, second.Transactions, 3)
	assert.Equal(t, 1, f.source.callCount(), "fresh entry avoids the indexer")

	f.clock.Advance(61 * time.Second)
	third, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Equal(t, 2, f.source.callCount(), "entry older than five minutes is refetched")
}

func TestGetWalletTransactions_SkipCacheRefetches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)

	res, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{SkipCache: true})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 2, f.source.callCount())
}

func TestGetWalletTransactions_PaginationBypassesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)

	next, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{PageKey: "p2", MaxCount: 50})
	require.NoError(t, err)
	assert.False(t, next.FromCache)
	require.Len(t, next.Transactions, 1)
	assert.Equal(t, "0xold", next.Transactions[0].Hash)
	assert.Empty(t, next.PageKey)
	assert.Equal(t, "p2", f.source.calls[1].PageKey)
	assert.Equal(t, 50, f.source.calls[1].MaxCount)

	again, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	assert.True(t, again.FromCache, "continuation page did not overwrite the first page")
	assert.Equal(t, "0xusdc", again.Transactions[0].Hash)
	assert.Equal(t, 2, f.source.callCount())
}

func TestGetWalletTransactions_UnsupportedChain(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.GetWalletTransactions(context.Background(), "user-2", "w-bnb", WalletQuery{})
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
	assert.NotNil(t, res.Transactions)
	assert.False(t, res.FromCache)
	assert.Equal(t, 0, f.source.callCount())
}

func TestGetWalletTransactions_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetWalletTransactions(ctx, "user-1", "missing", WalletQuery{})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = f.svc.GetWalletTransactions(ctx, "user-1", "w-other", WalletQuery{})
	assert.True(t, apperrors.IsUnauthorized(err))

	assert.Equal(t, 0, f.source.callCount())
}

func TestGetWalletTransactions_MetadataFailureAbsorbed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.meta.SetLabel(ctx, AnnotationTarget{UserID: "user-1", TxHash: "0xusdc", ChainID: types.ChainEthereum, WalletID: "w-eth"}, "Salary")
	require.NoError(t, err)
	f.metadata.findErr = fmt.Errorf("connection refused")
	f.senders.findErr = fmt.Errorf("connection refused")

	res, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.Nil(t, res.Transactions[0].UserLabel)
	assert.Nil(t, res.Transactions[0].VerifiedSender)
	assert.NotNil(t, res.Transactions[0].AmountUSD)
}

func TestGetWalletTransactions_DoesNotMutateCachedTransfers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	first.Transactions[0].Hash = "mutated"

	second, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	assert.Equal(t, "0xusdc", second.Transactions[0].Hash)
}

func TestGetAllUserTransactions_MergesAndSorts(t *testing.T) {
	f := newFixture(t)

	all, err := f.svc.GetAllUserTransactions(context.Background(), "user-1", AllQuery{})
	require.NoError(t, err)
	require.Len(t, all, 4)

	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].Timestamp, all[i].Timestamp)
	}
	assert.Equal(t, "0xusdc", all[0].Hash)
	assert.Equal(t, "0xpoly", all[1].Hash)
	assert.Equal(t, "w-poly", all[1].Wallet.ID, "each transaction carries the wallet it was fetched for")
	assert.InDelta(t, 1.0, *all[1].AmountUSD, 1e-9)
}

func TestGetAllUserTransactions_IsolatesFailingWallet(t *testing.T) {
	f := newFixture(t)
	f.source.panicFor = walletAddrB

	all, err := f.svc.GetAllUserTransactions(context.Background(), "user-1", AllQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, tx := range all {
		assert.Equal(t, "w-eth", tx.Wallet.ID)
	}
}

func TestGetWalletTransactions_IsolatesFailingPriceLookup(t *testing.T) {
	for _, size := range []int{1, 0} {
		t.Run(fmt.Sprintf("pool size %d", size), func(t *testing.T) {
			f := newFixture(t)
			f.prices.panicFor = "ETH"
			svc := NewEnrichmentService(EnrichmentDeps{
				Wallets:  f.wallets,
				Metadata: f.metadata,
				Senders:  f.senders,
				Source:   f.source,
				Prices:   f.prices,
				Cache:    storage.NewMemoryTransferCache(5 * time.Minute).WithClock(f.clock.Now),
				Pool:     worker.NewPool(worker.PoolConfig{Size: size}),
			})

			res, err := svc.GetWalletTransactions(context.Background(), "user-1", "w-eth", WalletQuery{})
			require.NoError(t, err)
			require.Len(t, res.Transactions, 3)

			usdc := res.Transactions[0]
			require.NotNil(t, usdc.AmountUSD, "other transfers keep their valuation")
			assert.InDelta(t, 1500.0, *usdc.AmountUSD, 1e-9)
			assert.Nil(t, res.Transactions[1].AmountUSD, "failed lookup leaves the amount unknown")
			assert.Equal(t, "0xeth", res.Transactions[1].Hash)
		})
	}
}

func TestGetAllUserTransactions_NoWallets(t *testing.T) {
	f := newFixture(t)

	all, err := f.svc.GetAllUserTransactions(context.Background(), "nobody", AllQuery{})
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetAllUserTransactions(ctx, "user-1", AllQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.source.callCount())

	require.NoError(t, f.svc.RefreshWallet(ctx, "user-1", "w-eth"))
	res, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	res, err = f.svc.GetWalletTransactions(ctx, "user-1", "w-poly", WalletQuery{})
	require.NoError(t, err)
	assert.True(t, res.FromCache, "refresh touches only its own wallet")

	require.NoError(t, f.svc.InvalidateAll(ctx))
	res, err = f.svc.GetWalletTransactions(ctx, "user-1", "w-poly", WalletQuery{})
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	assert.True(t, apperrors.IsUnauthorized(f.svc.RefreshWallet(ctx, "user-1", "w-other")))
}

func TestUSDCIncomeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := AnnotationTarget{UserID: "user-1", TxHash: "0xusdc", ChainID: types.ChainEthereum, WalletID: "w-eth"}

	first, err := f.meta.SetLabel(ctx, target, "Salary")
	require.NoError(t, err)
	second, err := f.meta.SetLabel(ctx, target, "  Salary ")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "relabel updates the same row")
	assert.Equal(t, "Salary", *second.Label)

	res, err := f.svc.GetWalletTransactions(ctx, "user-1", "w-eth", WalletQuery{})
	require.NoError(t, err)

	usdc := res.Transactions[0]
	assert.Equal(t, "Salary", *usdc.UserLabel)
	assert.Equal(t, first.ID, *usdc.MetaID)
	assert.Equal(t, "Acme Payroll", usdc.VerifiedSender.CompanyName)
	assert.InDelta(t, 1500.0, *usdc.AmountUSD, 1e-9)

	summary := Summarize(res.Transactions)
	assert.Equal(t, 3, summary.TotalTransactions)
	assert.Equal(t, 1, summary.VerifiedTransactions)
	assert.Equal(t, 1, summary.LabeledTransactions)
	assert.InDelta(t, 3000.0, summary.TotalIncome, 1e-9)
	assert.InDelta(t, 1500.0, summary.VerifiedIncome, 1e-9)
}
