package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/income-verifier/internal/adapter"
	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/models"
	"github.com/income-verifier/internal/storage"
	"github.com/income-verifier/internal/types"
)

// Mock repositories for testing

type mockWalletRepo struct {
	mu      sync.Mutex
	wallets map[string]*models.Wallet
	listErr error
}

func newMockWalletRepo(wallets ...*models.Wallet) *mockWalletRepo {
	m := &mockWalletRepo{wallets: make(map[string]*models.Wallet)}
	for _, w := range wallets {
		m.wallets[w.ID] = w
	}
	return m
}

func (m *mockWalletRepo) Create(ctx context.Context, wallet *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.UserID == wallet.UserID && w.Address == wallet.Address && w.ChainID == wallet.ChainID {
			return &types.ServiceError{Code: "WALLET_EXISTS", Message: "wallet already linked"}
		}
	}
	if wallet.ID == "" {
		wallet.ID = fmt.Sprintf("wallet-%d", len(m.wallets)+1)
	}
	m.wallets[wallet.ID] = wallet
	return nil
}

func (m *mockWalletRepo) GetByID(ctx context.Context, id string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[id]; ok {
		return w, nil
	}
	return nil, apperrors.NewNotFoundError("wallet", id)
}

func (m *mockWalletRepo) ListByUser(ctx context.Context, userID string) ([]*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []*models.Wallet
	for _, w := range m.wallets {
		if w.UserID == userID {
			result = append(result, w)
		}
	}
	return result, nil
}

type metaKey struct {
	hash  string
	chain types.ChainID
}

// mockMetadataRepo mirrors the upsert-merge semantics of the SQL repository
type mockMetadataRepo struct {
	mu      sync.Mutex
	rows    map[metaKey]*models.TransactionMeta
	senders *mockSenderRepo
	findErr error
	finds   int
}

func newMockMetadataRepo(senders *mockSenderRepo) *mockMetadataRepo {
	return &mockMetadataRepo{rows: make(map[metaKey]*models.TransactionMeta), senders: senders}
}

func (m *mockMetadataRepo) upsert(key storage.MetaKey, apply func(*models.TransactionMeta)) (*models.TransactionMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := metaKey{strings.ToLower(key.TxHash), key.ChainID}
	row, ok := m.rows[k]
	if !ok {
		row = &models.TransactionMeta{ID: uuid.New().String(), TxHash: k.hash, ChainID: key.ChainID, UserID: key.UserID, CreatedAt: time.Now()}
		m.rows[k] = row
	}
	if row.UserID != key.UserID {
		return nil, apperrors.NewUnauthorizedError("transaction is annotated by another user")
	}
	row.WalletID = key.WalletID
	row.UpdatedAt = time.Now()
	apply(row)
	cp := *row
	return &cp, nil
}

func (m *mockMetadataRepo) UpsertLabel(ctx context.Context, key storage.MetaKey, label *string) (*models.TransactionMeta, error) {
	return m.upsert(key, func(r *models.TransactionMeta) { r.Label = label })
}

func (m *mockMetadataRepo) UpsertVerifiedSender(ctx context.Context, key storage.MetaKey, senderID string) (*models.TransactionMeta, error) {
	return m.upsert(key, func(r *models.TransactionMeta) { r.VerifiedSenderID = &senderID })
}

func (m *mockMetadataRepo) FindByHashes(ctx context.Context, userID string, chainID types.ChainID, hashes []string) ([]*models.TransactionMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*models.TransactionMeta
	for _, h := range hashes {
		row, ok := m.rows[metaKey{strings.ToLower(h), chainID}]
		if !ok || row.UserID != userID {
			continue
		}
		cp := *row
		if cp.VerifiedSenderID != nil && m.senders != nil {
			cp.VerifiedSender = m.senders.byID[*cp.VerifiedSenderID]
		}
		out = append(out, &cp)
	}
	return out, nil
}

type mockSenderRepo struct {
	byID    map[string]*models.VerifiedSender
	findErr error
}

func newMockSenderRepo(senders ...*models.VerifiedSender) *mockSenderRepo {
	m := &mockSenderRepo{byID: make(map[string]*models.VerifiedSender)}
	for _, s := range senders {
		m.byID[s.ID] = s
	}
	return m
}

func (m *mockSenderRepo) GetByID(ctx context.Context, id string) (*models.VerifiedSender, error) {
	if s, ok := m.byID[id]; ok {
		return s, nil
	}
	return nil, apperrors.NewNotFoundError("verified sender", id)
}

func (m *mockSenderRepo) FindActiveByAddresses(ctx context.Context, chainID types.ChainID, addresses []string) (map[string]*models.VerifiedSender, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	out := make(map[string]*models.VerifiedSender)
	for _, a := range addresses {
		for _, s := range m.byID {
			if s.IsActive && s.ChainID == chainID && s.Address == strings.ToLower(a) {
				out[s.Address] = s
			}
		}
	}
	return out, nil
}

func (m *mockSenderRepo) ListActive(ctx context.Context, chainID *types.ChainID) ([]*models.VerifiedSender, error) {
	var out []*models.VerifiedSender
	for _, s := range m.byID {
		if s.IsActive && (chainID == nil || s.ChainID == *chainID) {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockReportRepo struct {
	mu       sync.Mutex
	reports  map[string]*models.Report
	failures int // Number of Create calls to fail before succeeding
	calls    int
}

func (m *mockReportRepo) Create(ctx context.Context, report *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return apperrors.NewDatabaseError("create report", fmt.Errorf("connection reset"))
	}
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if m.reports == nil {
		m.reports = make(map[string]*models.Report)
	}
	m.reports[report.ID] = report
	return nil
}

func (m *mockReportRepo) GetByID(ctx context.Context, id string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reports[id]; ok {
		return r, nil
	}
	return nil, apperrors.NewNotFoundError("report", id)
}

// fakeSource serves canned transfer pages per address and records calls
type fakeSource struct {
	mu       sync.Mutex
	pages    map[string]*types.TransferPage // keyed by lowercase address, or address+"|"+pageKey
	chains   map[types.ChainID]bool
	panicFor string
	calls    []adapter.FetchOptions
}

func newFakeSource(chains ...types.ChainID) *fakeSource {
	f := &fakeSource{pages: make(map[string]*types.TransferPage), chains: make(map[types.ChainID]bool)}
	for _, c := range chains {
		f.chains[c] = true
	}
	return f
}

func (f *fakeSource) FetchTransfers(ctx context.Context, address string, chainID types.ChainID, opts adapter.FetchOptions) *types.TransferPage {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	addr := strings.ToLower(address)
	if addr == f.panicFor {
		panic("indexer exploded")
	}
	key := addr
	if opts.PageKey != "" {
		key += "|" + opts.PageKey
	}
	if p, ok := f.pages[key]; ok {
		return p
	}
	return &types.TransferPage{}
}

func (f *fakeSource) SupportsChain(chainID types.ChainID) bool {
	return f.chains[chainID]
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakePrices prices by symbol regardless of time; unknown symbols are nil
type fakePrices struct {
	mu       sync.Mutex
	prices   map[string]float64
	asked    []time.Time
	panicFor string // Symbol whose lookup panics
}

func (f *fakePrices) HistoricalPrice(ctx context.Context, symbol string, at time.Time) *float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, at)
	if f.panicFor != "" && strings.EqualFold(symbol, f.panicFor) {
		panic("price feed exploded for " + symbol)
	}
	p, ok := f.prices[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	return &p
}
