package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/income-verifier/internal/logging"
	"github.com/income-verifier/internal/metrics"
	"github.com/income-verifier/internal/types"
	"github.com/income-verifier/internal/worker"
)

const (
	defaultMaxCount = 100
	defaultDecimals = 18

	methodGetAssetTransfers = "alchemy_getAssetTransfers"
)

// AlchemyConfig holds configuration for the Alchemy transfer client
type AlchemyConfig struct {
	APIKey          string
	URLTemplate     string // fmt template: network slug, then API key
	RequestsPerSec  float64
	DefaultMaxCount int
	Timeout         time.Duration
	SupportedChains []types.ChainID // Empty = every known network
	Metrics         *metrics.Metrics
}

// AlchemyClient fetches incoming transfers through alchemy_getAssetTransfers
type AlchemyClient struct {
	apiKey          string
	urlTemplate     string
	defaultMaxCount int
	httpClient      *http.Client
	limiter         *rate.Limiter
	supported       map[types.ChainID]bool
	metrics         *metrics.Metrics

	mu      sync.Mutex
	clients map[types.ChainID]*rpc.Client
}

// NewAlchemyClient creates a new Alchemy client. RPC connections are dialed lazily per chain.
func NewAlchemyClient(cfg AlchemyConfig) *AlchemyClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxCount := cfg.DefaultMaxCount
	if maxCount <= 0 {
		maxCount = defaultMaxCount
	}
	template := cfg.URLTemplate
	if template == "" {
		template = "https://%s.g.alchemy.com/v2/%s"
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	var supported map[types.ChainID]bool
	if len(cfg.SupportedChains) > 0 {
		supported = make(map[types.ChainID]bool, len(cfg.SupportedChains))
		for _, id := range cfg.SupportedChains {
			supported[id] = true
		}
	}

	return &AlchemyClient{
		apiKey:          cfg.APIKey,
		urlTemplate:     template,
		defaultMaxCount: maxCount,
		httpClient:      &http.Client{Timeout: timeout},
		limiter:         rate.NewLimiter(limit, 1),
		supported:       supported,
		metrics:         cfg.Metrics,
		clients:         make(map[types.ChainID]*rpc.Client),
	}
}

// SupportsChain reports whether a network exists for the chain and it is enabled
func (c *AlchemyClient) SupportsChain(chainID types.ChainID) bool {
	if _, ok := NetworkFor(chainID); !ok {
		return false
	}
	return c.supported == nil || c.supported[chainID]
}

// FetchTransfers returns one page of incoming transfers, or an empty page on any failure
func (c *AlchemyClient) FetchTransfers(ctx context.Context, address string, chainID types.ChainID, opts FetchOptions) *types.TransferPage {
	page, err := c.FetchPage(ctx, address, chainID, opts)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"address": address,
			"chainId": int64(chainID),
		}).Warn("Transfer fetch failed, returning empty page")
		return &types.TransferPage{Transfers: []*types.NormalizedTransfer{}}
	}
	return page
}

// FetchPage is FetchTransfers with the failure surfaced to the caller
func (c *AlchemyClient) FetchPage(ctx context.Context, address string, chainID types.ChainID, opts FetchOptions) (*types.TransferPage, error) {
	if !c.SupportsChain(chainID) {
		return nil, NewAdapterError(chainID, "FetchPage", ErrUnsupportedChain, nil)
	}
	if c.apiKey == "" {
		return nil, NewAdapterError(chainID, "FetchPage", ErrMissingAPIKey, nil)
	}
	if !common.IsHexAddress(address) {
		return nil, NewAdapterError(chainID, "FetchPage", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	client, err := c.clientFor(ctx, chainID)
	if err != nil {
		return nil, NewAdapterError(chainID, "FetchPage", err, nil)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, NewAdapterError(chainID, "FetchPage", err, nil)
	}

	params := c.buildParams(address, opts)
	start := time.Now()

	var result assetTransfersResult
	err = client.CallContext(ctx, &result, methodGetAssetTransfers, params)
	c.metrics.RecordIndexerCall(chainID.String(), callStatus(err), time.Since(start).Seconds())
	if err != nil {
		return nil, NewAdapterError(chainID, "FetchPage", classifyRPCError(err), map[string]interface{}{
			"address":  address,
			"maxCount": params.MaxCount,
		})
	}

	transfers := make([]*types.NormalizedTransfer, 0, len(result.Transfers))
	for i := range result.Transfers {
		if t := normalizeTransfer(ctx, &result.Transfers[i], chainID); t != nil {
			transfers = append(transfers, t)
		}
	}

	page := &types.TransferPage{Transfers: transfers}
	if result.PageKey != nil {
		page.PageKey = *result.PageKey
	}
	return page, nil
}

// FetchTransfersMultiChain queries every chain concurrently and merges the results newest first.
// A failing chain contributes nothing.
func (c *AlchemyClient) FetchTransfersMultiChain(ctx context.Context, address string, chainIDs []types.ChainID, opts FetchOptions) []*types.NormalizedTransfer {
	pages := make([]*types.TransferPage, len(chainIDs))
	pool := worker.NewPool(worker.PoolConfig{})
	pool.Map(ctx, len(chainIDs), func(ctx context.Context, i int) error {
		pages[i] = c.FetchTransfers(ctx, address, chainIDs[i], opts)
		return nil
	})

	var merged []*types.NormalizedTransfer
	for _, p := range pages {
		if p != nil {
			merged = append(merged, p.Transfers...)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})
	return merged
}

// Close closes all dialed RPC clients
func (c *AlchemyClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, client := range c.clients {
		client.Close()
		delete(c.clients, id)
	}
}

func (c *AlchemyClient) clientFor(ctx context.Context, chainID types.ChainID) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[chainID]; ok {
		return client, nil
	}

	network, _ := NetworkFor(chainID)
	url := fmt.Sprintf(c.urlTemplate, network, c.apiKey)
	client, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(c.httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", network, err)
	}
	c.clients[chainID] = client
	return client, nil
}

func (c *AlchemyClient) buildParams(address string, opts FetchOptions) assetTransfersParams {
	maxCount := opts.MaxCount
	if maxCount <= 0 {
		maxCount = c.defaultMaxCount
	}

	params := assetTransfersParams{
		FromBlock:        "0x0",
		ToBlock:          "latest",
		ToAddress:        strings.ToLower(address),
		Category:         []string{string(types.CategoryNative), string(types.CategoryToken)},
		ExcludeZeroValue: true,
		MaxCount:         hexutil.EncodeUint64(uint64(maxCount)),
		Order:            "desc",
		WithMetadata:     true,
		PageKey:          opts.PageKey,
	}
	if opts.FromBlock != nil {
		params.FromBlock = hexutil.EncodeUint64(*opts.FromBlock)
	}
	if opts.ToBlock != nil {
		params.ToBlock = hexutil.EncodeUint64(*opts.ToBlock)
	}
	return params
}

func callStatus(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(classifyRPCError(err), ErrProviderRateLimit) {
		return "rate_limited"
	}
	return "error"
}

// classifyRPCError maps transport failures onto the package sentinels
func classifyRPCError(err error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrProviderRateLimit, err)
		}
		if httpErr.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("rpc error %d: %w", rpcErr.ErrorCode(), err)
	}
	return err
}

type assetTransfersParams struct {
	FromBlock        string   `json:"fromBlock"`
	ToBlock          string   `json:"toBlock"`
	ToAddress        string   `json:"toAddress"`
	Category         []string `json:"category"`
	ExcludeZeroValue bool     `json:"excludeZeroValue"`
	MaxCount         string   `json:"maxCount"`
	Order            string   `json:"order"`
	WithMetadata     bool     `json:"withMetadata"`
	PageKey          string   `json:"pageKey,omitempty"`
}

type assetTransfersResult struct {
	Transfers []alchemyTransfer `json:"transfers"`
	PageKey   *string           `json:"pageKey,omitempty"`
}

type alchemyTransfer struct {
	BlockNum    string           `json:"blockNum"`
	Hash        string           `json:"hash"`
	From        string           `json:"from"`
	To          *string          `json:"to"`
	Value       *decimal.Decimal `json:"value"` // Human units, number or null
	Asset       *string          `json:"asset"`
	Category    string           `json:"category"`
	RawContract struct {
		Value   *string `json:"value"`   // Hex base units
		Address *string `json:"address"` // Token contract, null for native
		Decimal *string `json:"decimal"` // Hex
	} `json:"rawContract"`
	Metadata *struct {
		BlockTimestamp string `json:"blockTimestamp"`
	} `json:"metadata"`
}

// normalizeTransfer converts an Alchemy transfer into a NormalizedTransfer.
// Returns nil for categories outside native and fungible-token transfers.
func normalizeTransfer(ctx context.Context, t *alchemyTransfer, chainID types.ChainID) *types.NormalizedTransfer {
	logger := logging.FromContext(ctx)

	var category types.TransferCategory
	switch t.Category {
	case string(types.CategoryNative):
		category = types.CategoryNative
	case string(types.CategoryToken):
		category = types.CategoryToken
	default:
		return nil
	}

	decimals := defaultDecimals
	if t.RawContract.Decimal != nil && *t.RawContract.Decimal != "" {
		if d, err := parseHexUint(*t.RawContract.Decimal); err == nil && d <= types.MaxTokenDecimals {
			decimals = int(d)
		} else {
			logger.WithField("decimal", *t.RawContract.Decimal).Warn("Invalid token decimals, using default")
		}
	}

	blockNum, err := parseHexUint(t.BlockNum)
	if err != nil {
		logger.WithFields(map[string]interface{}{"hash": t.Hash, "blockNum": t.BlockNum}).Warn("Skipping transfer with invalid block number")
		return nil
	}

	// Zero marks an unknown block time; pricing then uses the current price.
	var timestamp int64
	if t.Metadata != nil && t.Metadata.BlockTimestamp != "" {
		if ts, err := time.Parse(time.RFC3339, t.Metadata.BlockTimestamp); err == nil {
			timestamp = ts.Unix()
		} else {
			logger.WithFields(map[string]interface{}{"hash": t.Hash, "blockTimestamp": t.Metadata.BlockTimestamp}).Warn("Unparseable block timestamp")
		}
	} else {
		logger.WithField("hash", t.Hash).Warn("Transfer has no block timestamp")
	}

	out := &types.NormalizedTransfer{
		Hash:          strings.ToLower(t.Hash),
		ChainID:       chainID,
		From:          strings.ToLower(t.From),
		RawAmount:     rawAmount(t, decimals),
		TokenAddress:  types.ZeroAddress,
		TokenDecimals: decimals,
		BlockNumber:   blockNum,
		Timestamp:     timestamp,
		Category:      category,
	}
	if t.To != nil {
		out.To = strings.ToLower(*t.To)
	}
	if t.Asset != nil {
		out.TokenSymbol = *t.Asset
	}

	if category == types.CategoryToken {
		if t.RawContract.Address != nil {
			out.TokenAddress = strings.ToLower(*t.RawContract.Address)
		}
	} else if out.TokenSymbol == "" {
		out.TokenSymbol = NativeSymbol(chainID)
	}

	return out
}

// rawAmount prefers the decimal value shifted into base units, then the hex raw value
func rawAmount(t *alchemyTransfer, decimals int) string {
	if t.Value != nil {
		return t.Value.Shift(int32(decimals)).Truncate(0).String()
	}
	if t.RawContract.Value != nil {
		hex := strings.TrimPrefix(strings.TrimPrefix(*t.RawContract.Value, "0x"), "0X")
		if hex == "" {
			return "0"
		}
		if v, ok := new(big.Int).SetString(hex, 16); ok {
			return v.String()
		}
	}
	return "0"
}

// parseHexUint accepts hex quantities with or without leading zeros
func parseHexUint(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if trimmed == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}
