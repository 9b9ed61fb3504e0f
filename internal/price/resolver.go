package price

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/income-verifier/internal/logging"
	"github.com/income-verifier/internal/metrics"
	"github.com/income-verifier/internal/types"
)

// DefaultCacheTTL is how long a current price is reused
const DefaultCacheTTL = 5 * time.Minute

// Lookup kinds and outcomes recorded in metrics
const (
	kindCurrent    = "current"
	kindHistorical = "historical"

	outcomeOK         = "ok"
	outcomeCached     = "cached"
	outcomeStablecoin = "stablecoin"
	outcomeUnknown    = "unknown_symbol"
	outcomeError      = "error"
	outcomeFallback   = "fallback"
)

// ResolverConfig holds configuration for a Resolver
type ResolverConfig struct {
	// Cache holds current prices keyed by uppercase symbol. nil creates a
	// private cache with TTL and no janitor; expiry is checked on read.
	Cache   *gocache.Cache
	TTL     time.Duration
	Metrics *metrics.Metrics
}

// Resolver turns token symbols into USD unit prices.
// Lookups never fail: every upstream problem yields nil.
type Resolver struct {
	source  PriceSource
	cache   *gocache.Cache
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewResolver creates a new Resolver
func NewResolver(source PriceSource, cfg ResolverConfig) *Resolver {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache := cfg.Cache
	if cache == nil {
		cache = gocache.New(ttl, 0)
	}
	return &Resolver{
		source:  source,
		cache:   cache,
		ttl:     ttl,
		metrics: cfg.Metrics,
	}
}

// TokenPrice returns the current USD price of symbol, or nil when unknown or unavailable
func (r *Resolver) TokenPrice(ctx context.Context, symbol string) *float64 {
	key := normalizeSymbol(symbol)
	if stablecoins[key] {
		r.metrics.RecordPriceLookup(kindCurrent, outcomeStablecoin)
		return floatPtr(1)
	}

	coinID, ok := coinIDs[key]
	if !ok {
		logging.FromContext(ctx).WithField("symbol", symbol).Warn("No price mapping for token symbol")
		r.metrics.RecordPriceLookup(kindCurrent, outcomeUnknown)
		return nil
	}

	if cached, found := r.cache.Get(key); found {
		r.metrics.RecordCacheLookup(metrics.CachePrices, "hit")
		r.metrics.RecordPriceLookup(kindCurrent, outcomeCached)
		return floatPtr(cached.(float64))
	}
	r.metrics.RecordCacheLookup(metrics.CachePrices, "miss")

	usd, err := r.source.CurrentPrice(ctx, coinID)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("symbol", key).Warn("Current price lookup failed")
		r.metrics.RecordPriceLookup(kindCurrent, outcomeError)
		return nil
	}

	r.cache.Set(key, usd, r.ttl)
	r.metrics.RecordPriceLookup(kindCurrent, outcomeOK)
	return floatPtr(usd)
}

// HistoricalPrice returns the USD price of symbol on the UTC day of at.
// Historical prices are not cached; on failure the current price is used instead.
// A zero or pre-epoch time means the block time is unknown and goes straight to the current price.
func (r *Resolver) HistoricalPrice(ctx context.Context, symbol string, at time.Time) *float64 {
	key := normalizeSymbol(symbol)
	if stablecoins[key] {
		r.metrics.RecordPriceLookup(kindHistorical, outcomeStablecoin)
		return floatPtr(1)
	}
	if at.IsZero() || at.Unix() <= 0 {
		return r.TokenPrice(ctx, key)
	}

	coinID, ok := coinIDs[key]
	if !ok {
		logging.FromContext(ctx).WithField("symbol", symbol).Warn("No price mapping for token symbol")
		r.metrics.RecordPriceLookup(kindHistorical, outcomeUnknown)
		return nil
	}

	usd, err := r.source.HistoricalPrice(ctx, coinID, at)
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"symbol": key,
			"date":   FormatHistoryDate(at),
		}).Warn("Historical price lookup failed, falling back to current price")
		r.metrics.RecordPriceLookup(kindHistorical, outcomeFallback)
		return r.TokenPrice(ctx, key)
	}

	r.metrics.RecordPriceLookup(kindHistorical, outcomeOK)
	return floatPtr(usd)
}

// ConvertToUSD returns (raw / 10^decimals) * unitPrice in floating point
func ConvertToUSD(raw string, decimals int, unitPrice float64) (float64, error) {
	amount, ok := new(big.Float).SetPrec(128).SetString(strings.TrimSpace(raw))
	if !ok {
		return 0, fmt.Errorf("invalid raw amount %q", raw)
	}
	if decimals < 0 || decimals > types.MaxTokenDecimals {
		return 0, fmt.Errorf("invalid decimals %d", decimals)
	}

	scale := new(big.Float).SetPrec(128).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	amount.Quo(amount, scale)
	amount.Mul(amount, new(big.Float).SetPrec(128).SetFloat64(unitPrice))

	usd, _ := amount.Float64()
	return usd, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func floatPtr(f float64) *float64 {
	return &f
}
