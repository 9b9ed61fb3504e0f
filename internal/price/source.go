// Package price resolves USD unit prices for token symbols.
package price

import (
	"context"
	"time"
)

// PriceSource is an upstream USD price API keyed by provider coin id
type PriceSource interface {
	// CurrentPrice returns the latest USD price of coinID
	CurrentPrice(ctx context.Context, coinID string) (float64, error)

	// HistoricalPrice returns the USD price of coinID on the UTC day of at
	HistoricalPrice(ctx context.Context, coinID string, at time.Time) (float64, error)
}

// stablecoins are priced at exactly 1 USD without a lookup
var stablecoins = map[string]bool{
	"USDC":  true,
	"USDT":  true,
	"DAI":   true,
	"BUSD":  true,
	"TUSD":  true,
	"USDP":  true,
	"GUSD":  true,
	"FRAX":  true,
	"LUSD":  true,
	"PYUSD": true,
	"USDE":  true,
	"FDUSD": true,
}

// coinIDs maps uppercase symbols to CoinGecko coin ids
var coinIDs = map[string]string{
	"ETH":    "ethereum",
	"WETH":   "weth",
	"STETH":  "staked-ether",
	"CBETH":  "coinbase-wrapped-staked-eth",
	"BTC":    "bitcoin",
	"WBTC":   "wrapped-bitcoin",
	"MATIC":  "matic-network",
	"WMATIC": "wmatic",
	"POL":    "polygon-ecosystem-token",
	"BNB":    "binancecoin",
	"WBNB":   "wbnb",
	"ARB":    "arbitrum",
	"OP":     "optimism",
	"LINK":   "chainlink",
	"UNI":    "uniswap",
	"AAVE":   "aave",
	"SOL":    "solana",
}

// IsStablecoin reports whether symbol is pegged to 1 USD
func IsStablecoin(symbol string) bool {
	return stablecoins[normalizeSymbol(symbol)]
}

// CoinID returns the price provider id for a symbol
func CoinID(symbol string) (string, bool) {
	id, ok := coinIDs[normalizeSymbol(symbol)]
	return id, ok
}
