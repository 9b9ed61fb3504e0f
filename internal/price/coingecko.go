package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/income-verifier/internal/logging"
	"github.com/income-verifier/internal/metrics"
)

var (
	// ErrRateLimited indicates the price API answered 429
	ErrRateLimited = errors.New("price api rate limited")

	// ErrPriceNotFound indicates the response carried no USD price for the coin
	ErrPriceNotFound = errors.New("price not found in response")
)

// CoinGeckoConfig holds configuration for the CoinGecko client
type CoinGeckoConfig struct {
	BaseURL string
	APIKey  string // Sent as x-cg-demo-api-key when set
	Timeout time.Duration

	// Circuit breaker
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold uint32

	Metrics *metrics.Metrics
}

// DefaultCoinGeckoConfig returns the public API defaults
func DefaultCoinGeckoConfig() CoinGeckoConfig {
	return CoinGeckoConfig{
		BaseURL:          "https://api.coingecko.com/api/v3",
		Timeout:          10 * time.Second,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
	}
}

// CoinGeckoClient is a PriceSource backed by the CoinGecko REST API
type CoinGeckoClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
}

// NewCoinGeckoClient creates a new CoinGecko client
func NewCoinGeckoClient(cfg CoinGeckoConfig) *CoinGeckoClient {
	defaults := DefaultCoinGeckoConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = defaults.MaxRequests
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetHeader("x-cg-demo-api-key", cfg.APIKey)
	}

	m := cfg.Metrics
	settings := gobreaker.Settings{
		Name:        "coingecko",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.WithFields(map[string]interface{}{
				"service": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state change")
			m.UpdateCircuitBreakerState(name, to)
		},
	}

	return &CoinGeckoClient{
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

type simplePriceResponse map[string]map[string]float64

type historyResponse struct {
	MarketData *struct {
		CurrentPrice map[string]float64 `json:"current_price"`
	} `json:"market_data"`
}

// CurrentPrice returns the latest USD price of coinID
func (c *CoinGeckoClient) CurrentPrice(ctx context.Context, coinID string) (float64, error) {
	body, err := c.get(ctx, "/simple/price", map[string]string{
		"ids":           coinID,
		"vs_currencies": "usd",
	})
	if err != nil {
		return 0, err
	}

	var resp simplePriceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, errors.Wrap(err, "failed to parse simple price response")
	}
	usd, ok := resp[coinID]["usd"]
	if !ok {
		return 0, errors.Wrapf(ErrPriceNotFound, "coin %s", coinID)
	}
	return usd, nil
}

// HistoricalPrice returns the USD price of coinID on the UTC day of at
func (c *CoinGeckoClient) HistoricalPrice(ctx context.Context, coinID string, at time.Time) (float64, error) {
	body, err := c.get(ctx, fmt.Sprintf("/coins/%s/history", coinID), map[string]string{
		"date":         FormatHistoryDate(at),
		"localization": "false",
	})
	if err != nil {
		return 0, err
	}

	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, errors.Wrap(err, "failed to parse history response")
	}
	if resp.MarketData == nil {
		return 0, errors.Wrapf(ErrPriceNotFound, "coin %s on %s", coinID, FormatHistoryDate(at))
	}
	usd, ok := resp.MarketData.CurrentPrice["usd"]
	if !ok {
		return 0, errors.Wrapf(ErrPriceNotFound, "coin %s on %s", coinID, FormatHistoryDate(at))
	}
	return usd, nil
}

// get performs a GET through the circuit breaker and returns the body of a 200 response
func (c *CoinGeckoClient) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			Get(path)
		if err != nil {
			return nil, errors.Wrap(err, "price request failed")
		}

		switch {
		case resp.StatusCode() == http.StatusTooManyRequests:
			return nil, ErrRateLimited
		case resp.StatusCode() != http.StatusOK:
			return nil, errors.Errorf("price api returned status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// FormatHistoryDate renders t as the dd-mm-yyyy date the history endpoint expects
func FormatHistoryDate(t time.Time) string {
	return t.UTC().Format("02-01-2006")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
