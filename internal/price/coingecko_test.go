package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockCoinGecko(t *testing.T, handler http.HandlerFunc) *CoinGeckoClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewCoinGeckoClient(CoinGeckoConfig{BaseURL: server.URL, APIKey: "demo", Timeout: 2 * time.Second})
}

func TestCoinGeckoCurrentPrice(t *testing.T) {
	client := newMockCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, "demo", r.Header.Get("x-cg-demo-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3456.78}}`))
	})

	p, err := client.CurrentPrice(context.Background(), "ethereum")
	require.NoError(t, err)
	assert.Equal(t, 3456.78, p)
}

func TestCoinGeckoCurrentPriceMissingCoin(t *testing.T) {
	client := newMockCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.CurrentPrice(context.Background(), "ethereum")
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestCoinGeckoHistoricalPrice(t *testing.T) {
	client := newMockCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/ethereum/history", r.URL.Path)
		assert.Equal(t, "01-03-2024", r.URL.Query().Get("date"))
		assert.Equal(t, "false", r.URL.Query().Get("localization"))
		_, _ = w.Write([]byte(`{"id":"ethereum","market_data":{"current_price":{"usd":3400.5,"eur":3100}}}`))
	})

	p, err := client.HistoricalPrice(context.Background(), "ethereum", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3400.5, p)
}

func TestCoinGeckoHistoricalPriceWithoutMarketData(t *testing.T) {
	client := newMockCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"ethereum"}`))
	})

	_, err := client.HistoricalPrice(context.Background(), "ethereum", time.Now())
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestCoinGeckoRateLimited(t *testing.T) {
	client := newMockCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.HistoricalPrice(context.Background(), "ethereum", time.Now())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestCoinGeckoBreakerOpens(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewCoinGeckoClient(CoinGeckoConfig{
		BaseURL:          server.URL,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	})

	for i := 0; i < 2; i++ {
		_, err := client.CurrentPrice(context.Background(), "ethereum")
		require.Error(t, err)
	}
	_, err := client.CurrentPrice(context.Background(), "ethereum")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestResolverWithCoinGecko(t *testing.T) {
	var calls int32
	client := newMockCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"ethereum":{"usd":2000}}`))
	})
	r := NewResolver(client, ResolverConfig{})

	for i := 0; i < 3; i++ {
		p := r.TokenPrice(context.Background(), "ETH")
		require.NotNil(t, p)
		assert.Equal(t, 2000.0, *p)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
