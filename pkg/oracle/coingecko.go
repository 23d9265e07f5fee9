package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const userAgent = "shadowswap-keeper/1.0"

// PriceSource yields best-effort external market quotes. Implementations
// may serve cached or slightly stale values; callers tolerate transient
// errors by retrying on their next tick rather than failing their loop.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CoinGeckoClient fetches USD quotes from the CoinGecko simple-price API.
type CoinGeckoClient struct {
	baseURL    string
	httpClient *http.Client

	attempts int
	backoff  time.Duration
}

func NewCoinGeckoClient(baseURL string, timeout time.Duration) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		attempts:   3,
		backoff:    time.Second,
	}
}

// GetPrice returns the USD price for a CoinGecko asset id (e.g.
// "ethereum"). Transient failures are retried with exponential backoff
// before the error is surfaced.
func (c *CoinGeckoClient) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			delay := c.backoff << uint(i-1)
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		price, err := c.fetch(ctx, symbol)
		if err == nil {
			return price, nil
		}
		lastErr = err
	}
	return decimal.Zero, fmt.Errorf("price fetch for %s: %w", symbol, lastErr)
}

func (c *CoinGeckoClient) fetch(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}

	// {"ethereum":{"usd":1234.56}} — json.Number keeps the quote exact.
	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, err
	}

	quote, ok := payload[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("symbol %q missing from response", symbol)
	}
	usd, ok := quote["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("usd quote missing for %q", symbol)
	}

	price, err := decimal.NewFromString(usd.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed quote %q: %w", usd, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive quote %s for %q", price, symbol)
	}
	return price, nil
}
