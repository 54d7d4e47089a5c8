package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradesim/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ MarketClock = (*AlpacaClock)(nil)
var _ LiquidityProvider = (*AlpacaLiquidity)(nil)
var _ AccountSource = (*AlpacaAccount)(nil)
var _ MarketClock = (*CalendarClock)(nil)
var _ MarketClock = StaticClock(false)
var _ LiquidityProvider = StaticLiquidity(0)
var _ AccountSource = StaticEquity(0)

// ---------------------------------------------------------------------------
// Alpaca-backed implementations
// ---------------------------------------------------------------------------

// AlpacaClock answers market-hours questions from the Alpaca trading API.
type AlpacaClock struct {
	client *alpaca.Client
}

func NewAlpacaClock(apiKey, apiSecret, baseURL string) *AlpacaClock {
	return &AlpacaClock{client: alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})}
}

// IsOpen reports whether the market is open, counting the grace window
// before the next open as open so that orders queued just before the bell
// are not rejected.
func (c *AlpacaClock) IsOpen(ctx context.Context, grace time.Duration) (bool, error) {
	clock, err := c.client.GetClock()
	if err != nil {
		return false, fmt.Errorf("GetClock: %w", err)
	}
	if clock.IsOpen {
		return true, nil
	}
	if grace > 0 && clock.NextOpen.Sub(clock.Timestamp) <= grace {
		return true, nil
	}
	return false, nil
}

// AlpacaLiquidity estimates liquidity from the latest daily bar volume in
// the Alpaca market-data snapshot. Requests are rate limited to stay inside
// the market-data API quota.
type AlpacaLiquidity struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
}

func NewAlpacaLiquidity(apiKey, apiSecret, dataURL string) *AlpacaLiquidity {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaLiquidity{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiter(180),
	}
}

func (l *AlpacaLiquidity) EstimateLiquidity(ctx context.Context, symbol string) (float64, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	snap, err := l.client.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return 0, fmt.Errorf("GetSnapshot %s: %w", symbol, err)
	}
	if snap == nil {
		return 0, fmt.Errorf("no snapshot for %s", symbol)
	}
	if snap.DailyBar != nil && snap.DailyBar.Volume > 0 {
		return float64(snap.DailyBar.Volume), nil
	}
	if snap.PrevDailyBar != nil {
		return float64(snap.PrevDailyBar.Volume), nil
	}
	return 0, fmt.Errorf("no volume data for %s", symbol)
}

// AlpacaAccount reports portfolio equity from the Alpaca trading account.
type AlpacaAccount struct {
	client *alpaca.Client
}

func NewAlpacaAccount(apiKey, apiSecret, baseURL string) *AlpacaAccount {
	return &AlpacaAccount{client: alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})}
}

func (a *AlpacaAccount) Equity(ctx context.Context) (float64, error) {
	acct, err := a.client.GetAccount()
	if err != nil {
		return 0, fmt.Errorf("GetAccount: %w", err)
	}
	return acct.Equity.InexactFloat64(), nil
}

// ---------------------------------------------------------------------------
// Offline implementations
// ---------------------------------------------------------------------------

// CalendarClock answers market-hours questions from the built-in trading
// calendar. Used when no brokerage credentials are configured.
type CalendarClock struct {
	cal *util.TradingCalendar
}

func NewCalendarClock() *CalendarClock {
	return &CalendarClock{cal: util.NewTradingCalendar()}
}

func (c *CalendarClock) IsOpen(ctx context.Context, grace time.Duration) (bool, error) {
	now := time.Now()
	if c.cal.IsMarketOpen(now) {
		return true, nil
	}
	if grace > 0 && c.cal.NextOpen(now).Sub(now) <= grace {
		return true, nil
	}
	return false, nil
}

// StaticClock always answers with its value.
type StaticClock bool

func (s StaticClock) IsOpen(ctx context.Context, grace time.Duration) (bool, error) {
	return bool(s), nil
}

// StaticLiquidity always estimates its value.
type StaticLiquidity float64

func (s StaticLiquidity) EstimateLiquidity(ctx context.Context, symbol string) (float64, error) {
	return float64(s), nil
}

// StaticEquity always reports its value.
type StaticEquity float64

func (s StaticEquity) Equity(ctx context.Context) (float64, error) {
	return float64(s), nil
}
