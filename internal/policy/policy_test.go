package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type failingClock struct{}

func (failingClock) IsOpen(ctx context.Context, grace time.Duration) (bool, error) {
	return false, errors.New("clock backend down")
}

type failingLiquidity struct{}

func (failingLiquidity) EstimateLiquidity(ctx context.Context, symbol string) (float64, error) {
	return 0, errors.New("snapshot backend down")
}

func newTestEngine(cfg Config) *Engine {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(cfg, StaticClock(true), StaticLiquidity(1_000_000), StaticEquity(100_000), log)
}

func goodRequest() CheckRequest {
	return CheckRequest{
		Ticker:      "AAPL",
		Size:        100,
		PUp:         0.7,
		Regime:      "bull",
		SpreadBps:   10,
		NewsHeat:    0.2,
		MarketValue: 5_000,
	}
}

func TestCheckPasses(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	res := e.Check(context.Background(), goodRequest())
	if !res.OK {
		t.Fatalf("ok = false, violations = %v", res.Violations)
	}
	if len(res.Meta) != 8 {
		t.Errorf("got %d subcheck details, want 8", len(res.Meta))
	}
}

func TestInvalidParametersFailClosed(t *testing.T) {
	e := newTestEngine(DefaultConfig())

	cases := []struct {
		name   string
		mutate func(*CheckRequest)
	}{
		{"empty ticker", func(r *CheckRequest) { r.Ticker = "" }},
		{"zero size", func(r *CheckRequest) { r.Size = 0 }},
		{"p_up above one", func(r *CheckRequest) { r.PUp = 1.5 }},
		{"negative spread", func(r *CheckRequest) { r.SpreadBps = -1 }},
		{"news_heat above one", func(r *CheckRequest) { r.NewsHeat = 2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := goodRequest()
			tc.mutate(&req)
			res := e.Check(context.Background(), req)
			if res.OK {
				t.Fatal("ok = true, want false")
			}
			if len(res.Violations) != 1 || res.Violations[0] != CodeInvalidParameters {
				t.Errorf("violations = %v, want only INVALID_PARAMETERS", res.Violations)
			}
			// Fail-closed short-circuit: no subcheck details.
			if len(res.Meta) != 0 {
				t.Errorf("subchecks ran on invalid input: %v", res.Meta)
			}
		})
	}
}

// A news heat of 0.9 against a red threshold of 0.75 must reject regardless
// of every other input being valid.
func TestNewsHeatRed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NewsHeatRed = 0.75
	e := newTestEngine(cfg)

	req := goodRequest()
	req.NewsHeat = 0.9
	res := e.Check(context.Background(), req)
	if res.OK {
		t.Fatal("ok = true, want false")
	}
	found := false
	for _, v := range res.Violations {
		if v == CodeNewsHeatRed {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %v, want NEWS_HEAT_RED", res.Violations)
	}
}

func TestMultipleViolationsAccumulate(t *testing.T) {
	cfg := DefaultConfig()
	e := newTestEngine(cfg)

	req := goodRequest()
	req.SpreadBps = 500
	req.NewsHeat = 0.95
	req.PUp = 0.1
	res := e.Check(context.Background(), req)
	if res.OK {
		t.Fatal("ok = true, want false")
	}
	want := map[string]bool{
		CodeSpreadTooWide:       true,
		CodeNewsHeatRed:         true,
		CodeConfidenceOutOfBand: true,
	}
	for _, v := range res.Violations {
		if !want[v] {
			t.Errorf("unexpected violation %s", v)
		}
		delete(want, v)
	}
	for missing := range want {
		t.Errorf("missing violation %s", missing)
	}
}

func TestTradingDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	e := newTestEngine(cfg)

	res := e.Check(context.Background(), goodRequest())
	if res.OK || res.Violations[0] != CodeTradingDisabled {
		t.Errorf("ok=%v violations=%v, want TRADING_DISABLED", res.OK, res.Violations)
	}
}

func TestRegimeBlacklist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegimeBlacklist = []string{"crash", "halt"}
	e := newTestEngine(cfg)

	req := goodRequest()
	req.Regime = "crash"
	res := e.Check(context.Background(), req)
	if res.OK || res.Violations[0] != CodeRegimeBlacklisted {
		t.Errorf("ok=%v violations=%v, want REGIME_BLACKLISTED", res.OK, res.Violations)
	}
}

func TestRiskLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradeRisk = 0.05
	e := newTestEngine(cfg) // equity 100k

	req := goodRequest()
	req.MarketValue = 20_000 // 20% of equity
	res := e.Check(context.Background(), req)
	if res.OK || res.Violations[0] != CodeRiskLimitExceeded {
		t.Errorf("ok=%v violations=%v, want RISK_LIMIT_EXCEEDED", res.OK, res.Violations)
	}
}

// Market-hours and liquidity lookups failing must not block the trade.
func TestInfrastructureFailsOpen(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(DefaultConfig(), failingClock{}, failingLiquidity{}, nil, log)

	res := e.Check(context.Background(), goodRequest())
	if !res.OK {
		t.Fatalf("ok = false with failing infrastructure, violations = %v", res.Violations)
	}
	if !res.Meta["market_hours"].OK || !res.Meta["liquidity"].OK {
		t.Errorf("infra subchecks did not fail open: %+v", res.Meta)
	}
}

func TestMarketClosedRejects(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(DefaultConfig(), StaticClock(false), StaticLiquidity(1_000_000), nil, log)

	res := e.Check(context.Background(), goodRequest())
	if res.OK || res.Violations[0] != CodeMarketClosed {
		t.Errorf("ok=%v violations=%v, want MARKET_CLOSED", res.OK, res.Violations)
	}
}

func TestStatsCounters(t *testing.T) {
	e := newTestEngine(DefaultConfig())

	e.Check(context.Background(), goodRequest())
	bad := goodRequest()
	bad.NewsHeat = 0.99
	e.Check(context.Background(), bad)
	e.Check(context.Background(), CheckRequest{}) // invalid

	s := e.Stats()
	if s.Checks != 3 || s.Passed != 1 || s.Violations != 2 {
		t.Errorf("stats = %+v, want checks=3 passed=1 violations=2", s)
	}
}
