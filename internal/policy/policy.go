// Package policy implements the pre-trade gate. Every trade request passes
// through Engine.Check before any order leg is constructed.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"tradesim/internal/domain"
)

// Violation codes carried in PolicyCheckResult.Violations.
const (
	CodeInvalidParameters   = "INVALID_PARAMETERS"
	CodeTradingDisabled     = "TRADING_DISABLED"
	CodeMarketClosed        = "MARKET_CLOSED"
	CodeSpreadTooWide       = "SPREAD_TOO_WIDE"
	CodeInsufficientLiq     = "INSUFFICIENT_LIQUIDITY"
	CodeNewsHeatRed         = "NEWS_HEAT_RED"
	CodeConfidenceOutOfBand = "CONFIDENCE_OUT_OF_BAND"
	CodeRegimeBlacklisted   = "REGIME_BLACKLISTED"
	CodeRiskLimitExceeded   = "RISK_LIMIT_EXCEEDED"
)

// MarketClock reports whether the market is currently open. Implementations
// backed by a live data source may fail; the engine treats those failures as
// open (fail open).
type MarketClock interface {
	IsOpen(ctx context.Context, grace time.Duration) (bool, error)
}

// LiquidityProvider estimates tradable liquidity for a symbol, in shares.
type LiquidityProvider interface {
	EstimateLiquidity(ctx context.Context, symbol string) (float64, error)
}

// AccountSource reports current portfolio equity, used to size the
// single-trade risk fraction. Optional; a nil source falls back to the
// configured portfolio value.
type AccountSource interface {
	Equity(ctx context.Context) (float64, error)
}

// Config holds the thresholds for every subcheck.
type Config struct {
	Enabled          bool          `yaml:"enabled"`
	MarketHoursGrace time.Duration `yaml:"market_hours_grace"`
	MaxSpreadBps     float64       `yaml:"max_spread_bps"`
	MinLiquidity     float64       `yaml:"min_liquidity"`
	NewsHeatRed      float64       `yaml:"news_heat_red"`
	ConfidenceMin    float64       `yaml:"confidence_min"`
	ConfidenceMax    float64       `yaml:"confidence_max"`
	RegimeBlacklist  []string      `yaml:"regime_blacklist"`
	MaxTradeRisk     float64       `yaml:"max_trade_risk"`
	PortfolioValue   float64       `yaml:"portfolio_value"`
}

// DefaultConfig returns permissive-but-sane thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		MarketHoursGrace: 5 * time.Minute,
		MaxSpreadBps:     50,
		MinLiquidity:     10_000,
		NewsHeatRed:      0.75,
		ConfidenceMin:    0.55,
		ConfidenceMax:    0.99,
		RegimeBlacklist:  []string{"crash"},
		MaxTradeRisk:     0.10,
		PortfolioValue:   100_000,
	}
}

// CheckRequest is one pre-trade evaluation request.
type CheckRequest struct {
	Ticker      string  `json:"ticker"`
	Size        float64 `json:"size"`
	PUp         float64 `json:"p_up"`
	Regime      string  `json:"regime"`
	SpreadBps   float64 `json:"spread_bps"`
	NewsHeat    float64 `json:"news_heat"`
	MarketValue float64 `json:"market_value,omitempty"`
	Exchange    string  `json:"exchange,omitempty"`
}

// Stats is a snapshot of the engine's counters.
type Stats struct {
	Checks     int64 `json:"checks"`
	Passed     int64 `json:"passed"`
	Violations int64 `json:"violations"`
}

// Engine evaluates pre-trade policy. It never mutates its inputs; the only
// side effect of Check is counter increments.
type Engine struct {
	cfg       Config
	clock     MarketClock
	liquidity LiquidityProvider
	account   AccountSource
	log       *slog.Logger

	checks     atomic.Int64
	passed     atomic.Int64
	violations atomic.Int64
}

// NewEngine creates an Engine. clock, liquidity, and account may be nil, in
// which case the corresponding subchecks pass unconditionally.
func NewEngine(cfg Config, clock MarketClock, liquidity LiquidityProvider, account AccountSource, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, clock: clock, liquidity: liquidity, account: account, log: log}
}

// Check evaluates every subcheck against the request and ANDs the outcomes.
// Malformed inputs fail closed with INVALID_PARAMETERS and skip the
// subchecks entirely. Check never panics for well-formed callers; internal
// panics are converted into an INVALID_PARAMETERS result.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (result domain.PolicyCheckResult) {
	e.checks.Add(1)

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("policy check panicked", "ticker", req.Ticker, "panic", r)
			e.violations.Add(1)
			result = failClosed(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if reason := validateRequest(req); reason != "" {
		e.violations.Add(1)
		return failClosed(reason)
	}

	meta := make(map[string]domain.CheckDetail)
	var failed []string

	run := func(name, code string, check func() (bool, string)) {
		ok, detail := check()
		meta[name] = domain.CheckDetail{OK: ok, Detail: detail}
		if !ok {
			failed = append(failed, code)
		}
	}

	run("trading_enabled", CodeTradingDisabled, e.checkEnabled)
	run("market_hours", CodeMarketClosed, func() (bool, string) { return e.checkMarketHours(ctx) })
	run("spread", CodeSpreadTooWide, func() (bool, string) { return e.checkSpread(req) })
	run("liquidity", CodeInsufficientLiq, func() (bool, string) { return e.checkLiquidity(ctx, req) })
	run("news_heat", CodeNewsHeatRed, func() (bool, string) { return e.checkNewsHeat(req) })
	run("confidence", CodeConfidenceOutOfBand, func() (bool, string) { return e.checkConfidence(req) })
	run("regime", CodeRegimeBlacklisted, func() (bool, string) { return e.checkRegime(req) })
	run("risk_limit", CodeRiskLimitExceeded, func() (bool, string) { return e.checkRiskLimit(ctx, req) })

	sort.Strings(failed)
	res := domain.PolicyCheckResult{
		OK:         len(failed) == 0,
		Violations: failed,
		Meta:       meta,
		Timestamp:  time.Now(),
	}
	if res.OK {
		res.Reason = "all checks passed"
		e.passed.Add(1)
	} else {
		res.Reason = fmt.Sprintf("%d subcheck(s) failed", len(failed))
		e.violations.Add(1)
		e.log.Info("policy rejected trade",
			"ticker", req.Ticker, "size", req.Size, "violations", failed)
	}
	return res
}

// Stats returns the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Checks:     e.checks.Load(),
		Passed:     e.passed.Load(),
		Violations: e.violations.Load(),
	}
}

// ---------------------------------------------------------------------------
// Subchecks
// ---------------------------------------------------------------------------

func validateRequest(req CheckRequest) string {
	switch {
	case req.Ticker == "":
		return "ticker must not be empty"
	case req.Size == 0:
		return "size must be non-zero"
	case req.PUp < 0 || req.PUp > 1:
		return fmt.Sprintf("p_up %v outside [0,1]", req.PUp)
	case req.SpreadBps < 0:
		return fmt.Sprintf("spread_bps %v must be non-negative", req.SpreadBps)
	case req.NewsHeat < 0 || req.NewsHeat > 1:
		return fmt.Sprintf("news_heat %v outside [0,1]", req.NewsHeat)
	}
	return ""
}

func failClosed(reason string) domain.PolicyCheckResult {
	return domain.PolicyCheckResult{
		OK:         false,
		Reason:     reason,
		Violations: []string{CodeInvalidParameters},
		Timestamp:  time.Now(),
	}
}

func (e *Engine) checkEnabled() (bool, string) {
	if !e.cfg.Enabled {
		return false, "trading disabled by configuration"
	}
	return true, ""
}

// checkMarketHours fails open: a clock error counts as open so that data
// source flakiness never blocks trading on its own.
func (e *Engine) checkMarketHours(ctx context.Context) (bool, string) {
	if e.clock == nil {
		return true, "no market clock configured"
	}
	open, err := e.clock.IsOpen(ctx, e.cfg.MarketHoursGrace)
	if err != nil {
		e.log.Warn("market clock lookup failed, failing open", "error", err)
		return true, fmt.Sprintf("clock unavailable: %v", err)
	}
	if !open {
		return false, "market closed"
	}
	return true, ""
}

func (e *Engine) checkSpread(req CheckRequest) (bool, string) {
	if req.SpreadBps > e.cfg.MaxSpreadBps {
		return false, fmt.Sprintf("spread %.1f bps exceeds max %.1f", req.SpreadBps, e.cfg.MaxSpreadBps)
	}
	return true, ""
}

// checkLiquidity fails open on lookup errors, same as market hours.
func (e *Engine) checkLiquidity(ctx context.Context, req CheckRequest) (bool, string) {
	if e.liquidity == nil {
		return true, "no liquidity provider configured"
	}
	est, err := e.liquidity.EstimateLiquidity(ctx, req.Ticker)
	if err != nil {
		e.log.Warn("liquidity lookup failed, failing open", "ticker", req.Ticker, "error", err)
		return true, fmt.Sprintf("liquidity unavailable: %v", err)
	}
	if est < e.cfg.MinLiquidity {
		return false, fmt.Sprintf("estimated liquidity %.0f below minimum %.0f", est, e.cfg.MinLiquidity)
	}
	return true, ""
}

func (e *Engine) checkNewsHeat(req CheckRequest) (bool, string) {
	if req.NewsHeat >= e.cfg.NewsHeatRed {
		return false, fmt.Sprintf("news heat %.2f at or above red threshold %.2f", req.NewsHeat, e.cfg.NewsHeatRed)
	}
	return true, ""
}

func (e *Engine) checkConfidence(req CheckRequest) (bool, string) {
	if req.PUp < e.cfg.ConfidenceMin || req.PUp > e.cfg.ConfidenceMax {
		return false, fmt.Sprintf("confidence %.2f outside [%.2f, %.2f]",
			req.PUp, e.cfg.ConfidenceMin, e.cfg.ConfidenceMax)
	}
	return true, ""
}

func (e *Engine) checkRegime(req CheckRequest) (bool, string) {
	for _, blocked := range e.cfg.RegimeBlacklist {
		if req.Regime == blocked {
			return false, fmt.Sprintf("regime %q is blacklisted", req.Regime)
		}
	}
	return true, ""
}

// checkRiskLimit compares the trade's notional against portfolio equity.
// Equity comes from the account source when one is wired, falling back to
// the configured portfolio value on error or absence (fail open on the
// infrastructure part, still enforcing the configured limit).
func (e *Engine) checkRiskLimit(ctx context.Context, req CheckRequest) (bool, string) {
	if req.MarketValue <= 0 || e.cfg.MaxTradeRisk <= 0 {
		return true, "no market value supplied"
	}
	equity := e.cfg.PortfolioValue
	if e.account != nil {
		if v, err := e.account.Equity(ctx); err != nil {
			e.log.Warn("equity lookup failed, using configured portfolio value", "error", err)
		} else if v > 0 {
			equity = v
		}
	}
	if equity <= 0 {
		return true, "no portfolio value configured"
	}
	frac := req.MarketValue / equity
	if frac > e.cfg.MaxTradeRisk {
		return false, fmt.Sprintf("trade risk fraction %.3f exceeds max %.3f", frac, e.cfg.MaxTradeRisk)
	}
	return true, ""
}
