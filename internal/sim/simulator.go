// Package sim implements the paper broker: simulated order execution with
// configurable latency, slippage, and fees against a synthetic per-symbol
// price process.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/ledger"
)

// RNG is the source of randomness for latency, slippage, and the synthetic
// price walk. Injecting it keeps every draw reproducible: a fixed seed plus a
// fixed order sequence yields identical fills.
type RNG interface {
	NormFloat64() float64
	Float64() float64
}

// Compile-time interface check.
var _ RNG = (*rand.Rand)(nil)

// ErrCanceled is returned by Submit when the order was canceled while waiting
// out the simulated latency.
var ErrCanceled = errors.New("order canceled before execution")

// Config holds the execution model parameters.
type Config struct {
	SlippageBps float64 `yaml:"slippage_bps"` // mean slippage in basis points
	LatencyBase float64 `yaml:"latency_base"` // mean simulated latency, milliseconds
	LatencyVar  float64 `yaml:"latency_var"`  // latency standard deviation, milliseconds
	FeeBps      float64 `yaml:"fee_bps"`      // commission in basis points of notional
	PriceVol    float64 `yaml:"price_vol"`    // per-step volatility of the synthetic walk
}

// DefaultConfig returns the execution parameters used when the config file
// leaves them unset.
func DefaultConfig() Config {
	return Config{
		SlippageBps: 5,
		LatencyBase: 120,
		LatencyVar:  40,
		FeeBps:      1,
		PriceVol:    0.002,
	}
}

// Simulator executes orders against synthetic prices and applies the results
// to the position ledger. All randomness flows through the injected RNG under
// a single lock, so draws happen in submission order.
type Simulator struct {
	cfg    Config
	ledger *ledger.PositionLedger
	log    *slog.Logger

	mu       sync.Mutex
	rng      RNG
	walks    map[string]*priceWalk
	fills    []domain.Fill
	inflight map[string]*inflightState
}

type inflightState struct {
	canceled bool
}

// NewSimulator creates a Simulator. rng must not be shared with other
// components; the simulator serializes access to it internally.
func NewSimulator(cfg Config, rng RNG, lgr *ledger.PositionLedger, log *slog.Logger) *Simulator {
	if cfg.PriceVol == 0 {
		cfg.PriceVol = DefaultConfig().PriceVol
	}
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{
		cfg:      cfg,
		ledger:   lgr,
		log:      log,
		rng:      rng,
		walks:    make(map[string]*priceWalk),
		inflight: make(map[string]*inflightState),
	}
}

// Submit executes the leg and returns the resulting fill. It suspends for the
// simulated latency, so callers must not assume synchronous completion and
// should bound the call with a context deadline.
func (s *Simulator) Submit(ctx context.Context, leg *domain.OrderLeg) (domain.Fill, error) {
	if leg == nil || leg.ID == "" {
		return domain.Fill{}, &domain.ParamError{Field: "order", Reason: "missing order leg"}
	}
	qty := leg.Remaining()
	if qty <= 0 {
		return domain.Fill{}, &domain.ParamError{Field: "qty", Reason: "nothing left to fill"}
	}

	// All draws happen up front, in submission order, under one lock.
	s.mu.Lock()
	if _, dup := s.inflight[leg.ID]; dup {
		s.mu.Unlock()
		return domain.Fill{}, &domain.ExecutionError{OrderID: leg.ID, Err: errors.New("order already in flight")}
	}
	st := &inflightState{}
	s.inflight[leg.ID] = st

	latencyMs := math.Max(0, s.cfg.LatencyBase+s.cfg.LatencyVar*s.rng.NormFloat64())
	marketPrice := s.walk(leg.Symbol).step(s.rng.NormFloat64())
	slippageBps := s.cfg.SlippageBps + 0.3*s.cfg.SlippageBps*s.rng.NormFloat64()
	s.mu.Unlock()

	// Model network + venue latency.
	select {
	case <-ctx.Done():
		s.clearInflight(leg.ID)
		return domain.Fill{}, &domain.ExecutionError{OrderID: leg.ID, Err: ctx.Err()}
	case <-time.After(time.Duration(latencyMs * float64(time.Millisecond))):
	}

	s.mu.Lock()
	if st.canceled {
		delete(s.inflight, leg.ID)
		s.mu.Unlock()
		return domain.Fill{}, &domain.ExecutionError{OrderID: leg.ID, Err: ErrCanceled}
	}
	delete(s.inflight, leg.ID)

	execPrice := applySlippage(marketPrice, slippageBps, leg.Side)
	fees := execPrice * qty * s.cfg.FeeBps / 10000

	fill := domain.Fill{
		OrderID:     leg.ID,
		Symbol:      leg.Symbol,
		Side:        leg.Side,
		Qty:         qty,
		AvgPrice:    execPrice,
		Fees:        fees,
		SlippageBps: slippageBps,
		LatencyMs:   latencyMs,
		Timestamp:   time.Now(),
	}
	s.fills = append(s.fills, fill)
	s.mu.Unlock()

	s.ledger.AddFill(leg.Symbol, leg.Side.Sign()*qty, execPrice, fees)

	s.log.Debug("order executed",
		"order_id", leg.ID, "symbol", leg.Symbol, "side", leg.Side,
		"qty", qty, "price", execPrice, "slippage_bps", slippageBps,
		"latency_ms", latencyMs)

	return fill, nil
}

// Cancel aborts an order that is still waiting out its simulated latency.
// Orders that have already executed (or were never submitted) return false.
func (s *Simulator) Cancel(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.inflight[orderID]
	if !ok || st.canceled {
		return false
	}
	st.canceled = true
	return true
}

// MarkToMarket advances every symbol's price walk one step and revalues the
// ledger against the new prices. It returns the prices by symbol so callers
// can drive trailing-stop adjustments off the same observation.
func (s *Simulator) MarkToMarket() map[string]float64 {
	s.mu.Lock()
	symbols := make([]string, 0, len(s.walks))
	for sym := range s.walks {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		prices[sym] = s.walks[sym].step(s.rng.NormFloat64())
	}
	s.mu.Unlock()

	for _, sym := range symbols {
		s.ledger.MarkPrice(sym, prices[sym])
	}
	return prices
}

// Price returns the current synthetic price for symbol without advancing the
// walk.
func (s *Simulator) Price(symbol string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.walk(symbol).price
}

// SetPrice pins the symbol's synthetic price to a fixed value. Pinned symbols
// consume no randomness, which keeps scenario runs deterministic.
func (s *Simulator) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walk(symbol).pin(price)
}

// Fills returns a copy of every fill executed so far, in execution order.
func (s *Simulator) Fills() []domain.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Fill, len(s.fills))
	copy(out, s.fills)
	return out
}

// SlippageBps returns the configured mean slippage, for fill-quality
// comparison against realized slippage.
func (s *Simulator) SlippageBps() float64 {
	return s.cfg.SlippageBps
}

// walk returns the symbol's price process, creating it on first use.
// Callers must hold s.mu.
func (s *Simulator) walk(symbol string) *priceWalk {
	w, ok := s.walks[symbol]
	if !ok {
		w = newPriceWalk(symbol, s.cfg.PriceVol)
		s.walks[symbol] = w
	}
	return w
}

func (s *Simulator) clearInflight(orderID string) {
	s.mu.Lock()
	delete(s.inflight, orderID)
	s.mu.Unlock()
}

// applySlippage moves the market price against the taker: buys pay up,
// sells receive less.
func applySlippage(price, bps float64, side domain.Side) float64 {
	if side == domain.SideBuy {
		return price * (1 + bps/10000)
	}
	return price / (1 + bps/10000)
}

func (c Config) String() string {
	return fmt.Sprintf("slippage=%.1fbps latency=%.0f±%.0fms fee=%.1fbps", c.SlippageBps, c.LatencyBase, c.LatencyVar, c.FeeBps)
}
