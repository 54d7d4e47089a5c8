// Package engine coordinates the trading lifecycle: policy gating, order
// construction, simulated execution, position tracking, and audit
// journaling.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tradesim/internal/bracket"
	"tradesim/internal/domain"
	"tradesim/internal/journal"
	"tradesim/internal/ledger"
	"tradesim/internal/metrics"
	"tradesim/internal/policy"
	"tradesim/internal/sim"
)

// Config holds engine-level limits.
type Config struct {
	// SubmitTimeout bounds one execution end to end, independent of the
	// simulated latency draw.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	// MaxOpenOrders caps concurrently open legs; zero disables the cap.
	MaxOpenOrders int `yaml:"max_open_orders"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SubmitTimeout: 5 * time.Second,
		MaxOpenOrders: 200,
	}
}

// TradeRequest describes one trade: the signal context the policy gate
// evaluates plus the leg to build on approval.
type TradeRequest struct {
	Symbol      string          `json:"symbol"`
	Side        domain.Side     `json:"side"`
	Qty         float64         `json:"qty"`
	PUp         float64         `json:"p_up"`
	Regime      string          `json:"regime"`
	SpreadBps   float64         `json:"spread_bps"`
	NewsHeat    float64         `json:"news_heat"`
	MarketValue float64         `json:"market_value,omitempty"`
	Exchange    string          `json:"exchange,omitempty"`
	Leg         bracket.LegSpec `json:"-"`
}

// BracketTradeRequest extends TradeRequest with protective legs.
type BracketTradeRequest struct {
	TradeRequest
	Stop bracket.LegSpec
	Take *bracket.LegSpec
}

// Stats is a point-in-time snapshot of engine health.
type Stats struct {
	Policy         policy.Stats `json:"policy"`
	OpenOrders     int          `json:"open_orders"`
	OpenPositions  int          `json:"open_positions"`
	Fills          int          `json:"fills"`
	Halted         bool         `json:"halted"`
	JournalDropped int64        `json:"journal_dropped"`
}

// Engine orchestrates the trading path. All externally visible actions emit
// audit events; journal failures never block trading.
type Engine struct {
	cfg      Config
	policy   *policy.Engine
	composer *bracket.Composer
	sim      *sim.Simulator
	ledger   *ledger.PositionLedger
	journal  journal.Journal
	log      *slog.Logger

	halted  atomic.Bool
	dropped func() int64
}

// New wires an Engine. jrnl may be nil, in which case events are discarded.
func New(cfg Config, pol *policy.Engine, comp *bracket.Composer, simulator *sim.Simulator, led *ledger.PositionLedger, jrnl journal.Journal, log *slog.Logger) *Engine {
	if jrnl == nil {
		jrnl = journal.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		policy:   pol,
		composer: comp,
		sim:      simulator,
		ledger:   led,
		journal:  jrnl,
		log:      log,
		dropped:  func() int64 { return 0 },
	}
	if async := findAsync(jrnl); async != nil {
		e.dropped = async.Dropped
	}
	return e
}

// findAsync locates an AsyncJournal inside jrnl, descending into fan-outs, so
// the drop counter is reported even when the journal is a Multi.
func findAsync(jrnl journal.Journal) *journal.AsyncJournal {
	switch j := jrnl.(type) {
	case *journal.AsyncJournal:
		return j
	case journal.Multi:
		for _, inner := range j {
			if async := findAsync(inner); async != nil {
				return async
			}
		}
	}
	return nil
}

// Halt flags the engine stopped; subsequent submits fail the guardrail.
func (e *Engine) Halt() { e.halted.Store(true) }

// Resume clears a halt.
func (e *Engine) Resume() { e.halted.Store(false) }

// Halted reports whether the engine is stopped.
func (e *Engine) Halted() bool { return e.halted.Load() }

// ---------------------------------------------------------------------------
// Trading path
// ---------------------------------------------------------------------------

// SubmitOrder runs the full single-leg path: policy gate, guardrail, leg
// construction, simulated execution, fill application. The returned leg
// reflects post-fill state. A policy rejection leaves no leg behind.
func (e *Engine) SubmitOrder(ctx context.Context, req TradeRequest) (domain.Fill, domain.OrderLeg, error) {
	if err := e.gate(ctx, req); err != nil {
		return domain.Fill{}, domain.OrderLeg{}, err
	}

	leg, err := e.composer.CreateOrder(req.Symbol, req.Side, req.Qty, req.Leg)
	if err != nil {
		return domain.Fill{}, domain.OrderLeg{}, err
	}

	fill, err := e.execute(ctx, leg.ID)
	if err != nil {
		return domain.Fill{}, leg, err
	}
	final, _ := e.composer.GetOrder(leg.ID)
	return fill, final, nil
}

// CreateBracket gates on the entry leg, builds the bracket, and executes the
// entry. The protective children activate on the entry fill and rest until
// triggered or canceled.
func (e *Engine) CreateBracket(ctx context.Context, req BracketTradeRequest) (domain.BracketOrder, domain.Fill, error) {
	if err := e.gate(ctx, req.TradeRequest); err != nil {
		return domain.BracketOrder{}, domain.Fill{}, err
	}

	b, err := e.composer.CreateBracket(bracket.BracketRequest{
		Symbol: req.Symbol,
		Side:   req.Side,
		Qty:    req.Qty,
		Entry:  req.Leg,
		Stop:   req.Stop,
		Take:   req.Take,
	})
	if err != nil {
		return domain.BracketOrder{}, domain.Fill{}, err
	}

	fill, err := e.execute(ctx, b.Parent.ID)
	if err != nil {
		return b, domain.Fill{}, err
	}

	// Re-snapshot: the parent fill activated the children.
	for _, cur := range e.composer.OpenBrackets() {
		if cur.BracketID == b.BracketID {
			b = cur
			break
		}
	}
	return b, fill, nil
}

// CreateOCO gates once and builds two resting legs sharing an OCO group.
// Neither executes until triggered.
func (e *Engine) CreateOCO(ctx context.Context, req TradeRequest, other bracket.LegSpec) (domain.OrderLeg, domain.OrderLeg, error) {
	if err := e.gate(ctx, req); err != nil {
		return domain.OrderLeg{}, domain.OrderLeg{}, err
	}

	leg1, leg2, err := e.composer.CreateOCO(req.Symbol, req.Side, req.Qty, req.Leg, other)
	if err != nil {
		return domain.OrderLeg{}, domain.OrderLeg{}, err
	}
	for _, leg := range []domain.OrderLeg{leg1, leg2} {
		if err := e.composer.MarkSubmitted(leg.ID); err != nil {
			return leg1, leg2, err
		}
		snap, _ := e.composer.GetOrder(leg.ID)
		e.journal.Record(domain.TradeSubmit{Leg: snap, Time: time.Now()})
		metrics.OrdersSubmitted.WithLabelValues(snap.Symbol, string(snap.Side)).Inc()
	}
	leg1, _ = e.composer.GetOrder(leg1.ID)
	leg2, _ = e.composer.GetOrder(leg2.ID)
	e.updateOpenGauge()
	return leg1, leg2, nil
}

// TriggerOrder executes a resting SUBMITTED leg (a stop or limit whose
// trigger condition the caller observed). The fill cascades through the
// composer like any other.
func (e *Engine) TriggerOrder(ctx context.Context, orderID string) (domain.Fill, error) {
	leg, ok := e.composer.GetOrder(orderID)
	if !ok {
		return domain.Fill{}, domain.ErrOrderNotFound
	}
	if leg.Status != domain.StatusSubmitted && leg.Status != domain.StatusPartiallyFilled {
		return domain.Fill{}, fmt.Errorf("order %s is %s, not triggerable: %w", orderID, leg.Status, domain.ErrInvalidParameters)
	}
	return e.fillThroughSim(ctx, orderID)
}

// CancelOrder cancels a leg in both the simulator (if still in flight) and
// the composer. Idempotent; returns false when nothing was cancelable.
func (e *Engine) CancelOrder(orderID string) bool {
	inFlight := e.sim.Cancel(orderID)
	composed := e.composer.CancelOrder(orderID)
	if inFlight || composed {
		metrics.OrdersCanceled.Inc()
		e.updateOpenGauge()
		e.log.Info("order canceled", "order_id", orderID, "in_flight", inFlight)
		return true
	}
	return false
}

// PanicStop halts the engine, cancels every open leg, and optionally
// flattens every open position with offsetting market orders. Flatten
// failures are counted, not fatal; the engine stays halted either way.
func (e *Engine) PanicStop(ctx context.Context, flatten bool, reason string) domain.PanicComplete {
	e.halted.Store(true)
	metrics.PanicStops.Inc()
	e.journal.Record(domain.PanicActivate{Flatten: flatten, Reason: reason, Time: time.Now()})
	e.log.Warn("panic stop activated", "flatten", flatten, "reason", reason)

	open := e.composer.OpenOrders()
	for _, leg := range open {
		e.sim.Cancel(leg.ID)
		e.composer.CancelOrder(leg.ID)
	}
	// Count outcomes, not calls: canceling one OCO leg cascades its siblings.
	canceled := 0
	for _, leg := range open {
		if cur, ok := e.composer.GetOrder(leg.ID); ok && cur.Status == domain.StatusCanceled {
			canceled++
		}
	}

	var flattened, failures atomic.Int64
	if flatten {
		g, gctx := errgroup.WithContext(ctx)
		for _, pos := range e.ledger.Open() {
			g.Go(func() error {
				if err := e.flattenPosition(gctx, pos); err != nil {
					failures.Add(1)
					e.log.Error("flatten failed", "symbol", pos.Symbol, "error", err)
					return nil // keep flattening the rest
				}
				flattened.Add(1)
				return nil
			})
		}
		g.Wait() //nolint:errcheck // workers never return errors
	}

	done := domain.PanicComplete{
		CanceledOrders:  canceled,
		FlattenedLegs:   int(flattened.Load()),
		FlattenFailures: int(failures.Load()),
		Time:            time.Now(),
	}
	e.journal.Record(done)
	e.updateOpenGauge()
	e.log.Warn("panic stop complete",
		"canceled", done.CanceledOrders, "flattened", done.FlattenedLegs,
		"failures", done.FlattenFailures)
	return done
}

// flattenPosition submits an offsetting market order directly, bypassing the
// policy gate: an emergency exit must not be blocked by a closed market or a
// risk limit.
func (e *Engine) flattenPosition(ctx context.Context, pos domain.Position) error {
	side := domain.SideSell
	qty := pos.Qty
	if qty < 0 {
		side = domain.SideBuy
		qty = -qty
	}
	leg, err := e.composer.CreateOrder(pos.Symbol, side, qty, bracket.LegSpec{
		Type: domain.OrderTypeMarket,
		TIF:  domain.TIFIOC,
	})
	if err != nil {
		return err
	}
	_, err = e.execute(ctx, leg.ID)
	return err
}

// MarkToMarket advances every synthetic price one step, refreshes unrealized
// PnL, ratchets trailing stops, and expires stale legs.
func (e *Engine) MarkToMarket() map[string]float64 {
	marks := e.sim.MarkToMarket()
	for symbol, price := range marks {
		for _, moved := range e.composer.RepegTrailingStops(symbol, price) {
			e.log.Debug("trailing stop repegged",
				"order_id", moved.ID, "symbol", symbol, "stop_price", moved.StopPrice)
		}
	}
	for _, expired := range e.composer.ExpireStale(time.Now()) {
		e.sim.Cancel(expired.ID)
		e.log.Info("order expired", "order_id", expired.ID, "tif", expired.TIF)
	}
	e.updateOpenGauge()
	return marks
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// Positions returns all ledger positions.
func (e *Engine) Positions() []domain.Position { return e.ledger.Positions() }

// Performance returns the aggregate PnL summary.
func (e *Engine) Performance() domain.PerformanceSummary { return e.ledger.PerformanceSummary() }

// OpenBrackets returns brackets with at least one live leg.
func (e *Engine) OpenBrackets() []domain.BracketOrder { return e.composer.OpenBrackets() }

// Orders returns every known leg.
func (e *Engine) Orders() []domain.OrderLeg { return e.composer.Orders() }

// GetOrder returns one leg by id.
func (e *Engine) GetOrder(orderID string) (domain.OrderLeg, bool) {
	return e.composer.GetOrder(orderID)
}

// Fills returns the simulator's execution history.
func (e *Engine) Fills() []domain.Fill { return e.sim.Fills() }

// Stats returns an engine health snapshot.
func (e *Engine) Stats() Stats {
	return Stats{
		Policy:         e.policy.Stats(),
		OpenOrders:     len(e.composer.OpenOrders()),
		OpenPositions:  len(e.ledger.Open()),
		Fills:          len(e.sim.Fills()),
		Halted:         e.halted.Load(),
		JournalDropped: e.dropped(),
	}
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// gate runs the policy check and the engine guardrail, journaling both. A
// rejection from either never constructs a leg.
func (e *Engine) gate(ctx context.Context, req TradeRequest) error {
	now := time.Now()
	e.journal.Record(domain.TradeIntent{Symbol: req.Symbol, Side: req.Side, Qty: req.Qty, Time: now})

	res := e.policy.Check(ctx, policy.CheckRequest{
		Ticker:      req.Symbol,
		Size:        req.Side.Sign() * req.Qty,
		PUp:         req.PUp,
		Regime:      req.Regime,
		SpreadBps:   req.SpreadBps,
		NewsHeat:    req.NewsHeat,
		MarketValue: req.MarketValue,
		Exchange:    req.Exchange,
	})
	e.journal.Record(domain.PolicyCheck{Symbol: req.Symbol, Result: res, Time: time.Now()})
	if !res.OK {
		metrics.PolicyChecks.WithLabelValues("reject").Inc()
		for _, code := range res.Violations {
			metrics.PolicyViolations.WithLabelValues(code).Inc()
		}
		return &domain.PolicyViolationError{Violations: res.Violations, Result: res}
	}
	metrics.PolicyChecks.WithLabelValues("pass").Inc()

	if reason := e.guardrail(); reason != "" {
		e.journal.Record(domain.GuardrailCheck{OK: false, Reason: reason, Time: time.Now()})
		return fmt.Errorf("%w: %s", domain.ErrGuardrail, reason)
	}
	e.journal.Record(domain.GuardrailCheck{OK: true, Time: time.Now()})
	return nil
}

func (e *Engine) guardrail() string {
	if e.halted.Load() {
		return "engine halted"
	}
	if e.cfg.MaxOpenOrders > 0 && len(e.composer.OpenOrders()) >= e.cfg.MaxOpenOrders {
		return fmt.Sprintf("open order cap %d reached", e.cfg.MaxOpenOrders)
	}
	return ""
}

// execute submits a freshly built PENDING leg and applies the fill.
func (e *Engine) execute(ctx context.Context, orderID string) (domain.Fill, error) {
	if err := e.composer.MarkSubmitted(orderID); err != nil {
		return domain.Fill{}, err
	}
	snap, _ := e.composer.GetOrder(orderID)
	e.journal.Record(domain.TradeSubmit{Leg: snap, Time: time.Now()})
	metrics.OrdersSubmitted.WithLabelValues(snap.Symbol, string(snap.Side)).Inc()
	return e.fillThroughSim(ctx, orderID)
}

// fillThroughSim runs one leg through the simulator under the hard submit
// timeout and applies the resulting fill plus its cascades.
func (e *Engine) fillThroughSim(ctx context.Context, orderID string) (domain.Fill, error) {
	leg, ok := e.composer.GetOrder(orderID)
	if !ok {
		return domain.Fill{}, domain.ErrOrderNotFound
	}

	if e.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		defer cancel()
	}

	fill, err := e.sim.Submit(ctx, &leg)
	if err != nil {
		e.updateOpenGauge()
		return domain.Fill{}, err
	}

	out, err := e.composer.UpdateFill(fill.OrderID, fill.Qty, fill.AvgPrice, fill.Fees)
	if err != nil {
		// The ledger already holds the fill; surface the lifecycle error.
		return fill, fmt.Errorf("applying fill to order %s: %w", fill.OrderID, err)
	}

	now := time.Now()
	e.journal.Record(domain.TradeFill{Fill: fill, Time: now})
	e.journal.Record(domain.QualityUpdate{
		OrderID:       fill.OrderID,
		Symbol:        fill.Symbol,
		SlippageBps:   fill.SlippageBps,
		ConfiguredBps: e.sim.SlippageBps(),
		LatencyMs:     fill.LatencyMs,
		Time:          now,
	})
	metrics.Fills.WithLabelValues(fill.Symbol, string(fill.Side)).Inc()
	metrics.FillLatency.Observe(fill.LatencyMs)
	metrics.FillSlippage.Observe(fill.SlippageBps)

	for _, sibling := range out.CanceledSiblings {
		e.sim.Cancel(sibling.ID)
		metrics.OrdersCanceled.Inc()
	}
	for _, child := range out.ActivatedChildren {
		e.journal.Record(domain.TradeSubmit{Leg: child, Time: time.Now()})
		metrics.OrdersSubmitted.WithLabelValues(child.Symbol, string(child.Side)).Inc()
	}
	e.updateOpenGauge()
	return fill, nil
}

func (e *Engine) updateOpenGauge() {
	metrics.OpenOrders.Set(float64(len(e.composer.OpenOrders())))
	metrics.JournalDropped.Set(float64(e.dropped()))
}
