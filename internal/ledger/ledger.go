// Package ledger tracks per-symbol positions, weighted-average cost basis,
// and realized/unrealized PnL.
package ledger

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"tradesim/internal/domain"
)

// PositionLedger holds one Position per symbol. Positions are created on the
// first fill and kept forever; a closed position stays in the map with
// Qty == 0. All methods are safe for concurrent use.
type PositionLedger struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	log       *slog.Logger
}

// NewPositionLedger creates an empty ledger.
func NewPositionLedger(log *slog.Logger) *PositionLedger {
	if log == nil {
		log = slog.Default()
	}
	return &PositionLedger{
		positions: make(map[string]*domain.Position),
		log:       log,
	}
}

// AddFill applies a fill to the symbol's position and returns a snapshot of
// the updated position. signedQty is positive for a buy and negative for a
// sell.
//
// A fill on the same side as the existing exposure extends it at a new
// weighted-average cost that capitalizes the fees. A fill against the
// exposure realizes PnL on the overlapped quantity; if it overshoots through
// flat, the remainder opens a fresh position at the fill price on the new
// side. Fees on a reducing fill are charged entirely against realized PnL.
func (l *PositionLedger) AddFill(symbol string, signedQty, price, fees float64) domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &domain.Position{Symbol: symbol}
		l.positions[symbol] = pos
	}

	oldQty := pos.Qty
	tradeAbs := math.Abs(signedQty)

	switch {
	case oldQty == 0 || sameSign(oldQty, signedQty):
		// Opening or extending: weighted-average basis with fees folded in.
		// Signed quantities make the fee term cut the basis on shorts the
		// same way it raises it on longs.
		newQty := oldQty + signedQty
		pos.AvgPrice = (pos.AvgPrice*oldQty + price*signedQty + fees) / newQty
		pos.Qty = newQty

	default:
		// Reducing or reversing: realize PnL on the overlap.
		oldAbs := math.Abs(oldQty)
		covered := math.Min(oldAbs, tradeAbs)
		sign := 1.0
		if oldQty < 0 {
			sign = -1
		}
		pos.RealizedPnL += (price-pos.AvgPrice)*covered*sign - fees

		if tradeAbs > oldAbs {
			// Overshoot: remainder opens a new position on the other side.
			remainder := tradeAbs - oldAbs
			if signedQty > 0 {
				pos.Qty = remainder
			} else {
				pos.Qty = -remainder
			}
			pos.AvgPrice = price
		} else {
			pos.Qty = oldQty + signedQty
			if pos.Qty == 0 {
				pos.AvgPrice = 0
			}
			// Undershoot keeps the original basis on the surviving quantity.
		}
	}

	pos.Fees += fees
	pos.MarketPrice = price
	pos.UnrealizedPnL = (price - pos.AvgPrice) * pos.Qty
	pos.UpdatedAt = time.Now()

	l.log.Debug("fill applied",
		"symbol", symbol, "qty", signedQty, "price", price,
		"position_qty", pos.Qty, "avg_price", pos.AvgPrice,
		"realized_pnl", pos.RealizedPnL)

	return *pos
}

// MarkPrice revalues the symbol's position at price and recomputes the
// unrealized PnL. It is a no-op for symbols the ledger has never seen.
func (l *PositionLedger) MarkPrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return
	}
	pos.MarketPrice = price
	pos.UnrealizedPnL = (price - pos.AvgPrice) * pos.Qty
	pos.UpdatedAt = time.Now()
}

// Get returns a snapshot of the position for symbol.
func (l *PositionLedger) Get(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns snapshots of every position, sorted by symbol. Flat
// positions are included; callers filter if they only want open exposure.
func (l *PositionLedger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Open returns snapshots of positions with non-zero quantity, sorted by symbol.
func (l *PositionLedger) Open() []domain.Position {
	all := l.Positions()
	out := all[:0]
	for _, pos := range all {
		if pos.Qty != 0 {
			out = append(out, pos)
		}
	}
	return out
}

// PerformanceSummary aggregates PnL and fees across every symbol.
func (l *PositionLedger) PerformanceSummary() domain.PerformanceSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum domain.PerformanceSummary
	for _, pos := range l.positions {
		sum.RealizedPnL += pos.RealizedPnL
		sum.UnrealizedPnL += pos.UnrealizedPnL
		sum.TotalFees += pos.Fees
		if pos.Qty != 0 {
			sum.OpenPositions++
		}
	}
	sum.TotalPnL = sum.RealizedPnL + sum.UnrealizedPnL
	sum.NetPnL = sum.TotalPnL - sum.TotalFees
	return sum
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
