package journal

import (
	"errors"
	"log/slog"

	"tradesim/internal/bracket"
	"tradesim/internal/domain"
	"tradesim/internal/ledger"
)

// RestoreSummary reports what a journal replay reconstructed.
type RestoreSummary struct {
	Legs        int
	Fills       int
	PanicActive bool
}

// Restore rebuilds composer and ledger state from a journal event stream.
// TradeSubmit events carry full leg snapshots; the latest snapshot per order
// wins. TradeFill events are then replayed in append order through both the
// composer (restoring lifecycle state and cascades) and the ledger
// (restoring positions and realized PnL).
//
// A PanicActivate without a following PanicComplete leaves the stop flagged
// active so the engine restarts halted.
func Restore(events []domain.Event, comp *bracket.Composer, led *ledger.PositionLedger, log *slog.Logger) RestoreSummary {
	if log == nil {
		log = slog.Default()
	}

	// Pass 1: latest leg snapshot per order id, preserving first-seen order.
	var order []string
	legs := make(map[string]domain.OrderLeg)
	for _, ev := range events {
		sub, ok := ev.(domain.TradeSubmit)
		if !ok {
			continue
		}
		if _, seen := legs[sub.Leg.ID]; !seen {
			order = append(order, sub.Leg.ID)
		}
		legs[sub.Leg.ID] = sub.Leg
	}
	adopted := make([]domain.OrderLeg, 0, len(legs))
	for _, id := range order {
		adopted = append(adopted, legs[id])
	}
	comp.Adopt(adopted)

	sum := RestoreSummary{Legs: len(adopted)}

	// Pass 2: replay fills and panic markers in append order.
	for _, ev := range events {
		switch e := ev.(type) {
		case domain.TradeFill:
			f := e.Fill
			if _, err := comp.UpdateFill(f.OrderID, f.Qty, f.AvgPrice, f.Fees); err != nil {
				// Fills for legs the journal never saw submitted are
				// counted against the ledger only.
				if !errors.Is(err, domain.ErrOrderNotFound) {
					log.Warn("replaying fill", "order_id", f.OrderID, "error", err)
				}
			}
			led.AddFill(f.Symbol, f.Side.Sign()*f.Qty, f.AvgPrice, f.Fees)
			sum.Fills++
		case domain.PanicActivate:
			sum.PanicActive = true
		case domain.PanicComplete:
			sum.PanicActive = false
		}
	}

	log.Info("journal restored",
		"legs", sum.Legs, "fills", sum.Fills, "panic_active", sum.PanicActive)
	return sum
}
