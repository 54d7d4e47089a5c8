package ledger

import (
	"io"
	"log/slog"
	"math"
	"testing"
)

func newTestLedger() *PositionLedger {
	return NewPositionLedger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

// Starting flat: buy 100 @ 100, then sell 150 @ 110. The sell realizes
// (110-100)*100 = 1000 on the covered quantity and the overshoot opens a
// short of 50 @ 110.
func TestSignCrossingOpensOpposite(t *testing.T) {
	l := newTestLedger()

	l.AddFill("AAPL", 100, 100, 0)
	pos := l.AddFill("AAPL", -150, 110, 0)

	approx(t, "qty", pos.Qty, -50)
	approx(t, "avg_price", pos.AvgPrice, 110)
	approx(t, "realized_pnl", pos.RealizedPnL, 1000)
}

func TestWeightedAverageOnAdd(t *testing.T) {
	l := newTestLedger()

	l.AddFill("AAPL", 100, 100, 0)
	pos := l.AddFill("AAPL", 50, 106, 0)

	approx(t, "qty", pos.Qty, 150)
	approx(t, "avg_price", pos.AvgPrice, (100*100.0+50*106.0)/150)
	approx(t, "realized_pnl", pos.RealizedPnL, 0)
}

// Fees fold into the cost basis with the trade's sign: they raise a long's
// basis and lower a short's, hurting the holder either way.
func TestFeesFoldIntoBasis(t *testing.T) {
	l := newTestLedger()

	long := l.AddFill("AAPL", 100, 100, 10)
	approx(t, "long basis", long.AvgPrice, (100*100.0+10)/100)

	short := l.AddFill("TSLA", -100, 200, 10)
	approx(t, "short basis", short.AvgPrice, (200*100.0-10)/100)
	approx(t, "short qty", short.Qty, -100)
}

func TestPartialCloseKeepsBasis(t *testing.T) {
	l := newTestLedger()

	l.AddFill("AAPL", 100, 100, 0)
	pos := l.AddFill("AAPL", -40, 105, 2)

	approx(t, "qty", pos.Qty, 60)
	approx(t, "avg_price", pos.AvgPrice, 100)
	approx(t, "realized_pnl", pos.RealizedPnL, (105-100)*40-2)
}

func TestExactCloseGoesFlat(t *testing.T) {
	l := newTestLedger()

	l.AddFill("AAPL", 100, 100, 0)
	pos := l.AddFill("AAPL", -100, 95, 0)

	approx(t, "qty", pos.Qty, 0)
	approx(t, "avg_price", pos.AvgPrice, 0)
	approx(t, "realized_pnl", pos.RealizedPnL, -500)

	// Flat positions are kept, not deleted.
	if _, ok := l.Get("AAPL"); !ok {
		t.Error("flat position was deleted")
	}
}

func TestShortCoverRealizes(t *testing.T) {
	l := newTestLedger()

	l.AddFill("TSLA", -50, 200, 0)
	pos := l.AddFill("TSLA", 50, 190, 1)

	approx(t, "qty", pos.Qty, 0)
	approx(t, "realized_pnl", pos.RealizedPnL, (200-190)*50-1)
}

func TestMarkPriceUpdatesUnrealized(t *testing.T) {
	l := newTestLedger()

	l.AddFill("AAPL", 100, 100, 0)
	l.MarkPrice("AAPL", 104)

	pos, _ := l.Get("AAPL")
	approx(t, "unrealized_pnl", pos.UnrealizedPnL, 400)
	approx(t, "market_price", pos.MarketPrice, 104)
}

func TestPerformanceSummary(t *testing.T) {
	l := newTestLedger()

	l.AddFill("AAPL", 100, 100, 2)
	l.AddFill("AAPL", -100, 110, 2)
	l.AddFill("TSLA", 10, 200, 1)
	l.MarkPrice("TSLA", 210)

	s := l.PerformanceSummary()
	// Opening fee raised the basis to 100.02; the closing fee is charged
	// against the realization directly.
	wantRealized := (110-100.02)*100.0 - 2
	approx(t, "realized", s.RealizedPnL, wantRealized)
	approx(t, "unrealized", s.UnrealizedPnL, 10*(210-200.1))
	approx(t, "total", s.TotalPnL, s.RealizedPnL+s.UnrealizedPnL)
	approx(t, "fees", s.TotalFees, 5)
	approx(t, "net", s.NetPnL, s.TotalPnL-s.TotalFees)
	if s.OpenPositions != 1 {
		t.Errorf("open positions = %d, want 1", s.OpenPositions)
	}
}

func TestPositionsSorted(t *testing.T) {
	l := newTestLedger()
	l.AddFill("TSLA", 1, 200, 0)
	l.AddFill("AAPL", 1, 100, 0)
	l.AddFill("MSFT", 1, 400, 0)

	got := l.Positions()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"AAPL", "MSFT", "TSLA"} {
		if got[i].Symbol != want {
			t.Errorf("positions[%d] = %s, want %s", i, got[i].Symbol, want)
		}
	}
}
