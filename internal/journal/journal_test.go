package journal

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradesim/internal/bracket"
	"tradesim/internal/domain"
	"tradesim/internal/ledger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvents(now time.Time) []domain.Event {
	return []domain.Event{
		domain.TradeIntent{Symbol: "AAPL", Side: domain.SideBuy, Qty: 100, Time: now},
		domain.PolicyCheck{
			Symbol: "AAPL",
			Result: domain.PolicyCheckResult{OK: true, Reason: "all checks passed", Timestamp: now},
			Time:   now,
		},
		domain.GuardrailCheck{OK: true, Time: now},
		domain.TradeSubmit{
			Leg: domain.OrderLeg{
				ID: "leg-1", Symbol: "AAPL", Side: domain.SideBuy, Qty: 100,
				Type: domain.OrderTypeMarket, TIF: domain.TIFGTC,
				Status: domain.StatusSubmitted, CreatedAt: now, UpdatedAt: now,
			},
			Time: now,
		},
		domain.TradeFill{
			Fill: domain.Fill{
				OrderID: "leg-1", Symbol: "AAPL", Side: domain.SideBuy,
				Qty: 100, AvgPrice: 100.5, Fees: 1.0,
				SlippageBps: 5.2, LatencyMs: 118, Timestamp: now,
			},
			Time: now,
		},
		domain.QualityUpdate{
			OrderID: "leg-1", Symbol: "AAPL",
			SlippageBps: 5.2, ConfiguredBps: 5, LatencyMs: 118, Time: now,
		},
		domain.PanicActivate{Flatten: true, Reason: "operator", Time: now},
		domain.PanicComplete{CanceledOrders: 2, FlattenedLegs: 1, Time: now},
	}
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	defer sink.Close()

	now := time.Now().Truncate(time.Millisecond).UTC()
	want := sampleEvents(now)
	for _, ev := range want {
		if err := sink.Write(ev); err != nil {
			t.Fatalf("Write(%s): %v", ev.Kind(), err)
		}
	}

	got, err := sink.Events()
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("read %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Kind() != want[i].Kind() {
			t.Errorf("event %d kind = %s, want %s", i, got[i].Kind(), want[i].Kind())
		}
	}

	fill, ok := got[4].(domain.TradeFill)
	if !ok {
		t.Fatalf("event 4 decoded as %T, want TradeFill", got[4])
	}
	if fill.Fill.AvgPrice != 100.5 || fill.Fill.OrderID != "leg-1" {
		t.Errorf("fill round trip = %+v", fill.Fill)
	}
}

func TestSQLiteSinkRejectsUnknownVariant(t *testing.T) {
	sink, err := NewSQLiteSink(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	if err := sink.Write(bogusEvent{}); err == nil {
		t.Error("unknown event variant accepted")
	}
}

type bogusEvent struct{}

func (bogusEvent) Kind() domain.EventKind { return "bogus" }
func (bogusEvent) At() time.Time          { return time.Time{} }

type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
	fail   bool
}

func (c *captureSink) Write(ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("sink down")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestAsyncJournalDelivers(t *testing.T) {
	sink := &captureSink{}
	j := NewAsync(sink, 16, discardLogger())

	now := time.Now()
	for _, ev := range sampleEvents(now) {
		j.Record(ev)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := sink.len(); got != 8 {
		t.Errorf("sink received %d events, want 8", got)
	}
	if j.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", j.Dropped())
	}
}

func TestAsyncJournalNeverBlocks(t *testing.T) {
	// A failing sink with a tiny queue: Record must still return promptly.
	sink := &captureSink{fail: true}
	j := NewAsync(sink, 1, discardLogger())
	defer j.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			j.Record(domain.GuardrailCheck{OK: true, Time: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a saturated journal")
	}
}

func TestRestoreRebuildsState(t *testing.T) {
	log := discardLogger()
	comp := bracket.NewComposer(log)
	led := ledger.NewPositionLedger(log)

	now := time.Now()
	events := []domain.Event{
		domain.TradeSubmit{
			Leg: domain.OrderLeg{
				ID: "leg-1", Symbol: "AAPL", Side: domain.SideBuy, Qty: 100,
				Type: domain.OrderTypeMarket, TIF: domain.TIFGTC,
				Status: domain.StatusSubmitted, CreatedAt: now, UpdatedAt: now,
			},
			Time: now,
		},
		domain.TradeFill{
			Fill: domain.Fill{
				OrderID: "leg-1", Symbol: "AAPL", Side: domain.SideBuy,
				Qty: 100, AvgPrice: 100, Timestamp: now,
			},
			Time: now,
		},
		domain.TradeFill{
			Fill: domain.Fill{
				OrderID: "unknown", Symbol: "TSLA", Side: domain.SideSell,
				Qty: 10, AvgPrice: 200, Timestamp: now,
			},
			Time: now,
		},
	}

	sum := Restore(events, comp, led, log)
	if sum.Legs != 1 || sum.Fills != 2 || sum.PanicActive {
		t.Errorf("summary = %+v, want legs=1 fills=2 panic=false", sum)
	}

	leg, ok := comp.GetOrder("leg-1")
	if !ok {
		t.Fatal("restored leg missing")
	}
	if leg.Status != domain.StatusFilled || leg.FilledQty != 100 {
		t.Errorf("leg = status %s filled %v, want filled 100", leg.Status, leg.FilledQty)
	}

	pos, ok := led.Get("AAPL")
	if !ok || pos.Qty != 100 {
		t.Errorf("position = %+v, want qty 100", pos)
	}
	if short, ok := led.Get("TSLA"); !ok || short.Qty != -10 {
		t.Errorf("orphan fill position = %+v, want qty -10", short)
	}
}

func TestRestorePanicWithoutComplete(t *testing.T) {
	log := discardLogger()
	sum := Restore([]domain.Event{
		domain.PanicActivate{Flatten: true, Time: time.Now()},
	}, bracket.NewComposer(log), ledger.NewPositionLedger(log), log)
	if !sum.PanicActive {
		t.Error("panic without complete not flagged active")
	}
}

func TestFillsParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.parquet")
	now := time.Now().Truncate(time.Millisecond)

	want := []domain.Fill{
		{OrderID: "a", Symbol: "AAPL", Side: domain.SideBuy, Qty: 100, AvgPrice: 100.5, Fees: 1, SlippageBps: 5, LatencyMs: 120, Timestamp: now},
		{OrderID: "b", Symbol: "TSLA", Side: domain.SideSell, Qty: 25, AvgPrice: 201.7, Fees: 0.5, SlippageBps: 4.2, LatencyMs: 98, Timestamp: now},
	}
	if err := ExportFills(path, want); err != nil {
		t.Fatalf("ExportFills: %v", err)
	}

	got, err := ReadFills(path)
	if err != nil {
		t.Fatalf("ReadFills: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d fills, want 2", len(got))
	}
	if got[0].OrderID != "a" || got[0].AvgPrice != 100.5 || !got[0].Timestamp.Equal(now) {
		t.Errorf("fill[0] = %+v", got[0])
	}
	if got[1].Side != domain.SideSell || got[1].Qty != 25 {
		t.Errorf("fill[1] = %+v", got[1])
	}
}
