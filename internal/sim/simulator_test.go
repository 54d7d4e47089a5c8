package sim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"tradesim/internal/domain"
	"tradesim/internal/ledger"
)

func newTestSim(seed int64, cfg Config) *Simulator {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSimulator(cfg, rand.New(rand.NewSource(seed)), ledger.NewPositionLedger(log), log)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.LatencyBase = 0
	cfg.LatencyVar = 0
	return cfg
}

func marketLeg(symbol string, side domain.Side, qty float64) *domain.OrderLeg {
	return &domain.OrderLeg{
		ID:     uuid.NewString(),
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Type:   domain.OrderTypeMarket,
		Status: domain.StatusSubmitted,
	}
}

// Two simulators seeded identically, fed the same order sequence, must
// produce identical fill prices, slippage, and latency draws.
func TestDeterministicWithSeed(t *testing.T) {
	run := func() []domain.Fill {
		s := newTestSim(42, fastConfig())
		sequence := []struct {
			symbol string
			side   domain.Side
			qty    float64
		}{
			{"AAPL", domain.SideBuy, 100},
			{"AAPL", domain.SideSell, 40},
			{"TSLA", domain.SideSell, 25},
			{"AAPL", domain.SideBuy, 10},
			{"MSFT", domain.SideBuy, 5},
		}
		for i, step := range sequence {
			leg := marketLeg(step.symbol, step.side, step.qty)
			leg.ID = string(rune('a' + i)) // stable ids across runs
			if _, err := s.Submit(context.Background(), leg); err != nil {
				t.Fatalf("submit %d: %v", i, err)
			}
		}
		return s.Fills()
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("fill counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.AvgPrice != b.AvgPrice || a.SlippageBps != b.SlippageBps || a.LatencyMs != b.LatencyMs || a.Fees != b.Fees {
			t.Errorf("fill %d diverged: %+v vs %+v", i, a, b)
		}
	}
}

// Buys must execute at or above the quoted market price; sells at or below.
func TestSlippageDirection(t *testing.T) {
	s := newTestSim(7, fastConfig())
	s.SetPrice("AAPL", 100)

	buy, err := s.Submit(context.Background(), marketLeg("AAPL", domain.SideBuy, 10))
	if err != nil {
		t.Fatal(err)
	}
	if buy.AvgPrice < 100 {
		t.Errorf("buy fill %v below market 100", buy.AvgPrice)
	}

	s.SetPrice("AAPL", 100)
	sell, err := s.Submit(context.Background(), marketLeg("AAPL", domain.SideSell, 10))
	if err != nil {
		t.Fatal(err)
	}
	if sell.AvgPrice > 100 {
		t.Errorf("sell fill %v above market 100", sell.AvgPrice)
	}
}

func TestFeesProportionalToNotional(t *testing.T) {
	cfg := fastConfig()
	cfg.FeeBps = 10
	s := newTestSim(1, cfg)
	s.SetPrice("AAPL", 100)

	fill, err := s.Submit(context.Background(), marketLeg("AAPL", domain.SideBuy, 50))
	if err != nil {
		t.Fatal(err)
	}
	want := fill.AvgPrice * 50 * 10 / 10000
	if diff := fill.Fees - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fees = %v, want %v", fill.Fees, want)
	}
}

func TestCancelInFlight(t *testing.T) {
	cfg := fastConfig()
	cfg.LatencyBase = 250
	s := newTestSim(3, cfg)

	leg := marketLeg("AAPL", domain.SideBuy, 10)
	errc := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), leg)
		errc <- err
	}()

	time.Sleep(30 * time.Millisecond)
	if !s.Cancel(leg.ID) {
		t.Fatal("cancel of in-flight order = false, want true")
	}

	err := <-errc
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("submit err = %v, want ErrCanceled", err)
	}
	if got := len(s.Fills()); got != 0 {
		t.Errorf("canceled order produced %d fills", got)
	}
	// A canceled order never touches positions.
	if got := len(s.MarkToMarket()); got != 0 {
		t.Errorf("canceled order created %d positions", got)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	s := newTestSim(1, fastConfig())
	if s.Cancel("no-such-id") {
		t.Error("cancel of unknown order = true, want false")
	}
}

func TestContextDeadlineAbortsSubmit(t *testing.T) {
	cfg := fastConfig()
	cfg.LatencyBase = 500
	s := newTestSim(5, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err := s.Submit(ctx, marketLeg("AAPL", domain.SideBuy, 10))
	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want ExecutionError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapped DeadlineExceeded", err)
	}
}

func TestDuplicateInflightRejected(t *testing.T) {
	cfg := fastConfig()
	cfg.LatencyBase = 250
	s := newTestSim(9, cfg)

	leg := marketLeg("AAPL", domain.SideBuy, 10)
	go s.Submit(context.Background(), leg) //nolint:errcheck

	time.Sleep(30 * time.Millisecond)
	_, err := s.Submit(context.Background(), leg)
	if err == nil {
		t.Fatal("duplicate in-flight submit accepted")
	}
}

func TestSetPricePins(t *testing.T) {
	s := newTestSim(11, fastConfig())
	s.SetPrice("AAPL", 123.45)
	if got := s.Price("AAPL"); got != 123.45 {
		t.Errorf("price = %v, want 123.45", got)
	}
}

func TestMarkToMarketMovesPrices(t *testing.T) {
	s := newTestSim(13, fastConfig())
	if _, err := s.Submit(context.Background(), marketLeg("AAPL", domain.SideBuy, 10)); err != nil {
		t.Fatal(err)
	}

	marks := s.MarkToMarket()
	if _, ok := marks["AAPL"]; !ok {
		t.Fatal("mark-to-market missing traded symbol")
	}
}
