package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Second, func() error {
		return errors.New("always fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRateLimiterFirstTokenImmediate(t *testing.T) {
	rl := NewRateLimiter(60)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
}

func TestRateLimiterBlocksWhenExhausted(t *testing.T) {
	rl := NewRateLimiter(1) // one token per minute

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait err = %v, want deadline exceeded", err)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if NewLogger(level, "json") == nil {
			t.Errorf("NewLogger(%q) returned nil", level)
		}
	}
	if NewLogger("info", "text") == nil {
		t.Error("NewLogger text format returned nil")
	}
}

func TestTradingCalendar(t *testing.T) {
	cal := NewTradingCalendar()

	// 2026-01-05 is a Monday.
	midSession := time.Date(2026, 1, 5, 12, 0, 0, 0, cal.loc)
	if !cal.IsMarketOpen(midSession) {
		t.Error("weekday noon should be open")
	}

	preOpen := time.Date(2026, 1, 5, 9, 0, 0, 0, cal.loc)
	if cal.IsMarketOpen(preOpen) {
		t.Error("09:00 should be closed")
	}
	if got := cal.NextOpen(preOpen); got.Hour() != 9 || got.Minute() != 30 || got.Day() != 5 {
		t.Errorf("NextOpen(09:00 Mon) = %v, want same day 09:30", got)
	}

	saturday := time.Date(2026, 1, 3, 12, 0, 0, 0, cal.loc)
	if cal.IsMarketOpen(saturday) {
		t.Error("Saturday should be closed")
	}
	if got := cal.NextOpen(saturday); got.Weekday() != time.Monday {
		t.Errorf("NextOpen(Saturday) = %v, want Monday", got)
	}

	afterClose := time.Date(2026, 1, 5, 17, 0, 0, 0, cal.loc)
	if got := cal.NextClose(afterClose); got.Day() != 6 || got.Hour() != 16 {
		t.Errorf("NextClose(after close) = %v, want Tuesday 16:00", got)
	}
}
