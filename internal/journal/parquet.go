package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradesim/internal/domain"
)

// FillRecord is the Parquet schema for exported fills.
type FillRecord struct {
	OrderID     string  `parquet:"order_id"`
	Symbol      string  `parquet:"symbol"`
	Side        string  `parquet:"side"`
	Qty         float64 `parquet:"qty"`
	AvgPrice    float64 `parquet:"avg_price"`
	Fees        float64 `parquet:"fees"`
	SlippageBps float64 `parquet:"slippage_bps"`
	LatencyMs   float64 `parquet:"latency_ms"`
	Timestamp   int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
}

// ExportFills writes fills to a Parquet file at path, creating parent
// directories as needed.
func ExportFills(path string, fills []domain.Fill) error {
	records := make([]FillRecord, 0, len(fills))
	for _, f := range fills {
		records = append(records, FillRecord{
			OrderID:     f.OrderID,
			Symbol:      f.Symbol,
			Side:        string(f.Side),
			Qty:         f.Qty,
			AvgPrice:    f.AvgPrice,
			Fees:        f.Fees,
			SlippageBps: f.SlippageBps,
			LatencyMs:   f.LatencyMs,
			Timestamp:   f.Timestamp.UnixMilli(),
		})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating export dir: %w", err)
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return fmt.Errorf("writing fills parquet: %w", err)
	}
	return nil
}

// ReadFills loads a previously exported fills file.
func ReadFills(path string) ([]domain.Fill, error) {
	records, err := parquet.ReadFile[FillRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading fills parquet: %w", err)
	}
	fills := make([]domain.Fill, 0, len(records))
	for _, r := range records {
		fills = append(fills, domain.Fill{
			OrderID:     r.OrderID,
			Symbol:      r.Symbol,
			Side:        domain.Side(r.Side),
			Qty:         r.Qty,
			AvgPrice:    r.AvgPrice,
			Fees:        r.Fees,
			SlippageBps: r.SlippageBps,
			LatencyMs:   r.LatencyMs,
			Timestamp:   time.UnixMilli(r.Timestamp),
		})
	}
	return fills, nil
}
