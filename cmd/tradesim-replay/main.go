// tradesim-replay inspects a journal database offline: it dumps the raw
// audit trail, replays it into positions, or reads an exported fills file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"tradesim/internal/bracket"
	"tradesim/internal/domain"
	"tradesim/internal/journal"
	"tradesim/internal/ledger"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tradesim-replay <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version            Print the version\n")
		fmt.Fprintf(os.Stderr, "  events <db>        Dump the audit trail as JSON lines\n")
		fmt.Fprintf(os.Stderr, "  replay <db>        Rebuild positions from the journal\n")
		fmt.Fprintf(os.Stderr, "  fills <parquet>    Print an exported fills file\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("tradesim-replay %s\n", version)

	case "events":
		err = dumpEvents(arg())

	case "replay":
		err = replay(arg())

	case "fills":
		err = dumpFills(arg())

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func arg() string {
	if len(os.Args) < 3 {
		flag.Usage()
		os.Exit(1)
	}
	return os.Args[2]
}

func readEvents(dbPath string) ([]domain.Event, error) {
	sink, err := journal.NewSQLiteSink(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer sink.Close()
	return sink.Events()
}

func dumpEvents(dbPath string) error {
	events, err := readEvents(dbPath)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, ev := range events {
		if err := enc.Encode(map[string]any{"kind": ev.Kind(), "at": ev.At(), "payload": ev}); err != nil {
			return err
		}
	}
	return nil
}

func replay(dbPath string) error {
	events, err := readEvents(dbPath)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	comp := bracket.NewComposer(log)
	led := ledger.NewPositionLedger(log)
	summary := journal.Restore(events, comp, led, log)

	fmt.Printf("events: %d  legs: %d  fills: %d  panic_active: %v\n\n",
		len(events), summary.Legs, summary.Fills, summary.PanicActive)

	fmt.Printf("%-8s %10s %12s %12s %10s\n", "SYMBOL", "QTY", "AVG PRICE", "REALIZED", "FEES")
	for _, pos := range led.Positions() {
		fmt.Printf("%-8s %10.2f %12.4f %12.2f %10.2f\n",
			pos.Symbol, pos.Qty, pos.AvgPrice, pos.RealizedPnL, pos.Fees)
	}

	perf := led.PerformanceSummary()
	fmt.Printf("\nrealized: %.2f  fees: %.2f  net: %.2f  open positions: %d\n",
		perf.RealizedPnL, perf.TotalFees, perf.NetPnL, perf.OpenPositions)
	return nil
}

func dumpFills(path string) error {
	fills, err := journal.ReadFills(path)
	if err != nil {
		return fmt.Errorf("read fills: %w", err)
	}
	fmt.Printf("%-10s %-8s %-4s %10s %12s %8s %8s\n",
		"ORDER", "SYMBOL", "SIDE", "QTY", "AVG PRICE", "SLIP BP", "LAT MS")
	for _, f := range fills {
		fmt.Printf("%-10s %-8s %-4s %10.2f %12.4f %8.2f %8.1f\n",
			f.OrderID, f.Symbol, f.Side, f.Qty, f.AvgPrice, f.SlippageBps, f.LatencyMs)
	}
	return nil
}
