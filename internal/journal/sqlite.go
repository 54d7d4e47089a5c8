package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"tradesim/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Sink = (*SQLiteSink)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	kind     TEXT    NOT NULL,
	at_ms    INTEGER NOT NULL,
	order_id TEXT    NOT NULL DEFAULT '',
	symbol   TEXT    NOT NULL DEFAULT '',
	payload  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
CREATE INDEX IF NOT EXISTS idx_events_order ON events(order_id);
`

// SQLiteSink stores audit events in a SQLite database. The payload column
// holds the full event as JSON; kind, order id, and symbol are lifted into
// their own columns for querying.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Write appends one event. The switch over event variants is exhaustive; an
// unknown variant is a write error, never a silent drop.
func (s *SQLiteSink) Write(ev domain.Event) error {
	var orderID, symbol string
	switch e := ev.(type) {
	case domain.TradeIntent:
		symbol = e.Symbol
	case domain.PolicyCheck:
		symbol = e.Symbol
	case domain.GuardrailCheck:
		// No order or symbol context.
	case domain.TradeSubmit:
		orderID, symbol = e.Leg.ID, e.Leg.Symbol
	case domain.TradeFill:
		orderID, symbol = e.Fill.OrderID, e.Fill.Symbol
	case domain.PanicActivate:
	case domain.PanicComplete:
	case domain.QualityUpdate:
		orderID, symbol = e.OrderID, e.Symbol
	default:
		return fmt.Errorf("unhandled event variant %T", ev)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Kind(), err)
	}

	_, err = s.db.Exec(
		`INSERT INTO events (kind, at_ms, order_id, symbol, payload) VALUES (?, ?, ?, ?, ?)`,
		string(ev.Kind()), ev.At().UnixMilli(), orderID, symbol, string(payload),
	)
	if err != nil {
		return fmt.Errorf("inserting %s event: %w", ev.Kind(), err)
	}
	return nil
}

// Events reads back every stored event in append order.
func (s *SQLiteSink) Events() ([]domain.Event, error) {
	rows, err := s.db.Query(`SELECT kind, payload FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var kind, payload string
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ev, err := decodeEvent(domain.EventKind(kind), []byte(payload))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EventsSince reads events at or after the given time, in append order.
func (s *SQLiteSink) EventsSince(since time.Time) ([]domain.Event, error) {
	rows, err := s.db.Query(`SELECT kind, payload FROM events WHERE at_ms >= ? ORDER BY id`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var kind, payload string
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ev, err := decodeEvent(domain.EventKind(kind), []byte(payload))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func decodeEvent(kind domain.EventKind, payload []byte) (domain.Event, error) {
	var (
		ev  domain.Event
		err error
	)
	switch kind {
	case domain.EventTradeIntent:
		var e domain.TradeIntent
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventPolicyCheck:
		var e domain.PolicyCheck
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventGuardrailCheck:
		var e domain.GuardrailCheck
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventTradeSubmit:
		var e domain.TradeSubmit
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventTradeFill:
		var e domain.TradeFill
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventPanicActivate:
		var e domain.PanicActivate
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventPanicComplete:
		var e domain.PanicComplete
		err = json.Unmarshal(payload, &e)
		ev = e
	case domain.EventQualityUpdate:
		var e domain.QualityUpdate
		err = json.Unmarshal(payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event kind %q in journal", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", kind, err)
	}
	return ev, nil
}
