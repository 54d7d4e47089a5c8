package domain

import "time"

// EventKind tags an audit event variant.
type EventKind string

const (
	EventTradeIntent    EventKind = "trade_intent"
	EventPolicyCheck    EventKind = "policy_check"
	EventGuardrailCheck EventKind = "guardrail_check"
	EventTradeSubmit    EventKind = "trade_submit"
	EventTradeFill      EventKind = "trade_fill"
	EventPanicActivate  EventKind = "panic_activate"
	EventPanicComplete  EventKind = "panic_complete"
	EventQualityUpdate  EventKind = "quality_update"
)

// Event is the closed set of audit record variants. The journal boundary
// switches exhaustively over the concrete types; adding a variant without
// handling it there is a write error, not a silent drop.
type Event interface {
	Kind() EventKind
	At() time.Time
}

// TradeIntent records that a caller asked the engine to trade.
type TradeIntent struct {
	Symbol string    `json:"symbol"`
	Side   Side      `json:"side"`
	Qty    float64   `json:"qty"`
	Time   time.Time `json:"time"`
}

func (e TradeIntent) Kind() EventKind { return EventTradeIntent }
func (e TradeIntent) At() time.Time   { return e.Time }

// PolicyCheck records the verdict of a pre-trade policy evaluation.
type PolicyCheck struct {
	Symbol string            `json:"symbol"`
	Result PolicyCheckResult `json:"result"`
	Time   time.Time         `json:"time"`
}

func (e PolicyCheck) Kind() EventKind { return EventPolicyCheck }
func (e PolicyCheck) At() time.Time   { return e.Time }

// GuardrailCheck records the engine-level kill-switch / capacity verdict.
type GuardrailCheck struct {
	OK     bool      `json:"ok"`
	Reason string    `json:"reason,omitempty"`
	Time   time.Time `json:"time"`
}

func (e GuardrailCheck) Kind() EventKind { return EventGuardrailCheck }
func (e GuardrailCheck) At() time.Time   { return e.Time }

// TradeSubmit records an order leg handed to the execution venue. It carries
// the full leg snapshot so state can be reconstructed from the journal.
type TradeSubmit struct {
	Leg  OrderLeg  `json:"leg"`
	Time time.Time `json:"time"`
}

func (e TradeSubmit) Kind() EventKind { return EventTradeSubmit }
func (e TradeSubmit) At() time.Time   { return e.Time }

// TradeFill records an execution.
type TradeFill struct {
	Fill Fill      `json:"fill"`
	Time time.Time `json:"time"`
}

func (e TradeFill) Kind() EventKind { return EventTradeFill }
func (e TradeFill) At() time.Time   { return e.Time }

// PanicActivate records the start of an emergency stop.
type PanicActivate struct {
	Flatten bool      `json:"flatten"`
	Reason  string    `json:"reason,omitempty"`
	Time    time.Time `json:"time"`
}

func (e PanicActivate) Kind() EventKind { return EventPanicActivate }
func (e PanicActivate) At() time.Time   { return e.Time }

// PanicComplete records the outcome of an emergency stop.
type PanicComplete struct {
	CanceledOrders  int       `json:"canceled_orders"`
	FlattenedLegs   int       `json:"flattened_legs"`
	FlattenFailures int       `json:"flatten_failures"`
	Time            time.Time `json:"time"`
}

func (e PanicComplete) Kind() EventKind { return EventPanicComplete }
func (e PanicComplete) At() time.Time   { return e.Time }

// QualityUpdate records realized fill quality against the configured model.
type QualityUpdate struct {
	OrderID       string    `json:"order_id"`
	Symbol        string    `json:"symbol"`
	SlippageBps   float64   `json:"slippage_bps"`
	ConfiguredBps float64   `json:"configured_bps"`
	LatencyMs     float64   `json:"latency_ms"`
	Time          time.Time `json:"time"`
}

func (e QualityUpdate) Kind() EventKind { return EventQualityUpdate }
func (e QualityUpdate) At() time.Time   { return e.Time }
