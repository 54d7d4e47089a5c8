// Package domain defines the core types for the trading engine: order legs,
// brackets, positions, fills, policy results, and the audit event variants.
package domain

import "time"

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for buy and -1 for sell.
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// OrderType identifies how an order leg executes.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// ValidOrderType reports whether t is a known order type.
func ValidOrderType(t OrderType) bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit, OrderTypeTrailingStop:
		return true
	}
	return false
}

// TimeInForce governs how long an order remains eligible for execution.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
	TIFGTD TimeInForce = "gtd"
)

// OrderStatus is the lifecycle state of an order leg.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusSubmitted       OrderStatus = "submitted"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// IsTerminal reports whether no further transitions are permitted.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// ValidTransitions enumerates the permitted lifecycle transitions. Terminal
// states have no outgoing edges.
var ValidTransitions = map[OrderStatus][]OrderStatus{
	StatusPending: {
		StatusSubmitted, StatusCanceled, StatusRejected, StatusExpired,
	},
	StatusSubmitted: {
		StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected, StatusExpired,
	},
	StatusPartiallyFilled: {
		StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusExpired,
	},
}

// CanTransition reports whether the transition from → to is legal.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Orders and brackets
// ---------------------------------------------------------------------------

// OrderLeg is a single order within a bracket or OCO group. Quantity is a
// positive magnitude; direction is carried by Side.
type OrderLeg struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	Qty          float64     `json:"qty"`
	Type         OrderType   `json:"type"`
	LimitPrice   float64     `json:"limit_price,omitempty"`
	StopPrice    float64     `json:"stop_price,omitempty"`
	TrailAmount  float64     `json:"trail_amount,omitempty"`
	TrailPercent float64     `json:"trail_percent,omitempty"`
	TIF          TimeInForce `json:"tif"`
	Status       OrderStatus `json:"status"`
	FilledQty    float64     `json:"filled_qty"`
	AvgFillPrice float64     `json:"avg_fill_price,omitempty"`
	Commission   float64     `json:"commission"`
	ParentID     string      `json:"parent_id,omitempty"`
	ChildIDs     []string    `json:"child_ids,omitempty"`
	OCOGroup     string      `json:"oco_group,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	ExpiresAt    time.Time   `json:"expires_at,omitempty"`
}

// Remaining returns the unfilled quantity.
func (o *OrderLeg) Remaining() float64 {
	return o.Qty - o.FilledQty
}

// BracketOrder groups an entry leg with its protective children. StopLoss and
// TakeProfit, when both present, share one OCO group and list the parent as
// their ParentID.
type BracketOrder struct {
	BracketID  string    `json:"bracket_id"`
	Parent     *OrderLeg `json:"parent"`
	StopLoss   *OrderLeg `json:"stop_loss,omitempty"`
	TakeProfit *OrderLeg `json:"take_profit,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Legs returns the non-nil legs of the bracket, parent first.
func (b *BracketOrder) Legs() []*OrderLeg {
	legs := []*OrderLeg{b.Parent}
	if b.StopLoss != nil {
		legs = append(legs, b.StopLoss)
	}
	if b.TakeProfit != nil {
		legs = append(legs, b.TakeProfit)
	}
	return legs
}

// ---------------------------------------------------------------------------
// Positions and fills
// ---------------------------------------------------------------------------

// Position tracks per-symbol exposure. Qty is signed: positive long, negative
// short. A position is never deleted; flat positions keep Qty == 0.
type Position struct {
	Symbol        string    `json:"symbol"`
	Qty           float64   `json:"qty"`
	AvgPrice      float64   `json:"avg_price"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	MarketPrice   float64   `json:"market_price"`
	Fees          float64   `json:"fees"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Fill is the immutable record of a simulated execution.
type Fill struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Qty         float64   `json:"qty"`
	AvgPrice    float64   `json:"avg_price"`
	Fees        float64   `json:"fees"`
	SlippageBps float64   `json:"slippage_bps"`
	LatencyMs   float64   `json:"latency_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// ---------------------------------------------------------------------------
// Policy results
// ---------------------------------------------------------------------------

// CheckDetail is the outcome of a single policy subcheck.
type CheckDetail struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// PolicyCheckResult is the immutable verdict of one policy evaluation.
// Violations carries the codes of every failed subcheck; Meta holds the
// per-subcheck detail keyed by subcheck name.
type PolicyCheckResult struct {
	OK         bool                   `json:"ok"`
	Reason     string                 `json:"reason"`
	Violations []string               `json:"violations,omitempty"`
	Meta       map[string]CheckDetail `json:"meta,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// PerformanceSummary aggregates PnL across every symbol in the ledger.
type PerformanceSummary struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalFees     float64 `json:"total_fees"`
	NetPnL        float64 `json:"net_pnl"`
	OpenPositions int     `json:"open_positions"`
}
