// Package metrics exposes the engine's Prometheus instrumentation. Metrics
// are package-level and registered on the default registry via promauto;
// the HTTP layer serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ---------------------------------------------------------------------------
// Policy
// ---------------------------------------------------------------------------

// PolicyChecks counts pre-trade evaluations by outcome ("pass" / "reject").
var PolicyChecks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradesim",
		Subsystem: "policy",
		Name:      "checks_total",
		Help:      "Pre-trade policy evaluations by outcome",
	},
	[]string{"outcome"},
)

// PolicyViolations counts failed subchecks by violation code.
var PolicyViolations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradesim",
		Subsystem: "policy",
		Name:      "violations_total",
		Help:      "Failed policy subchecks by violation code",
	},
	[]string{"code"},
)

// ---------------------------------------------------------------------------
// Orders and fills
// ---------------------------------------------------------------------------

// OrdersSubmitted counts legs handed to the execution venue.
var OrdersSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradesim",
		Subsystem: "orders",
		Name:      "submitted_total",
		Help:      "Order legs submitted for execution",
	},
	[]string{"symbol", "side"},
)

// OrdersCanceled counts successful cancellations.
var OrdersCanceled = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradesim",
		Subsystem: "orders",
		Name:      "canceled_total",
		Help:      "Order legs canceled",
	},
)

// OpenOrders tracks currently non-terminal legs.
var OpenOrders = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradesim",
		Subsystem: "orders",
		Name:      "open",
		Help:      "Non-terminal order legs",
	},
)

// Fills counts executions.
var Fills = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradesim",
		Subsystem: "fills",
		Name:      "total",
		Help:      "Executions by symbol and side",
	},
	[]string{"symbol", "side"},
)

// FillLatency observes simulated venue latency per fill.
var FillLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tradesim",
		Subsystem: "fills",
		Name:      "latency_ms",
		Help:      "Simulated execution latency in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 150, 250, 500, 1000},
	},
)

// FillSlippage observes realized slippage per fill.
var FillSlippage = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tradesim",
		Subsystem: "fills",
		Name:      "slippage_bps",
		Help:      "Realized slippage in basis points",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 50},
	},
)

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// PanicStops counts emergency-stop activations.
var PanicStops = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tradesim",
		Subsystem: "engine",
		Name:      "panic_stops_total",
		Help:      "Emergency stop activations",
	},
)

// JournalDropped tracks events dropped by the bounded journal queue.
var JournalDropped = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradesim",
		Subsystem: "journal",
		Name:      "dropped_total",
		Help:      "Audit events dropped due to a full journal queue",
	},
)
