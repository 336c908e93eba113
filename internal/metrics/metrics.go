// Package metrics exposes Prometheus instrumentation for the trading engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors, registered on a dedicated
// registry so tests can run in isolation.
type Metrics struct {
	Registry *prometheus.Registry

	Ticks          prometheus.Counter
	OrdersPlaced   prometheus.Counter
	OrdersRejected prometheus.Counter
	StopExits      prometheus.Counter
	ForcedExits    prometheus.Counter

	CombinedPnL prometheus.Gauge
	EngineState *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "niftywing_ticks_total",
			Help: "Engine ticks processed.",
		}),
		OrdersPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "niftywing_orders_placed_total",
			Help: "Orders accepted or filled.",
		}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "niftywing_orders_rejected_total",
			Help: "Orders rejected by the ledger or broker.",
		}),
		StopExits: factory.NewCounter(prometheus.CounterOpts{
			Name: "niftywing_stop_exits_total",
			Help: "Cycles closed by the trailing stop.",
		}),
		ForcedExits: factory.NewCounter(prometheus.CounterOpts{
			Name: "niftywing_forced_exits_total",
			Help: "Cycles closed by the expiry-day forced exit.",
		}),
		CombinedPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "niftywing_combined_pnl",
			Help: "Combined P&L of the active cycle's legs.",
		}),
		EngineState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "niftywing_engine_state",
			Help: "Current engine state (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
	}
}

// SetState marks one state active and all others inactive.
func (m *Metrics) SetState(current string, all []string) {
	for _, state := range all {
		value := 0.0
		if state == current {
			value = 1.0
		}
		m.EngineState.WithLabelValues(state).Set(value)
	}
}
