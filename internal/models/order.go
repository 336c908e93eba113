// Package models provides the core data types and state management for the
// options spread engine.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	// SideBuy opens or extends a long exposure.
	SideBuy OrderSide = "BUY"
	// SideSell opens or extends a short exposure.
	SideSell OrderSide = "SELL"
)

// Opposite returns the closing side for this side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid returns true if the side is one of the defined constants.
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	// TypeMarket executes at the prevailing price; the order price may be zero.
	TypeMarket OrderType = "MARKET"
	// TypeLimit executes at the given price or better.
	TypeLimit OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	// StatusPending means the order has been created but not yet routed.
	StatusPending OrderStatus = "PENDING"
	// StatusPlaced means the broker accepted the order; the fill has not been
	// observed yet. Live orders stay PLACED until a confirmation arrives.
	StatusPlaced OrderStatus = "PLACED"
	// StatusFilled means the full quantity executed.
	StatusFilled OrderStatus = "FILLED"
	// StatusRejected means the order was refused and no quantity executed.
	StatusRejected OrderStatus = "REJECTED"
)

// Order is a single order in the ledger's order log.
type Order struct {
	ID            string          `json:"id"`
	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"type"`
	Status        OrderStatus     `json:"status"`
	RejectReason  string          `json:"reject_reason,omitempty"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	FilledQty     int64           `json:"filled_qty"`
	FillPrice     decimal.Decimal `json:"fill_price"`
	CreatedAt     time.Time       `json:"created_at"`
	FilledAt      time.Time       `json:"filled_at,omitempty"`
}

// Leg is one of the four option orders composing a strategy cycle.
type Leg struct {
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Quantity int64     `json:"quantity"`
	OrderID  string    `json:"order_id"`
}

// StrategyPosition represents the four legs currently held as one strategy
// unit. It exists only between a successful four-leg entry and a completed
// exit; a nil StrategyPosition means the engine is flat.
type StrategyPosition struct {
	ID         string    `json:"id"`
	EntryTime  time.Time `json:"entry_time"`
	EntrySpot  float64   `json:"entry_spot"`
	Expiry     time.Time `json:"expiry"`
	Legs       []Leg     `json:"legs"`
}

// LegSymbols returns the option symbols of all legs in entry order.
func (p *StrategyPosition) LegSymbols() []string {
	syms := make([]string, 0, len(p.Legs))
	for _, l := range p.Legs {
		syms = append(syms, l.Symbol)
	}
	return syms
}

// ControlState is the externally mutated pause/emergency signal. The engine
// only ever reads it; an external actor creates and clears it.
type ControlState struct {
	Paused    bool      `json:"paused"`
	Reason    string    `json:"reason,omitempty"`
	PausedAt  time.Time `json:"paused_at,omitempty"`
	Emergency bool      `json:"emergency"`
}

// Snapshot is a point-in-time, read-only view of the engine for external
// reporters. It is returned by value and shares no memory with the engine.
type Snapshot struct {
	State          string    `json:"state"`
	StateDetail    string    `json:"state_detail"`
	HasPosition    bool      `json:"has_position"`
	TrailingActive bool      `json:"trailing_active"`
	CombinedPnL    float64   `json:"combined_pnl"`
	TotalValue     float64   `json:"total_value"`
	PositionsCount int       `json:"positions_count"`
	LastUpdated    time.Time `json:"last_updated"`
}
