// Package ledger tracks cash, positions, and orders with exact money
// arithmetic. In paper mode it simulates immediate fills; in live mode it
// forwards orders to the broker API and keeps only the order record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantjunkie/niftywing/internal/broker"
	"github.com/quantjunkie/niftywing/internal/models"
)

// Mode selects simulated or forwarded execution.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

var (
	// ErrInvalidOrder is returned for a non-positive quantity or a
	// non-positive price on a limit order.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInsufficientFunds is returned when a paper BUY exceeds cash.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoPosition is returned when closing a symbol with no position.
	ErrNoPosition = errors.New("no position for symbol")
)

// tickSize is the minimum price increment for option premiums.
var tickSize = decimal.NewFromFloat(0.05)

// Position is a per-symbol holding. Quantity is signed: positive long,
// negative short.
type Position struct {
	Symbol        string
	Quantity      int64
	AvgPrice      decimal.Decimal
	Mark          decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	OpenedAt      time.Time
}

// Ledger is the account book. All mutation goes through PlaceOrder and
// SetMark; reads return copies.
type Ledger struct {
	mu         sync.RWMutex
	mode       Mode
	cash       decimal.Decimal
	totalValue decimal.Decimal
	realized   decimal.Decimal
	positions  map[string]*Position
	orders     map[string]*models.Order
	orderAPI   broker.OrderAPI
	logger     *log.Logger
}

// New creates a paper ledger with the given starting cash.
func New(startingCash float64, logger *log.Logger) *Ledger {
	cash := decimal.NewFromFloat(startingCash)
	return &Ledger{
		mode:       ModePaper,
		cash:       cash,
		totalValue: cash,
		positions:  make(map[string]*Position),
		orders:     make(map[string]*models.Order),
		logger:     logger,
	}
}

// NewLive creates a live ledger that forwards orders to the broker API.
func NewLive(orderAPI broker.OrderAPI, logger *log.Logger) *Ledger {
	l := New(0, logger)
	l.mode = ModeLive
	l.orderAPI = orderAPI
	return l
}

// Mode returns the execution mode.
func (l *Ledger) Mode() Mode {
	return l.mode
}

// PlaceOrder validates and executes an order. Paper orders fill immediately;
// live orders are forwarded and left in PLACED. Returns the order ID.
func (l *Ledger) PlaceOrder(
	ctx context.Context,
	symbol string,
	side models.OrderSide,
	quantity int64,
	price decimal.Decimal,
	orderType models.OrderType,
) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be > 0, got %d", ErrInvalidOrder, quantity)
	}
	if !side.Valid() {
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, side)
	}
	// Market orders carry price 0 and fill at the mark.
	if orderType == models.TypeLimit && price.Sign() <= 0 {
		return "", fmt.Errorf("%w: limit order needs a positive price", ErrInvalidOrder)
	}
	if price.Sign() < 0 {
		return "", fmt.Errorf("%w: negative price", ErrInvalidOrder)
	}

	order := &models.Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Type:      orderType,
		Status:    models.StatusPending,
		Quantity:  quantity,
		Price:     price,
		CreatedAt: time.Now(),
	}

	if l.mode == ModeLive {
		return l.placeLive(ctx, order)
	}
	return l.placePaper(order)
}

// placePaper fills the order immediately against the stored mark.
func (l *Ledger) placePaper(order *models.Order) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fillPrice := order.Price
	if order.Type == models.TypeMarket && fillPrice.Sign() == 0 {
		pos, ok := l.positions[order.Symbol]
		if !ok || pos.Mark.Sign() <= 0 {
			order.Status = models.StatusRejected
			order.RejectReason = "no mark price for market order"
			l.orders[order.ID] = order
			return "", fmt.Errorf("%w: no mark price for %s", ErrInvalidOrder, order.Symbol)
		}
		fillPrice = pos.Mark
	}
	fillPrice = roundToTick(fillPrice)

	if order.Side == models.SideBuy {
		cost := fillPrice.Mul(decimal.NewFromInt(order.Quantity))
		if cost.GreaterThan(l.cash) {
			order.Status = models.StatusRejected
			order.RejectReason = "insufficient funds"
			l.orders[order.ID] = order
			l.logger.Printf("Order rejected: insufficient funds for %s %d %s at %s (cash %s)",
				order.Side, order.Quantity, order.Symbol, fillPrice, l.cash)
			return "", fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost, l.cash)
		}
	}

	now := time.Now()
	order.Status = models.StatusFilled
	order.FilledQty = order.Quantity
	order.FillPrice = fillPrice
	order.FilledAt = now
	l.orders[order.ID] = order

	l.applyFill(order.Symbol, order.Side, order.Quantity, fillPrice, now)

	l.logger.Printf("Paper order filled: %s %d %s at %s", order.Side, order.Quantity, order.Symbol, fillPrice)
	return order.ID, nil
}

// placeLive forwards the order to the broker. Accounting stops at PLACED:
// fills happen in the broker's book, not this one.
func (l *Ledger) placeLive(ctx context.Context, order *models.Order) (string, error) {
	side := "B"
	if order.Side == models.SideSell {
		side = "S"
	}
	orderType := "MKT"
	if order.Type == models.TypeLimit {
		orderType = "LMT"
	}

	price, _ := order.Price.Float64()
	brokerID, err := l.orderAPI.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:    order.Symbol,
		Side:      side,
		Quantity:  order.Quantity,
		Price:     price,
		OrderType: orderType,
	})

	l.mu.Lock()
	defer l.mu.Unlock()

	if err != nil {
		order.Status = models.StatusRejected
		order.RejectReason = err.Error()
		l.orders[order.ID] = order
		return "", fmt.Errorf("placing live order for %s: %w", order.Symbol, err)
	}

	order.Status = models.StatusPlaced
	order.BrokerOrderID = brokerID
	l.orders[order.ID] = order

	l.logger.Printf("Live order placed: %s %d %s -> broker order %s", order.Side, order.Quantity, order.Symbol, brokerID)
	return order.ID, nil
}

// applyFill folds a fill into the position book. Caller holds l.mu.
//
// Same-direction fills extend the position at the weighted-average price.
// Opposite fills first reduce, realizing quantity * (fill - avg) signed by
// direction; a fill past zero closes the old position and opens the remainder
// at the fill price.
func (l *Ledger) applyFill(symbol string, side models.OrderSide, quantity int64, fillPrice decimal.Decimal, at time.Time) {
	signed := quantity
	if side == models.SideSell {
		signed = -quantity
	}

	value := fillPrice.Mul(decimal.NewFromInt(quantity))
	if side == models.SideBuy {
		l.cash = l.cash.Sub(value)
	} else {
		l.cash = l.cash.Add(value)
	}

	pos, ok := l.positions[symbol]
	if !ok {
		l.positions[symbol] = &Position{
			Symbol:   symbol,
			Quantity: signed,
			AvgPrice: fillPrice,
			Mark:     fillPrice,
			OpenedAt: at,
		}
		return
	}

	switch {
	case sameSign(pos.Quantity, signed):
		// Extend: weighted average entry price.
		oldQty := decimal.NewFromInt(abs(pos.Quantity))
		addQty := decimal.NewFromInt(quantity)
		totalCost := pos.AvgPrice.Mul(oldQty).Add(fillPrice.Mul(addQty))
		pos.Quantity += signed
		pos.AvgPrice = totalCost.Div(oldQty.Add(addQty))

	case abs(signed) <= abs(pos.Quantity):
		// Reduce (or close exactly): realize on the covered quantity.
		covered := decimal.NewFromInt(abs(signed))
		realized := realizedDelta(pos.Quantity, pos.AvgPrice, fillPrice, covered)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		l.realized = l.realized.Add(realized)
		pos.Quantity += signed
		if pos.Quantity == 0 {
			delete(l.positions, symbol)
		}

	default:
		// Flip: close the whole old position, open the remainder fresh.
		covered := decimal.NewFromInt(abs(pos.Quantity))
		realized := realizedDelta(pos.Quantity, pos.AvgPrice, fillPrice, covered)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		l.realized = l.realized.Add(realized)

		remainder := signed + pos.Quantity
		pos.Quantity = remainder
		pos.AvgPrice = fillPrice
		pos.Mark = fillPrice
		pos.OpenedAt = at
	}
}

// realizedDelta is the realized P&L from covering `covered` units of a
// position at fillPrice. Long positions realize fill-avg, shorts avg-fill.
func realizedDelta(posQty int64, avgPrice, fillPrice, covered decimal.Decimal) decimal.Decimal {
	if posQty > 0 {
		return fillPrice.Sub(avgPrice).Mul(covered)
	}
	return avgPrice.Sub(fillPrice).Mul(covered)
}

// SetMark updates a symbol's mark price. Unknown symbols are ignored.
func (l *Ledger) SetMark(symbol string, mark decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok && mark.Sign() > 0 {
		pos.Mark = mark
	}
}

// EnsureMark stores a mark for a symbol so a market order can fill against
// it before any position exists.
func (l *Ledger) EnsureMark(symbol string, mark decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mark.Sign() <= 0 {
		return
	}
	if pos, ok := l.positions[symbol]; ok {
		pos.Mark = mark
		return
	}
	l.positions[symbol] = &Position{Symbol: symbol, Mark: mark}
}

// Update recomputes unrealized P&L from stored marks and refreshes the total
// account value.
func (l *Ledger) Update() {
	l.mu.Lock()
	defer l.mu.Unlock()

	totalUnrealized := decimal.Zero
	positionsValue := decimal.Zero
	for _, pos := range l.positions {
		if pos.Quantity == 0 {
			continue
		}
		qty := decimal.NewFromInt(abs(pos.Quantity))
		if pos.Quantity > 0 {
			pos.UnrealizedPnL = pos.Mark.Sub(pos.AvgPrice).Mul(qty)
		} else {
			pos.UnrealizedPnL = pos.AvgPrice.Sub(pos.Mark).Mul(qty)
		}
		totalUnrealized = totalUnrealized.Add(pos.UnrealizedPnL)
		positionsValue = positionsValue.Add(pos.Mark.Mul(qty))
	}
	l.totalValue = l.cash.Add(positionsValue).Add(totalUnrealized)
}

// CombinedPnL returns the sum of unrealized and realized P&L across the given
// symbols. Call Update first to refresh unrealized values.
func (l *Ledger) CombinedPnL(symbols []string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, symbol := range symbols {
		if pos, ok := l.positions[symbol]; ok {
			total = total.Add(pos.UnrealizedPnL).Add(pos.RealizedPnL)
		}
	}
	return total
}

// GetPosition returns a copy of the position for a symbol.
func (l *Ledger) GetPosition(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok || pos.Quantity == 0 {
		return Position{}, false
	}
	return *pos, true
}

// OpenPositions returns copies of all positions with non-zero quantity.
func (l *Ledger) OpenPositions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		if pos.Quantity != 0 {
			out = append(out, *pos)
		}
	}
	return out
}

// GetOrder returns a copy of an order by ID.
func (l *Ledger) GetOrder(id string) (models.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	order, ok := l.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *order, true
}

// ClosePosition closes the full position in a symbol with an opposite-side
// market order.
func (l *Ledger) ClosePosition(ctx context.Context, symbol string) error {
	l.mu.RLock()
	pos, ok := l.positions[symbol]
	var quantity int64
	var side models.OrderSide
	if ok && pos.Quantity != 0 {
		quantity = abs(pos.Quantity)
		side = models.SideSell
		if pos.Quantity < 0 {
			side = models.SideBuy
		}
	}
	l.mu.RUnlock()

	if quantity == 0 {
		return fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	_, err := l.PlaceOrder(ctx, symbol, side, quantity, decimal.Zero, models.TypeMarket)
	return err
}

// CloseAll closes every open position. It keeps going on per-symbol errors
// and returns the first one.
func (l *Ledger) CloseAll(ctx context.Context) error {
	var firstErr error
	for _, pos := range l.OpenPositions() {
		if err := l.ClosePosition(ctx, pos.Symbol); err != nil {
			l.logger.Printf("Failed to close %s: %v", pos.Symbol, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// TotalValue returns the account value as of the last Update.
func (l *Ledger) TotalValue() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalValue
}

// RealizedPnL returns the cumulative realized P&L.
func (l *Ledger) RealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}

// roundToTick rounds a price to the nearest tick.
func roundToTick(price decimal.Decimal) decimal.Decimal {
	return price.Div(tickSize).Round(0).Mul(tickSize)
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
