// Package engine runs the intraday option spread strategy: one four-leg OTM
// spread at a time, a trailing stop on the combined P&L, an expiry-day forced
// exit, and a re-entry cooldown after stop exits.
package engine

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
	"github.com/quantjunkie/niftywing/internal/config"
	"github.com/quantjunkie/niftywing/internal/controls"
	"github.com/quantjunkie/niftywing/internal/ledger"
	"github.com/quantjunkie/niftywing/internal/metrics"
	"github.com/quantjunkie/niftywing/internal/models"
	"github.com/quantjunkie/niftywing/internal/storage"
	"github.com/quantjunkie/niftywing/internal/strikes"
	"github.com/quantjunkie/niftywing/internal/trailing"
)

// Exit reasons recorded on closed cycles.
const (
	ReasonTrailingStop = "trailing_stop"
	ReasonForcedExit   = "forced_exit"
	ReasonManual       = "manual"
	ReasonShutdown     = "shutdown"
)

// Engine drives one strategy cycle at a time. It is the sole writer of the
// strategy position, the trailing controller, and the cooldown clock; all
// mutation happens under mu inside Tick and CloseAll.
type Engine struct {
	cfg    *config.Config
	calc   *strikes.Calculator
	book   *ledger.Ledger
	market broker.MarketData
	gate   controls.Source
	store  *storage.Storage
	trail  *trailing.Controller
	sm     *models.StateMachine
	stats  *metrics.Metrics
	logger *log.Logger

	mu              sync.Mutex
	pos             *models.StrategyPosition
	cooldownUntil   time.Time
	entryRealized   decimal.Decimal
	pendingReason   string
	pendingCooldown bool
	closedLegs      map[string]bool
	lastPnL         float64
	lastUpdated     time.Time
}

// New wires an engine from its collaborators.
func New(
	cfg *config.Config,
	book *ledger.Ledger,
	market broker.MarketData,
	gate controls.Source,
	store *storage.Storage,
	stats *metrics.Metrics,
	logger *log.Logger,
) *Engine {
	cutH, cutM := cfg.EODCutoffClock()
	calc := &strikes.Calculator{
		ExchangePrefix: cfg.Strategy.ExchangePrefix,
		Underlying:     cfg.Strategy.Underlying,
		Increment:      cfg.Strategy.StrikeIncrement,
		OTMLevels:      []int{cfg.Strategy.NearLevel, cfg.Strategy.FarLevel},
		ExpiryWeekday:  cfg.ExpiryWeekday(),
		EODCutoffHour:  cutH,
		EODCutoffMin:   cutM,
	}
	return &Engine{
		cfg:    cfg,
		calc:   calc,
		book:   book,
		market: market,
		gate:   gate,
		store:  store,
		trail:  trailing.New(cfg.Risk.TrailingActivation, cfg.Risk.TrailingBuffer),
		sm:     models.NewStateMachine(),
		stats:  stats,
		logger: logger,
	}
}

// Tick runs one strategy cycle step. Errors mean the tick did not complete;
// the caller logs them and keeps ticking.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now = now.In(e.cfg.Location())
	e.stats.Ticks.Inc()
	defer func() {
		e.lastUpdated = now
		e.stats.SetState(string(e.sm.Current()), stateNames())
	}()

	gate, err := e.gate.Poll(ctx)
	if err != nil {
		return fmt.Errorf("polling control gate: %w", err)
	}
	if gate.Paused {
		return nil
	}

	if !e.cfg.IsWithinTradingHours(now) {
		return nil
	}

	switch e.sm.Current() {
	case models.StateClosing:
		// A previous close attempt left legs open. Keep closing.
		return e.completeClose(ctx, now)

	case models.StateActive:
		if e.forcedExitDue(now) {
			e.logger.Printf("Forced exit: expiry day cutoff reached for cycle %s", e.pos.ID)
			e.stats.ForcedExits.Inc()
			if err := e.sm.Transition(models.StateClosing, models.ConditionForcedExit); err != nil {
				return err
			}
			e.beginClose(ReasonForcedExit, false)
			return e.completeClose(ctx, now)
		}
		return e.monitor(ctx, now)

	case models.StateCooldown:
		if !now.Before(e.cooldownUntil) {
			return e.sm.Transition(models.StateIdle, models.ConditionCooldownElapsed)
		}
		return nil

	case models.StateIdle:
		if gate.Emergency {
			return nil
		}
		return e.enter(ctx, now)
	}
	return nil
}

// forcedExitDue reports whether the active cycle has reached the forced exit
// cutoff on its own expiry date.
func (e *Engine) forcedExitDue(now time.Time) bool {
	if e.pos == nil {
		return false
	}
	expiry := e.pos.Expiry
	if now.Year() != expiry.Year() || now.YearDay() != expiry.YearDay() {
		return false
	}
	h, m := e.cfg.ForcedExitClock()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	return !now.Before(cutoff)
}

// enter builds and places the four legs. Any failure abandons the cycle:
// legs already filled in this attempt stay on the broker's book untracked.
func (e *Engine) enter(ctx context.Context, now time.Time) error {
	spotData, err := e.market.GetSymbolData(ctx, e.spotSymbol())
	if errors.Is(err, broker.ErrNoData) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching spot price: %w", err)
	}
	spot := spotData.LastPrice

	legs := e.calc.StrategyLegs(now, spot, e.cfg.Strategy.LotSize)
	if err := e.sm.Transition(models.StateEntering, models.ConditionEntryStarted); err != nil {
		return err
	}

	placed := make([]models.Leg, 0, len(legs))
	for _, spec := range legs {
		quote, err := e.market.GetSymbolData(ctx, spec.Symbol)
		if err != nil {
			e.abandonEntry(spec.Symbol, len(placed), err)
			return nil
		}
		e.book.EnsureMark(spec.Symbol, decimal.NewFromFloat(quote.LastPrice))

		orderID, err := e.book.PlaceOrder(ctx, spec.Symbol, spec.Side, spec.Quantity, decimal.Zero, models.TypeMarket)
		if err != nil {
			e.stats.OrdersRejected.Inc()
			e.abandonEntry(spec.Symbol, len(placed), err)
			return nil
		}
		e.stats.OrdersPlaced.Inc()
		placed = append(placed, models.Leg{
			Symbol:   spec.Symbol,
			Side:     spec.Side,
			Quantity: spec.Quantity,
			OrderID:  orderID,
		})
	}

	e.pos = &models.StrategyPosition{
		ID:        uuid.NewString(),
		EntryTime: now,
		EntrySpot: spot,
		Expiry:    e.calc.NextWeeklyExpiry(now),
		Legs:      placed,
	}
	e.entryRealized = e.book.RealizedPnL()
	e.trail.Reset()
	e.lastPnL = 0

	e.logger.Printf("Entered cycle %s at spot %.2f: %s", e.pos.ID, spot, legSummary(placed))
	return e.sm.Transition(models.StateActive, models.ConditionLegsFilled)
}

// abandonEntry drops the partially entered cycle back to idle. Filled legs
// from the failed attempt are not tracked or unwound.
func (e *Engine) abandonEntry(failedSymbol string, filledLegs int, cause error) {
	e.logger.Printf("Entry abandoned at %s with %d legs already filled: %v", failedSymbol, filledLegs, cause)
	if err := e.sm.Transition(models.StateIdle, models.ConditionLegFailed); err != nil {
		e.logger.Printf("State error while abandoning entry: %v", err)
	}
}

// monitor refreshes leg marks, recomputes the combined P&L, and feeds the
// trailing stop. A quote gap skips the rest of the tick: no P&L update, no
// stop decision. Marks refreshed before the gap are deliberately kept; they
// carry current prices and the next complete tick overwrites them anyway.
func (e *Engine) monitor(ctx context.Context, now time.Time) error {
	for _, sym := range e.pos.LegSymbols() {
		quote, err := e.market.GetSymbolData(ctx, sym)
		if errors.Is(err, broker.ErrNoData) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("refreshing mark for %s: %w", sym, err)
		}
		e.book.SetMark(sym, decimal.NewFromFloat(quote.LastPrice))
	}

	e.book.Update()
	pnl := e.book.CombinedPnL(e.pos.LegSymbols()).InexactFloat64()
	e.lastPnL = pnl
	e.stats.CombinedPnL.Set(pnl)

	if e.trail.Observe(pnl) {
		e.logger.Printf("Trailing stop breached at combined P&L %.2f, closing cycle %s", pnl, e.pos.ID)
		e.stats.StopExits.Inc()
		if err := e.sm.Transition(models.StateClosing, models.ConditionStopBreached); err != nil {
			return err
		}
		e.beginClose(ReasonTrailingStop, true)
		return e.completeClose(ctx, now)
	}
	return nil
}

// beginClose records why the cycle is closing and whether a cooldown follows.
func (e *Engine) beginClose(reason string, cooldown bool) {
	e.pendingReason = reason
	e.pendingCooldown = cooldown
	e.closedLegs = make(map[string]bool, len(e.pos.Legs))
}

// completeClose places the remaining opposite-side orders, records the trade,
// and leaves Closing. On a partial failure the engine stays in Closing and
// the next tick retries only the open legs.
func (e *Engine) completeClose(ctx context.Context, now time.Time) error {
	var firstErr error
	for _, leg := range e.pos.Legs {
		if e.closedLegs[leg.Symbol] {
			continue
		}

		// Best-effort mark refresh so paper fills use a current price.
		if quote, err := e.market.GetSymbolData(ctx, leg.Symbol); err == nil {
			e.book.SetMark(leg.Symbol, decimal.NewFromFloat(quote.LastPrice))
		}

		_, err := e.book.PlaceOrder(ctx, leg.Symbol, leg.Side.Opposite(), leg.Quantity, decimal.Zero, models.TypeMarket)
		if err != nil {
			e.logger.Printf("Failed to close leg %s: %v", leg.Symbol, err)
			e.stats.OrdersRejected.Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.stats.OrdersPlaced.Inc()
		e.closedLegs[leg.Symbol] = true
	}
	if firstErr != nil {
		return firstErr
	}

	e.book.Update()
	pnl := e.book.RealizedPnL().Sub(e.entryRealized).InexactFloat64()

	trade := storage.TradeRecord{
		ID:        e.pos.ID,
		EntryTime: e.pos.EntryTime,
		ExitTime:  now,
		Reason:    e.pendingReason,
		EntrySpot: e.pos.EntrySpot,
		PnL:       pnl,
		Legs:      e.pos.Legs,
	}
	if err := e.store.RecordTrade(trade); err != nil {
		e.logger.Printf("Failed to record closed trade %s: %v", e.pos.ID, err)
	}
	e.logger.Printf("Closed cycle %s (%s) with P&L %.2f", e.pos.ID, e.pendingReason, pnl)

	e.pos = nil
	e.closedLegs = nil
	e.trail.Reset()
	e.lastPnL = 0
	e.stats.CombinedPnL.Set(0)

	if e.pendingCooldown {
		e.cooldownUntil = now.Add(e.cfg.CooldownDuration())
		return e.sm.Transition(models.StateCooldown, models.ConditionStopExitDone)
	}
	return e.sm.Transition(models.StateIdle, models.ConditionExitDone)
}

// CloseAll closes the active cycle outside the normal tick flow, for operator
// shutdown. It is a no-op when flat.
func (e *Engine) CloseAll(ctx context.Context, now time.Time, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pos == nil {
		return nil
	}
	now = now.In(e.cfg.Location())

	if e.sm.Current() == models.StateActive {
		if err := e.sm.Transition(models.StateClosing, models.ConditionManualClose); err != nil {
			return err
		}
		e.beginClose(reason, false)
	}
	if e.sm.Current() != models.StateClosing {
		return fmt.Errorf("cannot close from state %s", e.sm.Current())
	}
	return e.completeClose(ctx, now)
}

// Snapshot returns a point-in-time view of the engine for external readers.
func (e *Engine) Snapshot() models.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return models.Snapshot{
		State:          string(e.sm.Current()),
		StateDetail:    e.sm.Describe(),
		HasPosition:    e.pos != nil,
		TrailingActive: e.trail.Active(),
		CombinedPnL:    e.lastPnL,
		TotalValue:     e.book.TotalValue().InexactFloat64(),
		PositionsCount: len(e.book.OpenPositions()),
		LastUpdated:    e.lastUpdated,
	}
}

// State returns the current engine state.
func (e *Engine) State() models.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sm.Current()
}

// spotSymbol is the index quote symbol, e.g. "NSE:NIFTY".
func (e *Engine) spotSymbol() string {
	return e.cfg.Strategy.ExchangePrefix + e.cfg.Strategy.Underlying
}

func stateNames() []string {
	names := make([]string, 0, len(models.AllStates))
	for _, s := range models.AllStates {
		names = append(names, string(s))
	}
	return names
}

func legSummary(legs []models.Leg) string {
	summary := ""
	for i, leg := range legs {
		if i > 0 {
			summary += ", "
		}
		summary += fmt.Sprintf("%s %d %s", leg.Side, leg.Quantity, leg.Symbol)
	}
	return summary
}
