// Package strikes maps an index price onto option strikes and tradeable
// option symbols for the current weekly expiry. Everything here is pure:
// callers pass the clock in and no I/O happens.
package strikes

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/quantjunkie/niftywing/internal/models"
)

// OptionClass is the option type suffix used in exchange symbols.
type OptionClass string

const (
	// Call option.
	ClassCE OptionClass = "CE"
	// Put option.
	ClassPE OptionClass = "PE"
)

// StrikePair holds the call and put strikes for one OTM level.
type StrikePair struct {
	Level int
	CE    int
	PE    int
}

// LegSpec describes one leg of the spread before any order exists for it.
type LegSpec struct {
	Symbol   string
	Strike   int
	Class    OptionClass
	Side     models.OrderSide
	Quantity int64
}

// Calculator computes strikes and option symbols for a single underlying.
type Calculator struct {
	ExchangePrefix string       // e.g. "NSE:"
	Underlying     string       // e.g. "NIFTY"
	Increment      int          // strike increment, e.g. 50
	OTMLevels      []int        // e.g. {3, 5}
	ExpiryWeekday  time.Weekday // weekly expiry day, e.g. Thursday
	EODCutoffHour  int          // exchange end-of-day hour for expiry roll
	EODCutoffMin   int
}

// ATMStrike rounds the index price to the nearest strike increment.
// The price must be positive; that is the caller's contract.
func ATMStrike(price float64, increment int) int {
	return int(math.Round(price/float64(increment))) * increment
}

// Strikes returns the CE/PE strikes for each configured OTM level, sorted by
// level ascending.
func (c *Calculator) Strikes(price float64) []StrikePair {
	atm := ATMStrike(price, c.Increment)
	pairs := make([]StrikePair, 0, len(c.OTMLevels))
	for _, lvl := range c.OTMLevels {
		pairs = append(pairs, StrikePair{
			Level: lvl,
			CE:    atm + lvl*c.Increment,
			PE:    atm - lvl*c.Increment,
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Level < pairs[j].Level })
	return pairs
}

// NextWeeklyExpiry returns the next occurrence of the expiry weekday. If now
// already falls on that weekday and the wall clock is at or past the
// end-of-day cutoff, the following week's occurrence is returned instead.
func (c *Calculator) NextWeeklyExpiry(now time.Time) time.Time {
	daysAhead := (int(c.ExpiryWeekday) - int(now.Weekday()) + 7) % 7
	if daysAhead == 0 {
		cutoff := time.Date(now.Year(), now.Month(), now.Day(),
			c.EODCutoffHour, c.EODCutoffMin, 0, 0, now.Location())
		if !now.Before(cutoff) {
			daysAhead = 7
		}
	}
	d := now.AddDate(0, 0, daysAhead)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, now.Location())
}

// OptionSymbol formats the exchange symbol for a strike and option class,
// e.g. "NSE:NIFTY04SEP2519650CE".
func (c *Calculator) OptionSymbol(expiry time.Time, strike int, class OptionClass) string {
	return fmt.Sprintf("%s%s%s%d%s",
		c.ExchangePrefix, c.Underlying,
		strings.ToUpper(expiry.Format("02Jan06")),
		strike, class)
}

// StrategyLegs builds the four legs of the spread for the given index price:
// buy the farthest OTM level and sell the nearest, on both the call and put
// sides. At least two OTM levels must be configured.
func (c *Calculator) StrategyLegs(now time.Time, price float64, lotSize int64) []LegSpec {
	pairs := c.Strikes(price)
	near, far := pairs[0], pairs[len(pairs)-1]
	expiry := c.NextWeeklyExpiry(now)

	return []LegSpec{
		{Symbol: c.OptionSymbol(expiry, far.CE, ClassCE), Strike: far.CE, Class: ClassCE, Side: models.SideBuy, Quantity: lotSize},
		{Symbol: c.OptionSymbol(expiry, near.CE, ClassCE), Strike: near.CE, Class: ClassCE, Side: models.SideSell, Quantity: lotSize},
		{Symbol: c.OptionSymbol(expiry, far.PE, ClassPE), Strike: far.PE, Class: ClassPE, Side: models.SideBuy, Quantity: lotSize},
		{Symbol: c.OptionSymbol(expiry, near.PE, ClassPE), Strike: near.PE, Class: ClassPE, Side: models.SideSell, Quantity: lotSize},
	}
}
