// Package trailing implements the trailing stop controller for a strategy
// cycle's combined P&L.
package trailing

// Controller tracks the running-maximum profit of the current cycle and a
// monotonically non-decreasing stop level. It is not safe for concurrent use;
// the engine is its only caller.
type Controller struct {
	activation float64
	buffer     float64

	highest float64
	stop    float64
	active  bool
}

// New creates a controller. The stop arms once combined P&L reaches
// activation, at a level of (P&L - buffer), and then only ever rises.
func New(activation, buffer float64) *Controller {
	return &Controller{activation: activation, buffer: buffer}
}

// Observe feeds one tick's combined P&L and reports whether the stop was
// breached. On a breach the controller resets itself for the next cycle.
func (c *Controller) Observe(pnl float64) bool {
	if pnl > c.highest {
		c.highest = pnl
	}

	if !c.active {
		if pnl >= c.activation {
			c.active = true
			c.stop = pnl - c.buffer
		}
		return false
	}

	// The stop never retreats: it floors at the activation-time level.
	if lvl := c.highest - c.buffer; lvl > c.stop {
		c.stop = lvl
	}

	if pnl <= c.stop {
		c.Reset()
		return true
	}
	return false
}

// Active reports whether the trailing stop is armed.
func (c *Controller) Active() bool { return c.active }

// StopLevel returns the current stop level, or 0 when inactive.
func (c *Controller) StopLevel() float64 { return c.stop }

// HighestPnL returns the running-maximum combined P&L observed this cycle.
func (c *Controller) HighestPnL() float64 { return c.highest }

// Reset clears all state for a new cycle.
func (c *Controller) Reset() {
	c.highest = 0
	c.stop = 0
	c.active = false
}
