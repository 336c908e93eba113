package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerMarketData wraps a MarketData source with circuit breaker
// functionality, shielding the tick loop from a flapping quote endpoint.
type CircuitBreakerMarketData struct {
	source  MarketData
	breaker *gobreaker.CircuitBreaker
}

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	source MarketData,
	fn func(MarketData) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(source) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerMarketData creates a wrapper with sensible defaults.
func NewCircuitBreakerMarketData(source MarketData) *CircuitBreakerMarketData {
	return NewCircuitBreakerMarketDataWithSettings(source, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerMarketDataWithSettings creates a wrapper with custom settings.
func NewCircuitBreakerMarketDataWithSettings(
	source MarketData,
	settings CircuitBreakerSettings,
) *CircuitBreakerMarketData {
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerMarketData{
		source:  source,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetSymbolData wraps the underlying quote call with the circuit breaker.
// ErrNoData counts as a success: an empty book is an answer, not an outage.
func (c *CircuitBreakerMarketData) GetSymbolData(ctx context.Context, symbol string) (*SymbolData, error) {
	data, err := execCircuitBreaker(c.breaker, c.source, func(m MarketData) (*SymbolData, error) {
		data, err := m.GetSymbolData(ctx, symbol)
		if errors.Is(err, ErrNoData) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoData
	}
	return data, nil
}

// State returns the current breaker state for diagnostics.
func (c *CircuitBreakerMarketData) State() gobreaker.State {
	return c.breaker.State()
}
