// Package broker provides the Flattrade-style trading API collaborators:
// authentication, market data, and order placement.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrNoData is returned when the broker has no quote for a symbol. Callers
// treat it as a skip, not a failure.
var ErrNoData = errors.New("no market data for symbol")

// Auth manages the broker session.
type Auth interface {
	// Login establishes a session. It must be called before any
	// authenticated request.
	Login(ctx context.Context) error
	// AuthenticatedRequest posts a payload to an API endpoint using the
	// current session and returns the decoded response.
	AuthenticatedRequest(ctx context.Context, endpoint string, payload map[string]string) (map[string]any, error)
}

// MarketData supplies quotes.
type MarketData interface {
	// GetSymbolData returns the latest quote for a symbol, or ErrNoData.
	GetSymbolData(ctx context.Context, symbol string) (*SymbolData, error)
}

// OrderAPI places live orders.
type OrderAPI interface {
	// PlaceOrder submits an order and returns the broker's order number.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
}

// SymbolData is a single quote.
type SymbolData struct {
	Symbol    string
	LastPrice float64
	Open      float64
	High      float64
	Low       float64
	Volume    int64
}

// OrderRequest describes an order for the live API.
type OrderRequest struct {
	Symbol    string
	Side      string // B | S
	Quantity  int64
	Price     float64 // 0 for market orders
	OrderType string  // MKT | LMT
}

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// IsRetryable reports whether an error is worth retrying: server-side
// failures, rate limiting, and transport problems. Other client errors are
// terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"eof",
		"dns",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
