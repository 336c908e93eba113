package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) *FlattradeAPI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	api := NewFlattradeAPI(FlattradeConfig{
		BaseURL:   srv.URL,
		ClientID:  "FT000001",
		APIKey:    "key",
		APISecret: "secret",
		AuthCode:  "code",
	}, log.New(io.Discard, "", 0))
	api.tokenURL = srv.URL + "/apitoken"
	api.backoff = time.Millisecond
	return api
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/apitoken", r.URL.Path)
		fmt.Fprint(w, `{"stat":"Ok","token":"session-token"}`)
	})

	require.NoError(t, api.Login(context.Background()))
	assert.Equal(t, "session-token", api.token)
}

func TestLoginRejected(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stat":"Not_Ok","emsg":"Invalid request code"}`)
	})

	err := api.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid request code")
}

func TestAuthenticatedRequestRequiresLogin(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := api.AuthenticatedRequest(context.Background(), "GetQuotes", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestGetSymbolData(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "jKey=tok")
		assert.Contains(t, string(body), `"tsym":"NIFTY04SEP2519650CE"`)
		fmt.Fprint(w, `{"stat":"Ok","lp":"142.35","o":"120.00","h":"150.10","l":"118.25","v":"120000"}`)
	})
	api.token = "tok"

	data, err := api.GetSymbolData(context.Background(), "NSE:NIFTY04SEP2519650CE")
	require.NoError(t, err)
	assert.Equal(t, 142.35, data.LastPrice)
	assert.Equal(t, 150.10, data.High)
	assert.Equal(t, int64(120000), data.Volume)
}

func TestGetSymbolDataNoData(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stat":"Not_Ok","emsg":"no such symbol"}`)
	})
	api.token = "tok"

	_, err := api.GetSymbolData(context.Background(), "NSE:BOGUS")
	require.ErrorIs(t, err, ErrNoData)
}

func TestPlaceOrder(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"trantype":"B"`)
		assert.Contains(t, string(body), `"qty":"65"`)
		assert.Contains(t, string(body), `"prctyp":"MKT"`)
		fmt.Fprint(w, `{"stat":"Ok","norenordno":"24083000000123"}`)
	})
	api.token = "tok"

	orderNo, err := api.PlaceOrder(context.Background(), OrderRequest{
		Symbol:    "NSE:NIFTY04SEP2519650CE",
		Side:      "B",
		Quantity:  65,
		OrderType: "MKT",
	})
	require.NoError(t, err)
	assert.Equal(t, "24083000000123", orderNo)
}

func TestPlaceOrderRejected(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"stat":"Not_Ok","emsg":"insufficient margin"}`)
	})
	api.token = "tok"

	_, err := api.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "NSE:NIFTY04SEP2519650CE", Side: "S", Quantity: 65, OrderType: "MKT",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient margin")
}

func TestAuthenticatedRequestRetriesServerErrors(t *testing.T) {
	var calls int
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"stat":"Ok"}`)
	})
	api.token = "tok"

	result, err := api.AuthenticatedRequest(context.Background(), "GetQuotes", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "Ok", result["stat"])
	assert.Equal(t, 3, calls)
}

func TestAuthenticatedRequestTerminalClientError(t *testing.T) {
	var calls int
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})
	api.token = "tok"

	_, err := api.AuthenticatedRequest(context.Background(), "GetQuotes", map[string]string{})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "4xx responses must not be retried")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &APIError{Status: 503, Body: "unavailable"}, true},
		{"rate limited", &APIError{Status: 429, Body: "slow down"}, true},
		{"bad request", &APIError{Status: 400, Body: "bad payload"}, false},
		{"unauthorized", &APIError{Status: 401, Body: "session expired"}, false},
		{"timeout text", errors.New("request timeout talking to broker"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"plain domain error", errors.New("order rejected by broker"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

type scriptedMarketData struct {
	errs  []error
	calls int
}

func (s *scriptedMarketData) GetSymbolData(_ context.Context, symbol string) (*SymbolData, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &SymbolData{Symbol: symbol, LastPrice: 100}, nil
}

func TestCircuitBreakerTripsOnRepeatedFailures(t *testing.T) {
	failing := errors.New("connection reset")
	src := &scriptedMarketData{errs: []error{failing, failing, failing, failing, failing, failing}}
	cb := NewCircuitBreakerMarketDataWithSettings(src, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     0,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	})

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, _ = cb.GetSymbolData(ctx, "NSE:NIFTY")
	}

	_, err := cb.GetSymbolData(ctx, "NSE:NIFTY")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Less(t, src.calls, 7, "open breaker must stop forwarding calls")
}

func TestCircuitBreakerTreatsNoDataAsSuccess(t *testing.T) {
	src := &scriptedMarketData{errs: []error{ErrNoData, ErrNoData, ErrNoData, ErrNoData, ErrNoData}}
	cb := NewCircuitBreakerMarketData(src)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := cb.GetSymbolData(ctx, "NSE:NIFTY")
		require.ErrorIs(t, err, ErrNoData)
	}

	data, err := cb.GetSymbolData(ctx, "NSE:NIFTY")
	require.NoError(t, err, "breaker must stay closed through no-data responses")
	assert.Equal(t, 100.0, data.LastPrice)
}

func TestSplitSymbol(t *testing.T) {
	exch, tsym := splitSymbol("NSE:NIFTY04SEP2519650CE")
	assert.Equal(t, "NSE", exch)
	assert.Equal(t, "NIFTY04SEP2519650CE", tsym)

	exch, tsym = splitSymbol("NIFTY")
	assert.Equal(t, "NSE", exch)
	assert.Equal(t, "NIFTY", tsym)
}
