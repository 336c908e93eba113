package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantjunkie/niftywing/internal/ledger"
	"github.com/quantjunkie/niftywing/internal/metrics"
	"github.com/quantjunkie/niftywing/internal/models"
	"github.com/quantjunkie/niftywing/internal/storage"
)

type staticStatus struct {
	snap models.Snapshot
}

func (s *staticStatus) Snapshot() models.Snapshot { return s.snap }

func newTestServer(t *testing.T, authToken string) (*Server, *ledger.Ledger) {
	t.Helper()
	book := ledger.New(100000, log.New(io.Discard, "", 0))
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "trades.json"))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	status := &staticStatus{snap: models.Snapshot{
		State:       "active",
		StateDetail: "Active: spread held, monitoring P&L and trailing stop",
		HasPosition: true,
		CombinedPnL: 215.5,
		TotalValue:  100215.5,
		LastUpdated: time.Now(),
	}}
	srv := NewServer(Config{Addr: ":0", AuthToken: authToken}, status, book, store, metrics.New(), logger)
	return srv, book
}

func get(t *testing.T, srv *Server, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := get(t, srv, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := get(t, srv, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "active", snap.State)
	assert.NotEmpty(t, snap.StateDetail)
	assert.Equal(t, 215.5, snap.CombinedPnL)
	assert.Equal(t, 100215.5, snap.TotalValue)
}

func TestPositionsEndpoint(t *testing.T) {
	srv, book := newTestServer(t, "")
	book.EnsureMark("NSE:NIFTY04SEP2519800CE", decimal.NewFromInt(120))
	_, err := book.PlaceOrder(context.Background(), "NSE:NIFTY04SEP2519800CE",
		models.SideSell, 65, decimal.NewFromInt(120), models.TypeLimit)
	require.NoError(t, err)

	rec := get(t, srv, "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []PositionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, int64(-65), views[0].Quantity)
	assert.Equal(t, 120.0, views[0].AvgPrice)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := get(t, srv, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")

	rec := get(t, srv, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, srv, "/api/status", map[string]string{"X-Auth-Token": "sekrit"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, srv, "/api/status?token=sekrit", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for probes.
	rec = get(t, srv, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
