// Package dashboard serves a JSON status API and the Prometheus metrics
// endpoint for the running bot.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/quantjunkie/niftywing/internal/ledger"
	"github.com/quantjunkie/niftywing/internal/metrics"
	"github.com/quantjunkie/niftywing/internal/models"
	"github.com/quantjunkie/niftywing/internal/storage"
)

// StatusProvider is the engine-side view the dashboard reads.
type StatusProvider interface {
	Snapshot() models.Snapshot
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	engine    StatusProvider
	book      *ledger.Ledger
	store     *storage.Storage
	logger    *logrus.Logger
	addr      string
	authToken string
}

type Config struct {
	Addr      string
	AuthToken string
}

// PositionView is the wire form of a ledger position.
type PositionView struct {
	Symbol        string  `json:"symbol"`
	Quantity      int64   `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	Mark          float64 `json:"mark"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

func NewServer(
	cfg Config,
	engine StatusProvider,
	book *ledger.Ledger,
	store *storage.Storage,
	stats *metrics.Metrics,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		book:      book,
		store:     store,
		logger:    logger,
		addr:      cfg.Addr,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes(stats)
	return s
}

func (s *Server) setupRoutes(stats *metrics.Metrics) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Handle("/metrics", promhttp.HandlerFor(stats.Registry, promhttp.HandlerOpts{}))
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on %s", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.engine.Snapshot())
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.book.OpenPositions()
	views := make([]PositionView, 0, len(positions))
	for _, pos := range positions {
		avg, _ := pos.AvgPrice.Float64()
		mark, _ := pos.Mark.Float64()
		unrealized, _ := pos.UnrealizedPnL.Float64()
		realized, _ := pos.RealizedPnL.Float64()
		views = append(views, PositionView{
			Symbol:        pos.Symbol,
			Quantity:      pos.Quantity,
			AvgPrice:      avg,
			Mark:          mark,
			UnrealizedPnL: unrealized,
			RealizedPnL:   realized,
		})
	}
	s.writeJSON(w, views)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.store.GetStatistics())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
