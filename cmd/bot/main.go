package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quantjunkie/niftywing/internal/broker"
	"github.com/quantjunkie/niftywing/internal/config"
	"github.com/quantjunkie/niftywing/internal/controls"
	"github.com/quantjunkie/niftywing/internal/dashboard"
	"github.com/quantjunkie/niftywing/internal/engine"
	"github.com/quantjunkie/niftywing/internal/ledger"
	"github.com/quantjunkie/niftywing/internal/metrics"
	"github.com/quantjunkie/niftywing/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; environment variables feed config expansion.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)
	logger.Printf("Starting spread bot in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - no real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - real money at risk")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Broker wiring. Paper mode never talks to the broker's order API, but
	// market data always comes from it.
	api := broker.NewFlattradeAPI(broker.FlattradeConfig{
		BaseURL:   cfg.Broker.APIEndpoint,
		ClientID:  cfg.Broker.ClientID,
		APIKey:    cfg.Broker.APIKey,
		APISecret: cfg.Broker.APISecret,
		AuthCode:  cfg.Broker.AuthCode,
	}, logger)
	if err := api.Login(ctx); err != nil {
		logger.Fatalf("Broker login failed: %v", err)
	}
	market := broker.NewCircuitBreakerMarketData(api)

	var book *ledger.Ledger
	if cfg.IsPaperTrading() {
		book = ledger.New(cfg.Broker.PaperCash, logger)
	} else {
		book = ledger.NewLive(api, logger)
	}

	gate, err := buildControlStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("Control gate setup failed: %v", err)
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.Fatalf("Storage setup failed: %v", err)
	}

	stats := metrics.New()
	eng := engine.New(cfg, book, market, gate, store, stats, logger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return runTickLoop(groupCtx, cfg, eng, logger)
	})

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		dashLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		dash = dashboard.NewServer(dashboard.Config{
			Addr:      cfg.Dashboard.ListenAddr,
			AuthToken: cfg.Dashboard.AuthToken,
		}, eng, book, store, stats, dashLogger)

		group.Go(func() error {
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return dash.Shutdown(shutdownCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("Run loop error: %v", err)
	}

	// Close whatever is still open before exiting.
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.CloseAll(closeCtx, time.Now(), engine.ReasonShutdown); err != nil {
		logger.Printf("Shutdown close failed: %v", err)
	}
	writeStatus(cfg, eng, logger)
	logger.Println("Bot stopped")
}

// runTickLoop drives the engine at the configured cadence until the context
// ends. Tick errors are logged and never fatal.
func runTickLoop(ctx context.Context, cfg *config.Config, eng *engine.Engine, logger *log.Logger) error {
	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()

	statusEvery := 10 * time.Second
	lastStatus := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := eng.Tick(ctx, now); err != nil {
				logger.Printf("Tick error: %v", err)
			}
			if now.Sub(lastStatus) >= statusEvery {
				writeStatus(cfg, eng, logger)
				lastStatus = now
			}
		}
	}
}

// writeStatus persists the engine snapshot for botctl and other readers.
func writeStatus(cfg *config.Config, eng *engine.Engine, logger *log.Logger) {
	if cfg.Controls.StatusPath == "" {
		return
	}
	if err := controls.WriteStatus(cfg.Controls.StatusPath, eng.Snapshot()); err != nil {
		logger.Printf("Failed to write status file: %v", err)
	}
}

// buildControlStore picks the control gate backend from config.
func buildControlStore(ctx context.Context, cfg *config.Config) (controls.Store, error) {
	switch cfg.Controls.Backend {
	case "redis":
		return controls.NewRedisStore(ctx, cfg.Controls.RedisAddr, cfg.Controls.RedisPassword, cfg.Controls.RedisDB)
	default:
		return controls.NewFileStore(cfg.Controls.PausePath, cfg.Controls.EmergencyPath), nil
	}
}
