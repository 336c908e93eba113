// botctl is the operator CLI for the running bot: it flips the pause and
// emergency signals the engine polls, and prints the last status snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantjunkie/niftywing/internal/config"
	"github.com/quantjunkie/niftywing/internal/controls"
)

const usage = `Usage: botctl [-config config.yaml] <command>

Commands:
  pause [reason]    Pause trading (the engine skips every tick while paused)
  resume            Resume trading
  status            Print the last engine snapshot
  emergency-stop    Halt new entries; an active position stays open
  clear-emergency   Clear the emergency stop
`

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := buildControlStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Control gate setup failed: %v", err)
	}

	command := flag.Arg(0)
	switch command {
	case "pause":
		reason := strings.Join(flag.Args()[1:], " ")
		if reason == "" {
			reason = "manual pause"
		}
		if err := store.Pause(ctx, reason); err != nil {
			log.Fatalf("Pause failed: %v", err)
		}
		fmt.Printf("Trading paused: %s\n", reason)

	case "resume":
		if err := store.Resume(ctx); err != nil {
			log.Fatalf("Resume failed: %v", err)
		}
		fmt.Println("Trading resumed")

	case "emergency-stop":
		if err := store.EmergencyStop(ctx); err != nil {
			log.Fatalf("Emergency stop failed: %v", err)
		}
		fmt.Println("EMERGENCY STOP set: new entries halted")

	case "clear-emergency":
		if err := store.ClearEmergency(ctx); err != nil {
			log.Fatalf("Clearing emergency failed: %v", err)
		}
		fmt.Println("Emergency stop cleared")

	case "status":
		printStatus(ctx, cfg, store)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", command)
		flag.Usage()
		os.Exit(2)
	}
}

func printStatus(ctx context.Context, cfg *config.Config, store controls.Store) {
	state, err := store.Poll(ctx)
	if err != nil {
		log.Fatalf("Reading control state failed: %v", err)
	}

	fmt.Println("Control gate:")
	if state.Paused {
		fmt.Printf("  paused since %s: %s\n", state.PausedAt.Format(time.RFC3339), state.Reason)
	} else {
		fmt.Println("  not paused")
	}
	if state.Emergency {
		fmt.Println("  EMERGENCY STOP active")
	}

	if cfg.Controls.StatusPath == "" {
		return
	}
	snap, err := controls.ReadStatus(cfg.Controls.StatusPath)
	if err != nil {
		fmt.Printf("No status snapshot available: %v\n", err)
		return
	}
	fmt.Println("Engine:")
	fmt.Printf("  state:           %s (%s)\n", snap.State, snap.StateDetail)
	fmt.Printf("  has position:    %t\n", snap.HasPosition)
	fmt.Printf("  trailing active: %t\n", snap.TrailingActive)
	fmt.Printf("  combined P&L:    %.2f\n", snap.CombinedPnL)
	fmt.Printf("  account value:   %.2f\n", snap.TotalValue)
	fmt.Printf("  open positions:  %d\n", snap.PositionsCount)
	fmt.Printf("  last updated:    %s\n", snap.LastUpdated.Format(time.RFC3339))
}

func buildControlStore(ctx context.Context, cfg *config.Config) (controls.Store, error) {
	switch cfg.Controls.Backend {
	case "redis":
		return controls.NewRedisStore(ctx, cfg.Controls.RedisAddr, cfg.Controls.RedisPassword, cfg.Controls.RedisDB)
	default:
		return controls.NewFileStore(cfg.Controls.PausePath, cfg.Controls.EmergencyPath), nil
	}
}
