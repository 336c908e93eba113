package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
environment:
  mode: paper
  log_level: info

broker:
  paper_cash: 1000000

schedule:
  tick_interval: 1s
  timezone: Asia/Kolkata
  trading_start: "09:20"
  trading_end: "15:30"

strategy:
  underlying: NIFTY
  strike_increment: 50
  near_level: 3
  far_level: 5
  lot_size: 65
  expiry_weekday: thursday
  eod_cutoff: "15:30"

risk:
  trailing_activation: 300
  trailing_buffer: 50
  cooldown: 5m
  forced_exit_time: "14:00"

controls:
  backend: file
  pause_path: data/trading_pause.json
  emergency_path: data/EMERGENCY_STOP
  status_path: data/status.json

storage:
  path: data/trades.json

dashboard:
  enabled: false
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, "NIFTY", cfg.Strategy.Underlying)
	assert.Equal(t, 50, cfg.Strategy.StrikeIncrement)
	assert.Equal(t, int64(65), cfg.Strategy.LotSize)
	assert.Equal(t, time.Second, cfg.TickInterval())
	assert.Equal(t, 5*time.Minute, cfg.CooldownDuration())

	h, m := cfg.ForcedExitClock()
	assert.Equal(t, 14, h)
	assert.Equal(t, 0, m)
}

func TestLoadUnknownFieldRejected(t *testing.T) {
	_, err := Load(writeConfig(t, validYAML+"\nnonsense: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_STORAGE_PATH", "data/expanded.json")
	contents := `
environment:
  mode: paper
broker:
  paper_cash: 1000000
controls:
  backend: file
  pause_path: data/trading_pause.json
  emergency_path: data/EMERGENCY_STOP
storage:
  path: ${TEST_STORAGE_PATH}
`

	cfg, err := Load(writeConfig(t, contents))
	require.NoError(t, err)
	assert.Equal(t, "data/expanded.json", cfg.Storage.Path)
}

func TestValidateDefaults(t *testing.T) {
	cfg := &Config{
		Environment: EnvironmentConfig{Mode: "paper"},
		Broker:      BrokerConfig{PaperCash: 500000},
		Controls: ControlsConfig{
			Backend:       "file",
			PausePath:     "pause.json",
			EmergencyPath: "EMERGENCY_STOP",
		},
		Storage: StorageConfig{Path: "trades.json"},
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "NIFTY", cfg.Strategy.Underlying)
	assert.Equal(t, "NSE:", cfg.Strategy.ExchangePrefix)
	assert.Equal(t, 3, cfg.Strategy.NearLevel)
	assert.Equal(t, 5, cfg.Strategy.FarLevel)
	assert.Equal(t, time.Thursday, cfg.ExpiryWeekday())
	assert.Equal(t, 300.0, cfg.Risk.TrailingActivation)
	assert.Equal(t, 50.0, cfg.Risk.TrailingBuffer)
	assert.Equal(t, "09:20", cfg.Schedule.TradingStart)
}

func TestExpiryWeekdayConfigurable(t *testing.T) {
	tests := []struct {
		value string
		want  time.Weekday
	}{
		{"sunday", time.Sunday}, // every day is configurable, including the zero weekday
		{"Tuesday", time.Tuesday},
		{"THURSDAY", time.Thursday},
	}
	for _, tt := range tests {
		cfg := &Config{
			Environment: EnvironmentConfig{Mode: "paper"},
			Broker:      BrokerConfig{PaperCash: 500000},
			Strategy:    StrategyConfig{ExpiryWeekday: tt.value},
			Controls: ControlsConfig{
				Backend:       "file",
				PausePath:     "pause.json",
				EmergencyPath: "EMERGENCY_STOP",
			},
			Storage: StorageConfig{Path: "trades.json"},
		}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, tt.want, cfg.ExpiryWeekday(), "weekday %q", tt.value)
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Environment: EnvironmentConfig{Mode: "paper"},
			Broker:      BrokerConfig{PaperCash: 500000},
			Controls: ControlsConfig{
				Backend:       "file",
				PausePath:     "pause.json",
				EmergencyPath: "EMERGENCY_STOP",
			},
			Storage: StorageConfig{Path: "trades.json"},
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "bad mode",
			mutate: func(c *Config) { c.Environment.Mode = "backtest" },
			want:   "environment.mode",
		},
		{
			name:   "live without credentials",
			mutate: func(c *Config) { c.Environment.Mode = "live" },
			want:   "broker.api_key",
		},
		{
			name:   "near level at or above far level",
			mutate: func(c *Config) { c.Strategy.NearLevel = 5; c.Strategy.FarLevel = 5 },
			want:   "near_level",
		},
		{
			name:   "buffer at or above activation",
			mutate: func(c *Config) { c.Risk.TrailingBuffer = 400 },
			want:   "trailing_buffer",
		},
		{
			name:   "bad cooldown",
			mutate: func(c *Config) { c.Risk.Cooldown = "five minutes" },
			want:   "risk.cooldown",
		},
		{
			name:   "redis backend without address",
			mutate: func(c *Config) { c.Controls.Backend = "redis" },
			want:   "redis_addr",
		},
		{
			name:   "dashboard without token",
			mutate: func(c *Config) { c.Dashboard.Enabled = true; c.Dashboard.ListenAddr = ":8080" },
			want:   "auth_token",
		},
		{
			name:   "inverted trading window",
			mutate: func(c *Config) { c.Schedule.TradingStart = "15:30"; c.Schedule.TradingEnd = "09:20" },
			want:   "trading window",
		},
		{
			name:   "bad expiry weekday",
			mutate: func(c *Config) { c.Strategy.ExpiryWeekday = "4" },
			want:   "expiry_weekday",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIsWithinTradingHours(t *testing.T) {
	cfg := &Config{
		Environment: EnvironmentConfig{Mode: "paper"},
		Broker:      BrokerConfig{PaperCash: 500000},
		Controls: ControlsConfig{
			Backend:       "file",
			PausePath:     "pause.json",
			EmergencyPath: "EMERGENCY_STOP",
		},
		Storage: StorageConfig{Path: "trades.json"},
	}
	require.NoError(t, cfg.Validate())
	loc := cfg.Location()

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before open", time.Date(2025, 9, 1, 9, 19, 59, 0, loc), false},
		{"at open", time.Date(2025, 9, 1, 9, 20, 0, 0, loc), true},
		{"midday", time.Date(2025, 9, 1, 12, 0, 0, 0, loc), true},
		{"at close", time.Date(2025, 9, 1, 15, 30, 0, 0, loc), true},
		{"after close", time.Date(2025, 9, 1, 15, 31, 0, 0, loc), false},
		{"saturday", time.Date(2025, 9, 6, 12, 0, 0, 0, loc), false},
		{"sunday", time.Date(2025, 9, 7, 12, 0, 0, 0, loc), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.IsWithinTradingHours(tt.now))
		})
	}
}
