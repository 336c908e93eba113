// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Strategy defaults, used when the corresponding field is unset.
const (
	defaultUnderlying      = "NIFTY"
	defaultExchangePrefix  = "NSE:"
	defaultStrikeIncrement = 50
	defaultNearLevel       = 3
	defaultFarLevel        = 5
	defaultLotSize         = 65
	defaultActivation      = 300.0
	defaultBuffer          = 50.0
	defaultCooldown        = "5m"
	defaultExpiryWeekday   = "thursday"
	defaultTickInterval    = "1s"
	defaultTimezone        = "Asia/Kolkata"
	defaultEODCutoff       = "15:30"
	defaultForcedExitTime  = "14:00"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Controls    ControlsConfig    `yaml:"controls"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	APIEndpoint string `yaml:"api_endpoint"`
	AuthCode    string `yaml:"auth_code"`
	APIKey      string `yaml:"api_key"`
	APISecret   string `yaml:"api_secret"`
	ClientID    string `yaml:"client_id"`
	// PaperCash is the starting cash balance for paper trading.
	PaperCash float64 `yaml:"paper_cash"`
}

// ScheduleConfig defines the trading schedule and market hours.
type ScheduleConfig struct {
	TickInterval string `yaml:"tick_interval"` // e.g. "1s"
	Timezone     string `yaml:"timezone"`      // e.g. "Asia/Kolkata"
	TradingStart string `yaml:"trading_start"` // "HH:MM"
	TradingEnd   string `yaml:"trading_end"`   // "HH:MM"
}

// StrategyConfig defines the spread construction parameters.
type StrategyConfig struct {
	Underlying      string `yaml:"underlying"`
	ExchangePrefix  string `yaml:"exchange_prefix"`
	StrikeIncrement int    `yaml:"strike_increment"`
	NearLevel       int    `yaml:"near_level"` // OTM level of the short legs
	FarLevel        int    `yaml:"far_level"`  // OTM level of the long legs
	LotSize         int64  `yaml:"lot_size"`
	// ExpiryWeekday is the weekly expiry day as a weekday name, e.g.
	// "thursday". Empty selects the default.
	ExpiryWeekday string `yaml:"expiry_weekday"`
	// EODCutoff is the roll cutoff: a same-day expiry at or after this
	// clock time rolls to the following week.
	EODCutoff string `yaml:"eod_cutoff"` // "HH:MM"
}

// RiskConfig defines exit and re-entry parameters.
type RiskConfig struct {
	TrailingActivation float64 `yaml:"trailing_activation"`
	TrailingBuffer     float64 `yaml:"trailing_buffer"`
	Cooldown           string  `yaml:"cooldown"`         // e.g. "5m"
	ForcedExitTime     string  `yaml:"forced_exit_time"` // "HH:MM" on expiry day
}

// ControlsConfig selects where the pause/emergency gate lives.
type ControlsConfig struct {
	Backend       string `yaml:"backend"` // file | redis
	PausePath     string `yaml:"pause_path"`
	EmergencyPath string `yaml:"emergency_path"`
	StatusPath    string `yaml:"status_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// StorageConfig defines storage settings for trade history.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the HTTP dashboard settings.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// applying defaults for unset strategy and risk fields first.
func (c *Config) Validate() error {
	c.applyDefaults()

	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation: live mode needs real credentials, paper does not.
	if !c.IsPaperTrading() {
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
		if c.Broker.APISecret == "" {
			return fmt.Errorf("broker.api_secret is required in live mode")
		}
		if c.Broker.ClientID == "" {
			return fmt.Errorf("broker.client_id is required in live mode")
		}
	}
	if c.IsPaperTrading() && c.Broker.PaperCash <= 0 {
		return fmt.Errorf("broker.paper_cash must be > 0 in paper mode")
	}

	// Strategy validation
	if c.Strategy.StrikeIncrement <= 0 {
		return fmt.Errorf("strategy.strike_increment must be > 0")
	}
	if c.Strategy.NearLevel <= 0 || c.Strategy.FarLevel <= 0 {
		return fmt.Errorf("strategy OTM levels must be > 0")
	}
	if c.Strategy.NearLevel >= c.Strategy.FarLevel {
		return fmt.Errorf("strategy.near_level (%d) must be < strategy.far_level (%d)",
			c.Strategy.NearLevel, c.Strategy.FarLevel)
	}
	if c.Strategy.LotSize <= 0 {
		return fmt.Errorf("strategy.lot_size must be > 0")
	}
	if _, err := parseWeekday(c.Strategy.ExpiryWeekday); err != nil {
		return fmt.Errorf("strategy.expiry_weekday invalid: %w", err)
	}
	if _, _, err := parseClock(c.Strategy.EODCutoff); err != nil {
		return fmt.Errorf("strategy.eod_cutoff invalid: %w", err)
	}

	// Risk validation
	if c.Risk.TrailingActivation <= 0 {
		return fmt.Errorf("risk.trailing_activation must be > 0")
	}
	if c.Risk.TrailingBuffer <= 0 {
		return fmt.Errorf("risk.trailing_buffer must be > 0")
	}
	if c.Risk.TrailingBuffer >= c.Risk.TrailingActivation {
		return fmt.Errorf("risk.trailing_buffer (%.0f) must be < risk.trailing_activation (%.0f)",
			c.Risk.TrailingBuffer, c.Risk.TrailingActivation)
	}
	if _, err := time.ParseDuration(c.Risk.Cooldown); err != nil {
		return fmt.Errorf("risk.cooldown invalid: %w", err)
	}
	if _, _, err := parseClock(c.Risk.ForcedExitTime); err != nil {
		return fmt.Errorf("risk.forced_exit_time invalid: %w", err)
	}

	// Controls validation
	switch c.Controls.Backend {
	case "file":
		if c.Controls.PausePath == "" || c.Controls.EmergencyPath == "" {
			return fmt.Errorf("controls.pause_path and controls.emergency_path are required for the file backend")
		}
	case "redis":
		if c.Controls.RedisAddr == "" {
			return fmt.Errorf("controls.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("controls.backend must be 'file' or 'redis'")
	}

	// Storage validation
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	// Dashboard validation
	if c.Dashboard.Enabled {
		if c.Dashboard.ListenAddr == "" {
			return fmt.Errorf("dashboard.listen_addr is required when the dashboard is enabled")
		}
		if c.Dashboard.AuthToken == "" {
			return fmt.Errorf("dashboard.auth_token is required when the dashboard is enabled")
		}
	}

	// Schedule validation
	if _, err := time.ParseDuration(c.Schedule.TickInterval); err != nil {
		return fmt.Errorf("schedule.tick_interval invalid: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	sh, sm, err1 := parseClock(c.Schedule.TradingStart)
	eh, em, err2 := parseClock(c.Schedule.TradingEnd)
	if err1 != nil || err2 != nil || sh*60+sm >= eh*60+em {
		return fmt.Errorf("schedule trading window invalid (start/end parse/order)")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// TickInterval returns the configured engine tick interval.
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.TickInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// CooldownDuration returns the configured re-entry cooldown.
func (c *Config) CooldownDuration() time.Duration {
	d, err := time.ParseDuration(c.Risk.Cooldown)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// Location returns the configured exchange timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		// Fallback for minimal containers: IST has no DST.
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

// IsWithinTradingHours checks if the given time falls within configured
// trading hours. Weekends are always outside the window.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	loc := c.Location()
	today := now.In(loc)

	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	sh, sm, err1 := parseClock(c.Schedule.TradingStart)
	eh, em, err2 := parseClock(c.Schedule.TradingEnd)
	if err1 != nil || err2 != nil {
		sh, sm, eh, em = 9, 20, 15, 30
	}
	start := time.Date(today.Year(), today.Month(), today.Day(), sh, sm, 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(), eh, em, 0, 0, loc)

	// Inclusive at both edges: the final tick of the day still monitors.
	return !today.Before(start) && !today.After(end)
}

// ForcedExitClock returns the hour and minute of the expiry-day forced exit.
func (c *Config) ForcedExitClock() (hour, minute int) {
	h, m, err := parseClock(c.Risk.ForcedExitTime)
	if err != nil {
		return 14, 0
	}
	return h, m
}

// ExpiryWeekday returns the configured weekly expiry day. Unparseable values
// fall back to Thursday; Validate rejects them up front.
func (c *Config) ExpiryWeekday() time.Weekday {
	day, err := parseWeekday(c.Strategy.ExpiryWeekday)
	if err != nil {
		return time.Thursday
	}
	return day
}

// parseWeekday matches a weekday name case-insensitively.
func parseWeekday(name string) (time.Weekday, error) {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.EqualFold(name, day.String()) {
			return day, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// EODCutoffClock returns the hour and minute after which a same-day expiry
// rolls to the following week.
func (c *Config) EODCutoffClock() (hour, minute int) {
	h, m, err := parseClock(c.Strategy.EODCutoff)
	if err != nil {
		return 15, 30
	}
	return h, m
}

// parseClock parses an "HH:MM" string.
func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// applyDefaults fills unset strategy, risk and schedule fields.
func (c *Config) applyDefaults() {
	if c.Strategy.Underlying == "" {
		c.Strategy.Underlying = defaultUnderlying
	}
	if c.Strategy.ExchangePrefix == "" {
		c.Strategy.ExchangePrefix = defaultExchangePrefix
	}
	if c.Strategy.StrikeIncrement == 0 {
		c.Strategy.StrikeIncrement = defaultStrikeIncrement
	}
	if c.Strategy.NearLevel == 0 {
		c.Strategy.NearLevel = defaultNearLevel
	}
	if c.Strategy.FarLevel == 0 {
		c.Strategy.FarLevel = defaultFarLevel
	}
	if c.Strategy.LotSize == 0 {
		c.Strategy.LotSize = defaultLotSize
	}
	if c.Strategy.ExpiryWeekday == "" {
		c.Strategy.ExpiryWeekday = defaultExpiryWeekday
	}
	if c.Strategy.EODCutoff == "" {
		c.Strategy.EODCutoff = defaultEODCutoff
	}
	if c.Risk.TrailingActivation == 0 {
		c.Risk.TrailingActivation = defaultActivation
	}
	if c.Risk.TrailingBuffer == 0 {
		c.Risk.TrailingBuffer = defaultBuffer
	}
	if c.Risk.Cooldown == "" {
		c.Risk.Cooldown = defaultCooldown
	}
	if c.Risk.ForcedExitTime == "" {
		c.Risk.ForcedExitTime = defaultForcedExitTime
	}
	if c.Schedule.TickInterval == "" {
		c.Schedule.TickInterval = defaultTickInterval
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.TradingStart == "" {
		c.Schedule.TradingStart = "09:20"
	}
	if c.Schedule.TradingEnd == "" {
		c.Schedule.TradingEnd = "15:30"
	}
}
