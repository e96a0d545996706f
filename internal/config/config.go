// Package config provides configuration management for the trading bot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by normalize when the corresponding keys are unset.
const (
	// defaultPollInterval is the monitor tick interval.
	defaultPollInterval = "30s"
	// defaultOrderPacing is the delay between basket leg placements.
	defaultOrderPacing = "500ms"
	// defaultStrikeBase is the NIFTY strike listing interval.
	defaultStrikeBase = 50
	// defaultTimezone is the exchange timezone.
	defaultTimezone = "Asia/Kolkata"
)

// Market session bounds (IST). Entry and exit times must fall inside
// [MarketOpen, MarketClose).
const (
	MarketOpen  = "09:15"
	MarketClose = "15:30"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Stream      StreamConfig      `yaml:"stream"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Journal     JournalConfig     `yaml:"journal"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings. The access token itself
// lives in the token file, never in the YAML config.
type BrokerConfig struct {
	ClientID    string `yaml:"client_id"`
	APIEndpoint string `yaml:"api_endpoint"`
	TokenFile   string `yaml:"token_file"`
}

// LegConfig defines one leg of the basket by role.
type LegConfig struct {
	Role          string `yaml:"role"`           // e.g. BUY_ATM_CE
	OTMOffset     int    `yaml:"otm_offset"`     // points above ATM
	QtyMultiplier int    `yaml:"qty_multiplier"` // lots
	Side          string `yaml:"side"`           // buy | sell
}

// StrategyConfig defines trading strategy parameters.
type StrategyConfig struct {
	Underlying     string      `yaml:"underlying"`   // e.g. NIFTY
	IndexSymbol    string      `yaml:"index_symbol"` // e.g. NSE:NIFTY50-INDEX
	Variant        string      `yaml:"variant"`      // ladder | strangle
	LotSize        int         `yaml:"lot_size"`
	StrikeBase     int         `yaml:"strike_base"`
	Legs           []LegConfig `yaml:"legs"`
	StrangleOffset int         `yaml:"strangle_offset"` // points OTM per side, strangle variant
	TargetPct      float64     `yaml:"target_pct"`      // % of deployed capital
	StopLossPct    float64     `yaml:"stop_loss_pct"`   // % of deployed capital
	EntryWeekday   string      `yaml:"entry_weekday"`   // e.g. Monday
	EntryTime      string      `yaml:"entry_time"`      // "HH:MM"
	ExitTime       string      `yaml:"exit_time"`       // "HH:MM"
	ProductType    string      `yaml:"product_type"`    // e.g. INTRADAY
	PollInterval   string      `yaml:"poll_interval"`
	OrderPacing    string      `yaml:"order_pacing"`
	Timezone       string      `yaml:"timezone"`
	EntryPolicy    string      `yaml:"entry_policy"` // time | rsi
	RSIPeriod      int         `yaml:"rsi_period"`
	RSIThreshold   float64     `yaml:"rsi_threshold"`
}

// StreamConfig defines the realtime feed settings. The data feed and
// the order feed are separate sockets on the broker side, so the order
// feed carries its own URL.
type StreamConfig struct {
	Enabled      bool     `yaml:"enabled"`
	URL          string   `yaml:"url"`
	DataType     string   `yaml:"data_type"` // SymbolUpdate | DepthUpdate
	Symbols      []string `yaml:"symbols"`
	OrderFeed    bool     `yaml:"order_feed"` // also connect the order/trade/position feed
	OrderFeedURL string   `yaml:"order_feed_url"`
}

// DashboardConfig defines the status API settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// JournalConfig defines where completed cycles are recorded.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Credentials is the token file contents, read once at startup and
// treated as read-only.
type Credentials struct {
	AccessToken string `json:"access_token"`
}

// Load reads and parses the configuration file from the specified path.
// A .env file alongside the process, if present, is loaded first so the
// YAML can reference environment variables.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Optional: ignore a missing .env, same loading order as the config
	_ = godotenv.Load()

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

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

// LoadCredentials reads the access token file named by the broker
// config. The file is never rewritten by the bot.
func (c *Config) LoadCredentials() (*Credentials, error) {
	path := c.Broker.TokenFile
	if path == "" {
		path = "auth_tokens.json"
	}
	data, err := os.ReadFile(path) // #nosec G304 -- token path comes from the operator's config
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing token file: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("token file %s missing access_token", path)
	}
	return &creds, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.ClientID == "" {
		return fmt.Errorf("broker.client_id is required")
	}

	if c.Strategy.Underlying == "" {
		return fmt.Errorf("strategy.underlying is required")
	}
	if c.Strategy.IndexSymbol == "" {
		return fmt.Errorf("strategy.index_symbol is required")
	}
	if c.Strategy.LotSize <= 0 {
		return fmt.Errorf("strategy.lot_size must be > 0")
	}

	c.normalize()

	switch c.Strategy.Variant {
	case "ladder":
		if len(c.Strategy.Legs) == 0 {
			return fmt.Errorf("strategy.legs is required for the ladder variant")
		}
		for i, leg := range c.Strategy.Legs {
			if leg.Role == "" {
				return fmt.Errorf("strategy.legs[%d].role is required", i)
			}
			if leg.OTMOffset < 0 {
				return fmt.Errorf("strategy.legs[%d].otm_offset must be >= 0", i)
			}
			if leg.QtyMultiplier <= 0 {
				return fmt.Errorf("strategy.legs[%d].qty_multiplier must be > 0", i)
			}
			if leg.Side != "buy" && leg.Side != "sell" {
				return fmt.Errorf("strategy.legs[%d].side must be 'buy' or 'sell'", i)
			}
		}
	case "strangle":
		if c.Strategy.StrangleOffset < 0 {
			return fmt.Errorf("strategy.strangle_offset must be >= 0")
		}
	default:
		return fmt.Errorf("strategy.variant must be 'ladder' or 'strangle'")
	}

	if c.Strategy.TargetPct < 0 {
		return fmt.Errorf("strategy.target_pct must be >= 0")
	}
	if c.Strategy.StopLossPct < 0 {
		return fmt.Errorf("strategy.stop_loss_pct must be >= 0")
	}
	if c.Strategy.StrikeBase <= 0 {
		return fmt.Errorf("strategy.strike_base must be > 0")
	}

	if _, err := parseWeekday(c.Strategy.EntryWeekday); err != nil {
		return err
	}

	if _, err := time.ParseDuration(c.Strategy.PollInterval); err != nil {
		return fmt.Errorf("strategy.poll_interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Strategy.OrderPacing); err != nil {
		return fmt.Errorf("strategy.order_pacing invalid: %w", err)
	}

	loc, err := c.Location()
	if err != nil {
		return fmt.Errorf("strategy.timezone invalid: %w", err)
	}
	entry, err1 := time.ParseInLocation("15:04", c.Strategy.EntryTime, loc)
	exit, err2 := time.ParseInLocation("15:04", c.Strategy.ExitTime, loc)
	if err1 != nil || err2 != nil || !entry.Before(exit) {
		return fmt.Errorf("strategy entry/exit window invalid (entry must parse and precede exit)")
	}

	switch c.Strategy.EntryPolicy {
	case "time":
	case "rsi":
		if c.Strategy.RSIPeriod <= 1 {
			return fmt.Errorf("strategy.rsi_period must be > 1 for the rsi entry policy")
		}
		if c.Strategy.RSIThreshold <= 0 || c.Strategy.RSIThreshold >= 100 {
			return fmt.Errorf("strategy.rsi_threshold must be in (0,100)")
		}
	default:
		return fmt.Errorf("strategy.entry_policy must be 'time' or 'rsi'")
	}

	if c.Stream.Enabled {
		if c.Stream.URL == "" {
			return fmt.Errorf("stream.url is required when the stream is enabled")
		}
		if c.Stream.OrderFeed && c.Stream.OrderFeedURL == "" {
			return fmt.Errorf("stream.order_feed_url is required when stream.order_feed is set")
		}
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be a valid TCP port")
	}

	return nil
}

// normalize fills defaults for optional keys.
func (c *Config) normalize() {
	if c.Strategy.Variant == "" {
		c.Strategy.Variant = "ladder"
	}
	if c.Strategy.StrikeBase == 0 {
		c.Strategy.StrikeBase = defaultStrikeBase
	}
	if c.Strategy.PollInterval == "" {
		c.Strategy.PollInterval = defaultPollInterval
	}
	if c.Strategy.OrderPacing == "" {
		c.Strategy.OrderPacing = defaultOrderPacing
	}
	if c.Strategy.Timezone == "" {
		c.Strategy.Timezone = defaultTimezone
	}
	if c.Strategy.ProductType == "" {
		c.Strategy.ProductType = "INTRADAY"
	}
	if c.Strategy.EntryPolicy == "" {
		c.Strategy.EntryPolicy = "time"
	}
	if c.Strategy.EntryWeekday == "" {
		c.Strategy.EntryWeekday = "Monday"
	}
	if c.Strategy.EntryTime == "" {
		c.Strategy.EntryTime = "09:45"
	}
	if c.Strategy.ExitTime == "" {
		c.Strategy.ExitTime = "15:00"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "journal.json"
	}
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the exchange timezone, falling back to a fixed IST
// zone for minimal containers without tzdata.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Strategy.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if tz == defaultTimezone {
			return time.FixedZone("IST", 5*3600+1800), nil
		}
		return nil, err
	}
	return loc, nil
}

// PollInterval returns the configured monitor tick interval.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Strategy.PollInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// OrderPacing returns the configured inter-leg pacing delay.
func (c *Config) OrderPacing() time.Duration {
	d, err := time.ParseDuration(c.Strategy.OrderPacing)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// EntryWeekday returns the configured entry weekday.
func (c *Config) EntryWeekday() time.Weekday {
	wd, err := parseWeekday(c.Strategy.EntryWeekday)
	if err != nil {
		return time.Monday
	}
	return wd
}

// EntryClock returns the entry time as hour and minute.
func (c *Config) EntryClock() (hour, minute int) {
	return parseClock(c.Strategy.EntryTime, 9, 45)
}

// ExitClock returns the exit time as hour and minute.
func (c *Config) ExitClock() (hour, minute int) {
	return parseClock(c.Strategy.ExitTime, 15, 0)
}

// MarketOpenClock returns the session open as hour and minute.
func MarketOpenClock() (hour, minute int) {
	return parseClock(MarketOpen, 9, 15)
}

// MarketCloseClock returns the session close as hour and minute.
func MarketCloseClock() (hour, minute int) {
	return parseClock(MarketClose, 15, 30)
}

func parseClock(s string, defHour, defMin int) (int, int) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return defHour, defMin
	}
	return t.Hour(), t.Minute()
}

func parseWeekday(s string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), s) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("strategy.entry_weekday %q is not a weekday name", s)
}
