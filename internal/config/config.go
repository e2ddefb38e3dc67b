// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CROSSARB_* environment variables.
type Config struct {
	Venues     VenuesConfig         `toml:"venues"`
	Fees       map[string]FeeConfig `toml:"fees"`
	Supervisor SupervisorConfig     `toml:"supervisor"`
	Cache      CacheConfig          `toml:"cache"`
	Matcher    MatcherConfig        `toml:"matcher"`
	Scanner    ScannerConfig        `toml:"scanner"`
	Monitor    MonitorConfig        `toml:"monitor"`
	Session    SessionConfig        `toml:"session"`
	Redis      RedisConfig          `toml:"redis"`
	Server     ServerConfig         `toml:"server"`
	Mode       string               `toml:"mode"`
	LogLevel   string               `toml:"log_level"`
}

// VenuesConfig groups the per-venue connection settings.
type VenuesConfig struct {
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Opinion    OpinionConfig    `toml:"opinion"`
}

// KalshiConfig holds Kalshi endpoints and credentials. Either an RSA key pair
// (api_key + rsa_private_key_path) or email/password session login is used.
type KalshiConfig struct {
	Enabled           bool   `toml:"enabled"`
	BaseURL           string `toml:"base_url"`
	WsURL             string `toml:"ws_url"`
	ApiKey            string `toml:"api_key"`
	RsaPrivateKeyPath string `toml:"rsa_private_key_path"`
	Email             string `toml:"email"`
	Password          string `toml:"password"`
	MaxMarkets        int    `toml:"max_markets"`
	Timezone          string `toml:"timezone"`
}

// PolymarketConfig holds Polymarket Gamma and CLOB WebSocket endpoints.
type PolymarketConfig struct {
	Enabled    bool   `toml:"enabled"`
	GammaHost  string `toml:"gamma_host"`
	WsHost     string `toml:"ws_host"`
	MaxMarkets int    `toml:"max_markets"`
	Timezone   string `toml:"timezone"`
}

// OpinionConfig holds Opinion REST settings. Opinion has no push feed used
// here; books are polled.
type OpinionConfig struct {
	Enabled           bool     `toml:"enabled"`
	BaseURL           string   `toml:"base_url"`
	ApiKey            string   `toml:"api_key"`
	PollInterval      duration `toml:"poll_interval"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	MaxMarkets        int      `toml:"max_markets"`
	Timezone          string   `toml:"timezone"`
}

// FeeConfig is a venue fee schedule. Rates are fractions of notional.
type FeeConfig struct {
	TakerRate      decimal.Decimal `toml:"taker_rate"`
	MakerRate      decimal.Decimal `toml:"maker_rate"`
	MaxPerContract decimal.Decimal `toml:"max_per_contract"`
	FixedPerOrder  decimal.Decimal `toml:"fixed_per_order"`
	GasPerOrder    decimal.Decimal `toml:"gas_per_order"`
	GasMax         decimal.Decimal `toml:"gas_max"`
}

// SupervisorConfig controls venue reconnection.
type SupervisorConfig struct {
	BaseDelay        duration `toml:"base_delay"`
	MaxDelay         duration `toml:"max_delay"`
	Jitter           float64  `toml:"jitter"` // randomized fraction of each delay; 1 is full jitter
	ConnectTimeout   duration `toml:"connect_timeout"`
	FailureThreshold int      `toml:"failure_threshold"`
	FailureWindow    duration `toml:"failure_window"`
	EventBuffer      int      `toml:"event_buffer"`
}

// CacheConfig controls the order book cache.
type CacheConfig struct {
	StaleAfter   duration `toml:"stale_after"`
	NotifyBuffer int      `toml:"notify_buffer"`
}

// MatcherConfig controls cross-venue market matching.
type MatcherConfig struct {
	RefreshCron           string   `toml:"refresh_cron"`
	DiscoveryCron         string   `toml:"discovery_cron"`
	Threshold             float64  `toml:"threshold"`
	MinQuestionSimilarity float64  `toml:"min_question_similarity"`
	ExpiryTolerance       duration `toml:"expiry_tolerance"`
	ExpiryDecay           duration `toml:"expiry_decay"`
	TimezoneMissingScore  float64  `toml:"timezone_missing_score"`
	TimezonePenalty       float64  `toml:"timezone_penalty"`
}

// ScannerConfig controls opportunity detection.
type ScannerConfig struct {
	SweepInterval duration        `toml:"sweep_interval"`
	Debounce      duration        `toml:"debounce"`
	SizeBasis     decimal.Decimal `toml:"size_basis"`
	BucketWidth   decimal.Decimal `toml:"bucket_width"`
	MinROI        decimal.Decimal `toml:"min_roi"`
	SanityCeiling decimal.Decimal `toml:"sanity_ceiling"`
	GasMultiplier decimal.Decimal `toml:"gas_multiplier"`
	OutputBuffer  int             `toml:"output_buffer"`
}

// MonitorConfig holds edge-case detector thresholds.
type MonitorConfig struct {
	SlippageCritical    decimal.Decimal `toml:"slippage_critical"`
	SlippageHigh        decimal.Decimal `toml:"slippage_high"`
	MinFillRatio        decimal.Decimal `toml:"min_fill_ratio"`
	LowFillRatio        decimal.Decimal `toml:"low_fill_ratio"`
	DivergenceThreshold decimal.Decimal `toml:"divergence_threshold"`
	AlertLimit          int             `toml:"alert_limit"`
	AlertWindow         duration        `toml:"alert_window"`
	StatsCron           string          `toml:"stats_cron"`
	// HedgeMaxSlippagePct bounds how deep into the book a hedge is priced.
	HedgeMaxSlippagePct decimal.Decimal `toml:"hedge_max_slippage_pct"`
}

// SessionConfig holds tenant session defaults.
type SessionConfig struct {
	QueueSize          int             `toml:"queue_size"`
	DefaultMinROI      decimal.Decimal `toml:"default_min_roi"`
	DefaultMaxPosition decimal.Decimal `toml:"default_max_position"`
	DefaultVenues      []string        `toml:"default_venues"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// enabled, opportunities and alerts are published and alert rate limits are
// shared across processes.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ServerConfig holds the control API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per rate_window per client; 0 disables
	RateWindow  duration `toml:"rate_window"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Venues: VenuesConfig{
			Kalshi: KalshiConfig{
				Enabled:    true,
				BaseURL:    "https://api.elections.kalshi.com/trade-api/v2",
				WsURL:      "wss://api.elections.kalshi.com/trade-api/ws/v2",
				MaxMarkets: 200,
				Timezone:   "America/New_York",
			},
			Polymarket: PolymarketConfig{
				Enabled:    true,
				GammaHost:  "https://gamma-api.polymarket.com",
				WsHost:     "wss://ws-subscriptions-clob.polymarket.com/ws/market",
				MaxMarkets: 200,
				Timezone:   "UTC",
			},
			Opinion: OpinionConfig{
				Enabled:           false,
				BaseURL:           "https://api.opinion.trade/v1",
				PollInterval:      duration{2 * time.Second},
				RequestsPerSecond: 5,
				MaxMarkets:        100,
				Timezone:          "UTC",
			},
		},
		Fees: map[string]FeeConfig{
			"polymarket": {
				GasPerOrder: decimal.RequireFromString("0.05"),
				GasMax:      decimal.RequireFromString("0.20"),
			},
			"kalshi": {
				TakerRate:      decimal.RequireFromString("0.007"),
				MaxPerContract: decimal.RequireFromString("1.00"),
				FixedPerOrder:  decimal.RequireFromString("1.00"),
			},
		},
		Supervisor: SupervisorConfig{
			BaseDelay:        duration{2 * time.Second},
			MaxDelay:         duration{60 * time.Second},
			Jitter:           1.0,
			ConnectTimeout:   duration{15 * time.Second},
			FailureThreshold: 5,
			FailureWindow:    duration{5 * time.Minute},
			EventBuffer:      1024,
		},
		Cache: CacheConfig{
			StaleAfter:   duration{5 * time.Second},
			NotifyBuffer: 1024,
		},
		Matcher: MatcherConfig{
			RefreshCron:           "@every 3m",
			DiscoveryCron:         "@every 10m",
			Threshold:             0.70,
			MinQuestionSimilarity: 0,
			ExpiryTolerance:       duration{time.Hour},
			ExpiryDecay:           duration{7 * 24 * time.Hour},
			TimezoneMissingScore:  0.7,
			TimezonePenalty:       0.6,
		},
		Scanner: ScannerConfig{
			SweepInterval: duration{30 * time.Second},
			Debounce:      duration{250 * time.Millisecond},
			SizeBasis:     decimal.NewFromInt(100),
			BucketWidth:   decimal.RequireFromString("0.005"),
			MinROI:        decimal.Zero,
			SanityCeiling: decimal.NewFromInt(25),
			GasMultiplier: decimal.NewFromInt(1),
			OutputBuffer:  256,
		},
		Monitor: MonitorConfig{
			SlippageCritical:    decimal.RequireFromString("0.02"),
			SlippageHigh:        decimal.RequireFromString("0.01"),
			MinFillRatio:        decimal.RequireFromString("0.80"),
			LowFillRatio:        decimal.RequireFromString("0.50"),
			DivergenceThreshold: decimal.RequireFromString("0.05"),
			AlertLimit:          1,
			AlertWindow:         duration{time.Minute},
			StatsCron:           "@every 5m",
			HedgeMaxSlippagePct: decimal.NewFromInt(2),
		},
		Session: SessionConfig{
			QueueSize:          256,
			DefaultMinROI:      decimal.NewFromInt(1),
			DefaultMaxPosition: decimal.NewFromInt(100),
			DefaultVenues:      []string{"polymarket", "kalshi", "opinion"},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan": true,
	"full": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// knownVenues enumerates venue names accepted in fee tables and defaults.
var knownVenues = map[string]bool{
	"kalshi":     true,
	"polymarket": true,
	"opinion":    true,
}

// EnabledVenues returns the names of the venues switched on in the config.
func (c *Config) EnabledVenues() []string {
	var out []string
	if c.Venues.Kalshi.Enabled {
		out = append(out, "kalshi")
	}
	if c.Venues.Polymarket.Enabled {
		out = append(out, "polymarket")
	}
	if c.Venues.Opinion.Enabled {
		out = append(out, "opinion")
	}
	return out
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venues
	enabled := c.EnabledVenues()
	if len(enabled) < 2 {
		errs = append(errs, fmt.Sprintf("venues: at least two venues must be enabled for cross-venue matching, got %d", len(enabled)))
	}
	if k := c.Venues.Kalshi; k.Enabled {
		if k.BaseURL == "" || k.WsURL == "" {
			errs = append(errs, "venues.kalshi: base_url and ws_url must not be empty")
		}
		hasRSA := k.ApiKey != "" && k.RsaPrivateKeyPath != ""
		hasLogin := k.Email != "" && k.Password != ""
		if !hasRSA && !hasLogin {
			errs = append(errs, "venues.kalshi: set api_key + rsa_private_key_path or email + password")
		}
		if k.MaxMarkets < 1 {
			errs = append(errs, "venues.kalshi: max_markets must be >= 1")
		}
	}
	if p := c.Venues.Polymarket; p.Enabled {
		if p.GammaHost == "" || p.WsHost == "" {
			errs = append(errs, "venues.polymarket: gamma_host and ws_host must not be empty")
		}
		if p.MaxMarkets < 1 {
			errs = append(errs, "venues.polymarket: max_markets must be >= 1")
		}
	}
	if o := c.Venues.Opinion; o.Enabled {
		if o.BaseURL == "" {
			errs = append(errs, "venues.opinion: base_url must not be empty")
		}
		if o.PollInterval.Duration <= 0 {
			errs = append(errs, "venues.opinion: poll_interval must be > 0")
		}
		if o.RequestsPerSecond <= 0 {
			errs = append(errs, "venues.opinion: requests_per_second must be > 0")
		}
	}

	// Fees
	for name, f := range c.Fees {
		if !knownVenues[name] {
			errs = append(errs, fmt.Sprintf("fees: unknown venue %q", name))
			continue
		}
		for field, v := range map[string]decimal.Decimal{
			"taker_rate": f.TakerRate, "maker_rate": f.MakerRate, "max_per_contract": f.MaxPerContract,
			"fixed_per_order": f.FixedPerOrder, "gas_per_order": f.GasPerOrder, "gas_max": f.GasMax,
		} {
			if v.IsNegative() {
				errs = append(errs, fmt.Sprintf("fees.%s: %s must be >= 0", name, field))
			}
		}
		if f.TakerRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			errs = append(errs, fmt.Sprintf("fees.%s: taker_rate is a fraction and must be < 1", name))
		}
	}

	// Supervisor
	s := c.Supervisor
	if s.BaseDelay.Duration <= 0 || s.MaxDelay.Duration < s.BaseDelay.Duration {
		errs = append(errs, "supervisor: base_delay must be > 0 and max_delay >= base_delay")
	}
	if s.Jitter < 0 || s.Jitter > 1 {
		errs = append(errs, "supervisor: jitter must be within [0,1]")
	}
	if s.ConnectTimeout.Duration <= 0 {
		errs = append(errs, "supervisor: connect_timeout must be > 0")
	}
	if s.FailureThreshold < 1 {
		errs = append(errs, "supervisor: failure_threshold must be >= 1")
	}
	if s.EventBuffer < 1 {
		errs = append(errs, "supervisor: event_buffer must be >= 1")
	}

	// Cache
	if c.Cache.StaleAfter.Duration <= 0 {
		errs = append(errs, "cache: stale_after must be > 0")
	}

	// Matcher
	if c.Matcher.Threshold <= 0 || c.Matcher.Threshold > 1 {
		errs = append(errs, "matcher: threshold must be within (0,1]")
	}
	if c.Matcher.RefreshCron == "" {
		errs = append(errs, "matcher: refresh_cron must not be empty")
	}
	if c.Matcher.ExpiryDecay.Duration <= 0 {
		errs = append(errs, "matcher: expiry_decay must be > 0")
	}

	// Scanner
	if c.Scanner.SweepInterval.Duration <= 0 {
		errs = append(errs, "scanner: sweep_interval must be > 0")
	}
	if !c.Scanner.SizeBasis.IsPositive() {
		errs = append(errs, "scanner: size_basis must be > 0")
	}
	if !c.Scanner.BucketWidth.IsPositive() {
		errs = append(errs, "scanner: bucket_width must be > 0")
	}
	if !c.Scanner.SanityCeiling.IsPositive() {
		errs = append(errs, "scanner: sanity_ceiling must be > 0")
	}

	// Monitor
	if c.Monitor.SlippageHigh.GreaterThan(c.Monitor.SlippageCritical) {
		errs = append(errs, "monitor: slippage_high must not exceed slippage_critical")
	}
	if c.Monitor.AlertLimit < 1 || c.Monitor.AlertWindow.Duration <= 0 {
		errs = append(errs, "monitor: alert_limit must be >= 1 and alert_window > 0")
	}
	if c.Monitor.HedgeMaxSlippagePct.IsNegative() {
		errs = append(errs, "monitor: hedge_max_slippage_pct must be >= 0")
	}

	// Session
	if c.Session.QueueSize < 1 {
		errs = append(errs, "session: queue_size must be >= 1")
	}
	for _, v := range c.Session.DefaultVenues {
		if !knownVenues[v] {
			errs = append(errs, fmt.Sprintf("session: unknown default venue %q", v))
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Server
	if strings.ToLower(c.Mode) == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
