package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CROSSARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated.
//
// A [fees.<venue>] table replaces the whole default schedule for that venue.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CROSSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Kalshi ──
	setBool(&cfg.Venues.Kalshi.Enabled, "CROSSARB_KALSHI_ENABLED")
	setStr(&cfg.Venues.Kalshi.BaseURL, "CROSSARB_KALSHI_BASE_URL")
	setStr(&cfg.Venues.Kalshi.WsURL, "CROSSARB_KALSHI_WS_URL")
	setStr(&cfg.Venues.Kalshi.ApiKey, "CROSSARB_KALSHI_API_KEY")
	setStr(&cfg.Venues.Kalshi.RsaPrivateKeyPath, "CROSSARB_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Venues.Kalshi.Email, "CROSSARB_KALSHI_EMAIL")
	setStr(&cfg.Venues.Kalshi.Password, "CROSSARB_KALSHI_PASSWORD")
	setInt(&cfg.Venues.Kalshi.MaxMarkets, "CROSSARB_KALSHI_MAX_MARKETS")

	// ── Polymarket ──
	setBool(&cfg.Venues.Polymarket.Enabled, "CROSSARB_POLYMARKET_ENABLED")
	setStr(&cfg.Venues.Polymarket.GammaHost, "CROSSARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Venues.Polymarket.WsHost, "CROSSARB_POLYMARKET_WS_HOST")
	setInt(&cfg.Venues.Polymarket.MaxMarkets, "CROSSARB_POLYMARKET_MAX_MARKETS")

	// ── Opinion ──
	setBool(&cfg.Venues.Opinion.Enabled, "CROSSARB_OPINION_ENABLED")
	setStr(&cfg.Venues.Opinion.BaseURL, "CROSSARB_OPINION_BASE_URL")
	setStr(&cfg.Venues.Opinion.ApiKey, "CROSSARB_OPINION_API_KEY")
	setDuration(&cfg.Venues.Opinion.PollInterval, "CROSSARB_OPINION_POLL_INTERVAL")
	setFloat64(&cfg.Venues.Opinion.RequestsPerSecond, "CROSSARB_OPINION_REQUESTS_PER_SECOND")

	// ── Supervisor ──
	setDuration(&cfg.Supervisor.BaseDelay, "CROSSARB_SUPERVISOR_BASE_DELAY")
	setDuration(&cfg.Supervisor.MaxDelay, "CROSSARB_SUPERVISOR_MAX_DELAY")
	setDuration(&cfg.Supervisor.ConnectTimeout, "CROSSARB_SUPERVISOR_CONNECT_TIMEOUT")
	setInt(&cfg.Supervisor.FailureThreshold, "CROSSARB_SUPERVISOR_FAILURE_THRESHOLD")

	// ── Cache / Matcher / Scanner ──
	setDuration(&cfg.Cache.StaleAfter, "CROSSARB_CACHE_STALE_AFTER")
	setStr(&cfg.Matcher.RefreshCron, "CROSSARB_MATCHER_REFRESH_CRON")
	setFloat64(&cfg.Matcher.Threshold, "CROSSARB_MATCHER_THRESHOLD")
	setFloat64(&cfg.Matcher.MinQuestionSimilarity, "CROSSARB_MATCHER_MIN_QUESTION_SIMILARITY")
	setDuration(&cfg.Scanner.SweepInterval, "CROSSARB_SCANNER_SWEEP_INTERVAL")
	setDuration(&cfg.Scanner.Debounce, "CROSSARB_SCANNER_DEBOUNCE")
	setDecimal(&cfg.Scanner.SizeBasis, "CROSSARB_SCANNER_SIZE_BASIS")
	setDecimal(&cfg.Scanner.SanityCeiling, "CROSSARB_SCANNER_SANITY_CEILING")

	// ── Session ──
	setInt(&cfg.Session.QueueSize, "CROSSARB_SESSION_QUEUE_SIZE")
	setDecimal(&cfg.Session.DefaultMinROI, "CROSSARB_SESSION_DEFAULT_MIN_ROI")
	setDecimal(&cfg.Session.DefaultMaxPosition, "CROSSARB_SESSION_DEFAULT_MAX_POSITION")
	setStringSlice(&cfg.Session.DefaultVenues, "CROSSARB_SESSION_DEFAULT_VENUES")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CROSSARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CROSSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CROSSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CROSSARB_REDIS_TLS_ENABLED")

	// ── Server ──
	setInt(&cfg.Server.Port, "CROSSARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CROSSARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CROSSARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CROSSARB_SERVER_RATE_LIMIT")

	// ── Top-level ──
	setStr(&cfg.Mode, "CROSSARB_MODE")
	setStr(&cfg.LogLevel, "CROSSARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
