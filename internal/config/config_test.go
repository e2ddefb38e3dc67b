package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/config"
)

func validConfig() config.Config {
	cfg := config.Defaults()
	cfg.Venues.Kalshi.Email = "ops@example.com"
	cfg.Venues.Kalshi.Password = "secret"
	return cfg
}

func TestDefaults_ValidOnceCredentialsSet(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 15*time.Second, cfg.Supervisor.ConnectTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Cache.StaleAfter.Duration)
	assert.Equal(t, 0.70, cfg.Matcher.Threshold)
	assert.True(t, cfg.Fees["kalshi"].TakerRate.Equal(decimal.RequireFromString("0.007")))
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	cfg.Supervisor.FailureThreshold = 0
	cfg.Scanner.SizeBasis = decimal.Zero
	cfg.Fees["mystery"] = config.FeeConfig{}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "turbo"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "venues.kalshi: set api_key")
	assert.Contains(t, msg, "failure_threshold")
	assert.Contains(t, msg, "size_basis")
	assert.Contains(t, msg, `unknown venue "mystery"`)
}

func TestValidate_RequiresTwoVenues(t *testing.T) {
	cfg := validConfig()
	cfg.Venues.Kalshi.Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two venues")
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crossarb.toml")
	body := `
mode = "scan"
log_level = "debug"

[venues.kalshi]
enabled = true
email = "file@example.com"
password = "from-file"
max_markets = 50

[supervisor]
base_delay = "500ms"
max_delay = "10s"

[scanner]
size_basis = 250
sanity_ceiling = "30"

[fees.opinion]
taker_rate = "0.02"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CROSSARB_KALSHI_PASSWORD", "from-env")
	t.Setenv("CROSSARB_SERVER_CORS_ORIGINS", " https://a.example , https://b.example ")
	t.Setenv("CROSSARB_SESSION_DEFAULT_MIN_ROI", "2.5")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 50, cfg.Venues.Kalshi.MaxMarkets)
	assert.Equal(t, "from-env", cfg.Venues.Kalshi.Password)
	assert.Equal(t, 500*time.Millisecond, cfg.Supervisor.BaseDelay.Duration)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.MaxDelay.Duration)
	assert.True(t, cfg.Scanner.SizeBasis.Equal(decimal.NewFromInt(250)))
	assert.True(t, cfg.Scanner.SanityCeiling.Equal(decimal.NewFromInt(30)))
	assert.True(t, cfg.Fees["opinion"].TakerRate.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Session.DefaultMinROI.Equal(decimal.RequireFromString("2.5")))

	// Untouched sections keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Supervisor.ConnectTimeout.Duration)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Venues.Kalshi.ApiKey = "key-id"
	cfg.Redis.Password = "hunter2"
	cfg.Server.APIKey = "api"

	out := config.RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Venues.Kalshi.ApiKey)
	assert.Equal(t, "***", out.Venues.Kalshi.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Venues.Opinion.ApiKey)

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "secret", cfg.Venues.Kalshi.Password)
}
