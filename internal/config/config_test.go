package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "refi.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 3600, cfg.Runner.IntervalSecs)
	assert.Equal(t, 300, cfg.Runner.TimeoutSecs)
	assert.Equal(t, 8, cfg.Runner.Concurrency)
	assert.Equal(t, "3000", cfg.ClosingCosts.Flat.String())
	assert.True(t, cfg.ClosingCosts.Percent.IsZero())
	assert.Equal(t, "rates.yaml", cfg.Market.Source)
	assert.Equal(t, 3, cfg.Market.MaxRetries)
	assert.Equal(t, 10, cfg.Notify.TimeoutSecs)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 300, cfg.Redis.CacheTTLSecs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/refi
log:
  level: debug
  format: console
runner:
  concurrency: 4
closing_costs:
  flat: 1500
  percent: 1.25
notify:
  webhook_url: https://hooks.example.com/refi
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/refi", cfg.Store.DatabaseURL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 4, cfg.Runner.Concurrency)
	assert.Equal(t, "1500", cfg.ClosingCosts.Flat.String())
	assert.Equal(t, "1.25", cfg.ClosingCosts.Percent.String())
	assert.Equal(t, "https://hooks.example.com/refi", cfg.Notify.WebhookURL)
	// Defaults still apply for unset values
	assert.Equal(t, 3600, cfg.Runner.IntervalSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
market:
  source: rates.csv
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("REFI_STORE_DRIVER", "postgres")
	t.Setenv("REFI_MARKET_SOURCE", "https://feed.example.com/rates.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "https://feed.example.com/rates.json", cfg.Market.Source)
}

func TestLoadClosingCostsExact(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REFI_CLOSING_COSTS_FLAT", "3500.25")
	t.Setenv("REFI_CLOSING_COSTS_PERCENT", "0.1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.ClosingCosts.Flat.Equal(decimal.RequireFromString("3500.25")))
	assert.True(t, cfg.ClosingCosts.Percent.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, "3500.25", cfg.ClosingCosts.Flat.String())
}

func TestLoadClosingCostsQuotedYAML(t *testing.T) {
	dir := chdirTemp(t)
	yaml := `
closing_costs:
  flat: "2999.99"
  percent: "0.75"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "2999.99", cfg.ClosingCosts.Flat.String())
	assert.Equal(t, "0.75", cfg.ClosingCosts.Percent.String())
}

func TestLoadClosingCostsInvalid(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REFI_CLOSING_COSTS_FLAT", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: unmarshal")
}

func TestDecimalHook(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", " 3500.25 ", "3500.25"},
		{"int", 3000, "3000"},
		{"float", 1.1, "1.1"},
		{"decimal", decimal.RequireFromString("0.3"), "0.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decimalHook(nil, decimalType, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.(decimal.Decimal).String())
		})
	}

	_, err := decimalHook(nil, decimalType, []string{"x"})
	assert.Error(t, err)

	passthrough, err := decimalHook(nil, reflect.TypeOf(""), "3000")
	require.NoError(t, err)
	assert.Equal(t, "3000", passthrough)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REFI_SERVER_PORT", "3000")
	t.Setenv("REFI_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "refi.db"
	cfg.Server.Port = 8080
	cfg.Runner.IntervalSecs = 3600
	cfg.Runner.Concurrency = 8
	cfg.Market.Source = "rates.yaml"
	cfg.ClosingCosts.Flat = decimal.NewFromInt(3000)
	return cfg
}

func TestValidate_Modes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"evaluate", "schedule", "serve", "migrate"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_Store(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_Runner(t *testing.T) {
	cfg := validDefaults()
	cfg.Market.Source = ""
	cfg.Runner.Concurrency = 0
	cfg.Runner.IntervalSecs = 0

	err := cfg.Validate("schedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market.source is required")
	assert.Contains(t, err.Error(), "runner.concurrency must be between 1 and 64")
	assert.Contains(t, err.Error(), "runner.interval_secs must be > 0")

	// evaluate does not need an interval
	cfg = validDefaults()
	cfg.Runner.IntervalSecs = 0
	assert.NoError(t, cfg.Validate("evaluate"))
}

func TestValidate_ClosingCosts(t *testing.T) {
	cfg := validDefaults()
	cfg.ClosingCosts.Flat = decimal.NewFromInt(-1)
	cfg.ClosingCosts.Percent = decimal.RequireFromString("100.01")

	err := cfg.Validate("evaluate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closing_costs.flat must be >= 0")
	assert.Contains(t, err.Error(), "closing_costs.percent must be between 0 and 100")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
