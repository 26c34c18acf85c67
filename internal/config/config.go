// Package config loads refi-monitor configuration from config.yaml and
// REFI_* environment variables.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Runner       RunnerConfig       `yaml:"runner" mapstructure:"runner"`
	ClosingCosts ClosingCostsConfig `yaml:"closing_costs" mapstructure:"closing_costs"`
	Market       MarketConfig       `yaml:"market" mapstructure:"market"`
	Notify       NotifyConfig       `yaml:"notify" mapstructure:"notify"`
	Redis        RedisConfig        `yaml:"redis" mapstructure:"redis"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// RunnerConfig configures evaluation passes.
type RunnerConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
	TimeoutSecs  int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency  int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ClosingCostsConfig estimates refinance closing costs as a flat amount plus
// a percent of the outstanding balance. Both decode from their text form so
// no float rounding reaches the engine.
type ClosingCostsConfig struct {
	Flat    decimal.Decimal `yaml:"flat" mapstructure:"flat"`
	Percent decimal.Decimal `yaml:"percent" mapstructure:"percent"`
}

// MarketConfig configures where rate snapshots come from.
type MarketConfig struct {
	Source            string  `yaml:"source" mapstructure:"source"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelayMs  int     `yaml:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	FTPUser           string  `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword       string  `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// NotifyConfig configures the notification webhook.
type NotifyConfig struct {
	WebhookURL       string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelayMs int    `yaml:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
}

// RedisConfig configures the rate snapshot cache. An empty Addr disables it.
type RedisConfig struct {
	Addr         string `yaml:"addr" mapstructure:"addr"`
	Password     string `yaml:"password" mapstructure:"password"`
	DB           int    `yaml:"db" mapstructure:"db"`
	Key          string `yaml:"key" mapstructure:"key"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REFI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "refi.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("runner.interval_secs", 3600)
	v.SetDefault("runner.timeout_secs", 300)
	v.SetDefault("runner.concurrency", 8)
	v.SetDefault("closing_costs.flat", "3000")
	v.SetDefault("closing_costs.percent", "0")
	v.SetDefault("market.source", "rates.yaml")
	v.SetDefault("market.requests_per_second", 1)
	v.SetDefault("market.timeout_secs", 30)
	v.SetDefault("market.max_retries", 3)
	v.SetDefault("market.retry_base_delay_ms", 500)
	v.SetDefault("market.ftp_user", "")
	v.SetDefault("market.ftp_password", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.max_retries", 3)
	v.SetDefault("notify.retry_base_delay_ms", 500)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "refi:rates:latest")
	v.SetDefault("redis.cache_ttl_secs", 300)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.DecodeHookFuncType(decimalHook),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes money settings from strings or YAML numbers. Numbers
// go through their shortest decimal text, never through float arithmetic.
func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	var (
		d   decimal.Decimal
		err error
	)
	switch v := data.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(v))
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case uint64:
		d, err = decimal.NewFromString(strconv.FormatUint(v, 10))
	case float64:
		d, err = decimal.NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return nil, eris.Errorf("config: cannot decode %T as a decimal", data)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "config: parse decimal %v", data)
	}
	return d, nil
}

// Validate checks the settings a command mode needs. Modes: evaluate,
// schedule, serve, migrate.
func (c *Config) Validate(mode string) error {
	var errs []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}

	check(c.Store.Driver == "sqlite" || c.Store.Driver == "postgres",
		"store.driver must be sqlite or postgres (got %q)", c.Store.Driver)
	check(c.Store.DatabaseURL != "", "store.database_url is required")
	check(!c.ClosingCosts.Flat.IsNegative(), "closing_costs.flat must be >= 0")
	pct := c.ClosingCosts.Percent
	check(!pct.IsNegative() && pct.LessThanOrEqual(decimal.NewFromInt(100)),
		"closing_costs.percent must be between 0 and 100")

	switch mode {
	case "migrate":
	case "evaluate":
		c.validateRunner(check)
	case "schedule":
		c.validateRunner(check)
		check(c.Runner.IntervalSecs > 0, "runner.interval_secs must be > 0")
	case "serve":
		check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be > 0 and < 65536")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRunner(check func(bool, string, ...any)) {
	check(c.Market.Source != "", "market.source is required")
	check(c.Runner.Concurrency >= 1 && c.Runner.Concurrency <= 64,
		"runner.concurrency must be between 1 and 64")
	check(c.Runner.TimeoutSecs >= 0, "runner.timeout_secs must be >= 0")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
