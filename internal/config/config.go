// Package config defines the top-level configuration for the trading bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FLOWBOT_* environment
// variables. Money and ratio parameters are TOML strings decoded into exact
// decimals; floats never enter the price path.
type Config struct {
	Feed     FeedConfig     `toml:"feed"`
	Strategy StrategyConfig `toml:"strategy"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// FeedConfig holds market data feed parameters.
type FeedConfig struct {
	URL          string   `toml:"url"`
	Symbol       string   `toml:"symbol"`
	RetryFloor   duration `toml:"retry_floor"`
	RetryCeiling duration `toml:"retry_ceiling"`
	StaleAfter   duration `toml:"stale_after"`
}

// StrategyConfig holds imbalance signal parameters.
type StrategyConfig struct {
	Depth         int             `toml:"depth"`
	BuyThreshold  decimal.Decimal `toml:"buy_threshold"`
	SellThreshold decimal.Decimal `toml:"sell_threshold"`
	Confidence    decimal.Decimal `toml:"confidence"`
	SpotOnly      bool            `toml:"spot_only"`
}

// TradingConfig holds order sizing and exit parameters.
type TradingConfig struct {
	OrderSize     decimal.Decimal `toml:"order_size"`
	StopLossPct   decimal.Decimal `toml:"stop_loss_pct"`
	TakeProfitPct decimal.Decimal `toml:"take_profit_pct"`
	PaperBalance  decimal.Decimal `toml:"paper_balance"`
	SweepInterval duration        `toml:"sweep_interval"`
}

// RiskConfig holds the hard limits enforced before every order.
type RiskConfig struct {
	DailyLossLimit  decimal.Decimal `toml:"daily_loss_limit"`
	MaxDrawdown     decimal.Decimal `toml:"max_drawdown"`
	MaxPositionSize decimal.Decimal `toml:"max_position_size"`
	MaxExposurePct  decimal.Decimal `toml:"max_exposure_pct"`
	MaxHoldTime     duration        `toml:"max_hold_time"`
	InitialEquity   decimal.Decimal `toml:"initial_equity"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// KafkaConfig holds audit topic parameters.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the aged-record export cycle. Requires both the
// Postgres stores and S3 to be enabled.
type ArchiveConfig struct {
	Enabled    bool     `toml:"enabled"`
	Interval   duration `toml:"interval"`
	RetainDays int      `toml:"retain_days"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5s" or "1h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			URL:          "wss://localhost:8443/ws",
			Symbol:       "BTC-USD",
			RetryFloor:   duration{5 * time.Second},
			RetryCeiling: duration{60 * time.Second},
			StaleAfter:   duration{10 * time.Second},
		},
		Strategy: StrategyConfig{
			Depth:         5,
			BuyThreshold:  decimal.RequireFromString("3.0"),
			SellThreshold: decimal.RequireFromString("0.33"),
			Confidence:    decimal.RequireFromString("0.8"),
			SpotOnly:      false,
		},
		Trading: TradingConfig{
			OrderSize:     decimal.RequireFromString("1"),
			StopLossPct:   decimal.RequireFromString("2"),
			TakeProfitPct: decimal.RequireFromString("4"),
			PaperBalance:  decimal.RequireFromString("10000"),
			SweepInterval: duration{time.Second},
		},
		Risk: RiskConfig{
			DailyLossLimit:  decimal.RequireFromString("500"),
			MaxDrawdown:     decimal.RequireFromString("1000"),
			MaxPositionSize: decimal.RequireFromString("10000"),
			MaxExposurePct:  decimal.RequireFromString("50"),
			MaxHoldTime:     duration{time.Hour},
			InitialEquity:   decimal.RequireFromString("100000"),
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "flowbot",
			User:          "flowbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "flowbot.audit",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flowbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:    false,
			Interval:   duration{24 * time.Hour},
			RetainDays: 90,
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.URL == "" {
		errs = append(errs, "feed: url must not be empty")
	}
	if c.Feed.Symbol == "" {
		errs = append(errs, "feed: symbol must not be empty")
	}
	if c.Feed.RetryFloor.Duration <= 0 {
		errs = append(errs, "feed: retry_floor must be positive")
	}
	if c.Feed.RetryCeiling.Duration < c.Feed.RetryFloor.Duration {
		errs = append(errs, "feed: retry_ceiling must not be below retry_floor")
	}
	if c.Feed.StaleAfter.Duration <= 0 {
		errs = append(errs, "feed: stale_after must be positive")
	}

	// Strategy
	if c.Strategy.Depth < 1 {
		errs = append(errs, "strategy: depth must be >= 1")
	}
	if c.Strategy.BuyThreshold.Sign() <= 0 {
		errs = append(errs, "strategy: buy_threshold must be > 0")
	}
	if c.Strategy.SellThreshold.Sign() <= 0 {
		errs = append(errs, "strategy: sell_threshold must be > 0")
	}
	if c.Strategy.BuyThreshold.LessThanOrEqual(c.Strategy.SellThreshold) {
		errs = append(errs, "strategy: buy_threshold must exceed sell_threshold")
	}
	if c.Strategy.Confidence.Sign() <= 0 || c.Strategy.Confidence.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "strategy: confidence must be in (0, 1]")
	}

	// Trading
	if c.Trading.OrderSize.Sign() <= 0 {
		errs = append(errs, "trading: order_size must be > 0")
	}
	if c.Trading.StopLossPct.Sign() < 0 {
		errs = append(errs, "trading: stop_loss_pct must be >= 0")
	}
	if c.Trading.TakeProfitPct.Sign() < 0 {
		errs = append(errs, "trading: take_profit_pct must be >= 0")
	}
	if c.Mode == "paper" && c.Trading.PaperBalance.Sign() <= 0 {
		errs = append(errs, "trading: paper_balance must be > 0 in paper mode")
	}

	// Risk
	if c.Risk.DailyLossLimit.Sign() <= 0 {
		errs = append(errs, "risk: daily_loss_limit must be > 0")
	}
	if c.Risk.MaxDrawdown.Sign() <= 0 {
		errs = append(errs, "risk: max_drawdown must be > 0")
	}
	if c.Risk.MaxPositionSize.Sign() <= 0 {
		errs = append(errs, "risk: max_position_size must be > 0")
	}
	if c.Risk.MaxExposurePct.Sign() <= 0 || c.Risk.MaxExposurePct.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, "risk: max_exposure_pct must be in (0, 100]")
	}
	if c.Risk.MaxHoldTime.Duration <= 0 {
		errs = append(errs, "risk: max_hold_time must be positive")
	}
	if c.Risk.InitialEquity.Sign() <= 0 {
		errs = append(errs, "risk: initial_equity must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
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

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Postgres.Enabled || !c.S3.Enabled {
			errs = append(errs, "archive: requires postgres and s3 to be enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.RetainDays < 1 {
			errs = append(errs, "archive: retain_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
