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
// built-in defaults, applies FLOWBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env if present; absence is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLOWBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.URL, "FLOWBOT_FEED_URL")
	setStr(&cfg.Feed.Symbol, "FLOWBOT_FEED_SYMBOL")
	setDuration(&cfg.Feed.RetryFloor, "FLOWBOT_FEED_RETRY_FLOOR")
	setDuration(&cfg.Feed.RetryCeiling, "FLOWBOT_FEED_RETRY_CEILING")
	setDuration(&cfg.Feed.StaleAfter, "FLOWBOT_FEED_STALE_AFTER")

	// ── Strategy ──
	setInt(&cfg.Strategy.Depth, "FLOWBOT_STRATEGY_DEPTH")
	setDecimal(&cfg.Strategy.BuyThreshold, "FLOWBOT_STRATEGY_BUY_THRESHOLD")
	setDecimal(&cfg.Strategy.SellThreshold, "FLOWBOT_STRATEGY_SELL_THRESHOLD")
	setDecimal(&cfg.Strategy.Confidence, "FLOWBOT_STRATEGY_CONFIDENCE")
	setBool(&cfg.Strategy.SpotOnly, "FLOWBOT_STRATEGY_SPOT_ONLY")

	// ── Trading ──
	setDecimal(&cfg.Trading.OrderSize, "FLOWBOT_TRADING_ORDER_SIZE")
	setDecimal(&cfg.Trading.StopLossPct, "FLOWBOT_TRADING_STOP_LOSS_PCT")
	setDecimal(&cfg.Trading.TakeProfitPct, "FLOWBOT_TRADING_TAKE_PROFIT_PCT")
	setDecimal(&cfg.Trading.PaperBalance, "FLOWBOT_TRADING_PAPER_BALANCE")
	setDuration(&cfg.Trading.SweepInterval, "FLOWBOT_TRADING_SWEEP_INTERVAL")

	// ── Risk ──
	setDecimal(&cfg.Risk.DailyLossLimit, "FLOWBOT_RISK_DAILY_LOSS_LIMIT")
	setDecimal(&cfg.Risk.MaxDrawdown, "FLOWBOT_RISK_MAX_DRAWDOWN")
	setDecimal(&cfg.Risk.MaxPositionSize, "FLOWBOT_RISK_MAX_POSITION_SIZE")
	setDecimal(&cfg.Risk.MaxExposurePct, "FLOWBOT_RISK_MAX_EXPOSURE_PCT")
	setDuration(&cfg.Risk.MaxHoldTime, "FLOWBOT_RISK_MAX_HOLD_TIME")
	setDecimal(&cfg.Risk.InitialEquity, "FLOWBOT_RISK_INITIAL_EQUITY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FLOWBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FLOWBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLOWBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLOWBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLOWBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLOWBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLOWBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLOWBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLOWBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLOWBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLOWBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FLOWBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FLOWBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLOWBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLOWBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLOWBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLOWBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLOWBOT_REDIS_TLS_ENABLED")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "FLOWBOT_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "FLOWBOT_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "FLOWBOT_KAFKA_TOPIC")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FLOWBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FLOWBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLOWBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLOWBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLOWBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLOWBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLOWBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLOWBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FLOWBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "FLOWBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetainDays, "FLOWBOT_ARCHIVE_RETAIN_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLOWBOT_MODE")
	setStr(&cfg.LogLevel, "FLOWBOT_LOG_LEVEL")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
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
