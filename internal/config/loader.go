package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SNIPEBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SNIPEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setFloat64(&cfg.Engine.MinMarketCap, "SNIPEBOT_ENGINE_MIN_MARKET_CAP")
	setFloat64(&cfg.Engine.MaxMarketCap, "SNIPEBOT_ENGINE_MAX_MARKET_CAP")
	setFloat64(&cfg.Engine.MinLiquidityUSD, "SNIPEBOT_ENGINE_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Engine.MinVolume1h, "SNIPEBOT_ENGINE_MIN_VOLUME_1H")
	setFloat64(&cfg.Engine.BaseSizeMin, "SNIPEBOT_ENGINE_BASE_SIZE_MIN")
	setFloat64(&cfg.Engine.BaseSizeCeiling, "SNIPEBOT_ENGINE_BASE_SIZE_CEILING")
	setFloat64(&cfg.Engine.ReinvestRatio, "SNIPEBOT_ENGINE_REINVEST_RATIO")
	setInt(&cfg.Engine.MaxTradesPerDay, "SNIPEBOT_ENGINE_MAX_TRADES_PER_DAY")
	setFloat64(&cfg.Engine.TrailingStopMultiplier, "SNIPEBOT_ENGINE_TRAILING_STOP_MULTIPLIER")
	setInt(&cfg.Engine.MaxHoldingSeconds, "SNIPEBOT_ENGINE_MAX_HOLDING_SECONDS")
	setInt(&cfg.Engine.PollIntervalSeconds, "SNIPEBOT_ENGINE_POLL_INTERVAL_SECONDS")
	setStr(&cfg.Engine.BaseUSDPair, "SNIPEBOT_ENGINE_BASE_USD_PAIR")
	setFloat64(&cfg.Engine.FallbackBaseUSD, "SNIPEBOT_ENGINE_FALLBACK_BASE_USD")

	// ── Market data ──
	setStr(&cfg.MarketData.BaseURL, "SNIPEBOT_MARKET_DATA_BASE_URL")
	setStr(&cfg.MarketData.Chain, "SNIPEBOT_MARKET_DATA_CHAIN")
	setDuration(&cfg.MarketData.Freshness, "SNIPEBOT_MARKET_DATA_FRESHNESS")
	setInt(&cfg.MarketData.RateLimit, "SNIPEBOT_MARKET_DATA_RATE_LIMIT")

	// ── Safety ──
	setStr(&cfg.Safety.SolanaFMURL, "SNIPEBOT_SAFETY_SOLANAFM_URL")
	setStr(&cfg.Safety.SolanaFMAPIKey, "SNIPEBOT_SAFETY_SOLANAFM_API_KEY")
	setStr(&cfg.Safety.VerdictURLTemplate, "SNIPEBOT_SAFETY_VERDICT_URL_TEMPLATE")
	setStr(&cfg.Safety.VerdictField, "SNIPEBOT_SAFETY_VERDICT_FIELD")
	setStr(&cfg.Safety.VerdictAPIKey, "SNIPEBOT_SAFETY_VERDICT_API_KEY")
	setDuration(&cfg.Safety.CacheTTL, "SNIPEBOT_SAFETY_CACHE_TTL")

	// ── Executor / relay ──
	setStr(&cfg.Executor.Kind, "SNIPEBOT_EXECUTOR_KIND")
	setFloat64(&cfg.Executor.Slippage, "SNIPEBOT_EXECUTOR_SLIPPAGE")
	setStr(&cfg.Relay.BaseURL, "SNIPEBOT_RELAY_BASE_URL")
	setStr(&cfg.Relay.APIKey, "SNIPEBOT_RELAY_API_KEY")
	setStr(&cfg.Relay.APISecret, "SNIPEBOT_RELAY_API_SECRET")
	setStr(&cfg.Relay.EncryptedSecretPath, "SNIPEBOT_RELAY_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Relay.SecretPassword, "SNIPEBOT_RELAY_SECRET_PASSWORD")
	setFloat64(&cfg.Relay.MinBaseBalance, "SNIPEBOT_RELAY_MIN_BASE_BALANCE")

	// ── Scanner ──
	setDuration(&cfg.Scanner.Interval, "SNIPEBOT_SCANNER_INTERVAL")
	setStringSlice(&cfg.Scanner.Fallback, "SNIPEBOT_SCANNER_FALLBACK")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SNIPEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SNIPEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SNIPEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SNIPEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SNIPEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SNIPEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SNIPEBOT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "SNIPEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SNIPEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPEBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "SNIPEBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SNIPEBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SNIPEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SNIPEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SNIPEBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "SNIPEBOT_S3_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.S3.ArchiveHourUTC, "SNIPEBOT_S3_ARCHIVE_HOUR_UTC")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SNIPEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SNIPEBOT_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // hosting platforms inject this
	setStringSlice(&cfg.Server.CORSOrigins, "SNIPEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SNIPEBOT_SERVER_API_KEY")

	// ── Notify / commands ──
	setStr(&cfg.Notify.TelegramToken, "SNIPEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPEBOT_NOTIFY_EVENTS")
	setBool(&cfg.Commands.TelegramEnabled, "SNIPEBOT_COMMANDS_TELEGRAM_ENABLED")

	// ── Backtest ──
	setStr(&cfg.Backtest.Source, "SNIPEBOT_BACKTEST_SOURCE")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPEBOT_MODE")
	setStr(&cfg.LogLevel, "SNIPEBOT_LOG_LEVEL")
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
