// Package config defines the top-level configuration for snipebot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SNIPEBOT_* environment variables.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	MarketData MarketDataConfig `toml:"market_data"`
	Safety     SafetyConfig     `toml:"safety"`
	Executor   ExecutorConfig   `toml:"executor"`
	Relay      RelayConfig      `toml:"relay"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Commands   CommandsConfig   `toml:"commands"`
	Backtest   BacktestConfig   `toml:"backtest"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// EngineConfig holds the qualification thresholds, sizing and exit rules.
type EngineConfig struct {
	MinMarketCap              float64 `toml:"min_market_cap"`
	MaxMarketCap              float64 `toml:"max_market_cap"`
	MinLiquidityUSD           float64 `toml:"min_liquidity_usd"`
	MinLiquidityToCapRatio    float64 `toml:"min_liquidity_to_cap_ratio"`
	MinVolume1h               float64 `toml:"min_volume_1h"`
	MinAcceleration           float64 `toml:"min_acceleration"`
	MaxPriceImpact            float64 `toml:"max_price_impact"`
	MaxShortTermVolatilityPct float64 `toml:"max_short_term_volatility_pct"`
	MinPoolAgeSeconds         int     `toml:"min_pool_age_seconds"`
	MaxPoolAgeSeconds         int     `toml:"max_pool_age_seconds"`

	BaseSizeMin         float64 `toml:"base_size_min"`
	BaseSizeCeiling     float64 `toml:"base_size_ceiling"`
	ReinvestRatio       float64 `toml:"reinvest_ratio"`
	LossStreakThreshold int     `toml:"loss_streak_threshold"`
	MaxTradesPerDay     int     `toml:"max_trades_per_day"`

	ATRWindow              int     `toml:"atr_window"`
	TrailingStopMultiplier float64 `toml:"trailing_stop_multiplier"`
	MaxHoldingSeconds      int     `toml:"max_holding_seconds"`
	PollIntervalSeconds    int     `toml:"poll_interval_seconds"`

	// BaseUSDPair is the DexScreener pair used to price the base asset. Empty
	// means FallbackBaseUSD is used as a fixed rate.
	BaseUSDPair     string   `toml:"base_usd_pair"`
	FallbackBaseUSD float64  `toml:"fallback_base_usd"`
	RateCacheTTL    duration `toml:"rate_cache_ttl"`
}

// MarketDataConfig configures the snapshot gateway.
type MarketDataConfig struct {
	BaseURL        string   `toml:"base_url"`
	Chain          string   `toml:"chain"`
	Freshness      duration `toml:"freshness"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	MaxEntries     int      `toml:"max_entries"`
	RetryAttempts  int      `toml:"retry_attempts"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
}

// SafetyConfig configures the rug-pull oracles. Each source is enabled when
// its URL is set.
type SafetyConfig struct {
	SolanaFMURL     string             `toml:"solanafm_url"`
	SolanaFMAPIKey  string             `toml:"solanafm_api_key"`
	EventThresholds map[string]float64 `toml:"event_thresholds"`
	Lookback        duration           `toml:"lookback"`

	VerdictURLTemplate  string `toml:"verdict_url_template"`
	VerdictField        string `toml:"verdict_field"`
	VerdictAPIKeyHeader string `toml:"verdict_api_key_header"`
	VerdictAPIKey       string `toml:"verdict_api_key"`

	CacheTTL duration `toml:"cache_ttl"`
}

// ExecutorConfig selects the trade executor.
type ExecutorConfig struct {
	// Kind is "paper" or "relay".
	Kind          string   `toml:"kind"`
	Slippage      float64  `toml:"slippage"`
	RetryAttempts int      `toml:"retry_attempts"`
	RetryDelay    duration `toml:"retry_delay"`
}

// RelayConfig holds the swap relay endpoint and credentials. The secret may be
// stored encrypted on disk; see crypto.EncryptSecret.
type RelayConfig struct {
	BaseURL             string   `toml:"base_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	MinBaseBalance      float64  `toml:"min_base_balance"`
	Timeout             duration `toml:"timeout"`
}

// ScannerConfig configures the scan loop.
type ScannerConfig struct {
	Interval         duration `toml:"interval"`
	Fallback         []string `toml:"fallback"`
	DedupResetCycles int      `toml:"dedup_reset_cycles"`
	LockKey          string   `toml:"lock_key"`
	LockTTL          duration `toml:"lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters. The store is
// disabled when neither DSN nor Host is set.
type PostgresConfig struct {
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

// Enabled reports whether enough is configured to connect.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || strings.TrimSpace(p.Host) != ""
}

// RedisConfig holds Redis connection parameters. Empty Addr disables Redis.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters and the archive
// schedule. Empty Bucket disables the archive.
type S3Config struct {
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	ArchiveHourUTC       int    `toml:"archive_hour_utc"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Timeout           duration `toml:"timeout"`
}

// CommandsConfig configures the Telegram command bot. It reuses the notify
// token and chat id.
type CommandsConfig struct {
	TelegramEnabled bool     `toml:"telegram_enabled"`
	PollTimeout     duration `toml:"poll_timeout"`
}

// BacktestConfig configures backtest mode.
type BacktestConfig struct {
	// Source is a CSV file path or an s3://bucket/key URI.
	Source string `toml:"source"`
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

// Defaults returns a Config populated with the engine defaults.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MinMarketCap:              10_000,
			MaxMarketCap:              200_000,
			MinLiquidityUSD:           50_000,
			MinLiquidityToCapRatio:    0.1,
			MinVolume1h:               10_000,
			MinAcceleration:           0,
			MaxPriceImpact:            0.05,
			MaxShortTermVolatilityPct: 15,
			MinPoolAgeSeconds:         60,
			MaxPoolAgeSeconds:         6 * 3600,
			BaseSizeMin:               0.048387,
			BaseSizeCeiling:           0.048387,
			ReinvestRatio:             0.5,
			LossStreakThreshold:       3,
			MaxTradesPerDay:           4,
			ATRWindow:                 14,
			TrailingStopMultiplier:    2.8,
			MaxHoldingSeconds:         7200,
			PollIntervalSeconds:       10,
			FallbackBaseUSD:           310,
			RateCacheTTL:              duration{time.Minute},
		},
		MarketData: MarketDataConfig{
			BaseURL:        "https://api.dexscreener.com",
			Chain:          "solana",
			Freshness:      duration{45 * time.Second},
			RateLimit:      250,
			RateWindow:     duration{time.Minute},
			MaxEntries:     10_000,
			RetryAttempts:  3,
			RetryBaseDelay: duration{2 * time.Second},
		},
		Safety: SafetyConfig{
			SolanaFMURL: "https://api.solana.fm",
			EventThresholds: map[string]float64{
				"LIQUIDITY_WITHDRAWAL": 8000,
				"TOKEN_BURN":           8000,
				"TRANSFER":             800000,
			},
			Lookback: duration{time.Hour},
			CacheTTL: duration{30 * time.Second},
		},
		Executor: ExecutorConfig{
			Kind:          "paper",
			Slippage:      0.03,
			RetryAttempts: 3,
			RetryDelay:    duration{2 * time.Second},
		},
		Relay: RelayConfig{
			MinBaseBalance: 0.15,
			Timeout:        duration{15 * time.Second},
		},
		Scanner: ScannerConfig{
			Interval: duration{10 * time.Second},
			Fallback: []string{
				"3trQxYokXbnxFThN2ppaCBqrodu9zyPPviaQf75MBAGS",
				"XbYpCajESGmRVor733e7e1uT9NLxdWxZMdXV3L4bonk",
				"4nig1DDAzUw9s2DYfDhhY3eXkSYwssdGr5mX5FRWJJ7D",
				"yRcSaCyujTwnAA2mdZXB3ykJ9UjPjWKH6EAu15apump",
				"9qitnJLcrwxYN6xb5n9jYBsQAFfLKqnzwGRvHa7Wpump",
			},
			DedupResetCycles: 360,
			LockKey:          "scanner",
			LockTTL:          duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "snipebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "snipebot",
		},
		S3: S3Config{
			Region:               "us-east-1",
			UseSSL:               true,
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
			ArchiveHourUTC:       3,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			TelegramAPIURL: "https://api.telegram.org",
			Events: []string{
				"position_opened", "position_closed", "rug_exit", "entry_failed",
				"low_balance", "safety_degraded", "feature_disabled", "monitoring_lost", "error",
			},
			Timeout: duration{10 * time.Second},
		},
		Commands: CommandsConfig{
			TelegramEnabled: true,
			PollTimeout:     duration{30 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":    true,
	"monitor":  true,
	"backtest": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. Missing credentials are not
// errors: the affected feature is disabled at wiring time.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: trade, monitor, backtest, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	e := c.Engine
	if e.MinMarketCap < 0 || e.MaxMarketCap <= 0 || e.MinMarketCap > e.MaxMarketCap {
		add("engine: need 0 <= min_market_cap <= max_market_cap and max_market_cap > 0")
	}
	if e.MinLiquidityUSD < 0 || e.MinLiquidityToCapRatio < 0 || e.MinVolume1h < 0 {
		add("engine: liquidity and volume floors must be >= 0")
	}
	if e.MaxPriceImpact <= 0 {
		add("engine: max_price_impact must be > 0")
	}
	if e.MaxShortTermVolatilityPct <= 0 {
		add("engine: max_short_term_volatility_pct must be > 0")
	}
	if e.MinPoolAgeSeconds < 0 || (e.MaxPoolAgeSeconds > 0 && e.MaxPoolAgeSeconds < e.MinPoolAgeSeconds) {
		add("engine: need 0 <= min_pool_age_seconds <= max_pool_age_seconds")
	}
	if e.BaseSizeMin <= 0 || e.BaseSizeCeiling < e.BaseSizeMin {
		add("engine: need 0 < base_size_min <= base_size_ceiling")
	}
	if e.ReinvestRatio < 0 || e.ReinvestRatio > 1 {
		add("engine: reinvest_ratio must be within [0, 1], got %g", e.ReinvestRatio)
	}
	if e.LossStreakThreshold < 0 {
		add("engine: loss_streak_threshold must be >= 0")
	}
	if e.MaxTradesPerDay < 1 {
		add("engine: max_trades_per_day must be >= 1")
	}
	if e.ATRWindow < 2 {
		add("engine: atr_window must be >= 2")
	}
	if e.TrailingStopMultiplier <= 0 {
		add("engine: trailing_stop_multiplier must be > 0")
	}
	if e.MaxHoldingSeconds <= 0 {
		add("engine: max_holding_seconds must be > 0")
	}
	if e.PollIntervalSeconds <= 0 {
		add("engine: poll_interval_seconds must be > 0")
	}
	if e.FallbackBaseUSD <= 0 {
		add("engine: fallback_base_usd must be > 0")
	}

	if c.MarketData.BaseURL == "" {
		add("market_data: base_url must not be empty")
	}
	if c.MarketData.Chain == "" {
		add("market_data: chain must not be empty")
	}
	if f := c.MarketData.Freshness.Duration; f < 30*time.Second || f > 60*time.Second {
		add("market_data: freshness must be between 30s and 60s, got %s", f)
	}
	if c.MarketData.RetryAttempts < 1 {
		add("market_data: retry_attempts must be >= 1")
	}

	if c.Safety.SolanaFMURL == "" && c.Safety.VerdictURLTemplate == "" {
		add("safety: at least one of solanafm_url or verdict_url_template must be set")
	}
	if ttl := c.Safety.CacheTTL.Duration; ttl < 0 || ttl > time.Minute {
		add("safety: cache_ttl must be between 0 and 60s, got %s", ttl)
	}
	if c.Safety.VerdictURLTemplate != "" {
		if !strings.Contains(c.Safety.VerdictURLTemplate, "{address}") {
			add("safety: verdict_url_template must contain {address}")
		}
		if c.Safety.VerdictField == "" {
			add("safety: verdict_field is required with verdict_url_template")
		}
	}

	switch c.Executor.Kind {
	case "paper", "relay":
	default:
		add("executor: unknown kind %q (valid: paper, relay)", c.Executor.Kind)
	}
	if c.Executor.Slippage < 0 || c.Executor.Slippage >= 1 {
		add("executor: slippage must be within [0, 1)")
	}
	if c.Executor.RetryAttempts < 1 {
		add("executor: retry_attempts must be >= 1")
	}
	if c.Relay.EncryptedSecretPath != "" && c.Relay.SecretPassword == "" {
		add("relay: secret_password is required when encrypted_secret_path is set")
	}
	if c.Relay.MinBaseBalance < 0 {
		add("relay: min_base_balance must be >= 0")
	}

	if c.Scanner.Interval.Duration <= 0 {
		add("scanner: interval must be > 0")
	}
	if c.Scanner.DedupResetCycles < 0 {
		add("scanner: dedup_reset_cycles must be >= 0")
	}

	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be within [0, pool_max_conns]")
		}
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	if c.S3.Bucket != "" {
		if c.S3.ArchiveRetentionDays < 1 {
			add("s3: archive_retention_days must be >= 1")
		}
		if c.S3.ArchiveHourUTC < 0 || c.S3.ArchiveHourUTC > 23 {
			add("s3: archive_hour_utc must be 0-23, got %d", c.S3.ArchiveHourUTC)
		}
	}

	if c.Server.Enabled || mode == "monitor" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}

	if mode == "backtest" && strings.TrimSpace(c.Backtest.Source) == "" {
		add("backtest: source is required for mode backtest")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
