package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NEXXORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NEXXORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "NEXXORE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "NEXXORE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "NEXXORE_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "NEXXORE_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "NEXXORE_CHAIN_ID")
	setStr(&cfg.Chain.VaultAddress, "NEXXORE_CHAIN_VAULT_ADDRESS")
	setInt(&cfg.Chain.AssetDecimals, "NEXXORE_CHAIN_ASSET_DECIMALS")
	setStr(&cfg.Chain.RelayURL, "NEXXORE_CHAIN_RELAY_URL")
	setStr(&cfg.Chain.RiskOracleAddress, "NEXXORE_CHAIN_RISK_ORACLE_ADDRESS")

	// ── Assessor ──
	setStr(&cfg.Assessor.BaseURL, "NEXXORE_ASSESSOR_BASE_URL")
	setStr(&cfg.Assessor.APIKey, "NEXXORE_ASSESSOR_API_KEY")
	setDuration(&cfg.Assessor.Timeout, "NEXXORE_ASSESSOR_TIMEOUT")

	// ── Yields ──
	setStr(&cfg.Yields.BaseURL, "NEXXORE_YIELDS_BASE_URL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "NEXXORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "NEXXORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NEXXORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NEXXORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NEXXORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NEXXORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NEXXORE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NEXXORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NEXXORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NEXXORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NEXXORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NEXXORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NEXXORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NEXXORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NEXXORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NEXXORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "NEXXORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NEXXORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "NEXXORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NEXXORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NEXXORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NEXXORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NEXXORE_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.CycleInterval, "NEXXORE_ENGINE_CYCLE_INTERVAL")
	setDuration(&cfg.Engine.CooldownWindow, "NEXXORE_ENGINE_COOLDOWN_WINDOW")
	setInt(&cfg.Engine.AssessRetries, "NEXXORE_ENGINE_ASSESS_RETRIES")
	setDuration(&cfg.Engine.AssessRetryBase, "NEXXORE_ENGINE_ASSESS_RETRY_BASE")
	setInt64(&cfg.Engine.IdleBufferBps, "NEXXORE_ENGINE_IDLE_BUFFER_BPS")
	setInt64(&cfg.Engine.MaxSingleRebalanceBps, "NEXXORE_ENGINE_MAX_SINGLE_REBALANCE_BPS")
	setInt64(&cfg.Engine.MinDeviationBps, "NEXXORE_ENGINE_MIN_DEVIATION_BPS")
	setDuration(&cfg.Engine.LockTTL, "NEXXORE_ENGINE_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "NEXXORE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "NEXXORE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "NEXXORE_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NEXXORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NEXXORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NEXXORE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "NEXXORE_SERVER_API_KEY")
	setInt(&cfg.Server.WriteRateLimit, "NEXXORE_SERVER_WRITE_RATE_LIMIT")
	setDuration(&cfg.Server.WriteRateWindow, "NEXXORE_SERVER_WRITE_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NEXXORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NEXXORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NEXXORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NEXXORE_NOTIFY_EVENTS")

	// ── Signals ──
	setBool(&cfg.Signals.Enabled, "NEXXORE_SIGNALS_ENABLED")
	setDuration(&cfg.Signals.PollInterval, "NEXXORE_SIGNALS_POLL_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "NEXXORE_MODE")
	setStr(&cfg.LogLevel, "NEXXORE_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
