// Package config defines the top-level configuration for the vault control
// loop and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NEXXORE_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Assessor AssessorConfig `toml:"assessor"`
	Yields   YieldsConfig   `toml:"yields"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Signals  SignalsConfig  `toml:"signals"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the operator wallet credentials used to sign vault
// transactions.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the RPC endpoint, vault contract, and strategy registry.
type ChainConfig struct {
	RPCURL        string           `toml:"rpc_url"`
	ChainID       int64            `toml:"chain_id"`
	VaultAddress  string           `toml:"vault_address"`
	AssetDecimals int              `toml:"asset_decimals"`
	RelayURL      string           `toml:"relay_url"`
	// RiskOracleAddress enables on-chain risk metric updates when set.
	RiskOracleAddress string           `toml:"risk_oracle_address"`
	Strategies        []StrategyConfig `toml:"strategies"`
}

// StrategyConfig annotates an on-chain strategy adapter with a readable name
// and the yield-aggregator pool used to source its APY.
type StrategyConfig struct {
	Address   string `toml:"address"`
	Name      string `toml:"name"`
	YieldPool string `toml:"yield_pool"`
}

// AssessorConfig holds the external risk assessor endpoint and credentials.
type AssessorConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// YieldsConfig holds the yield aggregator endpoint.
type YieldsConfig struct {
	BaseURL string `toml:"base_url"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds the control-loop cadence and rebalance guardrails.
type EngineConfig struct {
	CycleInterval         duration `toml:"cycle_interval"`
	CooldownWindow        duration `toml:"cooldown_window"`
	AssessRetries         int      `toml:"assess_retries"`
	AssessRetryBase       duration `toml:"assess_retry_base"`
	IdleBufferBps         int64    `toml:"idle_buffer_bps"`
	MaxSingleRebalanceBps int64    `toml:"max_single_rebalance_bps"`
	MinDeviationBps       int64    `toml:"min_deviation_bps"`
	LockTTL               duration `toml:"lock_ttl"`
}

// ArchiveConfig controls cold-storage archival of analyses and proposals.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	WriteRateLimit  int      `toml:"write_rate_limit"`
	WriteRateWindow duration `toml:"write_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// SignalsConfig controls the context-signal stream watcher.
type SignalsConfig struct {
	Enabled      bool     `toml:"enabled"`
	PollInterval duration `toml:"poll_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:       1,
			AssetDecimals: 6,
		},
		Assessor: AssessorConfig{
			Timeout: duration{30 * time.Second},
		},
		Yields: YieldsConfig{
			BaseURL: "https://yields.llama.fi",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nexxore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nexxore-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			CycleInterval:         duration{5 * time.Minute},
			CooldownWindow:        duration{7 * 24 * time.Hour},
			AssessRetries:         3,
			AssessRetryBase:       duration{time.Second},
			IdleBufferBps:         500,
			MaxSingleRebalanceBps: 1500,
			MinDeviationBps:       200,
			LockTTL:               duration{10 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			WriteRateLimit:  10,
			WriteRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"emergency_unwind", "rebalance_pending", "rebalance_executed", "assessor_degraded", "error"},
		},
		Signals: SignalsConfig{
			Enabled:      true,
			PollInterval: duration{15 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a signing key is required whenever the control loop runs.
	needsWallet := c.Mode == "monitor" || c.Mode == "full"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.VaultAddress) {
		errs = append(errs, fmt.Sprintf("chain: vault_address %q is not a valid address", c.Chain.VaultAddress))
	}
	if c.Chain.RiskOracleAddress != "" && !common.IsHexAddress(c.Chain.RiskOracleAddress) {
		errs = append(errs, fmt.Sprintf("chain: risk_oracle_address %q is not a valid address", c.Chain.RiskOracleAddress))
	}
	if c.Chain.AssetDecimals < 0 || c.Chain.AssetDecimals > 30 {
		errs = append(errs, fmt.Sprintf("chain: asset_decimals must be 0-30, got %d", c.Chain.AssetDecimals))
	}
	for i, s := range c.Chain.Strategies {
		if !common.IsHexAddress(s.Address) {
			errs = append(errs, fmt.Sprintf("chain: strategies[%d].address %q is not a valid address", i, s.Address))
		}
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("chain: strategies[%d].name must not be empty", i))
		}
	}

	// Assessor
	if c.Assessor.BaseURL == "" {
		errs = append(errs, "assessor: base_url must not be empty")
	}

	// Yields
	if c.Yields.BaseURL == "" {
		errs = append(errs, "yields: base_url must not be empty")
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Engine
	if c.Engine.CycleInterval.Duration <= 0 {
		errs = append(errs, "engine: cycle_interval must be > 0")
	}
	if c.Engine.CooldownWindow.Duration < 0 {
		errs = append(errs, "engine: cooldown_window must be >= 0")
	}
	if c.Engine.AssessRetries < 1 {
		errs = append(errs, "engine: assess_retries must be >= 1")
	}
	if c.Engine.IdleBufferBps < 0 || c.Engine.IdleBufferBps > 10000 {
		errs = append(errs, fmt.Sprintf("engine: idle_buffer_bps must be 0-10000, got %d", c.Engine.IdleBufferBps))
	}
	if c.Engine.MaxSingleRebalanceBps <= 0 || c.Engine.MaxSingleRebalanceBps > 10000 {
		errs = append(errs, fmt.Sprintf("engine: max_single_rebalance_bps must be 1-10000, got %d", c.Engine.MaxSingleRebalanceBps))
	}
	if c.Engine.MinDeviationBps < 0 || c.Engine.MinDeviationBps > 10000 {
		errs = append(errs, fmt.Sprintf("engine: min_deviation_bps must be 0-10000, got %d", c.Engine.MinDeviationBps))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.WriteRateLimit < 0 {
			errs = append(errs, "server: write_rate_limit must be >= 0")
		}
	}

	// Signals
	if c.Signals.Enabled && c.Signals.PollInterval.Duration <= 0 {
		errs = append(errs, "signals: poll_interval must be > 0 when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
