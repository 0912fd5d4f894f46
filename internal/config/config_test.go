package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.Chain.RPCURL = "https://rpc.example.com"
	cfg.Chain.VaultAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	cfg.Assessor.BaseURL = "https://assessor.example.com"
	return cfg
}

func TestValidConfigPasses(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Chain.VaultAddress = "not-an-address"
	cfg.Chain.RiskOracleAddress = "also-not-an-address"
	cfg.Engine.CycleInterval = duration{0}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "vault_address")
	assert.Contains(t, err.Error(), "risk_oracle_address")
	assert.Contains(t, err.Error(), "cycle_interval")
	assert.Contains(t, err.Error(), "rpc_url")
}

func TestServerModeNeedsNoWallet(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "server"
	cfg.Wallet.PrivateKey = ""
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEXXORE_CHAIN_RPC_URL", "https://override.example.com")
	t.Setenv("NEXXORE_ENGINE_CYCLE_INTERVAL", "90s")
	t.Setenv("NEXXORE_SERVER_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("NEXXORE_POSTGRES_RUN_MIGRATIONS", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "https://override.example.com", cfg.Chain.RPCURL)
	assert.Equal(t, 90*time.Second, cfg.Engine.CycleInterval.Duration)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Assessor.APIKey = "sk-12345"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Assessor.APIKey)
	// Non-secret fields survive.
	assert.Equal(t, cfg.Chain.RPCURL, red.Chain.RPCURL)
}
