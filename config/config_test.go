package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chainswap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "aggregator:\n  api_key: test-key\n"))
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.Aggregator.APIKey)
	assert.Equal(t, "aggregator", cfg.Aggregator.Backend)
	assert.Equal(t, 10*time.Second, cfg.Aggregator.Timeout)
	assert.Equal(t, 50, cfg.Fees.PlatformBps)
	assert.Equal(t, 500*time.Millisecond, cfg.Quote.Debounce)
	assert.Equal(t, 30*time.Second, cfg.Quote.TTL)
	assert.True(t, cfg.Quote.AutoRefresh)
	assert.Equal(t, 100, cfg.Quote.SlippageBps)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxDelay)
	assert.InDelta(t, 0.2, cfg.Retry.Jitter, 1e-9)
	assert.Equal(t, "confirmed", cfg.Wallets.Solana.Commitment)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Wallets.EVM.RPC)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
aggregator:
  backend: intents
intents:
  jwt_token: jwt
fees:
  platform_bps: 25
  recipient: "0xfee"
quote:
  debounce: 250ms
  ttl: 1m
  auto_refresh: false
retry:
  max_attempts: 5
wallets:
  evm:
    private_key: "0xkey"
    rpc:
      "8453": https://base.example
      "1": https://eth.example
chains:
  file: chains.yaml
metrics:
  addr: ":9102"
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "intents", cfg.Aggregator.Backend)
	assert.NoError(t, cfg.RequireIntents())
	assert.Equal(t, 25, cfg.Fees.PlatformBps)
	assert.Equal(t, "0xfee", cfg.Fees.Recipient)
	assert.Equal(t, 250*time.Millisecond, cfg.Quote.Debounce)
	assert.Equal(t, time.Minute, cfg.Quote.TTL)
	assert.False(t, cfg.Quote.AutoRefresh)
	assert.Equal(t, 5, cfg.Retry.Policy().MaxAttempts)
	assert.Equal(t, map[uint64]string{8453: "https://base.example", 1: "https://eth.example"}, cfg.Wallets.EVM.RPC)
	assert.Equal(t, "chains.yaml", cfg.ChainsFile)
	assert.Equal(t, ":9102", cfg.MetricsAddr)
}

func TestLoadFileEnvironmentWins(t *testing.T) {
	t.Setenv("CHAINSWAP_AGGREGATOR_API_KEY", "from-env")
	t.Setenv("CHAINSWAP_FEES_PLATFORM_BPS", "10")

	cfg, err := LoadFile(writeConfig(t, "aggregator:\n  api_key: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Aggregator.APIKey)
	assert.Equal(t, 10, cfg.Fees.PlatformBps)
}

func TestLoadFileValidation(t *testing.T) {
	tests := map[string]string{
		"platform fee too high": "fees:\n  platform_bps: 1001\n",
		"slippage too high":     "quote:\n  slippage_bps: 6000\n",
		"zero ttl":              "quote:\n  ttl: 0s\n",
		"unknown backend":       "aggregator:\n  backend: uniswap\n",
		"bad jitter":            "retry:\n  jitter: 1.5\n",
		"bad rpc key":           "wallets:\n  evm:\n    rpc:\n      base: https://base.example\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRequireIntents(t *testing.T) {
	cfg := &Config{}
	assert.ErrorContains(t, cfg.RequireIntents(), "CHAINSWAP_INTENTS_JWT_TOKEN")
}
