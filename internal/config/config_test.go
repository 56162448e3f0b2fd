package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  grpc_addr: ":7000"
backend:
  url: "https://api.example.org/"
  timeout_secs: 5
chain:
  rpc_url: "https://rpc.example.org"
  chain_id: 100
  explorer_tx_url: "https://blockscout.com/tx/"
  confirm_timeout_secs: 600
withdrawal:
  minimum_payout_usd: "25.5"
  donation_collect_count_limit: 20
native_currencies:
  ETH: 6
log:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.GRPCAddr)
	assert.Equal(t, DefaultMetricsAddr, cfg.MetricsAddr)
	assert.Equal(t, 5*time.Second, cfg.BackendTimeout)
	assert.Equal(t, int64(100), cfg.RequiredChainID)
	assert.Equal(t, 10*time.Minute, cfg.ConfirmTimeout)
	assert.True(t, cfg.MinimumPayoutUSD.Equal(decimal.RequireFromString("25.5")))
	assert.Equal(t, 20, cfg.DonationCollectCountLimit)
	assert.Equal(t, DefaultPageSize, cfg.PageSize)
	assert.Equal(t, DonationSourceHTTP, cfg.DonationSource)
	assert.Equal(t, "https://api.example.org/", cfg.RelayURL)
	assert.Equal(t, "wss://api.example.org/realtime", cfg.RealtimeURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, int32(6), cfg.DisplayDecimals("ETH"))
	assert.Equal(t, int32(2), cfg.DisplayDecimals("DAI"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_ID", "5")
	t.Setenv("MINIMUM_PAYOUT_USD", "10")
	t.Setenv("DONATION_COLLECT_COUNT_LIMIT", "7")
	t.Setenv("REALTIME_URL", "ws://localhost:3030/ws")
	t.Setenv("DONATION_SOURCE", "postgres")
	t.Setenv("DB_CONN_STR", "")
	t.Setenv("DB_HOST", "db")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, int64(5), cfg.RequiredChainID)
	assert.True(t, cfg.MinimumPayoutUSD.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 7, cfg.DonationCollectCountLimit)
	assert.Equal(t, "ws://localhost:3030/ws", cfg.RealtimeURL)
	assert.Equal(t, DonationSourcePostgres, cfg.DonationSource)
	assert.Contains(t, cfg.DBConnStr, "host=db")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		errMsg string
	}{
		{"Bad Chain ID", map[string]string{"CHAIN_ID": "mainnet"}, "invalid CHAIN_ID"},
		{"Bad Minimum", map[string]string{"MINIMUM_PAYOUT_USD": "lots"}, "invalid MINIMUM_PAYOUT_USD"},
		{"Negative Minimum", map[string]string{"MINIMUM_PAYOUT_USD": "-1"}, "minimum payout cannot be negative"},
		{"Unknown Source", map[string]string{"DONATION_SOURCE": "graphql"}, "unknown donation source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(writeConfig(t, sampleConfig))

			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BackendURL:       "http://localhost",
			ChainRPCURL:      "http://localhost:8545",
			RequiredChainID:  1,
			DonationSource:   DonationSourceHTTP,
			MinimumPayoutUSD: decimal.NewFromInt(35),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"Valid", func(*Config) {}, ""},
		{"Missing Backend", func(c *Config) { c.BackendURL = "" }, "backend url is required"},
		{"Missing RPC", func(c *Config) { c.ChainRPCURL = "" }, "chain rpc url is required"},
		{"Missing Chain", func(c *Config) { c.RequiredChainID = 0 }, "chain id must be positive"},
		{"Postgres Without DB", func(c *Config) { c.DonationSource = DonationSourcePostgres }, "requires a database connection string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.errMsg == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.errMsg)
			}
		})
	}
}

func TestRealtimeURLFor(t *testing.T) {
	assert.Equal(t, "ws://localhost:3030/realtime", realtimeURLFor("http://localhost:3030"))
	assert.Equal(t, "wss://api.example.org/realtime", realtimeURLFor("https://api.example.org/"))
}
