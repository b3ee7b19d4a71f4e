package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0600))
	return configFile
}

func TestLoadReconcilerConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError error
		validate    func(*testing.T, *ReconcilerConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
database:
  host: localhost
  port: 5433
  user: testuser
  password: testpass
  dbname: testdb
nats:
  url: "nats://localhost:4222"
ethereum:
  rpc_url: "http://localhost:8545"
  chain_id: "eip155:1"
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  requests_per_second: 25
scan:
  min_span: 128
  concurrency: 4
  fallback_lookback: 1000
reconcile:
  policy: every-sale-recorded
`,
			validate: func(t *testing.T, cfg *ReconcilerConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, 5433, cfg.Database.Port)
				assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
				assert.Equal(t, domain.ChainEthereumMainnet, cfg.Ethereum.ChainID)
				assert.Equal(t, float64(25), cfg.Ethereum.RequestsPerSecond)
				assert.Equal(t, uint64(128), cfg.Scan.MinSpan)
				assert.Equal(t, 4, cfg.Scan.Concurrency)
				assert.Equal(t, uint64(1000), cfg.Scan.FallbackLookback)
				assert.Equal(t, "every-sale-recorded", cfg.Reconcile.Policy)
				assert.Equal(t, "0x5fbdb2315678afecb367f032d93f642f64180aa3",
					domain.NormalizeAddress(cfg.Ethereum.Contract().Hex()))
			},
		},
		{
			name: "config with defaults",
			configFile: `
ethereum:
  rpc_url: "http://localhost:8545"
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`,
			validate: func(t *testing.T, cfg *ReconcilerConfig) {
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "disable", cfg.Database.SSLMode)
				assert.Equal(t, "RECONCILER_REPORTS", cfg.NATS.StreamName)
				assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
				assert.Equal(t, domain.ChainEthereumSepolia, cfg.Ethereum.ChainID)
				assert.Equal(t, 30*time.Second, cfg.Ethereum.RequestTimeout)
				assert.Equal(t, uint64(3), cfg.Ethereum.MaxRetries)
				assert.Equal(t, uint64(64), cfg.Scan.MinSpan)
				assert.Equal(t, uint64(250_000), cfg.Scan.FallbackLookback)
				assert.Equal(t, 1, cfg.Scan.Concurrency)
				assert.False(t, cfg.Decoder.EnableFallback)
				assert.Equal(t, 4096, cfg.Decoder.TxCacheSize)
				assert.Equal(t, string(domain.PolicyFirstSaleWins), cfg.Reconcile.Policy)
			},
		},
		{
			name: "missing contract address",
			configFile: `
ethereum:
  rpc_url: "http://localhost:8545"
`,
			expectError: domain.ErrInvalidConfig,
		},
		{
			name: "zero contract address",
			configFile: `
ethereum:
  rpc_url: "http://localhost:8545"
  contract_address: "0x0000000000000000000000000000000000000000"
`,
			expectError: domain.ErrInvalidConfig,
		},
		{
			name: "missing rpc url",
			configFile: `
ethereum:
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`,
			expectError: domain.ErrInvalidConfig,
		},
		{
			name: "unknown policy",
			configFile: `
ethereum:
  rpc_url: "http://localhost:8545"
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
reconcile:
  policy: newest-wins
`,
			expectError: domain.ErrInvalidConfig,
		},
		{
			name: "unsupported chain",
			configFile: `
ethereum:
  rpc_url: "http://localhost:8545"
  chain_id: "eip155:137"
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`,
			expectError: domain.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadReconcilerConfig(writeConfig(t, tt.configFile), "")

			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadOwnershipSyncerConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadOwnershipSyncerConfig(writeConfig(t, `
ethereum:
  rpc_url: "http://localhost:8545"
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`), "")
		require.NoError(t, err)

		assert.Equal(t, 5*time.Minute, cfg.OwnershipSync.Interval)
		assert.Equal(t, 100*time.Millisecond, cfg.OwnershipSync.ItemDelay)
		assert.Equal(t, time.Minute, cfg.OwnershipSync.ErrorBackoff)
		assert.Equal(t, "listed", cfg.OwnershipSync.Scope)
		assert.Equal(t, 0, cfg.OwnershipSync.Limit)
	})

	t.Run("invalid scope", func(t *testing.T) {
		cfg, err := LoadOwnershipSyncerConfig(writeConfig(t, `
ethereum:
  rpc_url: "http://localhost:8545"
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
ownership_sync:
  scope: burned
`), "")
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		assert.Nil(t, cfg)
	})
}

func TestLoadSaleImporterConfig(t *testing.T) {
	cfg, err := LoadSaleImporterConfig(writeConfig(t, `
ethereum:
  rpc_url: "http://localhost:8545"
  contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`), "")
	require.NoError(t, err)

	assert.Equal(t, string(domain.PolicyEverySaleRecorded), cfg.Reconcile.Policy)
	assert.Equal(t, 4, cfg.Importer.Concurrency)
	assert.True(t, cfg.Decoder.EnableFallback)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "reconciler",
		Password: "secret",
		DBName:   "marketplace",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5432 user=reconciler password=secret dbname=marketplace sslmode=require",
		cfg.DSN())
}

func TestConfigWithEnvironmentVariables(t *testing.T) {
	t.Setenv("FF_RECONCILER_ETHEREUM_RPC_URL", "http://env-node:8545")
	t.Setenv("FF_RECONCILER_ETHEREUM_CONTRACT_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv("FF_RECONCILER_SCAN_MIN_SPAN", "16")
	t.Setenv("FF_RECONCILER_DATABASE_HOST", "env-db")

	cfg, err := LoadReconcilerConfig(writeConfig(t, "debug: false\n"), "")
	require.NoError(t, err)

	assert.Equal(t, "http://env-node:8545", cfg.Ethereum.RPCURL)
	assert.Equal(t, uint64(16), cfg.Scan.MinSpan)
	assert.Equal(t, "env-db", cfg.Database.Host)
}
