package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// NATSConfig holds NATS JetStream configuration. Reports are not published when URL is empty.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// EthereumConfig holds the RPC provider and contract configuration
type EthereumConfig struct {
	RPCURL               string        `mapstructure:"rpc_url"`
	ChainID              domain.Chain  `mapstructure:"chain_id"`
	ContractAddress      string        `mapstructure:"contract_address"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond    float64       `mapstructure:"requests_per_second"`
	Burst                int           `mapstructure:"burst"`
	MaxRetries           uint64        `mapstructure:"max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
	BlockHeadTTL         time.Duration `mapstructure:"block_head_ttl"`
	BlockHeadStaleWindow time.Duration `mapstructure:"block_head_stale_window"`
}

// ScanConfig holds log range scanning configuration
type ScanConfig struct {
	MinSpan          uint64 `mapstructure:"min_span"`          // ranges at or below this span become gaps instead of being split
	MaxSpan          uint64 `mapstructure:"max_span"`          // initial partition size when Concurrency > 1
	Concurrency      int    `mapstructure:"concurrency"`       // partitions fetched in parallel
	FallbackLookback uint64 `mapstructure:"fallback_lookback"` // blocks scanned back from head when the deployment block is unknown
	StartBlock       uint64 `mapstructure:"start_block"`       // lower bound used instead of the lookback when non-zero
}

// DecoderConfig holds event decoder configuration
type DecoderConfig struct {
	TxCacheSize     int  `mapstructure:"tx_cache_size"`
	EnableFallback  bool `mapstructure:"enable_fallback"`
	BlockCacheSize  int  `mapstructure:"block_cache_size"`
	BlockTimestamps bool `mapstructure:"block_timestamps"`
}

// ReconcileConfig holds reconciliation policy configuration
type ReconcileConfig struct {
	Policy string `mapstructure:"policy"`
}

// ImporterConfig holds transaction import configuration
type ImporterConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// OwnershipSyncConfig holds ownership syncer configuration
type OwnershipSyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ItemDelay    time.Duration `mapstructure:"item_delay"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	Scope        string        `mapstructure:"scope"`
	Limit        int           `mapstructure:"limit"`
}

// MetricsConfig holds prometheus endpoint configuration
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
}

// ReconcilerConfig holds configuration for the reconciler command
type ReconcilerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Ethereum   EthereumConfig  `mapstructure:"ethereum"`
	Scan       ScanConfig      `mapstructure:"scan"`
	Decoder    DecoderConfig   `mapstructure:"decoder"`
	Reconcile  ReconcileConfig `mapstructure:"reconcile"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
}

// OwnershipSyncerConfig holds configuration for the ownership-syncer command
type OwnershipSyncerConfig struct {
	BaseConfig    `mapstructure:",squash"`
	Database      DatabaseConfig      `mapstructure:"database"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Ethereum      EthereumConfig      `mapstructure:"ethereum"`
	OwnershipSync OwnershipSyncConfig `mapstructure:"ownership_sync"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// SaleImporterConfig holds configuration for the sale-importer command
type SaleImporterConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Ethereum   EthereumConfig  `mapstructure:"ethereum"`
	Decoder    DecoderConfig   `mapstructure:"decoder"`
	Reconcile  ReconcileConfig `mapstructure:"reconcile"`
	Importer   ImporterConfig  `mapstructure:"importer"`
}

// LoadReconcilerConfig loads configuration for the reconciler
func LoadReconcilerConfig(configFile string, envPath string) (*ReconcilerConfig, error) {
	v := configureViper("reconciler", configFile, envPath)
	setCommonDefaults(v)
	v.SetDefault("scan.min_span", 64)
	v.SetDefault("scan.max_span", 1_000_000)
	v.SetDefault("scan.concurrency", 1)
	v.SetDefault("scan.fallback_lookback", 250_000)
	v.SetDefault("decoder.tx_cache_size", 4096)
	// a range scan sees every transfer of the contract, gifts included
	v.SetDefault("decoder.enable_fallback", false)
	v.SetDefault("decoder.block_cache_size", 1024)
	v.SetDefault("decoder.block_timestamps", true)
	v.SetDefault("reconcile.policy", string(domain.PolicyFirstSaleWins))

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg ReconcilerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Ethereum.Validate(); err != nil {
		return nil, err
	}
	if _, err := domain.ParseDedupPolicy(cfg.Reconcile.Policy); err != nil {
		return nil, err
	}
	if cfg.Scan.MinSpan == 0 {
		return nil, fmt.Errorf("%w: scan.min_span must be at least 1", domain.ErrInvalidConfig)
	}

	return &cfg, nil
}

// LoadOwnershipSyncerConfig loads configuration for the ownership syncer
func LoadOwnershipSyncerConfig(configFile string, envPath string) (*OwnershipSyncerConfig, error) {
	v := configureViper("ownership-syncer", configFile, envPath)
	setCommonDefaults(v)
	v.SetDefault("ownership_sync.interval", "5m")
	v.SetDefault("ownership_sync.item_delay", "100ms")
	v.SetDefault("ownership_sync.error_backoff", "1m")
	v.SetDefault("ownership_sync.scope", "listed")
	v.SetDefault("ownership_sync.limit", 0)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg OwnershipSyncerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Ethereum.Validate(); err != nil {
		return nil, err
	}
	switch cfg.OwnershipSync.Scope {
	case "listed", "all":
	default:
		return nil, fmt.Errorf("%w: ownership_sync.scope must be listed or all, got %q",
			domain.ErrInvalidConfig, cfg.OwnershipSync.Scope)
	}

	return &cfg, nil
}

// LoadSaleImporterConfig loads configuration for the sale importer
func LoadSaleImporterConfig(configFile string, envPath string) (*SaleImporterConfig, error) {
	v := configureViper("sale-importer", configFile, envPath)
	setCommonDefaults(v)
	v.SetDefault("decoder.tx_cache_size", 1024)
	v.SetDefault("decoder.enable_fallback", true)
	v.SetDefault("decoder.block_cache_size", 256)
	v.SetDefault("decoder.block_timestamps", true)
	v.SetDefault("reconcile.policy", string(domain.PolicyEverySaleRecorded))
	v.SetDefault("importer.concurrency", 4)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg SaleImporterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Ethereum.Validate(); err != nil {
		return nil, err
	}
	if _, err := domain.ParseDedupPolicy(cfg.Reconcile.Policy); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings every command needs to talk to the contract
func (c *EthereumConfig) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("%w: ethereum.rpc_url is required", domain.ErrInvalidConfig)
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("%w: ethereum.contract_address %q is not a valid address",
			domain.ErrInvalidConfig, c.ContractAddress)
	}
	if common.HexToAddress(c.ContractAddress) == (common.Address{}) {
		return fmt.Errorf("%w: ethereum.contract_address must not be the zero address", domain.ErrInvalidConfig)
	}
	if !domain.IsValidChain(c.ChainID) {
		return fmt.Errorf("%w: unsupported chain %q", domain.ErrInvalidConfig, c.ChainID)
	}
	return nil
}

// Contract returns the configured contract address
func (c *EthereumConfig) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

func setCommonDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "RECONCILER_REPORTS")
	v.SetDefault("nats.subject_prefix", "reconciler")
	v.SetDefault("ethereum.chain_id", string(domain.ChainEthereumSepolia))
	v.SetDefault("ethereum.request_timeout", "30s")
	v.SetDefault("ethereum.requests_per_second", 10)
	v.SetDefault("ethereum.burst", 5)
	v.SetDefault("ethereum.max_retries", 3)
	v.SetDefault("ethereum.retry_initial_interval", "500ms")
	v.SetDefault("ethereum.retry_max_interval", "5s")
	v.SetDefault("ethereum.block_head_ttl", "12s")
	v.SetDefault("ethereum.block_head_stale_window", "60s")
	v.SetDefault("metrics.listen_address", ":9090")
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("FF_RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env vars for keys viper already knows about
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

var envKeys = []string{
	"debug",
	"sentry_dsn",
	// Database
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.dbname",
	"database.sslmode",
	"database.max_open_conns",
	"database.max_idle_conns",
	"database.conn_max_lifetime",
	"database.conn_max_idle_time",
	// NATS
	"nats.url",
	"nats.stream_name",
	"nats.subject_prefix",
	"nats.max_reconnects",
	"nats.reconnect_wait",
	"nats.connection_name",
	// Ethereum
	"ethereum.rpc_url",
	"ethereum.chain_id",
	"ethereum.contract_address",
	"ethereum.request_timeout",
	"ethereum.requests_per_second",
	"ethereum.burst",
	"ethereum.max_retries",
	"ethereum.retry_initial_interval",
	"ethereum.retry_max_interval",
	"ethereum.block_head_ttl",
	"ethereum.block_head_stale_window",
	// Scan
	"scan.min_span",
	"scan.max_span",
	"scan.concurrency",
	"scan.fallback_lookback",
	"scan.start_block",
	// Decoder
	"decoder.tx_cache_size",
	"decoder.enable_fallback",
	"decoder.block_cache_size",
	"decoder.block_timestamps",
	// Reconcile
	"reconcile.policy",
	"importer.concurrency",
	// Ownership sync
	"ownership_sync.interval",
	"ownership_sync.item_delay",
	"ownership_sync.error_backoff",
	"ownership_sync.scope",
	"ownership_sync.limit",
	// Metrics
	"metrics.enabled",
	"metrics.listen_address",
}

// loadEnv loads .env files from the config directory, later files overriding earlier ones
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		_ = godotenv.Overload(filepath.Join(envPath, envFile))
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
