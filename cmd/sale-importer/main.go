package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/ff-sales-reconciler/internal/adapter"
	"github.com/feral-file/ff-sales-reconciler/internal/block"
	"github.com/feral-file/ff-sales-reconciler/internal/config"
	"github.com/feral-file/ff-sales-reconciler/internal/decoder"
	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/messaging"
	"github.com/feral-file/ff-sales-reconciler/internal/providers/ethereum"
	"github.com/feral-file/ff-sales-reconciler/internal/providers/jetstream"
	"github.com/feral-file/ff-sales-reconciler/internal/reconciler"
	"github.com/feral-file/ff-sales-reconciler/internal/scan"
	"github.com/feral-file/ff-sales-reconciler/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
	txList     = flag.String("tx", "", "Comma separated transaction hashes to import")
	csvFile    = flag.String("csv", "", "Etherscan transaction export; rows whose method starts with buy are imported")
	dryRun     = flag.Bool("dry-run", false, "Decode without writing to the database")
	policy     = flag.String("policy", "", "Dedup policy: first-sale-wins or every-sale-recorded")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadSaleImporterConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "sale-importer",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)

	hashes, err := readHashes()
	if err != nil {
		logger.FatalCtx(ctx, "Failed to read transaction hashes", zap.Error(err))
	}
	if len(hashes) == 0 {
		logger.FatalCtx(ctx, "No transactions to import, use -tx or -csv")
	}

	opts := reconciler.ImportOptions{TxHashes: hashes, DryRun: *dryRun}
	if *policy != "" {
		opts.Policy, err = domain.ParseDedupPolicy(*policy)
		if err != nil {
			logger.FatalCtx(ctx, "Invalid policy", zap.Error(err))
		}
	}
	logger.InfoCtx(ctx, "Starting Sale Importer", zap.Int("transactions", len(hashes)), zap.Bool("dry_run", *dryRun))

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("host", cfg.Database.Host))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	dataStore := store.NewPGStore(db)

	clock := adapter.NewClock()

	// Initialize ethereum client
	adapterEthClient, err := adapter.NewEthClientDialer().Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err))
	}
	ethereumClient, err := ethereum.NewClient(ethereum.Config{
		ChainID:              cfg.Ethereum.ChainID,
		RequestTimeout:       cfg.Ethereum.RequestTimeout,
		RequestsPerSecond:    cfg.Ethereum.RequestsPerSecond,
		Burst:                cfg.Ethereum.Burst,
		MaxRetries:           cfg.Ethereum.MaxRetries,
		RetryInitialInterval: cfg.Ethereum.RetryInitialInterval,
		RetryMaxInterval:     cfg.Ethereum.RetryMaxInterval,
	}, adapterEthClient)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create Ethereum client", zap.Error(err))
	}
	defer ethereumClient.Close()

	blockProvider, err := block.NewBlockProvider(
		ethereum.NewEthereumBlockFetcher(ethereumClient),
		block.Config{
			TTL:                cfg.Ethereum.BlockHeadTTL,
			StaleWindow:        cfg.Ethereum.BlockHeadStaleWindow,
			TimestampCacheSize: cfg.Decoder.BlockCacheSize,
		},
		clock,
	)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create block provider", zap.Error(err))
	}

	contract := cfg.Ethereum.Contract()
	chain, err := decoder.NewContractChain(contract, ethereumClient, cfg.Decoder.EnableFallback, cfg.Decoder.TxCacheSize)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create decoder", zap.Error(err))
	}

	// Initialize report publisher
	var publisher messaging.Publisher = messaging.NewNoopPublisher()
	if cfg.NATS.URL != "" {
		publisher, err = jetstream.NewPublisher(ctx, jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		}, adapter.NewNatsJetStream())
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create NATS publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
		}
	}
	defer publisher.Close()

	defaultPolicy, _ := domain.ParseDedupPolicy(cfg.Reconcile.Policy)
	engine := reconciler.NewEngine(
		reconciler.Config{
			Contract:          contract,
			Policy:            defaultPolicy,
			BlockTimestamps:   cfg.Decoder.BlockTimestamps,
			ImportConcurrency: cfg.Importer.Concurrency,
		},
		scan.NewRangeFetcher(ethereumClient, contract, chain.Topics(), scan.FetcherConfig{}),
		scan.NewDeploymentLocator(ethereumClient, contract),
		chain,
		dataStore,
		blockProvider,
		ethereumClient,
		publisher,
		clock,
	)

	summary, err := engine.Import(ctx, opts)
	if err != nil {
		logger.FatalCtx(ctx, "Import failed", zap.Error(err))
	}

	logger.InfoCtx(ctx, "Sale Importer finished",
		zap.Int("created", summary.Created),
		zap.Int("failed", summary.Failed),
	)
	if summary.Failed > 0 {
		logger.Flush(2 * time.Second)
		os.Exit(2)
	}
}

// readHashes collects the hashes given with -tx and -csv
func readHashes() ([]common.Hash, error) {
	var hashes []common.Hash

	if *txList != "" {
		parsed, err := reconciler.ParseTxHashList(*txList)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, parsed...)
	}

	if *csvFile != "" {
		f, err := os.Open(*csvFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", *csvFile, err)
		}
		defer f.Close()

		parsed, err := reconciler.ParseEtherscanCSV(f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", *csvFile, err)
		}
		hashes = append(hashes, parsed...)
	}

	return hashes, nil
}
