package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	"github.com/feral-file/ff-sales-reconciler/internal/metrics"
	"github.com/feral-file/ff-sales-reconciler/internal/providers/ethereum"
	"github.com/feral-file/ff-sales-reconciler/internal/providers/jetstream"
	"github.com/feral-file/ff-sales-reconciler/internal/reconciler"
	"github.com/feral-file/ff-sales-reconciler/internal/scan"
	"github.com/feral-file/ff-sales-reconciler/internal/store"
)

// Exit codes
const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2 // gaps were left or commits failed
)

var (
	configFile       = flag.String("config", "", "Path to configuration file")
	envPath          = flag.String("env", "config/", "Path to environment files")
	fromBlock        = flag.Uint64("from-block", 0, "First block to scan (inclusive)")
	toBlock          = flag.Uint64("to-block", 0, "Last block to scan (inclusive)")
	locateDeployment = flag.Bool("locate-deployment", false, "Start from the contract deployment block")
	useHead          = flag.Bool("use-head", false, "Scan up to the current chain head")
	resume           = flag.Bool("resume", false, "Start after the last fully reconciled block")
	dryRun           = flag.Bool("dry-run", false, "Fetch and decode without writing to the database")
	policy           = flag.String("policy", "", "Dedup policy: first-sale-wins or every-sale-recorded")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadReconcilerConfig(*configFile, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "reconciler",
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitError
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Reconciler", zap.String("contract", cfg.Ethereum.ContractAddress))

	opts, err := runOptions()
	if err != nil {
		logger.ErrorCtx(ctx, err)
		return exitError
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to connect to database: %w", err), zap.String("host", cfg.Database.Host))
		return exitError
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to configure connection pool: %w", err))
		return exitError
	}
	dataStore := store.NewPGStore(db)
	logger.InfoCtx(ctx, "Connected to database")

	clock := adapter.NewClock()

	// Initialize ethereum client
	ethDialer := adapter.NewEthClientDialer()
	adapterEthClient, err := ethDialer.Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to dial Ethereum RPC: %w", err))
		return exitError
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
		adapterEthClient.Close()
		logger.ErrorCtx(ctx, err)
		return exitError
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
		logger.ErrorCtx(ctx, err)
		return exitError
	}

	contract := cfg.Ethereum.Contract()
	chain, err := decoder.NewContractChain(contract, ethereumClient, cfg.Decoder.EnableFallback, cfg.Decoder.TxCacheSize)
	if err != nil {
		logger.ErrorCtx(ctx, err)
		return exitError
	}

	publisher, err := newPublisher(ctx, cfg.NATS)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("url", cfg.NATS.URL))
		return exitError
	}
	defer publisher.Close()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddress); err != nil {
				logger.ErrorCtx(ctx, err, zap.String("component", "metrics"))
			}
		}()
	}

	defaultPolicy, _ := domain.ParseDedupPolicy(cfg.Reconcile.Policy)
	engine := reconciler.NewEngine(
		reconciler.Config{
			Contract:         contract,
			Policy:           defaultPolicy,
			FallbackLookback: cfg.Scan.FallbackLookback,
			StartBlock:       cfg.Scan.StartBlock,
			BlockTimestamps:  cfg.Decoder.BlockTimestamps,
		},
		scan.NewRangeFetcher(ethereumClient, contract, chain.Topics(), scan.FetcherConfig{
			MinSpan:     cfg.Scan.MinSpan,
			MaxSpan:     cfg.Scan.MaxSpan,
			Concurrency: cfg.Scan.Concurrency,
		}),
		scan.NewDeploymentLocator(ethereumClient, contract),
		chain,
		dataStore,
		blockProvider,
		ethereumClient,
		publisher,
		clock,
	)

	summary, err := engine.Run(ctx, opts)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("component", "engine"))
		return exitError
	}
	if summary.HasGaps() || summary.Failed > 0 {
		logger.WarnCtx(ctx, "Reconciler finished with incomplete results",
			zap.Int("gaps", len(summary.Gaps)),
			zap.Int("failed", summary.Failed),
		)
		return exitPartial
	}

	logger.InfoCtx(ctx, "Reconciler finished")
	return exitOK
}

// runOptions builds the run options from the command line
func runOptions() (reconciler.RunOptions, error) {
	opts := reconciler.RunOptions{
		UseHead:          *useHead,
		LocateDeployment: *locateDeployment,
		Resume:           *resume,
		DryRun:           *dryRun,
	}

	if isFlagSet("from-block") {
		from := *fromBlock
		opts.From = &from
	}
	if isFlagSet("to-block") {
		to := *toBlock
		opts.To = &to
	}
	if *policy != "" {
		p, err := domain.ParseDedupPolicy(*policy)
		if err != nil {
			return opts, err
		}
		opts.Policy = p
	}
	return opts, nil
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// newPublisher connects to JetStream when a URL is configured
func newPublisher(ctx context.Context, cfg config.NATSConfig) (messaging.Publisher, error) {
	if cfg.URL == "" {
		logger.InfoCtx(ctx, "NATS is not configured, reports will only be logged")
		return messaging.NewNoopPublisher(), nil
	}

	publisher, err := jetstream.NewPublisher(ctx, jetstream.Config{
		URL:            cfg.URL,
		StreamName:     cfg.StreamName,
		SubjectPrefix:  cfg.SubjectPrefix,
		MaxReconnects:  cfg.MaxReconnects,
		ReconnectWait:  cfg.ReconnectWait,
		ConnectionName: cfg.ConnectionName,
	}, adapter.NewNatsJetStream())
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}
	logger.InfoCtx(ctx, "Connected to NATS JetStream", zap.String("stream", cfg.StreamName))
	return publisher, nil
}
