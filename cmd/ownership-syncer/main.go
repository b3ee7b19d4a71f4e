package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/ff-sales-reconciler/internal/adapter"
	"github.com/feral-file/ff-sales-reconciler/internal/block"
	"github.com/feral-file/ff-sales-reconciler/internal/config"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/messaging"
	"github.com/feral-file/ff-sales-reconciler/internal/metrics"
	"github.com/feral-file/ff-sales-reconciler/internal/providers/ethereum"
	"github.com/feral-file/ff-sales-reconciler/internal/providers/jetstream"
	"github.com/feral-file/ff-sales-reconciler/internal/store"
	"github.com/feral-file/ff-sales-reconciler/internal/sweeper"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
	once       = flag.Bool("once", false, "Run a single sync cycle and exit")
	interval   = flag.Duration("interval", 0, "Time between sync cycles (overrides config)")
	scope      = flag.String("scope", "", "Tokens to check: listed or all (overrides config)")
	limit      = flag.Int("limit", -1, "Max tokens per cycle, 0 for no limit (overrides config)")
	dryRun     = flag.Bool("dry-run", false, "Report drift without writing to the database")
	tokenIDs   = flag.String("token-id", "", "Comma separated token ids to check instead of the scope")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadOwnershipSyncerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "ownership-syncer",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Ownership Syncer")

	syncCfg := cfg.OwnershipSync
	if *interval > 0 {
		syncCfg.Interval = *interval
	}
	if *scope != "" {
		syncCfg.Scope = *scope
	}
	if *limit >= 0 {
		syncCfg.Limit = *limit
	}
	tokenScope := store.TokenScope(syncCfg.Scope)
	if tokenScope != store.TokenScopeListed && tokenScope != store.TokenScopeAll {
		logger.FatalCtx(ctx, "Invalid token scope", zap.String("scope", syncCfg.Scope))
	}
	ids, err := parseTokenIDs(*tokenIDs)
	if err != nil {
		logger.FatalCtx(ctx, "Invalid token id", zap.Error(err))
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("host", cfg.Database.Host))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize clock adapter
	clock := adapter.NewClock()

	// Initialize ethereum client
	ethDialer := adapter.NewEthClientDialer()
	adapterEthClient, err := ethDialer.Dial(ctx, cfg.Ethereum.RPCURL)
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
			TTL:         cfg.Ethereum.BlockHeadTTL,
			StaleWindow: cfg.Ethereum.BlockHeadStaleWindow,
		},
		clock,
	)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create block provider", zap.Error(err))
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
		logger.InfoCtx(ctx, "Connected to NATS JetStream")
	}
	defer publisher.Close()

	syncer := sweeper.NewOwnershipSyncer(sweeper.OwnershipSyncerConfig{
		Contract:     cfg.Ethereum.Contract(),
		Interval:     syncCfg.Interval,
		ItemDelay:    syncCfg.ItemDelay,
		ErrorBackoff: syncCfg.ErrorBackoff,
		Scope:        tokenScope,
		Limit:        syncCfg.Limit,
		TokenIDs:     ids,
		DryRun:       *dryRun,
	}, dataStore, ethereumClient, blockProvider, publisher, clock)

	logger.InfoCtx(ctx, "Initialized ownership syncer",
		zap.Bool("once", *once),
		zap.Duration("interval", syncCfg.Interval),
		zap.String("scope", syncCfg.Scope),
		zap.Int("limit", syncCfg.Limit),
		zap.Uint64s("token_ids", ids),
		zap.Bool("dry_run", *dryRun),
	)

	if *once {
		summary, err := syncer.SyncOnce(ctx)
		if err != nil {
			logger.FatalCtx(ctx, "Ownership sync failed", zap.Error(err))
		}
		if summary.Failed > 0 {
			logger.Flush(2 * time.Second)
			os.Exit(2)
		}
		return
	}

	// Wait for interrupt signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return syncer.Start(gCtx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gCtx, cfg.Metrics.ListenAddress)
		})
	}
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorCtx(ctx, err)
	}

	// Give the syncer time to shut down gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()

	if err := syncer.Stop(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err)
	}

	logger.InfoCtx(shutdownCtx, "Ownership Syncer stopped")
}

// parseTokenIDs splits a comma separated list of decimal token ids
func parseTokenIDs(list string) ([]uint64, error) {
	var ids []uint64
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse token id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
