package sweeper

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/feral-file/ff-sales-reconciler/internal/adapter"
	"github.com/feral-file/ff-sales-reconciler/internal/block"
	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/messaging"
	"github.com/feral-file/ff-sales-reconciler/internal/metrics"
	"github.com/feral-file/ff-sales-reconciler/internal/store"
	"github.com/feral-file/ff-sales-reconciler/internal/store/schema"
)

// OwnerSource reads the on-chain owner of a token
type OwnerSource interface {
	ERC721OwnerOf(ctx context.Context, contract common.Address, tokenID uint64) (string, error)
}

var _ Sweeper = (*OwnershipSyncer)(nil)

// OwnershipSyncerConfig holds configuration for the ownership syncer
type OwnershipSyncerConfig struct {
	Contract     common.Address
	Interval     time.Duration    // Time between cycles
	ItemDelay    time.Duration    // Pause between tokens
	ErrorBackoff time.Duration    // Wait after a failed cycle
	Scope        store.TokenScope // listed or all
	Limit        int              // Max tokens per cycle, 0 for no limit

	// TokenIDs checks only these tokens instead of the scope
	TokenIDs []uint64
	// DryRun reports drift without writing
	DryRun   bool

	// Retry policy for refreshing owner counts after a repair
	RetryInitialInterval time.Duration
	RetryMaxElapsedTime  time.Duration
}

// OwnershipSyncer compares the local owner of each token with ownerOf on chain and
// repairs drift with a synthetic transfer entry
type OwnershipSyncer struct {
	config    OwnershipSyncerConfig
	store     store.Store
	owners    OwnerSource
	blocks    block.BlockProvider
	publisher messaging.Publisher
	clock     adapter.Clock

	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewOwnershipSyncer creates a new ownership syncer. publisher may be nil.
func NewOwnershipSyncer(
	config OwnershipSyncerConfig,
	st store.Store,
	owners OwnerSource,
	blocks block.BlockProvider,
	publisher messaging.Publisher,
	clock adapter.Clock,
) *OwnershipSyncer {
	if config.Scope == "" {
		config.Scope = store.TokenScopeListed
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = time.Second
	}
	if config.RetryMaxElapsedTime <= 0 {
		config.RetryMaxElapsedTime = time.Minute
	}
	if publisher == nil {
		publisher = messaging.NewNoopPublisher()
	}

	return &OwnershipSyncer{
		config:    config,
		store:     st,
		owners:    owners,
		blocks:    blocks,
		publisher: publisher,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *OwnershipSyncer) Name() string {
	return "ownership-syncer"
}

// Start runs a sync cycle every Interval until the context is canceled or Stop is called
func (s *OwnershipSyncer) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting ownership syncer",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("item_delay", s.config.ItemDelay),
		zap.String("scope", string(s.config.Scope)),
		zap.Int("limit", s.config.Limit),
	)

	for {
		wait := s.config.Interval
		if _, err := s.SyncOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.ErrorCtx(ctx, err)
			wait = s.config.ErrorBackoff
		}

		if !s.sleep(ctx, wait) {
			logger.InfoCtx(ctx, "Ownership syncer stopping")
			return nil
		}
	}
}

// Stop gracefully stops the syncer, waiting for the current cycle to finish
func (s *OwnershipSyncer) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	logger.InfoCtx(ctx, "Stopping ownership syncer")
	close(s.stopChan)

	select {
	case <-s.stoppedCh:
		logger.InfoCtx(ctx, "Ownership syncer stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Ownership syncer stop interrupted by context timeout")
		return ctx.Err()
	}
}

// sleep returns false when interrupted by cancellation or Stop
func (s *OwnershipSyncer) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-s.stopChan:
			return false
		default:
			return true
		}
	}

	select {
	case <-s.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	case <-s.stopChan:
		return false
	}
}

// SyncOnce runs a single pass over the selected tokens
func (s *OwnershipSyncer) SyncOnce(ctx context.Context) (*domain.SyncSummary, error) {
	start := s.clock.Now()
	summary := &domain.SyncSummary{
		RunID:  ulid.MustNewDefault(start).String(),
		DryRun: s.config.DryRun,
		Drifts: []domain.OwnershipDrift{},
	}
	ctx = logger.WithRun(ctx, logger.RunInfo{
		RunID:    summary.RunID,
		Mode:     "ownership_sync",
		Contract: domain.NormalizeAddress(s.config.Contract.Hex()),
	})

	tokens, err := s.selectTokens(ctx)
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Starting ownership sync cycle", zap.Int("tokens", len(tokens)), zap.Bool("dry_run", s.config.DryRun))

	for i, token := range tokens {
		if i > 0 && !s.sleep(ctx, s.config.ItemDelay) {
			break
		}

		summary.Checked++
		drift, err := s.syncToken(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			summary.Failed++
			metrics.OwnershipCheckTotal.WithLabelValues("failed").Inc()
			logger.ErrorCtx(ctx, err, zap.Uint64("token_id", token.TokenID))
			continue
		}
		if drift == nil {
			metrics.OwnershipCheckTotal.WithLabelValues("in_sync").Inc()
			continue
		}

		summary.Drifted++
		switch {
		case s.config.DryRun:
			metrics.OwnershipCheckTotal.WithLabelValues("drift_reported").Inc()
		case drift.Repaired:
			summary.Repaired++
			metrics.OwnershipCheckTotal.WithLabelValues("repaired").Inc()
		default:
			metrics.OwnershipCheckTotal.WithLabelValues("drift_recorded").Inc()
		}
		summary.Drifts = append(summary.Drifts, *drift)
	}

	summary.Duration = s.clock.Since(start)
	if err := s.publisher.PublishSync(context.WithoutCancel(ctx), summary); err != nil {
		logger.WarnCtx(ctx, "Failed to publish sync summary", zap.Error(err))
	}

	logger.InfoCtx(ctx, "Ownership sync cycle completed",
		zap.Int("checked", summary.Checked),
		zap.Int("drifted", summary.Drifted),
		zap.Int("repaired", summary.Repaired),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// selectTokens returns the configured tokens, or the scope when none are configured.
// Configured tokens missing from the local DB are skipped.
func (s *OwnershipSyncer) selectTokens(ctx context.Context) ([]*schema.Token, error) {
	if len(s.config.TokenIDs) == 0 {
		tokens, err := s.store.ListTokens(ctx, store.TokenFilter{Scope: s.config.Scope, Limit: s.config.Limit})
		if err != nil {
			return nil, fmt.Errorf("failed to list tokens: %w", err)
		}
		return tokens, nil
	}

	tokens := make([]*schema.Token, 0, len(s.config.TokenIDs))
	for _, id := range s.config.TokenIDs {
		token, err := s.store.GetToken(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get token %d: %w", id, err)
		}
		if token == nil {
			logger.WarnCtx(ctx, "Skipping token not in local DB", zap.Uint64("token_id", id))
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// syncToken returns nil when the token is in sync. A non-nil drift is returned once the
// synthetic entry is committed, found to exist already, or reported by a dry run.
func (s *OwnershipSyncer) syncToken(ctx context.Context, token *schema.Token) (*domain.OwnershipDrift, error) {
	chainOwner, err := s.owners.ERC721OwnerOf(ctx, s.config.Contract, token.TokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to read owner of token %d: %w", token.TokenID, err)
	}
	if domain.IsZeroAddress(chainOwner) {
		// burned tokens keep their last known owner
		logger.DebugCtx(ctx, "Token has no owner on chain", zap.Uint64("token_id", token.TokenID))
		return nil, nil
	}
	if domain.SameAddress(chainOwner, token.OwnerAddress) {
		return nil, nil
	}

	oldOwner := domain.NormalizeAddress(token.OwnerAddress)
	newOwner := domain.NormalizeAddress(chainOwner)

	head, err := s.blocks.GetLatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get head block: %w", err)
	}

	n, err := s.store.CountLedgerEntries(ctx, token.TokenID)
	if err != nil {
		return nil, err
	}

	txID := SyntheticTransactionID(token.TokenID, oldOwner, newOwner, uint64(n))
	tokenID := token.TokenID
	entry := &schema.LedgerEntry{
		TransactionID: txID,
		TokenID:       &tokenID,
		FromAddress:   oldOwner,
		ToAddress:     newOwner,
		Kind:          domain.LedgerKindTransfer,
		BlockNumber:   head,
		GasPrice:      "0",
		Timestamp:     s.clock.Now().UTC(),
		Confidence:    domain.ConfidenceHigh,
		Source:        domain.FactSourceOwnershipSync,
	}

	drift := &domain.OwnershipDrift{
		TokenID:       token.TokenID,
		OldOwner:      oldOwner,
		NewOwner:      newOwner,
		TransactionID: txID,
		BlockNumber:   head,
	}
	fields := []zap.Field{
		zap.Uint64("token_id", token.TokenID),
		zap.String("old_owner", oldOwner),
		zap.String("new_owner", newOwner),
		zap.String("transaction_id", txID),
	}

	if s.config.DryRun {
		logger.InfoCtx(ctx, "Dry run, would repair ownership drift", fields...)
		return drift, nil
	}

	effect := &store.OwnershipEffect{
		TokenID:     token.TokenID,
		NewOwner:    newOwner,
		BlockNumber: head,
		Required:    true,
	}
	created, err := s.store.CommitEntry(ctx, entry, effect)
	if err != nil {
		return nil, fmt.Errorf("failed to commit ownership repair for token %d: %w", token.TokenID, err)
	}
	drift.Repaired = created && effect.Applied

	logger.InfoCtx(ctx, "Ownership drift detected", append(fields, zap.Bool("repaired", drift.Repaired))...)

	if !drift.Repaired {
		return drift, nil
	}

	if err := s.refreshCountsWithRetry(ctx, oldOwner, newOwner); err != nil {
		logger.ErrorCtx(ctx, err, zap.Uint64("token_id", token.TokenID))
	}

	if err := s.publisher.PublishDrift(ctx, *drift); err != nil {
		logger.WarnCtx(ctx, "Failed to publish ownership drift", zap.Error(err), zap.Uint64("token_id", token.TokenID))
	}

	return drift, nil
}

// refreshCountsWithRetry recomputes the owned counts of both owners with exponential backoff
func (s *OwnershipSyncer) refreshCountsWithRetry(ctx context.Context, addresses ...string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryInitialInterval
	b.MaxElapsedTime = s.config.RetryMaxElapsedTime

	var attemptCount int
	notify := func(err error, next time.Duration) {
		attemptCount++
		logger.WarnCtx(ctx, "Owned count refresh failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attemptCount),
			zap.Duration("next_retry_in", next))
	}

	err := backoff.RetryNotify(func() error {
		_, err := s.store.RefreshOwnedCounts(ctx, addresses...)
		return err
	}, backoff.WithContext(b, ctx), notify)
	if err != nil {
		return fmt.Errorf("failed to refresh owned counts after %d attempts: %w", attemptCount+1, err)
	}
	return nil
}

// SyntheticTransactionID derives the id of an ownership repair entry from the token, both owners
// and the number of entries already recorded for the token. Repeating a sync without an
// intervening entry yields the same id.
func SyntheticTransactionID(tokenID uint64, oldOwner, newOwner string, entryCount uint64) string {
	buf := make([]byte, 0, 8+common.AddressLength*2+8)
	buf = binary.BigEndian.AppendUint64(buf, tokenID)
	buf = append(buf, common.HexToAddress(strings.TrimSpace(oldOwner)).Bytes()...)
	buf = append(buf, common.HexToAddress(strings.TrimSpace(newOwner)).Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, entryCount)
	return domain.OWNERSHIP_SYNC_TX_PREFIX + hex.EncodeToString(crypto.Keccak256(buf))
}
