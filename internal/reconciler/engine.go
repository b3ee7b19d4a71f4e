package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-sales-reconciler/internal/adapter"
	"github.com/feral-file/ff-sales-reconciler/internal/block"
	"github.com/feral-file/ff-sales-reconciler/internal/decoder"
	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/messaging"
	"github.com/feral-file/ff-sales-reconciler/internal/metrics"
	"github.com/feral-file/ff-sales-reconciler/internal/scan"
	"github.com/feral-file/ff-sales-reconciler/internal/store"
	"github.com/feral-file/ff-sales-reconciler/internal/store/schema"
)

// ErrRunInProgress is returned when Run or Import is called while another run is active
var ErrRunInProgress = errors.New("reconciliation run already in progress")

// State is the phase of the current run
type State int32

const (
	StateIdle State = iota
	StateLocatingRange
	StateFetching
	StateDecoding
	StateCommitting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocatingRange:
		return "locating_range"
	case StateFetching:
		return "fetching"
	case StateDecoding:
		return "decoding"
	case StateCommitting:
		return "committing"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ReceiptSource returns transaction receipts for the import path
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds the engine settings that do not change between runs
type Config struct {
	Contract common.Address
	Policy   domain.DedupPolicy
	// FallbackLookback is the number of blocks scanned back from head when no lower bound is known
	FallbackLookback uint64
	// StartBlock is used as the lower bound instead of the lookback window when non-zero
	StartBlock uint64
	// BlockTimestamps stamps entries with the block time instead of the clock
	BlockTimestamps bool
	// ImportConcurrency bounds parallel receipt lookups during Import
	ImportConcurrency int
}

// RunOptions selects the block range and behaviour of one run
type RunOptions struct {
	From             *uint64
	To               *uint64
	UseHead          bool
	LocateDeployment bool
	// Resume starts after the stored reconcile cursor when one exists
	Resume bool
	DryRun bool
	// Policy overrides Config.Policy when set
	Policy domain.DedupPolicy
}

// Engine drives fetch, decode and commit for one contract
type Engine struct {
	config    Config
	fetcher   scan.RangeFetcher
	locator   scan.DeploymentLocator
	chain     *decoder.Chain
	store     store.Store
	blocks    block.BlockProvider
	receipts  ReceiptSource
	publisher messaging.Publisher
	clock     adapter.Clock

	state   atomic.Int32
	running atomic.Bool
}

// NewEngine creates an Engine. publisher may be nil.
func NewEngine(
	config Config,
	fetcher scan.RangeFetcher,
	locator scan.DeploymentLocator,
	chain *decoder.Chain,
	st store.Store,
	blocks block.BlockProvider,
	receipts ReceiptSource,
	publisher messaging.Publisher,
	clock adapter.Clock,
) *Engine {
	if publisher == nil {
		publisher = messaging.NewNoopPublisher()
	}
	if config.ImportConcurrency <= 0 {
		config.ImportConcurrency = 1
	}
	return &Engine{
		config:    config,
		fetcher:   fetcher,
		locator:   locator,
		chain:     chain,
		store:     st,
		blocks:    blocks,
		receipts:  receipts,
		publisher: publisher,
		clock:     clock,
	}
}

// State returns the phase of the current or last run
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// run carries the per-run bookkeeping shared by Run and Import
type run struct {
	summary *domain.RunSummary
	policy  domain.DedupPolicy
	dryRun  bool

	// facts accepted earlier in this run, consulted before the store so dry runs dedup too
	soldInRun map[uint64]bool
	seenTx    map[string]bool
}

func (r *run) accept(fact *domain.SaleFact) {
	if fact.CountsAsSale() {
		r.soldInRun[fact.TokenID] = true
	}
	r.seenTx[fact.TransactionID] = true
}

func (e *Engine) begin(ctx context.Context, mode domain.RunMode, policy domain.DedupPolicy, dryRun bool) (context.Context, *run, error) {
	if policy == "" {
		policy = e.config.Policy
	}
	policy, err := domain.ParseDedupPolicy(string(policy))
	if err != nil {
		return ctx, nil, err
	}

	now := e.clock.Now()
	summary := &domain.RunSummary{
		RunID:     ulid.MustNewDefault(now).String(),
		Mode:      mode,
		Contract:  domain.NormalizeAddress(e.config.Contract.Hex()),
		Policy:    policy,
		DryRun:    dryRun,
		Gaps:      []domain.Gap{},
		StartedAt: now,
	}

	ctx = logger.WithRun(ctx, logger.RunInfo{
		RunID:    summary.RunID,
		Mode:     string(mode),
		Contract: summary.Contract,
	})

	return ctx, &run{
		summary:   summary,
		policy:    policy,
		dryRun:    dryRun,
		soldInRun: make(map[uint64]bool),
		seenTx:    make(map[string]bool),
	}, nil
}

// Run reconciles the ledger against the contract's logs in the range selected by opts.
// The summary is returned together with the error when the run stops after the range was resolved.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*domain.RunSummary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	e.setState(StateIdle)
	ctx, rs, err := e.begin(ctx, domain.RunModeRange, opts.Policy, opts.DryRun)
	if err != nil {
		return nil, err
	}
	summary := rs.summary

	e.setState(StateLocatingRange)
	r, upToDate, err := e.resolveRange(ctx, opts)
	if err != nil {
		e.setState(StateDone)
		return nil, err
	}
	if upToDate {
		logger.InfoCtx(ctx, "Reconcile cursor is already at head, nothing to scan")
		e.finish(ctx, summary)
		return summary, nil
	}
	summary.Range = &r

	logger.InfoCtx(ctx, "Starting reconciliation run",
		zap.Uint64("from_block", r.From),
		zap.Uint64("to_block", r.To),
		zap.String("policy", string(rs.policy)),
		zap.Bool("dry_run", rs.dryRun))

	e.setState(StateFetching)
	result, err := e.fetcher.Fetch(ctx, r)
	if err != nil {
		e.finish(ctx, summary)
		return summary, fmt.Errorf("failed to fetch logs in %s: %w", r, err)
	}

	summary.RangesScanned = len(result.Ranges)
	summary.LogsFetched = result.LogCount()
	summary.Gaps = append(summary.Gaps, result.Gaps...)

	for _, sr := range result.Ranges {
		if err := ctx.Err(); err != nil {
			e.finish(ctx, summary)
			return summary, err
		}

		e.setState(StateDecoding)
		var facts []domain.SaleFact
		for _, txLogs := range decoder.GroupByTransaction(sr.Logs) {
			decoded, _, err := e.decode(ctx, rs, txLogs)
			if err != nil {
				e.finish(ctx, summary)
				return summary, err
			}
			facts = append(facts, decoded...)
		}

		e.setState(StateCommitting)
		for i := range facts {
			if err := ctx.Err(); err != nil {
				e.finish(ctx, summary)
				return summary, err
			}
			e.commit(ctx, rs, &facts[i], nil)
		}
	}

	switch {
	case rs.dryRun:
	case summary.HasGaps():
		logger.WarnCtx(ctx, "Run left gaps, reconcile cursor not advanced", zap.Int("gaps", len(summary.Gaps)))
	case summary.Failed > 0:
		logger.WarnCtx(ctx, "Run had failures, reconcile cursor not advanced", zap.Int("failed", summary.Failed))
	default:
		if err := e.store.SetReconcileCursor(ctx, summary.Contract, r.To); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("failed to store reconcile cursor: %w", err), zap.Uint64("block", r.To))
		}
	}

	e.finish(ctx, summary)
	return summary, nil
}

// resolveRange picks the run's range. upToDate is true when resuming and the cursor already covers To.
func (e *Engine) resolveRange(ctx context.Context, opts RunOptions) (domain.ScanRange, bool, error) {
	var head *uint64
	latest := func() (uint64, error) {
		if head != nil {
			return *head, nil
		}
		if e.blocks == nil {
			return 0, fmt.Errorf("%w: no block provider to resolve the chain head", domain.ErrInvalidConfig)
		}
		n, err := e.blocks.GetLatestBlock(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to get latest block: %w", err)
		}
		head = &n
		return n, nil
	}

	var to uint64
	if opts.To != nil && !opts.UseHead {
		to = *opts.To
	} else {
		n, err := latest()
		if err != nil {
			return domain.ScanRange{}, false, err
		}
		to = n
	}

	from, resumed, err := e.resolveFrom(ctx, opts, to, latest)
	if err != nil {
		return domain.ScanRange{}, false, err
	}

	if from > to {
		if resumed {
			return domain.ScanRange{}, true, nil
		}
		return domain.ScanRange{}, false, fmt.Errorf("%w: from block %d is after to block %d",
			domain.ErrInvalidConfig, from, to)
	}

	return domain.ScanRange{From: from, To: to}, false, nil
}

func (e *Engine) resolveFrom(ctx context.Context, opts RunOptions, to uint64, latest func() (uint64, error)) (uint64, bool, error) {
	if opts.From != nil {
		return *opts.From, false, nil
	}

	if opts.Resume {
		cursor, ok, err := e.store.GetReconcileCursor(ctx, domain.NormalizeAddress(e.config.Contract.Hex()))
		if err != nil {
			return 0, false, err
		}
		if ok {
			logger.InfoCtx(ctx, "Resuming after reconcile cursor", zap.Uint64("cursor", cursor))
			return cursor + 1, true, nil
		}
		logger.InfoCtx(ctx, "No reconcile cursor stored yet")
	}

	if opts.LocateDeployment && e.locator != nil {
		deployed, found, err := e.locator.Locate(ctx, to)
		switch {
		case err != nil:
			logger.WarnCtx(ctx, "Failed to locate deployment block, using fallback window", zap.Error(err))
		case !found:
			logger.WarnCtx(ctx, "Contract has no code at the upper bound, using fallback window", zap.Uint64("upper_bound", to))
		default:
			return deployed, false, nil
		}
	}

	if e.config.StartBlock > 0 {
		return e.config.StartBlock, false, nil
	}

	n, err := latest()
	if err != nil {
		return 0, false, err
	}
	if n < e.config.FallbackLookback {
		return 0, false, nil
	}
	return n - e.config.FallbackLookback, false, nil
}

// decode runs the strategy chain on one transaction and updates the counters.
// Malformed logs count as decode failures. Any other error means a provider lookup failed and
// the transaction could not be decided; it counts as failed and undecided is true.
// Only a cancelled context is returned as an error.
func (e *Engine) decode(ctx context.Context, rs *run, txLogs []types.Log) (facts []domain.SaleFact, undecided bool, err error) {
	rs.summary.TransactionsSeen++

	facts, errs := e.chain.DecodeTransaction(ctx, txLogs)
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	for _, decodeErr := range errs {
		if errors.Is(decodeErr, domain.ErrDecode) {
			rs.summary.DecodeFailures++
			continue
		}
		undecided = true
		rs.summary.Failed++
		logger.ErrorCtx(ctx, fmt.Errorf("failed to decode transaction: %w", decodeErr))
	}
	rs.summary.FactsDecoded += len(facts)
	for _, f := range facts {
		if f.Confidence == domain.ConfidenceLow {
			rs.summary.LowConfidenceFacts++
		}
	}
	return facts, undecided, nil
}

// gasInfo is the fee data of a transaction, known only on the import path
type gasInfo struct {
	used  uint64
	price string
}

// commit applies the dedup policy to one fact and writes it with its ownership effect
func (e *Engine) commit(ctx context.Context, rs *run, fact *domain.SaleFact, gas *gasInfo) {
	fields := []zap.Field{
		zap.Uint64("token_id", fact.TokenID),
		zap.String("transaction_id", fact.TransactionID),
		zap.Uint64("block_number", fact.BlockNumber),
	}

	token, err := e.store.GetToken(ctx, fact.TokenID)
	if err != nil {
		rs.summary.Failed++
		logger.ErrorCtx(ctx, fmt.Errorf("failed to load token: %w", err), fields...)
		return
	}
	if token == nil {
		rs.summary.SkippedUnknownTokens++
		logger.InfoCtx(ctx, "Skipping sale, token not in local DB", fields...)
		return
	}

	duplicate, err := e.isDuplicate(ctx, rs, fact)
	if err != nil {
		rs.summary.Failed++
		logger.ErrorCtx(ctx, fmt.Errorf("failed to check sale history: %w", err), fields...)
		return
	}
	if duplicate {
		rs.summary.SkippedDuplicates++
		logger.DebugCtx(ctx, "Skipping sale already recorded", append(fields, zap.String("policy", string(rs.policy)))...)
		return
	}

	entry, err := e.buildEntry(ctx, fact, gas)
	if err != nil {
		rs.summary.Failed++
		logger.ErrorCtx(ctx, err, fields...)
		return
	}

	if rs.dryRun {
		rs.accept(fact)
		rs.summary.Created++
		logger.InfoCtx(ctx, "Dry run, would create sale",
			append(fields,
				zap.String("buyer", entry.ToAddress),
				zap.Stringp("price", entry.Price),
				zap.String("confidence", string(entry.Confidence)))...)
		return
	}

	created, err := e.store.CommitEntry(ctx, entry, &store.OwnershipEffect{
		TokenID:     fact.TokenID,
		NewOwner:    fact.Buyer,
		BlockNumber: fact.BlockNumber,
	})
	switch {
	case errors.Is(err, domain.ErrTokenNotFound):
		rs.summary.SkippedUnknownTokens++
		logger.InfoCtx(ctx, "Skipping sale, token not in local DB", fields...)
	case err != nil:
		rs.summary.Failed++
		logger.ErrorCtx(ctx, fmt.Errorf("failed to commit ledger entry: %w", err), fields...)
	case !created:
		rs.accept(fact)
		rs.summary.SkippedDuplicates++
		logger.DebugCtx(ctx, "Ledger entry already exists", fields...)
	default:
		rs.accept(fact)
		rs.summary.Created++
		logger.InfoCtx(ctx, "Created sale", append(fields, zap.String("buyer", entry.ToAddress), zap.Stringp("price", entry.Price))...)
	}
}

func (e *Engine) isDuplicate(ctx context.Context, rs *run, fact *domain.SaleFact) (bool, error) {
	switch rs.policy {
	case domain.PolicyFirstSaleWins:
		if rs.soldInRun[fact.TokenID] {
			return true, nil
		}
		return e.store.HasSaleFor(ctx, fact.TokenID)
	default:
		if rs.seenTx[fact.TransactionID] {
			return true, nil
		}
		return e.store.TransactionExists(ctx, fact.TransactionID)
	}
}

func (e *Engine) buildEntry(ctx context.Context, fact *domain.SaleFact, gas *gasInfo) (*schema.LedgerEntry, error) {
	tokenID := fact.TokenID
	entry := &schema.LedgerEntry{
		TransactionID: fact.TransactionID,
		TokenID:       &tokenID,
		FromAddress:   domain.NormalizeAddress(fact.Seller),
		ToAddress:     domain.NormalizeAddress(fact.Buyer),
		Kind:          domain.LedgerKindBuy,
		BlockNumber:   fact.BlockNumber,
		LogIndex:      fact.LogIndex,
		GasPrice:      "0",
		Timestamp:     e.blockTime(ctx, fact.BlockNumber),
		Confidence:    fact.Confidence,
		Source:        fact.Source,
	}

	if fact.PriceKnown() {
		price := domain.FormatWei(fact.Price)
		entry.Price = &price
	}

	if gas != nil {
		entry.GasUsed = gas.used
		entry.GasPrice = gas.price
	}

	if fact.Log != nil {
		raw, err := json.Marshal(fact.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal log: %w", err)
		}
		entry.Raw = datatypes.JSON(raw)
	}

	return entry, nil
}

// blockTime returns the block timestamp when enabled, falling back to the clock
func (e *Engine) blockTime(ctx context.Context, blockNumber uint64) time.Time {
	if e.config.BlockTimestamps && e.blocks != nil {
		ts, err := e.blocks.GetBlockTimestamp(ctx, blockNumber)
		if err == nil {
			return ts.UTC()
		}
		logger.WarnCtx(ctx, "Failed to get block timestamp, using current time",
			zap.Uint64("block_number", blockNumber),
			zap.Error(err))
	}
	return e.clock.Now().UTC()
}

// finish records, publishes and logs the summary
func (e *Engine) finish(ctx context.Context, summary *domain.RunSummary) {
	summary.Duration = e.clock.Since(summary.StartedAt)
	metrics.ObserveRun(summary)

	if err := e.publisher.PublishRun(context.WithoutCancel(ctx), summary); err != nil {
		logger.WarnCtx(ctx, "Failed to publish run summary", zap.Error(err))
	}

	fields := []zap.Field{
		zap.Bool("dry_run", summary.DryRun),
		zap.String("policy", string(summary.Policy)),
		zap.Int("ranges_scanned", summary.RangesScanned),
		zap.Int("logs_fetched", summary.LogsFetched),
		zap.Int("transactions_seen", summary.TransactionsSeen),
		zap.Int("facts_decoded", summary.FactsDecoded),
		zap.Int("low_confidence_facts", summary.LowConfidenceFacts),
		zap.Int("decode_failures", summary.DecodeFailures),
		zap.Int("skipped_duplicates", summary.SkippedDuplicates),
		zap.Int("skipped_unknown_tokens", summary.SkippedUnknownTokens),
		zap.Int("created", summary.Created),
		zap.Int("failed", summary.Failed),
		zap.Any("gaps", summary.Gaps),
		zap.Duration("duration", summary.Duration),
	}
	if summary.Range != nil {
		fields = append(fields, zap.Uint64("from_block", summary.Range.From), zap.Uint64("to_block", summary.Range.To))
	}
	logger.InfoCtx(ctx, "Reconciliation run finished", fields...)

	e.setState(StateDone)
}
