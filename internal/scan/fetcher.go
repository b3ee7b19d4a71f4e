package scan

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/metrics"
)

// LogSource returns the logs of a contract for one block range in a single request
type LogSource interface {
	FilterLogs(ctx context.Context, contract common.Address, topics []common.Hash, r domain.ScanRange) ([]types.Log, error)
}

// LogSourceFunc adapts a function to LogSource
type LogSourceFunc func(ctx context.Context, contract common.Address, topics []common.Hash, r domain.ScanRange) ([]types.Log, error)

func (f LogSourceFunc) FilterLogs(ctx context.Context, contract common.Address, topics []common.Hash, r domain.ScanRange) ([]types.Log, error) {
	return f(ctx, contract, topics, r)
}

// FetcherConfig controls how ranges are split
type FetcherConfig struct {
	// MinSpan is the span at or below which a rejected range is recorded as a gap
	MinSpan uint64
	// MaxSpan is the partition size used when Concurrency > 1
	MaxSpan uint64
	// Concurrency is the number of partitions fetched in parallel
	Concurrency int
}

// ScannedRange is a sub-range that was fetched successfully
type ScannedRange struct {
	Range domain.ScanRange
	Logs  []types.Log
}

// FetchResult holds the scanned sub-ranges in ascending block order and the gaps left behind
type FetchResult struct {
	Ranges []ScannedRange
	Gaps   []domain.Gap
	Splits int
}

// LogCount returns the total number of logs fetched
func (r *FetchResult) LogCount() int {
	n := 0
	for _, sr := range r.Ranges {
		n += len(sr.Logs)
	}
	return n
}

func (r *FetchResult) merge(other *FetchResult) {
	r.Ranges = append(r.Ranges, other.Ranges...)
	r.Gaps = append(r.Gaps, other.Gaps...)
	r.Splits += other.Splits
}

// RangeFetcher fetches every log of the contract in a block range, adapting to provider limits
//
//go:generate mockgen -source=fetcher.go -destination=../mocks/range_fetcher.go -package=mocks -mock_names=RangeFetcher=MockRangeFetcher
type RangeFetcher interface {
	Fetch(ctx context.Context, r domain.ScanRange) (*FetchResult, error)
}

type rangeFetcher struct {
	source   LogSource
	contract common.Address
	topics   []common.Hash
	config   FetcherConfig
}

// NewRangeFetcher creates a RangeFetcher for the logs of contract whose first topic is one of topics
func NewRangeFetcher(source LogSource, contract common.Address, topics []common.Hash, config FetcherConfig) RangeFetcher {
	if config.MinSpan == 0 {
		config.MinSpan = 1
	}
	return &rangeFetcher{
		source:   source,
		contract: contract,
		topics:   topics,
		config:   config,
	}
}

// Fetch returns the logs of r. Ranges the provider keeps rejecting at the minimum span are
// returned as gaps; any other provider error aborts the fetch.
func (f *rangeFetcher) Fetch(ctx context.Context, r domain.ScanRange) (*FetchResult, error) {
	if r.To < r.From {
		return nil, fmt.Errorf("%w: invalid scan range %s", domain.ErrInvalidConfig, r)
	}

	partitions := f.partition(r)
	if len(partitions) == 1 {
		return f.scan(ctx, partitions[0])
	}

	pool := pond.NewResultPool[*FetchResult](f.config.Concurrency, pond.WithContext(ctx))
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for _, p := range partitions {
		group.SubmitErr(func() (*FetchResult, error) {
			return f.scan(ctx, p)
		})
	}

	parts, err := group.Wait()
	if err != nil {
		return nil, err
	}

	result := &FetchResult{}
	for _, part := range parts {
		result.merge(part)
	}
	return result, nil
}

// partition cuts r into MaxSpan sized chunks when parallel fetching is enabled
func (f *rangeFetcher) partition(r domain.ScanRange) []domain.ScanRange {
	if f.config.Concurrency <= 1 || f.config.MaxSpan == 0 || r.Span() <= f.config.MaxSpan {
		return []domain.ScanRange{r}
	}

	var parts []domain.ScanRange
	for from := r.From; from <= r.To; {
		to := from + f.config.MaxSpan - 1
		if to > r.To || to < from {
			to = r.To
		}
		parts = append(parts, domain.ScanRange{From: from, To: to})
		if to == r.To {
			break
		}
		from = to + 1
	}
	return parts
}

// scan works through a LIFO list of ranges. Each popped range either yields logs,
// is replaced by its two halves, or is recorded as a gap.
func (f *rangeFetcher) scan(ctx context.Context, r domain.ScanRange) (*FetchResult, error) {
	result := &FetchResult{}
	pending := []domain.ScanRange{r}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		logs, err := f.source.FilterLogs(ctx, f.contract, f.topics, current)
		if err == nil {
			result.Ranges = append(result.Ranges, ScannedRange{Range: current, Logs: logs})
			continue
		}

		if !domain.IsRetryable(err) {
			return nil, err
		}

		if current.Span() <= f.config.MinSpan {
			logger.WarnCtx(ctx, "Range rejected at minimum span, recording gap",
				zap.Uint64("from_block", current.From),
				zap.Uint64("to_block", current.To),
				zap.Error(err))
			metrics.ScanGapTotal.Inc()
			result.Gaps = append(result.Gaps, domain.Gap{From: current.From, To: current.To, Reason: err.Error()})
			continue
		}

		left, right := current.Split()
		logger.DebugCtx(ctx, "Range rejected, splitting",
			zap.Uint64("from_block", current.From),
			zap.Uint64("to_block", current.To),
			zap.Error(err))
		metrics.RangeSplitTotal.Inc()
		result.Splits++

		// right first so the left half is popped next and output stays ascending
		pending = append(pending, right, left)
	}

	return result, nil
}
