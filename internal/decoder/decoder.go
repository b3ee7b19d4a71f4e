package decoder

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
)

// Result is the outcome of running one strategy on one log
type Result struct {
	fact *domain.SaleFact
}

// NotApplicable is returned when a strategy does not recognise a log
var NotApplicable = Result{}

// Decoded wraps a decoded fact
func Decoded(fact *domain.SaleFact) Result {
	return Result{fact: fact}
}

// Applicable reports whether the strategy produced a fact
func (r Result) Applicable() bool {
	return r.fact != nil
}

// Fact returns the decoded fact, nil when not applicable
func (r Result) Fact() *domain.SaleFact {
	return r.fact
}

// Strategy turns a single log into a sale fact
type Strategy interface {
	// Name identifies the strategy in logs
	Name() string
	// Topics returns the event signatures the strategy understands
	Topics() []common.Hash
	// Decode returns NotApplicable for logs the strategy does not handle and an
	// error wrapping domain.ErrDecode for logs it recognises but cannot parse.
	// Any other error is a failed lookup and leaves the log undecided.
	Decode(ctx context.Context, log types.Log) (Result, error)
}

// Chain tries its strategies in order for every transaction
type Chain struct {
	strategies []Strategy
}

// NewChain creates a Chain; earlier strategies take precedence
func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// NewContractChain creates the chain used by the commands: the sale event first, then the
// transfer value fallback when enableFallback is set
func NewContractChain(contract common.Address, source TxValueSource, enableFallback bool, txCacheSize int) (*Chain, error) {
	strategies := []Strategy{NewSaleEventStrategy(contract)}
	if enableFallback {
		fallback, err := NewTransferValueStrategy(contract, source, txCacheSize)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, fallback)
	}
	return NewChain(strategies...), nil
}

// Topics returns the union of the strategies' event signatures, in strategy order
func (c *Chain) Topics() []common.Hash {
	seen := make(map[common.Hash]bool)
	var topics []common.Hash
	for _, s := range c.strategies {
		for _, t := range s.Topics() {
			if !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
	}
	return topics
}

// DecodeTransaction decodes the logs of one transaction. The first strategy that decodes
// at least one log wins the transaction and later strategies are not attempted.
// Errors of every attempted strategy are returned alongside the facts.
func (c *Chain) DecodeTransaction(ctx context.Context, logs []types.Log) ([]domain.SaleFact, []error) {
	var errs []error

	ordered := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		if !l.Removed {
			ordered = append(ordered, l)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	for _, s := range c.strategies {
		var facts []domain.SaleFact
		for _, l := range ordered {
			result, err := s.Decode(ctx, l)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil, append(errs, err)
				}
				logger.WarnCtx(ctx, "Failed to decode log",
					zap.String("strategy", s.Name()),
					zap.String("txHash", l.TxHash.Hex()),
					zap.Uint("logIndex", l.Index),
					zap.Error(err))
				errs = append(errs, err)
				continue
			}
			if result.Applicable() {
				facts = append(facts, *result.Fact())
			}
		}

		if len(facts) > 0 {
			assignTransactionIDs(facts)
			return facts, errs
		}
	}

	return nil, errs
}

// assignTransactionIDs uses the tx hash as id for single fact transactions and
// <txhash>:<logIndex> when the transaction yields several facts
func assignTransactionIDs(facts []domain.SaleFact) {
	if len(facts) == 1 {
		facts[0].TransactionID = facts[0].TxHash.Hex()
		return
	}
	for i := range facts {
		facts[i].TransactionID = fmt.Sprintf("%s:%d", facts[i].TxHash.Hex(), facts[i].LogIndex)
	}
}

// GroupByTransaction splits logs into per transaction batches ordered by block number
// and position of the first log in the block
func GroupByTransaction(logs []types.Log) [][]types.Log {
	index := make(map[common.Hash]int)
	var groups [][]types.Log
	for _, l := range logs {
		i, ok := index[l.TxHash]
		if !ok {
			i = len(groups)
			index[l.TxHash] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], l)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i][0], groups[j][0]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.Index < b.Index
	})
	return groups
}

func malformed(log types.Log, format string, args ...any) error {
	return fmt.Errorf("%w: tx %s log %d: %s", domain.ErrDecode, log.TxHash.Hex(), log.Index, fmt.Sprintf(format, args...))
}
