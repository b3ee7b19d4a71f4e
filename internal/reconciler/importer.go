package reconciler

import (
	"context"
	"fmt"
	"sort"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
)

// ImportOptions lists the transactions to import
type ImportOptions struct {
	TxHashes []common.Hash
	DryRun   bool
	// Policy overrides Config.Policy when set
	Policy domain.DedupPolicy
}

type receiptResult struct {
	hash    common.Hash
	receipt *types.Receipt
	err     error
}

// Import decodes the given transactions from their receipts and commits the sales
// through the same dedup and ownership path as Run. The reconcile cursor is left untouched.
func (e *Engine) Import(ctx context.Context, opts ImportOptions) (*domain.RunSummary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	e.setState(StateIdle)
	ctx, rs, err := e.begin(ctx, domain.RunModeImport, opts.Policy, opts.DryRun)
	if err != nil {
		return nil, err
	}
	summary := rs.summary

	hashes := uniqueHashes(opts.TxHashes)
	logger.InfoCtx(ctx, "Starting transaction import",
		zap.Int("transactions", len(hashes)),
		zap.String("policy", string(rs.policy)),
		zap.Bool("dry_run", rs.dryRun))

	e.setState(StateFetching)
	results, err := e.fetchReceipts(ctx, hashes)
	if err != nil {
		e.finish(ctx, summary)
		return summary, err
	}

	for _, res := range results {
		if err := ctx.Err(); err != nil {
			e.finish(ctx, summary)
			return summary, err
		}

		fields := []zap.Field{zap.String("txHash", res.hash.Hex())}
		if res.err != nil {
			summary.Failed++
			logger.ErrorCtx(ctx, fmt.Errorf("failed to get transaction receipt: %w", res.err), fields...)
			continue
		}
		if res.receipt.Status != types.ReceiptStatusSuccessful {
			summary.Failed++
			logger.ErrorCtx(ctx, fmt.Errorf("%w: %s", domain.ErrTransactionFailed, res.hash.Hex()), fields...)
			continue
		}

		logs := make([]types.Log, 0, len(res.receipt.Logs))
		for _, l := range res.receipt.Logs {
			if l != nil {
				logs = append(logs, *l)
			}
		}
		summary.LogsFetched += len(logs)

		e.setState(StateDecoding)
		facts, undecided, err := e.decode(ctx, rs, logs)
		if err != nil {
			e.finish(ctx, summary)
			return summary, err
		}
		if len(facts) == 0 && undecided {
			continue
		}
		if len(facts) == 0 {
			summary.DecodeFailures++
			logger.WarnCtx(ctx, "Could not decode a sale from transaction, skipping", fields...)
			continue
		}

		gas := &gasInfo{used: res.receipt.GasUsed, price: "0"}
		if res.receipt.EffectiveGasPrice != nil {
			gas.price = res.receipt.EffectiveGasPrice.String()
		}

		e.setState(StateCommitting)
		for i := range facts {
			e.commit(ctx, rs, &facts[i], gas)
		}
	}

	e.finish(ctx, summary)
	return summary, nil
}

// fetchReceipts looks receipts up in parallel and returns them in chain order,
// failed lookups last in input order
func (e *Engine) fetchReceipts(ctx context.Context, hashes []common.Hash) ([]receiptResult, error) {
	pool := pond.NewResultPool[receiptResult](e.config.ImportConcurrency, pond.WithContext(ctx))
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for _, h := range hashes {
		group.Submit(func() receiptResult {
			receipt, err := e.receipts.TransactionReceipt(ctx, h)
			if err == nil && receipt == nil {
				err = fmt.Errorf("%w: receipt for %s", domain.ErrNotFound, h.Hex())
			}
			return receiptResult{hash: h, receipt: receipt, err: err}
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipts: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if (a.err == nil) != (b.err == nil) {
			return a.err == nil
		}
		if a.err != nil {
			return false
		}
		if ab, bb := blockOf(a.receipt), blockOf(b.receipt); ab != bb {
			return ab < bb
		}
		return a.receipt.TransactionIndex < b.receipt.TransactionIndex
	})

	return results, nil
}

func blockOf(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}

func uniqueHashes(hashes []common.Hash) []common.Hash {
	seen := make(map[common.Hash]bool, len(hashes))
	out := make([]common.Hash, 0, len(hashes))
	for _, h := range hashes {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}
