package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/feral-file/ff-sales-reconciler/internal/adapter"
	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/metrics"
)

const ownerOfABI = `[{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"payable":false,"stateMutability":"view","type":"function"}]`

// EthereumClient is the provider handle shared by every component of a run.
// All calls are rate limited, bounded by a per attempt timeout and retried on transient errors.
//
//go:generate mockgen -source=client.go -destination=../../mocks/ethereum_client.go -package=mocks -mock_names=EthereumClient=MockEthereumClient
type EthereumClient interface {
	// FilterLogs returns the logs of contract within r whose first topic is one of topics.
	// Transient errors that outlive the retry budget are reported as domain.ErrRangeTooLarge.
	FilterLogs(ctx context.Context, contract common.Address, topics []common.Hash, r domain.ScanRange) ([]types.Log, error)

	// HasCodeAt reports whether contract has bytecode at the given block
	HasCodeAt(ctx context.Context, contract common.Address, blockNumber uint64) (bool, error)

	// LatestBlock returns the current head block number
	LatestBlock(ctx context.Context) (uint64, error)

	// BlockTimestamp returns the timestamp of the given block
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)

	// TransactionValue returns the native currency value attached to a transaction
	TransactionValue(ctx context.Context, txHash common.Hash) (*big.Int, error)

	// TransactionReceipt returns the receipt of a mined transaction
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// ERC721OwnerOf fetches the current owner of an ERC721 token
	ERC721OwnerOf(ctx context.Context, contract common.Address, tokenID uint64) (string, error)

	// Close closes the connection
	Close()
}

// Config holds the provider call policy
type Config struct {
	ChainID              domain.Chain
	RequestTimeout       time.Duration
	RequestsPerSecond    float64
	Burst                int
	MaxRetries           uint64
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

type ethereumClient struct {
	config  Config
	client  adapter.EthClient
	limiter *rate.Limiter
	ownerOf abi.ABI
}

// NewClient wraps an EthClient with the call policy from config
func NewClient(config Config, client adapter.EthClient) (EthereumClient, error) {
	parsed, err := abi.JSON(strings.NewReader(ownerOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ethereumClient{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		ownerOf: parsed,
	}, nil
}

// call runs fn under the rate limiter, the per attempt timeout and the retry policy
func (c *ethereumClient) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if c.config.RetryInitialInterval > 0 {
		b.InitialInterval = c.config.RetryInitialInterval
	}
	if c.config.RetryMaxInterval > 0 {
		b.MaxInterval = c.config.RetryMaxInterval
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.config.MaxRetries), ctx)

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx := ctx
		if c.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err == nil {
			metrics.ProviderRequestTotal.WithLabelValues(method, "ok").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		classified := ClassifyError(err)
		switch {
		case errors.Is(classified, domain.ErrTransient):
			metrics.ProviderRequestTotal.WithLabelValues(method, "transient").Inc()
			return classified
		case errors.Is(classified, domain.ErrRangeTooLarge):
			metrics.ProviderRequestTotal.WithLabelValues(method, "too_large").Inc()
			return backoff.Permanent(classified)
		default:
			metrics.ProviderRequestTotal.WithLabelValues(method, "error").Inc()
			return backoff.Permanent(classified)
		}
	}

	notify := func(err error, next time.Duration) {
		metrics.ProviderRetryTotal.WithLabelValues(method).Inc()
		logger.WarnCtx(ctx, "Retrying provider call",
			zap.String("method", method),
			zap.Duration("next_attempt_in", next),
			zap.Error(err))
	}

	return backoff.RetryNotify(operation, policy, notify)
}

// FilterLogs fetches the logs of a single range without splitting it
func (c *ethereumClient) FilterLogs(ctx context.Context, contract common.Address, topics []common.Hash, r domain.ScanRange) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		ToBlock:   new(big.Int).SetUint64(r.To),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{topics},
	}

	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.client.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		// a range that keeps failing transiently is treated like one that is too large
		if errors.Is(err, domain.ErrTransient) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: retries exhausted for %s: %w", domain.ErrRangeTooLarge, r, err)
		}
		return nil, fmt.Errorf("failed to filter logs for %s: %w", r, err)
	}

	return logs, nil
}

// HasCodeAt reports whether contract has bytecode at the given block
func (c *ethereumClient) HasCodeAt(ctx context.Context, contract common.Address, blockNumber uint64) (bool, error) {
	var code []byte
	err := c.call(ctx, "eth_getCode", func(ctx context.Context) error {
		var err error
		code, err = c.client.CodeAt(ctx, contract, new(big.Int).SetUint64(blockNumber))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to get code at block %d: %w", blockNumber, err)
	}
	return len(code) > 0, nil
}

// LatestBlock returns the current head block number
func (c *ethereumClient) LatestBlock(ctx context.Context) (uint64, error) {
	var header *types.Header
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		header, err = c.client.HeaderByNumber(ctx, nil)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}

// BlockTimestamp returns the timestamp of the given block
func (c *ethereumClient) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get block %d: %w", blockNumber, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil //nolint:gosec,G115
}

// TransactionValue returns the native currency value attached to a transaction
func (c *ethereumClient) TransactionValue(ctx context.Context, txHash common.Hash) (*big.Int, error) {
	var tx *types.Transaction
	err := c.call(ctx, "eth_getTransactionByHash", func(ctx context.Context) error {
		var err error
		tx, _, err = c.client.TransactionByHash(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("transaction %s: %w", txHash.Hex(), domain.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx.Value(), nil
}

// TransactionReceipt returns the receipt of a mined transaction
func (c *ethereumClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		var err error
		receipt, err = c.client.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("receipt %s: %w", txHash.Hex(), domain.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}
	return receipt, nil
}

// ERC721OwnerOf fetches the current owner of an ERC721 token as a lowercase address
func (c *ethereumClient) ERC721OwnerOf(ctx context.Context, contract common.Address, tokenID uint64) (string, error) {
	data, err := c.ownerOf.Pack("ownerOf", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return "", fmt.Errorf("failed to pack data: %w", err)
	}

	var result []byte
	err = c.call(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		result, err = c.client.CallContract(ctx, ethereum.CallMsg{
			To:   &contract,
			Data: data,
		}, nil)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to call contract: %w", err)
	}

	var owner common.Address
	if err := c.ownerOf.UnpackIntoInterface(&owner, "ownerOf", result); err != nil {
		return "", fmt.Errorf("failed to unpack result: %w", err)
	}

	return domain.NormalizeAddress(owner.Hex()), nil
}

// Close closes the connection
func (c *ethereumClient) Close() {
	c.client.Close()
}
