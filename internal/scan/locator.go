package scan

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/feral-file/ff-sales-reconciler/internal/logger"
)

// CodeSource reports whether an account has bytecode at a block
type CodeSource interface {
	HasCodeAt(ctx context.Context, contract common.Address, blockNumber uint64) (bool, error)
}

// CodeSourceFunc adapts a function to CodeSource
type CodeSourceFunc func(ctx context.Context, contract common.Address, blockNumber uint64) (bool, error)

func (f CodeSourceFunc) HasCodeAt(ctx context.Context, contract common.Address, blockNumber uint64) (bool, error) {
	return f(ctx, contract, blockNumber)
}

// DeploymentLocator finds the block at which a contract was deployed
//
//go:generate mockgen -source=locator.go -destination=../mocks/deployment_locator.go -package=mocks -mock_names=DeploymentLocator=MockDeploymentLocator
type DeploymentLocator interface {
	// Locate returns the lowest block in [0, upperBound] at which the contract has code.
	// found is false when there is no code at upperBound.
	Locate(ctx context.Context, upperBound uint64) (block uint64, found bool, err error)
}

type deploymentLocator struct {
	source   CodeSource
	contract common.Address
}

// NewDeploymentLocator creates a DeploymentLocator for contract
func NewDeploymentLocator(source CodeSource, contract common.Address) DeploymentLocator {
	return &deploymentLocator{source: source, contract: contract}
}

// Locate binary searches for the leftmost block with code, O(log upperBound) lookups
func (l *deploymentLocator) Locate(ctx context.Context, upperBound uint64) (uint64, bool, error) {
	deployed, err := l.source.HasCodeAt(ctx, l.contract, upperBound)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read code at upper bound %d: %w", upperBound, err)
	}
	if !deployed {
		return 0, false, nil
	}

	// invariant: code exists at hi, and no block below lo has code
	lo, hi := uint64(0), upperBound
	lookups := 1
	for lo < hi {
		mid := lo + (hi-lo)/2
		deployed, err := l.source.HasCodeAt(ctx, l.contract, mid)
		lookups++
		if err != nil {
			return 0, false, fmt.Errorf("failed to read code at block %d: %w", mid, err)
		}
		if deployed {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	logger.InfoCtx(ctx, "Located contract deployment block",
		zap.String("contract", l.contract.Hex()),
		zap.Uint64("block", lo),
		zap.Int("lookups", lookups))

	return lo, true, nil
}
