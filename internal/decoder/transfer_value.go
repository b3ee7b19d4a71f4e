package decoder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
)

const defaultTxCacheSize = 4096

var transferEventSignature = crypto.Keccak256Hash([]byte(domain.TRANSFER_EVENT_SIGNATURE))

// TransferEventSignature is topic0 of the ERC721 Transfer event
func TransferEventSignature() common.Hash {
	return transferEventSignature
}

// TxValueSource returns the native value attached to a transaction
type TxValueSource interface {
	TransactionValue(ctx context.Context, txHash common.Hash) (*big.Int, error)
}

// TransferValueStrategy infers a sale from an ERC721 Transfer priced with the value of the
// enclosing transaction. Facts are tagged low confidence.
type TransferValueStrategy struct {
	contract common.Address
	source   TxValueSource
	values   *lru.Cache[common.Hash, *big.Int]
}

// NewTransferValueStrategy creates the strategy with a bounded per run cache of transaction values
func NewTransferValueStrategy(contract common.Address, source TxValueSource, cacheSize int) (*TransferValueStrategy, error) {
	if cacheSize <= 0 {
		cacheSize = defaultTxCacheSize
	}
	cache, err := lru.New[common.Hash, *big.Int](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction value cache: %w", err)
	}
	return &TransferValueStrategy{
		contract: contract,
		source:   source,
		values:   cache,
	}, nil
}

func (s *TransferValueStrategy) Name() string {
	return string(domain.FactSourceTransferValue)
}

func (s *TransferValueStrategy) Topics() []common.Hash {
	return []common.Hash{transferEventSignature}
}

func (s *TransferValueStrategy) Decode(ctx context.Context, log types.Log) (Result, error) {
	if log.Address != s.contract || len(log.Topics) == 0 || log.Topics[0] != transferEventSignature {
		return NotApplicable, nil
	}

	// ERC20 transfers share the signature with 3 topics
	if len(log.Topics) != 4 {
		return NotApplicable, malformed(log, "ERC721 Transfer expects 4 topics, got %d", len(log.Topics))
	}

	from := domain.AddressFromTopic(log.Topics[1])
	to := domain.AddressFromTopic(log.Topics[2])
	if domain.IsZeroAddress(from) || domain.IsZeroAddress(to) {
		// mints and burns are not sales
		return NotApplicable, nil
	}

	tokenID := new(big.Int).SetBytes(log.Topics[3].Bytes())
	if !tokenID.IsUint64() {
		return NotApplicable, malformed(log, "token id %s out of range", tokenID.String())
	}

	value, err := s.transactionValue(ctx, log.TxHash)
	if err != nil {
		return NotApplicable, err
	}

	entry := log
	return Decoded(&domain.SaleFact{
		TokenID:     tokenID.Uint64(),
		Seller:      from,
		Buyer:       to,
		Price:       value,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		Confidence:  domain.ConfidenceLow,
		Source:      domain.FactSourceTransferValue,
		Log:         &entry,
	}), nil
}

func (s *TransferValueStrategy) transactionValue(ctx context.Context, txHash common.Hash) (*big.Int, error) {
	if v, ok := s.values.Get(txHash); ok {
		return new(big.Int).Set(v), nil
	}

	v, err := s.source.TransactionValue(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get value of transaction %s: %w", txHash.Hex(), err)
	}
	if v == nil {
		v = new(big.Int)
	}
	s.values.Add(txHash, v)
	return new(big.Int).Set(v), nil
}
