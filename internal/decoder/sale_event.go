package decoder

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
)

var saleEventSignature = crypto.Keccak256Hash([]byte(domain.SALE_EVENT_SIGNATURE))

// SaleEventSignature is topic0 of the marketplace NFTSold event
func SaleEventSignature() common.Hash {
	return saleEventSignature
}

// SaleEventStrategy decodes NFTSold(uint256 indexed tokenId, address indexed seller, address indexed buyer, uint256 price)
type SaleEventStrategy struct {
	contract common.Address
}

func NewSaleEventStrategy(contract common.Address) *SaleEventStrategy {
	return &SaleEventStrategy{contract: contract}
}

func (s *SaleEventStrategy) Name() string {
	return string(domain.FactSourceSaleEvent)
}

func (s *SaleEventStrategy) Topics() []common.Hash {
	return []common.Hash{saleEventSignature}
}

func (s *SaleEventStrategy) Decode(_ context.Context, log types.Log) (Result, error) {
	if log.Address != s.contract || len(log.Topics) == 0 || log.Topics[0] != saleEventSignature {
		return NotApplicable, nil
	}

	if len(log.Topics) != 4 {
		return NotApplicable, malformed(log, "NFTSold expects 4 topics, got %d", len(log.Topics))
	}
	if len(log.Data) < 32 {
		return NotApplicable, malformed(log, "NFTSold expects 32 bytes of data, got %d", len(log.Data))
	}

	tokenID := new(big.Int).SetBytes(log.Topics[1].Bytes())
	if !tokenID.IsUint64() {
		return NotApplicable, malformed(log, "token id %s out of range", tokenID.String())
	}

	entry := log
	return Decoded(&domain.SaleFact{
		TokenID:     tokenID.Uint64(),
		Seller:      domain.AddressFromTopic(log.Topics[2]),
		Buyer:       domain.AddressFromTopic(log.Topics[3]),
		Price:       new(big.Int).SetBytes(log.Data[:32]),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		Confidence:  domain.ConfidenceHigh,
		Source:      domain.FactSourceSaleEvent,
		Log:         &entry,
	}), nil
}
