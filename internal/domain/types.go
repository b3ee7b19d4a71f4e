package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Chain represents the blockchain network identifier using CAIP-2 format
type Chain string

const (
	ChainEthereumMainnet Chain = "eip155:1"
	ChainEthereumSepolia Chain = "eip155:11155111"
)

// IsValidChain checks if a chain is valid
func IsValidChain(chain Chain) bool {
	return chain == ChainEthereumMainnet || chain == ChainEthereumSepolia
}

// LedgerKind is the kind of a ledger entry
type LedgerKind string

const (
	LedgerKindMint     LedgerKind = "mint"
	LedgerKindList     LedgerKind = "list"
	LedgerKindBuy      LedgerKind = "buy"
	LedgerKindBid      LedgerKind = "bid"
	LedgerKindTransfer LedgerKind = "transfer"
	LedgerKindDelist   LedgerKind = "delist"
	LedgerKindBurn     LedgerKind = "burn"
	LedgerKindHide     LedgerKind = "hide"
	LedgerKindUnhide   LedgerKind = "unhide"
	LedgerKindFollow   LedgerKind = "follow"
	LedgerKindUnfollow LedgerKind = "unfollow"

	// LedgerKindSale is a legacy alias written by older importers. It is never
	// produced here but counts as a sale when checking sale history.
	LedgerKindSale LedgerKind = "sale"
)

// SaleKinds are the kinds that count as a recorded sale for a token
var SaleKinds = []LedgerKind{LedgerKindBuy, LedgerKindSale}

// IsValidLedgerKind checks if a ledger kind is one of the known kinds
func IsValidLedgerKind(kind LedgerKind) bool {
	switch kind {
	case LedgerKindMint, LedgerKindList, LedgerKindBuy, LedgerKindBid, LedgerKindTransfer,
		LedgerKindDelist, LedgerKindBurn, LedgerKindHide, LedgerKindUnhide,
		LedgerKindFollow, LedgerKindUnfollow, LedgerKindSale:
		return true
	}
	return false
}

// ChangesOwnership reports whether an entry of this kind moves the token to a new owner
func (k LedgerKind) ChangesOwnership() bool {
	return k == LedgerKindBuy || k == LedgerKindSale || k == LedgerKindTransfer
}

// Confidence tags how much a decoded fact can be trusted
type Confidence string

const (
	// ConfidenceHigh is used for facts decoded from the marketplace sale event
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow is used for facts inferred from a transfer and the transaction value
	ConfidenceLow Confidence = "low"
)

// FactSource identifies the decoder that produced a fact
type FactSource string

const (
	FactSourceSaleEvent     FactSource = "sale_event"
	FactSourceTransferValue FactSource = "transfer_value"
	FactSourceOwnershipSync FactSource = "ownership_sync"
)

// DedupPolicy selects how the reconciler decides that a decoded sale is already recorded
type DedupPolicy string

const (
	// PolicyFirstSaleWins skips a fact when the token already has any sale entry
	PolicyFirstSaleWins DedupPolicy = "first-sale-wins"
	// PolicyEverySaleRecorded skips a fact only when its transaction id is already recorded
	PolicyEverySaleRecorded DedupPolicy = "every-sale-recorded"
)

// ParseDedupPolicy parses a policy name
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyFirstSaleWins:
		return PolicyFirstSaleWins, nil
	case PolicyEverySaleRecorded:
		return PolicyEverySaleRecorded, nil
	}
	return "", fmt.Errorf("%w: unknown dedup policy %q", ErrInvalidConfig, s)
}

// SaleFact is a decoded, not yet committed transfer with consideration
type SaleFact struct {
	TokenID     uint64
	Seller      string
	Buyer       string
	Price       *big.Int // wei; zero on the transfer path means unknown
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Confidence  Confidence
	Source      FactSource

	// TransactionID is the ledger dedup key, assigned once all facts of the transaction are known
	TransactionID string

	// Log is the originating log, kept for the ledger raw column
	Log *types.Log
}

// PriceKnown reports whether the price carries information
func (f *SaleFact) PriceKnown() bool {
	if f.Price == nil {
		return false
	}
	return f.Price.Sign() > 0 || f.Confidence == ConfidenceHigh
}

// CountsAsSale reports whether the fact settles the first sale of its token.
// An inferred transfer without value may be a gift.
func (f *SaleFact) CountsAsSale() bool {
	return f.Confidence != ConfidenceLow || f.PriceKnown()
}

// ScanRange is an inclusive block range
type ScanRange struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Span returns the number of blocks in the range
func (r ScanRange) Span() uint64 {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Split bisects the range at its midpoint
func (r ScanRange) Split() (ScanRange, ScanRange) {
	mid := r.From + (r.To-r.From)/2
	return ScanRange{From: r.From, To: mid}, ScanRange{From: mid + 1, To: r.To}
}

func (r ScanRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.From, r.To)
}

// Gap is a block range that could not be scanned
type Gap struct {
	From   uint64 `json:"from"`
	To     uint64 `json:"to"`
	Reason string `json:"reason"`
}

// Size returns the number of blocks in the gap
func (g Gap) Size() uint64 {
	return ScanRange{From: g.From, To: g.To}.Span()
}

// RunMode identifies how a reconciliation run was started
type RunMode string

const (
	RunModeRange  RunMode = "range"
	RunModeImport RunMode = "import"
)

// RunSummary is the operator facing report of one reconciliation run
type RunSummary struct {
	RunID                string        `json:"run_id"`
	Mode                 RunMode       `json:"mode"`
	Contract             string        `json:"contract"`
	Policy               DedupPolicy   `json:"policy"`
	DryRun               bool          `json:"dry_run"`
	Range                *ScanRange    `json:"range,omitempty"`
	RangesScanned        int           `json:"ranges_scanned"`
	LogsFetched          int           `json:"logs_fetched"`
	TransactionsSeen     int           `json:"transactions_seen"`
	FactsDecoded         int           `json:"facts_decoded"`
	LowConfidenceFacts   int           `json:"low_confidence_facts"`
	DecodeFailures       int           `json:"decode_failures"`
	SkippedDuplicates    int           `json:"skipped_duplicates"`
	SkippedUnknownTokens int           `json:"skipped_unknown_tokens"`
	Created              int           `json:"created"`
	Failed               int           `json:"failed"`
	Gaps                 []Gap         `json:"gaps"`
	StartedAt            time.Time     `json:"started_at"`
	Duration             time.Duration `json:"duration"`
}

// HasGaps reports whether part of the range was left unscanned
func (s *RunSummary) HasGaps() bool {
	return len(s.Gaps) > 0
}

// OwnershipDrift is a disagreement between the local projection and the chain
type OwnershipDrift struct {
	TokenID       uint64 `json:"token_id"`
	OldOwner      string `json:"old_owner"`
	NewOwner      string `json:"new_owner"`
	TransactionID string `json:"transaction_id"`
	BlockNumber   uint64 `json:"block_number"`
	Repaired      bool   `json:"repaired"`
}

// SyncSummary reports one ownership sync cycle
type SyncSummary struct {
	RunID    string           `json:"run_id"`
	DryRun   bool             `json:"dry_run"`
	Checked  int              `json:"checked"`
	Drifted  int              `json:"drifted"`
	Repaired int              `json:"repaired"`
	Failed   int              `json:"failed"`
	Drifts   []OwnershipDrift `json:"drifts"`
	Duration time.Duration    `json:"duration"`
}

// NormalizeAddress returns the lowercase hex form used for storage and comparison
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if common.IsHexAddress(address) {
		return strings.ToLower(common.HexToAddress(address).Hex())
	}
	return strings.ToLower(address)
}

// AddressFromTopic extracts a lowercase address from a 32-byte indexed topic
func AddressFromTopic(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}

// IsZeroAddress checks whether the address is empty or the zero address
func IsZeroAddress(address string) bool {
	address = NormalizeAddress(address)
	return address == "" || address == ETHEREUM_ZERO_ADDRESS
}

// SameAddress compares two addresses case insensitively
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
