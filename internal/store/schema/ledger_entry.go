package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
)

// LedgerEntry represents the ledger_entries table - the append-only history of marketplace activity.
// Rows are never updated or deleted.
type LedgerEntry struct {
	// ID is the insertion order
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// TransactionID is the natural dedup key: a tx hash, <txhash>:<logIndex>, or a synthetic id
	TransactionID string `gorm:"column:transaction_id;not null;uniqueIndex;type:text"`
	// TokenID references tokens.token_id, nil for entries that are not about a token
	TokenID *uint64 `gorm:"column:token_id;type:bigint;index"`
	// FromAddress is the lowercase sender or seller
	FromAddress string `gorm:"column:from_address;not null;type:text"`
	// ToAddress is the lowercase receiver or buyer
	ToAddress string `gorm:"column:to_address;not null;type:text"`
	// Kind is the activity kind
	Kind domain.LedgerKind `gorm:"column:kind;not null;type:text"`
	// Price is the decimal amount in native currency, nil when unknown
	Price *string `gorm:"column:price;type:numeric(78,18)"`
	// BlockNumber is the block the activity was mined in
	BlockNumber uint64 `gorm:"column:block_number;not null;type:bigint"`
	// LogIndex is the position of the originating log in its block
	LogIndex uint `gorm:"column:log_index;not null;default:0"`
	GasUsed  uint64 `gorm:"column:gas_used;not null;default:0;type:bigint"`
	// GasPrice is the effective gas price in wei
	GasPrice string `gorm:"column:gas_price;not null;default:0;type:numeric(78,0)"`
	// Timestamp is the block time when known, otherwise the time of recording
	Timestamp time.Time `gorm:"column:timestamp;not null;type:timestamptz"`
	// Confidence is high for sale events and low for inferred sales
	Confidence domain.Confidence `gorm:"column:confidence;not null;type:text"`
	// Source identifies what produced the entry
	Source domain.FactSource `gorm:"column:source;not null;type:text"`
	// Raw contains the originating log as JSON
	Raw datatypes.JSON `gorm:"column:raw;type:jsonb"`
	// CreatedAt is the timestamp when this record was inserted
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the LedgerEntry model
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
