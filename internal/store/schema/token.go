package schema

import (
	"time"
)

// Token represents the tokens table - the local projection of one NFT of the marketplace contract
type Token struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// TokenID is the on-chain token id
	TokenID uint64 `gorm:"column:token_id;not null;uniqueIndex;type:bigint"`
	// OwnerAddress is the current owner's lowercase address
	OwnerAddress string `gorm:"column:owner_address;not null;type:text;index"`
	// CreatorAddress is the lowercase address of the minter
	CreatorAddress string `gorm:"column:creator_address;not null;type:text"`
	// IsListed indicates whether the token is offered for sale on the marketplace
	IsListed bool `gorm:"column:is_listed;not null;default:false"`
	// OwnerBlockNumber is the block of the ledger entry that last set OwnerAddress
	OwnerBlockNumber uint64 `gorm:"column:owner_block_number;not null;default:0;type:bigint"`
	// OwnerEntryID is the id of the ledger entry that last set OwnerAddress, breaking ties within a block
	OwnerEntryID uint64 `gorm:"column:owner_entry_id;not null;default:0;type:bigint"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the Token model
func (Token) TableName() string {
	return "tokens"
}

// OwnedSince reports whether a change at (blockNumber, entryID) is newer than the one that set the current owner
func (t *Token) OwnedSince(blockNumber, entryID uint64) bool {
	if blockNumber != t.OwnerBlockNumber {
		return blockNumber > t.OwnerBlockNumber
	}
	return entryID > t.OwnerEntryID
}
