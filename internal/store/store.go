package store

import (
	"context"

	"github.com/feral-file/ff-sales-reconciler/internal/store/schema"
)

// OwnershipEffect moves a token to a new owner as of a ledger position
type OwnershipEffect struct {
	TokenID     uint64
	NewOwner    string
	BlockNumber uint64
	// Required drops the entry when the token already reflects a newer position
	Required    bool
	// Applied is set by CommitEntry when the token was moved
	Applied     bool
}

// TokenScope selects which tokens are listed
type TokenScope string

const (
	TokenScopeListed TokenScope = "listed"
	TokenScopeAll    TokenScope = "all"
)

// TokenFilter narrows ListTokens
type TokenFilter struct {
	Scope TokenScope
	// Limit caps the number of tokens returned, 0 means no cap
	Limit int
}

// UpsertTokenInput creates a token or updates its mutable fields
type UpsertTokenInput struct {
	TokenID        uint64
	OwnerAddress   string
	CreatorAddress string
	IsListed       bool
}

// Store defines the interface for ledger and projection operations
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	CursorStore

	// CommitEntry inserts a ledger entry unless its transaction id is already recorded and,
	// when the entry was inserted and effect is not nil, applies the ownership effect in the
	// same database transaction. A duplicate returns created=false and no error.
	// entry.ID is set when created and effect.Applied when the token was moved. A required
	// effect that loses to the token's marker rolls the entry back with created=false.
	CommitEntry(ctx context.Context, entry *schema.LedgerEntry, effect *OwnershipEffect) (created bool, err error)

	// ApplyOwnershipEffect sets the owner of a token and clears its listing when the
	// (blockNumber, entryID) marker is newer than the one stored on the token.
	// Returns domain.ErrTokenNotFound for unknown tokens.
	ApplyOwnershipEffect(ctx context.Context, tokenID uint64, newOwner string, blockNumber, entryID uint64) (applied bool, err error)

	// HasSaleFor checks whether any sale entry exists for a token. Low confidence entries
	// without a price are not counted.
	HasSaleFor(ctx context.Context, tokenID uint64) (bool, error)

	// TransactionExists checks whether a ledger entry with the transaction id exists
	TransactionExists(ctx context.Context, transactionID string) (bool, error)

	// GetToken retrieves a token by its on-chain id, nil when it does not exist
	GetToken(ctx context.Context, tokenID uint64) (*schema.Token, error)

	// UpsertToken creates a token or updates owner, creator and listing
	UpsertToken(ctx context.Context, input UpsertTokenInput) (*schema.Token, error)

	// ListTokens returns tokens ordered by token id
	ListTokens(ctx context.Context, filter TokenFilter) ([]*schema.Token, error)

	// GetLedgerEntries returns the entries of a token in insertion order
	GetLedgerEntries(ctx context.Context, tokenID uint64) ([]schema.LedgerEntry, error)

	// CountLedgerEntries counts the entries recorded for a token
	CountLedgerEntries(ctx context.Context, tokenID uint64) (int64, error)

	// RefreshOwnedCounts recomputes nfts_owned for the existing profiles of the given addresses.
	// Empty and zero addresses are skipped. Returns the number of profiles updated.
	RefreshOwnedCounts(ctx context.Context, addresses ...string) (int, error)
}
