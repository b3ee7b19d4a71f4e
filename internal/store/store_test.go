package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/store/schema"
)

const (
	sellerAddress  = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	buyerAddress   = "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"
	thirdAddress   = "0x90f79bf6eb2c4f870365e785982e1f101e93b906"
	creatorAddress = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
	testContract   = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

// =============================================================================
// Test Data Builders
// =============================================================================

// buildTestSaleEntry creates a buy entry from the seller to the buyer
func buildTestSaleEntry(txID string, tokenID uint64, blockNumber uint64, price string) *schema.LedgerEntry {
	raw, _ := json.Marshal(map[string]any{
		"transactionHash": txID,
		"blockNumber":     blockNumber,
	})
	return &schema.LedgerEntry{
		TransactionID: txID,
		TokenID:       &tokenID,
		FromAddress:   sellerAddress,
		ToAddress:     buyerAddress,
		Kind:          domain.LedgerKindBuy,
		Price:         &price,
		BlockNumber:   blockNumber,
		GasPrice:      "0",
		Timestamp:     time.Now().UTC(),
		Confidence:    domain.ConfidenceHigh,
		Source:        domain.FactSourceSaleEvent,
		Raw:           datatypes.JSON(raw),
	}
}

// buildTestTransferEntry creates a transfer entry to the given address
func buildTestTransferEntry(txID string, tokenID uint64, blockNumber uint64, from, to string) *schema.LedgerEntry {
	return &schema.LedgerEntry{
		TransactionID: txID,
		TokenID:       &tokenID,
		FromAddress:   from,
		ToAddress:     to,
		Kind:          domain.LedgerKindTransfer,
		BlockNumber:   blockNumber,
		GasPrice:      "0",
		Timestamp:     time.Now().UTC(),
		Confidence:    domain.ConfidenceHigh,
		Source:        domain.FactSourceOwnershipSync,
	}
}

func seedToken(t *testing.T, store Store, tokenID uint64, owner string, listed bool) *schema.Token {
	t.Helper()
	token, err := store.UpsertToken(context.Background(), UpsertTokenInput{
		TokenID:        tokenID,
		OwnerAddress:   owner,
		CreatorAddress: creatorAddress,
		IsListed:       listed,
	})
	require.NoError(t, err)
	require.NotNil(t, token)
	return token
}

func seedProfile(t *testing.T, store Store, address string, owned int) {
	t.Helper()
	db := store.(*pgStore).db
	require.NoError(t, db.Create(&schema.UserProfile{WalletAddress: address, NFTsOwned: owned}).Error)
}

func effectFor(entry *schema.LedgerEntry) *OwnershipEffect {
	return &OwnershipEffect{TokenID: *entry.TokenID, NewOwner: entry.ToAddress, BlockNumber: entry.BlockNumber}
}

// =============================================================================
// Test: CommitEntry
// =============================================================================

func testCommitEntry(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("commits once and moves ownership", func(t *testing.T) {
		seedToken(t, store, 1, sellerAddress, true)
		entry := buildTestSaleEntry("0xtx1", 1, 100, "0.5")

		created, err := store.CommitEntry(ctx, entry, effectFor(entry))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotZero(t, entry.ID)

		token, err := store.GetToken(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, buyerAddress, token.OwnerAddress)
		assert.False(t, token.IsListed)
		assert.Equal(t, uint64(100), token.OwnerBlockNumber)
		assert.Equal(t, entry.ID, token.OwnerEntryID)
	})

	t.Run("duplicate transaction id is a silent no-op", func(t *testing.T) {
		seedToken(t, store, 2, sellerAddress, true)
		first := buildTestSaleEntry("0xtx2", 2, 100, "1")
		created, err := store.CommitEntry(ctx, first, effectFor(first))
		require.NoError(t, err)
		require.True(t, created)

		// relist and commit the same transaction again: nothing may change
		_, err = store.UpsertToken(ctx, UpsertTokenInput{TokenID: 2, OwnerAddress: buyerAddress, CreatorAddress: creatorAddress, IsListed: true})
		require.NoError(t, err)

		second := buildTestSaleEntry("0xtx2", 2, 100, "1")
		second.ToAddress = thirdAddress
		created, err = store.CommitEntry(ctx, second, effectFor(second))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Zero(t, second.ID)

		count, err := store.CountLedgerEntries(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		token, err := store.GetToken(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, buyerAddress, token.OwnerAddress)
		assert.True(t, token.IsListed)
	})

	t.Run("unknown token rolls the entry back", func(t *testing.T) {
		entry := buildTestSaleEntry("0xtx-unknown", 404, 100, "1")

		created, err := store.CommitEntry(ctx, entry, effectFor(entry))
		assert.ErrorIs(t, err, domain.ErrTokenNotFound)
		assert.False(t, created)

		exists, err := store.TransactionExists(ctx, "0xtx-unknown")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("entry without effect leaves the token alone", func(t *testing.T) {
		seedToken(t, store, 3, sellerAddress, true)
		entry := buildTestSaleEntry("0xtx3-list", 3, 100, "2")
		entry.Kind = domain.LedgerKindList
		entry.ToAddress = ""

		created, err := store.CommitEntry(ctx, entry, nil)
		require.NoError(t, err)
		assert.True(t, created)

		token, err := store.GetToken(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, sellerAddress, token.OwnerAddress)
		assert.True(t, token.IsListed)
	})

	t.Run("stores the price and raw log", func(t *testing.T) {
		seedToken(t, store, 4, sellerAddress, false)
		entry := buildTestSaleEntry("0xtx4", 4, 100, "0.123456789012345678")
		_, err := store.CommitEntry(ctx, entry, effectFor(entry))
		require.NoError(t, err)

		entries, err := store.GetLedgerEntries(ctx, 4)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.NotNil(t, entries[0].Price)
		assert.Equal(t, "0.123456789012345678", *entries[0].Price)
		assert.JSONEq(t, `{"transactionHash":"0xtx4","blockNumber":100}`, string(entries[0].Raw))
	})

	t.Run("nil entry", func(t *testing.T) {
		_, err := store.CommitEntry(ctx, nil, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	})
}

// =============================================================================
// Test: Ownership convergence
// =============================================================================

func testOwnershipConvergence(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("older entry committed later does not win", func(t *testing.T) {
		seedToken(t, store, 10, sellerAddress, true)

		newer := buildTestTransferEntry("0xnewer", 10, 200, sellerAddress, thirdAddress)
		_, err := store.CommitEntry(ctx, newer, effectFor(newer))
		require.NoError(t, err)

		older := buildTestSaleEntry("0xolder", 10, 150, "1")
		created, err := store.CommitEntry(ctx, older, effectFor(older))
		require.NoError(t, err)
		assert.True(t, created)

		token, err := store.GetToken(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, thirdAddress, token.OwnerAddress)
		assert.Equal(t, uint64(200), token.OwnerBlockNumber)
	})

	t.Run("same block is broken by insertion order", func(t *testing.T) {
		seedToken(t, store, 11, sellerAddress, true)

		first := buildTestSaleEntry("0xsame-1", 11, 300, "1")
		_, err := store.CommitEntry(ctx, first, effectFor(first))
		require.NoError(t, err)

		second := buildTestTransferEntry("0xsame-2", 11, 300, buyerAddress, thirdAddress)
		_, err = store.CommitEntry(ctx, second, effectFor(second))
		require.NoError(t, err)

		token, err := store.GetToken(ctx, 11)
		require.NoError(t, err)
		assert.Equal(t, thirdAddress, token.OwnerAddress)
		assert.Equal(t, second.ID, token.OwnerEntryID)
	})

	t.Run("any commit order converges to the highest entry", func(t *testing.T) {
		orders := [][]uint64{{100, 200, 300}, {300, 100, 200}, {200, 300, 100}}
		owners := map[uint64]string{100: sellerAddress, 200: buyerAddress, 300: thirdAddress}

		for i, order := range orders {
			tokenID := uint64(20 + i)
			seedToken(t, store, tokenID, creatorAddress, true)
			for _, block := range order {
				entry := buildTestTransferEntry(
					"0xorder-"+string(rune('a'+i))+"-"+owners[block], tokenID, block, creatorAddress, owners[block])
				_, err := store.CommitEntry(ctx, entry, effectFor(entry))
				require.NoError(t, err)
			}

			token, err := store.GetToken(ctx, tokenID)
			require.NoError(t, err)
			assert.Equal(t, thirdAddress, token.OwnerAddress, "order %v", order)
			assert.False(t, token.IsListed)
		}
	})

	t.Run("commit reports whether the effect applied", func(t *testing.T) {
		seedToken(t, store, 13, sellerAddress, true)

		newer := buildTestTransferEntry("0xapplied-newer", 13, 200, sellerAddress, thirdAddress)
		effect := effectFor(newer)
		created, err := store.CommitEntry(ctx, newer, effect)
		require.NoError(t, err)
		assert.True(t, created)
		assert.True(t, effect.Applied)

		older := buildTestSaleEntry("0xapplied-older", 13, 150, "1")
		effect = effectFor(older)
		created, err = store.CommitEntry(ctx, older, effect)
		require.NoError(t, err)
		assert.True(t, created, "history is recorded even when the owner stays")
		assert.False(t, effect.Applied)
	})

	t.Run("required effect drops an outdated entry", func(t *testing.T) {
		seedToken(t, store, 14, sellerAddress, true)

		newer := buildTestTransferEntry("0xrequired-newer", 14, 200, sellerAddress, thirdAddress)
		_, err := store.CommitEntry(ctx, newer, effectFor(newer))
		require.NoError(t, err)

		stale := buildTestTransferEntry("0xrequired-stale", 14, 180, thirdAddress, buyerAddress)
		effect := effectFor(stale)
		effect.Required = true
		created, err := store.CommitEntry(ctx, stale, effect)
		require.NoError(t, err)
		assert.False(t, created)
		assert.False(t, effect.Applied)
		assert.Zero(t, stale.ID)

		exists, err := store.TransactionExists(ctx, "0xrequired-stale")
		require.NoError(t, err)
		assert.False(t, exists)

		token, err := store.GetToken(ctx, 14)
		require.NoError(t, err)
		assert.Equal(t, thirdAddress, token.OwnerAddress)
	})

	t.Run("standalone effect respects the marker", func(t *testing.T) {
		seedToken(t, store, 12, sellerAddress, true)

		applied, err := store.ApplyOwnershipEffect(ctx, 12, "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC", 500, 7)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = store.ApplyOwnershipEffect(ctx, 12, thirdAddress, 499, 99)
		require.NoError(t, err)
		assert.False(t, applied)

		token, err := store.GetToken(ctx, 12)
		require.NoError(t, err)
		assert.Equal(t, buyerAddress, token.OwnerAddress)

		_, err = store.ApplyOwnershipEffect(ctx, 4_040, thirdAddress, 1, 1)
		assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	})
}

// =============================================================================
// Test: Sale history
// =============================================================================

func testSaleHistory(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("HasSaleFor", func(t *testing.T) {
		seedToken(t, store, 30, sellerAddress, true)
		seedToken(t, store, 31, sellerAddress, true)

		has, err := store.HasSaleFor(ctx, 30)
		require.NoError(t, err)
		assert.False(t, has)

		transfer := buildTestTransferEntry("0xtransfer-30", 30, 100, sellerAddress, buyerAddress)
		_, err = store.CommitEntry(ctx, transfer, effectFor(transfer))
		require.NoError(t, err)

		has, err = store.HasSaleFor(ctx, 30)
		require.NoError(t, err)
		assert.False(t, has, "transfers are not sales")

		sale := buildTestSaleEntry("0xsale-30", 30, 200, "1")
		_, err = store.CommitEntry(ctx, sale, effectFor(sale))
		require.NoError(t, err)

		has, err = store.HasSaleFor(ctx, 30)
		require.NoError(t, err)
		assert.True(t, has)

		legacy := buildTestSaleEntry("0xlegacy-31", 31, 100, "1")
		legacy.Kind = domain.LedgerKindSale
		_, err = store.CommitEntry(ctx, legacy, nil)
		require.NoError(t, err)

		has, err = store.HasSaleFor(ctx, 31)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("HasSaleFor ignores unpriced inferred sales", func(t *testing.T) {
		seedToken(t, store, 33, sellerAddress, true)

		gift := buildTestSaleEntry("0xgift-33", 33, 5, "0")
		gift.Price = nil
		gift.Confidence = domain.ConfidenceLow
		gift.Source = domain.FactSourceTransferValue
		_, err := store.CommitEntry(ctx, gift, effectFor(gift))
		require.NoError(t, err)

		has, err := store.HasSaleFor(ctx, 33)
		require.NoError(t, err)
		assert.False(t, has)

		priced := buildTestSaleEntry("0xpriced-33", 33, 8, "2")
		priced.Confidence = domain.ConfidenceLow
		priced.Source = domain.FactSourceTransferValue
		_, err = store.CommitEntry(ctx, priced, effectFor(priced))
		require.NoError(t, err)

		has, err = store.HasSaleFor(ctx, 33)
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("TransactionExists", func(t *testing.T) {
		seedToken(t, store, 32, sellerAddress, true)
		exists, err := store.TransactionExists(ctx, "0xexists")
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = store.CommitEntry(ctx, buildTestSaleEntry("0xexists", 32, 1, "1"), nil)
		require.NoError(t, err)

		exists, err = store.TransactionExists(ctx, "0xexists")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

// =============================================================================
// Test: Token 42 (listed by A, bought by B in one NFTSold)
// =============================================================================

func testToken42Sale(t *testing.T, store Store) {
	ctx := context.Background()
	txHash := "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

	seedToken(t, store, 42, sellerAddress, true)

	entry := buildTestSaleEntry(txHash, 42, 1_000, "0.5")
	created, err := store.CommitEntry(ctx, entry, effectFor(entry))
	require.NoError(t, err)
	assert.True(t, created)

	// a second run over the same range finds the sale already recorded
	has, err := store.HasSaleFor(ctx, 42)
	require.NoError(t, err)
	assert.True(t, has)

	again := buildTestSaleEntry(txHash, 42, 1_000, "0.5")
	created, err = store.CommitEntry(ctx, again, effectFor(again))
	require.NoError(t, err)
	assert.False(t, created)

	entries, err := store.GetLedgerEntries(ctx, 42)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.LedgerKindBuy, entries[0].Kind)
	assert.Equal(t, sellerAddress, entries[0].FromAddress)
	assert.Equal(t, buyerAddress, entries[0].ToAddress)

	token, err := store.GetToken(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, buyerAddress, token.OwnerAddress)
	assert.False(t, token.IsListed)
}

// =============================================================================
// Test: Tokens
// =============================================================================

func testTokens(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("GetToken returns nil for unknown ids", func(t *testing.T) {
		token, err := store.GetToken(ctx, 777_777)
		require.NoError(t, err)
		assert.Nil(t, token)
	})

	t.Run("UpsertToken normalizes and keeps the ownership marker", func(t *testing.T) {
		token := seedToken(t, store, 50, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", true)
		assert.Equal(t, sellerAddress, token.OwnerAddress)
		assert.Equal(t, creatorAddress, token.CreatorAddress)

		_, err := store.ApplyOwnershipEffect(ctx, 50, buyerAddress, 900, 3)
		require.NoError(t, err)

		token, err = store.UpsertToken(ctx, UpsertTokenInput{TokenID: 50, OwnerAddress: buyerAddress, CreatorAddress: creatorAddress, IsListed: true})
		require.NoError(t, err)
		assert.True(t, token.IsListed)
		assert.Equal(t, uint64(900), token.OwnerBlockNumber)
		assert.Equal(t, uint64(3), token.OwnerEntryID)
	})

	t.Run("ListTokens", func(t *testing.T) {
		seedToken(t, store, 61, sellerAddress, true)
		seedToken(t, store, 62, sellerAddress, false)
		seedToken(t, store, 63, sellerAddress, true)

		listed, err := store.ListTokens(ctx, TokenFilter{Scope: TokenScopeListed})
		require.NoError(t, err)
		ids := tokenIDs(listed)
		assert.Contains(t, ids, uint64(61))
		assert.Contains(t, ids, uint64(63))
		assert.NotContains(t, ids, uint64(62))

		all, err := store.ListTokens(ctx, TokenFilter{Scope: TokenScopeAll})
		require.NoError(t, err)
		assert.Contains(t, tokenIDs(all), uint64(62))

		limited, err := store.ListTokens(ctx, TokenFilter{Scope: TokenScopeAll, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
		assert.Less(t, limited[0].TokenID, limited[1].TokenID)

		_, err = store.ListTokens(ctx, TokenFilter{Scope: "burned"})
		assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	})
}

func tokenIDs(tokens []*schema.Token) []uint64 {
	ids := make([]uint64, 0, len(tokens))
	for _, token := range tokens {
		ids = append(ids, token.TokenID)
	}
	return ids
}

// =============================================================================
// Test: Owned counts
// =============================================================================

func testRefreshOwnedCounts(t *testing.T, store Store) {
	ctx := context.Background()

	seedToken(t, store, 70, sellerAddress, false)
	seedToken(t, store, 71, sellerAddress, false)
	seedToken(t, store, 72, buyerAddress, false)
	seedProfile(t, store, sellerAddress, 0)
	seedProfile(t, store, buyerAddress, 10)

	updated, err := store.RefreshOwnedCounts(ctx,
		"0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		buyerAddress,
		buyerAddress,
		domain.ETHEREUM_ZERO_ADDRESS,
		"",
		thirdAddress, // no profile
	)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	db := store.(*pgStore).db
	var seller, buyer schema.UserProfile
	require.NoError(t, db.Where("wallet_address = ?", sellerAddress).First(&seller).Error)
	require.NoError(t, db.Where("wallet_address = ?", buyerAddress).First(&buyer).Error)
	assert.Equal(t, 2, seller.NFTsOwned)
	assert.Equal(t, 1, buyer.NFTsOwned)
}

// =============================================================================
// Test: Reconcile cursor
// =============================================================================

func testReconcileCursor(t *testing.T, store Store) {
	ctx := context.Background()

	_, ok, err := store.GetReconcileCursor(ctx, testContract)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetReconcileCursor(ctx, testContract, 1_000))
	block, ok, err := store.GetReconcileCursor(ctx, testContract)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(1_000), block)

	// never moves backwards
	require.NoError(t, store.SetReconcileCursor(ctx, testContract, 900))
	block, _, err = store.GetReconcileCursor(ctx, testContract)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), block)

	require.NoError(t, store.SetReconcileCursor(ctx, testContract, 2_000))
	block, _, err = store.GetReconcileCursor(ctx, "0x5fbdb2315678afecb367f032d93f642f64180aa3")
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), block)
}

// RunStoreTests runs every store test against a fresh store
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store, cleanupDB func(t *testing.T)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"CommitEntry", testCommitEntry},
		{"OwnershipConvergence", testOwnershipConvergence},
		{"SaleHistory", testSaleHistory},
		{"Token42Sale", testToken42Sale},
		{"Tokens", testTokens},
		{"RefreshOwnedCounts", testRefreshOwnedCounts},
		{"ReconcileCursor", testReconcileCursor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			defer cleanupDB(t)
			tt.fn(t, store)
		})
	}
}
