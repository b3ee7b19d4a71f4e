package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feral-file/ff-sales-reconciler/internal/domain"
	"github.com/feral-file/ff-sales-reconciler/internal/logger"
	"github.com/feral-file/ff-sales-reconciler/internal/store/schema"
)

type pgStore struct {
	*cursorStore
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{
		cursorStore: &cursorStore{db: db},
		db:          db,
	}
}

// ConfigureConnectionPool applies pool settings to the sql.DB behind a gorm connection.
// Zero values fall back to the defaults of NormalizeConnectionPoolSettings.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings fills in defaults for a short lived batch process:
// 10 open, 2 idle, 5 minute lifetime, 1 minute idle time. Idle never exceeds open.
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	if maxIdleConns <= 0 {
		maxIdleConns = 2
	}
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = time.Minute
	}
	maxIdleConns = min(maxIdleConns, maxOpenConns)

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// CommitEntry inserts the entry and applies its ownership effect atomically
func (s *pgStore) CommitEntry(ctx context.Context, entry *schema.LedgerEntry, effect *OwnershipEffect) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("%w: nil ledger entry", domain.ErrInvalidConfig)
	}

	created := false
	if effect != nil {
		effect.Applied = false
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var token *schema.Token
		if effect != nil {
			var err error
			if token, err = lockToken(tx, effect.TokenID); err != nil {
				return err
			}
		}

		row := *entry
		row.ID = 0

		// ON CONFLICT DO NOTHING makes the dedup check and the insert one statement
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}},
			DoNothing: true,
		}).Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
			Create(&row)
		if result.Error != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", result.Error)
		}
		if result.RowsAffected == 0 || row.ID == 0 {
			return nil
		}

		if token != nil {
			applied, err := moveOwnership(tx, token, effect.NewOwner, effect.BlockNumber, row.ID)
			if err != nil {
				return err
			}
			if !applied && effect.Required {
				return errEffectRejected
			}
			effect.Applied = applied
		}

		entry.ID = row.ID
		created = true
		return nil
	})
	if errors.Is(err, errEffectRejected) {
		logger.DebugCtx(ctx, "Token owner is newer than the entry, entry dropped",
			zap.String("transaction_id", entry.TransactionID),
			zap.Uint64("block_number", effect.BlockNumber))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !created {
		logger.DebugCtx(ctx, "Ledger entry already recorded", zap.String("transaction_id", entry.TransactionID))
	}

	return created, nil
}

var errEffectRejected = errors.New("ownership effect rejected by token marker")

// ApplyOwnershipEffect applies an ownership change outside of an entry commit
func (s *pgStore) ApplyOwnershipEffect(ctx context.Context, tokenID uint64, newOwner string, blockNumber, entryID uint64) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = applyOwnershipEffect(tx, tokenID, newOwner, blockNumber, entryID)
		return err
	})
	return applied, err
}

// applyOwnershipEffect locks the token row and moves ownership when (blockNumber, entryID) is newer
// than the stored marker
func applyOwnershipEffect(tx *gorm.DB, tokenID uint64, newOwner string, blockNumber, entryID uint64) (bool, error) {
	token, err := lockToken(tx, tokenID)
	if err != nil {
		return false, err
	}
	return moveOwnership(tx, token, newOwner, blockNumber, entryID)
}

func lockToken(tx *gorm.DB, tokenID uint64) (*schema.Token, error) {
	var token schema.Token
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_id = ?", tokenID).
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("token %d: %w", tokenID, domain.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("failed to lock token: %w", err)
	}
	return &token, nil
}

// moveOwnership expects the token row to be locked by the caller
func moveOwnership(tx *gorm.DB, token *schema.Token, newOwner string, blockNumber, entryID uint64) (bool, error) {
	if !token.OwnedSince(blockNumber, entryID) {
		return false, nil
	}

	err := tx.Model(token).Updates(map[string]any{
		"owner_address":      domain.NormalizeAddress(newOwner),
		"is_listed":          false,
		"owner_block_number": blockNumber,
		"owner_entry_id":     entryID,
		"updated_at":         gorm.Expr("now()"),
	}).Error
	if err != nil {
		return false, fmt.Errorf("failed to update token owner: %w", err)
	}

	return true, nil
}

// HasSaleFor checks whether any sale entry exists for a token.
// Low confidence entries without a price are ignored.
func (s *pgStore) HasSaleFor(ctx context.Context, tokenID uint64) (bool, error) {
	var exists bool
	err := s.db.WithContext(ctx).
		Raw(`SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE token_id = ? AND kind IN ? AND NOT (confidence = ? AND price IS NULL)
		)`, tokenID, domain.SaleKinds, domain.ConfidenceLow).
		Scan(&exists).Error
	if err != nil {
		return false, fmt.Errorf("failed to check sale history: %w", err)
	}
	return exists, nil
}

// TransactionExists checks whether a ledger entry with the transaction id exists
func (s *pgStore) TransactionExists(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := s.db.WithContext(ctx).
		Raw("SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE transaction_id = ?)", transactionID).
		Scan(&exists).Error
	if err != nil {
		return false, fmt.Errorf("failed to check transaction: %w", err)
	}
	return exists, nil
}

// GetToken retrieves a token by its on-chain id
func (s *pgStore) GetToken(ctx context.Context, tokenID uint64) (*schema.Token, error) {
	var token schema.Token
	err := s.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

// UpsertToken creates a token or updates owner, creator and listing.
// The ownership marker is left untouched.
func (s *pgStore) UpsertToken(ctx context.Context, input UpsertTokenInput) (*schema.Token, error) {
	token := schema.Token{
		TokenID:        input.TokenID,
		OwnerAddress:   domain.NormalizeAddress(input.OwnerAddress),
		CreatorAddress: domain.NormalizeAddress(input.CreatorAddress),
		IsListed:       input.IsListed,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"owner_address":   token.OwnerAddress,
			"creator_address": token.CreatorAddress,
			"is_listed":       token.IsListed,
			"updated_at":      gorm.Expr("now()"),
		}),
	}).Create(&token).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert token: %w", err)
	}

	return s.GetToken(ctx, input.TokenID)
}

// ListTokens returns tokens ordered by token id
func (s *pgStore) ListTokens(ctx context.Context, filter TokenFilter) ([]*schema.Token, error) {
	query := s.db.WithContext(ctx).Model(&schema.Token{}).Order("token_id ASC")
	switch filter.Scope {
	case TokenScopeListed, "":
		query = query.Where("is_listed = ?", true)
	case TokenScopeAll:
	default:
		return nil, fmt.Errorf("%w: unknown token scope %q", domain.ErrInvalidConfig, filter.Scope)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var tokens []*schema.Token
	if err := query.Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return tokens, nil
}

// GetLedgerEntries returns the entries of a token in insertion order
func (s *pgStore) GetLedgerEntries(ctx context.Context, tokenID uint64) ([]schema.LedgerEntry, error) {
	var entries []schema.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("token_id = ?", tokenID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	return entries, nil
}

// CountLedgerEntries counts the entries recorded for a token
func (s *pgStore) CountLedgerEntries(ctx context.Context, tokenID uint64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&schema.LedgerEntry{}).
		Where("token_id = ?", tokenID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return count, nil
}

// RefreshOwnedCounts recomputes nfts_owned for existing profiles
func (s *pgStore) RefreshOwnedCounts(ctx context.Context, addresses ...string) (int, error) {
	seen := make(map[string]bool, len(addresses))
	updated := 0
	for _, address := range addresses {
		address = domain.NormalizeAddress(address)
		if domain.IsZeroAddress(address) || seen[address] {
			continue
		}
		seen[address] = true

		result := s.db.WithContext(ctx).
			Model(&schema.UserProfile{}).
			Where("wallet_address = ?", address).
			Updates(map[string]any{
				"nfts_owned": gorm.Expr("(SELECT COUNT(*) FROM tokens WHERE owner_address = ?)", address),
				"updated_at": gorm.Expr("now()"),
			})
		if result.Error != nil {
			return updated, fmt.Errorf("failed to refresh owned count for %s: %w", address, result.Error)
		}
		updated += int(result.RowsAffected)
	}
	return updated, nil
}
