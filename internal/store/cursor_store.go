package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/feral-file/ff-sales-reconciler/internal/store/schema"
)

// CursorStore keeps the last fully reconciled block per contract. It is part of Store.
type CursorStore interface {
	// GetReconcileCursor returns the last reconciled block of a contract; ok is false when none is stored
	GetReconcileCursor(ctx context.Context, contract string) (block uint64, ok bool, err error)
	// SetReconcileCursor stores the last reconciled block of a contract. The cursor never moves backwards.
	SetReconcileCursor(ctx context.Context, contract string, blockNumber uint64) error
}

type cursorStore struct {
	db *gorm.DB
}

func (s *cursorStore) GetReconcileCursor(ctx context.Context, contract string) (uint64, bool, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", schema.ReconcileCursorKey(contract)).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get reconcile cursor: %w", err)
	}

	blockNumber, err := strconv.ParseUint(kv.Value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse reconcile cursor: %w", err)
	}

	return blockNumber, true, nil
}

func (s *cursorStore) SetReconcileCursor(ctx context.Context, contract string, blockNumber uint64) error {
	kv := schema.KeyValueStore{
		Key:   schema.ReconcileCursorKey(contract),
		Value: strconv.FormatUint(blockNumber, 10),
	}

	// never move the cursor backwards
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      gorm.Expr("GREATEST(key_value_store.value::numeric, EXCLUDED.value::numeric)::text"),
			"updated_at": gorm.Expr("now()"),
		}),
	}).Create(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set reconcile cursor: %w", err)
	}

	return nil
}
