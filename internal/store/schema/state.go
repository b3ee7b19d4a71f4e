package schema

import (
	"strings"
	"time"
)

const reconcileCursorPrefix = "reconcile_cursor:"

// KeyValueStore represents the key_value_store table, holding operational state between runs
type KeyValueStore struct {
	Key       string    `gorm:"column:key;primaryKey;type:text"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (KeyValueStore) TableName() string {
	return "key_value_store"
}

// ReconcileCursorKey is the key under which the last fully reconciled block of a contract is kept
func ReconcileCursorKey(contract string) string {
	return reconcileCursorPrefix + strings.ToLower(contract)
}
