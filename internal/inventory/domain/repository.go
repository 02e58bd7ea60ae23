package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the data access layer for the ledger. Methods take the
// database handle explicitly so a service transaction can thread its *tx*
// through every call it makes.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *InventoryItem) error

	// FindByProductIDForUpdate reads the row under an exclusive lock on
	// dialects that support FOR UPDATE; the caller must already be
	// inside a transaction.
	FindByProductIDForUpdate(ctx context.Context, tx *gorm.DB, productID snowflake.ID) (*InventoryItem, error)
	FindByProductID(ctx context.Context, db *gorm.DB, productID snowflake.ID) (*InventoryItem, error)

	// UpdateCounters persists new counter values for the locked row.
	UpdateCounters(ctx context.Context, tx *gorm.DB, item *InventoryItem) error

	InsertTransaction(ctx context.Context, tx *gorm.DB, entry *InventoryTransaction) error

	// ListTransactions returns up to limit audit rows for the item,
	// newest first. A non-zero before restricts to rows older than
	// that id.
	ListTransactions(ctx context.Context, db *gorm.DB, itemID snowflake.ID, before snowflake.ID, limit int) ([]*InventoryTransaction, error)

	ListLowStock(ctx context.Context, db *gorm.DB) ([]*InventoryItem, error)
	CountLowStock(ctx context.Context, db *gorm.DB) (int64, error)
}
