package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hamimul/order-fulfillment/pkg/db/pagination"
)

var (
	ErrNotFound           = errors.New("inventory_not_found")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrInvalidAdjustMode  = errors.New("invalid_adjust_mode")
	ErrCapacityExceeded   = errors.New("maximum_capacity_exceeded")
	ErrReservedConflict   = errors.New("adjustment_below_reserved")
	ErrInvariantViolation = errors.New("ledger_invariant_violation")
)

// Service is the stock-reservation ledger. Each state-changing call runs
// in its own serializable unit of work: row lock, counter check, counter
// update and audit row commit or roll back together.
//
// Reserve/Release/Fulfill return (false, nil) when the precondition does
// not hold; that is a business outcome, not an error.
type Service interface {
	// CreateItem registers the inventory row for a product. Zero
	// counters unless an initial quantity is supplied via Adjust.
	CreateItem(ctx context.Context, productID snowflake.ID, minimumThreshold, maximumCapacity int64) (*InventoryItem, error)

	// Reserve places a hold of qty units iff available >= qty.
	Reserve(ctx context.Context, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error)

	// Release returns qty held units to available iff reserved >= qty.
	Release(ctx context.Context, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error)

	// Fulfill converts qty held units into a physical stock reduction
	// iff reserved >= qty. The only operation that lowers owned stock
	// outside of administrative adjustment.
	Fulfill(ctx context.Context, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error)

	// ReserveTx, ReleaseTx and FulfillTx are the same operations bound
	// to a caller-owned transaction, so an order transition and its
	// stock effects commit or roll back together.
	ReserveTx(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error)
	ReleaseTx(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error)
	FulfillTx(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error)

	// Adjust applies an administrative correction to owned stock.
	Adjust(ctx context.Context, req AdjustRequest) (*InventoryTransaction, error)

	GetByProductID(ctx context.Context, productID snowflake.ID) (*InventoryItem, error)

	// ListTransactions pages through a product's audit trail newest
	// first, keyed by an opaque cursor token.
	ListTransactions(ctx context.Context, productID snowflake.ID, page pagination.Pagination) ([]*InventoryTransaction, *pagination.PageInfo, error)
	ListLowStock(ctx context.Context) ([]*InventoryItem, error)
	CountLowStock(ctx context.Context) (int64, error)
}
