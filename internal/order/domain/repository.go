package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository takes the database handle explicitly so the service can
// run several calls inside one transaction.
type Repository interface {
	InsertOrder(ctx context.Context, tx *gorm.DB, order *Order) error
	InsertItems(ctx context.Context, tx *gorm.DB, items []OrderItem) error
	InsertHistory(ctx context.Context, tx *gorm.DB, h *OrderStatusHistory) error
	InsertBatch(ctx context.Context, tx *gorm.DB, batch *OrderBatch) error
	InsertBatchOrder(ctx context.Context, tx *gorm.DB, link *BatchOrder) error

	// FinalizeBatch records the aggregate outcome once every order in
	// the batch has been attempted.
	FinalizeBatch(ctx context.Context, db *gorm.DB, batchID uuid.UUID, successful, failed int, status BatchStatus, now time.Time) error

	// FindByIDForUpdate locks the order row for the duration of tx on
	// dialects that support row locking.
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*Order, error)
	FindByID(ctx context.Context, db *gorm.DB, orderID uuid.UUID) (*Order, error)
	FindItems(ctx context.Context, db *gorm.DB, orderID uuid.UUID) ([]OrderItem, error)
	FindHistory(ctx context.Context, db *gorm.DB, orderID uuid.UUID) ([]OrderStatusHistory, error)

	// UpdateStatus performs the guarded status flip. It reports whether
	// the row was updated, which is false when another writer moved the
	// order first.
	UpdateStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fromVersion int64, update StatusUpdate) (bool, error)

	ListByStatus(ctx context.Context, db *gorm.DB, status Status, limit, offset int) ([]Order, error)
	CountByStatus(ctx context.Context, db *gorm.DB) ([]StatusCount, error)
	ListStale(ctx context.Context, db *gorm.DB, now time.Time, pending, processing, shipped time.Duration, limit int) ([]Order, error)

	// ClaimStale atomically selects and locks stale orders for the
	// reconciler, skipping rows other workers hold.
	ClaimStale(ctx context.Context, tx *gorm.DB, now time.Time, status Status, staleAfter time.Duration, limit int) ([]Order, error)

	// TouchStateSince refreshes current_state_since without changing
	// status, used when requeueing a stuck pending order.
	TouchStateSince(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fromVersion int64, now time.Time) (bool, error)
}

// StatusUpdate carries the column changes of one transition.
type StatusUpdate struct {
	ToStatus            Status
	Now                 time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
}
