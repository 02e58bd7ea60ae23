package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hamimul/order-fulfillment/internal/order/domain"
	"github.com/hamimul/order-fulfillment/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertOrder(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	return tx.WithContext(ctx).Omit("Items").Create(order).Error
}

func (r *repo) InsertItems(ctx context.Context, tx *gorm.DB, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (r *repo) InsertHistory(ctx context.Context, tx *gorm.DB, h *domain.OrderStatusHistory) error {
	return tx.WithContext(ctx).Create(h).Error
}

func (r *repo) InsertBatch(ctx context.Context, tx *gorm.DB, batch *domain.OrderBatch) error {
	return tx.WithContext(ctx).Create(batch).Error
}

func (r *repo) InsertBatchOrder(ctx context.Context, tx *gorm.DB, link *domain.BatchOrder) error {
	return tx.WithContext(ctx).Create(link).Error
}

func (r *repo) FinalizeBatch(ctx context.Context, conn *gorm.DB, batchID uuid.UUID, successful, failed int, status domain.BatchStatus, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE order_batches
		 SET successful_orders = ?, failed_orders = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		successful, failed, status, now, batchID,
	).Error
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*domain.Order, error) {
	query := `SELECT id, customer_name, customer_email, status, version, priority, total_amount,
		 metadata, shipping_address, billing_address, payment_method, tracking_number,
		 current_state_since, processing_started_at, completed_at, created_at, updated_at
		 FROM orders
		 WHERE id = ?`
	if db.SupportsRowLocking(tx) {
		query += ` FOR UPDATE`
	}

	var order domain.Order
	err := tx.WithContext(ctx).Raw(query, orderID).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == uuid.Nil {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, orderID uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	err := conn.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) FindItems(ctx context.Context, conn *gorm.DB, orderID uuid.UUID) ([]domain.OrderItem, error) {
	var items []domain.OrderItem
	err := conn.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindHistory(ctx context.Context, conn *gorm.DB, orderID uuid.UUID) ([]domain.OrderStatusHistory, error) {
	var entries []domain.OrderStatusHistory
	err := conn.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("version asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// UpdateStatus flips the status with a version guard so two writers can
// never both apply the same transition.
func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fromVersion int64, update domain.StatusUpdate) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, version = version + 1, current_state_since = ?,
		     processing_started_at = COALESCE(processing_started_at, ?),
		     completed_at = COALESCE(completed_at, ?),
		     updated_at = ?
		 WHERE id = ? AND version = ?`,
		update.ToStatus,
		update.Now,
		update.ProcessingStartedAt,
		update.CompletedAt,
		update.Now,
		orderID,
		fromVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListByStatus(ctx context.Context, conn *gorm.DB, status domain.Status, limit, offset int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []domain.Order
	err := conn.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) CountByStatus(ctx context.Context, conn *gorm.DB) ([]domain.StatusCount, error) {
	var counts []domain.StatusCount
	err := conn.WithContext(ctx).
		Model(&domain.Order{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *repo) ListStale(ctx context.Context, conn *gorm.DB, now time.Time, pending, processing, shipped time.Duration, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []domain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT * FROM orders
		 WHERE (status = ? AND current_state_since <= ?)
		    OR (status = ? AND current_state_since <= ?)
		    OR (status = ? AND current_state_since <= ?)
		 ORDER BY current_state_since ASC
		 LIMIT ?`,
		domain.StatusPending, now.Add(-pending),
		domain.StatusProcessing, now.Add(-processing),
		domain.StatusShipped, now.Add(-shipped),
		limit,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ClaimStale locks stale rows of one status. SKIP LOCKED lets several
// reconciler instances sweep concurrently without blocking each other.
func (r *repo) ClaimStale(ctx context.Context, tx *gorm.DB, now time.Time, status domain.Status, staleAfter time.Duration, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM orders
		 WHERE status = ? AND current_state_since <= ?
		 ORDER BY current_state_since ASC
		 LIMIT ?`
	if db.SupportsRowLocking(tx) {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var orders []domain.Order
	err := tx.WithContext(ctx).Raw(query, status, now.Add(-staleAfter), limit).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) TouchStateSince(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, fromVersion int64, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE orders
		 SET current_state_since = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		now, now, orderID, fromVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
