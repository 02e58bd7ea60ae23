package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/hamimul/order-fulfillment/internal/inventory/domain"
	"github.com/hamimul/order-fulfillment/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, item *domain.InventoryItem) error {
	return conn.WithContext(ctx).Create(item).Error
}

func (r *repo) FindByProductIDForUpdate(ctx context.Context, tx *gorm.DB, productID snowflake.ID) (*domain.InventoryItem, error) {
	query := `SELECT id, product_id, quantity, reserved_quantity, minimum_threshold, maximum_capacity, created_at, updated_at
		 FROM inventory_items
		 WHERE product_id = ?`
	if db.SupportsRowLocking(tx) {
		query += ` FOR UPDATE`
	}

	var item domain.InventoryItem
	err := tx.WithContext(ctx).Raw(query, productID).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByProductID(ctx context.Context, conn *gorm.DB, productID snowflake.ID) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := conn.WithContext(ctx).Where("product_id = ?", productID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) UpdateCounters(ctx context.Context, tx *gorm.DB, item *domain.InventoryItem) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE inventory_items
		 SET quantity = ?, reserved_quantity = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		item.Quantity,
		item.ReservedQuantity,
		item.ID,
	).Error
}

func (r *repo) InsertTransaction(ctx context.Context, tx *gorm.DB, entry *domain.InventoryTransaction) error {
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *repo) ListTransactions(ctx context.Context, conn *gorm.DB, itemID snowflake.ID, before snowflake.ID, limit int) ([]*domain.InventoryTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	q := conn.WithContext(ctx).Where("inventory_item_id = ?", itemID)
	if before != 0 {
		q = q.Where("id < ?", before)
	}
	var entries []*domain.InventoryTransaction
	err := q.Order("id desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListLowStock(ctx context.Context, conn *gorm.DB) ([]*domain.InventoryItem, error) {
	var items []*domain.InventoryItem
	err := conn.WithContext(ctx).
		Where("quantity - reserved_quantity <= minimum_threshold").
		Order("quantity - reserved_quantity asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountLowStock(ctx context.Context, conn *gorm.DB) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).
		Model(&domain.InventoryItem{}).
		Where("quantity - reserved_quantity <= minimum_threshold").
		Count(&count).Error
	return count, err
}
