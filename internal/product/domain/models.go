package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Product is the immutable identity behind an inventory line item.
type Product struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name      string          `gorm:"not null" json:"name"`
	SKU       string          `gorm:"size:64;not null;uniqueIndex" json:"sku"`
	Price     decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price"`
	Active    bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Product) TableName() string { return "products" }

type CreateProductRequest struct {
	Name             string
	SKU              string
	Price            decimal.Decimal
	MinimumThreshold int64
	MaximumCapacity  int64
}

var (
	ErrInvalidName  = errors.New("invalid_name")
	ErrInvalidSKU   = errors.New("invalid_sku")
	ErrInvalidPrice = errors.New("invalid_price")
	ErrDuplicateSKU = errors.New("duplicate_sku")
	ErrNotFound     = errors.New("product_not_found")
)

// Service creates and resolves products. Creating a product also creates
// its zero-quantity inventory row in the same transaction.
type Service interface {
	Create(ctx context.Context, req CreateProductRequest) (*Product, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Product, error)
}
