package seed

import (
	"context"
	"errors"
	"fmt"

	inventorydomain "github.com/hamimul/order-fulfillment/internal/inventory/domain"
	productdomain "github.com/hamimul/order-fulfillment/internal/product/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type demoProduct struct {
	name  string
	sku   string
	price string
	stock int64
}

var demoCatalog = []demoProduct{
	{"Wireless Mouse", "WM-001", "29.99", 200},
	{"Mechanical Keyboard", "MK-002", "89.99", 150},
	{"USB-C Hub", "UH-003", "49.99", 300},
	{"Laptop Stand", "LS-004", "39.99", 120},
	{"Webcam 1080p", "WC-005", "59.99", 80},
	{"Desk Lamp", "DL-006", "24.99", 250},
	{"Monitor 27in", "MN-007", "249.99", 60},
	{"Noise-Cancelling Headset", "NH-008", "129.99", 90},
	{"Portable SSD 1TB", "PS-009", "109.99", 140},
	{"Phone Charger", "PC-010", "14.99", 500},
}

// EnsureDemoCatalog creates the sample products with initial stock so a
// fresh install has something to order against. Existing SKUs are left
// untouched.
func EnsureDemoCatalog(ctx context.Context, db *gorm.DB, products productdomain.Service, inventory inventorydomain.Service) error {
	if db == nil || products == nil || inventory == nil {
		return errors.New("seed dependencies are required")
	}

	for _, dp := range demoCatalog {
		var existing productdomain.Product
		err := db.WithContext(ctx).Where("sku = ?", dp.sku).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		price, err := decimal.NewFromString(dp.price)
		if err != nil {
			return fmt.Errorf("demo price %q: %w", dp.price, err)
		}
		product, err := products.Create(ctx, productdomain.CreateProductRequest{
			Name:  dp.name,
			SKU:   dp.sku,
			Price: price,
		})
		if err != nil {
			if errors.Is(err, productdomain.ErrDuplicateSKU) {
				continue
			}
			return err
		}

		if _, err := inventory.Adjust(ctx, inventorydomain.AdjustRequest{
			ProductID:       product.ID,
			Mode:            inventorydomain.AdjustModeDelta,
			Quantity:        dp.stock,
			ReferenceNumber: "seed",
			Notes:           "initial demo stock",
			ProcessedBy:     "seed",
		}); err != nil {
			return err
		}
	}
	return nil
}
