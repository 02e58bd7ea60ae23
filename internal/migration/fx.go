package migration

import (
	inventorydomain "github.com/hamimul/order-fulfillment/internal/inventory/domain"
	orderdomain "github.com/hamimul/order-fulfillment/internal/order/domain"
	productdomain "github.com/hamimul/order-fulfillment/internal/product/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module runs schema migrations at startup. Postgres gets the embedded
// versioned migrations; other dialects fall back to AutoMigrate, which
// is what the sqlite-backed tests rely on.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}
		return AutoMigrate(conn)
	}),
)

// AutoMigrate creates the schema from the model definitions.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&productdomain.Product{},
		&inventorydomain.InventoryItem{},
		&inventorydomain.InventoryTransaction{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&orderdomain.OrderStatusHistory{},
		&orderdomain.OrderBatch{},
		&orderdomain.BatchOrder{},
	)
}
