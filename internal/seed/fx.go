package seed

import (
	"context"

	"github.com/hamimul/order-fulfillment/internal/config"
	inventorydomain "github.com/hamimul/order-fulfillment/internal/inventory/domain"
	productdomain "github.com/hamimul/order-fulfillment/internal/product/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, db *gorm.DB, products productdomain.Service, inventory inventorydomain.Service) error {
		if !cfg.SeedDemoData {
			return nil
		}
		return EnsureDemoCatalog(context.Background(), db, products, inventory)
	}),
)
