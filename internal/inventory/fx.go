package inventory

import (
	"github.com/hamimul/order-fulfillment/internal/inventory/repository"
	"github.com/hamimul/order-fulfillment/internal/inventory/service"
	"go.uber.org/fx"
)

var Module = fx.Module("inventory.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
