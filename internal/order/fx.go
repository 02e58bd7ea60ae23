package order

import (
	"github.com/hamimul/order-fulfillment/internal/order/repository"
	"github.com/hamimul/order-fulfillment/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
