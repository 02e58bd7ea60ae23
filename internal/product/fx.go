package product

import (
	"github.com/hamimul/order-fulfillment/internal/product/service"
	"go.uber.org/fx"
)

var Module = fx.Module("product.service",
	fx.Provide(service.NewService),
)
