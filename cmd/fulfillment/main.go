package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hamimul/order-fulfillment/internal/clock"
	"github.com/hamimul/order-fulfillment/internal/config"
	"github.com/hamimul/order-fulfillment/internal/generator"
	"github.com/hamimul/order-fulfillment/internal/inventory"
	"github.com/hamimul/order-fulfillment/internal/lifecycle"
	"github.com/hamimul/order-fulfillment/internal/logger"
	"github.com/hamimul/order-fulfillment/internal/migration"
	"github.com/hamimul/order-fulfillment/internal/observability"
	"github.com/hamimul/order-fulfillment/internal/order"
	"github.com/hamimul/order-fulfillment/internal/product"
	"github.com/hamimul/order-fulfillment/internal/scheduler"
	"github.com/hamimul/order-fulfillment/internal/seed"
	"github.com/hamimul/order-fulfillment/internal/taskqueue"
	"github.com/hamimul/order-fulfillment/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		product.Module,
		inventory.Module,
		order.Module,
		taskqueue.Module,
		lifecycle.Module,
		scheduler.Module,
		seed.Module,
		generator.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
