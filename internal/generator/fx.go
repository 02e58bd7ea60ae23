package generator

import (
	"context"

	"github.com/hamimul/order-fulfillment/internal/config"
	"github.com/hamimul/order-fulfillment/internal/lifecycle"
	orderdomain "github.com/hamimul/order-fulfillment/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("generator",
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, db *gorm.DB, orders orderdomain.Service, rnd lifecycle.Rand) {
	if !cfg.GeneratorEnabled {
		return
	}

	g := New(log, db, orders, rnd, cfg.GeneratorInterval)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				g.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
