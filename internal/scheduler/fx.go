package scheduler

import (
	"context"

	appconfig "github.com/hamimul/order-fulfillment/internal/config"
	"github.com/hamimul/order-fulfillment/internal/taskqueue"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(newConfig),
	fx.Provide(New),
	fx.Invoke(registerHandlers),
	fx.Invoke(run),
)

// registerHandlers lets callers trigger a sweep on demand through the
// task queue, in addition to the fixed schedule.
func registerHandlers(registry *taskqueue.Registry, r *Reconciler) {
	registry.Register(taskqueue.KindSweep, func(ctx context.Context, _ taskqueue.Task) error {
		_, err := r.RunOnce(ctx)
		return err
	})
}

func newConfig(cfg appconfig.Config) Config {
	return Config{RunInterval: cfg.SchedulerInterval}.withDefaults()
}

func run(lc fx.Lifecycle, r *Reconciler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				r.RunForever(ctx)
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
