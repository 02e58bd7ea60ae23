package lifecycle

import (
	"github.com/hamimul/order-fulfillment/internal/taskqueue"
	"go.uber.org/fx"
)

var Module = fx.Module("lifecycle",
	fx.Provide(NewRand),
	fx.Provide(func() Sleeper { return SleepWithContext }),
	fx.Provide(NewWorker),
	fx.Invoke(registerHandlers),
)

func registerHandlers(registry *taskqueue.Registry, worker *Worker) {
	registry.Register(taskqueue.KindLifecycle, worker.Handle)
}
