package lifecycle

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hamimul/order-fulfillment/internal/config"
	"github.com/hamimul/order-fulfillment/internal/observability/metrics"
	orderdomain "github.com/hamimul/order-fulfillment/internal/order/domain"
	"github.com/hamimul/order-fulfillment/internal/taskqueue"
	"github.com/hamimul/order-fulfillment/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	maxAttempts    = 3
	retryBaseDelay = time.Minute
)

// Rand is the randomness source behind failure rolls and delay jitter.
// Injected so tests can pin outcomes.
type Rand interface {
	Float64() float64
	Int63n(n int64) int64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

func NewRand() Rand {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Sleeper waits for d or until ctx is done. Tests swap it out to skip
// the simulated warehouse delays.
type Sleeper func(ctx context.Context, d time.Duration) error

func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Worker drives one order through processing, shipping and delivery,
// with simulated delays and failure rolls at each stage.
type Worker struct {
	log    *zap.Logger
	orders orderdomain.Service
	queue  taskqueue.Queue
	sim    *config.SimulationHolder
	rand   Rand
	sleep  Sleeper
}

type WorkerParam struct {
	fx.In

	Log    *zap.Logger
	Orders orderdomain.Service
	Queue  taskqueue.Queue
	Sim    *config.SimulationHolder
	Rand   Rand
	Sleep  Sleeper
}

func NewWorker(p WorkerParam) *Worker {
	return &Worker{
		log:    p.Log.Named("lifecycle.worker"),
		orders: p.Orders,
		queue:  p.Queue,
		sim:    p.Sim,
		rand:   p.Rand,
		sleep:  p.Sleep,
	}
}

// Handle implements the task handler for lifecycle tasks.
func (w *Worker) Handle(ctx context.Context, task taskqueue.Task) error {
	err := w.process(ctx, task)
	if err == nil {
		return nil
	}

	if db.IsTransientErr(err) && task.Attempt < maxAttempts {
		delay := retryBaseDelay << task.Attempt
		retry := taskqueue.NewLifecycleTask(task.OrderID, task.Attempt+1, time.Now())
		if qerr := w.queue.Enqueue(ctx, retry, delay); qerr != nil {
			w.log.Error("retry enqueue failed",
				zap.String("order_id", task.OrderID.String()),
				zap.Error(qerr),
			)
			return err
		}
		metrics.Fulfillment().IncLifecycleRetry()
		w.log.Warn("transient failure, retrying",
			zap.String("order_id", task.OrderID.String()),
			zap.Int("attempt", task.Attempt+1),
			zap.Duration("delay", delay),
		)
		return nil
	}

	metrics.Fulfillment().IncLifecycleRun("error")
	return err
}

func (w *Worker) process(ctx context.Context, task taskqueue.Task) error {
	orderID := task.OrderID
	sim := w.sim.Get()

	// Claim the order. Anything but a clean pending -> processing flip
	// means another worker or the reconciler got here first.
	tr, err := w.orders.Transition(ctx, orderdomain.TransitionRequest{
		OrderID:   orderID,
		ToStatus:  orderdomain.StatusProcessing,
		ChangedBy: "lifecycle_worker",
		Notes:     "processing started",
	})
	if err != nil {
		if w.isSkippable(err, orderID, "claim") {
			return nil
		}
		return err
	}
	if !tr.Applied {
		w.log.Debug("order already processing", zap.String("order_id", orderID.String()))
		return nil
	}

	if err := w.sleep(ctx, w.jitter(sim.ProcessingDelayMin, sim.ProcessingDelayMax)); err != nil {
		return err
	}

	if w.rand.Float64() < sim.ProcessFailureRate {
		return w.fail(ctx, orderID, "processing failed")
	}

	tr, err = w.orders.Transition(ctx, orderdomain.TransitionRequest{
		OrderID:   orderID,
		ToStatus:  orderdomain.StatusShipped,
		ChangedBy: "lifecycle_worker",
		Notes:     "shipped",
	})
	if err != nil {
		if w.isSkippable(err, orderID, "ship") {
			return nil
		}
		return err
	}
	if !tr.Applied {
		return nil
	}

	if err := w.sleep(ctx, w.jitter(sim.ShippingDelayMin, sim.ShippingDelayMax)); err != nil {
		return err
	}

	if w.rand.Float64() < sim.ShipFailureRate {
		return w.fail(ctx, orderID, "shipping failed")
	}

	tr, err = w.orders.Transition(ctx, orderdomain.TransitionRequest{
		OrderID:   orderID,
		ToStatus:  orderdomain.StatusDelivered,
		ChangedBy: "lifecycle_worker",
		Notes:     "delivered",
	})
	if err != nil {
		if w.isSkippable(err, orderID, "deliver") {
			return nil
		}
		return err
	}
	if tr.Applied {
		metrics.Fulfillment().IncLifecycleRun("delivered")
		w.log.Info("order delivered", zap.String("order_id", orderID.String()))
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, orderID uuid.UUID, notes string) error {
	tr, err := w.orders.Transition(ctx, orderdomain.TransitionRequest{
		OrderID:   orderID,
		ToStatus:  orderdomain.StatusFailed,
		ChangedBy: "lifecycle_worker",
		Notes:     notes,
	})
	if err != nil {
		if w.isSkippable(err, orderID, "fail") {
			return nil
		}
		return err
	}
	if tr.Applied {
		metrics.Fulfillment().IncLifecycleRun("failed")
		w.log.Info("order failed", zap.String("order_id", orderID.String()), zap.String("reason", notes))
	}
	return nil
}

// isSkippable reports whether the error means some other actor already
// moved the order, which ends this run without retrying.
func (w *Worker) isSkippable(err error, orderID uuid.UUID, stage string) bool {
	switch {
	case errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, orderdomain.ErrTerminalOrder),
		errors.Is(err, orderdomain.ErrVersionConflict):
		w.log.Debug("lifecycle step skipped",
			zap.String("order_id", orderID.String()),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return true
	}
	return false
}

func (w *Worker) jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(w.rand.Int63n(int64(max-min)))
}
