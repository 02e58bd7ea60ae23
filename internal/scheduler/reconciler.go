package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/hamimul/order-fulfillment/internal/clock"
	"github.com/hamimul/order-fulfillment/internal/config"
	"github.com/hamimul/order-fulfillment/internal/lifecycle"
	obsmetrics "github.com/hamimul/order-fulfillment/internal/observability/metrics"
	orderdomain "github.com/hamimul/order-fulfillment/internal/order/domain"
	"github.com/hamimul/order-fulfillment/internal/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reconciler sweeps for orders stuck past their staleness threshold and
// unsticks them: pending orders go back on the queue, processing orders
// are retried or cancelled, shipped orders are delivered.
type Reconciler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   Config
	clock clock.Clock
	repo  orderdomain.Repository
	svc   orderdomain.Service
	queue taskqueue.Queue
	sim   *config.SimulationHolder
	rand  lifecycle.Rand
}

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   orderdomain.Repository
	Orders orderdomain.Service
	Queue  taskqueue.Queue
	Sim    *config.SimulationHolder
	Rand   lifecycle.Rand
	Config Config `optional:"true"`
}

func New(p Params) (*Reconciler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil || p.Orders == nil || p.Queue == nil || p.Sim == nil || p.Rand == nil {
		return nil, ErrInvalidConfig
	}
	return &Reconciler{
		db:    p.DB,
		log:   p.Log.Named("scheduler").With(zap.String("component", "reconciler")),
		cfg:   p.Config.withDefaults(),
		clock: p.Clock,
		repo:  p.Repo,
		svc:   p.Orders,
		queue: p.Queue,
		sim:   p.Sim,
		rand:  p.Rand,
	}, nil
}

// RunForever sweeps on a fixed interval until ctx is cancelled.
func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := r.clock.Now().Add(r.cfg.RunInterval)
	m := obsmetrics.Fulfillment()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			m.ObserveRunLoopLag(runLag)
		}
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconciliation sweep failed", zap.Error(err))
		}
		nextRun = nextRun.Add(r.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes one full reconciliation sweep and returns the number
// of orders it handled.
func (r *Reconciler) RunOnce(parent context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(parent, r.cfg.JobTimeout)
	defer cancel()

	m := obsmetrics.Fulfillment()
	m.IncJobRun("stale_order_sweep")
	start := time.Now()
	defer func() {
		m.ObserveJobDuration("stale_order_sweep", time.Since(start))
	}()

	var handled int
	var errs []error
	n, err := r.sweepPending(ctx)
	handled += n
	if err != nil {
		m.IncJobError("stale_order_sweep", "pending")
		errs = append(errs, err)
	}
	n, err = r.sweepProcessing(ctx)
	handled += n
	if err != nil {
		m.IncJobError("stale_order_sweep", "processing")
		errs = append(errs, err)
	}
	n, err = r.sweepShipped(ctx)
	handled += n
	if err != nil {
		m.IncJobError("stale_order_sweep", "shipped")
		errs = append(errs, err)
	}
	if handled > 0 {
		r.log.Info("reconciliation sweep handled stale orders",
			zap.Int("handled", handled),
		)
	}
	return handled, errors.Join(errs...)
}

// sweepPending requeues pending orders whose lifecycle task was lost.
// The timestamp refresh and the claim share one transaction, so the
// next sweep does not see the same order as stale again.
func (r *Reconciler) sweepPending(ctx context.Context) (int, error) {
	sim := r.sim.Get()
	now := r.clock.Now()

	var requeued []orderdomain.Order
	err := r.db.Transaction(func(tx *gorm.DB) error {
		stale, err := r.repo.ClaimStale(ctx, tx, now, orderdomain.StatusPending, sim.PendingStaleAfter, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, order := range stale {
			touched, err := r.repo.TouchStateSince(ctx, tx, order.ID, order.Version, now)
			if err != nil {
				return err
			}
			if touched {
				requeued = append(requeued, order)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	handled := 0
	m := obsmetrics.Fulfillment()
	for _, order := range requeued {
		task := taskqueue.NewLifecycleTask(order.ID, 0, now)
		if err := r.queue.Enqueue(ctx, task, 0); err != nil {
			r.log.Error("stale pending requeue failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
			continue
		}
		handled++
		m.IncStaleHandled(string(orderdomain.StatusPending), obsmetrics.StaleActionRestarted)
		r.log.Info("stale pending order requeued",
			zap.String("order_id", order.ID.String()),
			zap.Duration("stuck_for", now.Sub(order.CurrentStateSince)),
		)
	}
	return handled, nil
}

// sweepProcessing handles orders whose worker died mid-pipeline. Most
// get another chance; the rest are cancelled and their stock returned.
func (r *Reconciler) sweepProcessing(ctx context.Context) (int, error) {
	sim := r.sim.Get()
	now := r.clock.Now()

	stale, err := r.claim(ctx, now, orderdomain.StatusProcessing, sim.ProcessingStaleAfter)
	if err != nil {
		return 0, err
	}

	handled := 0
	m := obsmetrics.Fulfillment()
	for _, order := range stale {
		if r.rand.Float64() < sim.StaleRetryProbability {
			tr, err := r.svc.Transition(ctx, orderdomain.TransitionRequest{
				OrderID:         order.ID,
				ToStatus:        orderdomain.StatusPending,
				ExpectedVersion: order.Version,
				ChangedBy:       "reconciler",
				Notes:           "stale processing order reset for retry",
			})
			if r.lost(err, order.ID, "retry") {
				continue
			}
			if err != nil {
				return handled, err
			}
			if !tr.Applied {
				continue
			}
			task := taskqueue.NewLifecycleTask(order.ID, 0, now)
			if err := r.queue.Enqueue(ctx, task, 0); err != nil {
				r.log.Error("stale processing requeue failed",
					zap.String("order_id", order.ID.String()),
					zap.Error(err),
				)
			}
			handled++
			m.IncStaleHandled(string(orderdomain.StatusProcessing), obsmetrics.StaleActionRetried)
			continue
		}

		_, err := r.svc.Transition(ctx, orderdomain.TransitionRequest{
			OrderID:         order.ID,
			ToStatus:        orderdomain.StatusCancelled,
			ExpectedVersion: order.Version,
			ChangedBy:       "reconciler",
			Notes:           "stale processing order cancelled",
		})
		if r.lost(err, order.ID, "cancel") {
			continue
		}
		if err != nil {
			return handled, err
		}
		handled++
		m.IncStaleHandled(string(orderdomain.StatusProcessing), obsmetrics.StaleActionCancelled)
		r.log.Info("stale processing order cancelled",
			zap.String("order_id", order.ID.String()),
		)
	}
	return handled, nil
}

// sweepShipped assumes a shipped order that sat past its threshold
// arrived and the delivery confirmation was lost.
func (r *Reconciler) sweepShipped(ctx context.Context) (int, error) {
	sim := r.sim.Get()
	now := r.clock.Now()

	stale, err := r.claim(ctx, now, orderdomain.StatusShipped, sim.ShippedStaleAfter)
	if err != nil {
		return 0, err
	}

	handled := 0
	m := obsmetrics.Fulfillment()
	for _, order := range stale {
		tr, err := r.svc.Transition(ctx, orderdomain.TransitionRequest{
			OrderID:         order.ID,
			ToStatus:        orderdomain.StatusDelivered,
			ExpectedVersion: order.Version,
			ChangedBy:       "reconciler",
			Notes:           "auto-delivered after shipped staleness window",
		})
		if r.lost(err, order.ID, "auto_deliver") {
			continue
		}
		if err != nil {
			return handled, err
		}
		if tr.Applied {
			handled++
			m.IncStaleHandled(string(orderdomain.StatusShipped), obsmetrics.StaleActionAutoDelivered)
			r.log.Info("stale shipped order auto-delivered",
				zap.String("order_id", order.ID.String()),
			)
		}
	}
	return handled, nil
}

// claim reads one batch of stale orders in a short transaction. The row
// locks drop at commit; the version guard on each later transition is
// what makes a lost race harmless.
func (r *Reconciler) claim(ctx context.Context, now time.Time, status orderdomain.Status, staleAfter time.Duration) ([]orderdomain.Order, error) {
	var stale []orderdomain.Order
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var err error
		stale, err = r.repo.ClaimStale(ctx, tx, now, status, staleAfter, r.cfg.BatchSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}

// lost reports whether another actor moved the order first.
func (r *Reconciler) lost(err error, orderID interface{ String() string }, action string) bool {
	switch {
	case errors.Is(err, orderdomain.ErrVersionConflict),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, orderdomain.ErrTerminalOrder),
		errors.Is(err, orderdomain.ErrInvalidTransition):
		r.log.Debug("stale order moved by another actor",
			zap.String("order_id", orderID.String()),
			zap.String("action", action),
		)
		return true
	}
	return false
}
