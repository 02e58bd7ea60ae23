package taskqueue

import (
	"context"
	"sync"
	"time"

	obsmetrics "github.com/hamimul/order-fulfillment/internal/observability/metrics"
	"go.uber.org/zap"
)

const taskTimeout = 2 * time.Minute

// Pool is the in-process queue backend: a buffered channel drained by a
// fixed set of workers. Delayed tasks sit on a timer until due. Tasks
// do not survive a restart; the stale-order sweep recovers anything
// lost that way.
type Pool struct {
	log      *zap.Logger
	registry *Registry
	tasks    chan Task
	workers  int

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewPool(log *zap.Logger, registry *Registry, workers, buffer int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Pool{
		log:      log.Named("taskqueue.pool"),
		registry: registry,
		tasks:    make(chan Task, buffer),
		workers:  workers,
		stop:     make(chan struct{}),
	}
}

// Enqueue implements Queue.
func (p *Pool) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	if delay > 0 {
		time.AfterFunc(delay, func() {
			if err := p.push(task); err != nil {
				p.log.Warn("delayed task dropped",
					zap.String("kind", string(task.Kind)),
					zap.String("order_id", task.OrderID.String()),
					zap.Error(err),
				)
			}
		})
		return nil
	}
	return p.push(task)
}

func (p *Pool) push(task Task) error {
	select {
	case <-p.stop:
		return ErrQueueClosed
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		obsmetrics.Fulfillment().IncJobError("taskqueue", "queue_full")
		return ErrQueueFull
	}
}

// submit hands a task to the workers, blocking until one takes it.
// Used by backends that must not drop tasks on a full buffer.
func (p *Pool) submit(task Task) error {
	select {
	case <-p.stop:
		return ErrQueueClosed
	case p.tasks <- task:
		return nil
	}
}

// Start launches the workers. Safe to call once.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info("task workers started", zap.Int("workers", p.workers))
}

// Stop signals the workers and waits for in-flight tasks to finish.
// Buffered and delayed tasks are abandoned.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stop)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case task := <-p.tasks:
			p.run(task)
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			obsmetrics.Fulfillment().IncJobError(string(task.Kind), "panic")
			p.log.Error("task handler panicked",
				zap.String("kind", string(task.Kind)),
				zap.String("order_id", task.OrderID.String()),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	start := time.Now()
	err := p.registry.Dispatch(ctx, task)
	obsmetrics.Fulfillment().ObserveJobDuration(string(task.Kind), time.Since(start))
	if err != nil {
		obsmetrics.Fulfillment().IncJobError(string(task.Kind), "handler_error")
		p.log.Error("task handler failed",
			zap.String("kind", string(task.Kind)),
			zap.String("order_id", task.OrderID.String()),
			zap.Int("attempt", task.Attempt),
			zap.Error(err),
		)
	}
}
