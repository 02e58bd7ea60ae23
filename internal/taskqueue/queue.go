package taskqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	// KindLifecycle drives one order through the fulfillment pipeline.
	KindLifecycle Kind = "order.lifecycle"

	// KindSweep triggers one reconciliation sweep on demand, outside
	// the reconciler's fixed schedule.
	KindSweep Kind = "reconciler.sweep"
)

var (
	ErrQueueFull     = errors.New("task_queue_full")
	ErrQueueClosed   = errors.New("task_queue_closed")
	ErrUnknownKind   = errors.New("unknown_task_kind")
	ErrNoSuchHandler = errors.New("no_handler_registered")
)

// Task is the unit of deferred work. Attempt counts deliveries of the
// same logical task so handlers can back off and give up.
type Task struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	OrderID    uuid.UUID `json:"order_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Handler func(ctx context.Context, task Task) error

// Queue accepts tasks for asynchronous delivery. Delivery is at least
// once; handlers must tolerate duplicates.
type Queue interface {
	Enqueue(ctx context.Context, task Task, delay time.Duration) error
}

// Registry maps task kinds to handlers. Registration happens during
// startup, before any backend begins delivering.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

func (r *Registry) Register(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Dispatch routes the task to its handler.
func (r *Registry) Dispatch(ctx context.Context, task Task) error {
	r.mu.RLock()
	h, ok := r.handlers[task.Kind]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSuchHandler
	}
	return h(ctx, task)
}

// NewLifecycleTask builds the task that moves orderID through the
// fulfillment pipeline.
func NewLifecycleTask(orderID uuid.UUID, attempt int, now time.Time) Task {
	return Task{
		ID:         uuid.New(),
		Kind:       KindLifecycle,
		OrderID:    orderID,
		Attempt:    attempt,
		EnqueuedAt: now,
	}
}

// NewSweepTask builds an on-demand reconciliation sweep trigger.
func NewSweepTask(now time.Time) Task {
	return Task{
		ID:         uuid.New(),
		Kind:       KindSweep,
		EnqueuedAt: now,
	}
}
