package taskqueue

import (
	"context"
	"sync"
	"time"
)

// SyncQueue dispatches tasks inline on the caller's goroutine, ignoring
// delay. Tests use it to run the pipeline deterministically.
type SyncQueue struct {
	registry *Registry
}

func NewSyncQueue(registry *Registry) *SyncQueue {
	return &SyncQueue{registry: registry}
}

// Enqueue implements Queue.
func (q *SyncQueue) Enqueue(ctx context.Context, task Task, _ time.Duration) error {
	return q.registry.Dispatch(ctx, task)
}

// CaptureQueue records enqueued tasks without running them.
type CaptureQueue struct {
	mu      sync.Mutex
	entries []CapturedTask
}

type CapturedTask struct {
	Task  Task
	Delay time.Duration
}

func NewCaptureQueue() *CaptureQueue {
	return &CaptureQueue{}
}

// Enqueue implements Queue.
func (q *CaptureQueue) Enqueue(_ context.Context, task Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, CapturedTask{Task: task, Delay: delay})
	return nil
}

func (q *CaptureQueue) Tasks() []CapturedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]CapturedTask, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *CaptureQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}
