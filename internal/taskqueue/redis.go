package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	popTimeout   = time.Second
	pollInterval = time.Second
)

// RedisQueue is the distributed backend: a list for ready tasks and a
// sorted set for delayed ones, scored by due time. Any instance may
// enqueue; each instance runs its own consumers, so tasks spread across
// the fleet.
type RedisQueue struct {
	log        *zap.Logger
	rdb        *redis.Client
	pool       *Pool
	workers    int
	readyKey   string
	delayedKey string

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewRedisQueue(log *zap.Logger, rdb *redis.Client, registry *Registry, workers int, keyPrefix string) *RedisQueue {
	if workers <= 0 {
		workers = 4
	}
	if keyPrefix == "" {
		keyPrefix = "fulfillment"
	}
	return &RedisQueue{
		log:        log.Named("taskqueue.redis"),
		rdb:        rdb,
		pool:       NewPool(log, registry, workers, workers*4),
		workers:    workers,
		readyKey:   keyPrefix + ":tasks:ready",
		delayedKey: keyPrefix + ":tasks:delayed",
		stop:       make(chan struct{}),
	}
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task, delay time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if delay > 0 {
		due := time.Now().Add(delay)
		return q.rdb.ZAdd(ctx, q.delayedKey, redis.Z{
			Score:  float64(due.UnixMilli()),
			Member: payload,
		}).Err()
	}
	return q.rdb.LPush(ctx, q.readyKey, payload).Err()
}

// Start launches the local workers and the delayed-task mover.
func (q *RedisQueue) Start() {
	q.pool.Start()
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.consume()
	}
	q.wg.Add(1)
	go q.moveDue()
	q.log.Info("redis queue started", zap.Int("workers", q.workers))
}

func (q *RedisQueue) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.stop)
	}
	q.mu.Unlock()
	q.wg.Wait()
	q.pool.Stop()
}

// consume blocks on the ready list and feeds tasks to the local pool.
func (q *RedisQueue) consume() {
	defer q.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-q.stop:
			return
		default:
		}

		res, err := q.rdb.BRPop(ctx, popTimeout, q.readyKey).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				q.log.Warn("ready pop failed", zap.Error(err))
				time.Sleep(pollInterval)
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			q.log.Error("malformed task payload dropped", zap.Error(err))
			continue
		}
		if err := q.pool.submit(task); err != nil {
			// Pool is shutting down; put the task back so another
			// instance picks it up.
			if err := q.rdb.LPush(ctx, q.readyKey, res[1]).Err(); err != nil {
				q.log.Error("requeue on shutdown failed",
					zap.String("order_id", task.OrderID.String()),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// moveDue promotes delayed tasks whose due time has passed. ZRem is the
// claim: only the instance that removes the member pushes it, so a task
// moves exactly once even with several movers.
func (q *RedisQueue) moveDue() {
	defer q.wg.Done()
	ctx := context.Background()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		members, err := q.rdb.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
			Min: "-inf", Max: now, Count: 100,
		}).Result()
		if err != nil {
			q.log.Warn("delayed scan failed", zap.Error(err))
			continue
		}

		for _, member := range members {
			removed, err := q.rdb.ZRem(ctx, q.delayedKey, member).Result()
			if err != nil || removed == 0 {
				continue
			}
			if err := q.rdb.LPush(ctx, q.readyKey, member).Err(); err != nil {
				q.log.Error("promoting delayed task failed", zap.Error(err))
			}
		}
	}
}
