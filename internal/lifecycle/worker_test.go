package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/hamimul/order-fulfillment/internal/clock"
	"github.com/hamimul/order-fulfillment/internal/config"
	inventorydomain "github.com/hamimul/order-fulfillment/internal/inventory/domain"
	inventoryrepo "github.com/hamimul/order-fulfillment/internal/inventory/repository"
	inventoryservice "github.com/hamimul/order-fulfillment/internal/inventory/service"
	orderdomain "github.com/hamimul/order-fulfillment/internal/order/domain"
	orderrepo "github.com/hamimul/order-fulfillment/internal/order/repository"
	orderservice "github.com/hamimul/order-fulfillment/internal/order/service"
	productdomain "github.com/hamimul/order-fulfillment/internal/product/domain"
	"github.com/hamimul/order-fulfillment/internal/taskqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubRand returns queued values, then zero.
type stubRand struct {
	mu     sync.Mutex
	floats []float64
}

func (s *stubRand) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[0]
	s.floats = s.floats[1:]
	return v
}

func (s *stubRand) Int63n(n int64) int64 { return 0 }

func instantSleep(context.Context, time.Duration) error { return nil }

type workerFixture struct {
	db      *gorm.DB
	worker  *Worker
	orders  orderdomain.Service
	queue   *taskqueue.CaptureQueue
	rand    *stubRand
	product snowflake.ID
}

func newWorkerFixture(t *testing.T, processFail, shipFail float64) *workerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&productdomain.Product{},
		&inventorydomain.InventoryItem{},
		&inventorydomain.InventoryTransaction{},
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&orderdomain.OrderStatusHistory{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	queue := taskqueue.NewCaptureQueue()

	invSvc := inventoryservice.NewService(inventoryservice.ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: inventoryrepo.Provide(),
	})
	orderSvc := orderservice.NewService(orderservice.ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fc,
		Repo: orderrepo.Provide(), Inventory: invSvc, Queue: queue,
	})

	productID := node.Generate()
	require.NoError(t, db.Create(&productdomain.Product{
		ID: productID, Name: "Widget", SKU: "WG-100",
		Price: decimal.RequireFromString("10.00"), Active: true,
	}).Error)
	require.NoError(t, db.Create(&inventorydomain.InventoryItem{
		ID: node.Generate(), ProductID: productID, Quantity: 100,
		MinimumThreshold: 10, MaximumCapacity: 1000,
	}).Error)

	rnd := &stubRand{}
	sim := config.NewStaticSimulationHolder(config.SimulationConfig{
		ProcessFailureRate: processFail,
		ShipFailureRate:    shipFail,
	})

	worker := NewWorker(WorkerParam{
		Log:    zap.NewNop(),
		Orders: orderSvc,
		Queue:  queue,
		Sim:    sim,
		Rand:   rnd,
		Sleep:  instantSleep,
	})

	return &workerFixture{
		db: db, worker: worker, orders: orderSvc,
		queue: queue, rand: rnd, product: productID,
	}
}

func (f *workerFixture) createOrder(t *testing.T) *orderdomain.Order {
	t.Helper()
	order, err := f.orders.Create(context.Background(), orderdomain.CreateOrderRequest{
		CustomerName: "Test",
		Items:        []orderdomain.LineItemRequest{{ProductID: f.product, Quantity: 5}},
	})
	require.NoError(t, err)
	f.queue.Reset()
	return order
}

func (f *workerFixture) orderStatus(t *testing.T, id uuid.UUID) orderdomain.Order {
	t.Helper()
	var order orderdomain.Order
	require.NoError(t, f.db.Where("id = ?", id).First(&order).Error)
	return order
}

func (f *workerFixture) inventory(t *testing.T) inventorydomain.InventoryItem {
	t.Helper()
	var item inventorydomain.InventoryItem
	require.NoError(t, f.db.Where("product_id = ?", f.product).First(&item).Error)
	return item
}

func TestWorker_DeliversCleanRun(t *testing.T) {
	f := newWorkerFixture(t, 0, 0)
	order := f.createOrder(t)

	task := taskqueue.NewLifecycleTask(order.ID, 0, time.Now())
	require.NoError(t, f.worker.Handle(context.Background(), task))

	got := f.orderStatus(t, order.ID)
	assert.Equal(t, orderdomain.StatusDelivered, got.Status)
	assert.Equal(t, int64(4), got.Version)
	assert.NotNil(t, got.CompletedAt)

	item := f.inventory(t)
	assert.Equal(t, int64(95), item.Quantity)
	assert.Equal(t, int64(0), item.ReservedQuantity)
}

func TestWorker_FailsAtProcessing(t *testing.T) {
	f := newWorkerFixture(t, 1.0, 0)
	order := f.createOrder(t)

	task := taskqueue.NewLifecycleTask(order.ID, 0, time.Now())
	require.NoError(t, f.worker.Handle(context.Background(), task))

	got := f.orderStatus(t, order.ID)
	assert.Equal(t, orderdomain.StatusFailed, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// Failure releases the hold without touching owned stock.
	item := f.inventory(t)
	assert.Equal(t, int64(100), item.Quantity)
	assert.Equal(t, int64(0), item.ReservedQuantity)

	var shippedCount int64
	require.NoError(t, f.db.Model(&orderdomain.OrderStatusHistory{}).
		Where("order_id = ? AND to_status = ?", order.ID, orderdomain.StatusShipped).
		Count(&shippedCount).Error)
	assert.Equal(t, int64(0), shippedCount)
}

func TestWorker_FailsAtShipping(t *testing.T) {
	f := newWorkerFixture(t, 0, 1.0)
	order := f.createOrder(t)

	task := taskqueue.NewLifecycleTask(order.ID, 0, time.Now())
	require.NoError(t, f.worker.Handle(context.Background(), task))

	got := f.orderStatus(t, order.ID)
	assert.Equal(t, orderdomain.StatusFailed, got.Status)

	item := f.inventory(t)
	assert.Equal(t, int64(100), item.Quantity)
	assert.Equal(t, int64(0), item.ReservedQuantity)
}

func TestWorker_SkipsNonPendingOrder(t *testing.T) {
	f := newWorkerFixture(t, 0, 0)
	order := f.createOrder(t)

	_, err := f.orders.Cancel(context.Background(), order.ID, "test", "")
	require.NoError(t, err)

	task := taskqueue.NewLifecycleTask(order.ID, 0, time.Now())
	require.NoError(t, f.worker.Handle(context.Background(), task))

	got := f.orderStatus(t, order.ID)
	assert.Equal(t, orderdomain.StatusCancelled, got.Status)
}

func TestWorker_SkipsUnknownOrder(t *testing.T) {
	f := newWorkerFixture(t, 0, 0)

	task := taskqueue.NewLifecycleTask(uuid.New(), 0, time.Now())
	assert.NoError(t, f.worker.Handle(context.Background(), task))
}

// transitionStub lets a test inject transition errors.
type transitionStub struct {
	orderdomain.Service
	err error
}

func (s *transitionStub) Transition(context.Context, orderdomain.TransitionRequest) (*orderdomain.TransitionResult, error) {
	return nil, s.err
}

func TestWorker_RetriesTransientErrors(t *testing.T) {
	queue := taskqueue.NewCaptureQueue()
	worker := NewWorker(WorkerParam{
		Log:    zap.NewNop(),
		Orders: &transitionStub{err: errors.New("database is locked")},
		Queue:  queue,
		Sim:    config.NewStaticSimulationHolder(config.SimulationConfig{}),
		Rand:   &stubRand{},
		Sleep:  instantSleep,
	})

	orderID := uuid.New()
	task := taskqueue.NewLifecycleTask(orderID, 0, time.Now())
	require.NoError(t, worker.Handle(context.Background(), task))

	tasks := queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, orderID, tasks[0].Task.OrderID)
	assert.Equal(t, 1, tasks[0].Task.Attempt)
	assert.Equal(t, time.Minute, tasks[0].Delay)
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	queue := taskqueue.NewCaptureQueue()
	transient := errors.New("database is locked")
	worker := NewWorker(WorkerParam{
		Log:    zap.NewNop(),
		Orders: &transitionStub{err: transient},
		Queue:  queue,
		Sim:    config.NewStaticSimulationHolder(config.SimulationConfig{}),
		Rand:   &stubRand{},
		Sleep:  instantSleep,
	})

	task := taskqueue.NewLifecycleTask(uuid.New(), maxAttempts, time.Now())
	err := worker.Handle(context.Background(), task)
	assert.ErrorIs(t, err, transient)
	assert.Empty(t, queue.Tasks())
}

// movedOrderStub claims cleanly but reports the order as already moved
// by another actor when the worker tries to fail it.
type movedOrderStub struct {
	orderdomain.Service
}

func (s *movedOrderStub) Transition(_ context.Context, req orderdomain.TransitionRequest) (*orderdomain.TransitionResult, error) {
	if req.ToStatus == orderdomain.StatusProcessing {
		return &orderdomain.TransitionResult{
			Applied:    true,
			FromStatus: orderdomain.StatusPending,
			ToStatus:   req.ToStatus,
			Version:    2,
		}, nil
	}
	return nil, orderdomain.ErrTerminalOrder
}

func lifecycleRunCount(t *testing.T, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != "fulfillment_lifecycle_runs_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestWorker_LostFailRaceDoesNotCountAsFailedRun(t *testing.T) {
	queue := taskqueue.NewCaptureQueue()
	worker := NewWorker(WorkerParam{
		Log:    zap.NewNop(),
		Orders: &movedOrderStub{},
		Queue:  queue,
		Sim: config.NewStaticSimulationHolder(config.SimulationConfig{
			ProcessFailureRate: 1,
		}),
		Rand:  &stubRand{},
		Sleep: instantSleep,
	})

	before := lifecycleRunCount(t, "failed")
	task := taskqueue.NewLifecycleTask(uuid.New(), 0, time.Now())
	require.NoError(t, worker.Handle(context.Background(), task))

	assert.Equal(t, before, lifecycleRunCount(t, "failed"))
	assert.Empty(t, queue.Tasks())
}
