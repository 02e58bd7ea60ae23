package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/hamimul/order-fulfillment/internal/clock"
	inventorydomain "github.com/hamimul/order-fulfillment/internal/inventory/domain"
	inventoryrepo "github.com/hamimul/order-fulfillment/internal/inventory/repository"
	inventoryservice "github.com/hamimul/order-fulfillment/internal/inventory/service"
	"github.com/hamimul/order-fulfillment/internal/order/domain"
	"github.com/hamimul/order-fulfillment/internal/order/repository"
	productdomain "github.com/hamimul/order-fulfillment/internal/product/domain"
	"github.com/hamimul/order-fulfillment/internal/taskqueue"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	queue   *taskqueue.CaptureQueue
	svc     domain.Service
	invSvc  inventorydomain.Service
	product snowflake.ID
}

func newFixture(t *testing.T, stock int64) *fixture {
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
		&domain.Order{},
		&domain.OrderItem{},
		&domain.OrderStatusHistory{},
		&domain.OrderBatch{},
		&domain.BatchOrder{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	queue := taskqueue.NewCaptureQueue()

	invSvc := inventoryservice.NewService(inventoryservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Repo:  inventoryrepo.Provide(),
	})

	svc := NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fc,
		Repo:      repository.Provide(),
		Inventory: invSvc,
		Queue:     queue,
	})

	f := &fixture{
		db:     db,
		node:   node,
		clock:  fc,
		queue:  queue,
		svc:    svc,
		invSvc: invSvc,
	}
	f.product = f.addProduct(t, "Widget", "WG-001", "10.00", stock)
	return f
}

func (f *fixture) addProduct(t *testing.T, name, sku, price string, stock int64) snowflake.ID {
	t.Helper()
	p, err := decimal.NewFromString(price)
	require.NoError(t, err)
	productID := f.node.Generate()
	require.NoError(t, f.db.Create(&productdomain.Product{
		ID: productID, Name: name, SKU: sku, Price: p, Active: true,
	}).Error)
	require.NoError(t, f.db.Create(&inventorydomain.InventoryItem{
		ID:               f.node.Generate(),
		ProductID:        productID,
		Quantity:         stock,
		MinimumThreshold: 10,
		MaximumCapacity:  100000,
	}).Error)
	return productID
}

func (f *fixture) inventoryFor(t *testing.T, productID snowflake.ID) inventorydomain.InventoryItem {
	t.Helper()
	var item inventorydomain.InventoryItem
	require.NoError(t, f.db.Where("product_id = ?", productID).First(&item).Error)
	return item
}

func (f *fixture) reload(t *testing.T, orderID uuid.UUID) domain.Order {
	t.Helper()
	var order domain.Order
	require.NoError(t, f.db.Where("id = ?", orderID).First(&order).Error)
	return order
}

func (f *fixture) createOrder(t *testing.T, qty int64) *domain.Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), domain.CreateOrderRequest{
		CustomerName: "Test Customer",
		Items:        []domain.LineItemRequest{{ProductID: f.product, Quantity: qty}},
	})
	require.NoError(t, err)
	return order
}

func TestCreate_ReservesStockAndEnqueues(t *testing.T) {
	f := newFixture(t, 100)
	second := f.addProduct(t, "Gadget", "GD-002", "2.50", 50)

	order, err := f.svc.Create(context.Background(), domain.CreateOrderRequest{
		CustomerName: "Alice",
		Items: []domain.LineItemRequest{
			{ProductID: f.product, Quantity: 3},
			{ProductID: second, Quantity: 4},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Equal(t, int64(1), order.Version)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("40.00")))

	assert.Equal(t, int64(3), f.inventoryFor(t, f.product).ReservedQuantity)
	assert.Equal(t, int64(4), f.inventoryFor(t, second).ReservedQuantity)

	var historyCount int64
	require.NoError(t, f.db.Model(&domain.OrderStatusHistory{}).
		Where("order_id = ?", order.ID).Count(&historyCount).Error)
	assert.Equal(t, int64(1), historyCount)

	tasks := f.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, taskqueue.KindLifecycle, tasks[0].Task.Kind)
	assert.Equal(t, order.ID, tasks[0].Task.OrderID)
}

func TestCreate_InsufficientStockRollsBackEverything(t *testing.T) {
	f := newFixture(t, 100)
	short := f.addProduct(t, "Scarce", "SC-003", "5.00", 2)

	_, err := f.svc.Create(context.Background(), domain.CreateOrderRequest{
		CustomerName: "Bob",
		Items: []domain.LineItemRequest{
			{ProductID: f.product, Quantity: 10},
			{ProductID: short, Quantity: 5},
		},
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, short, stockErr.ProductID)

	// The first line's reservation must have rolled back with the order.
	assert.Equal(t, int64(0), f.inventoryFor(t, f.product).ReservedQuantity)

	var orderCount int64
	require.NoError(t, f.db.Model(&domain.Order{}).Count(&orderCount).Error)
	assert.Equal(t, int64(0), orderCount)
	assert.Empty(t, f.queue.Tasks())
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, domain.CreateOrderRequest{CustomerName: "X"})
	assert.ErrorIs(t, err, domain.ErrEmptyOrder)

	_, err = f.svc.Create(ctx, domain.CreateOrderRequest{
		CustomerName: "  ",
		Items:        []domain.LineItemRequest{{ProductID: f.product, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCustomer)

	_, err = f.svc.Create(ctx, domain.CreateOrderRequest{
		CustomerName: "X",
		Items:        []domain.LineItemRequest{{ProductID: f.product, Quantity: 0}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.svc.Create(ctx, domain.CreateOrderRequest{
		CustomerName: "X",
		Items: []domain.LineItemRequest{
			{ProductID: f.product, Quantity: 1},
			{ProductID: f.product, Quantity: 2},
		},
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateLineItem)

	_, err = f.svc.Create(ctx, domain.CreateOrderRequest{
		CustomerName: "X",
		Items:        []domain.LineItemRequest{{ProductID: f.node.Generate(), Quantity: 1}},
	})
	assert.ErrorIs(t, err, productdomain.ErrNotFound)
}

func TestTransition_HappyPathFulfillsInventory(t *testing.T) {
	f := newFixture(t, 100)
	order := f.createOrder(t, 5)
	ctx := context.Background()

	for _, to := range []domain.Status{
		domain.StatusProcessing, domain.StatusShipped, domain.StatusDelivered,
	} {
		tr, err := f.svc.Transition(ctx, domain.TransitionRequest{OrderID: order.ID, ToStatus: to})
		require.NoError(t, err)
		assert.True(t, tr.Applied)
	}

	got := f.reload(t, order.ID)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	assert.Equal(t, int64(4), got.Version)
	assert.NotNil(t, got.ProcessingStartedAt)
	assert.NotNil(t, got.CompletedAt)

	item := f.inventoryFor(t, f.product)
	assert.Equal(t, int64(95), item.Quantity)
	assert.Equal(t, int64(0), item.ReservedQuantity)

	history, err := f.svc.ListHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	assert.Equal(t, domain.StatusShipped, history[3].FromStatus)
	assert.Equal(t, domain.StatusDelivered, history[3].ToStatus)
}

func TestTransition_SameStatusIsIdempotent(t *testing.T) {
	f := newFixture(t, 100)
	order := f.createOrder(t, 1)
	ctx := context.Background()

	tr, err := f.svc.Transition(ctx, domain.TransitionRequest{
		OrderID: order.ID, ToStatus: domain.StatusProcessing,
	})
	require.NoError(t, err)
	require.True(t, tr.Applied)

	tr, err = f.svc.Transition(ctx, domain.TransitionRequest{
		OrderID: order.ID, ToStatus: domain.StatusProcessing,
	})
	require.NoError(t, err)
	assert.False(t, tr.Applied)
	assert.Equal(t, int64(2), tr.Version)

	history, err := f.svc.ListHistory(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestTransition_RejectsIllegalEdges(t *testing.T) {
	f := newFixture(t, 100)
	order := f.createOrder(t, 1)
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, domain.TransitionRequest{
		OrderID: order.ID, ToStatus: domain.StatusDelivered,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Transition(ctx, domain.TransitionRequest{
		OrderID: order.ID, ToStatus: "bogus",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = f.svc.Cancel(ctx, order.ID, "test", "")
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, domain.TransitionRequest{
		OrderID: order.ID, ToStatus: domain.StatusProcessing,
	})
	assert.ErrorIs(t, err, domain.ErrTerminalOrder)
}

func TestTransition_VersionConflict(t *testing.T) {
	f := newFixture(t, 100)
	order := f.createOrder(t, 1)

	_, err := f.svc.Transition(context.Background(), domain.TransitionRequest{
		OrderID:         order.ID,
		ToStatus:        domain.StatusProcessing,
		ExpectedVersion: 7,
	})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestTransition_UnknownOrder(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.svc.Transition(context.Background(), domain.TransitionRequest{
		OrderID: uuid.New(), ToStatus: domain.StatusProcessing,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel_ReleasesReservation(t *testing.T) {
	f := newFixture(t, 100)
	order := f.createOrder(t, 8)

	tr, err := f.svc.Cancel(context.Background(), order.ID, "support", "customer request")
	require.NoError(t, err)
	assert.True(t, tr.Applied)

	got := f.reload(t, order.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	item := f.inventoryFor(t, f.product)
	assert.Equal(t, int64(100), item.Quantity)
	assert.Equal(t, int64(0), item.ReservedQuantity)
}

func TestFailAfterShipping_ReleasesReservation(t *testing.T) {
	f := newFixture(t, 100)
	order := f.createOrder(t, 5)
	ctx := context.Background()

	for _, to := range []domain.Status{domain.StatusProcessing, domain.StatusShipped} {
		_, err := f.svc.Transition(ctx, domain.TransitionRequest{OrderID: order.ID, ToStatus: to})
		require.NoError(t, err)
	}
	_, err := f.svc.Transition(ctx, domain.TransitionRequest{
		OrderID: order.ID, ToStatus: domain.StatusFailed, Notes: "lost in transit",
	})
	require.NoError(t, err)

	// Fulfillment only happens at delivery, so the open hold returns
	// to available stock.
	item := f.inventoryFor(t, f.product)
	assert.Equal(t, int64(100), item.Quantity)
	assert.Equal(t, int64(0), item.ReservedQuantity)
}

func TestConcurrentCreates_NeverOversell(t *testing.T) {
	f := newFixture(t, 10)

	const attempts = 10
	var wg sync.WaitGroup
	type result struct {
		err error
	}
	results := make(chan result, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), domain.CreateOrderRequest{
				CustomerName: "Load Test",
				Items:        []domain.LineItemRequest{{ProductID: f.product, Quantity: 2}},
			})
			results <- result{err: err}
		}()
	}
	wg.Wait()
	close(results)

	accepted, rejected := 0, 0
	for r := range results {
		if r.err == nil {
			accepted++
			continue
		}
		var stockErr *domain.InsufficientStockError
		require.ErrorAs(t, r.err, &stockErr)
		rejected++
	}
	assert.Equal(t, 5, accepted)
	assert.Equal(t, 5, rejected)
	item := f.inventoryFor(t, f.product)
	assert.Equal(t, int64(10), item.ReservedQuantity)
	assert.Equal(t, int64(0), item.AvailableQuantity())
}

func TestCreateBatch_PartialSuccess(t *testing.T) {
	f := newFixture(t, 5)

	result, err := f.svc.CreateBatch(context.Background(), domain.CreateBatchRequest{
		CreatedBy: "bulk_import",
		Orders: []domain.CreateOrderRequest{
			{CustomerName: "A", Items: []domain.LineItemRequest{{ProductID: f.product, Quantity: 3}}},
			{CustomerName: "B", Items: []domain.LineItemRequest{{ProductID: f.product, Quantity: 4}}},
			{CustomerName: "C", Items: []domain.LineItemRequest{{ProductID: f.product, Quantity: 2}}},
		},
	})
	require.NoError(t, err)

	assert.Len(t, result.Accepted, 2)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, 1, result.Rejected[0].Index)

	var links int64
	require.NoError(t, f.db.Model(&domain.BatchOrder{}).
		Where("batch_id = ?", result.BatchID).Count(&links).Error)
	assert.Equal(t, int64(2), links)

	var batch domain.OrderBatch
	require.NoError(t, f.db.Where("id = ?", result.BatchID).First(&batch).Error)
	assert.Equal(t, 3, batch.TotalOrders)
	assert.Equal(t, 2, batch.SuccessfulOrders)
	assert.Equal(t, 1, batch.FailedOrders)
	assert.Equal(t, domain.BatchCompleted, batch.Status)
}

func TestCreateBatch_AllRejectedMarksBatchFailed(t *testing.T) {
	f := newFixture(t, 1)

	result, err := f.svc.CreateBatch(context.Background(), domain.CreateBatchRequest{
		Orders: []domain.CreateOrderRequest{
			{CustomerName: "A", Items: []domain.LineItemRequest{{ProductID: f.product, Quantity: 5}}},
			{CustomerName: "B", Items: []domain.LineItemRequest{{ProductID: f.product, Quantity: 5}}},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	assert.Len(t, result.Rejected, 2)

	var batch domain.OrderBatch
	require.NoError(t, f.db.Where("id = ?", result.BatchID).First(&batch).Error)
	assert.Equal(t, 0, batch.SuccessfulOrders)
	assert.Equal(t, 2, batch.FailedOrders)
	assert.Equal(t, domain.BatchFailed, batch.Status)
}

func TestListStale_UsesThresholds(t *testing.T) {
	f := newFixture(t, 100)
	order := f.createOrder(t, 1)
	ctx := context.Background()

	stale, err := f.svc.ListStale(ctx, f.clock.Now(), 5*time.Minute, 10*time.Minute, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	f.clock.Advance(6 * time.Minute)
	stale, err = f.svc.ListStale(ctx, f.clock.Now(), 5*time.Minute, 10*time.Minute, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, order.ID, stale[0].ID)
}

func TestTransition_ProcessingStartKeepsFirstValue(t *testing.T) {
	f := newFixture(t, 100)
	order := f.createOrder(t, 5)
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, domain.TransitionRequest{
		OrderID: order.ID, ToStatus: domain.StatusProcessing,
	})
	require.NoError(t, err)
	firstStart := f.reload(t, order.ID).ProcessingStartedAt
	require.NotNil(t, firstStart)

	// The stale retry edge sends the order back through pending and
	// into processing a second time, later.
	f.clock.Advance(11 * time.Minute)
	_, err = f.svc.Transition(ctx, domain.TransitionRequest{
		OrderID: order.ID, ToStatus: domain.StatusPending,
	})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, domain.TransitionRequest{
		OrderID: order.ID, ToStatus: domain.StatusProcessing,
	})
	require.NoError(t, err)

	got := f.reload(t, order.ID)
	require.NotNil(t, got.ProcessingStartedAt)
	assert.WithinDuration(t, *firstStart, *got.ProcessingStartedAt, time.Second)
}

func TestCreate_CapturesIntakeFields(t *testing.T) {
	f := newFixture(t, 100)

	order, err := f.svc.Create(context.Background(), domain.CreateOrderRequest{
		CustomerName:    "Alice",
		CustomerEmail:   "alice@example.com",
		Priority:        domain.PriorityHigh,
		ShippingAddress: "1 Main St",
		BillingAddress:  "2 Side St",
		PaymentMethod:   "credit_card",
		Items:           []domain.LineItemRequest{{ProductID: f.product, Quantity: 1}},
	})
	require.NoError(t, err)

	got := f.reload(t, order.ID)
	assert.Equal(t, "alice@example.com", got.CustomerEmail)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	assert.Equal(t, "1 Main St", got.ShippingAddress)
	assert.Equal(t, "2 Side St", got.BillingAddress)
	assert.Equal(t, "credit_card", got.PaymentMethod)
	assert.Empty(t, got.TrackingNumber)

	order, err = f.svc.Create(context.Background(), domain.CreateOrderRequest{
		CustomerName: "Bob",
		Items:        []domain.LineItemRequest{{ProductID: f.product, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, f.reload(t, order.ID).Priority)

	_, err = f.svc.Create(context.Background(), domain.CreateOrderRequest{
		CustomerName: "Carol",
		Priority:     "urgent",
		Items:        []domain.LineItemRequest{{ProductID: f.product, Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPriority)
}
