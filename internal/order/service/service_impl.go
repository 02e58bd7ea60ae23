package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/hamimul/order-fulfillment/internal/clock"
	inventorydomain "github.com/hamimul/order-fulfillment/internal/inventory/domain"
	obsmetrics "github.com/hamimul/order-fulfillment/internal/observability/metrics"
	"github.com/hamimul/order-fulfillment/internal/order/domain"
	productdomain "github.com/hamimul/order-fulfillment/internal/product/domain"
	"github.com/hamimul/order-fulfillment/internal/taskqueue"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxBatchSize = 100

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	inventory inventorydomain.Service
	queue     taskqueue.Queue
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Inventory inventorydomain.Service
	Queue     taskqueue.Queue
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("order.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		inventory: p.Inventory,
		queue:     p.Queue,
	}
}

// Create implements domain.Service. The order row, its items, the stock
// reservations and the first history entry commit together; any failed
// reservation rolls back the whole order.
func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	if err := validateCreate(req); err != nil {
		obsmetrics.Fulfillment().IncOrderRejected()
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	now := s.clock.Now()
	order := &domain.Order{
		ID:                uuid.New(),
		CustomerName:      strings.TrimSpace(req.CustomerName),
		CustomerEmail:     strings.TrimSpace(req.CustomerEmail),
		Status:            domain.StatusPending,
		Version:           1,
		Priority:          priority,
		TotalAmount:       decimal.Zero,
		Metadata:          req.Metadata,
		ShippingAddress:   req.ShippingAddress,
		BillingAddress:    req.BillingAddress,
		PaymentMethod:     req.PaymentMethod,
		CurrentStateSince: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		items := make([]domain.OrderItem, 0, len(req.Items))
		total := decimal.Zero
		for _, line := range req.Items {
			var product productdomain.Product
			err := tx.WithContext(ctx).Where("id = ?", line.ProductID).First(&product).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return productdomain.ErrNotFound
				}
				return err
			}

			ok, err := s.inventory.ReserveTx(ctx, tx, line.ProductID, line.Quantity, &order.ID)
			if err != nil {
				return err
			}
			if !ok {
				return &domain.InsufficientStockError{ProductID: line.ProductID, Requested: line.Quantity}
			}

			items = append(items, domain.OrderItem{
				ID:        s.genID.Generate(),
				OrderID:   order.ID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Price:     product.Price,
				CreatedAt: now,
			})
			total = total.Add(product.Price.Mul(decimal.NewFromInt(line.Quantity)))
		}

		order.TotalAmount = total
		if err := s.repo.InsertOrder(ctx, tx, order); err != nil {
			return err
		}
		if err := s.repo.InsertItems(ctx, tx, items); err != nil {
			return err
		}
		order.Items = items
		return s.repo.InsertHistory(ctx, tx, &domain.OrderStatusHistory{
			ID:           s.genID.Generate(),
			OrderID:      order.ID,
			FromStatus:   domain.StatusPending,
			ToStatus:     domain.StatusPending,
			Version:      1,
			ChangedBy:    "system",
			Notes:        "order created",
			TransitionAt: now,
		})
	})
	if err != nil {
		obsmetrics.Fulfillment().IncOrderRejected()
		return nil, err
	}

	obsmetrics.Fulfillment().IncOrderCreated()
	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.TotalAmount.String()),
	)

	// The order is durable at this point. If the enqueue fails, the
	// stale-order sweep requeues it once it passes the pending
	// threshold.
	task := taskqueue.NewLifecycleTask(order.ID, 0, now)
	if err := s.queue.Enqueue(ctx, task, 0); err != nil {
		s.log.Warn("lifecycle enqueue failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
	return order, nil
}

// CreateBatch implements domain.Service. Each order is its own unit of
// work, so one rejected order never blocks its siblings.
func (s *Service) CreateBatch(ctx context.Context, req domain.CreateBatchRequest) (*domain.BatchResult, error) {
	if len(req.Orders) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	if len(req.Orders) > maxBatchSize {
		return nil, domain.ErrBatchLimitExceeded
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}
	now := s.clock.Now()
	batch := &domain.OrderBatch{
		ID:          uuid.New(),
		TotalOrders: len(req.Orders),
		Status:      domain.BatchProcessing,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertBatch(ctx, s.db, batch); err != nil {
		return nil, err
	}

	result := &domain.BatchResult{BatchID: batch.ID}
	for i, orderReq := range req.Orders {
		order, err := s.Create(ctx, orderReq)
		if err != nil {
			result.Rejected = append(result.Rejected, domain.BatchRejection{Index: i, Reason: err})
			continue
		}
		if err := s.repo.InsertBatchOrder(ctx, s.db, &domain.BatchOrder{BatchID: batch.ID, OrderID: order.ID}); err != nil {
			s.log.Error("batch link insert failed",
				zap.String("batch_id", batch.ID.String()),
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
		}
		result.Accepted = append(result.Accepted, order.ID)
	}

	status := domain.BatchCompleted
	if len(result.Accepted) == 0 {
		status = domain.BatchFailed
	}
	if err := s.repo.FinalizeBatch(ctx, s.db, batch.ID, len(result.Accepted), len(result.Rejected), status, s.clock.Now()); err != nil {
		s.log.Error("batch finalize failed",
			zap.String("batch_id", batch.ID.String()),
			zap.Error(err),
		)
	}

	s.log.Info("batch created",
		zap.String("batch_id", batch.ID.String()),
		zap.String("status", string(status)),
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

// Transition implements domain.Service. The status flip, the version
// bump, the history entry and the inventory side effects are one
// database transaction.
func (s *Service) Transition(ctx context.Context, req domain.TransitionRequest) (*domain.TransitionResult, error) {
	if !req.ToStatus.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	var result *domain.TransitionResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByIDForUpdate(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrNotFound
		}
		if req.ExpectedVersion > 0 && req.ExpectedVersion != order.Version {
			return domain.ErrVersionConflict
		}

		if order.Status == req.ToStatus {
			// Duplicate delivery of the same transition. Not an error.
			result = &domain.TransitionResult{
				Applied:    false,
				FromStatus: order.Status,
				ToStatus:   order.Status,
				Version:    order.Version,
			}
			return nil
		}
		if order.Status.IsTerminal() {
			return domain.ErrTerminalOrder
		}
		if !domain.CanTransition(order.Status, req.ToStatus) {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now()
		update := domain.StatusUpdate{ToStatus: req.ToStatus, Now: now}
		switch req.ToStatus {
		case domain.StatusProcessing:
			// First entry only; a retried order keeps its original
			// processing start.
			if order.ProcessingStartedAt == nil {
				update.ProcessingStartedAt = &now
			}
		case domain.StatusDelivered:
			update.CompletedAt = &now
			if err := s.applyInventory(ctx, tx, order, fulfillEffect); err != nil {
				return err
			}
		case domain.StatusCancelled, domain.StatusFailed:
			update.CompletedAt = &now
			// Every reservation ends in exactly one fulfill (delivery)
			// or one release (cancellation or failure).
			if err := s.applyInventory(ctx, tx, order, releaseEffect); err != nil {
				return err
			}
		}

		updated, err := s.repo.UpdateStatus(ctx, tx, order.ID, order.Version, update)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrVersionConflict
		}

		if err := s.repo.InsertHistory(ctx, tx, &domain.OrderStatusHistory{
			ID:           s.genID.Generate(),
			OrderID:      order.ID,
			FromStatus:   order.Status,
			ToStatus:     req.ToStatus,
			Version:      order.Version + 1,
			ChangedBy:    changedByOrSystem(req.ChangedBy),
			Notes:        req.Notes,
			TransitionAt: now,
		}); err != nil {
			return err
		}

		result = &domain.TransitionResult{
			Applied:    true,
			FromStatus: order.Status,
			ToStatus:   req.ToStatus,
			Version:    order.Version + 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Applied {
		obsmetrics.Fulfillment().IncTransition(string(result.FromStatus), string(result.ToStatus))
		s.log.Info("order transitioned",
			zap.String("order_id", req.OrderID.String()),
			zap.String("from", string(result.FromStatus)),
			zap.String("to", string(result.ToStatus)),
			zap.Int64("version", result.Version),
		)
	}
	return result, nil
}

// Cancel implements domain.Service.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, changedBy, notes string) (*domain.TransitionResult, error) {
	return s.Transition(ctx, domain.TransitionRequest{
		OrderID:   orderID,
		ToStatus:  domain.StatusCancelled,
		ChangedBy: changedBy,
		Notes:     notes,
	})
}

type inventoryEffect int

const (
	releaseEffect inventoryEffect = iota
	fulfillEffect
)

// applyInventory runs the stock side effect of a transition over every
// line item inside the caller's transaction.
func (s *Service) applyInventory(ctx context.Context, tx *gorm.DB, order *domain.Order, effect inventoryEffect) error {
	items, err := s.repo.FindItems(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		var ok bool
		switch effect {
		case releaseEffect:
			ok, err = s.inventory.ReleaseTx(ctx, tx, item.ProductID, item.Quantity, &order.ID)
		case fulfillEffect:
			ok, err = s.inventory.FulfillTx(ctx, tx, item.ProductID, item.Quantity, &order.ID)
		}
		if err != nil {
			return err
		}
		if !ok {
			// The reservation made at creation should still cover this
			// line; anything else is a ledger inconsistency.
			return fmt.Errorf("stock effect failed: order=%s product=%d qty=%d",
				order.ID, item.ProductID, item.Quantity)
		}
	}
	return nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	items, err := s.repo.FindItems(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

// ListByStatus implements domain.Service.
func (s *Service) ListByStatus(ctx context.Context, status domain.Status, limit, offset int) ([]domain.Order, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	return s.repo.ListByStatus(ctx, s.db, status, limit, offset)
}

// ListHistory implements domain.Service.
func (s *Service) ListHistory(ctx context.Context, orderID uuid.UUID) ([]domain.OrderStatusHistory, error) {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return s.repo.FindHistory(ctx, s.db, orderID)
}

// CountByStatus implements domain.Service.
func (s *Service) CountByStatus(ctx context.Context) ([]domain.StatusCount, error) {
	return s.repo.CountByStatus(ctx, s.db)
}

// ListStale implements domain.Service.
func (s *Service) ListStale(ctx context.Context, now time.Time, pending, processing, shipped time.Duration, limit int) ([]domain.Order, error) {
	return s.repo.ListStale(ctx, s.db, now, pending, processing, shipped, limit)
}

func validateCreate(req domain.CreateOrderRequest) error {
	if strings.TrimSpace(req.CustomerName) == "" {
		return domain.ErrInvalidCustomer
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return domain.ErrInvalidPriority
	}
	if len(req.Items) == 0 {
		return domain.ErrEmptyOrder
	}
	seen := make(map[snowflake.ID]struct{}, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return domain.ErrInvalidQuantity
		}
		if _, dup := seen[line.ProductID]; dup {
			return domain.ErrDuplicateLineItem
		}
		seen[line.ProductID] = struct{}{}
	}
	return nil
}

func changedByOrSystem(changedBy string) string {
	if changedBy == "" {
		return "system"
	}
	return changedBy
}
