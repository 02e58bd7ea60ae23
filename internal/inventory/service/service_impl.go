package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/hamimul/order-fulfillment/internal/clock"
	"github.com/hamimul/order-fulfillment/internal/inventory/domain"
	obsmetrics "github.com/hamimul/order-fulfillment/internal/observability/metrics"
	"github.com/hamimul/order-fulfillment/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("inventory.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// CreateItem implements domain.Service.
func (s *Service) CreateItem(ctx context.Context, productID snowflake.ID, minimumThreshold, maximumCapacity int64) (*domain.InventoryItem, error) {
	if minimumThreshold < 0 || maximumCapacity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}
	item := &domain.InventoryItem{
		ID:               s.genID.Generate(),
		ProductID:        productID,
		MinimumThreshold: minimumThreshold,
		MaximumCapacity:  maximumCapacity,
		CreatedAt:        s.clock.Now(),
		UpdatedAt:        s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Reserve implements domain.Service.
func (s *Service) Reserve(ctx context.Context, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error) {
	ok, err := s.mutate(ctx, productID, qty, orderID, domain.TransactionReserve)
	s.observe("reserve", ok, err)
	return ok, err
}

// Release implements domain.Service.
func (s *Service) Release(ctx context.Context, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error) {
	ok, err := s.mutate(ctx, productID, qty, orderID, domain.TransactionRelease)
	s.observe("release", ok, err)
	return ok, err
}

// Fulfill implements domain.Service.
func (s *Service) Fulfill(ctx context.Context, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error) {
	ok, err := s.mutate(ctx, productID, qty, orderID, domain.TransactionFulfill)
	s.observe("fulfill", ok, err)
	return ok, err
}

// ReserveTx implements domain.Service.
func (s *Service) ReserveTx(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error) {
	ok, err := s.apply(ctx, tx, productID, qty, orderID, domain.TransactionReserve)
	s.observe("reserve", ok, err)
	return ok, err
}

// ReleaseTx implements domain.Service.
func (s *Service) ReleaseTx(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error) {
	ok, err := s.apply(ctx, tx, productID, qty, orderID, domain.TransactionRelease)
	s.observe("release", ok, err)
	return ok, err
}

// FulfillTx implements domain.Service.
func (s *Service) FulfillTx(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64, orderID *uuid.UUID) (bool, error) {
	ok, err := s.apply(ctx, tx, productID, qty, orderID, domain.TransactionFulfill)
	s.observe("fulfill", ok, err)
	return ok, err
}

// mutate wraps one ledger operation in its own transaction.
func (s *Service) mutate(ctx context.Context, productID snowflake.ID, qty int64, orderID *uuid.UUID, op domain.TransactionType) (bool, error) {
	var ok bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		ok, err = s.apply(ctx, tx, productID, qty, orderID, op)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// apply runs one ledger operation inside tx: lock the row, check the
// precondition against the locked counters, update the counters and
// append the audit entry. The caller owns commit and rollback.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, productID snowflake.ID, qty int64, orderID *uuid.UUID, op domain.TransactionType) (bool, error) {
	if qty < 0 {
		return false, domain.ErrInvalidQuantity
	}
	if qty == 0 {
		// No mutation, no audit row.
		return true, nil
	}

	item, err := s.repo.FindByProductIDForUpdate(ctx, tx, productID)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, domain.ErrNotFound
	}

	prevQuantity := item.Quantity
	prevReserved := item.ReservedQuantity

	switch op {
	case domain.TransactionReserve:
		if !item.CanReserve(qty) {
			return false, nil
		}
		item.ReservedQuantity += qty
	case domain.TransactionRelease:
		if item.ReservedQuantity < qty {
			return false, nil
		}
		item.ReservedQuantity -= qty
	case domain.TransactionFulfill:
		if item.ReservedQuantity < qty {
			return false, nil
		}
		item.Quantity -= qty
		item.ReservedQuantity -= qty
	default:
		return false, fmt.Errorf("unsupported ledger operation %q", op)
	}

	if item.ReservedQuantity > item.Quantity || item.Quantity < 0 || item.ReservedQuantity < 0 {
		// Locking discipline bug, not a business condition.
		s.log.Error("ledger invariant violated",
			zap.Int64("product_id", int64(productID)),
			zap.String("operation", string(op)),
			zap.Int64("quantity", item.Quantity),
			zap.Int64("reserved", item.ReservedQuantity),
		)
		return false, domain.ErrInvariantViolation
	}

	if err := s.repo.UpdateCounters(ctx, tx, item); err != nil {
		return false, err
	}

	notes := fmt.Sprintf("%s %d units", describeOp(op), qty)
	entry := &domain.InventoryTransaction{
		ID:               s.genID.Generate(),
		TransactionID:    uuid.New(),
		InventoryItemID:  item.ID,
		Type:             op,
		Quantity:         qty,
		PreviousQuantity: prevQuantity,
		NewQuantity:      item.Quantity,
		PreviousReserved: prevReserved,
		NewReserved:      item.ReservedQuantity,
		OrderID:          orderID,
		Notes:            notes,
		ProcessedBy:      "system",
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.InsertTransaction(ctx, tx, entry); err != nil {
		return false, err
	}

	if op == domain.TransactionReserve && item.IsLowStock() {
		s.log.Warn("stock at or below reorder threshold",
			zap.Int64("product_id", int64(productID)),
			zap.Int64("available", item.AvailableQuantity()),
			zap.Int64("threshold", item.MinimumThreshold),
		)
	}

	return true, nil
}

// Adjust implements domain.Service.
func (s *Service) Adjust(ctx context.Context, req domain.AdjustRequest) (*domain.InventoryTransaction, error) {
	processedBy := req.ProcessedBy
	if processedBy == "" {
		processedBy = "system"
	}

	var entry *domain.InventoryTransaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByProductIDForUpdate(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}

		prevQuantity := item.Quantity
		prevReserved := item.ReservedQuantity

		var newQuantity int64
		var txType domain.TransactionType
		switch req.Mode {
		case domain.AdjustModeSet:
			newQuantity = req.Quantity
			txType = domain.TransactionAdjust
		case domain.AdjustModeDelta:
			newQuantity = item.Quantity + req.Quantity
			if req.Quantity >= 0 {
				txType = domain.TransactionReceive
			} else {
				txType = domain.TransactionDamage
			}
		default:
			return domain.ErrInvalidAdjustMode
		}

		if newQuantity < 0 {
			return domain.ErrInvalidQuantity
		}
		if newQuantity > item.MaximumCapacity {
			return domain.ErrCapacityExceeded
		}
		if newQuantity < item.ReservedQuantity {
			// Adjustments never touch reserved stock, so shrinking
			// below current holds would break the ledger invariant.
			return domain.ErrReservedConflict
		}

		delta := newQuantity - item.Quantity
		item.Quantity = newQuantity
		if err := s.repo.UpdateCounters(ctx, tx, item); err != nil {
			return err
		}

		quantity := delta
		if quantity < 0 {
			quantity = -quantity
		}
		entry = &domain.InventoryTransaction{
			ID:               s.genID.Generate(),
			TransactionID:    uuid.New(),
			InventoryItemID:  item.ID,
			Type:             txType,
			Quantity:         quantity,
			PreviousQuantity: prevQuantity,
			NewQuantity:      item.Quantity,
			PreviousReserved: prevReserved,
			NewReserved:      item.ReservedQuantity,
			ReferenceNumber:  req.ReferenceNumber,
			Notes:            req.Notes,
			ProcessedBy:      processedBy,
			CreatedAt:        s.clock.Now(),
		}
		return s.repo.InsertTransaction(ctx, tx, entry)
	})
	if err != nil {
		s.observe("adjust", false, err)
		return nil, err
	}
	s.observe("adjust", true, nil)
	return entry, nil
}

// GetByProductID implements domain.Service.
func (s *Service) GetByProductID(ctx context.Context, productID snowflake.ID) (*domain.InventoryItem, error) {
	item, err := s.repo.FindByProductID(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

// ListTransactions implements domain.Service.
func (s *Service) ListTransactions(ctx context.Context, productID snowflake.ID, page pagination.Pagination) ([]*domain.InventoryTransaction, *pagination.PageInfo, error) {
	item, err := s.repo.FindByProductID(ctx, s.db, productID)
	if err != nil {
		return nil, nil, err
	}
	if item == nil {
		return nil, nil, domain.ErrNotFound
	}

	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, nil, err
	}
	var before snowflake.ID
	if cursor != nil {
		before = snowflake.ID(cursor.LastID)
	}

	limit := page.Limit()
	entries, err := s.repo.ListTransactions(ctx, s.db, item.ID, before, limit+1)
	if err != nil {
		return nil, nil, err
	}
	entries, info := pagination.BuildPage(entries, limit, func(e *domain.InventoryTransaction) int64 {
		return int64(e.ID)
	})
	return entries, info, nil
}

// ListLowStock implements domain.Service.
func (s *Service) ListLowStock(ctx context.Context) ([]*domain.InventoryItem, error) {
	return s.repo.ListLowStock(ctx, s.db)
}

// CountLowStock implements domain.Service.
func (s *Service) CountLowStock(ctx context.Context) (int64, error) {
	return s.repo.CountLowStock(ctx, s.db)
}

func (s *Service) observe(operation string, ok bool, err error) {
	m := obsmetrics.Fulfillment()
	switch {
	case err == nil && ok:
		m.IncLedgerOp(operation, obsmetrics.ReserveOutcomeOK)
	case err == nil:
		m.IncLedgerOp(operation, obsmetrics.ReserveOutcomeInsufficient)
	case errors.Is(err, domain.ErrNotFound):
		m.IncLedgerOp(operation, obsmetrics.ReserveOutcomeNotFound)
	default:
		m.IncLedgerOp(operation, obsmetrics.ReserveOutcomeError)
	}
}

func describeOp(op domain.TransactionType) string {
	switch op {
	case domain.TransactionReserve:
		return "Reserved"
	case domain.TransactionRelease:
		return "Released"
	case domain.TransactionFulfill:
		return "Fulfilled"
	default:
		return string(op)
	}
}
