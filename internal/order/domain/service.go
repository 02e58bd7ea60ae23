package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("order_not_found")
	ErrInvalidCustomer    = errors.New("invalid_customer_name")
	ErrEmptyOrder         = errors.New("order_has_no_items")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrTerminalOrder      = errors.New("order_in_terminal_status")
	ErrVersionConflict    = errors.New("order_version_conflict")
	ErrDuplicateLineItem  = errors.New("duplicate_line_item")
	ErrInvalidPriority    = errors.New("invalid_priority")
	ErrBatchLimitExceeded = errors.New("batch_limit_exceeded")
)

// InsufficientStockError identifies which product could not be reserved.
type InsufficientStockError struct {
	ProductID snowflake.ID
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient_stock: product=%d requested=%d", e.ProductID, e.Requested)
}

type LineItemRequest struct {
	ProductID snowflake.ID
	Quantity  int64
}

// CreateOrderRequest captures everything known about the order at
// intake. Priority defaults to normal when empty.
type CreateOrderRequest struct {
	CustomerName    string
	CustomerEmail   string
	Priority        Priority
	ShippingAddress string
	BillingAddress  string
	PaymentMethod   string
	Metadata        map[string]interface{}
	Items           []LineItemRequest
}

type CreateBatchRequest struct {
	CreatedBy string
	Orders    []CreateOrderRequest
}

// BatchResult summarizes a bulk create. Rejected orders carry the error
// that blocked them; accepted orders were committed and enqueued.
type BatchResult struct {
	BatchID  uuid.UUID
	Accepted []uuid.UUID
	Rejected []BatchRejection
}

type BatchRejection struct {
	Index  int
	Reason error
}

type TransitionRequest struct {
	OrderID         uuid.UUID
	ToStatus        Status
	ExpectedVersion int64
	ChangedBy       string
	Notes           string
}

// TransitionResult reports the outcome of a transition attempt.
// Applied is false when the order was already in the target status.
type TransitionResult struct {
	Applied    bool
	FromStatus Status
	ToStatus   Status
	Version    int64
}

type StatusCount struct {
	Status Status `json:"status"`
	Count  int64  `json:"count"`
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (*Order, error)
	CreateBatch(ctx context.Context, req CreateBatchRequest) (*BatchResult, error)

	// Transition moves the order along a legal state-machine edge,
	// applying inventory side effects in the same database transaction.
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)
	Cancel(ctx context.Context, orderID uuid.UUID, changedBy, notes string) (*TransitionResult, error)

	GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Order, error)
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]OrderStatusHistory, error)
	CountByStatus(ctx context.Context) ([]StatusCount, error)

	// ListStale returns non-terminal orders whose current status has
	// exceeded the given thresholds as of now.
	ListStale(ctx context.Context, now time.Time, pending, processing, shipped time.Duration, limit int) ([]Order, error)
}
