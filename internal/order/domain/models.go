package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// transitions holds the allowed edges of the order state machine.
// Terminal states have no outgoing edges. processing -> pending is the
// reconciler's retry path for orders whose worker died mid-flight.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusPending, StatusShipped, StatusCancelled, StatusFailed},
	StatusShipped:    {StatusDelivered, StatusFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether orders in this status never move again.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Priority orders the fulfillment backlog; it does not affect the
// state machine.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

type Order struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerName        string            `gorm:"size:255;not null" json:"customer_name"`
	CustomerEmail       string            `gorm:"size:255;index" json:"customer_email"`
	Status              Status            `gorm:"size:20;not null;index" json:"status"`
	Version             int64             `gorm:"not null;default:1" json:"version"`
	Priority            Priority          `gorm:"size:10;not null;default:normal" json:"priority"`
	TotalAmount         decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"total_amount"`
	Metadata            datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	ShippingAddress     string            `gorm:"type:text" json:"shipping_address,omitempty"`
	BillingAddress      string            `gorm:"type:text" json:"billing_address,omitempty"`
	PaymentMethod       string            `gorm:"size:50" json:"payment_method,omitempty"`
	TrackingNumber      string            `gorm:"size:100" json:"tracking_number,omitempty"`
	CurrentStateSince   time.Time         `gorm:"not null;index" json:"current_state_since"`
	ProcessingStartedAt *time.Time        `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	CreatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

func (Order) TableName() string { return "orders" }

// StaleAfter returns how long an order may sit in its current status
// before the reconciler treats it as stuck. Zero means never stale.
func (o *Order) StaleAfter(pending, processing, shipped time.Duration) time.Duration {
	switch o.Status {
	case StatusPending:
		return pending
	case StatusProcessing:
		return processing
	case StatusShipped:
		return shipped
	}
	return 0
}

// IsStale reports whether the order has exceeded its staleness threshold
// as of now.
func (o *Order) IsStale(now time.Time, pending, processing, shipped time.Duration) bool {
	after := o.StaleAfter(pending, processing, shipped)
	if after <= 0 {
		return false
	}
	return now.Sub(o.CurrentStateSince) >= after
}

type OrderItem struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_order_product" json:"order_id"`
	ProductID snowflake.ID    `gorm:"not null;uniqueIndex:idx_order_product" json:"product_id"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (OrderItem) TableName() string { return "order_items" }

// OrderStatusHistory is the append-only audit trail of status changes.
type OrderStatusHistory struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID      uuid.UUID    `gorm:"type:uuid;not null;index" json:"order_id"`
	FromStatus   Status       `gorm:"size:20;not null" json:"from_status"`
	ToStatus     Status       `gorm:"size:20;not null" json:"to_status"`
	Version      int64        `gorm:"not null" json:"version"`
	ChangedBy    string       `gorm:"size:100" json:"changed_by"`
	Notes        string       `gorm:"size:500" json:"notes,omitempty"`
	TransitionAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"transition_at"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }

// BatchStatus is the aggregate outcome of a bulk create: failed when no
// order was accepted, completed otherwise; the counters carry the split.
type BatchStatus string

const (
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// OrderBatch groups orders created in one bulk request.
type OrderBatch struct {
	ID               uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	TotalOrders      int         `gorm:"not null" json:"total_orders"`
	SuccessfulOrders int         `gorm:"not null;default:0" json:"successful_orders"`
	FailedOrders     int         `gorm:"not null;default:0" json:"failed_orders"`
	Status           BatchStatus `gorm:"size:20;not null;default:processing" json:"status"`
	CreatedBy        string      `gorm:"size:100" json:"created_by"`
	CreatedAt        time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (OrderBatch) TableName() string { return "order_batches" }

// BatchOrder links an order to the batch that created it.
type BatchOrder struct {
	BatchID uuid.UUID `gorm:"type:uuid;primaryKey" json:"batch_id"`
	OrderID uuid.UUID `gorm:"type:uuid;primaryKey" json:"order_id"`
}

func (BatchOrder) TableName() string { return "order_batch_orders" }
