package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// TransactionType classifies an inventory ledger entry.
type TransactionType string

const (
	TransactionReserve TransactionType = "RESERVE"
	TransactionRelease TransactionType = "RELEASE"
	TransactionFulfill TransactionType = "FULFILL"
	TransactionAdjust  TransactionType = "ADJUST"
	TransactionReceive TransactionType = "RECEIVE"
	TransactionDamage  TransactionType = "DAMAGE"
)

// InventoryItem tracks owned and reserved stock for one product.
// Counters are mutated only through the ledger service; every committed
// mutation writes exactly one InventoryTransaction in the same
// database transaction.
type InventoryItem struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	ProductID        snowflake.ID `gorm:"not null;uniqueIndex" json:"product_id"`
	Quantity         int64        `gorm:"not null;default:0" json:"quantity"`
	ReservedQuantity int64        `gorm:"not null;default:0" json:"reserved_quantity"`
	MinimumThreshold int64        `gorm:"not null;default:10" json:"minimum_threshold"`
	MaximumCapacity  int64        `gorm:"not null;default:1000" json:"maximum_capacity"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (InventoryItem) TableName() string { return "inventory_items" }

// AvailableQuantity is owned stock minus holds for open orders.
func (i *InventoryItem) AvailableQuantity() int64 {
	if avail := i.Quantity - i.ReservedQuantity; avail > 0 {
		return avail
	}
	return 0
}

// IsLowStock reports whether available stock has dropped to or below the
// reorder threshold.
func (i *InventoryItem) IsLowStock() bool {
	return i.AvailableQuantity() <= i.MinimumThreshold
}

// CanReserve reports whether a hold of the given size would succeed.
func (i *InventoryItem) CanReserve(qty int64) bool {
	return i.AvailableQuantity() >= qty
}

// InventoryTransaction is an immutable audit record of one ledger
// mutation, capturing the counter snapshots before and after.
type InventoryTransaction struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	TransactionID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"transaction_id"`
	InventoryItemID  snowflake.ID    `gorm:"not null;index" json:"inventory_item_id"`
	Type             TransactionType `gorm:"size:10;not null;index" json:"type"`
	Quantity         int64           `gorm:"not null" json:"quantity"`
	PreviousQuantity int64           `gorm:"not null" json:"previous_quantity"`
	NewQuantity      int64           `gorm:"not null" json:"new_quantity"`
	PreviousReserved int64           `gorm:"not null;default:0" json:"previous_reserved"`
	NewReserved      int64           `gorm:"not null;default:0" json:"new_reserved"`
	OrderID          *uuid.UUID      `gorm:"type:uuid;index" json:"order_id,omitempty"`
	ReferenceNumber  string          `gorm:"size:100" json:"reference_number,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	ProcessedBy      string          `gorm:"size:100;not null;default:system" json:"processed_by"`
	CreatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (InventoryTransaction) TableName() string { return "inventory_transactions" }

// AdjustMode selects how Adjust interprets its quantity.
type AdjustMode string

const (
	// AdjustModeSet overwrites the owned quantity.
	AdjustModeSet AdjustMode = "set"
	// AdjustModeDelta applies a signed change to the owned quantity.
	AdjustModeDelta AdjustMode = "delta"
)

// AdjustRequest is the administrative stock correction. It never touches
// reserved_quantity.
type AdjustRequest struct {
	ProductID       snowflake.ID
	Mode            AdjustMode
	Quantity        int64
	ReferenceNumber string
	Notes           string
	ProcessedBy     string
}
