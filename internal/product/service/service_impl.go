package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/hamimul/order-fulfillment/internal/clock"
	inventorydomain "github.com/hamimul/order-fulfillment/internal/inventory/domain"
	"github.com/hamimul/order-fulfillment/internal/product/domain"
	"github.com/hamimul/order-fulfillment/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMinimumThreshold = 10
	defaultMaximumCapacity  = 1000
)

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	inventoryRepo inventorydomain.Repository
}

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	InventoryRepo inventorydomain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("product.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		inventoryRepo: p.InventoryRepo,
	}
}

// Create implements domain.Service. The product row and its zero-counter
// inventory row commit together.
func (s *Service) Create(ctx context.Context, req domain.CreateProductRequest) (*domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	sku := strings.TrimSpace(req.SKU)
	if sku == "" {
		return nil, domain.ErrInvalidSKU
	}
	if req.Price.IsNegative() {
		return nil, domain.ErrInvalidPrice
	}

	minimumThreshold := req.MinimumThreshold
	if minimumThreshold <= 0 {
		minimumThreshold = defaultMinimumThreshold
	}
	maximumCapacity := req.MaximumCapacity
	if maximumCapacity <= 0 {
		maximumCapacity = defaultMaximumCapacity
	}

	now := s.clock.Now()
	product := &domain.Product{
		ID:        s.genID.Generate(),
		Name:      name,
		SKU:       sku,
		Price:     req.Price,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(product).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateSKU
			}
			return err
		}
		item := &inventorydomain.InventoryItem{
			ID:               s.genID.Generate(),
			ProductID:        product.ID,
			MinimumThreshold: minimumThreshold,
			MaximumCapacity:  maximumCapacity,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return s.inventoryRepo.Insert(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("product created",
		zap.Int64("product_id", int64(product.ID)),
		zap.String("sku", product.SKU),
	)
	return product, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Product, error) {
	var product domain.Product
	err := s.db.WithContext(ctx).First(&product, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}
