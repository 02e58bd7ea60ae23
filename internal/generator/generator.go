package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hamimul/order-fulfillment/internal/lifecycle"
	orderdomain "github.com/hamimul/order-fulfillment/internal/order/domain"
	productdomain "github.com/hamimul/order-fulfillment/internal/product/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var customers = []string{
	"Alice Johnson", "Bob Smith", "Carol Davis", "Dan Wilson",
	"Eve Martinez", "Frank Brown", "Grace Lee", "Henry Clark",
}

// Generator trickles random orders into the pipeline at a fixed
// interval. Load and failure behavior downstream come from the
// simulation config, not from here.
type Generator struct {
	log      *zap.Logger
	db       *gorm.DB
	orders   orderdomain.Service
	rand     lifecycle.Rand
	interval time.Duration
}

func New(log *zap.Logger, db *gorm.DB, orders orderdomain.Service, rnd lifecycle.Rand, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Generator{
		log:      log.Named("generator"),
		db:       db,
		orders:   orders,
		rand:     rnd,
		interval: interval,
	}
}

// Run emits orders until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.emit(ctx); err != nil {
				g.log.Warn("order generation failed", zap.Error(err))
			}
		}
	}
}

func (g *Generator) emit(ctx context.Context) error {
	var products []productdomain.Product
	err := g.db.WithContext(ctx).
		Where("active = ?", true).
		Limit(50).
		Find(&products).Error
	if err != nil {
		return err
	}
	if len(products) == 0 {
		return nil
	}

	lineCount := int(g.rand.Int63n(3)) + 1
	if lineCount > len(products) {
		lineCount = len(products)
	}

	seen := make(map[int]struct{}, lineCount)
	items := make([]orderdomain.LineItemRequest, 0, lineCount)
	for len(items) < lineCount {
		idx := int(g.rand.Int63n(int64(len(products))))
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		items = append(items, orderdomain.LineItemRequest{
			ProductID: products[idx].ID,
			Quantity:  g.rand.Int63n(5) + 1,
		})
	}

	priorities := []orderdomain.Priority{
		orderdomain.PriorityLow,
		orderdomain.PriorityNormal,
		orderdomain.PriorityHigh,
	}
	customer := customers[g.rand.Int63n(int64(len(customers)))]
	order, err := g.orders.Create(ctx, orderdomain.CreateOrderRequest{
		CustomerName: customer,
		Priority:     priorities[g.rand.Int63n(int64(len(priorities)))],
		Metadata:     map[string]interface{}{"source": "generator"},
		Items:        items,
	})
	if err != nil {
		var stockErr *orderdomain.InsufficientStockError
		if errors.As(err, &stockErr) {
			g.log.Info("generated order rejected",
				zap.String("reason", fmt.Sprintf("product %d out of stock", stockErr.ProductID)),
			)
			return nil
		}
		return err
	}

	g.log.Debug("order generated",
		zap.String("order_id", order.ID.String()),
		zap.Int("items", len(items)),
	)
	return nil
}
