package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InventoryService is the administrative side of the catalog: stock levels,
// item creation and soft-delete tooling.
type InventoryService struct {
	repo    store.Repository
	watcher *StockWatcher
	logger  *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(repo store.Repository, watcher *StockWatcher) *InventoryService {
	return &InventoryService{repo: repo, watcher: watcher, logger: util.GetLogger()}
}

// CreateStoreItemInput describes a new SKU
type CreateStoreItemInput struct {
	StoreID           uuid.UUID       `json:"store_id" binding:"required"`
	SKU               string          `json:"sku" binding:"required"`
	Price             decimal.Decimal `json:"price"`
	Stock             int             `json:"stock"`
	Inactive          bool            `json:"inactive"`
	LowStockThreshold *int            `json:"low_stock_threshold"`
}

func (in CreateStoreItemInput) validate() error {
	switch {
	case strings.TrimSpace(in.SKU) == "":
		return apperr.Validation("sku is required")
	case in.Price.IsNegative():
		return apperr.Validation("price must not be negative")
	case in.Stock < 0:
		return apperr.Validation("stock must not be negative")
	case in.LowStockThreshold != nil && *in.LowStockThreshold < 0:
		return apperr.Validation("low stock threshold must not be negative")
	}
	return nil
}

// CreateStoreItem adds a SKU to a store
func (s *InventoryService) CreateStoreItem(ctx context.Context, in CreateStoreItemInput) (*models.StoreItem, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.CreateStoreItem")
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, err
	}

	item := &models.StoreItem{
		SoftDelete:        models.NewSoftDelete(time.Now().UTC()),
		StoreID:           in.StoreID,
		SKU:               strings.TrimSpace(in.SKU),
		Price:             in.Price,
		Stock:             in.Stock,
		IsActive:          !in.Inactive,
		LowStockThreshold: in.LowStockThreshold,
	}
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateStoreItem(ctx, item); err != nil {
			return err
		}
		s.watcher.ObserveNew(tx, item)
		return nil
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, storeError(err, "store item %s", item.SKU)
	}

	s.logger.Info("Store item created", zap.String("sku", item.SKU), zap.Int("stock", item.Stock))
	return item, nil
}

// SetStock overwrites an item's stock level
func (s *InventoryService) SetStock(ctx context.Context, id uuid.UUID, stock int) (*models.StoreItem, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SetStock")
	defer span.End()

	if stock < 0 {
		return nil, apperr.Validation("stock must not be negative")
	}

	var updated *models.StoreItem
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		item, err := tx.GetStoreItem(ctx, id)
		if err != nil {
			return err
		}
		change, err := tx.SetStock(ctx, id, stock)
		if err != nil {
			return err
		}
		s.watcher.Observe(tx, item, change)

		updated, err = tx.GetStoreItem(ctx, id)
		return err
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, storeError(err, "store item %s", id)
	}

	s.logger.Info("Stock updated", zap.String("sku", updated.SKU), zap.Int("stock", updated.Stock))
	return updated, nil
}

// SetPrice changes the live price used by carts and future checkouts
func (s *InventoryService) SetPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) (*models.StoreItem, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SetPrice")
	defer span.End()

	if price.IsNegative() {
		return nil, apperr.Validation("price must not be negative")
	}

	var updated *models.StoreItem
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if err := tx.SetPrice(ctx, id, price); err != nil {
			return err
		}
		var err error
		updated, err = tx.GetStoreItem(ctx, id)
		return err
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, storeError(err, "store item %s", id)
	}
	return updated, nil
}

// GetStoreItem returns one item; includeDeleted also finds tombstoned items
func (s *InventoryService) GetStoreItem(ctx context.Context, id uuid.UUID, includeDeleted bool) (*models.StoreItem, error) {
	var (
		item *models.StoreItem
		err  error
	)
	if includeDeleted {
		item, err = s.repo.GetStoreItemAny(ctx, id)
	} else {
		item, err = s.repo.GetStoreItem(ctx, id)
	}
	if err != nil {
		return nil, storeError(err, "store item %s", id)
	}
	return item, nil
}

// ListStoreItems lists live items, or all of them for audit tooling
func (s *InventoryService) ListStoreItems(ctx context.Context, includeDeleted bool) ([]models.StoreItem, error) {
	items, err := s.repo.ListStoreItems(ctx, store.ListOptions{IncludeDeleted: includeDeleted})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to list store items: %w", err))
	}
	return items, nil
}

// SoftDelete hides a record from default reads. Deleting twice is a no-op.
func (s *InventoryService) SoftDelete(ctx context.Context, entity store.Entity, id uuid.UUID) error {
	return s.tombstone(ctx, "SoftDelete", entity, id, func(tx store.Tx) error {
		return tx.SoftDelete(ctx, entity, id)
	})
}

// Restore makes a soft-deleted record visible again
func (s *InventoryService) Restore(ctx context.Context, entity store.Entity, id uuid.UUID) error {
	return s.tombstone(ctx, "Restore", entity, id, func(tx store.Tx) error {
		return tx.Restore(ctx, entity, id)
	})
}

// Purge physically removes a record. Orders cannot be purged.
func (s *InventoryService) Purge(ctx context.Context, entity store.Entity, id uuid.UUID) error {
	if entity == store.EntityOrders {
		return apperr.Conflict("orders cannot be purged")
	}
	return s.tombstone(ctx, "Purge", entity, id, func(tx store.Tx) error {
		return tx.HardDelete(ctx, entity, id)
	})
}

func (s *InventoryService) tombstone(ctx context.Context, op string, entity store.Entity, id uuid.UUID, fn func(tx store.Tx) error) error {
	ctx, span := util.StartSpan(ctx, "InventoryService."+op)
	defer span.End()

	if !entity.Valid() {
		return apperr.Validation("unknown entity %q", entity)
	}

	if err := s.repo.InTx(ctx, fn); err != nil {
		util.SpanError(span, err)
		return storeError(err, "%s %s", entity, id)
	}

	s.logger.Info("Admin record change",
		zap.String("op", op),
		zap.String("entity", string(entity)),
		zap.String("id", id.String()))
	return nil
}
