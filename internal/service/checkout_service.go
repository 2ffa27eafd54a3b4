package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxIdempotencyKeyLen = 128

// CheckoutConfig tunes CheckoutService
type CheckoutConfig struct {
	Provider       string
	IdempotencyTTL time.Duration
	LockTTL        time.Duration
}

// CheckoutService converts a cart into an order in a single transaction
type CheckoutService struct {
	repo    store.Repository
	watcher *StockWatcher
	locker  Locker
	cache   IdempotencyCache
	cfg     CheckoutConfig
	logger  *zap.Logger
}

// NewCheckoutService creates a new checkout service. locker and cache are
// optional; without them idempotency keys are enforced by the database alone.
func NewCheckoutService(
	repo store.Repository,
	watcher *StockWatcher,
	locker Locker,
	cache IdempotencyCache,
	cfg CheckoutConfig,
) *CheckoutService {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &CheckoutService{
		repo:    repo,
		watcher: watcher,
		locker:  locker,
		cache:   cache,
		cfg:     cfg,
		logger:  util.GetLogger(),
	}
}

// Checkout places an order for everything in the user's cart. A repeated
// idempotency key returns the order created by the first call.
func (s *CheckoutService) Checkout(ctx context.Context, userID uuid.UUID, idempotencyKey string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	key := strings.TrimSpace(idempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		util.CheckoutsTotal.WithLabelValues("invalid").Inc()
		return nil, apperr.Validation("idempotency key must be at most %d characters", maxIdempotencyKeyLen)
	}

	if key != "" {
		view, err := s.replay(ctx, userID, key)
		if err != nil || view != nil {
			return view, err
		}

		release, err := s.lock(ctx, userID, key)
		if err != nil {
			return nil, err
		}
		defer release()

		// the holder of the lock may have finished while we waited
		if view, err := s.replay(ctx, userID, key); err != nil || view != nil {
			return view, err
		}
	}

	var order *models.Order
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = s.placeOrder(ctx, tx, userID, key)
		return err
	})
	if err != nil {
		if key != "" && errors.Is(err, store.ErrConflict) {
			if view, replayErr := s.replay(ctx, userID, key); replayErr == nil && view != nil {
				return view, nil
			}
		}
		util.SpanError(span, err)
		util.CheckoutsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, storeError(err, "order")
	}

	util.CheckoutsTotal.WithLabelValues("created").Inc()
	s.logger.Info("Order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("total", order.TotalAmount.String()))

	if key != "" && s.cache != nil {
		if err := s.cache.SetIdempotencyKey(ctx, cacheKey(userID, key), order.ID.String(), s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	return loadOrderView(ctx, s.repo, order)
}

func (s *CheckoutService) placeOrder(ctx context.Context, tx store.Tx, userID uuid.UUID, key string) (*models.Order, error) {
	cart, err := tx.GetCartByUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Validation("cart is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	lines, err := tx.ListCartLines(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, apperr.Validation("cart is empty")
	}

	ids := make([]uuid.UUID, len(lines))
	for i, line := range lines {
		ids[i] = line.StoreItemID
	}
	items, err := lockItems(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	// validate and decrement in lock order so the first failure is stable
	byItem := make(map[uuid.UUID]models.CartLine, len(lines))
	for _, line := range lines {
		byItem[line.StoreItemID] = line
	}

	total := decimal.Zero
	for _, id := range ids {
		line := byItem[id]
		item, ok := items[id]
		if !ok || !item.Purchasable() || line.Quantity > item.Stock {
			return nil, apperr.StockInsufficient(line.SKU)
		}
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	now := time.Now().UTC()
	order := &models.Order{
		SoftDelete:     models.NewSoftDelete(now),
		UserID:         userID,
		Status:         models.OrderStatusPending,
		TotalAmount:    total,
		PaymentGateway: s.cfg.Provider,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	for _, id := range ids {
		line, item := byItem[id], items[id]

		change, err := tx.AdjustStock(ctx, id, -line.Quantity)
		if errors.Is(err, store.ErrInsufficientStock) {
			return nil, apperr.StockInsufficient(item.SKU)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock for %s: %w", item.SKU, err)
		}
		s.watcher.Observe(tx, &item, change)

		orderItem := &models.OrderItem{
			SoftDelete:  models.NewSoftDelete(now),
			OrderID:     order.ID,
			StoreItemID: id,
			SKU:         item.SKU,
			UnitPrice:   item.Price,
			Quantity:    line.Quantity,
		}
		if err := tx.CreateOrderItem(ctx, orderItem); err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	payment := &models.Payment{
		SoftDelete: models.NewSoftDelete(now),
		OrderID:    order.ID,
		Amount:     total,
		Provider:   s.cfg.Provider,
		Status:     models.PaymentStatusInitiated,
	}
	if err := tx.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	if err := tx.ClearCart(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}
	return order, nil
}

// replay returns the order an earlier call with the same key created, or nil
func (s *CheckoutService) replay(ctx context.Context, userID uuid.UUID, key string) (*OrderView, error) {
	if s.cache != nil {
		val, ok, err := s.cache.GetIdempotencyKey(ctx, cacheKey(userID, key))
		if err != nil {
			s.logger.Warn("Idempotency cache unavailable", zap.Error(err))
		}
		if ok {
			if id, err := uuid.Parse(val); err == nil {
				if order, err := s.repo.GetOrder(ctx, id); err == nil && order.UserID == userID {
					return s.replayed(ctx, order)
				}
			}
		}
	}

	order, err := s.repo.GetOrderByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("failed to check idempotency: %w", err))
	}
	return s.replayed(ctx, order)
}

func (s *CheckoutService) replayed(ctx context.Context, order *models.Order) (*OrderView, error) {
	s.logger.Info("Duplicate checkout request detected", zap.String("order_id", order.ID.String()))
	util.CheckoutsTotal.WithLabelValues("replayed").Inc()
	return loadOrderView(ctx, s.repo, order)
}

func (s *CheckoutService) lock(ctx context.Context, userID uuid.UUID, key string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	release, err := s.locker.Acquire(ctx, cacheKey(userID, key), s.cfg.LockTTL)
	if errors.Is(err, redisclient.ErrLockHeld) {
		e := apperr.Conflict("a checkout with this idempotency key is already in progress")
		e.Retryable = true
		return nil, e
	}
	if err != nil {
		// the unique (user, key) constraint still holds without the lock
		s.logger.Warn("Checkout lock unavailable", zap.Error(err))
		return noop, nil
	}

	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release checkout lock", zap.Error(err))
		}
	}, nil
}

func cacheKey(userID uuid.UUID, key string) string {
	return fmt.Sprintf("checkout:%s:%s", userID, key)
}

func outcomeLabel(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindStockInsufficient:
		return "stock_insufficient"
	case apperr.KindValidation:
		return "invalid"
	case apperr.KindConflict:
		return "conflict"
	default:
		return "error"
	}
}
