package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memTx struct {
	view
	store.Pending
	now func() time.Time
}

func (t *memTx) LockStoreItems(_ context.Context, ids []uuid.UUID) ([]models.StoreItem, error) {
	items := make([]models.StoreItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := t.st.items[id]; ok {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return lessID(items[i].ID, items[j].ID) })
	return items, nil
}

func (t *memTx) AdjustStock(_ context.Context, id uuid.UUID, delta int) (models.StockChange, error) {
	item, ok := t.st.items[id]
	if !ok {
		return models.StockChange{}, store.ErrNotFound
	}
	if item.Stock+delta < 0 {
		return models.StockChange{}, store.ErrInsufficientStock
	}

	change := models.StockChange{StoreItemID: id, SKU: item.SKU, Previous: item.Stock, Current: item.Stock + delta}
	item.Stock = change.Current
	item.UpdatedAt = t.now()
	t.st.items[id] = item
	return change, nil
}

func (t *memTx) SetStock(_ context.Context, id uuid.UUID, stock int) (models.StockChange, error) {
	if stock < 0 {
		return models.StockChange{}, store.ErrInsufficientStock
	}
	item, ok := t.st.items[id]
	if !ok {
		return models.StockChange{}, store.ErrNotFound
	}

	change := models.StockChange{StoreItemID: id, SKU: item.SKU, Previous: item.Stock, Current: stock}
	item.Stock = stock
	item.UpdatedAt = t.now()
	t.st.items[id] = item
	return change, nil
}

func (t *memTx) SetPrice(_ context.Context, id uuid.UUID, price decimal.Decimal) error {
	item, ok := t.st.items[id]
	if !ok || item.IsDeleted() {
		return store.ErrNotFound
	}
	item.Price = price
	item.UpdatedAt = t.now()
	t.st.items[id] = item
	return nil
}

func (t *memTx) CreateStoreItem(_ context.Context, item *models.StoreItem) error {
	if _, ok := t.st.stores[item.StoreID]; !ok {
		return fmt.Errorf("store %s: %w", item.StoreID, store.ErrNotFound)
	}
	for _, existing := range t.st.items {
		if existing.SKU == item.SKU {
			return fmt.Errorf("sku %s already exists: %w", item.SKU, store.ErrConflict)
		}
	}
	t.st.items[item.ID] = *item
	return nil
}

func (t *memTx) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if cart, err := t.GetCartByUser(ctx, userID); err == nil {
		return cart, nil
	}
	cart := models.Cart{SoftDelete: models.NewSoftDelete(t.now()), UserID: userID}
	t.st.carts[cart.ID] = cart
	return &cart, nil
}

func (t *memTx) UpsertCartItem(_ context.Context, cartID, storeItemID uuid.UUID, qty int) (*models.CartItem, error) {
	now := t.now()
	for id, ci := range t.st.cartItems {
		if ci.CartID != cartID || ci.StoreItemID != storeItemID {
			continue
		}
		if ci.IsDeleted() {
			ci.Restore(now)
			ci.Quantity = qty
		} else {
			ci.Quantity += qty
		}
		ci.UpdatedAt = now
		t.st.cartItems[id] = ci
		return &ci, nil
	}

	ci := models.CartItem{SoftDelete: models.NewSoftDelete(now), CartID: cartID, StoreItemID: storeItemID, Quantity: qty}
	t.st.cartItems[ci.ID] = ci
	return &ci, nil
}

func (t *memTx) SetCartItemQuantity(_ context.Context, cartID, itemID uuid.UUID, qty int) error {
	ci, ok := t.st.cartItems[itemID]
	if !ok || ci.CartID != cartID || ci.IsDeleted() {
		return store.ErrNotFound
	}
	ci.Quantity = qty
	ci.UpdatedAt = t.now()
	t.st.cartItems[itemID] = ci
	return nil
}

func (t *memTx) DeleteCartItem(_ context.Context, cartID, itemID uuid.UUID) error {
	ci, ok := t.st.cartItems[itemID]
	if !ok || ci.CartID != cartID {
		return store.ErrNotFound
	}
	delete(t.st.cartItems, itemID)
	return nil
}

func (t *memTx) ClearCart(_ context.Context, cartID uuid.UUID) error {
	for id, ci := range t.st.cartItems {
		if ci.CartID == cartID {
			delete(t.st.cartItems, id)
		}
	}
	return nil
}

func (t *memTx) CreateOrder(_ context.Context, order *models.Order) error {
	if order.IdempotencyKey != nil {
		for _, existing := range t.st.orders {
			if existing.UserID == order.UserID && existing.IdempotencyKey != nil &&
				*existing.IdempotencyKey == *order.IdempotencyKey {
				return fmt.Errorf("duplicate idempotency key: %w", store.ErrConflict)
			}
		}
	}
	t.st.orders[order.ID] = *order
	return nil
}

func (t *memTx) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	for _, existing := range t.st.orderItems {
		if existing.OrderID == item.OrderID && existing.StoreItemID == item.StoreItemID {
			return fmt.Errorf("duplicate order item: %w", store.ErrConflict)
		}
	}
	t.st.orderItems[item.ID] = *item
	return nil
}

func (t *memTx) TransitionOrder(_ context.Context, id uuid.UUID, from, to models.OrderStatus, paidAt *time.Time) (bool, error) {
	order, ok := t.st.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	if order.PaidAt == nil && paidAt != nil {
		at := *paidAt
		order.PaidAt = &at
	}
	order.UpdatedAt = t.now()
	t.st.orders[id] = order
	return true, nil
}

func (t *memTx) SetOrderAuthority(_ context.Context, id uuid.UUID, authority string) error {
	for otherID, other := range t.st.orders {
		if otherID != id && other.PaymentAuthority != nil && *other.PaymentAuthority == authority {
			return fmt.Errorf("authority already assigned: %w", store.ErrConflict)
		}
	}
	order, ok := t.st.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	order.PaymentAuthority = &authority
	order.UpdatedAt = t.now()
	t.st.orders[id] = order
	return nil
}

func (t *memTx) SetOrderRefID(_ context.Context, id uuid.UUID, refID string) error {
	order, ok := t.st.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	order.PaymentRefID = &refID
	order.UpdatedAt = t.now()
	t.st.orders[id] = order
	return nil
}

func (t *memTx) CreatePayment(_ context.Context, payment *models.Payment) error {
	for _, existing := range t.st.payments {
		if existing.OrderID == payment.OrderID {
			return fmt.Errorf("order already has a payment: %w", store.ErrConflict)
		}
	}
	t.st.payments[payment.ID] = *payment
	return nil
}

func (t *memTx) UpdatePayment(_ context.Context, payment *models.Payment) error {
	existing, ok := t.st.payments[payment.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Amount = payment.Amount
	existing.Authority = payment.Authority
	existing.RefID = payment.RefID
	existing.Status = payment.Status
	existing.PaidAt = payment.PaidAt
	existing.UpdatedAt = t.now()
	t.st.payments[payment.ID] = existing
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn *models.Transaction) (bool, error) {
	for _, existing := range t.st.txns {
		if existing.PaymentID == txn.PaymentID && existing.RefID == txn.RefID {
			return false, nil
		}
	}
	t.st.txns[txn.ID] = *txn
	return true, nil
}

func (t *memTx) SoftDelete(_ context.Context, entity store.Entity, id uuid.UUID) error {
	return t.tombstone(entity, id, func(sd *models.SoftDelete) { sd.MarkDeleted(t.now()) })
}

func (t *memTx) Restore(_ context.Context, entity store.Entity, id uuid.UUID) error {
	return t.tombstone(entity, id, func(sd *models.SoftDelete) { sd.Restore(t.now()) })
}

func (t *memTx) tombstone(entity store.Entity, id uuid.UUID, fn func(*models.SoftDelete)) error {
	switch entity {
	case store.EntityStoreItems:
		return update(t.st.items, id, func(v *models.StoreItem) { fn(&v.SoftDelete) })
	case store.EntityStores:
		return update(t.st.stores, id, func(v *models.Store) { fn(&v.SoftDelete) })
	case store.EntityCartItems:
		return update(t.st.cartItems, id, func(v *models.CartItem) { fn(&v.SoftDelete) })
	case store.EntityOrders:
		return update(t.st.orders, id, func(v *models.Order) { fn(&v.SoftDelete) })
	case store.EntityPayments:
		return update(t.st.payments, id, func(v *models.Payment) { fn(&v.SoftDelete) })
	}
	return fmt.Errorf("unknown entity %q", entity)
}

func (t *memTx) HardDelete(_ context.Context, entity store.Entity, id uuid.UUID) error {
	switch entity {
	case store.EntityOrders:
		return fmt.Errorf("orders cannot be hard deleted: %w", store.ErrConflict)
	case store.EntityStoreItems:
		return remove(t.st.items, id)
	case store.EntityStores:
		return remove(t.st.stores, id)
	case store.EntityCartItems:
		return remove(t.st.cartItems, id)
	case store.EntityPayments:
		return remove(t.st.payments, id)
	}
	return fmt.Errorf("unknown entity %q", entity)
}

func update[T any](table map[uuid.UUID]T, id uuid.UUID, fn func(*T)) error {
	row, ok := table[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&row)
	table[id] = row
	return nil
}

func remove[T any](table map[uuid.UUID]T, id uuid.UUID) error {
	if _, ok := table[id]; !ok {
		return store.ErrNotFound
	}
	delete(table, id)
	return nil
}

func (t *memTx) EnqueueJob(_ context.Context, job models.OutboxJob) error {
	t.st.jobs = append(t.st.jobs, job)
	t.JobEnqueued()
	return nil
}

func (t *memTx) ClaimPendingJobs(_ context.Context, limit int) ([]models.OutboxJob, error) {
	jobs := []models.OutboxJob{}
	for _, job := range t.st.jobs {
		if len(jobs) == limit {
			break
		}
		if job.DispatchedAt == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (t *memTx) MarkJobsDispatched(_ context.Context, ids []uuid.UUID) error {
	pending := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}

	now := t.now()
	for i, job := range t.st.jobs {
		if _, ok := pending[job.ID]; ok && job.DispatchedAt == nil {
			job.DispatchedAt = &now
			t.st.jobs[i] = job
		}
	}
	return nil
}
