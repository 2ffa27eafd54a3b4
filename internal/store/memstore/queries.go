package memstore

import (
	"context"
	"sort"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/google/uuid"
)

// view answers reads against one state snapshot
type view struct {
	st *state
}

func (v view) GetStoreItem(_ context.Context, id uuid.UUID) (*models.StoreItem, error) {
	item, ok := v.st.items[id]
	if !ok || item.IsDeleted() {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (v view) GetStoreItemAny(_ context.Context, id uuid.UUID) (*models.StoreItem, error) {
	item, ok := v.st.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (v view) ListStoreItems(_ context.Context, opts store.ListOptions) ([]models.StoreItem, error) {
	items := []models.StoreItem{}
	for _, item := range v.st.items {
		if item.IsDeleted() && !opts.IncludeDeleted {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })
	return items, nil
}

func (v view) GetCartByUser(_ context.Context, userID uuid.UUID) (*models.Cart, error) {
	for _, cart := range v.st.carts {
		if cart.UserID == userID && !cart.IsDeleted() {
			return &cart, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v view) ListCartLines(_ context.Context, cartID uuid.UUID) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	for _, ci := range v.st.cartItems {
		if ci.CartID != cartID || ci.IsDeleted() {
			continue
		}
		item, ok := v.st.items[ci.StoreItemID]
		if !ok {
			continue
		}
		lines = append(lines, models.CartLine{
			ItemID:      ci.ID,
			StoreItemID: item.ID,
			SKU:         item.SKU,
			Quantity:    ci.Quantity,
			UnitPrice:   item.Price,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lessID(lines[i].StoreItemID, lines[j].StoreItemID) })
	return lines, nil
}

func (v view) GetOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	order, ok := v.st.orders[id]
	if !ok || order.IsDeleted() {
		return nil, store.ErrNotFound
	}
	return &order, nil
}

func (v view) GetOrderByAuthority(_ context.Context, authority string) (*models.Order, error) {
	for _, order := range v.st.orders {
		if order.PaymentAuthority != nil && *order.PaymentAuthority == authority && !order.IsDeleted() {
			return &order, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v view) GetOrderByIdempotencyKey(_ context.Context, userID uuid.UUID, key string) (*models.Order, error) {
	for _, order := range v.st.orders {
		if order.UserID == userID && order.IdempotencyKey != nil && *order.IdempotencyKey == key {
			return &order, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v view) ListOrdersByUser(_ context.Context, userID uuid.UUID) ([]models.Order, error) {
	orders := []models.Order{}
	for _, order := range v.st.orders {
		if order.UserID == userID && !order.IsDeleted() {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (v view) ListOrderItems(_ context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	for _, item := range v.st.orderItems {
		if item.OrderID == orderID && !item.IsDeleted() {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return lessID(items[i].StoreItemID, items[j].StoreItemID) })
	return items, nil
}

func (v view) GetPaymentByOrder(_ context.Context, orderID uuid.UUID) (*models.Payment, error) {
	for _, payment := range v.st.payments {
		if payment.OrderID == orderID && !payment.IsDeleted() {
			return &payment, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v view) ListTransactions(_ context.Context, paymentID uuid.UUID) ([]models.Transaction, error) {
	txns := []models.Transaction{}
	for _, txn := range v.st.txns {
		if txn.PaymentID == paymentID && !txn.IsDeleted() {
			txns = append(txns, txn)
		}
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].CreatedAt.Before(txns[j].CreatedAt) })
	return txns, nil
}

func (v view) UserEmail(_ context.Context, userID uuid.UUID) (string, error) {
	user, ok := v.st.users[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return user.Email, nil
}

func (v view) StoreOwnerEmail(ctx context.Context, storeID uuid.UUID) (string, error) {
	st, ok := v.st.stores[storeID]
	if !ok {
		return "", store.ErrNotFound
	}
	seller, ok := v.st.sellers[st.SellerID]
	if !ok {
		return "", store.ErrNotFound
	}
	return v.UserEmail(ctx, seller.UserID)
}

func (v view) SellerEmailsForOrder(ctx context.Context, orderID uuid.UUID) ([]string, error) {
	seen := make(map[string]struct{})
	emails := []string{}
	for _, oi := range v.st.orderItems {
		if oi.OrderID != orderID {
			continue
		}
		item, ok := v.st.items[oi.StoreItemID]
		if !ok {
			continue
		}
		email, err := v.StoreOwnerEmail(ctx, item.StoreID)
		if err != nil || email == "" {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails, nil
}

func lessID(a, b uuid.UUID) bool {
	return a.String() < b.String()
}

// Store reads go to the committed snapshot

func (m *Store) GetStoreItem(ctx context.Context, id uuid.UUID) (*models.StoreItem, error) {
	return m.read().GetStoreItem(ctx, id)
}

func (m *Store) GetStoreItemAny(ctx context.Context, id uuid.UUID) (*models.StoreItem, error) {
	return m.read().GetStoreItemAny(ctx, id)
}

func (m *Store) ListStoreItems(ctx context.Context, opts store.ListOptions) ([]models.StoreItem, error) {
	return m.read().ListStoreItems(ctx, opts)
}

func (m *Store) GetCartByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	return m.read().GetCartByUser(ctx, userID)
}

func (m *Store) ListCartLines(ctx context.Context, cartID uuid.UUID) ([]models.CartLine, error) {
	return m.read().ListCartLines(ctx, cartID)
}

func (m *Store) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return m.read().GetOrder(ctx, id)
}

func (m *Store) GetOrderByAuthority(ctx context.Context, authority string) (*models.Order, error) {
	return m.read().GetOrderByAuthority(ctx, authority)
}

func (m *Store) GetOrderByIdempotencyKey(ctx context.Context, userID uuid.UUID, key string) (*models.Order, error) {
	return m.read().GetOrderByIdempotencyKey(ctx, userID, key)
}

func (m *Store) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	return m.read().ListOrdersByUser(ctx, userID)
}

func (m *Store) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	return m.read().ListOrderItems(ctx, orderID)
}

func (m *Store) GetPaymentByOrder(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return m.read().GetPaymentByOrder(ctx, orderID)
}

func (m *Store) ListTransactions(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error) {
	return m.read().ListTransactions(ctx, paymentID)
}

func (m *Store) UserEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	return m.read().UserEmail(ctx, userID)
}

func (m *Store) StoreOwnerEmail(ctx context.Context, storeID uuid.UUID) (string, error) {
	return m.read().StoreOwnerEmail(ctx, storeID)
}

func (m *Store) SellerEmailsForOrder(ctx context.Context, orderID uuid.UUID) ([]string, error) {
	return m.read().SellerEmailsForOrder(ctx, orderID)
}
