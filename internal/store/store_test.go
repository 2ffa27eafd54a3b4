package store

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seedItem inserts the user/seller/store chain and one item with the given stock
func seedItem(t *testing.T, s *Store, stock int) *models.StoreItem {
	t.Helper()
	ctx := context.Background()
	db := s.GetDB()

	userID, sellerID, storeID := uuid.New(), uuid.New(), uuid.New()
	_, err := db.ExecContext(ctx, "INSERT INTO users (id, email, username) VALUES ($1, $2, $3)",
		userID, userID.String()+"@example.com", userID.String())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO sellers (id, user_id) VALUES ($1, $2)", sellerID, userID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO stores (id, seller_id, name) VALUES ($1, $2, 'test')", storeID, sellerID)
	require.NoError(t, err)

	item := &models.StoreItem{
		SoftDelete: models.NewSoftDelete(time.Now().UTC()),
		StoreID:    storeID,
		SKU:        "SKU-" + uuid.NewString()[:8],
		Price:      decimal.RequireFromString("10.00"),
		Stock:      stock,
		IsActive:   true,
	}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateStoreItem(ctx, item) }))
	return item
}

func TestAdjustStockNeverNegative(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 2)

	err := s.InTx(ctx, func(tx Tx) error {
		change, err := tx.AdjustStock(ctx, item.ID, -2)
		require.NoError(t, err)
		assert.Equal(t, 2, change.Previous)
		assert.Equal(t, 0, change.Current)

		_, err = tx.AdjustStock(ctx, item.ID, -1)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// the whole transaction rolled back
	got, err := s.GetStoreItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
}

func TestSoftDeleteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	item := seedItem(t, s, 5)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			return tx.SoftDelete(ctx, EntityStoreItems, item.ID)
		}))
	}

	_, err := s.GetStoreItem(ctx, item.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListStoreItems(ctx, ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	var found bool
	for _, it := range all {
		if it.ID == item.ID {
			found = true
			assert.True(t, it.IsDeleted())
		}
	}
	assert.True(t, found)

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.Restore(ctx, EntityStoreItems, item.ID)
	}))
	got, err := s.GetStoreItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.SKU, got.SKU)
	assert.True(t, item.Price.Equal(got.Price))
	assert.Equal(t, item.Stock, got.Stock)
}

func TestHardDeleteRejectsOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.HardDelete(ctx, EntityOrders, uuid.New())
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTransitionOrderAppliesOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := "idempotent-key-" + uuid.NewString()
	order := &models.Order{
		SoftDelete:     models.NewSoftDelete(time.Now().UTC()),
		UserID:         uuid.New(),
		Status:         models.OrderStatusPending,
		TotalAmount:    decimal.RequireFromString("25.00"),
		IdempotencyKey: &key,
	}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.CreateOrder(ctx, order) }))

	// Second creation with same key should fail (unique constraint)
	dup := *order
	dup.ID = uuid.New()
	err := s.InTx(ctx, func(tx Tx) error { return tx.CreateOrder(ctx, &dup) })
	assert.ErrorIs(t, err, ErrConflict)

	now := time.Now().UTC()
	var applied int32
	for i := 0; i < 2; i++ {
		require.NoError(t, s.InTx(ctx, func(tx Tx) error {
			ok, err := tx.TransitionOrder(ctx, order.ID, models.OrderStatusPending, models.OrderStatusPaid, &now)
			if ok {
				atomic.AddInt32(&applied, 1)
			}
			return err
		}))
	}
	assert.Equal(t, int32(1), applied)

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, got.Status)
	assert.NotNil(t, got.PaidAt)
}

func TestAfterCommitHooks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var kicked, hooked int32
	s.OnJobsCommitted(func() { atomic.AddInt32(&kicked, 1) })

	job := models.OutboxJob{ID: uuid.New(), Type: models.JobTypeNotification, Payload: []byte(`{}`), CreatedAt: time.Now().UTC()}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		tx.AfterCommit(func(context.Context) { atomic.AddInt32(&hooked, 1) })
		return tx.EnqueueJob(ctx, job)
	}))
	assert.Equal(t, int32(1), kicked)
	assert.Equal(t, int32(1), hooked)

	err := s.InTx(ctx, func(tx Tx) error {
		tx.AfterCommit(func(context.Context) { atomic.AddInt32(&hooked, 1) })
		return ErrConflict
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(1), hooked)
}
