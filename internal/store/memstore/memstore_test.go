package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, m *memstore.Store, stock int) models.StoreItem {
	t.Helper()
	now := time.Now().UTC()

	user := models.User{SoftDelete: models.NewSoftDelete(now), Email: "owner@example.com"}
	seller := models.Seller{SoftDelete: models.NewSoftDelete(now), UserID: user.ID, IsActive: true}
	st := models.Store{SoftDelete: models.NewSoftDelete(now), SellerID: seller.ID, Name: "shop", IsActive: true}
	m.PutUser(user)
	m.PutSeller(seller)
	m.PutStore(st)

	item := models.StoreItem{
		SoftDelete: models.NewSoftDelete(now),
		StoreID:    st.ID,
		SKU:        "SKU1",
		Price:      decimal.RequireFromString("10.00"),
		Stock:      stock,
		IsActive:   true,
	}
	require.NoError(t, m.InTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateStoreItem(context.Background(), &item)
	}))
	return item
}

func TestRollbackDiscardsWrites(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()
	item := seed(t, m, 3)

	boom := errors.New("boom")
	var hooked bool
	err := m.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, item.ID, -2)
		require.NoError(t, err)
		tx.AfterCommit(func(context.Context) { hooked = true })
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, hooked)

	got, err := m.GetStoreItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)
}

func TestAdjustStockRejectsNegative(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()
	item := seed(t, m, 1)

	err := m.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, item.ID, -2)
		return err
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestSoftDeleteRoundTrip(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()
	item := seed(t, m, 5)

	for i := 0; i < 2; i++ {
		require.NoError(t, m.InTx(ctx, func(tx store.Tx) error {
			return tx.SoftDelete(ctx, store.EntityStoreItems, item.ID)
		}))
	}

	_, err := m.GetStoreItem(ctx, item.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	live, err := m.ListStoreItems(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := m.ListStoreItems(ctx, store.ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsDeleted())

	for i := 0; i < 2; i++ {
		require.NoError(t, m.InTx(ctx, func(tx store.Tx) error {
			return tx.Restore(ctx, store.EntityStoreItems, item.ID)
		}))
	}

	got, err := m.GetStoreItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, item.SKU, got.SKU)
	assert.True(t, item.Price.Equal(got.Price))
	assert.Equal(t, item.Stock, got.Stock)
	assert.Nil(t, got.DeletedAt)
}

func TestHardDelete(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()
	item := seed(t, m, 5)

	err := m.InTx(ctx, func(tx store.Tx) error {
		return tx.HardDelete(ctx, store.EntityOrders, uuid.New())
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, m.InTx(ctx, func(tx store.Tx) error {
		return tx.HardDelete(ctx, store.EntityStoreItems, item.ID)
	}))
	_, err = m.GetStoreItemAny(ctx, item.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJobsCommittedListener(t *testing.T) {
	m := memstore.New()
	ctx := context.Background()

	var kicks int
	m.OnJobsCommitted(func() { kicks++ })

	require.NoError(t, m.InTx(ctx, func(tx store.Tx) error { return nil }))
	assert.Equal(t, 0, kicks)

	job := models.OutboxJob{ID: uuid.New(), Type: models.JobTypeNotification, Payload: []byte(`{}`)}
	require.NoError(t, m.InTx(ctx, func(tx store.Tx) error { return tx.EnqueueJob(ctx, job) }))
	assert.Equal(t, 1, kicks)

	require.NoError(t, m.InTx(ctx, func(tx store.Tx) error {
		claimed, err := tx.ClaimPendingJobs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		return tx.MarkJobsDispatched(ctx, []uuid.UUID{claimed[0].ID})
	}))

	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.NotNil(t, jobs[0].DispatchedAt)
}
