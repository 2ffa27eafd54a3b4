package service

import (
	"context"
	"testing"

	"checkout-service/internal/apperr"
	"checkout-service/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftDeleteRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "SKU1", "10.00", 5)

	require.NoError(t, f.inventory.SoftDelete(ctx, store.EntityStoreItems, item.ID))

	_, err := f.inventory.GetStoreItem(ctx, item.ID, false)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	audit, err := f.inventory.GetStoreItem(ctx, item.ID, true)
	require.NoError(t, err)
	assert.True(t, audit.IsDeleted())

	live, err := f.inventory.ListStoreItems(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, live)
	all, err := f.inventory.ListStoreItems(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// deleting twice changes nothing
	require.NoError(t, f.inventory.SoftDelete(ctx, store.EntityStoreItems, item.ID))

	require.NoError(t, f.inventory.Restore(ctx, store.EntityStoreItems, item.ID))
	restored, err := f.inventory.GetStoreItem(ctx, item.ID, false)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted())
	assert.Equal(t, item.SKU, restored.SKU)
	assert.True(t, item.Price.Equal(restored.Price))
	assert.Equal(t, item.Stock, restored.Stock)
	assert.Equal(t, item.StoreID, restored.StoreID)
	assert.Equal(t, item.IsActive, restored.IsActive)
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "SKU1", "10.00", 5)

	require.NoError(t, f.inventory.Purge(ctx, store.EntityStoreItems, item.ID))
	_, err := f.inventory.GetStoreItem(ctx, item.ID, true)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	err = f.inventory.Purge(ctx, store.EntityStoreItems, item.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestOrdersCannotBePurged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "SKU1", "10.00", 5)
	view := f.placeOrder(t, line{item, 1})

	err := f.inventory.Purge(ctx, store.EntityOrders, view.Order.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.orders.GetOrder(ctx, f.buyer.ID, view.Order.ID)
	assert.NoError(t, err)
}

func TestPurgedItemKeepsOrderHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "SKU1", "10.00", 5)
	view := f.placeOrder(t, line{item, 2})

	require.NoError(t, f.inventory.Purge(ctx, store.EntityStoreItems, item.ID))

	again, err := f.orders.GetOrder(ctx, f.buyer.ID, view.Order.ID)
	require.NoError(t, err)
	require.Len(t, again.Items, 1)
	assert.True(t, decimal.RequireFromString("20.00").Equal(again.Total))

	// cancelling skips the missing item instead of failing
	_, err = f.orders.Cancel(ctx, f.buyer.ID, view.Order.ID)
	assert.NoError(t, err)
}

func TestTombstoneRejectsUnknownEntity(t *testing.T) {
	f := newFixture(t)

	err := f.inventory.SoftDelete(context.Background(), store.Entity("users"), uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	err = f.inventory.Restore(context.Background(), store.EntityStores, uuid.New())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateStoreItemValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.item(t, "SKU1", "10.00", 5)

	_, err := f.inventory.CreateStoreItem(ctx, CreateStoreItemInput{
		StoreID: f.shop.ID,
		SKU:     "SKU1",
		Price:   decimal.NewFromInt(1),
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.inventory.CreateStoreItem(ctx, CreateStoreItemInput{
		StoreID: f.shop.ID,
		SKU:     "SKU2",
		Price:   decimal.NewFromInt(-1),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.inventory.CreateStoreItem(ctx, CreateStoreItemInput{
		StoreID: uuid.New(),
		SKU:     "SKU3",
		Price:   decimal.NewFromInt(1),
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSetStockValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "SKU1", "10.00", 5)

	_, err := f.inventory.SetStock(ctx, item.ID, -1)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.inventory.SetStock(ctx, uuid.New(), 1)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	updated, err := f.inventory.SetStock(ctx, item.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Stock)
}
