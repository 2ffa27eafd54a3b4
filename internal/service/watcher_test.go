package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/jobs"
	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossed(t *testing.T) {
	tests := []struct {
		name              string
		previous, current int
		want              bool
	}{
		{"crosses", 5, 2, true},
		{"lands on threshold", 4, 3, true},
		{"already low", 2, 1, false},
		{"rising", 1, 4, false},
		{"stays above", 10, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Crossed(tt.previous, tt.current, 3))
		})
	}
}

func TestLowStockAlertIsEdgeTriggered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "SKU1", "10.00", 5)
	require.Zero(t, f.waitAlerts(t))

	f.placeOrder(t, line{item, 3}) // 5 -> 2
	assert.Equal(t, 1, f.waitAlerts(t))

	f.placeOrder(t, line{item, 1}) // 2 -> 1
	assert.Equal(t, 1, f.waitAlerts(t))

	_, err := f.inventory.SetStock(ctx, item.ID, 4) // 1 -> 4
	require.NoError(t, err)
	assert.Equal(t, 1, f.waitAlerts(t))

	f.placeOrder(t, line{item, 3}) // 4 -> 1
	assert.Equal(t, 2, f.waitAlerts(t))

	var alert models.LowStockJob
	require.NoError(t, jobs.Decode(f.alerts.jobs[1], &alert))
	assert.Equal(t, "SKU1", alert.SKU)
	assert.Equal(t, 1, alert.Stock)
	assert.Equal(t, 3, alert.Threshold)
}

func TestLowStockUsesItemThreshold(t *testing.T) {
	f := newFixture(t)
	threshold := 0
	item, err := f.inventory.CreateStoreItem(context.Background(), CreateStoreItemInput{
		StoreID:           f.shop.ID,
		SKU:               "SKU1",
		Price:             decimal.RequireFromString("1.00"),
		Stock:             5,
		LowStockThreshold: &threshold,
	})
	require.NoError(t, err)

	f.placeOrder(t, line{*item, 4}) // 5 -> 1, above its own threshold
	assert.Zero(t, f.waitAlerts(t))

	f.placeOrder(t, line{*item, 1}) // 1 -> 0
	assert.Equal(t, 1, f.waitAlerts(t))
}

func TestNewItemAtThresholdAlerts(t *testing.T) {
	f := newFixture(t)
	f.item(t, "SKU1", "10.00", 2)
	assert.Equal(t, 1, f.waitAlerts(t))
}

func TestAlertNotSentOnRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "SKU1", "10.00", 5)

	err := f.repo.InTx(ctx, func(tx store.Tx) error {
		change, err := tx.AdjustStock(ctx, item.ID, -4)
		if err != nil {
			return err
		}
		f.watcher.Observe(tx, &item, change)
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Zero(t, f.waitAlerts(t))
	assert.Equal(t, 5, f.stock(t, item.ID))
}

func TestAlertPublishFailureKeepsStockChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.watcher.publisher = jobs.PublisherFunc(func(context.Context, models.OutboxJob) error {
		return errors.New("broker down")
	})
	item := f.item(t, "SKU1", "10.00", 5)

	_, err := f.inventory.SetStock(ctx, item.ID, 1)
	require.NoError(t, err)
	assert.Zero(t, f.waitAlerts(t))
	assert.Equal(t, 1, f.stock(t, item.ID))
}

func TestClosedWatcherDropsLateAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "SKU1", "10.00", 5)

	_, err := f.inventory.SetStock(ctx, item.ID, 2)
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.watcher.Close(closeCtx))
	assert.Equal(t, 1, f.alerts.count())

	// the stock change still commits, only the alert is dropped
	_, err = f.inventory.SetStock(ctx, item.ID, 9)
	require.NoError(t, err)
	_, err = f.inventory.SetStock(ctx, item.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.waitAlerts(t))
	assert.Equal(t, 1, f.stock(t, item.ID))
}
