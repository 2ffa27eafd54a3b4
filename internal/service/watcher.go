package service

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"checkout-service/internal/jobs"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const alertPublishTimeout = 10 * time.Second

// StockWatcher turns stock mutations into low-stock alerts. An alert fires
// only when a mutation crosses the threshold downwards, and is published
// after the mutating transaction commits.
type StockWatcher struct {
	publisher jobs.Publisher
	threshold int
	logger    *zap.Logger

	// mu orders wg.Add against Close so no Add follows the final Wait
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewStockWatcher creates a watcher with the given default threshold
func NewStockWatcher(publisher jobs.Publisher, defaultThreshold int) *StockWatcher {
	return &StockWatcher{
		publisher: publisher,
		threshold: defaultThreshold,
		logger:    util.Component("stock-watcher"),
	}
}

// Threshold is the item's own threshold, or the default
func (w *StockWatcher) Threshold(item *models.StoreItem) int {
	if item != nil && item.LowStockThreshold != nil {
		return *item.LowStockThreshold
	}
	return w.threshold
}

// Crossed reports a downward crossing of threshold
func Crossed(previous, current, threshold int) bool {
	return previous > threshold && current <= threshold
}

// Observe inspects one stock change made inside tx
func (w *StockWatcher) Observe(tx store.Tx, item *models.StoreItem, change models.StockChange) {
	threshold := w.Threshold(item)
	if !Crossed(change.Previous, change.Current, threshold) {
		return
	}
	w.schedule(tx, models.LowStockJob{
		StoreItemID: change.StoreItemID,
		SKU:         change.SKU,
		Stock:       change.Current,
		Threshold:   threshold,
	})
}

// ObserveNew inspects a freshly created item, which has no previous stock
func (w *StockWatcher) ObserveNew(tx store.Tx, item *models.StoreItem) {
	threshold := w.Threshold(item)
	if item.Stock > threshold {
		return
	}
	w.schedule(tx, models.LowStockJob{
		StoreItemID: item.ID,
		SKU:         item.SKU,
		Stock:       item.Stock,
		Threshold:   threshold,
	})
}

func (w *StockWatcher) schedule(tx store.Tx, alert models.LowStockJob) {
	tx.AfterCommit(func(ctx context.Context) {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			w.logger.Warn("Dropping low stock alert after shutdown",
				zap.String("sku", alert.SKU),
				zap.Int("stock", alert.Stock))
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()

		util.LowStockAlertsTotal.Inc()
		go func() {
			defer w.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Low stock alert panicked",
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())))
				}
			}()
			w.publish(ctx, alert)
		}()
	})
}

func (w *StockWatcher) publish(ctx context.Context, alert models.LowStockJob) {
	w.logger.Info("Stock crossed low threshold",
		zap.String("sku", alert.SKU),
		zap.Int("stock", alert.Stock),
		zap.Int("threshold", alert.Threshold))

	if w.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, alertPublishTimeout)
	defer cancel()

	job, err := jobs.New(models.JobTypeLowStock, alert)
	if err == nil {
		err = w.publisher.Publish(ctx, job)
	}
	if err != nil {
		w.logger.Warn("Failed to publish low stock alert", zap.String("sku", alert.SKU), zap.Error(err))
	}
}

// Wait blocks until in-flight alerts are published or ctx is done
func (w *StockWatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting alerts and waits for the in-flight ones
func (w *StockWatcher) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.Wait(ctx)
}
