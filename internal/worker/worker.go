package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/jobs"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// consumer is the slice of *broker.Consumer the job worker needs
type consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// JobWorker executes jobs read from the Kafka jobs topic
type JobWorker struct {
	consumer consumer
	handler  *broker.JobHandler
	logger   *zap.Logger
}

// NewJobWorker creates a new job worker
func NewJobWorker(c consumer, runner *jobs.Runner) *JobWorker {
	return &JobWorker{
		consumer: c,
		handler:  broker.NewJobHandler(runner),
		logger:   util.Component("job-worker"),
	}
}

// Start consumes until ctx is cancelled
func (w *JobWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting job worker")
	err := w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop closes the underlying consumer
func (w *JobWorker) Stop() error {
	w.logger.Info("Stopping job worker")
	return w.consumer.Close()
}

// RelayWorker drains the outbox when a transaction enqueues jobs, and on a
// fixed interval to pick up anything a crash or a failed publish left behind.
type RelayWorker struct {
	relay    *jobs.Relay
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	logger   *zap.Logger
}

// NewRelayWorker creates a new relay worker
func NewRelayWorker(relay *jobs.Relay, interval time.Duration) *RelayWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &RelayWorker{
		relay:    relay,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   util.Component("relay-worker"),
	}
}

// Start runs the relay loop until ctx is cancelled or Stop is called
func (w *RelayWorker) Start(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("Starting relay worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.flush(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			// one last pass so jobs committed during shutdown are not left waiting
			w.flush(context.Background())
			return
		case <-w.relay.Kicks():
			w.flush(ctx)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// Stop ends the loop and waits for it, bounded by ctx
func (w *RelayWorker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping relay worker")
	w.once.Do(func() { close(w.stop) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *RelayWorker) flush(ctx context.Context) {
	n, err := w.relay.Flush(ctx)
	if err != nil {
		w.logger.Warn("Outbox flush failed", zap.Int("published", n), zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Debug("Outbox flushed", zap.Int("published", n))
	}
}
