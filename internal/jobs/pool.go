package jobs

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by Pool.Publish when the buffer is exhausted
var ErrQueueFull = errors.New("jobs: queue full")

// ErrPoolStopped is returned by Pool.Publish after Stop
var ErrPoolStopped = errors.New("jobs: pool stopped")

// Pool is an in-process Publisher: a buffered queue drained by a fixed
// number of workers that hand each job to the Runner. It is not durable;
// durability comes from the outbox rows the relay marks only on enqueue.
type Pool struct {
	runner  *Runner
	queue   chan models.OutboxJob
	workers int

	mu      sync.RWMutex
	stopped bool

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewPool creates a pool with the given worker count and buffer size
func NewPool(runner *Runner, workers, buffer int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Pool{
		runner:  runner,
		queue:   make(chan models.OutboxJob, buffer),
		workers: workers,
		logger:  util.Component("pool"),
	}
}

// Start launches the workers
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.work(context.WithoutCancel(ctx))
		}
		p.logger.Info("Job pool started", zap.Int("workers", p.workers))
	})
}

// Stop closes the queue and waits for in-flight jobs, bounded by ctx
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Job pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish enqueues a job without blocking
func (p *Pool) Publish(ctx context.Context, job models.OutboxJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(ctx, job)
	}
}

func (p *Pool) run(ctx context.Context, job models.OutboxJob) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Job worker panicked",
				zap.String("job_id", job.ID.String()),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	_ = p.runner.Run(ctx, job)
}
