package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 200 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")

	// ErrInvalidJitterFactor is returned when the jitter factor is outside [0, 1]
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")

	// ErrNoHandler is returned for a job type nobody registered
	ErrNoHandler = errors.New("jobs: no handler registered")
)

// Handler executes one job
type Handler func(ctx context.Context, job models.OutboxJob) error

// Runner dispatches jobs by type with bounded exponential-backoff retries.
// A job still failing after the last attempt is logged, counted and dropped.
type Runner struct {
	mu           sync.RWMutex
	handlers     map[string]Handler
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
	logger       *zap.Logger
}

// Option configures a Runner using the functional options pattern
type Option func(*Runner) error

// WithMaxAttempts sets the number of attempts before a job is dropped
func WithMaxAttempts(attempts int) Option {
	return func(r *Runner) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		r.maxAttempts = attempts
		return nil
	}
}

// WithBaseDelay sets the first backoff delay; later ones double
func WithBaseDelay(delay time.Duration) Option {
	return func(r *Runner) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}
		r.baseDelay = delay
		return nil
	}
}

// WithJitterFactor adds up to factor × delay of random jitter
func WithJitterFactor(factor float64) Option {
	return func(r *Runner) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}
		r.jitterFactor = factor
		return nil
	}
}

// NewRunner creates a runner with no handlers
func NewRunner(options ...Option) (*Runner, error) {
	r := &Runner{
		handlers:     make(map[string]Handler),
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
		logger:       util.Component("jobs"),
	}
	for _, option := range options {
		if err := option(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Handle registers the handler for a job type
func (r *Runner) Handle(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Run executes job until it succeeds, fails permanently or runs out of
// attempts. The returned error is informational; the job is never requeued.
func (r *Runner) Run(ctx context.Context, job models.OutboxJob) error {
	ctx, span := util.StartSpan(ctx, "Runner.Run")
	defer span.End()

	r.mu.RLock()
	h, ok := r.handlers[job.Type]
	r.mu.RUnlock()
	if !ok {
		util.JobsProcessedTotal.WithLabelValues(job.Type, "unhandled").Inc()
		r.logger.Error("No handler for job", zap.String("job_id", job.ID.String()), zap.String("type", job.Type))
		return fmt.Errorf("%w: %s", ErrNoHandler, job.Type)
	}

	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, attempt); err != nil {
				return err
			}
		}

		lastErr = r.attempt(ctx, h, job)
		if lastErr == nil {
			util.JobsProcessedTotal.WithLabelValues(job.Type, "ok").Inc()
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			break
		}

		r.logger.Warn("Job attempt failed",
			zap.String("job_id", job.ID.String()),
			zap.String("type", job.Type),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	util.SpanError(span, lastErr)
	util.JobsProcessedTotal.WithLabelValues(job.Type, "dropped").Inc()
	r.logger.Error("Dropping job",
		zap.String("job_id", job.ID.String()),
		zap.String("type", job.Type),
		zap.Error(lastErr))
	return lastErr
}

// attempt runs the handler once, turning a panic into an error
func (r *Runner) attempt(ctx context.Context, h Handler, job models.OutboxJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job handler panicked: %v", p)
		}
	}()
	return h(ctx, job)
}

// sleep waits baseDelay × 2^(attempt-1) plus jitter
func (r *Runner) sleep(ctx context.Context, attempt int) error {
	delay := r.baseDelay * time.Duration(1<<(attempt-1))
	jitter := rand.Float64() * float64(delay) * r.jitterFactor //nolint:gosec // math/rand is sufficient for jitter

	select {
	case <-time.After(delay + time.Duration(jitter)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
