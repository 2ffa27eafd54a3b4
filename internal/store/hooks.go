package store

import (
	"context"
	"sync"

	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Pending collects the post-commit work of one unit of work
type Pending struct {
	fns  []func(context.Context)
	jobs int
}

// AfterCommit registers fn to run once the transaction commits
func (p *Pending) AfterCommit(fn func(ctx context.Context)) {
	p.fns = append(p.fns, fn)
}

// JobEnqueued records that the transaction wrote an outbox job
func (p *Pending) JobEnqueued() {
	p.jobs++
}

// Hooks fans committed work out to post-commit callbacks and job listeners.
// Repository implementations embed it.
type Hooks struct {
	mu        sync.RWMutex
	listeners []func()
}

// OnJobsCommitted registers fn to run after a commit that enqueued jobs
func (h *Hooks) OnJobsCommitted(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Fire runs the pending callbacks of a committed transaction. Callbacks get
// a context that outlives the request; a panic in one does not stop the rest.
func (h *Hooks) Fire(ctx context.Context, p *Pending) {
	detached := context.WithoutCancel(ctx)
	for _, fn := range p.fns {
		runHook(detached, fn)
	}
	if p.jobs == 0 {
		return
	}

	h.mu.RLock()
	listeners := append([]func(){}, h.listeners...)
	h.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func runHook(ctx context.Context, hook func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			util.GetLogger().Error("after-commit hook panicked", zap.Any("panic", r))
		}
	}()
	hook(ctx)
}
