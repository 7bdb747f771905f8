// Package async provides a bounded worker pool for driving concurrent load.
package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coachpo/pocketpool/errs"
)

// Task represents a unit of work executed by the pool workers.
type Task func(context.Context) error

// Counts reports task outcomes observed by the workers.
type Counts struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
}

// Pool is a bounded worker pool enforcing backpressure when saturated.
type Pool struct {
	ctx       context.Context
	cancel    context.CancelFunc
	jobs      chan job
	wg        sync.WaitGroup
	once      sync.Once
	onError   func(error)
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
// onError, when set, receives every task error and recovered panic.
func NewPool(workers, queue int, onError func(error)) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithField("workers"), errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := new(Pool)
	p.ctx = ctx
	p.cancel = cancel
	p.jobs = make(chan job, queue)
	p.onError = onError
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules fn without blocking. It fails when the pool is closed, the
// queue is full, or ctx is already done.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit context: %w", err)
	}
	if p.ctx.Err() != nil {
		return errClosed()
	}
	p.wg.Add(1)
	select {
	case <-p.ctx.Done():
		p.wg.Done()
		return errClosed()
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// SubmitWait schedules fn, blocking until a worker slot frees up or ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit context: %w", err)
	}
	if p.ctx.Err() != nil {
		return errClosed()
	}
	p.wg.Add(1)
	select {
	case <-p.ctx.Done():
		p.wg.Done()
		return errClosed()
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	}
}

// Counts returns the outcome counters.
func (p *Pool) Counts() Counts {
	return Counts{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Close stops accepting new tasks and cancels workers. Queued tasks that no
// worker picked up are dropped.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
	})
}

// Shutdown stops accepting tasks and waits for in-flight tasks to complete or
// until the context expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			p.drop()
			return
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

func (p *Pool) run(j job) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.report(fmt.Errorf("task panic: %v", r))
		}
	}()
	if err := j.fn(j.ctx); err != nil {
		p.failed.Add(1)
		p.report(err)
		return
	}
	p.completed.Add(1)
}

// drop releases queued jobs after Close so Shutdown does not wait on them.
func (p *Pool) drop() {
	for {
		select {
		case <-p.jobs:
			p.wg.Done()
		default:
			return
		}
	}
}

func (p *Pool) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}

func errClosed() error {
	return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
}
