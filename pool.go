package synckit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/synckit/api"
	"pkt.systems/synckit/internal/clock"
	"pkt.systems/synckit/internal/loggingutil"
)

// Task is one unit of work submitted to a Pool.
type Task func(ctx context.Context) error

// DefaultPoolQueueDepth bounds the task backlog when not configured.
const DefaultPoolQueueDepth = 256

// DefaultPoolIdleTimeout is how long a surplus worker stays idle before it
// exits, shrinking the pool towards its minimum size.
const DefaultPoolIdleTimeout = 10 * time.Second

// Pool executes tasks on an elastic set of workers bounded by a minimum and
// maximum size. The pool grows on backlog and shrinks on idle; every
// submitted task eventually runs unless the pool is destroyed, in which case
// pending tasks fail with a PoolShutdownError.
type Pool struct {
	logger      pslog.Logger
	clk         clock.Clock
	min, max    int
	queueDepth  int
	idleTimeout time.Duration

	mu        sync.Mutex
	workers   int
	active    int
	completed uint64
	failed    uint64
	destroyed bool

	queue chan poolTask
	done  chan struct{}
	wg    sync.WaitGroup
}

type poolTask struct {
	ctx context.Context
	fn  Task
	res chan error
}

// PoolStats reports a point-in-time view of pool activity.
type PoolStats struct {
	Workers   int
	Active    int
	Idle      int
	Queued    int
	Completed uint64
	Failed    uint64
}

// PoolOption customises Pool behaviour.
type PoolOption func(*Pool)

// WithQueueDepth sets the task backlog capacity (default 256).
func WithQueueDepth(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.queueDepth = n
		}
	}
}

// WithIdleTimeout sets how long surplus workers linger before exiting.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.idleTimeout = d
		}
	}
}

// WithPoolLogger assigns a logger for pool lifecycle diagnostics.
func WithPoolLogger(logger pslog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithPoolClock overrides the clock driving idle shrink timers.
func WithPoolClock(clk clock.Clock) PoolOption {
	return func(p *Pool) {
		if clk != nil {
			p.clk = clk
		}
	}
}

// NewPool constructs a pool keeping between min and max live workers,
// 1 <= min <= max.
func NewPool(min, max int, opts ...PoolOption) *Pool {
	if min < 1 || max < min {
		panic(fmt.Sprintf("synckit: invalid pool bounds min=%d max=%d", min, max))
	}
	p := &Pool{
		min:         min,
		max:         max,
		queueDepth:  DefaultPoolQueueDepth,
		idleTimeout: DefaultPoolIdleTimeout,
		clk:         clock.Real{},
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = loggingutil.WithSubsystem(p.logger, "kernel.pool")
	p.queue = make(chan poolTask, p.queueDepth)
	p.mu.Lock()
	for i := 0; i < min; i++ {
		p.spawnLocked()
	}
	p.mu.Unlock()
	return p
}

// spawnLocked starts one worker. Callers hold p.mu.
func (p *Pool) spawnLocked() {
	p.workers++
	p.wg.Add(1)
	go p.worker()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.queue:
			// Shutdown wins over a simultaneously ready queue pull, so no
			// task starts after Destroy begins draining.
			select {
			case <-p.done:
				t.res <- &api.PoolShutdownError{Primitive: "pool"}
				return
			default:
			}
			p.run(t)
		case <-p.done:
			return
		case <-p.clk.After(p.idleTimeout):
			p.mu.Lock()
			if p.workers > p.min {
				p.workers--
				p.mu.Unlock()
				p.logger.Debug("pool.worker.idle_exit")
				return
			}
			p.mu.Unlock()
		}
	}
}

func (p *Pool) run(t poolTask) {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	err := p.invoke(t)
	t.res <- err

	p.mu.Lock()
	p.active--
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.mu.Unlock()
}

// invoke runs the task and converts a panic into a failure so the worker
// survives misbehaving tasks.
func (p *Pool) invoke(t poolTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool: task panic: %v", r)
			p.logger.Error("pool.task.panic", "panic", fmt.Sprint(r))
		}
	}()
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return t.fn(ctx)
}

// Submit enqueues a task and returns a channel delivering its result. The
// call blocks only while the backlog is full and the pool cannot grow; a
// saturated submission fails with ctx.Err() once ctx is done.
func (p *Pool) Submit(ctx context.Context, fn Task) <-chan error {
	res := make(chan error, 1)
	t := poolTask{ctx: ctx, fn: fn, res: res}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		res <- &api.PoolShutdownError{Primitive: "pool"}
		return res
	}
	// Grow when every worker is busy and the backlog is non-trivial.
	if p.workers < p.max && p.active >= p.workers {
		p.spawnLocked()
	}
	p.mu.Unlock()

	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}
	select {
	case p.queue <- t:
	case <-cancelled:
		res <- ctx.Err()
	case <-p.done:
		res <- &api.PoolShutdownError{Primitive: "pool"}
	}
	return res
}

// Execute submits fn and waits for its result or ctx expiry. A task already
// enqueued when ctx expires keeps running; only the wait is abandoned.
func (p *Pool) Execute(ctx context.Context, fn Task) error {
	select {
	case err := <-p.Submit(ctx, fn):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports current worker and task counts.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Workers:   p.workers,
		Active:    p.active,
		Idle:      p.workers - p.active,
		Queued:    len(p.queue),
		Completed: p.completed,
		Failed:    p.failed,
	}
}

// ClearQueue drops all backlogged tasks, failing each with a
// ForcedReleaseError, and reports how many were dropped. Running tasks are
// unaffected. Used by diagnostics recovery.
func (p *Pool) ClearQueue() int {
	cleared := 0
	for {
		select {
		case t := <-p.queue:
			t.res <- &api.ForcedReleaseError{Key: "pool"}
			cleared++
		default:
			if cleared > 0 {
				p.logger.Warn("pool.queue.cleared", "tasks", cleared)
			}
			return cleared
		}
	}
}

// Destroy stops all workers and fails backlogged tasks with a
// PoolShutdownError. Destroy blocks until running tasks finish.
func (p *Pool) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	for {
		select {
		case t := <-p.queue:
			t.res <- &api.PoolShutdownError{Primitive: "pool"}
		default:
			p.mu.Lock()
			p.workers = 0
			p.mu.Unlock()
			return
		}
	}
}
