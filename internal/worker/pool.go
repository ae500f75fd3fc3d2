package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/testbench-io/testbench/internal/assertions"
	"github.com/testbench-io/testbench/internal/wire"
)

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Concurrency is the number of goroutines draining the queue.
	Concurrency int
	// QueueSize bounds the FIFO queue. Submit fails with ErrQueueFull beyond it.
	QueueSize int
	// Evaluate makes workers evaluate assertions and report outcomes
	// alongside the response.
	Evaluate bool
	// DefaultTimeout applies to envelopes without their own timeout.
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

type job struct {
	env  wire.Envelope
	done Callback
}

// Pool is an in-process worker: a bounded FIFO queue drained by a fixed
// number of goroutines.
type Pool struct {
	exec   Executor
	opts   PoolOptions
	logger *slog.Logger

	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	busy      atomic.Int64
	processed atomic.Int64
}

// NewPool starts the pool's goroutines.
func NewPool(exec Executor, opts PoolOptions) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		exec:   exec,
		opts:   opts,
		logger: logger.With("component", "worker-pool"),
		queue:  make(chan job, opts.QueueSize),
	}
	for i := 0; i < opts.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
	return p
}

// Submit enqueues env without blocking.
func (p *Pool) Submit(ctx context.Context, env wire.Envelope, done Callback) error {
	if done == nil {
		return fmt.Errorf("submit %s: callback is required", env.UnitID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- job{env: env, done: done}:
		p.logger.Debug("unit queued", "unit_id", env.UnitID, "run_id", env.RunID, "depth", len(p.queue))
		return nil
	default:
		return fmt.Errorf("submit %s: %w", env.UnitID, ErrQueueFull)
	}
}

// Health reports queue depth and worker count.
func (p *Pool) Health(ctx context.Context) (Health, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	h := Health{
		Backend:    "local",
		Healthy:    !closed,
		QueueDepth: len(p.queue),
		Capacity:   cap(p.queue),
		Workers:    p.opts.Concurrency,
		Message:    fmt.Sprintf("%d busy, %d processed", p.busy.Load(), p.processed.Load()),
	}
	if closed {
		h.Message = "pool is closed"
	}
	return h, nil
}

// Close stops accepting work, lets queued units finish and waits for the
// goroutines to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		p.busy.Add(1)
		p.process(id, j)
		p.busy.Add(-1)
		p.processed.Add(1)
	}
}

func (p *Pool) process(workerID int, j job) {
	res := Execute(context.Background(), p.exec, j.env, p.opts.DefaultTimeout, p.opts.Evaluate)
	if res.Error != "" {
		p.logger.Debug("unit failed", "worker", workerID, "unit_id", j.env.UnitID, "error", res.Error)
	} else {
		p.logger.Debug("unit executed", "worker", workerID, "unit_id", j.env.UnitID, "status", res.Response.StatusCode)
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("callback panicked", "unit_id", j.env.UnitID, "panic", r)
		}
	}()
	j.done(res)
}

// Execute runs one envelope through exec and builds the raw result. With
// evaluate set, assertion outcomes are included.
func Execute(ctx context.Context, exec Executor, env wire.Envelope, defaultTimeout time.Duration, evaluate bool) (res wire.RawResult) {
	res.UnitID = env.UnitID

	timeout := env.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res.Response = nil
			res.Outcomes = nil
			res.Error = fmt.Sprintf("executor panic: %v", r)
		}
	}()

	resp, err := exec.Execute(ctx, env.Request)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Response = &resp
	if evaluate && len(env.Assertions) > 0 {
		res.Outcomes = assertions.EvaluateAll(env.Assertions, resp)
	}
	return res
}
