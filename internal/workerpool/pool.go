// Package workerpool runs chunk generation on a fixed set of goroutines.
//
// Jobs go in through a bounded queue sized to the in-flight watermark and
// finished results come back through an unbounded queue the frame loop drains
// at its own pace. Neither side ever blocks the caller.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/earthring/chunkstream/internal/chunkcoord"
	"github.com/earthring/chunkstream/internal/generation"
	"github.com/earthring/chunkstream/internal/logging"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("worker pool closed")
	// ErrQueueFull is returned by Submit when the job queue has no room.
	ErrQueueFull = errors.New("worker pool queue full")
)

// Job asks a worker to generate one coordinate.
type Job struct {
	Coord   chunkcoord.Coord
	Attempt int
}

// Result is a finished job. Exactly one of Payload and Err is set. The
// payload's own coordinate is authoritative; it normally equals Job.Coord.
type Result struct {
	Job     Job
	Payload *generation.Payload
	Err     error
}

// Config sizes the pool.
type Config struct {
	Workers  int
	Capacity int // job queue capacity, normally the in-flight watermark
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int
	Busy      int
	Queued    int
	Pending   int // finished results not yet received
	Submitted uint64
	Finished  uint64
	Failed    uint64
	Restarts  uint64
}

// Pool is a fixed set of generation workers.
type Pool struct {
	gen     generation.Generator
	params  generation.Params
	workers int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex // guards closed and sends on jobs
	closed bool
	jobs   chan Job

	results resultQueue

	busy      atomic.Int64
	submitted atomic.Uint64
	finished  atomic.Uint64
	failed    atomic.Uint64
	restarts  atomic.Uint64
}

// New starts cfg.Workers workers. Each worker keeps its own copy of params.
func New(ctx context.Context, cfg Config, gen generation.Generator, params generation.Params, logger *slog.Logger) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.Workers)
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", cfg.Capacity)
	}
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		gen:     gen,
		params:  params.Clone(),
		workers: cfg.Workers,
		logger:  logger.With("component", "workerpool"),
		ctx:     poolCtx,
		cancel:  cancel,
		jobs:    make(chan Job, cfg.Capacity),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.supervise(i)
	}
	p.logger.Info("worker pool started", "workers", cfg.Workers, "capacity", cfg.Capacity)
	return p, nil
}

// Submit queues a job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// TryRecv returns the oldest finished result, if any.
func (p *Pool) TryRecv() (Result, bool) {
	return p.results.pop()
}

// Drain returns up to max finished results in completion order. Results
// beyond max stay queued.
func (p *Pool) Drain(max int) []Result {
	return p.results.popN(max)
}

// Pending returns the number of finished results waiting to be received.
func (p *Pool) Pending() int {
	return p.results.len()
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Busy:      int(p.busy.Load()),
		Queued:    len(p.jobs),
		Pending:   p.results.len(),
		Submitted: p.submitted.Load(),
		Finished:  p.finished.Load(),
		Failed:    p.failed.Load(),
		Restarts:  p.restarts.Load(),
	}
}

// Close stops accepting jobs, cancels running generators and waits for every
// worker to exit. Queued jobs that no worker picked up are dropped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cancel()
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped", "finished", p.finished.Load(), "restarts", p.restarts.Load())
}

// supervise keeps worker id alive until the pool shuts down
func (p *Pool) supervise(id int) {
	defer p.wg.Done()
	params := p.params.Clone()

	for !p.work(id, params) {
		p.restarts.Add(1)
		p.logger.Error("worker lost, respawning", "worker", id)
	}
}

// work processes jobs until shutdown (returns true) or a generator panic
// (returns false)
func (p *Pool) work(id int, params generation.Params) (done bool) {
	for {
		select {
		case <-p.ctx.Done():
			return true
		case job, ok := <-p.jobs:
			if !ok {
				return true
			}
			if p.ctx.Err() != nil {
				return true
			}
			if !p.process(id, job, params) {
				return false
			}
		}
	}
}

// process runs one job and publishes its result. It reports false when the
// generator panicked.
func (p *Pool) process(id int, job Job, params generation.Params) (ok bool) {
	p.busy.Add(1)
	defer p.busy.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("generator panic", "worker", id, "chunk", job.Coord.String(), "panic", r, "stack", string(debug.Stack()))
			p.publish(Result{Job: job, Err: &generation.GenerationError{
				Coord:   job.Coord,
				Attempt: job.Attempt,
				Err:     fmt.Errorf("generator panic: %v", r),
			}})
			ok = false
		}
	}()

	data, err := p.gen.Generate(p.ctx, job.Coord, params)
	if err == nil && data == nil {
		err = fmt.Errorf("generator returned no data")
	}
	if err != nil {
		p.publish(Result{Job: job, Err: wrapError(job, err)})
		return true
	}

	p.publish(Result{Job: job, Payload: generation.NewPayload(data)})
	return true
}

func (p *Pool) publish(r Result) {
	p.finished.Add(1)
	if r.Err != nil {
		p.failed.Add(1)
		p.logger.Debug("generation failed", "chunk", r.Job.Coord.String(), "error", r.Err)
	}
	p.results.push(r)
}

func wrapError(job Job, err error) error {
	var genErr *generation.GenerationError
	if errors.As(err, &genErr) {
		copied := *genErr
		copied.Attempt = job.Attempt
		return &copied
	}
	return &generation.GenerationError{Coord: job.Coord, Attempt: job.Attempt, Err: err}
}
