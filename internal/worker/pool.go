// Package worker runs archive jobs on a fixed set of goroutines.
package worker

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcdonaldj/zipstage/internal/future"
)

var (
	// ErrSaturated is returned by Submit when the queue is full.
	ErrSaturated = errors.New("worker pool saturated")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("worker pool closed")
)

// job is one queued unit of work. run publishes its own outcome.
type job struct {
	name string
	run  func()
}

// Pool executes jobs with at most Workers running and QueueDepth waiting.
// Submit never blocks: beyond that it rejects with ErrSaturated.
type Pool struct {
	Workers    int
	QueueDepth int

	logger *slog.Logger
	jobs   chan job
	group  errgroup.Group

	mu     sync.RWMutex
	closed bool

	inFlight atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger for job lifecycle output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New creates a pool and starts its workers.
func New(workers, queueDepth int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	p := &Pool{
		Workers:    workers,
		QueueDepth: queueDepth,
		logger:     slog.New(slog.DiscardHandler),
		jobs:       make(chan job, queueDepth),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workers; i++ {
		id := i
		p.group.Go(func() error {
			for j := range p.jobs {
				p.handle(id, j)
			}
			return nil
		})
	}
	return p
}

func (p *Pool) handle(id int, j job) {
	defer p.inFlight.Add(-1)

	start := time.Now()
	p.logger.Debug("job started", slog.String("job", j.name), slog.Int("worker", id))
	j.run()
	p.logger.Debug("job finished",
		slog.String("job", j.name),
		slog.Int("worker", id),
		slog.Duration("elapsed", time.Since(start)))
}

// Submit queues work and returns its future. The work runs on a pool
// goroutine; its error or panic is delivered through the future.
func Submit[T any](p *Pool, name string, work func() (T, error)) (*future.Future[T], error) {
	f, complete := future.New[T]()
	j := job{
		name: name,
		run:  func() { future.Run(work, complete) },
	}
	if err := p.enqueue(j); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *Pool) enqueue(j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	// Counted before the send so a fast worker can't decrement first.
	p.inFlight.Add(1)
	select {
	case p.jobs <- j:
		return nil
	default:
		p.inFlight.Add(-1)
		p.logger.Warn("job rejected", slog.String("job", j.name), slog.Int64("in_flight", p.inFlight.Load()))
		return ErrSaturated
	}
}

// InFlight returns the number of queued plus running jobs.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Close stops accepting jobs and waits for queued and running ones to finish.
// It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	_ = p.group.Wait()
}
