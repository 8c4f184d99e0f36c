// Package scheduler is a single-threaded, tick-driven continuation runner.
//
// It binds pollable work (futures) to a host frame loop: a continuation is
// parked behind a YieldInstruction and runs on the tick where the instruction
// stops asking to wait. Tick never blocks. The Scheduler is not safe for
// concurrent use; all calls belong to the host loop's goroutine.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// YieldInstruction is polled once per tick until it returns false.
type YieldInstruction interface {
	KeepWaiting() bool
}

type parked struct {
	instr YieldInstruction
	then  func()
}

// Scheduler runs parked continuations as their instructions complete.
type Scheduler struct {
	logger  *slog.Logger
	waiting []parked
	frame   uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WaitFor parks then until instr stops waiting. A nil then is allowed and
// simply keeps the scheduler busy until instr finishes.
func (s *Scheduler) WaitFor(instr YieldInstruction, then func()) {
	s.waiting = append(s.waiting, parked{instr: instr, then: then})
}

// Tick advances one frame: every parked instruction is polled exactly once
// and the continuations of finished ones run in registration order.
// Continuations parked during this tick are first polled on the next one.
func (s *Scheduler) Tick() {
	s.frame++

	current := s.waiting
	s.waiting = nil

	var still []parked
	for _, p := range current {
		if p.instr.KeepWaiting() {
			still = append(still, p)
			continue
		}
		if p.then != nil {
			p.then()
		}
	}

	// Anything parked by a continuation lands behind the survivors.
	s.waiting = append(still, s.waiting...)
}

// Parked returns the number of continuations still waiting.
func (s *Scheduler) Parked() int {
	return len(s.waiting)
}

// Frame returns the number of ticks run so far.
func (s *Scheduler) Frame() uint64 {
	return s.frame
}

// Run ticks every interval until nothing is parked or ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for s.Parked() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Debug("scheduler stopped", slog.Uint64("frame", s.frame), slog.Int("parked", s.Parked()))
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
	return nil
}

// Frames returns an instruction that waits n ticks of s.
func (s *Scheduler) Frames(n uint64) YieldInstruction {
	return &frameWait{s: s, until: s.frame + n}
}

type frameWait struct {
	s     *Scheduler
	until uint64
}

func (w *frameWait) KeepWaiting() bool {
	return w.s.frame < w.until
}

// Func adapts a plain predicate to a YieldInstruction.
type Func func() bool

// KeepWaiting calls f.
func (f Func) KeepWaiting() bool {
	return f()
}
