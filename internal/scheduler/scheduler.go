// Package scheduler drives the upload queue one item at a time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInterval = 2500 * time.Millisecond
	MinInterval     = 500 * time.Millisecond
)

// ProcessFunc handles at most one queued item per call
type ProcessFunc func(ctx context.Context) error

type Scheduler struct {
	interval time.Duration
	process  ProcessFunc

	// held for the duration of a tick
	muTick sync.Mutex

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a stopped scheduler. A zero interval means DefaultInterval;
// anything shorter than MinInterval is raised to it.
func New(interval time.Duration, process ProcessFunc) *Scheduler {
	if interval == 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: max(interval, MinInterval),
		process:  process,
	}
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins ticking. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel

	slog.Info("scheduler start", "interval", s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// timer instead of ticker so a slow tick does not leave ticks queued behind it
		timer := time.NewTimer(s.interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				s.Tick(ctx)
				timer.Reset(s.interval)
			}
		}
	}()
}

// Stop cancels the timer and waits for an in-flight tick to return.
// Calling Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.ctx = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	s.wg.Wait()
	slog.Info("scheduler stop")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Kick runs a tick in the background, e.g. when new work was enqueued by another process.
// It is a no-op when the scheduler is stopped.
func (s *Scheduler) Kick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}

	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Tick(ctx)
	}()
}

// Tick runs process once unless a previous tick is still in flight,
// in which case it returns false immediately.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.muTick.TryLock() {
		slog.Debug("scheduler tick skipped, previous tick in flight")
		return false
	}
	defer s.muTick.Unlock()

	if err := s.process(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("scheduler tick", "error", err)
	}
	return true
}
