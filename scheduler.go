package crosscheck

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler drives periodic corpus runs. In run-once mode Start executes the
// callback synchronously and returns its error; in continuous mode the first
// run happens at Start and later runs on the interval, with errors logged
// rather than returned.
type Scheduler struct {
	interval time.Duration
	runOnce  bool
	log      *slog.Logger
	callback func() error

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(interval time.Duration, runOnce bool, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		runOnce:  runOnce,
		log:      log,
		done:     make(chan struct{}),
	}
}

// RegisterCallback registers the callback to be called when a run is due.
func (s *Scheduler) RegisterCallback(callback func() error) {
	s.callback = callback
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}

	s.done = make(chan struct{})
	s.running.Store(true)

	if s.runOnce {
		s.log.Info("starting scheduler in run-once mode")
		return s.callback()
	}

	s.log.Info("starting scheduler in continuous mode", "interval", s.interval)

	if err := s.callback(); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Debug("starting periodic run goroutine", "interval", s.interval)

		for {
			select {
			case <-time.After(s.interval):
				if !s.running.Load() {
					s.log.Debug("scheduler stopped, exiting periodic run goroutine")
					return
				}

				s.log.Info("running periodic corpus run")
				if err := s.callback(); err != nil {
					s.log.Error("periodic corpus run failed", "error", err)
				}

			case <-s.done:
				s.log.Debug("done signal received, stopping periodic run goroutine")
				return

			case <-ctx.Done():
				s.log.Debug("context canceled, stopping periodic run goroutine")
				s.running.Store(false)
				return
			}
		}
	}()

	return nil
}

// Stop stops the scheduler. It is safe to call more than once.
func (s *Scheduler) Stop() error {
	if !s.running.Load() {
		s.log.Debug("scheduler already stopped, nothing to do")
		return nil
	}

	s.running.Store(false)

	s.log.Debug("sending done signal to goroutines")
	close(s.done)

	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *Scheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated or the context
// expires.
func (s *Scheduler) WaitForShutdown(ctx context.Context) error {
	s.log.Debug("waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.log.Warn("timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
