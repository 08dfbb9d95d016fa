// Package scheduler triggers sync runs for a folder on an interval, on
// filesystem changes and on demand.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/s3sync/internal/sync"
)

// RunFunc performs one sync of the folder.
type RunFunc func(ctx context.Context) error

type Option func(*Scheduler)

// WithInterval schedules periodic runs. Zero disables them.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithWatcher runs a sync after every debounced change signal.
func WithWatcher(w *Watcher) Option {
	return func(s *Scheduler) { s.watcher = w }
}

// WithoutInitialRun skips the run Start normally performs right away.
func WithoutInitialRun() Option {
	return func(s *Scheduler) { s.skipInitial = true }
}

type Scheduler struct {
	folder      string
	run         RunFunc
	interval    time.Duration
	clock       clockwork.Clock
	watcher     *Watcher
	skipInitial bool
	trigger     chan struct{}

	// onRun is called after each run, for tests.
	onRun func(error)
}

func New(folder string, run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		folder:  folder,
		run:     run,
		clock:   clockwork.NewRealClock(),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger requests a run. Requests made while one is pending coalesce.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start blocks until ctx is done. Runs are serialized; a tick or change that
// arrives during a run is served once the run returns.
func (s *Scheduler) Start(ctx context.Context) error {
	slog.Info("scheduler start", "folder", s.folder, "interval", s.interval, "watch", s.watcher != nil)
	defer slog.Info("scheduler stopped", "folder", s.folder)

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	var changes <-chan struct{}
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return err
		}
		defer s.watcher.Stop()
		changes = s.watcher.Changes()
	}

	if !s.skipInitial {
		s.runOnce(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			s.runOnce(ctx, "interval")
		case <-changes:
			s.runOnce(ctx, "change")
		case <-s.trigger:
			s.runOnce(ctx, "manual")
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	start := s.clock.Now()
	err := s.run(ctx)
	switch {
	case err == nil:
		slog.Debug("scheduled sync", "folder", s.folder, "reason", reason, "took", s.clock.Since(start))
	case errors.Is(err, sync.ErrFolderBusy):
		slog.Info("scheduled sync skipped", "folder", s.folder, "reason", reason, "error", err)
	case errors.Is(err, sync.ErrRunCancelled) && ctx.Err() != nil:
	default:
		slog.Error("scheduled sync", "folder", s.folder, "reason", reason, "error", err)
	}
	if s.onRun != nil {
		s.onRun(err)
	}
}
