package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/s3sync/internal/client/config"
	"github.com/openmined/s3sync/internal/scheduler"
	"github.com/openmined/s3sync/internal/sync"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/transfer"
	"golang.org/x/sync/errgroup"
)

var ErrNothingToSchedule = errors.New("no enabled folders to schedule")

// Daemon keeps every enabled folder in sync until its context ends.
type Daemon struct {
	client *Client
	clock  clockwork.Clock
}

func NewDaemon(c *Client) *Daemon {
	return &Daemon{client: c, clock: clockwork.NewRealClock()}
}

func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.client.Config()
	folders := cfg.EnabledFolders()
	if len(folders) == 0 {
		return ErrNothingToSchedule
	}
	slog.Info("daemon start", "folders", len(folders), "interval", cfg.Interval(), "watch", cfg.Watch)

	if n, err := d.client.History().Prune(ctx, historyKeep); err != nil {
		slog.Warn("history prune", "error", err)
	} else if n > 0 {
		slog.Debug("history pruned", "runs", n)
	}

	if cfg.Interval() == 0 && !cfg.Watch {
		return d.syncOnce(ctx, folders)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	watchers := make(map[string]*scheduler.Watcher)
	for _, folder := range folders {
		s, w := d.scheduler(folder)
		if w != nil {
			watchers[folder.Path] = w
		}
		eg.Go(func() error {
			if err := s.Start(egCtx); err != nil {
				return fmt.Errorf("folder %s: %w", folder.Path, err)
			}
			return nil
		})
	}

	if len(watchers) > 0 {
		events := d.client.Status().Subscribe()
		defer d.client.Status().Unsubscribe(events)
		go markOwnWrites(egCtx, events, watchers)
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

// syncOnce runs every folder once when nothing would trigger a later run.
func (d *Daemon) syncOnce(ctx context.Context, folders []config.Folder) error {
	var eg errgroup.Group
	errs := make([]error, len(folders))
	for i, folder := range folders {
		eg.Go(func() error {
			if _, err := d.client.Sync(ctx, folder, false); err != nil {
				errs[i] = fmt.Errorf("folder %s: %w", folder.Path, err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	if err := errors.Join(errs...); err != nil {
		slog.Error("daemon sync", "error", err)
		return err
	}
	slog.Info("daemon done, no interval or watch configured")
	return nil
}

func (d *Daemon) scheduler(folder config.Folder) (*scheduler.Scheduler, *scheduler.Watcher) {
	cfg := d.client.Config()
	opts := []scheduler.Option{
		scheduler.WithInterval(cfg.Interval()),
		scheduler.WithClock(d.clock),
	}
	var w *scheduler.Watcher
	if cfg.Watch {
		w = scheduler.NewWatcher(folder.Path, d.clock)
		opts = append(opts, scheduler.WithWatcher(w))
	}
	s := scheduler.New(folder.Path, func(ctx context.Context) error {
		_, err := d.client.Sync(ctx, folder, false)
		return err
	}, opts...)
	return s, w
}

// markOwnWrites tells each folder's watcher about the local files its sync
// runs write or remove, so finishing a download does not schedule a run.
func markOwnWrites(ctx context.Context, events <-chan *sync.StatusEvent, watchers map[string]*scheduler.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w, found := watchers[ev.Folder]
			if !found {
				continue
			}
			if path, ok := ownWrite(ev); ok {
				w.MarkOwnWrite(path)
			}
		}
	}
}

// ownWrite returns the absolute local path a progress event touches, if the
// action changes the local tree.
func ownWrite(ev *sync.StatusEvent) (string, bool) {
	p := ev.Progress
	if p == nil || p.State == transfer.StatePending {
		return "", false
	}
	if p.Kind != diff.ActionDownload && p.Kind != diff.ActionDeleteLocal {
		return "", false
	}
	return filepath.Join(ev.Folder, filepath.FromSlash(p.Path)), true
}
