package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/s3sync/internal/sync/filter"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounce = 2 * time.Second
	eventBufferSize = 64
	// ownWriteTTL bounds how long a path written by a sync run masks events.
	ownWriteTTL = 30 * time.Second
)

// FilterCallback returns true if the event for path should be dropped.
type FilterCallback func(path string) bool

// Watcher turns bursts of filesystem events under a folder into a single
// change signal once the folder has been quiet for the debounce window.
type Watcher struct {
	dir       string
	clock     clockwork.Clock
	debounce  time.Duration
	rawEvents chan notify.EventInfo
	changes   chan struct{}
	ignore    FilterCallback

	mu      sync.Mutex
	timer   clockwork.Timer
	pending map[string]struct{}
	own     map[string]time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

func NewWatcher(dir string, clock clockwork.Clock) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{
		dir:      strings.TrimRight(dir, "/"),
		clock:    clock,
		debounce: DefaultDebounce,
		changes:  make(chan struct{}, 1),
		ignore:   ignoreTransient,
		pending:  make(map[string]struct{}),
		own:      make(map[string]time.Time),
		done:     make(chan struct{}),
	}
}

func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// FilterPaths replaces the default filter, which drops partial downloads.
func (w *Watcher) FilterPaths(cb FilterCallback) {
	w.ignore = cb
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("watcher start", "dir", w.dir)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(w.dir+"/...", w.rawEvents, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) Stop() {
	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	slog.Info("watcher stopped", "dir", w.dir)
}

// MarkOwnWrite records that a sync run wrote or removed path, so the events
// it causes do not schedule another run. A real edit of the same path within
// ownWriteTTL is masked as well.
func (w *Watcher) MarkOwnWrite(path string) {
	w.mu.Lock()
	w.own[path] = w.clock.Now()
	w.mu.Unlock()
}

// IsOwnWrite reports whether path is currently marked by MarkOwnWrite.
func (w *Watcher) IsOwnWrite(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.own[path]
	return ok && w.clock.Since(at) <= ownWriteTTL
}

// Changes delivers at most one pending signal; further changes coalesce.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			if w.ignore != nil && w.ignore(event.Path()) {
				continue
			}
			w.observe(event)
		}
	}
}

func (w *Watcher) observe(event notify.EventInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Path()] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.clock.AfterFunc(w.debounce, w.flush)
	slog.Debug("watcher event", "event", event.Event(), "path", event.Path())
}

func (w *Watcher) flush() {
	w.mu.Lock()
	now := w.clock.Now()
	for path, at := range w.own {
		if now.Sub(at) > ownWriteTTL {
			delete(w.own, path)
		}
	}
	n, masked := 0, 0
	for path := range w.pending {
		if _, ok := w.own[path]; ok {
			masked++
		} else {
			n++
		}
	}
	clear(w.pending)
	w.timer = nil
	w.mu.Unlock()

	if n == 0 {
		if masked > 0 {
			slog.Debug("watcher ignored own writes", "dir", w.dir, "paths", masked)
		}
		return
	}
	select {
	case w.changes <- struct{}{}:
		slog.Debug("watcher change", "dir", w.dir, "paths", n)
	default:
	}
}

func ignoreTransient(path string) bool {
	return strings.HasSuffix(path, filter.TempSuffix)
}
