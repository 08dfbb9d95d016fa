package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/s3sync/internal/sync"
	"github.com/openmined/s3sync/internal/sync/filter"
	"github.com/rjeczalik/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func recv(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		require.FailNow(t, "timeout waiting for "+what)
	}
}

func startScheduler(t *testing.T, s *Scheduler) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()
	t.Cleanup(cancel)
	return cancel, errc
}

func TestScheduler_IntervalRuns(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ran := make(chan struct{}, 4)
	s := New("/data", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}, WithInterval(10*time.Minute), WithClock(fc))

	cancel, done := startScheduler(t, s)
	recv(t, ran, "startup run")

	fc.BlockUntil(1)
	fc.Advance(10 * time.Minute)
	recv(t, ran, "interval run")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_ManualOnlyWhenIntervalZero(t *testing.T) {
	fc := clockwork.NewFakeClock()
	var runs atomic.Int32
	ran := make(chan struct{}, 4)
	s := New("/data", func(ctx context.Context) error {
		runs.Add(1)
		ran <- struct{}{}
		return nil
	}, WithClock(fc), WithoutInitialRun())

	startScheduler(t, s)
	fc.Advance(24 * time.Hour)
	assert.Never(t, func() bool { return runs.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	s.Trigger()
	recv(t, ran, "manual run")
	assert.Equal(t, int32(1), runs.Load())
}

func TestScheduler_TriggersCoalesceDuringRun(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{}, 4)
	gate := make(chan struct{})
	s := New("/data", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			started <- struct{}{}
			<-gate
		}
		return nil
	}, WithoutInitialRun())

	startScheduler(t, s)
	s.Trigger()
	recv(t, started, "first run")

	for range 5 {
		s.Trigger()
	}
	close(gate)

	assert.Eventually(t, func() bool { return runs.Load() == 2 }, waitTimeout, 10*time.Millisecond)
	assert.Never(t, func() bool { return runs.Load() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestScheduler_BusyFolderDoesNotStopLoop(t *testing.T) {
	results := make(chan error, 4)
	calls := 0
	s := New("/data", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return sync.ErrFolderBusy
		}
		return errors.New("boom")
	}, WithoutInitialRun())
	s.onRun = func(err error) { results <- err }

	startScheduler(t, s)
	s.Trigger()
	select {
	case err := <-results:
		assert.ErrorIs(t, err, sync.ErrFolderBusy)
	case <-time.After(waitTimeout):
		t.Fatal("no first run")
	}

	s.Trigger()
	select {
	case err := <-results:
		assert.EqualError(t, err, "boom")
	case <-time.After(waitTimeout):
		t.Fatal("no second run")
	}
}

type fakeEvent struct{ path string }

func (e fakeEvent) Event() notify.Event { return notify.Write }
func (e fakeEvent) Path() string        { return e.path }
func (e fakeEvent) Sys() interface{}    { return nil }

func TestWatcher_DebounceCoalesces(t *testing.T) {
	fc := clockwork.NewFakeClock()
	w := NewWatcher("/data", fc)
	w.SetDebounce(time.Second)

	w.observe(fakeEvent{"/data/a.txt"})
	fc.Advance(500 * time.Millisecond)
	w.observe(fakeEvent{"/data/b.txt"})
	fc.Advance(500 * time.Millisecond)

	select {
	case <-w.Changes():
		t.Fatal("change signalled before the folder was quiet")
	default:
	}

	fc.Advance(500 * time.Millisecond)
	recv(t, w.Changes(), "debounced change")

	select {
	case <-w.Changes():
		t.Fatal("burst produced more than one change")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOwnWrites(t *testing.T) {
	fc := clockwork.NewFakeClock()
	w := NewWatcher("/data", fc)
	w.SetDebounce(time.Second)

	// a download renamed into place
	w.MarkOwnWrite("/data/photo.jpg")
	w.observe(fakeEvent{"/data/photo.jpg"})
	fc.Advance(time.Second)

	select {
	case <-w.Changes():
		t.Fatal("own write scheduled a run")
	case <-time.After(50 * time.Millisecond):
	}

	// a real edit in the same burst still counts
	w.observe(fakeEvent{"/data/photo.jpg"})
	w.observe(fakeEvent{"/data/notes.txt"})
	fc.Advance(time.Second)
	recv(t, w.Changes(), "change for the user edit")

	// marks expire
	fc.Advance(ownWriteTTL)
	w.observe(fakeEvent{"/data/photo.jpg"})
	fc.Advance(time.Second)
	recv(t, w.Changes(), "change after the mark expired")
}

func TestWatcher_LoopFiltersTempFiles(t *testing.T) {
	fc := clockwork.NewFakeClock()
	w := NewWatcher("/data", fc)
	w.rawEvents = make(chan notify.EventInfo, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.wg.Add(1)
	go w.loop(ctx)

	w.rawEvents <- fakeEvent{"/data/.photo.jpg.123" + filter.TempSuffix}
	w.rawEvents <- fakeEvent{"/data/photo.jpg"}

	fc.BlockUntil(1)
	w.mu.Lock()
	assert.Len(t, w.pending, 1)
	w.mu.Unlock()

	fc.Advance(DefaultDebounce)
	recv(t, w.Changes(), "change")

	close(w.done)
	w.wg.Wait()
}

func TestWatcher_RealFilesystem(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	w := NewWatcher(dir, nil)
	w.SetDebounce(50 * time.Millisecond)
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello"), 0o644))
	recv(t, w.Changes(), "filesystem change")
}

func TestScheduler_WatcherTriggersRun(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	w := NewWatcher(dir, nil)
	w.SetDebounce(50 * time.Millisecond)
	ran := make(chan struct{}, 4)
	s := New(dir, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}, WithWatcher(w), WithoutInitialRun())

	startScheduler(t, s)
	// give the watch a moment to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	recv(t, ran, "run after change")
}
