package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/blob/blobtest"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const root = "/data"

type recorder struct {
	mu     sync.Mutex
	events []Progress
	on     func(Progress)
}

func (r *recorder) sink(p Progress) {
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
	if r.on != nil {
		r.on(p)
	}
}

func (r *recorder) forPath(path string) []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Progress
	for _, e := range r.events {
		if e.Path == path {
			out = append(out, e)
		}
	}
	return out
}

func testOptions() Options {
	return Options{
		Concurrency: 4,
		Retry:       RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond},
		LocalRoot:   root,
		Prefix:      "backup",
	}
}

func writeLocal(t *testing.T, fsys afero.Fs, rel, content string) *diff.FileEntry {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	return &diff.FileEntry{Path: rel, Size: int64(len(content)), ModTime: time.Now()}
}

func uploadAction(e *diff.FileEntry) diff.SyncAction {
	return diff.SyncAction{Kind: diff.ActionUpload, Path: e.Path, Reason: diff.ReasonLocalOnly, Local: e}
}

func seedRemote(store *blobtest.MemoryStore, rel, content string, mod time.Time) diff.SyncAction {
	store.Seed(blob.JoinKey("backup", rel), []byte(content), mod)
	return diff.SyncAction{
		Kind:   diff.ActionDownload,
		Path:   rel,
		Reason: diff.ReasonRemoteOnly,
		Remote: &diff.FileEntry{Path: rel, Size: int64(len(content)), ModTime: mod},
	}
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestExecute_UploadAndDownload(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	remoteMod := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	plan := diff.NewActionPlan([]diff.SyncAction{
		uploadAction(writeLocal(t, fsys, "a.txt", "hello")),
		seedRemote(store, "nested/b.txt", "world!", remoteMod),
		{Kind: diff.ActionSkip, Path: "c.txt", Reason: diff.ReasonIdentical},
	})

	summary := NewManager(store, fsys, testOptions()).Execute(context.Background(), plan, nil)

	assert.Equal(t, []string{"a.txt", "nested/b.txt"}, summary.Succeeded())
	assert.Empty(t, summary.Failed())
	assert.Equal(t, map[string]string{"c.txt": diff.ReasonIdentical}, summary.Skipped())
	assert.Equal(t, int64(11), summary.BytesTransferred)
	assert.NoError(t, summary.Fatal)

	data, ok := store.Data("backup/a.txt")
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))

	got, err := afero.ReadFile(fsys, "/data/nested/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "world!", string(got))

	info, err := fsys.Stat("/data/nested/b.txt")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(remoteMod))
}

func TestExecute_UploadRecordsMtimeMetadata(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	entry := writeLocal(t, fsys, "a.txt", "hello")
	mod := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, fsys.Chtimes("/data/a.txt", mod, mod))

	summary := NewManager(store, fsys, testOptions()).Execute(context.Background(), diff.NewActionPlan([]diff.SyncAction{uploadAction(entry)}), nil)
	require.Empty(t, summary.Failed())

	info, err := store.HeadObject(context.Background(), "backup/a.txt")
	require.NoError(t, err)
	assert.Equal(t, mod.Format(time.RFC3339Nano), info.Metadata[blob.MetaMtime])
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	store.FailTransient(blobtest.OpPut, "backup/d.txt", 2)

	rec := &recorder{}
	plan := diff.NewActionPlan([]diff.SyncAction{uploadAction(writeLocal(t, fsys, "d.txt", "data"))})
	summary := NewManager(store, fsys, testOptions()).Execute(context.Background(), plan, rec.sink)

	assert.Equal(t, []string{"d.txt"}, summary.Succeeded())
	assert.Equal(t, 2, summary.Retries("d.txt"))
	assert.Equal(t, 3, store.Calls(blobtest.OpPut))

	events := rec.forPath("d.txt")
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, StateCompleted, last.State)
	assert.Equal(t, 3, last.Attempt)
	assert.Equal(t, int64(4), last.BytesTransferred)
}

func TestExecute_TransientExhausted(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	store.FailTransient(blobtest.OpPut, "backup/d.txt", 10)

	plan := diff.NewActionPlan([]diff.SyncAction{uploadAction(writeLocal(t, fsys, "d.txt", "data"))})
	summary := NewManager(store, fsys, testOptions()).Execute(context.Background(), plan, nil)

	assert.Contains(t, summary.Failed(), "d.txt")
	assert.Equal(t, 2, summary.Retries("d.txt"))
	assert.Equal(t, 3, store.Calls(blobtest.OpPut))

	res, ok := summary.Result("d.txt")
	require.True(t, ok)
	assert.True(t, syncerr.IsTransient(res.Err))
}

func TestExecute_PermanentNotRetried(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	store.FailNext(blobtest.OpPut, "backup/e.txt", 5, syncerr.Permanent("put", errors.New("access denied")))

	plan := diff.NewActionPlan([]diff.SyncAction{
		uploadAction(writeLocal(t, fsys, "e.txt", "data")),
		uploadAction(writeLocal(t, fsys, "f.txt", "more")),
	})
	summary := NewManager(store, fsys, testOptions()).Execute(context.Background(), plan, nil)

	assert.Equal(t, []string{"f.txt"}, summary.Succeeded())
	assert.Contains(t, summary.Failed()["e.txt"], "access denied")
	assert.Equal(t, 0, summary.Retries("e.txt"))
	assert.Equal(t, 2, store.Calls(blobtest.OpPut))
	assert.NoError(t, summary.Fatal)
}

func TestExecute_MissingLocalFileFailsAction(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")

	plan := diff.NewActionPlan([]diff.SyncAction{
		uploadAction(&diff.FileEntry{Path: "gone.txt", Size: 3}),
	})
	summary := NewManager(store, fsys, testOptions()).Execute(context.Background(), plan, nil)

	res, ok := summary.Result("gone.txt")
	require.True(t, ok)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, syncerr.ClassFilesystem, syncerr.ClassOf(res.Err))
	assert.Equal(t, 0, res.Retries)
}

func TestExecute_AuthFailureStopsDispatch(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	store.FailNext(blobtest.OpPut, "", 1, syncerr.Auth(errors.New("invalid access key")))

	var actions []diff.SyncAction
	for i := range 5 {
		actions = append(actions, uploadAction(writeLocal(t, fsys, fmt.Sprintf("f%d.txt", i), "x")))
	}
	opts := testOptions()
	opts.Concurrency = 1

	summary := NewManager(store, fsys, opts).Execute(context.Background(), diff.NewActionPlan(actions), nil)

	require.Error(t, summary.Fatal)
	assert.True(t, syncerr.IsAuth(summary.Fatal))
	assert.Empty(t, summary.Succeeded())
	assert.Len(t, summary.NotStarted(), 4)
	assert.Len(t, summary.Failed(), 5)
	assert.Equal(t, 1, store.Calls(blobtest.OpPut))
}

func TestExecute_ConnectivityLoss(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	store.FailTransient(blobtest.OpPut, "", 1000)

	var actions []diff.SyncAction
	for i := range 6 {
		actions = append(actions, uploadAction(writeLocal(t, fsys, fmt.Sprintf("f%d.txt", i), "x")))
	}
	opts := testOptions()
	opts.Concurrency = 1
	opts.Retry.MaxAttempts = 1

	summary := NewManager(store, fsys, opts).Execute(context.Background(), diff.NewActionPlan(actions), nil)

	assert.ErrorIs(t, summary.Fatal, ErrConnectivityLost)
	assert.Len(t, summary.NotStarted(), 3)
	assert.Equal(t, 3, store.Calls(blobtest.OpPut))
}

func TestExecute_ConcurrencyDoesNotChangeOutcome(t *testing.T) {
	run := func(concurrency int) *Summary {
		fsys := afero.NewMemMapFs()
		store := blobtest.NewMemoryStore("bucket")
		var actions []diff.SyncAction
		for i := range 20 {
			rel := fmt.Sprintf("dir%d/file%02d.bin", i%3, i)
			actions = append(actions, uploadAction(writeLocal(t, fsys, rel, strings.Repeat("z", i+1))))
			switch i % 5 {
			case 1:
				store.FailTransient(blobtest.OpPut, "backup/"+rel, 1)
			case 3:
				store.FailNext(blobtest.OpPut, "backup/"+rel, 1, syncerr.Permanent("put", errors.New("denied")))
			}
		}
		for i := range 4 {
			actions = append(actions, seedRemote(store, fmt.Sprintf("remote%d.txt", i), "r", time.Now()))
		}
		opts := testOptions()
		opts.Concurrency = concurrency
		return NewManager(store, fsys, opts).Execute(context.Background(), diff.NewActionPlan(actions), nil)
	}

	serial := run(1)
	parallel := run(8)

	assert.Equal(t, serial.Succeeded(), parallel.Succeeded())
	assert.Equal(t, serial.Failed(), parallel.Failed())
	assert.Equal(t, serial.TotalRetries(), parallel.TotalRetries())
	assert.Equal(t, serial.BytesTransferred, parallel.BytesTransferred)
	assert.Len(t, serial.Failed(), 4)
}

func TestExecute_Multipart(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	content := strings.Repeat("0123456789", 4)

	opts := testOptions()
	opts.MultipartThreshold = 16
	opts.PartSize = 8

	plan := diff.NewActionPlan([]diff.SyncAction{uploadAction(writeLocal(t, fsys, "big.bin", content))})
	summary := NewManager(store, fsys, opts).Execute(context.Background(), plan, nil)
	require.Empty(t, summary.Failed())

	assert.Equal(t, 5, store.Calls(blobtest.OpPart))
	data, ok := store.Data("backup/big.bin")
	require.True(t, ok)
	assert.Equal(t, content, string(data))

	info, err := store.HeadObject(context.Background(), "backup/big.bin")
	require.NoError(t, err)
	assert.Equal(t, diff.SchemeMultipartETag, diff.FingerprintFromETag(info.ETag).Scheme)
	assert.Equal(t, md5hex(content), info.Metadata[blob.MetaMD5])
	assert.Zero(t, store.PendingUploads())
}

func TestExecute_MultipartAbortedOnPartFailure(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	store.FailNext(blobtest.OpPart, "backup/big.bin", 1, syncerr.Permanent("upload part", errors.New("bad digest")))

	opts := testOptions()
	opts.MultipartThreshold = 16
	opts.PartSize = 8

	plan := diff.NewActionPlan([]diff.SyncAction{uploadAction(writeLocal(t, fsys, "big.bin", strings.Repeat("a", 32)))})
	summary := NewManager(store, fsys, opts).Execute(context.Background(), plan, nil)

	assert.Contains(t, summary.Failed(), "big.bin")
	assert.Equal(t, []string{"backup/big.bin"}, store.Aborted())
	assert.Zero(t, store.PendingUploads())
	_, ok := store.Data("backup/big.bin")
	assert.False(t, ok)
}

func TestExecute_MultipartAbortedOnCancel(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")

	opts := testOptions()
	opts.MultipartThreshold = 16
	opts.PartSize = 8
	opts.ChunkSize = 4

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{on: func(p Progress) {
		if p.BytesTransferred >= 8 {
			cancel()
		}
	}}

	plan := diff.NewActionPlan([]diff.SyncAction{uploadAction(writeLocal(t, fsys, "big.bin", strings.Repeat("a", 40)))})
	summary := NewManager(store, fsys, opts).Execute(ctx, plan, rec.sink)

	res, ok := summary.Result("big.bin")
	require.True(t, ok)
	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, []string{"backup/big.bin"}, store.Aborted())
	assert.Zero(t, store.PendingUploads())
	_, ok = store.Data("backup/big.bin")
	assert.False(t, ok)
}

func TestExecute_ProgressMonotonicAcrossRetries(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")

	opts := testOptions()
	opts.MultipartThreshold = 16
	opts.PartSize = 8
	opts.ChunkSize = 4

	// the second part fails once, after the first part already counted
	var once sync.Once
	rec := &recorder{on: func(p Progress) {
		if p.BytesTransferred >= 8 {
			once.Do(func() { store.FailTransient(blobtest.OpPart, "backup/big.bin", 1) })
		}
	}}

	plan := diff.NewActionPlan([]diff.SyncAction{uploadAction(writeLocal(t, fsys, "big.bin", strings.Repeat("b", 24)))})
	summary := NewManager(store, fsys, opts).Execute(context.Background(), plan, rec.sink)
	require.Empty(t, summary.Failed())
	assert.Equal(t, 1, summary.Retries("big.bin"))

	events := rec.forPath("big.bin")
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].BytesTransferred, events[i-1].BytesTransferred, "event %d", i)
	}
	assert.Equal(t, StatePending, events[0].State)
	assert.Equal(t, StateCompleted, events[len(events)-1].State)
	assert.Equal(t, int64(24), events[len(events)-1].BytesTransferred)
}

func TestExecute_DeletesRunAfterTransfers(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	store.Latency = 2 * time.Millisecond

	var actions []diff.SyncAction
	for i := range 6 {
		actions = append(actions, uploadAction(writeLocal(t, fsys, fmt.Sprintf("up%d.txt", i), "u")))
	}
	for i := range 3 {
		rel := fmt.Sprintf("old%d.txt", i)
		store.Seed("backup/"+rel, []byte("o"), time.Now())
		actions = append(actions, diff.SyncAction{Kind: diff.ActionDeleteRemote, Path: rel, Reason: diff.ReasonRemoteOnly})
	}
	writeLocal(t, fsys, "stale/gone.txt", "s")
	actions = append(actions, diff.SyncAction{Kind: diff.ActionDeleteLocal, Path: "stale/gone.txt", Reason: diff.ReasonLocalOnly})

	var (
		mu          sync.Mutex
		transfersOK int
		violations  int
	)
	sink := func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case p.Kind.IsTransfer() && p.State.Terminal():
			transfersOK++
		case p.Kind.IsDelete() && p.State == StateInProgress && transfersOK < 6:
			violations++
		}
	}

	summary := NewManager(store, fsys, testOptions()).Execute(context.Background(), diff.NewActionPlan(actions), sink)
	require.Empty(t, summary.Failed())
	assert.Zero(t, violations)

	for i := range 3 {
		_, ok := store.Data(fmt.Sprintf("backup/old%d.txt", i))
		assert.False(t, ok)
	}
	exists, err := afero.Exists(fsys, "/data/stale")
	require.NoError(t, err)
	assert.False(t, exists, "empty parent directory is pruned")
	exists, err = afero.Exists(fsys, root)
	require.NoError(t, err)
	assert.True(t, exists, "root is never pruned")
}

func TestExecute_DeleteOfMissingTargetSucceeds(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll(root, 0o755))
	store := blobtest.NewMemoryStore("bucket")

	plan := diff.NewActionPlan([]diff.SyncAction{
		{Kind: diff.ActionDeleteLocal, Path: "nope.txt"},
		{Kind: diff.ActionDeleteRemote, Path: "nope-either.txt"},
	})
	summary := NewManager(store, fsys, testOptions()).Execute(context.Background(), plan, nil)
	assert.Len(t, summary.Succeeded(), 2)
}

func TestExecute_FailedDownloadLeavesNoTempFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	action := seedRemote(store, "sub/r.txt", "remote", time.Now())
	store.FailNext(blobtest.OpGet, "backup/sub/r.txt", 1, syncerr.Permanent("get", errors.New("gone")))

	summary := NewManager(store, fsys, testOptions()).Execute(context.Background(), diff.NewActionPlan([]diff.SyncAction{action}), nil)
	assert.Contains(t, summary.Failed(), "sub/r.txt")

	entries, err := afero.ReadDir(fsys, "/data/sub")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecute_DownloadOnDisk(t *testing.T) {
	dir := t.TempDir()
	store := blobtest.NewMemoryStore("bucket")
	action := seedRemote(store, "x/y.txt", "on disk", time.Now().Add(-time.Hour).Truncate(time.Second))

	opts := testOptions()
	opts.LocalRoot = dir
	summary := NewManager(store, afero.NewOsFs(), opts).Execute(context.Background(), diff.NewActionPlan([]diff.SyncAction{action}), nil)
	require.Empty(t, summary.Failed())

	got, err := afero.ReadFile(afero.NewOsFs(), filepath.Join(dir, "x", "y.txt"))
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(got))
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := diff.NewActionPlan([]diff.SyncAction{
		uploadAction(writeLocal(t, fsys, "a.txt", "a")),
		uploadAction(writeLocal(t, fsys, "b.txt", "b")),
	})
	summary := NewManager(store, fsys, testOptions()).Execute(ctx, plan, nil)

	assert.ErrorIs(t, summary.Fatal, context.Canceled)
	assert.Len(t, summary.NotStarted(), 2)
	assert.Zero(t, store.Calls(blobtest.OpPut))
}

func TestExecute_OpTimeoutIsRetried(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")
	store.Latency = 200 * time.Millisecond

	opts := testOptions()
	opts.OpTimeout = 10 * time.Millisecond
	opts.Retry.MaxAttempts = 2

	plan := diff.NewActionPlan([]diff.SyncAction{uploadAction(writeLocal(t, fsys, "slow.txt", "zzz"))})
	summary := NewManager(store, fsys, opts).Execute(context.Background(), plan, nil)

	res, ok := summary.Result("slow.txt")
	require.True(t, ok)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, res.Retries)
	assert.True(t, syncerr.IsTransient(res.Err))
}

func TestRetryPolicy_Schedule(t *testing.T) {
	m := NewManager(blobtest.NewMemoryStore("b"), afero.NewMemMapFs(), Options{
		Retry: RetryPolicy{MaxAttempts: 6, Base: 500 * time.Millisecond, Factor: 2, Max: 3 * time.Second},
	})
	b := m.retryPolicy(context.Background())

	var waits []time.Duration
	for range 6 {
		waits = append(waits, b.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		3 * time.Second,
		3 * time.Second,
		-1,
	}, waits)
}

func TestExecute_BandwidthCapIsAggregate(t *testing.T) {
	const (
		files = 4
		size  = 8 << 10
		rate  = 32 << 10
		chunk = 4 << 10
	)
	fsys := afero.NewMemMapFs()
	store := blobtest.NewMemoryStore("bucket")

	actions := make([]diff.SyncAction, 0, files)
	for i := range files {
		actions = append(actions, uploadAction(writeLocal(t, fsys, fmt.Sprintf("f%d.bin", i), strings.Repeat("b", size))))
	}

	opts := testOptions()
	opts.Concurrency = files
	opts.BandwidthLimit = rate
	opts.ChunkSize = chunk

	start := time.Now()
	summary := NewManager(store, fsys, opts).Execute(context.Background(), diff.NewActionPlan(actions), nil)
	elapsed := time.Since(start)

	require.Len(t, summary.Succeeded(), files)
	// a per-worker bucket would finish about files times sooner
	minimum := time.Duration(float64(files*size-chunk) / rate * float64(time.Second))
	assert.GreaterOrEqual(t, elapsed, minimum)
}

func TestLimiter(t *testing.T) {
	var none *Limiter
	assert.NoError(t, none.WaitN(context.Background(), 1<<30))
	assert.Zero(t, none.Limit())
	assert.Nil(t, NewLimiter(0, 1024))

	l := NewLimiter(1024, 4096)
	assert.EqualValues(t, 1024, l.Limit())
	assert.Equal(t, 1024, l.burst, "burst never exceeds one second of budget")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, l.WaitN(ctx, 1024))
	assert.ErrorIs(t, l.WaitN(ctx, 1024), context.DeadlineExceeded)
}
