// Package sync drives a sync run: scan both sides, diff them, execute the
// resulting plan and report the outcome.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/filter"
	"github.com/openmined/s3sync/internal/sync/scanner"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/openmined/s3sync/internal/sync/transfer"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	archiveTimeout = 5 * time.Second
	// runs with fewer attempted actions are never declared disconnected
	connectivityMinAttempts = 3
)

var (
	ErrRunCancelled      = errors.New("sync run cancelled")
	ErrAlreadyStarted    = errors.New("sync run already started")
	ErrConnectivityLost  = transfer.ErrConnectivityLost
	errNoStoreConfigured = errors.New("no store factory configured")
)

// Coordinator owns a single run. It is the only writer of the run's state;
// scanners and the transfer manager report back through return values and
// the progress sink.
type Coordinator struct {
	opts   Options
	deps   Deps
	status *StatusBus
	run    *Run

	mu           sync.Mutex
	started      bool
	preCancelled bool
	cancel       context.CancelCauseFunc
}

func NewCoordinator(opts Options, deps Deps) (*Coordinator, error) {
	if deps.Stores == nil {
		return nil, errNoStoreConfigured
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if opts.Direction == "" {
		opts.Direction = diff.MirrorUpload
	}
	status := deps.Status
	if status == nil {
		status = NewStatusBus()
	}
	return &Coordinator{
		opts:   opts,
		deps:   deps,
		status: status,
		run:    newRun(opts.LocalRoot),
	}, nil
}

func (c *Coordinator) Run() *Run {
	return c.run
}

func (c *Coordinator) Status() *StatusBus {
	return c.status
}

// Cancel stops the run. Nothing new is dispatched; in-flight transfers
// finish or abort cleanly before Start returns.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		c.preCancelled = true
		return
	}
	c.cancel(ErrRunCancelled)
}

// Start executes the run and blocks until it reaches a terminal state. The
// report is always returned once the folder lock was acquired. The error is
// nil only for a completed run; individual action failures are in the
// report, not the error.
func (c *Coordinator) Start(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	c.started = true
	ctx, cancel := context.WithCancelCause(ctx)
	c.cancel = cancel
	if c.preCancelled {
		cancel(ErrRunCancelled)
	}
	c.mu.Unlock()
	defer cancel(nil)

	lock := NewFolderLock(c.opts.LockDir, c.opts.LocalRoot)
	if err := lock.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("sync unlock", "folder", c.opts.LocalRoot, "error", err)
		}
	}()

	slog.Info("sync start", "run", c.run.ID, "folder", c.opts.LocalRoot, "bucket", c.opts.Bucket, "prefix", c.opts.Prefix, "direction", c.opts.Direction, "dryRun", c.opts.DryRun)

	var err error
	if ctx.Err() == nil {
		err = c.execute(ctx)
	} else {
		err = context.Cause(ctx)
	}

	state := StateCompleted
	switch {
	case err == nil:
	case ctx.Err() != nil:
		state = StateCancelled
		err = ErrRunCancelled
	default:
		state = StateFailed
	}
	if terr := c.run.finish(state, err); terr != nil {
		slog.Error("sync state", "run", c.run.ID, "error", terr)
	}
	c.publishState()

	report := newReport(c.run.Snapshot(), c.opts)
	c.archive(ctx, report)
	c.logReport(report)

	if state == StateCompleted {
		return report, nil
	}
	return report, err
}

func (c *Coordinator) execute(ctx context.Context) error {
	if err := c.setState(StateScanning); err != nil {
		return err
	}

	if c.opts.LocalRoot == "" {
		return syncerr.Planning("missing local root", syncerr.ErrNoLocalRoot)
	}
	if c.opts.Bucket == "" {
		return syncerr.Planning("missing target", syncerr.ErrNoTarget)
	}
	if c.deps.Credentials == nil {
		return syncerr.Auth(syncerr.ErrNoCredentials)
	}

	creds, err := c.deps.Credentials.GetActiveCredentials(ctx)
	if err != nil {
		return err
	}
	store, err := c.deps.Stores(ctx, creds)
	if err != nil {
		if syncerr.IsAuth(err) {
			return err
		}
		return syncerr.Planning("create store", err)
	}
	if err := store.HeadBucket(ctx); err != nil {
		if syncerr.IsAuth(err) || ctx.Err() != nil {
			return err
		}
		return syncerr.Planning(fmt.Sprintf("bucket %s unavailable", c.opts.Bucket), err)
	}

	f, err := filter.New(c.opts.Filter, filter.WithIgnoreFile(c.deps.Fs, c.opts.ignorePath()))
	if err != nil {
		return err
	}
	hasher := scanner.NewHasher(c.deps.Fs, c.deps.HashCache, c.opts.HashConcurrency)

	tScan := time.Now()
	var local, remote *diff.Listing
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		l, err := scanner.NewLocalScanner(c.deps.Fs, c.opts.LocalRoot, f, hasher).Scan(egCtx)
		local = l
		return err
	})
	eg.Go(func() error {
		r, err := scanner.NewRemoteLister(store, c.opts.Prefix, f).List(egCtx)
		remote = r
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	c.run.setListings(local, remote)
	slog.Debug("sync scan", "run", c.run.ID, "local", local.Len(), "remote", remote.Len(), "took", time.Since(tScan))

	if err := c.setState(StateDiffing); err != nil {
		return err
	}
	if err := hasher.Resolve(ctx, diff.HashCandidates(local, remote)); err != nil {
		return err
	}
	plan := diff.Compute(local, remote, diff.Options{
		Direction:     c.opts.Direction,
		DeleteEnabled: c.opts.DeleteEnabled,
		Tolerance:     c.opts.Tolerance,
	})
	c.run.setPlan(plan)

	counts := plan.Counts()
	slog.Info("sync plan",
		"run", c.run.ID,
		"uploads", counts[diff.ActionUpload],
		"downloads", counts[diff.ActionDownload],
		"localDeletes", counts[diff.ActionDeleteLocal],
		"remoteDeletes", counts[diff.ActionDeleteRemote],
		"skips", counts[diff.ActionSkip],
		"bytes", humanize.Bytes(uint64(plan.TransferBytes())),
	)
	if c.opts.DryRun || plan.IsEmpty() {
		return nil
	}

	if err := c.setState(StateTransferring); err != nil {
		return err
	}
	topts := c.opts.Transfer
	topts.LocalRoot = c.opts.LocalRoot
	topts.Prefix = c.opts.Prefix

	summary := transfer.NewManager(store, c.deps.Fs, topts).Execute(ctx, plan, c.onProgress)
	c.run.setSummary(summary)

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if summary.Fatal != nil {
		return summary.Fatal
	}
	if connectivityLost(summary) {
		return ErrConnectivityLost
	}
	return nil
}

// connectivityLost reports whether most attempted actions ran out of
// retries on transient errors.
func connectivityLost(s *transfer.Summary) bool {
	attempted, transient := 0, 0
	for _, r := range s.Results {
		switch r.State {
		case transfer.StateCompleted:
			attempted++
		case transfer.StateFailed:
			attempted++
			if syncerr.IsTransient(r.Err) {
				transient++
			}
		}
	}
	return attempted >= connectivityMinAttempts && transient*2 > attempted
}

func (c *Coordinator) setState(to State) error {
	if err := c.run.transition(to); err != nil {
		return err
	}
	slog.Debug("sync state", "run", c.run.ID, "state", to)
	c.publishState()
	return nil
}

func (c *Coordinator) publishState() {
	c.status.Publish(&StatusEvent{RunID: c.run.ID, Folder: c.run.Folder, State: c.run.State()})
}

func (c *Coordinator) onProgress(p transfer.Progress) {
	c.run.recordProgress(p)
	c.status.Publish(&StatusEvent{RunID: c.run.ID, Folder: c.run.Folder, State: StateTransferring, Progress: &p})
}

func (c *Coordinator) archive(ctx context.Context, report *Report) {
	if c.deps.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := c.deps.Archiver.Archive(ctx, report); err != nil {
		slog.Warn("sync archive", "run", report.RunID, "error", err)
	}
}

func (c *Coordinator) logReport(r *Report) {
	attrs := []any{
		"run", r.RunID,
		"state", r.State,
		"succeeded", len(r.Succeeded),
		"failed", len(r.Failed),
		"skipped", len(r.Skipped),
		"moved", humanize.Bytes(uint64(r.BytesMoved)),
		"took", r.Duration(),
	}
	if r.Error != "" {
		attrs = append(attrs, "error", r.Error)
	}
	if r.State == StateCompleted {
		slog.Info("sync done", attrs...)
		return
	}
	slog.Error("sync done", attrs...)
}
