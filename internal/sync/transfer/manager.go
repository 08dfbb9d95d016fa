package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Manager executes action plans against a local filesystem and a blob store.
// A Manager may run several plans, one at a time; the bandwidth limiter is
// per Manager.
type Manager struct {
	store   blob.Store
	fs      afero.Fs
	opts    Options
	limiter *Limiter
}

func NewManager(store blob.Store, fs afero.Fs, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		store:   store,
		fs:      fs,
		opts:    opts,
		limiter: NewLimiter(opts.BandwidthLimit, opts.ChunkSize),
	}
}

func (m *Manager) Options() Options {
	return m.opts
}

// Execute runs every non-skip action of plan. Transfers run first on a
// bounded pool, deletions after all transfers have settled. Cancelling ctx
// stops dispatch; in-flight actions stop at the next chunk boundary and
// clean up after themselves. Execute always returns a summary covering every
// action of the plan.
func (m *Manager) Execute(ctx context.Context, plan *diff.ActionPlan, sink Sink) *Summary {
	start := time.Now()
	col := newCollector()

	// dispatch is cancelled on fatal errors; in-flight work keeps ctx.
	dispatch, stopDispatch := context.WithCancelCause(ctx)
	defer stopDispatch(nil)

	trackers := make(map[string]*tracker, plan.Len())
	for _, a := range plan.Actions {
		if a.Kind == diff.ActionSkip {
			col.add(ActionResult{Path: a.Path, Kind: a.Kind, State: StateSkipped, Reason: a.Reason})
			continue
		}
		tr := newTracker(sink, a)
		trackers[a.Path] = tr
		col.add(ActionResult{Path: a.Path, Kind: a.Kind, State: StatePending, Reason: ErrNotStarted.Error()})
		tr.pending()
	}

	phases := [][]diff.SyncAction{plan.Transfers(), plan.Deletions()}
	for _, actions := range phases {
		m.runPhase(ctx, dispatch, stopDispatch, actions, trackers, col)
	}

	summary := col.summary(time.Since(start))
	if summary.Fatal == nil && ctx.Err() != nil && len(summary.NotStarted()) > 0 {
		summary.Fatal = ctx.Err()
	}
	slog.Info("transfer summary",
		"succeeded", len(summary.Succeeded()),
		"failed", len(summary.Failed()),
		"skipped", len(summary.Skipped()),
		"retries", summary.TotalRetries(),
		"bytes", summary.BytesTransferred,
		"took", summary.Duration,
	)
	return summary
}

func (m *Manager) runPhase(
	ctx, dispatch context.Context,
	stop context.CancelCauseFunc,
	actions []diff.SyncAction,
	trackers map[string]*tracker,
	col *collector,
) {
	threshold := max(3, m.opts.Concurrency)

	var eg errgroup.Group
	eg.SetLimit(m.opts.Concurrency)
	for _, a := range actions {
		if dispatch.Err() != nil {
			break
		}
		tr := trackers[a.Path]
		eg.Go(func() error {
			// the slot may have opened after dispatch stopped
			if dispatch.Err() != nil {
				return nil
			}
			res := m.runAction(ctx, a, tr)
			col.add(res)

			switch {
			case res.State != StateFailed:
				col.observe(false, threshold)
			case syncerr.IsAuth(res.Err):
				col.setFatal(res.Err)
				stop(res.Err)
			case syncerr.IsTransient(res.Err) && ctx.Err() == nil:
				if col.observe(true, threshold) {
					col.setFatal(ErrConnectivityLost)
					stop(ErrConnectivityLost)
				}
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// runAction drives one action through its retry policy to a terminal state.
func (m *Manager) runAction(ctx context.Context, a diff.SyncAction, tr *tracker) ActionResult {
	res := ActionResult{Path: a.Path, Kind: a.Kind}
	attempts := 0

	op := func() error {
		attempts++
		tr.begin(attempts, a.Size())
		n, err := m.attempt(ctx, a, tr)
		if err == nil {
			res.Bytes = n
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !syncerr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("transfer retry", "op", a.Kind, "path", a.Path, "attempt", attempts, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, m.retryPolicy(ctx), notify)
	res.Retries = max(attempts-1, 0)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		res.State = StateFailed
		res.Err = err
		res.Reason = err.Error()
		tr.fail(res.Reason)
		slog.Error("transfer failed", "op", a.Kind, "path", a.Path, "attempts", attempts, "class", syncerr.ClassOf(err), "error", err)
		return res
	}

	res.State = StateCompleted
	tr.complete()
	slog.Debug("transfer done", "op", a.Kind, "path", a.Path, "bytes", res.Bytes, "attempts", attempts)
	return res
}

func (m *Manager) attempt(ctx context.Context, a diff.SyncAction, tr *tracker) (int64, error) {
	switch a.Kind {
	case diff.ActionUpload:
		return m.upload(ctx, a, tr)
	case diff.ActionDownload:
		return m.download(ctx, a, tr)
	case diff.ActionDeleteLocal:
		return 0, m.deleteLocal(a)
	case diff.ActionDeleteRemote:
		return 0, m.deleteRemote(ctx, a)
	default:
		return 0, syncerr.Permanent("execute", fmt.Errorf("unexpected action %s", a))
	}
}

// retryPolicy is exponential without jitter: Base, Base*Factor, ... capped
// at Max, for at most MaxAttempts attempts in total.
func (m *Manager) retryPolicy(ctx context.Context) backoff.BackOff {
	p := m.opts.Retry
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = p.Factor
	b.MaxInterval = p.Max
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// withTimeout runs fn under the per-operation timeout. A timeout that fires
// while ctx is still live is reported as transient.
func (m *Manager) withTimeout(ctx context.Context, op string, fn func(context.Context) error) error {
	if m.opts.OpTimeout <= 0 {
		return fn(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()

	err := fn(opCtx)
	if err != nil && ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return syncerr.Transient(op, fmt.Errorf("timed out after %s: %w", m.opts.OpTimeout, err))
	}
	return err
}

func (m *Manager) localPath(rel string) string {
	return filepath.Join(m.opts.LocalRoot, filepath.FromSlash(rel))
}

func (m *Manager) key(rel string) string {
	return blob.JoinKey(m.opts.Prefix, rel)
}

func (m *Manager) metered(ctx context.Context, r io.Reader, tr *tracker) *meteredReader {
	return &meteredReader{
		ctx:     ctx,
		r:       r,
		limiter: m.limiter,
		chunk:   m.opts.ChunkSize,
		onRead:  tr.add,
	}
}
