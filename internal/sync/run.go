package sync

import (
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/transfer"
)

// Run is the state of one sync run. Only the coordinator mutates it; other
// goroutines read it through Snapshot.
type Run struct {
	ID     string
	Folder string

	mu         sync.RWMutex
	state      State
	err        error
	local      *diff.Listing
	remote     *diff.Listing
	plan       *diff.ActionPlan
	progress   map[string]transfer.Progress
	summary    *transfer.Summary
	startedAt  time.Time
	finishedAt time.Time
}

func newRun(folder string) *Run {
	return &Run{
		ID:       uuid.NewString(),
		Folder:   folder,
		state:    StateIdle,
		progress: make(map[string]transfer.Progress),
	}
}

// RunSnapshot is a copy of a run's state at one point in time.
type RunSnapshot struct {
	ID          string
	Folder      string
	State       State
	Err         error
	Plan        *diff.ActionPlan
	Progress    map[string]transfer.Progress
	Summary     *transfer.Summary
	LocalCount  int
	RemoteCount int
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (r *Run) Snapshot() RunSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := RunSnapshot{
		ID:         r.ID,
		Folder:     r.Folder,
		State:      r.state,
		Err:        r.err,
		Plan:       r.plan,
		Progress:   maps.Clone(r.progress),
		Summary:    r.summary,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
	if r.local != nil {
		s.LocalCount = r.local.Len()
	}
	if r.remote != nil {
		s.RemoteCount = r.remote.Len()
	}
	return s
}

func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Run) transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.state.canTransition(to) {
		return &invalidTransitionError{from: r.state, to: to}
	}
	if r.state == StateIdle {
		r.startedAt = time.Now()
	}
	r.state = to
	if to.Terminal() {
		r.finishedAt = time.Now()
	}
	return nil
}

func (r *Run) finish(to State, err error) error {
	if terr := r.transition(to); terr != nil {
		return terr
	}
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	return nil
}

func (r *Run) setListings(local, remote *diff.Listing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local, r.remote = local, remote
}

func (r *Run) setPlan(plan *diff.ActionPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plan = plan
}

func (r *Run) setSummary(s *transfer.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = s
}

func (r *Run) recordProgress(p transfer.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[p.Path] = p
}
