package transfer

import (
	"github.com/openmined/s3sync/internal/sync/diff"
)

type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkipped
}

// Progress is one update for one path. Updates for the same path have
// non-decreasing BytesTransferred.
type Progress struct {
	Path             string
	Kind             diff.ActionKind
	BytesTransferred int64
	BytesTotal       int64
	State            State
	Attempt          int
	Reason           string
}

// Sink receives progress updates from worker goroutines. It must not block.
type Sink func(Progress)

// tracker owns the progress of a single action. It is only touched by the
// worker running that action.
type tracker struct {
	sink Sink
	last Progress
	cur  int64
}

func newTracker(sink Sink, a diff.SyncAction) *tracker {
	return &tracker{
		sink: sink,
		last: Progress{
			Path:       a.Path,
			Kind:       a.Kind,
			BytesTotal: a.Size(),
			State:      StatePending,
		},
	}
}

func (t *tracker) emit() {
	if t.sink != nil {
		t.sink(t.last)
	}
}

func (t *tracker) pending() {
	t.emit()
}

// begin starts an attempt. Byte counting restarts but emitted values never
// go backwards.
func (t *tracker) begin(attempt int, total int64) {
	t.cur = 0
	t.last.Attempt = attempt
	t.last.State = StateInProgress
	if total > t.last.BytesTotal {
		t.last.BytesTotal = total
	}
	t.emit()
}

func (t *tracker) add(n int) {
	t.cur += int64(n)
	if t.cur > t.last.BytesTransferred {
		t.last.BytesTransferred = t.cur
		t.emit()
	}
}

func (t *tracker) complete() {
	t.last.State = StateCompleted
	t.last.Reason = ""
	if t.last.BytesTransferred < t.last.BytesTotal {
		t.last.BytesTransferred = t.last.BytesTotal
	}
	t.emit()
}

func (t *tracker) fail(reason string) {
	t.last.State = StateFailed
	t.last.Reason = reason
	t.emit()
}
