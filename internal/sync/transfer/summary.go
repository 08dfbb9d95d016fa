package transfer

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/openmined/s3sync/internal/sync/diff"
)

var (
	// ErrConnectivityLost stops dispatch after too many actions in a row
	// exhausted their retries on transient errors.
	ErrConnectivityLost = errors.New("connectivity lost: repeated transient failures")
	ErrNotStarted       = errors.New("not started")
)

type ActionResult struct {
	Path    string
	Kind    diff.ActionKind
	State   State
	Reason  string
	Retries int
	Bytes   int64
	Err     error `json:"-"`
}

type Summary struct {
	Results          []ActionResult
	BytesTransferred int64
	// Fatal is set when dispatch stopped early because of an auth failure
	// or lost connectivity.
	Fatal    error
	Duration time.Duration
}

func (s *Summary) Result(path string) (ActionResult, bool) {
	i, ok := slices.BinarySearchFunc(s.Results, path, func(r ActionResult, p string) int {
		return cmp.Compare(r.Path, p)
	})
	if !ok {
		return ActionResult{}, false
	}
	return s.Results[i], true
}

func (s *Summary) Succeeded() []string {
	return s.paths(func(r ActionResult) bool { return r.State == StateCompleted })
}

// Failed maps failed paths to their reason, including actions that never
// started because the run stopped.
func (s *Summary) Failed() map[string]string {
	out := make(map[string]string)
	for _, r := range s.Results {
		if r.State == StateFailed || r.State == StatePending {
			out[r.Path] = r.Reason
		}
	}
	return out
}

func (s *Summary) Skipped() map[string]string {
	out := make(map[string]string)
	for _, r := range s.Results {
		if r.State == StateSkipped {
			out[r.Path] = r.Reason
		}
	}
	return out
}

func (s *Summary) NotStarted() []string {
	return s.paths(func(r ActionResult) bool { return r.State == StatePending })
}

func (s *Summary) Retries(path string) int {
	r, _ := s.Result(path)
	return r.Retries
}

func (s *Summary) TotalRetries() int {
	total := 0
	for _, r := range s.Results {
		total += r.Retries
	}
	return total
}

func (s *Summary) paths(keep func(ActionResult) bool) []string {
	var out []string
	for _, r := range s.Results {
		if keep(r) {
			out = append(out, r.Path)
		}
	}
	return out
}

// collector gathers results from concurrent workers.
type collector struct {
	mu                   sync.Mutex
	results              map[string]ActionResult
	bytes                int64
	consecutiveTransient int
	fatal                error
}

func newCollector() *collector {
	return &collector{results: make(map[string]ActionResult)}
}

func (c *collector) add(r ActionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[r.Path] = r
	if r.State == StateCompleted {
		c.bytes += r.Bytes
	}
}

func (c *collector) setFatal(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal == nil {
		c.fatal = err
	}
}

// observe tracks runs of transient failures and reports when the threshold
// is reached.
func (c *collector) observe(transientFailure bool, threshold int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !transientFailure {
		c.consecutiveTransient = 0
		return false
	}
	c.consecutiveTransient++
	return c.consecutiveTransient >= threshold
}

func (c *collector) summary(d time.Duration) *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make([]ActionResult, 0, len(c.results))
	for _, r := range c.results {
		results = append(results, r)
	}
	slices.SortFunc(results, func(a, b ActionResult) int {
		return cmp.Compare(a.Path, b.Path)
	})
	return &Summary{
		Results:          results,
		BytesTransferred: c.bytes,
		Fatal:            c.fatal,
		Duration:         d,
	}
}
