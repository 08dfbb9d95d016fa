package sync

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/s3sync/internal/sync/diff"
)

// Report is the final, serializable outcome of a run.
type Report struct {
	RunID       string            `json:"runId"`
	Folder      string            `json:"folder"`
	Bucket      string            `json:"bucket"`
	Prefix      string            `json:"prefix,omitempty"`
	Direction   diff.Direction    `json:"direction"`
	State       State             `json:"state"`
	Error       string            `json:"error,omitempty"`
	DryRun      bool              `json:"dryRun,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  time.Time         `json:"finishedAt"`
	LocalFiles  int               `json:"localFiles"`
	RemoteFiles int               `json:"remoteFiles"`
	Planned     map[string]int    `json:"planned"`
	Succeeded   []string          `json:"succeeded"`
	Failed      map[string]string `json:"failed"`
	Skipped     map[string]string `json:"skipped"`
	NotStarted  []string          `json:"notStarted,omitempty"`
	Retries     int               `json:"retries"`
	BytesTotal  int64             `json:"bytesTotal"`
	BytesMoved  int64             `json:"bytesMoved"`
	PlanDigest  string            `json:"planDigest,omitempty"`
	Actions     []ReportAction    `json:"actions,omitempty"`
}

type ReportAction struct {
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	Reason string `json:"reason,omitempty"`
	Size   int64  `json:"size"`
}

func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func newReport(run RunSnapshot, opts Options) *Report {
	r := &Report{
		RunID:       run.ID,
		Folder:      run.Folder,
		Bucket:      opts.Bucket,
		Prefix:      opts.Prefix,
		Direction:   opts.Direction,
		State:       run.State,
		DryRun:      opts.DryRun,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		LocalFiles:  run.LocalCount,
		RemoteFiles: run.RemoteCount,
		Planned:     make(map[string]int),
		Failed:      make(map[string]string),
		Skipped:     make(map[string]string),
	}
	if run.Err != nil {
		r.Error = run.Err.Error()
	}

	if run.Plan != nil {
		for kind, n := range run.Plan.Counts() {
			r.Planned[kind.String()] = n
		}
		r.BytesTotal = run.Plan.TransferBytes()
		r.PlanDigest = run.Plan.Digest()
		for _, a := range run.Plan.Actions {
			if a.Kind == diff.ActionSkip {
				r.Skipped[a.Path] = a.Reason
				continue
			}
			r.Actions = append(r.Actions, ReportAction{Kind: a.Kind.String(), Path: a.Path, Reason: a.Reason, Size: a.Size()})
		}
	}

	if s := run.Summary; s != nil {
		r.Succeeded = s.Succeeded()
		r.Failed = s.Failed()
		r.Skipped = s.Skipped()
		r.NotStarted = s.NotStarted()
		r.Retries = s.TotalRetries()
		r.BytesMoved = s.BytesTransferred
	}
	return r
}
