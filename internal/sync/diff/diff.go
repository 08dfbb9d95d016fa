// Package diff reduces a local and a remote listing to an ordered plan of
// sync actions.
package diff

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

type Direction string

const (
	// MirrorUpload makes the remote match the local tree.
	MirrorUpload Direction = "mirror-upload"
	// MirrorDownload makes the local tree match the remote.
	MirrorDownload Direction = "mirror-download"
	// Bidirectional copies the newer side in both directions.
	Bidirectional Direction = "bidirectional"
)

const DefaultTolerance = 2 * time.Second

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case MirrorUpload, MirrorDownload, Bidirectional:
		return d, nil
	case "upload", "push":
		return MirrorUpload, nil
	case "download", "pull":
		return MirrorDownload, nil
	case "":
		return MirrorUpload, nil
	default:
		return "", fmt.Errorf("unknown sync direction %q", s)
	}
}

type Options struct {
	Direction     Direction
	DeleteEnabled bool
	// Tolerance absorbs clock and mtime precision skew when neither size nor
	// fingerprint decides equality.
	Tolerance time.Duration
}

func (o Options) withDefaults() Options {
	if o.Direction == "" {
		o.Direction = MirrorUpload
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	return o
}

// Compute walks the union of both listings in path order and decides one
// action per path. It depends only on its inputs.
func Compute(local, remote *Listing, opts Options) *ActionPlan {
	opts = opts.withDefaults()

	union := mapset.NewThreadUnsafeSet(local.Paths()...)
	union.Append(remote.Paths()...)
	paths := union.ToSlice()
	slices.Sort(paths)

	actions := make([]SyncAction, 0, len(paths))
	for _, path := range paths {
		l, inLocal := local.Get(path)
		r, inRemote := remote.Get(path)

		var action SyncAction
		switch {
		case inLocal && !inRemote:
			action = localOnly(l, opts)
		case !inLocal && inRemote:
			action = remoteOnly(r, opts)
		default:
			action = compareBoth(l, r, opts)
		}
		actions = append(actions, action)
	}

	return NewActionPlan(actions)
}

func localOnly(l *FileEntry, opts Options) SyncAction {
	switch opts.Direction {
	case MirrorDownload:
		if opts.DeleteEnabled {
			return SyncAction{Kind: ActionDeleteLocal, Path: l.Path, Reason: ReasonRemoteOnly, Local: l}
		}
		return SyncAction{Kind: ActionSkip, Path: l.Path, Reason: ReasonLocalOnlyNoDelete, Local: l}
	default:
		return SyncAction{Kind: ActionUpload, Path: l.Path, Reason: ReasonLocalOnly, Local: l}
	}
}

func remoteOnly(r *FileEntry, opts Options) SyncAction {
	switch opts.Direction {
	case MirrorUpload:
		if opts.DeleteEnabled {
			return SyncAction{Kind: ActionDeleteRemote, Path: r.Path, Reason: ReasonLocalOnly, Remote: r}
		}
		return SyncAction{Kind: ActionSkip, Path: r.Path, Reason: ReasonRemoteOnlyNoDelete, Remote: r}
	default:
		return SyncAction{Kind: ActionDownload, Path: r.Path, Reason: ReasonRemoteOnly, Remote: r}
	}
}

func compareBoth(l, r *FileEntry, opts Options) SyncAction {
	identical := SyncAction{Kind: ActionSkip, Path: l.Path, Reason: ReasonIdentical, Local: l, Remote: r}

	if l.Size != r.Size {
		return differing(l, r, opts)
	}

	// Only hash the local file when the remote fingerprint could match it.
	if r.Fingerprint.Scheme == SchemeMD5 {
		lf, err := l.ResolveFingerprint()
		if err != nil {
			slog.Debug("diff fingerprint unavailable", "path", l.Path, "error", err)
		} else if lf.ComparableWith(r.Fingerprint) {
			if lf.Value == r.Fingerprint.Value {
				return identical
			}
			return differing(l, r, opts)
		}
	}

	if absDuration(l.ModTime.Sub(r.ModTime)) < opts.Tolerance {
		return identical
	}
	return differing(l, r, opts)
}

// differing resolves a path whose two copies are known or assumed to differ.
// A mirror copies from its source whatever the mtimes say; a remote mtime is
// often just the upload time. Bidirectional copies the newer side and leaves
// equal mtimes alone.
func differing(l, r *FileEntry, opts Options) SyncAction {
	action := SyncAction{Path: l.Path, Local: l, Remote: r}
	localNewer, remoteNewer := l.ModTime.After(r.ModTime), r.ModTime.After(l.ModTime)

	switch {
	case opts.Direction == MirrorUpload:
		action.Kind, action.Reason = ActionUpload, ReasonLocalChanged
		if localNewer {
			action.Reason = ReasonLocalNewer
		}
	case opts.Direction == MirrorDownload:
		action.Kind, action.Reason = ActionDownload, ReasonRemoteChanged
		if remoteNewer {
			action.Reason = ReasonRemoteNewer
		}
	case localNewer:
		action.Kind, action.Reason = ActionUpload, ReasonLocalNewer
	case remoteNewer:
		action.Kind, action.Reason = ActionDownload, ReasonRemoteNewer
	default:
		action.Kind, action.Reason = ActionSkip, ReasonSameMtime
	}
	return action
}

// HashCandidates returns the local entries whose fingerprint Compute will
// need: present on both sides with equal size and a remote md5 fingerprint.
// Resolving these ahead of Compute lets hashing run on a parallel pool.
func HashCandidates(local, remote *Listing) []*FileEntry {
	var out []*FileEntry
	for _, l := range local.Entries() {
		if !l.HasLazyFingerprint() {
			continue
		}
		r, ok := remote.Get(l.Path)
		if !ok || r.Size != l.Size || r.Fingerprint.Scheme != SchemeMD5 {
			continue
		}
		out = append(out, l)
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
