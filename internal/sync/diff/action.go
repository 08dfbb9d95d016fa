package diff

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// ActionKind orders actions that share a path; the declaration order is the
// sort order.
type ActionKind uint8

const (
	ActionUpload ActionKind = iota
	ActionDownload
	ActionDeleteLocal
	ActionDeleteRemote
	ActionSkip
)

func (k ActionKind) String() string {
	switch k {
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	case ActionDeleteLocal:
		return "delete_local"
	case ActionDeleteRemote:
		return "delete_remote"
	case ActionSkip:
		return "skip"
	default:
		return fmt.Sprintf("ActionKind(%d)", k)
	}
}

func (k ActionKind) IsTransfer() bool {
	return k == ActionUpload || k == ActionDownload
}

func (k ActionKind) IsDelete() bool {
	return k == ActionDeleteLocal || k == ActionDeleteRemote
}

// Skip and transfer reasons.
const (
	ReasonIdentical          = "identical"
	ReasonRemoteOnlyNoDelete = "remote-only, deletion disabled"
	ReasonLocalOnlyNoDelete  = "local-only, deletion disabled"
	ReasonLocalChanged       = "content differs, local is the source"
	ReasonRemoteChanged      = "content differs, remote is the source"
	ReasonLocalOnly          = "local-only"
	ReasonRemoteOnly         = "remote-only"
	ReasonLocalNewer         = "local newer"
	ReasonRemoteNewer        = "remote newer"
	ReasonSameMtime          = "content differs, same modification time"
)

// SyncAction is one planned operation. Local and Remote carry the entries the
// decision was made from; either may be nil.
type SyncAction struct {
	Kind   ActionKind
	Path   string
	Reason string
	Local  *FileEntry
	Remote *FileEntry
}

// Size returns the number of bytes the action moves.
func (a SyncAction) Size() int64 {
	switch a.Kind {
	case ActionUpload:
		if a.Local != nil {
			return a.Local.Size
		}
	case ActionDownload:
		if a.Remote != nil {
			return a.Remote.Size
		}
	}
	return 0
}

func (a SyncAction) String() string {
	if a.Reason == "" {
		return fmt.Sprintf("%s(%s)", a.Kind, a.Path)
	}
	return fmt.Sprintf("%s(%s, %q)", a.Kind, a.Path, a.Reason)
}

// ActionPlan is the ordered result of a diff: by path, then by kind.
type ActionPlan struct {
	Actions []SyncAction
}

func NewActionPlan(actions []SyncAction) *ActionPlan {
	sorted := slices.Clone(actions)
	slices.SortStableFunc(sorted, func(a, b SyncAction) int {
		if c := cmp.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
	return &ActionPlan{Actions: sorted}
}

func (p *ActionPlan) Len() int {
	return len(p.Actions)
}

// IsEmpty reports whether the plan has nothing to execute.
func (p *ActionPlan) IsEmpty() bool {
	for _, a := range p.Actions {
		if a.Kind != ActionSkip {
			return false
		}
	}
	return true
}

func (p *ActionPlan) Counts() map[ActionKind]int {
	counts := make(map[ActionKind]int)
	for _, a := range p.Actions {
		counts[a.Kind]++
	}
	return counts
}

func (p *ActionPlan) Transfers() []SyncAction {
	return p.filter(func(a SyncAction) bool { return a.Kind.IsTransfer() })
}

func (p *ActionPlan) Deletions() []SyncAction {
	return p.filter(func(a SyncAction) bool { return a.Kind.IsDelete() })
}

func (p *ActionPlan) Skips() []SyncAction {
	return p.filter(func(a SyncAction) bool { return a.Kind == ActionSkip })
}

// TransferBytes is the total payload of all uploads and downloads.
func (p *ActionPlan) TransferBytes() int64 {
	var total int64
	for _, a := range p.Actions {
		total += a.Size()
	}
	return total
}

// Get returns the action planned for path.
func (p *ActionPlan) Get(path string) (SyncAction, bool) {
	i, found := slices.BinarySearchFunc(p.Actions, path, func(a SyncAction, path string) int {
		return cmp.Compare(a.Path, path)
	})
	if !found {
		return SyncAction{}, false
	}
	return p.Actions[i], true
}

// Digest is a stable hash over the plan's kinds, paths, reasons and sizes.
// Equal digests mean byte-identical plans.
func (p *ActionPlan) Digest() string {
	h := sha256.New()
	for _, a := range p.Actions {
		fmt.Fprintf(h, "%d\x00%s\x00%s\x00%d\n", a.Kind, a.Path, a.Reason, a.Size())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (p *ActionPlan) filter(keep func(SyncAction) bool) []SyncAction {
	var out []SyncAction
	for _, a := range p.Actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
