// Package filter decides which paths take part in a sync run.
package filter

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	gitignore "github.com/sabhiram/go-gitignore"
)

// Spec is the user facing filter policy. Exclude wins over include and an
// empty include list accepts every path that is not excluded.
type Spec struct {
	Include []string `json:"include,omitempty" mapstructure:"include"`
	Exclude []string `json:"exclude,omitempty" mapstructure:"exclude"`
	MinSize *int64   `json:"min_size,omitempty" mapstructure:"min_size"`
	MaxSize *int64   `json:"max_size,omitempty" mapstructure:"max_size"`
}

// Filter is a validated, immutable Spec.
type Filter struct {
	include []string
	exclude []string
	minSize *int64
	maxSize *int64
	ignore  *gitignore.GitIgnore
}

type Option func(*Filter) error

// New validates every pattern and returns a PlanningError for a malformed one.
func New(spec Spec, opts ...Option) (*Filter, error) {
	f := &Filter{minSize: spec.MinSize, maxSize: spec.MaxSize}

	for _, p := range spec.Include {
		if err := f.addInclude(p); err != nil {
			return nil, err
		}
	}
	for _, p := range spec.Exclude {
		if err := f.addExclude(p); err != nil {
			return nil, err
		}
	}
	if f.minSize != nil && f.maxSize != nil && *f.minSize > *f.maxSize {
		return nil, syncerr.Planning(fmt.Sprintf("min_size %d exceeds max_size %d", *f.minSize, *f.maxSize), nil)
	}

	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// AcceptAll is a filter with no rules.
func AcceptAll() *Filter {
	return &Filter{}
}

// Accepts reports whether path, of the given size, participates in sync.
func (f *Filter) Accepts(path string, size int64) bool {
	for _, p := range f.exclude {
		if match(p, path) {
			slog.Debug("filter excluded", "path", path, "pattern", p)
			return false
		}
	}
	if f.ignore != nil && f.ignore.MatchesPath(path) {
		slog.Debug("filter ignored", "path", path)
		return false
	}

	if len(f.include) > 0 {
		included := false
		for _, p := range f.include {
			if match(p, path) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	if f.minSize != nil && size < *f.minSize {
		return false
	}
	if f.maxSize != nil && size > *f.maxSize {
		return false
	}
	return true
}

// AcceptsDir reports whether a walk should descend into dir. Only exclude and
// ignore rules prune directories; include rules apply to files.
func (f *Filter) AcceptsDir(dir string) bool {
	for _, p := range f.exclude {
		if match(p, dir) || match(p, dir+"/") {
			return false
		}
	}
	if f.ignore != nil && f.ignore.MatchesPath(dir+"/") {
		return false
	}
	return true
}

func (f *Filter) Spec() Spec {
	return Spec{
		Include: append([]string(nil), f.include...),
		Exclude: append([]string(nil), f.exclude...),
		MinSize: f.minSize,
		MaxSize: f.maxSize,
	}
}

// String renders the filter in the pattern text format ParsePatterns reads.
func (f *Filter) String() string {
	var b strings.Builder
	for _, p := range f.include {
		b.WriteString(p + "\n")
	}
	for _, p := range f.exclude {
		b.WriteString("!" + p + "\n")
	}
	if f.minSize != nil {
		fmt.Fprintf(&b, "min_size: %d\n", *f.minSize)
	}
	if f.maxSize != nil {
		fmt.Fprintf(&b, "max_size: %d\n", *f.maxSize)
	}
	return b.String()
}

func (f *Filter) addInclude(p string) error {
	if err := validate(p); err != nil {
		return err
	}
	f.include = append(f.include, p)
	return nil
}

func (f *Filter) addExclude(p string) error {
	if err := validate(p); err != nil {
		return err
	}
	f.exclude = append(f.exclude, p)
	return nil
}

func validate(pattern string) error {
	if pattern == "" {
		return syncerr.Planning("empty filter pattern", nil)
	}
	if !doublestar.ValidatePattern(pattern) {
		return syncerr.Planning(fmt.Sprintf("invalid filter pattern %q", pattern), doublestar.ErrBadPattern)
	}
	return nil
}

// match anchors the pattern to the whole relative path: "*.tmp" matches
// "b.tmp" but not "a/b.tmp", which needs "**/*.tmp".
func match(pattern, path string) bool {
	ok, _ := doublestar.Match(pattern, path)
	return ok
}
