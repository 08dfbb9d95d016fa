package diff

import (
	"errors"
	"fmt"
	"slices"
)

var ErrDuplicatePath = errors.New("duplicate path in listing")

// Listing is the set of entries visible on one side of a run. Paths are
// unique. A Listing is built by a single goroutine and read-only afterwards.
type Listing struct {
	entries map[string]*FileEntry
}

func NewListing() *Listing {
	return &Listing{entries: make(map[string]*FileEntry)}
}

func (l *Listing) Put(entry *FileEntry) error {
	if _, ok := l.entries[entry.Path]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, entry.Path)
	}
	l.entries[entry.Path] = entry
	return nil
}

func (l *Listing) Get(path string) (*FileEntry, bool) {
	e, ok := l.entries[path]
	return e, ok
}

func (l *Listing) Len() int {
	return len(l.entries)
}

// Paths returns all paths in lexicographic order.
func (l *Listing) Paths() []string {
	paths := make([]string, 0, len(l.entries))
	for p := range l.entries {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Entries returns all entries ordered by path.
func (l *Listing) Entries() []*FileEntry {
	paths := l.Paths()
	entries := make([]*FileEntry, len(paths))
	for i, p := range paths {
		entries[i] = l.entries[p]
	}
	return entries
}

func (l *Listing) TotalSize() int64 {
	var total int64
	for _, e := range l.entries {
		total += e.Size
	}
	return total
}
