package sync

import (
	"context"
	"path/filepath"
	"time"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/credentials"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/filter"
	"github.com/openmined/s3sync/internal/sync/scanner"
	"github.com/openmined/s3sync/internal/sync/transfer"
	"github.com/spf13/afero"
)

// Options configure one folder. They are fixed for the lifetime of a run.
type Options struct {
	LocalRoot     string
	Bucket        string
	Prefix        string
	Direction     diff.Direction
	DeleteEnabled bool
	Tolerance     time.Duration

	Filter filter.Spec
	// IgnoreFile is relative to LocalRoot. Empty uses filter.IgnoreFileName.
	IgnoreFile string

	HashConcurrency int
	Transfer        transfer.Options

	// DryRun stops after diffing.
	DryRun bool
	// LockDir holds cross-process folder locks. Empty means in-process only.
	LockDir string
}

func (o Options) ignorePath() string {
	name := o.IgnoreFile
	if name == "" {
		name = filter.IgnoreFileName
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(o.LocalRoot, name)
}

// StoreFactory builds the remote store once credentials are known.
type StoreFactory func(ctx context.Context, creds credentials.Credentials) (blob.Store, error)

// StaticStore ignores credentials and always returns store.
func StaticStore(store blob.Store) StoreFactory {
	return func(context.Context, credentials.Credentials) (blob.Store, error) {
		return store, nil
	}
}

// Archiver persists finished run reports.
type Archiver interface {
	Archive(ctx context.Context, report *Report) error
}

type Deps struct {
	Credentials credentials.Provider
	Stores      StoreFactory
	Fs          afero.Fs
	// HashCache is optional and may be shared between folders.
	HashCache *scanner.HashCache
	// Archiver is optional.
	Archiver Archiver
	// Status is optional; a private bus is created when nil.
	Status *StatusBus
}
