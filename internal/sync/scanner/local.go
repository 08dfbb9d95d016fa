// Package scanner enumerates the local tree and the remote prefix into
// listings the diff engine can compare.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/filter"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/spf13/afero"
)

type LocalScanner struct {
	fs     afero.Fs
	root   string
	filter *filter.Filter
	hasher *Hasher
}

func NewLocalScanner(fs afero.Fs, root string, f *filter.Filter, hasher *Hasher) *LocalScanner {
	if f == nil {
		f = filter.AcceptAll()
	}
	return &LocalScanner{fs: fs, root: filepath.Clean(root), filter: f, hasher: hasher}
}

// Scan walks the root and returns an entry per accepted regular file.
// Symlinks are skipped. Fingerprints are lazy.
func (s *LocalScanner) Scan(ctx context.Context) (*diff.Listing, error) {
	start := time.Now()

	info, err := s.fs.Stat(s.root)
	if err != nil {
		return nil, syncerr.Planning(fmt.Sprintf("local root %s unreachable", s.root), err)
	}
	if !info.IsDir() {
		return nil, syncerr.Planning(fmt.Sprintf("local root %s is not a directory", s.root), nil)
	}

	listing := diff.NewListing()
	skipped := 0

	err = afero.Walk(s.fs, s.root, func(absPath string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if absPath == s.root {
				return syncerr.Planning(fmt.Sprintf("walk %s", s.root), walkErr)
			}
			slog.Warn("scan walk", "path", absPath, "error", walkErr)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if absPath == s.root {
			return nil
		}

		rel, err := filepath.Rel(s.root, absPath)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		rel = path.Clean(filepath.ToSlash(rel))

		if info.IsDir() {
			if !s.filter.AcceptsDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode()&fs.ModeSymlink != 0 || !info.Mode().IsRegular() {
			return nil
		}
		if !s.filter.Accepts(rel, info.Size()) {
			skipped++
			return nil
		}

		entry := diff.NewLazyEntry(rel, info.Size(), info.ModTime(), s.hasher.Lazy(absPath, info.Size(), info.ModTime()))
		return listing.Put(entry)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if syncerr.ClassOf(err) == syncerr.ClassPlanning {
			return nil, err
		}
		return nil, syncerr.Planning("scan local tree", err)
	}

	slog.Info("scan local", "root", s.root, "files", listing.Len(), "filtered", skipped, "took", time.Since(start))
	return listing, nil
}

// Abs maps a relative path back to its location on disk.
func (s *LocalScanner) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}
