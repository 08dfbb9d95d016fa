package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const hashBufferSize = 128 * 1024

// Hasher computes md5 fingerprints of local files on a bounded pool that is
// separate from the transfer workers.
type Hasher struct {
	fs      afero.Fs
	cache   *HashCache
	workers int
}

// NewHasher creates a hasher. cache may be nil; workers <= 0 uses the number
// of CPUs.
func NewHasher(fs afero.Fs, cache *HashCache, workers int) *Hasher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Hasher{fs: fs, cache: cache, workers: workers}
}

// Lazy returns a fingerprint source for absPath. Nothing is read until the
// fingerprint is requested.
func (h *Hasher) Lazy(absPath string, size int64, modTime time.Time) diff.FingerprintFunc {
	return func() (diff.Fingerprint, error) {
		sum, err := h.MD5(absPath, size, modTime)
		if err != nil {
			return diff.Fingerprint{}, err
		}
		return diff.Fingerprint{Scheme: diff.SchemeMD5, Value: sum}, nil
	}
}

// MD5 returns the hex digest of absPath, served from the cache when the file
// is unchanged.
func (h *Hasher) MD5(absPath string, size int64, modTime time.Time) (string, error) {
	if h.cache != nil {
		if sum, ok := h.cache.Get(absPath, size, modTime); ok {
			return sum, nil
		}
	}

	f, err := h.fs.Open(absPath)
	if err != nil {
		return "", syncerr.Filesystem(absPath, err)
	}
	defer f.Close()

	hash := md5.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(hash, f, buf); err != nil {
		return "", syncerr.Filesystem(absPath, err)
	}
	sum := hex.EncodeToString(hash.Sum(nil))

	if h.cache != nil {
		h.cache.Put(absPath, size, modTime, sum)
	}
	return sum, nil
}

// Resolve computes the fingerprints of entries in parallel. Failures are
// logged and left for the diff engine to treat as unknown.
func (h *Hasher) Resolve(ctx context.Context, entries []*diff.FileEntry) error {
	if len(entries) == 0 {
		return nil
	}

	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(h.workers)

	for _, entry := range entries {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if _, err := entry.ResolveFingerprint(); err != nil {
				slog.Warn("hash", "path", entry.Path, "error", err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Debug("hash", "files", len(entries), "workers", h.workers, "took", time.Since(start))
	return nil
}
