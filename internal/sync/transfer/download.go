package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/filter"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/spf13/afero"
)

// download streams the object into a temp file next to the destination and
// renames it into place, so readers never observe a partial file.
func (m *Manager) download(ctx context.Context, a diff.SyncAction, tr *tracker) (int64, error) {
	dest := m.localPath(a.Path)
	dir := filepath.Dir(dest)
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, syncerr.Filesystem(dir, err)
	}

	tmp, err := afero.TempFile(m.fs, dir, "."+filepath.Base(dest)+".*"+filter.TempSuffix)
	if err != nil {
		return 0, syncerr.Filesystem(dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			if err := m.fs.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("remove temp file", "path", tmpPath, "error", err)
			}
		}
	}()

	var (
		written int64
		modTime time.Time
	)
	err = m.withTimeout(ctx, "get", func(opCtx context.Context) error {
		resp, err := m.store.GetObject(opCtx, m.key(a.Path))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		modTime = objectModTime(resp.LastModified, resp.Metadata)
		written, err = io.Copy(fsWriter{tmp}, m.metered(opCtx, resp.Body, tr))
		if err != nil {
			if opCtx.Err() != nil {
				return err
			}
			var fsErr *syncerr.FilesystemError
			if errors.As(err, &fsErr) {
				return err
			}
			return syncerr.Transient("get", fmt.Errorf("read body: %w", err))
		}
		if resp.Size >= 0 && written != resp.Size {
			return syncerr.Transient("get", fmt.Errorf("short read: got %d of %d bytes", written, resp.Size))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := tmp.Sync(); err != nil {
		return 0, syncerr.Filesystem(tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, syncerr.Filesystem(tmpPath, err)
	}
	if err := m.fs.Rename(tmpPath, dest); err != nil {
		return 0, syncerr.Filesystem(dest, err)
	}
	committed = true

	if !modTime.IsZero() {
		if err := m.fs.Chtimes(dest, modTime, modTime); err != nil {
			slog.Warn("set mtime", "path", dest, "error", err)
		}
	}
	return written, nil
}

// objectModTime prefers the mtime recorded at upload over the store's
// LastModified, which is the upload time.
func objectModTime(lastModified time.Time, metadata map[string]string) time.Time {
	if v, ok := metadata[blob.MetaMtime]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return lastModified
}

// fsWriter tags write errors so they are not mistaken for network failures.
type fsWriter struct {
	f afero.File
}

func (w fsWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, syncerr.Filesystem(w.f.Name(), err)
	}
	return n, nil
}
