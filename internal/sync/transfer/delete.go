package transfer

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/openmined/s3sync/internal/blob"
	"github.com/openmined/s3sync/internal/sync/diff"
	"github.com/openmined/s3sync/internal/sync/syncerr"
	"github.com/spf13/afero"
)

// deleteLocal removes the file and then any parent directories it leaves
// empty, stopping at the sync root. A file that is already gone is success.
func (m *Manager) deleteLocal(a diff.SyncAction) error {
	path := m.localPath(a.Path)
	if err := m.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return syncerr.Filesystem(path, err)
	}
	m.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

func (m *Manager) pruneEmptyDirs(dir string) {
	root := filepath.Clean(m.opts.LocalRoot)
	for dir != root && len(dir) > len(root) {
		empty, err := afero.IsEmpty(m.fs, dir)
		if err != nil || !empty {
			return
		}
		if err := m.fs.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (m *Manager) deleteRemote(ctx context.Context, a diff.SyncAction) error {
	key := m.key(a.Path)
	return m.withTimeout(ctx, "delete", func(opCtx context.Context) error {
		err := m.store.DeleteObject(opCtx, key)
		if errors.Is(err, blob.ErrNotFound) {
			return nil
		}
		return err
	})
}
