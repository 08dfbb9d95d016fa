package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/openmined/s3sync/internal/utils"
)

var ErrFolderBusy = errors.New("folder is already being synced")

var held sync.Map

// FolderLock allows one run per local root. Within the process it is a
// registry of held roots; across processes it is a lock file under lockDir.
// An empty lockDir skips the file lock.
type FolderLock struct {
	root  string
	flock *flock.Flock
}

func NewFolderLock(lockDir, root string) *FolderLock {
	l := &FolderLock{root: filepath.Clean(root)}
	if lockDir != "" {
		sum := sha256.Sum256([]byte(l.root))
		l.flock = flock.New(filepath.Join(lockDir, hex.EncodeToString(sum[:8])+".lock"))
	}
	return l
}

func (l *FolderLock) Lock() error {
	if _, loaded := held.LoadOrStore(l.root, struct{}{}); loaded {
		return ErrFolderBusy
	}
	if l.flock == nil {
		return nil
	}

	if err := utils.EnsureParent(l.flock.Path()); err != nil {
		held.Delete(l.root)
		return fmt.Errorf("create lock dir: %w", err)
	}
	locked, err := l.flock.TryLock()
	if err != nil {
		held.Delete(l.root)
		return fmt.Errorf("lock folder: %w", err)
	}
	if !locked {
		held.Delete(l.root)
		return ErrFolderBusy
	}
	return nil
}

func (l *FolderLock) Unlock() error {
	defer held.Delete(l.root)

	if l.flock == nil || !l.flock.Locked() {
		return nil
	}
	// the file stays; removing it would let two processes lock different inodes
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock folder: %w", err)
	}
	return nil
}
