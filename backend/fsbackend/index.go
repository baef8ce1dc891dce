package fsbackend

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/internal/errutil"
	"github.com/vcslab/git-go/internal/gitpath"
	"golang.org/x/xerrors"
)

// Index returns the staging area of the repository.
// An empty index is returned if the repository has none
func (b *Backend) Index() (idx *ginternals.Index, err error) {
	f, err := b.fs.Open(filepath.Join(b.root, gitpath.IndexPath))
	if err != nil {
		if os.IsNotExist(err) {
			return ginternals.NewIndex(), nil
		}
		return nil, xerrors.Errorf("could not open the index: %w", err)
	}
	defer errutil.Close(f, &err)

	idx, err = ginternals.NewIndexFromReader(f)
	if err != nil {
		return nil, xerrors.Errorf("could not parse the index: %w", err)
	}
	return idx, nil
}

// WriteIndex persists the staging area.
// The write happens under the index lock: the new content is written
// to index.lock (created exclusively) then renamed in place, so a
// concurrent writer fails with ErrIndexLocked and a concurrent
// reader always sees a complete index
func (b *Backend) WriteIndex(idx *ginternals.Index) error {
	b.indexMu.Lock()
	defer b.indexMu.Unlock()

	lockPath := filepath.Join(b.root, gitpath.IndexLockPath)
	lock, err := b.fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ginternals.ErrIndexLocked
		}
		return xerrors.Errorf("could not create the index lock: %w", err)
	}
	unlock := func() {
		b.fs.Remove(lockPath) //nolint:errcheck // best effort
	}

	var buf bytes.Buffer
	if err = idx.Encode(&buf); err != nil {
		lock.Close() //nolint:errcheck // we're already failing
		unlock()
		return xerrors.Errorf("could not encode the index: %w", err)
	}
	if _, err = lock.Write(buf.Bytes()); err != nil {
		lock.Close() //nolint:errcheck // we're already failing
		unlock()
		return xerrors.Errorf("could not write the index: %w", err)
	}
	if err = lock.Close(); err != nil {
		unlock()
		return xerrors.Errorf("could not flush the index: %w", err)
	}
	if err = b.fs.Rename(lockPath, filepath.Join(b.root, gitpath.IndexPath)); err != nil {
		unlock()
		return xerrors.Errorf("could not move the new index in place: %w", err)
	}
	return nil
}
