package git

import (
	"os"
	"path/filepath"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// checkoutHead materializes the tree of the HEAD commit in the
// working tree and resets the index to match it.
// Only meant for fresh repositories (clone): existing files are
// overwritten
func (r *Repository) checkoutHead() error {
	if r.IsBare() {
		return ErrNoWorkingTree
	}

	tree, err := r.headTree()
	if err != nil {
		return err
	}
	if tree == nil {
		return nil
	}

	idx, err := r.dotGit.Index()
	if err != nil {
		return err
	}

	err = tree.Walk(r.GetTree, false, func(path string, e object.TreeEntry) error {
		if e.Mode == object.ModeGitLink {
			// submodules only get their directory
			return r.wt.MkdirAll(r.workingTreePath(path), 0o755)
		}

		blob, err := r.GetBlob(e.ID)
		if err != nil {
			return xerrors.Errorf("could not get the content of %s: %w", path, err)
		}

		p := r.workingTreePath(path)
		if err = r.wt.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return xerrors.Errorf("could not create the directory of %s: %w", path, err)
		}

		var mode os.FileMode = 0o644
		idxMode := ginternals.EntryModeFile
		switch e.Mode {
		case object.ModeExecutable:
			mode = 0o755
			idxMode = ginternals.EntryModeExecutable
		case object.ModeSymLink:
			// the blob holds the target of the link. Not every
			// filesystem can materialize a symlink, so we fall back
			// to a regular file holding the target
			idxMode = ginternals.EntryModeSymLink
			if linker, ok := r.wt.(afero.Linker); ok {
				if err = linker.SymlinkIfPossible(string(blob.Bytes()), p); err == nil {
					return idx.Add(path, e.ID, idxMode)
				}
			}
		}
		if err = afero.WriteFile(r.wt, p, blob.Bytes(), mode); err != nil {
			return xerrors.Errorf("could not write %s: %w", path, err)
		}
		return idx.Add(path, e.ID, idxMode)
	})
	if err != nil {
		return err
	}

	return r.dotGit.WriteIndex(idx)
}
