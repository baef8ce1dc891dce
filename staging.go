package git

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// ErrNoWorkingTree is returned when an operation that needs a
// working tree runs on a bare repository
var ErrNoWorkingTree = xerrors.New("bare repository has no working tree")

// repoPath converts a user provided path into the slash separated
// path of the file relative to the root of the repository
func (r *Repository) repoPath(path string) (string, error) {
	path = filepath.Clean(path)
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(r.repoRoot, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", xerrors.Errorf("%s is outside the repository: %w", path, ginternals.ErrIndexPathInvalid)
		}
		path = rel
	}
	return filepath.ToSlash(path), nil
}

// workingTreePath returns the on-disk path of a repo relative path
func (r *Repository) workingTreePath(repoPath string) string {
	return filepath.Join(r.repoRoot, filepath.FromSlash(repoPath))
}

// hashFile stores the content of a working tree file as a blob and
// returns its oid and index mode
func (r *Repository) hashFile(repoPath string) (ginternals.Oid, ginternals.EntryMode, error) {
	p := r.workingTreePath(repoPath)
	info, err := r.wt.Stat(p)
	if err != nil {
		return ginternals.NullOid, 0, err
	}
	if info.IsDir() {
		return ginternals.NullOid, 0, xerrors.Errorf("%s is a directory: %w", repoPath, ginternals.ErrIndexPathInvalid)
	}

	content, err := afero.ReadFile(r.wt, p)
	if err != nil {
		return ginternals.NullOid, 0, xerrors.Errorf("could not read %s: %w", repoPath, err)
	}
	oid, err := r.dotGit.WriteObject(object.New(object.TypeBlob, content))
	if err != nil {
		return ginternals.NullOid, 0, xerrors.Errorf("could not store the blob of %s: %w", repoPath, err)
	}

	mode := ginternals.EntryModeFile
	if info.Mode()&0o111 != 0 {
		mode = ginternals.EntryModeExecutable
	}
	return oid, mode, nil
}

// Add stages the given files: their current content is stored in the
// object database and the index updated to point to it.
// A path naming a directory stages everything under it. A staged
// path that no longer exists on disk is removed from the index, the
// way `git add` records deletions
func (r *Repository) Add(paths ...string) error {
	if r.IsBare() {
		return ErrNoWorkingTree
	}

	idx, err := r.dotGit.Index()
	if err != nil {
		return err
	}

	for _, path := range paths {
		repoPath, err := r.repoPath(path)
		if err != nil {
			return err
		}

		info, err := r.wt.Stat(r.workingTreePath(repoPath))
		switch {
		case err != nil && !os.IsNotExist(err):
			return xerrors.Errorf("could not check %s: %w", repoPath, err)
		case err != nil:
			// the file is gone: stage the deletion if it was
			// tracked
			if removeErr := idx.Remove(repoPath); removeErr != nil {
				return xerrors.Errorf("pathspec %s did not match any file: %w", path, removeErr)
			}
		case info.IsDir():
			if err = r.addDir(idx, repoPath); err != nil {
				return err
			}
		default:
			oid, mode, err := r.hashFile(repoPath)
			if err != nil {
				return err
			}
			if err = idx.Add(repoPath, oid, mode); err != nil {
				return err
			}
		}
	}

	return r.dotGit.WriteIndex(idx)
}

// addDir stages every file below the given directory
func (r *Repository) addDir(idx *ginternals.Index, repoPath string) error {
	root := r.workingTreePath(repoPath)
	if repoPath == "." {
		root = r.repoRoot
	}
	return afero.Walk(r.wt, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(r.repoRoot, path)
		if err != nil {
			return xerrors.Errorf("could not get the repo path of %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		oid, mode, err := r.hashFile(rel)
		if err != nil {
			return err
		}
		return idx.Add(rel, oid, mode)
	})
}

// RmOptions contains all the optional data used to remove a file
type RmOptions struct {
	// KeepFile only removes the file from the index, leaving the
	// working tree untouched
	KeepFile bool
}

// Rm unstages the given files and removes them from the working
// tree
func (r *Repository) Rm(paths []string, opts RmOptions) error {
	if r.IsBare() {
		return ErrNoWorkingTree
	}

	idx, err := r.dotGit.Index()
	if err != nil {
		return err
	}

	for _, path := range paths {
		repoPath, err := r.repoPath(path)
		if err != nil {
			return err
		}
		if err = idx.Remove(repoPath); err != nil {
			return xerrors.Errorf("pathspec %s did not match any file: %w", path, err)
		}
		if !opts.KeepFile {
			if err = r.wt.Remove(r.workingTreePath(repoPath)); err != nil && !os.IsNotExist(err) {
				return xerrors.Errorf("could not remove %s: %w", repoPath, err)
			}
		}
	}

	return r.dotGit.WriteIndex(idx)
}

// LsFiles returns all the entries of the index
func (r *Repository) LsFiles() ([]*ginternals.IndexEntry, error) {
	idx, err := r.dotGit.Index()
	if err != nil {
		return nil, err
	}
	return idx.Entries(), nil
}
