// Package git contains all the methods needed to interact with a git
// repository: staging files, committing, inspecting the history, and
// synchronizing with remotes
package git

import (
	"errors"
	"path/filepath"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/backend/fsbackend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/config"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/vcslab/git-go/internal/gitlog"
	"github.com/vcslab/git-go/internal/gitpath"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// List of errors returned by the Repository struct
var (
	ErrRepositoryNotExist = errors.New("repository does not exist")
	ErrRepositoryExists   = errors.New("repository already exists")
	ErrNoCommit           = errors.New("no commit yet")
	ErrNothingToCommit    = errors.New("nothing to commit")
)

// Repository represent a git repository
// A Git repository is the .git/ folder inside a project.
// This repository tracks all changes made to files in your project,
// building a history over time.
type Repository struct {
	dotGit   backend.Backend
	wt       afero.Fs
	repoRoot string
	config   *config.Config
	log      *logrus.Logger
}

// InitOptions contains all the optional data used to initialize a
// repository
type InitOptions struct {
	// IsBare represents whether a bare repository will be created or
	// not
	IsBare bool
	// InitialBranchName is the name of the first branch.
	// Defaults to master
	InitialBranchName string
	// GitBackend represents the underlying backend to use to init
	// the repository and interact with the odb.
	// By default the filesystem will be used
	GitBackend backend.Backend
	// WorkingTreeBackend represents the underlying backend to use to
	// interact with the working tree.
	// By default the filesystem will be used.
	// Setting this is useless if IsBare is set to true
	WorkingTreeBackend afero.Fs
	// Logger receives the diagnostics of the repository.
	// Defaults to a logger that drops everything
	Logger *logrus.Logger
}

// InitRepository initialize a new git repository by creating the
// .git directory in the given path, which is where almost everything
// that Git stores and manipulates is located
func InitRepository(repoPath string) (*Repository, error) {
	return InitRepositoryWithOptions(repoPath, InitOptions{})
}

// InitRepositoryWithOptions initialize a new git repository by
// creating the .git directory in the given path
func InitRepositoryWithOptions(repoPath string, opts InitOptions) (r *Repository, err error) {
	r, err = newRepository(repoPath, opts.IsBare, opts.GitBackend, opts.WorkingTreeBackend, opts.Logger)
	if err != nil {
		return nil, err
	}

	branchName := opts.InitialBranchName
	if branchName == "" {
		branchName = ginternals.Master
	}
	if !ginternals.IsRefNameValid(ginternals.LocalBranchFullName(branchName)) {
		return nil, ginternals.ErrRefNameInvalid
	}

	if err = r.dotGit.Init(branchName); err != nil {
		return nil, err
	}
	if r.config, err = config.Load(r.wtOrDotGitFs(), filepath.Join(r.dotGit.Path(), gitpath.ConfigPath)); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenOptions contains all the optional data used to open a
// repository
type OpenOptions struct {
	// IsBare represents whether the repository is bare or not
	IsBare bool
	// GitBackend represents the underlying backend to use to
	// interact with the odb.
	// By default the filesystem will be used
	GitBackend backend.Backend
	// WorkingTreeBackend represents the underlying backend to use to
	// interact with the working tree.
	// By default the filesystem will be used
	WorkingTreeBackend afero.Fs
	// Logger receives the diagnostics of the repository.
	// Defaults to a logger that drops everything
	Logger *logrus.Logger
}

// OpenRepository loads an existing git repository by reading its
// config file, and returns a Repository instance
func OpenRepository(repoPath string) (*Repository, error) {
	return OpenRepositoryWithOptions(repoPath, OpenOptions{})
}

// OpenRepositoryWithOptions loads an existing git repository by
// reading its config file, and returns a Repository instance
func OpenRepositoryWithOptions(repoPath string, opts OpenOptions) (r *Repository, err error) {
	r, err = newRepository(repoPath, opts.IsBare, opts.GitBackend, opts.WorkingTreeBackend, opts.Logger)
	if err != nil {
		return nil, err
	}

	// since we can't check if the directory exists on disk to
	// validate if the repo exists, we're instead going to see if
	// HEAD exists (since it should always be there)
	if _, err = r.dotGit.Reference(ginternals.Head); err != nil {
		return nil, ErrRepositoryNotExist
	}

	if r.config, err = config.Load(r.wtOrDotGitFs(), filepath.Join(r.dotGit.Path(), gitpath.ConfigPath)); err != nil {
		return nil, err
	}
	return r, nil
}

// newRepository builds the Repository struct shared by Init and Open
func newRepository(repoPath string, isBare bool, gitBackend backend.Backend, wtBackend afero.Fs, log *logrus.Logger) (*Repository, error) {
	dotGitPath := repoPath
	if !isBare {
		dotGitPath = filepath.Join(repoPath, gitpath.DotGitPath)
	}
	r := &Repository{
		repoRoot: repoPath,
		dotGit:   gitBackend,
		log:      log,
	}
	if r.log == nil {
		r.log = gitlog.Discard()
	}

	if !isBare {
		r.wt = wtBackend
		if r.wt == nil {
			r.wt = afero.NewOsFs()
		}
	}

	if r.dotGit == nil {
		fs := r.wt
		if fs == nil {
			fs = afero.NewOsFs()
		}
		b, err := fsbackend.New(fs, dotGitPath)
		if err != nil {
			return nil, err
		}
		r.dotGit = b
	}
	return r, nil
}

// wtOrDotGitFs returns the filesystem holding the .git directory
func (r *Repository) wtOrDotGitFs() afero.Fs {
	if r.wt != nil {
		return r.wt
	}
	return afero.NewOsFs()
}

// IsBare returns whether the repo is bare or not
func (r *Repository) IsBare() bool {
	return r.wt == nil
}

// Close frees the resources of the repository
func (r *Repository) Close() error {
	return r.dotGit.Close()
}

// Backend returns the backend storing the data of the repository.
// It's what servers hand to the wire package
func (r *Repository) Backend() backend.Backend {
	return r.dotGit
}

// Config returns the configuration of the repository
func (r *Repository) Config() *config.Config {
	return r.config
}

// GetObject returns the object matching the given Oid
func (r *Repository) GetObject(oid ginternals.Oid) (*object.Object, error) {
	return r.dotGit.Object(oid)
}

// GetCommit returns the commit matching the given Oid
func (r *Repository) GetCommit(oid ginternals.Oid) (*object.Commit, error) {
	o, err := r.dotGit.Object(oid)
	if err != nil {
		return nil, err
	}
	return o.AsCommit()
}

// GetTree returns the tree matching the given Oid
func (r *Repository) GetTree(oid ginternals.Oid) (*object.Tree, error) {
	o, err := r.dotGit.Object(oid)
	if err != nil {
		return nil, err
	}
	return o.AsTree()
}

// GetBlob returns the blob matching the given Oid
func (r *Repository) GetBlob(oid ginternals.Oid) (*object.Blob, error) {
	o, err := r.dotGit.Object(oid)
	if err != nil {
		return nil, err
	}
	return o.AsBlob()
}

// WriteObject writes the given object to the odb and returns its
// Oid
func (r *Repository) WriteObject(o *object.Object) (ginternals.Oid, error) {
	return r.dotGit.WriteObject(o)
}

// NewBlob creates, stores, and returns a new Blob object
func (r *Repository) NewBlob(data []byte) (*object.Blob, error) {
	o := object.New(object.TypeBlob, data)
	if _, err := r.dotGit.WriteObject(o); err != nil {
		return nil, xerrors.Errorf("could not store the blob: %w", err)
	}
	blob, err := o.AsBlob()
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Head returns the resolved HEAD reference
func (r *Repository) Head() (*ginternals.Reference, error) {
	return r.dotGit.Reference(ginternals.Head)
}

// headCommit returns the commit HEAD points to.
// ErrNoCommit is returned on a repository with no commit yet
func (r *Repository) headCommit() (*object.Commit, error) {
	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	if head.Target().IsZero() {
		return nil, ErrNoCommit
	}
	return r.GetCommit(head.Target())
}

// headTree returns the tree of the commit HEAD points to, or nil on
// a repository with no commit yet
func (r *Repository) headTree() (*object.Tree, error) {
	commit, err := r.headCommit()
	if err != nil {
		if xerrors.Is(err, ErrNoCommit) || xerrors.Is(err, ginternals.ErrRefNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.GetTree(commit.TreeID())
}
