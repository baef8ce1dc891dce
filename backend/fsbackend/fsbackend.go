// Package fsbackend contains an implementation of the backend.Backend
// interface for the filesystem
package fsbackend

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/config"
	"github.com/vcslab/git-go/ginternals/packfile"
	"github.com/vcslab/git-go/internal/cache"
	"github.com/vcslab/git-go/internal/gitpath"
	"github.com/vcslab/git-go/internal/syncutil"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// we make sure the struct implements the interface
var _ backend.Backend = (*Backend)(nil)

// objectCacheSize is the amount of objects kept in memory to avoid
// hitting the disk on hot paths (tree walks mostly)
const objectCacheSize = 1024

// Backend is a Backend implementation that uses the filesystem to
// store data
type Backend struct {
	fs   afero.Fs
	root string

	// objectMu protects the loose objects per-oid
	objectMu *syncutil.NamedMutex
	cache    *cache.LRU

	// looseObjects keeps track of the objects present on disk so
	// looking up a missing object doesn't hit the filesystem
	looseObjects sync.Map
	looseLoaded  bool
	looseMu      sync.Mutex

	packfiles map[ginternals.Oid]*packfile.Pack
	packMu    sync.Mutex

	// indexMu serializes the index writes of this process; cross
	// process writers are serialized by the index.lock file
	indexMu sync.Mutex
}

// New returns a new Backend object storing its data at the given
// path on the given filesystem
func New(fs afero.Fs, dotGitPath string) (*Backend, error) {
	objectCache, err := cache.NewLRU(objectCacheSize)
	if err != nil {
		return nil, xerrors.Errorf("could not create the object cache: %w", err)
	}
	return &Backend{
		fs:       fs,
		root:     dotGitPath,
		objectMu: syncutil.NewNamedMutex(101),
		cache:    objectCache,
	}, nil
}

// Path returns the root path of the backend
func (b *Backend) Path() string {
	return b.root
}

// Init initializes a repository.
// Calling this method on an existing repository is safe. It will not
// overwrite things that are already there, but will add what's
// missing
func (b *Backend) Init(branchName string) error {
	// Create the directories
	dirs := []string{
		gitpath.ObjectsPath,
		gitpath.RefsTagsPath,
		gitpath.RefsHeadsPath,
		gitpath.RefsRemotesPath,
		gitpath.ObjectsInfoPath,
		gitpath.ObjectsPackPath,
	}
	for _, d := range dirs {
		fullPath := filepath.Join(b.root, d)
		if err := b.fs.MkdirAll(fullPath, 0o750); err != nil {
			return xerrors.Errorf("could not create directory %s: %w", d, err)
		}
	}

	// Create the files with the default content
	files := []struct {
		path    string
		content []byte
	}{
		{
			path:    gitpath.DescriptionPath,
			content: []byte("Unnamed repository; edit this file 'description' to name the repository.\n"),
		},
	}
	for _, f := range files {
		fullPath := filepath.Join(b.root, f.path)
		exists, err := afero.Exists(b.fs, fullPath)
		if err != nil {
			return xerrors.Errorf("could not check file %s: %w", f.path, err)
		}
		if exists {
			continue
		}
		if err := afero.WriteFile(b.fs, fullPath, f.content, 0o644); err != nil {
			return xerrors.Errorf("could not create file %s: %w", f.path, err)
		}
	}

	if err := b.setDefaultCfg(); err != nil {
		return xerrors.Errorf("could not set the default config: %w", err)
	}

	// HEAD points to the initial branch. We use the safe write so
	// reinitializing a repository doesn't move its HEAD
	ref := ginternals.NewSymbolicReference(ginternals.Head, ginternals.LocalBranchFullName(branchName))
	if err := b.WriteReferenceSafe(ref); err != nil && !xerrors.Is(err, ginternals.ErrRefExists) {
		return xerrors.Errorf("could not write HEAD: %w", err)
	}
	return nil
}

// setDefaultCfg persists the default configuration of a new
// repository
func (b *Backend) setDefaultCfg() error {
	path := filepath.Join(b.root, gitpath.ConfigPath)
	exists, err := afero.Exists(b.fs, path)
	if err != nil {
		return xerrors.Errorf("could not check for the config file: %w", err)
	}
	if exists {
		return nil
	}

	cfg, err := config.Load(b.fs, path)
	if err != nil {
		return err
	}
	cfg.SetCoreValue(config.KeyCoreFormatVersion, "0")
	cfg.SetCoreValue(config.KeyCoreFileMode, "true")
	cfg.SetCoreValue(config.KeyCoreBare, "false")
	return cfg.Save()
}

// loadPacks loads the packfiles in memory.
// It's called lazily on the first object lookup
func (b *Backend) loadPacks() error {
	b.packMu.Lock()
	defer b.packMu.Unlock()

	if b.packfiles != nil {
		return nil
	}
	b.packfiles = map[ginternals.Oid]*packfile.Pack{}

	p := filepath.Join(b.root, gitpath.ObjectsPackPath)
	return afero.Walk(b.fs, p, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// in case of error we just skip it and move on.
			// this will happen if the repo is empty and the
			// ./objects/pack folder doesn't exists
			return nil
		}

		if info.IsDir() {
			if path == p {
				return nil
			}
			// There should be no directories, but just in case,
			// we make sure we don't go in them
			return filepath.SkipDir
		}

		// We're only interested in packfiles
		if filepath.Ext(info.Name()) != packfile.ExtPackfile {
			return nil
		}

		packFilePath := filepath.Join(p, info.Name())
		pack, err := packfile.NewFromFile(b.fs, packFilePath)
		if err != nil {
			return xerrors.Errorf("could not parse packfile at %s: %w", packFilePath, err)
		}
		id, err := pack.ID()
		if err != nil {
			return xerrors.Errorf("could not get the ID of packfile at %s: %w", packFilePath, err)
		}
		b.packfiles[id] = pack
		return nil
	})
}

// Close frees the resources
func (b *Backend) Close() error {
	b.packMu.Lock()
	defer b.packMu.Unlock()

	var firstErr error
	for _, pack := range b.packfiles {
		if err := pack.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.packfiles = nil
	return firstErr
}
