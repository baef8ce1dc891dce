package git

import (
	"sort"
	"strings"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"golang.org/x/xerrors"
)

// TreeBuilder is used to build trees
type TreeBuilder struct {
	backend backend.Backend
	// entries is keyed by the slash separated path of the entry
	// relative to the root of the repository
	entries map[string]object.TreeEntry
}

// NewTreeBuilder create a new empty tree builder
func (r *Repository) NewTreeBuilder() *TreeBuilder {
	return &TreeBuilder{
		backend: r.dotGit,
		entries: map[string]object.TreeEntry{},
	}
}

// NewTreeBuilderFromTree create a new tree builder containing all
// the leaves of another tree, keyed by their full path
func (r *Repository) NewTreeBuilderFromTree(t *object.Tree) (*TreeBuilder, error) {
	tb := r.NewTreeBuilder()
	err := t.Walk(r.GetTree, false, func(path string, e object.TreeEntry) error {
		tb.entries[path] = object.TreeEntry{
			Path: path,
			ID:   e.ID,
			Mode: e.Mode,
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("could not walk the tree: %w", err)
	}
	return tb, nil
}

// NewTreeBuilderFromIndex create a new tree builder containing the
// merged entries of the index.
// ginternals.ErrEntryUnmerged is returned if the index has
// conflicting entries
func (r *Repository) NewTreeBuilderFromIndex(idx *ginternals.Index) (*TreeBuilder, error) {
	if idx.HasConflicts() {
		return nil, ginternals.ErrEntryUnmerged
	}

	tb := r.NewTreeBuilder()
	for _, e := range idx.Entries() {
		if err := tb.Insert(e.Path, e.ID, object.TreeObjectMode(e.Mode)); err != nil {
			return nil, err
		}
	}
	return tb, nil
}

// Insert inserts a new object in a tree.
// Any directory in the path is created when the tree is written
func (tb *TreeBuilder) Insert(path string, oid ginternals.Oid, mode object.TreeObjectMode) error {
	if !mode.IsValid() || mode == object.ModeDirectory {
		//nolint:goerr113 // no need to wrap the error, this would only be caused by a bug in the codebase
		return xerrors.Errorf("invalid mode %o", mode)
	}

	// gitlinks point outside the repository, everything else must
	// be in the odb
	if mode != object.ModeGitLink {
		o, err := tb.backend.Object(oid)
		if err != nil {
			return xerrors.Errorf("cannot verify object: %w", err)
		}
		if o.Type() != object.TypeBlob && o.Type() != object.TypeTree {
			return xerrors.Errorf("unexpected object %s: %w", o.Type().String(), object.ErrObjectInvalid)
		}
	}

	tb.entries[path] = object.TreeEntry{
		Mode: mode,
		Path: path,
		ID:   oid,
	}
	return nil
}

// Remove removes an object from tree
func (tb *TreeBuilder) Remove(path string) {
	delete(tb.entries, path)
}

// Write creates and persists the trees needed to represent all the
// inserted entries (one tree per directory) and returns the root
// tree.
// The same entries always produce the same root id
func (tb *TreeBuilder) Write() (*object.Tree, error) {
	paths := make([]string, 0, len(tb.entries))
	for p := range tb.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return tb.writeDir("", paths)
}

// writeDir builds and persists the tree of a single directory.
// paths contains the full path of every entry below the directory,
// sorted
func (tb *TreeBuilder) writeDir(prefix string, paths []string) (*object.Tree, error) {
	entries := []object.TreeEntry{}

	for i := 0; i < len(paths); {
		path := paths[i]
		rel := strings.TrimPrefix(path, prefix)

		slash := strings.IndexByte(rel, '/')
		if slash < 0 {
			// a leaf of this directory
			e := tb.entries[path]
			entries = append(entries, object.TreeEntry{
				Path: rel,
				ID:   e.ID,
				Mode: e.Mode,
			})
			i++
			continue
		}

		// a subdirectory: take all the paths sharing the prefix and
		// build its tree
		dir := rel[:slash]
		subPrefix := prefix + dir + "/"
		j := i
		for j < len(paths) && strings.HasPrefix(paths[j], subPrefix) {
			j++
		}
		subTree, err := tb.writeDir(subPrefix, paths[i:j])
		if err != nil {
			return nil, err
		}
		entries = append(entries, object.TreeEntry{
			Path: dir,
			ID:   subTree.ID(),
			Mode: object.ModeDirectory,
		})
		i = j
	}

	t := object.NewTree(entries)
	if _, err := tb.backend.WriteObject(t.ToObject()); err != nil {
		return nil, xerrors.Errorf("could not write the tree of %q to the odb: %w", prefix, err)
	}
	return t, nil
}
