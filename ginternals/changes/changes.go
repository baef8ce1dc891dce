// Package changes implements the change detection between the three
// sources of truth of a repository: the tree of the last commit, the
// index, and the working tree.
//
// A conflicted path appears only in Unmerged. Other paths are not
// limited to one set: a file whose index version differs from both
// the last commit and the working tree is in Staged and in NotStaged,
// and a file removed from the index but still on disk is in Staged
// (deleted) and in Untracked. The sets are sorted so two runs over
// the same state always produce the same report
package changes

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/vcslab/git-go/internal/gitpath"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// Kind represents the kind of a change
type Kind int8

// List of all possible change kinds
const (
	KindAdded Kind = iota + 1
	KindModified
	KindDeleted
	KindRenamed
)

func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "new file"
	case KindModified:
		return "modified"
	case KindDeleted:
		return "deleted"
	case KindRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Change represents a single classified change
type Change struct {
	// Path is the slash separated path of the file
	Path string
	// From is the path the file had before a rename, empty otherwise
	From string
	Kind Kind
}

// Changes represents the full classified report
type Changes struct {
	// Staged contains the differences between the tree of the last
	// commit and the index
	Staged []Change
	// NotStaged contains the differences between the index and the
	// working tree
	NotStaged []Change
	// Untracked contains the paths of the working tree that are not
	// in the index
	Untracked []string
	// Unmerged contains the paths that are in a conflict state
	Unmerged []string
}

// entry represents a (hash, mode) pair found in one of the sources
type entry struct {
	oid  ginternals.Oid
	mode object.TreeObjectMode
}

// flattenTree returns a map path => entry of all the leaves of a
// tree. A nil tree returns an empty map (initial commit)
func flattenTree(b backend.Backend, tree *object.Tree) (map[string]entry, error) {
	out := map[string]entry{}
	if tree == nil {
		return out, nil
	}
	get := func(oid ginternals.Oid) (*object.Tree, error) {
		o, err := b.Object(oid)
		if err != nil {
			return nil, err
		}
		return o.AsTree()
	}
	err := tree.Walk(get, false, func(path string, e object.TreeEntry) error {
		out[path] = entry{oid: e.ID, mode: e.Mode}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("could not walk the tree: %w", err)
	}
	return out, nil
}

// workingTreeState walks the working tree and returns a map
// path => entry, hashing every file.
// The .git directory is skipped
func workingTreeState(wt afero.Fs, root string) (map[string]entry, error) {
	out := map[string]entry{}
	err := afero.Walk(wt, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				// the working tree might be empty
				return nil
			}
			return err
		}
		if info.IsDir() {
			if info.Name() == gitpath.DotGitPath {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return xerrors.Errorf("could not get the repo path of %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)
		if rel == gitpath.DotGitPath || strings.HasPrefix(rel, gitpath.DotGitPath+"/") {
			return nil
		}

		content, err := afero.ReadFile(wt, path)
		if err != nil {
			return xerrors.Errorf("could not read %s: %w", rel, err)
		}
		mode := object.ModeFile
		if info.Mode()&0o111 != 0 {
			mode = object.ModeExecutable
		}
		out[rel] = entry{
			oid:  object.New(object.TypeBlob, content).ID(),
			mode: mode,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// indexState splits the index into the merged entries and the
// conflicted paths
func indexState(idx *ginternals.Index) (merged map[string]entry, unmerged []string) {
	merged = map[string]entry{}
	unmergedSet := map[string]struct{}{}
	for _, e := range idx.Entries() {
		if e.Stage != ginternals.StageMerged {
			unmergedSet[e.Path] = struct{}{}
			continue
		}
		merged[e.Path] = entry{
			oid:  e.ID,
			mode: object.TreeObjectMode(e.Mode),
		}
	}
	for path := range unmergedSet {
		unmerged = append(unmerged, path)
	}
	sort.Strings(unmerged)
	return merged, unmerged
}

// Detect compares the tree of the last commit, the index, and the
// working tree, and returns the classified changes.
// headTree may be nil when the repository has no commit yet
func Detect(b backend.Backend, headTree *object.Tree, idx *ginternals.Index, wt afero.Fs, root string) (*Changes, error) {
	head, err := flattenTree(b, headTree)
	if err != nil {
		return nil, err
	}
	staged, unmerged := indexState(idx)
	working, err := workingTreeState(wt, root)
	if err != nil {
		return nil, xerrors.Errorf("could not walk the working tree: %w", err)
	}

	out := &Changes{
		Unmerged: unmerged,
	}

	// index vs HEAD: what would be committed
	added := []Change{}
	deletedByOid := map[ginternals.Oid][]string{}
	for path, e := range staged {
		old, inHead := head[path]
		switch {
		case !inHead:
			added = append(added, Change{Path: path, Kind: KindAdded})
		case old.oid != e.oid || old.mode != e.mode:
			out.Staged = append(out.Staged, Change{Path: path, Kind: KindModified})
		}
	}
	unmergedSet := map[string]struct{}{}
	for _, path := range unmerged {
		unmergedSet[path] = struct{}{}
	}
	for path, e := range head {
		_, isStaged := staged[path]
		_, isUnmerged := unmergedSet[path]
		if !isStaged && !isUnmerged {
			deletedByOid[e.oid] = append(deletedByOid[e.oid], path)
		}
	}
	// a path added with the same content as a deleted one is a
	// rename
	sort.Slice(added, func(i, j int) bool { return added[i].Path < added[j].Path })
	for _, change := range added {
		oid := staged[change.Path].oid
		if origins, ok := deletedByOid[oid]; ok && len(origins) > 0 {
			sort.Strings(origins)
			out.Staged = append(out.Staged, Change{
				Path: change.Path,
				From: origins[0],
				Kind: KindRenamed,
			})
			deletedByOid[oid] = origins[1:]
			continue
		}
		out.Staged = append(out.Staged, change)
	}
	for _, paths := range deletedByOid {
		for _, path := range paths {
			out.Staged = append(out.Staged, Change{Path: path, Kind: KindDeleted})
		}
	}

	// working tree vs index: what is not staged
	for path, e := range staged {
		current, onDisk := working[path]
		switch {
		case !onDisk:
			out.NotStaged = append(out.NotStaged, Change{Path: path, Kind: KindDeleted})
		case current.oid != e.oid || current.mode != e.mode:
			out.NotStaged = append(out.NotStaged, Change{Path: path, Kind: KindModified})
		}
	}

	// whatever is on disk but neither staged nor conflicted is
	// untracked
	for path := range working {
		_, isStaged := staged[path]
		_, isUnmerged := unmergedSet[path]
		if !isStaged && !isUnmerged {
			out.Untracked = append(out.Untracked, path)
		}
	}

	sort.Slice(out.Staged, func(i, j int) bool { return out.Staged[i].Path < out.Staged[j].Path })
	sort.Slice(out.NotStaged, func(i, j int) bool { return out.NotStaged[i].Path < out.NotStaged[j].Path })
	sort.Strings(out.Untracked)
	return out, nil
}
