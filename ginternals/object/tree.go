package object

import (
	"bytes"
	"sort"
	"strconv"
	"strings"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/internal/readutil"
	"golang.org/x/xerrors"
)

// TreeObjectMode represents the mode of an object inside a tree
// Non-standard modes (like 0o100664) are not supported
type TreeObjectMode int32

const (
	// ModeFile represents the mode to use for a regular file
	ModeFile TreeObjectMode = 0o100644
	// ModeExecutable represents the mode to use for a executable file
	ModeExecutable TreeObjectMode = 0o100755
	// ModeDirectory represents the mode to use for a directory
	ModeDirectory TreeObjectMode = 0o040000
	// ModeSymLink represents the mode to use for a symbolic link
	ModeSymLink TreeObjectMode = 0o120000
	// ModeGitLink represents the mode to use for a gitlink (submodule)
	ModeGitLink TreeObjectMode = 0o160000
)

// IsValid returns whether the mode is a supported mode or not
func (m TreeObjectMode) IsValid() bool {
	// we use a switch because any missing value will be detected
	// by our linter
	switch m {
	case ModeFile, ModeExecutable, ModeDirectory, ModeSymLink, ModeGitLink:
		return true
	default:
		return false
	}
}

// ObjectType returns the object type associated to a mode
func (m TreeObjectMode) ObjectType() Type {
	switch m {
	case ModeDirectory:
		return TypeTree
	case ModeGitLink:
		return TypeCommit
	case ModeExecutable, ModeFile, ModeSymLink:
		return TypeBlob
	default:
		// We treat anything unexpected as blob
		return TypeBlob
	}
}

// Tree represents a git tree object
type Tree struct {
	rawObject *Object
	// we don't use pointers to make sure entries are immutable
	entries []TreeEntry
}

// TreeEntry represents an entry inside a git tree
type TreeEntry struct {
	Path string
	ID   ginternals.Oid
	Mode TreeObjectMode
}

// sortKey returns the name used to order an entry inside a tree.
// Trees are sorted as if their name had a trailing slash
func (e TreeEntry) sortKey() string {
	if e.Mode == ModeDirectory {
		return e.Path + "/"
	}
	return e.Path
}

// SortTreeEntries sorts a list of entries in the canonical tree
// order
func SortTreeEntries(entries []TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].sortKey() < entries[j].sortKey()
	})
}

// NewTree returns a new tree with the given entries.
// The entries are sorted in the canonical order, so two trees
// holding the same entries always serialize the same way
func NewTree(entries []TreeEntry) *Tree {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	SortTreeEntries(sorted)

	t := &Tree{
		entries: sorted,
	}
	t.rawObject = t.ToObject()
	return t
}

// NewTreeWithID returns a new tree with the given entries.
// The provided ID is trusted
func NewTreeWithID(id ginternals.Oid, entries []TreeEntry) *Tree {
	t := &Tree{
		entries: entries,
	}
	raw := t.toObjectContent()
	t.rawObject = NewWithID(id, TypeTree, raw)
	return t
}

// NewTreeFromObject returns a new tree from an object
//
// A tree has following format:
//
// {octal_mode} {path_name}\0{encoded_sha}
//
// Note:
// - a Tree may have multiple entries
func NewTreeFromObject(o *Object) (*Tree, error) {
	if o.Type() != TypeTree {
		return nil, xerrors.Errorf("type %s is not a tree: %w", o.typ, ErrObjectInvalid)
	}

	entries := []TreeEntry{}

	objData := o.Bytes()
	if len(objData) > 0 {
		offset := 0
		// the variable i is only use for logs and error messages, not for
		// actual processing
		for i := 1; ; i++ {
			entry := TreeEntry{}
			data := readutil.ReadTo(objData[offset:], ' ')
			if len(data) == 0 {
				return nil, xerrors.Errorf("could not retrieve the mode of entry %d: %w", i, ErrTreeInvalid)
			}
			offset += len(data) + 1 // +1 for the space
			mode, err := strconv.ParseInt(string(data), 8, 32)
			if err != nil {
				return nil, xerrors.Errorf("could not parse mode of entry %d: %s: %w", i, err.Error(), ErrTreeInvalid)
			}
			entry.Mode = TreeObjectMode(mode)

			data = readutil.ReadTo(objData[offset:], 0)
			if len(data) == 0 {
				return nil, xerrors.Errorf("could not retrieve the path of entry %d: %w", i, ErrTreeInvalid)
			}
			offset += len(data) + 1 // +1 for the \0
			entry.Path = string(data)

			if offset+ginternals.OidSize > len(objData) {
				return nil, xerrors.Errorf("not enough space to retrieve the ID of entry %d: %w", i, ErrTreeInvalid)
			}
			entry.ID, err = ginternals.NewOidFromHex(objData[offset : offset+ginternals.OidSize])
			if err != nil {
				// should never fail since any value is valid as long as it
				// is 20 chars
				return nil, xerrors.Errorf("invalid SHA for entry %d (%s): %w", i, err.Error(), ErrTreeInvalid)
			}
			offset += ginternals.OidSize

			entries = append(entries, entry)
			if len(objData) == offset {
				break
			}
		}
	}
	return &Tree{
		rawObject: o,
		entries:   entries,
	}, nil
}

// Entries returns a copy of tree entries
func (t *Tree) Entries() []TreeEntry {
	out := make([]TreeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ID returns the object's ID
func (t *Tree) ID() ginternals.Oid {
	return t.rawObject.ID()
}

// toObjectContent serializes the entries of the tree.
//
// The format of an tree entry is:
// {octal_mode} {path_name}\0{encoded_sha}
// A tree object is only composed of a bunch of entries back to back
func (t *Tree) toObjectContent() []byte {
	// Quick reminder that the Write* methods on bytes.Buffer never fails,
	// the error returned is always nil
	buf := new(bytes.Buffer)
	for _, e := range t.entries {
		// Write the mode
		buf.WriteString(strconv.FormatInt(int64(e.Mode), 8))
		// add space
		buf.WriteByte(' ')
		// add the path
		buf.WriteString(e.Path)
		// Write the NULL char
		buf.WriteByte(0)
		// Finish with the encoded oid
		buf.Write(e.ID.Bytes())
	}
	return buf.Bytes()
}

// ToObject returns an Object representing the tree
func (t *Tree) ToObject() *Object {
	if t.rawObject != nil {
		return t.rawObject
	}
	return New(TypeTree, t.toObjectContent())
}

// TreeGetter represents a method that returns a tree from its oid.
// It's used by the walker so it doesn't depend on a specific backend
type TreeGetter func(oid ginternals.Oid) (*Tree, error)

// TreeWalkFunc represents a function that will be applied on all the
// entries found by Walk()
type TreeWalkFunc func(path string, entry TreeEntry) error

// TreeWalkStop is a fake error used to tell Walk() to stop
var TreeWalkStop = xerrors.New("stop walking") //nolint:revive // fake error used as a sentinel

// Walk walks the tree depth-first and calls fn on every entry, with
// the slash separated path of the entry relative to the root of the
// walked tree.
// If yieldTrees is set the trees themselves are yielded before their
// content
func (t *Tree) Walk(get TreeGetter, yieldTrees bool, fn TreeWalkFunc) error {
	err := t.walk(get, "", yieldTrees, fn)
	if err != nil && !xerrors.Is(err, TreeWalkStop) {
		return err
	}
	return nil
}

func (t *Tree) walk(get TreeGetter, prefix string, yieldTrees bool, fn TreeWalkFunc) error {
	for _, e := range t.entries {
		p := e.Path
		if prefix != "" {
			p = prefix + "/" + e.Path
		}

		if e.Mode != ModeDirectory {
			if err := fn(p, e); err != nil {
				return err
			}
			continue
		}

		if yieldTrees {
			if err := fn(p, e); err != nil {
				return err
			}
		}
		sub, err := get(e.ID)
		if err != nil {
			return xerrors.Errorf("could not get subtree %s at %s: %w", e.ID.String(), p, err)
		}
		if err = sub.walk(get, p, yieldTrees, fn); err != nil {
			return err
		}
	}
	return nil
}

// Lookup resolves a slash separated path inside the tree and returns
// its entry.
// ginternals.ErrObjectNotFound is returned if the path doesn't exist
// in the tree
func (t *Tree) Lookup(get TreeGetter, path string) (TreeEntry, error) {
	current := t
	offset := 0
	for {
		name := path[offset:]
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[:i]
		}

		var found *TreeEntry
		for i := range current.entries {
			if current.entries[i].Path == name {
				found = &current.entries[i]
				break
			}
		}
		if found == nil {
			return TreeEntry{}, xerrors.Errorf("no entry %s in tree: %w", path, ginternals.ErrObjectNotFound)
		}

		offset += len(name) + 1
		if offset > len(path) {
			return *found, nil
		}

		// there's more path to consume so the entry must be a tree
		if found.Mode != ModeDirectory {
			return TreeEntry{}, xerrors.Errorf("%s is not a tree: %w", path[:offset-1], ginternals.ErrObjectNotFound)
		}
		sub, err := get(found.ID)
		if err != nil {
			return TreeEntry{}, xerrors.Errorf("could not get subtree %s: %w", found.ID.String(), err)
		}
		current = sub
	}
}
