package changes_test

import (
	"testing"
	"time"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/backend/fsbackend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/changes"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	b   backend.Backend
	fs  afero.Fs
	idx *ginternals.Index
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	b, err := fsbackend.New(fs, "/repo/.git")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, b.Close())
	})
	require.NoError(t, b.Init(ginternals.Master))
	return &fixture{
		b:   b,
		fs:  fs,
		idx: ginternals.NewIndex(),
	}
}

// writeFile writes a file in the working tree
func (f *fixture) writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, "/repo/"+path, []byte(content), 0o644))
}

// stage adds a blob to the odb and the index
func (f *fixture) stage(t *testing.T, path, content string) ginternals.Oid {
	t.Helper()

	oid, err := f.b.WriteObject(object.New(object.TypeBlob, []byte(content)))
	require.NoError(t, err)
	require.NoError(t, f.idx.Add(path, oid, ginternals.EntryModeFile))
	return oid
}

// commitTree builds a tree from the index and returns it as the
// committed tree
func (f *fixture) commitTree(t *testing.T) *object.Tree {
	t.Helper()

	entries := []object.TreeEntry{}
	for _, e := range f.idx.Entries() {
		entries = append(entries, object.TreeEntry{
			Path: e.Path,
			ID:   e.ID,
			Mode: object.TreeObjectMode(e.Mode),
		})
	}
	tree := object.NewTree(entries)
	_, err := f.b.WriteObject(tree.ToObject())
	require.NoError(t, err)

	sig := object.Signature{Name: "Foo Bar", Email: "foo@bar", Time: time.Unix(1_700_000_000, 0).UTC()}
	c := object.NewCommit(tree.ID(), sig, &object.CommitOptions{Message: "initial"})
	_, err = f.b.WriteObject(c.ToObject())
	require.NoError(t, err)
	return tree
}

func (f *fixture) detect(t *testing.T, headTree *object.Tree) *changes.Changes {
	t.Helper()

	out, err := changes.Detect(f.b, headTree, f.idx, f.fs, "/repo")
	require.NoError(t, err)
	return out
}

func TestDetect(t *testing.T) {
	t.Parallel()

	t.Run("a clean repo reports nothing", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "file", "test\n")
		f.stage(t, "file", "test\n")
		tree := f.commitTree(t)

		out := f.detect(t, tree)
		assert.Empty(t, out.Staged)
		assert.Empty(t, out.NotStaged)
		assert.Empty(t, out.Untracked)
		assert.Empty(t, out.Unmerged)
	})

	t.Run("an untracked file is reported once", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "new", "data")

		out := f.detect(t, nil)
		assert.Empty(t, out.Staged)
		assert.Empty(t, out.NotStaged)
		assert.Equal(t, []string{"new"}, out.Untracked)
	})

	t.Run("a staged new file is Added", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "file", "test\n")
		f.stage(t, "file", "test\n")

		out := f.detect(t, nil)
		require.Len(t, out.Staged, 1)
		assert.Equal(t, changes.Change{Path: "file", Kind: changes.KindAdded}, out.Staged[0])
		assert.Empty(t, out.NotStaged)
		assert.Empty(t, out.Untracked)
	})

	t.Run("a modified working tree file is not staged", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "file", "test\n")
		f.stage(t, "file", "test\n")
		tree := f.commitTree(t)

		// modify the file without staging
		f.writeFile(t, "file", "new")

		out := f.detect(t, tree)
		assert.Empty(t, out.Staged)
		require.Len(t, out.NotStaged, 1)
		assert.Equal(t, changes.Change{Path: "file", Kind: changes.KindModified}, out.NotStaged[0])
		assert.Empty(t, out.Untracked)
	})

	t.Run("staging the modification moves it to staged", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "file", "test\n")
		f.stage(t, "file", "test\n")
		tree := f.commitTree(t)

		f.writeFile(t, "file", "new")
		f.stage(t, "file", "new")

		out := f.detect(t, tree)
		require.Len(t, out.Staged, 1)
		assert.Equal(t, changes.Change{Path: "file", Kind: changes.KindModified}, out.Staged[0])
		assert.Empty(t, out.NotStaged)
	})

	t.Run("a file removed from the index is Deleted", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "file", "test\n")
		f.stage(t, "file", "test\n")
		tree := f.commitTree(t)

		require.NoError(t, f.idx.Remove("file"))
		require.NoError(t, f.fs.Remove("/repo/file"))

		out := f.detect(t, tree)
		require.Len(t, out.Staged, 1)
		assert.Equal(t, changes.Change{Path: "file", Kind: changes.KindDeleted}, out.Staged[0])
	})

	t.Run("a file deleted on disk but staged is a pending delete", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "file", "test\n")
		f.stage(t, "file", "test\n")
		tree := f.commitTree(t)

		require.NoError(t, f.fs.Remove("/repo/file"))

		out := f.detect(t, tree)
		assert.Empty(t, out.Staged)
		require.Len(t, out.NotStaged, 1)
		assert.Equal(t, changes.Change{Path: "file", Kind: changes.KindDeleted}, out.NotStaged[0])
	})

	t.Run("a staged move with identical content is Renamed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "old", "test\n")
		f.stage(t, "old", "test\n")
		tree := f.commitTree(t)

		require.NoError(t, f.idx.Remove("old"))
		require.NoError(t, f.fs.Remove("/repo/old"))
		f.writeFile(t, "new", "test\n")
		f.stage(t, "new", "test\n")

		out := f.detect(t, tree)
		require.Len(t, out.Staged, 1)
		assert.Equal(t, changes.Change{Path: "new", From: "old", Kind: changes.KindRenamed}, out.Staged[0])
	})

	t.Run("a conflicted path is only reported as unmerged", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "file", "conflicted")
		oid := f.stage(t, "other", "test\n")
		require.NoError(t, f.idx.SetConflict("file", nil,
			&ginternals.ConflictEntry{ID: oid, Mode: ginternals.EntryModeFile},
			&ginternals.ConflictEntry{ID: oid, Mode: ginternals.EntryModeFile},
		))

		out := f.detect(t, nil)
		assert.Equal(t, []string{"file"}, out.Unmerged)
		assert.NotContains(t, out.Untracked, "file")
	})

	t.Run("nested paths use forward slashes", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.writeFile(t, "dir/sub/file", "data")

		out := f.detect(t, nil)
		assert.Equal(t, []string{"dir/sub/file"}, out.Untracked)
	})
}
