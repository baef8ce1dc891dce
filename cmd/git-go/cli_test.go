package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	git "github.com/vcslab/git-go"
	"github.com/vcslab/git-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI with the given args, as if started in dir
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	root := newRootCmd(dir)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()

	dir, cleanup := testutil.TempDir(t)
	t.Cleanup(cleanup)

	// init
	out, err := run(t, dir, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized empty Git repository")

	// the committer needs an identity
	r, err := git.OpenRepository(dir)
	require.NoError(t, err)
	r.Config().SetIdent("Foo Bar", "foo@bar")
	require.NoError(t, r.Config().Save())
	require.NoError(t, r.Close())

	// a new file shows up as untracked
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), []byte("test\n"), 0o644))
	out, err = run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Untracked files:")
	assert.Contains(t, out, "file")

	// add then commit
	_, err = run(t, dir, "add", "file")
	require.NoError(t, err)

	out, err = run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Changes to be committed:")
	assert.Contains(t, out, "new file")

	out, err = run(t, dir, "commit", "-m", "initial")
	require.NoError(t, err)
	assert.Contains(t, out, "initial")

	// the tree is clean now
	out, err = run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to commit, working tree clean")

	// log shows the commit
	out, err = run(t, dir, "log")
	require.NoError(t, err)
	assert.Contains(t, out, "initial")
	assert.Contains(t, out, "Foo Bar <foo@bar>")

	// ls-files shows the entry
	out, err = run(t, dir, "ls-files")
	require.NoError(t, err)
	assert.Contains(t, out, "file")

	// branch lists master as current
	out, err = run(t, dir, "branch")
	require.NoError(t, err)
	assert.Contains(t, out, "* master")
}

func TestHashObject(t *testing.T) {
	t.Parallel()

	dir, cleanup := testutil.TempDir(t)
	t.Cleanup(cleanup)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), []byte("test\n"), 0o644))

	out, err := run(t, dir, "hash-object", filepath.Join(dir, "file"))
	require.NoError(t, err)
	assert.Equal(t, "9daeafb9864cf43055ae93beb0afd6c7d144bfa4\n", out)
}

func TestCatFile(t *testing.T) {
	t.Parallel()

	dir, cleanup := testutil.TempDir(t)
	t.Cleanup(cleanup)

	_, err := run(t, dir, "init")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), []byte("test\n"), 0o644))
	_, err = run(t, dir, "hash-object", "-w", filepath.Join(dir, "file"))
	require.NoError(t, err)

	out, err := run(t, dir, "cat-file", "-p", "9daeafb9864cf43055ae93beb0afd6c7d144bfa4")
	require.NoError(t, err)
	assert.Equal(t, "test\n", out)

	out, err = run(t, dir, "cat-file", "-t", "9daeafb9864cf43055ae93beb0afd6c7d144bfa4")
	require.NoError(t, err)
	assert.Equal(t, "blob\n", out)

	out, err = run(t, dir, "cat-file", "-s", "9daeafb9864cf43055ae93beb0afd6c7d144bfa4")
	require.NoError(t, err)
	assert.Equal(t, "5\n", out)
}
