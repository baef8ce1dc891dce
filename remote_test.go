package git_test

import (
	"fmt"
	"net"
	"testing"

	git "github.com/vcslab/git-go"
	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/wire"
	"github.com/vcslab/git-go/internal/gitlog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nopCloserBackend keeps the wire server from closing the backend
// shared with the test
type nopCloserBackend struct {
	backend.Backend
}

func (b *nopCloserBackend) Close() error {
	return nil
}

// serveRepo exposes the repository over TCP and returns its git url
func serveRepo(t *testing.T, r *testRepo) string {
	t.Helper()

	open := func(path string) (backend.Backend, error) {
		if path != "/remote" {
			return nil, git.ErrRepositoryNotExist
		}
		return &nopCloserBackend{r.Backend()}, nil
	}
	s := wire.NewServer(open, gitlog.Discard())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln) //nolint:errcheck // the test tears it down
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	return fmt.Sprintf("git://%s/remote", ln.Addr().String())
}

func TestPushFetch(t *testing.T) {
	t.Parallel()

	t.Run("push then fetch round-trips the history", func(t *testing.T) {
		t.Parallel()

		// a local repo with one commit
		local := newRepository(t)
		writeFile(t, local, "file", "test\n")
		require.NoError(t, local.Add("file"))
		commit, err := local.Commit("initial", git.CommitOptions{Author: testSignature()})
		require.NoError(t, err)

		// an empty remote served over TCP
		remote := newRepository(t)
		url := serveRepo(t, remote)
		require.NoError(t, local.AddRemote("origin", url))

		// push master
		res, err := local.Push("origin", "master")
		require.NoError(t, err)
		assert.Equal(t, "ok", res.RefStatus[ginternals.LocalBranchFullName("master")])

		// the remote now has the commit and its ref
		remoteLog, err := remote.Log()
		require.NoError(t, err)
		require.Len(t, remoteLog, 1)
		assert.Equal(t, commit.ID(), remoteLog[0].ID())

		// a third repository fetches from the remote
		other := newRepository(t)
		require.NoError(t, other.AddRemote("origin", url))
		fetchRes, err := other.Fetch("origin")
		require.NoError(t, err)
		assert.Equal(t, 3, fetchRes.Received, "expected a commit, a tree, and a blob")

		tracking := ginternals.RemoteBranchFullName("origin", "master")
		assert.Contains(t, fetchRes.UpdatedRefs, tracking)

		// fetching again brings nothing
		fetchRes, err = other.Fetch("origin")
		require.NoError(t, err)
		assert.Equal(t, 0, fetchRes.Received)
	})

	t.Run("a non-fast-forward push is refused", func(t *testing.T) {
		t.Parallel()

		local := newRepository(t)
		writeFile(t, local, "file", "base\n")
		require.NoError(t, local.Add("file"))
		_, err := local.Commit("initial", git.CommitOptions{Author: testSignature()})
		require.NoError(t, err)

		remote := newRepository(t)
		url := serveRepo(t, remote)
		require.NoError(t, local.AddRemote("origin", url))

		_, err = local.Push("origin", "master")
		require.NoError(t, err)

		// move the remote forward on its own
		writeFile(t, remote, "file", "remote change\n")
		require.NoError(t, remote.Add("file"))
		_, err = remote.Commit("remote work", git.CommitOptions{Author: testSignature()})
		require.NoError(t, err)

		// the local repo commits something else
		writeFile(t, local, "file", "local change\n")
		require.NoError(t, local.Add("file"))
		_, err = local.Commit("local work", git.CommitOptions{Author: testSignature()})
		require.NoError(t, err)

		_, err = local.Push("origin", "master")
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrNonFastForward)
	})
}

func TestClone(t *testing.T) {
	t.Parallel()

	remote := newRepository(t)
	writeFile(t, remote, "file", "test\n")
	writeFile(t, remote, "dir/nested", "nested\n")
	require.NoError(t, remote.Add("."))
	commit, err := remote.Commit("initial", git.CommitOptions{Author: testSignature()})
	require.NoError(t, err)
	url := serveRepo(t, remote)

	fs := afero.NewMemMapFs()
	r, err := git.Clone(url, "/clone", git.CloneOptions{
		InitOptions: git.InitOptions{
			WorkingTreeBackend: fs,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})

	// the history is there
	log, err := r.Log()
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, commit.ID(), log[0].ID())

	// the working tree is checked out
	content, err := afero.ReadFile(fs, "/clone/file")
	require.NoError(t, err)
	assert.Equal(t, "test\n", string(content))
	content, err = afero.ReadFile(fs, "/clone/dir/nested")
	require.NoError(t, err)
	assert.Equal(t, "nested\n", string(content))

	// and the clone is clean
	status, err := r.Status()
	require.NoError(t, err)
	assert.Empty(t, status.Staged)
	assert.Empty(t, status.NotStaged)
	assert.Empty(t, status.Untracked)
}
