package wire_test

import (
	"net"
	"testing"
	"time"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/backend/fsbackend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/vcslab/git-go/ginternals/packfile"
	"github.com/vcslab/git-go/ginternals/pktline"
	"github.com/vcslab/git-go/ginternals/wire"
	"github.com/vcslab/git-go/internal/gitlog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepo wraps a backend with helpers to build a small history
type testRepo struct {
	t *testing.T
	b backend.Backend
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()

	b, err := fsbackend.New(afero.NewMemMapFs(), "/repo/.git")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, b.Close())
	})
	require.NoError(t, b.Init(ginternals.Master))
	return &testRepo{t: t, b: b}
}

// seedCommit creates a blob, a tree, and a commit, points master at
// the commit, and returns the three oids
func (tr *testRepo) seedCommit(content string, parents ...ginternals.Oid) (commit, tree, blob ginternals.Oid) {
	tr.t.Helper()

	var err error
	blob, err = tr.b.WriteObject(object.New(object.TypeBlob, []byte(content)))
	require.NoError(tr.t, err)

	treeObj := object.NewTree([]object.TreeEntry{
		{Mode: object.ModeFile, ID: blob, Path: "file"},
	})
	tree, err = tr.b.WriteObject(treeObj.ToObject())
	require.NoError(tr.t, err)

	sig := object.Signature{Name: "Foo Bar", Email: "foo@bar", Time: time.Unix(1_700_000_000, 0).UTC()}
	c := object.NewCommit(tree, sig, &object.CommitOptions{
		Message:   "initial",
		ParentsID: parents,
	})
	commit, err = tr.b.WriteObject(c.ToObject())
	require.NoError(tr.t, err)

	require.NoError(tr.t, tr.b.WriteReference(ginternals.NewReference(ginternals.LocalBranchFullName(ginternals.Master), commit)))
	return commit, tree, blob
}

func TestUploadPack(t *testing.T) {
	t.Parallel()

	t.Run("a fetch from scratch sends everything", func(t *testing.T) {
		t.Parallel()

		server := newTestRepo(t)
		commit, tree, blob := server.seedCommit("test\n")

		clientConn, serverConn := net.Pipe()
		done := make(chan error, 1)
		go func() {
			defer serverConn.Close()
			done <- wire.UploadPack(serverConn, server.b, gitlog.Discard())
		}()

		// read the advertisement
		ads := []string{}
		for {
			line, flush, err := pktline.ReadString(clientConn)
			require.NoError(t, err)
			if flush {
				break
			}
			ads = append(ads, line)
		}
		require.NotEmpty(t, ads)
		assert.Contains(t, ads[0], "HEAD")
		assert.Contains(t, ads[0], commit.String())

		// want the tip, have nothing
		require.NoError(t, pktline.Writef(clientConn, "want %s\n", commit.String()))
		require.NoError(t, pktline.WriteFlush(clientConn))
		require.NoError(t, pktline.WriteString(clientConn, "done\n"))

		// NAK since we have nothing in common
		line, _, err := pktline.ReadString(clientConn)
		require.NoError(t, err)
		assert.Equal(t, "NAK", line)

		objects, err := packfile.NewParser(nil).Parse(clientConn)
		require.NoError(t, err)
		require.NoError(t, <-done)

		oids := map[ginternals.Oid]struct{}{}
		for _, o := range objects {
			oids[o.ID()] = struct{}{}
		}
		assert.Len(t, oids, 3)
		assert.Contains(t, oids, commit)
		assert.Contains(t, oids, tree)
		assert.Contains(t, oids, blob)
	})

	t.Run("a fetch with the tip as have gets an empty pack", func(t *testing.T) {
		t.Parallel()

		server := newTestRepo(t)
		commit, _, _ := server.seedCommit("test\n")

		clientConn, serverConn := net.Pipe()
		done := make(chan error, 1)
		go func() {
			defer serverConn.Close()
			done <- wire.UploadPack(serverConn, server.b, gitlog.Discard())
		}()

		for {
			_, flush, err := pktline.ReadString(clientConn)
			require.NoError(t, err)
			if flush {
				break
			}
		}

		require.NoError(t, pktline.Writef(clientConn, "want %s\n", commit.String()))
		require.NoError(t, pktline.WriteFlush(clientConn))
		require.NoError(t, pktline.Writef(clientConn, "have %s\n", commit.String()))
		require.NoError(t, pktline.WriteString(clientConn, "done\n"))

		// the have is common history so the server ACKs it
		line, _, err := pktline.ReadString(clientConn)
		require.NoError(t, err)
		assert.Equal(t, "ACK "+commit.String(), line)

		objects, err := packfile.NewParser(nil).Parse(clientConn)
		require.NoError(t, err)
		require.NoError(t, <-done)
		assert.Empty(t, objects, "the pack should only have a header and a trailer")
	})

	t.Run("wanting an unknown object fails the request", func(t *testing.T) {
		t.Parallel()

		server := newTestRepo(t)
		server.seedCommit("test\n")

		clientConn, serverConn := net.Pipe()
		done := make(chan error, 1)
		go func() {
			defer serverConn.Close()
			done <- wire.UploadPack(serverConn, server.b, gitlog.Discard())
		}()

		for {
			_, flush, err := pktline.ReadString(clientConn)
			require.NoError(t, err)
			if flush {
				break
			}
		}

		// the server fails on the want itself, no need to finish
		// the negotiation
		require.NoError(t, pktline.WriteString(clientConn, "want bbb720a96e4c29b9950a4c577c98470a4d5dd089\n"))

		err := <-done
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrObjectNotFound)
	})
}

// startServer runs a wire.Server on a random port and returns its
// address
func startServer(t *testing.T, repos map[string]backend.Backend) string {
	t.Helper()

	open := func(path string) (backend.Backend, error) {
		b, ok := repos[path]
		if !ok {
			return nil, ginternals.ErrObjectNotFound
		}
		return &noCloseBackend{b}, nil
	}
	s := wire.NewServer(open, gitlog.Discard())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go s.Serve(ln) //nolint:errcheck // the test tears it down
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return ln.Addr().String()
}

// noCloseBackend keeps the server from closing the repo shared with
// the test
type noCloseBackend struct {
	backend.Backend
}

func (b *noCloseBackend) Close() error {
	return nil
}

func dial(t *testing.T, addr, path string) *wire.Client {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close() //nolint:errcheck // already closed by the client flow
	})
	return wire.NewClient(conn, "localhost", path, gitlog.Discard())
}

func TestClientFetch(t *testing.T) {
	t.Parallel()

	server := newTestRepo(t)
	commit, _, _ := server.seedCommit("test\n")
	addr := startServer(t, map[string]backend.Backend{"/repo": server.b})

	client := newTestRepo(t)
	res, err := dial(t, addr, "/repo").Fetch(client.b)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Received)
	require.NotEmpty(t, res.RemoteRefs)
	assert.Equal(t, ginternals.Head, res.RemoteRefs[0].Name)

	found, err := client.b.HasObject(commit)
	require.NoError(t, err)
	assert.True(t, found, "the fetched commit should be in the db")

	t.Run("fetching again is a noop", func(t *testing.T) {
		// the client now has the commit; track it under a ref so
		// the fetch plan sees it
		require.NoError(t, client.b.WriteReference(ginternals.NewReference("refs/remotes/origin/master", commit)))

		res, err := dial(t, addr, "/repo").Fetch(client.b)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Received)
	})
}

func TestClientPush(t *testing.T) {
	t.Parallel()

	master := ginternals.LocalBranchFullName(ginternals.Master)

	t.Run("pushing a new branch", func(t *testing.T) {
		t.Parallel()

		local := newTestRepo(t)
		commit, _, _ := local.seedCommit("test\n")
		remote := newTestRepo(t)
		addr := startServer(t, map[string]backend.Backend{"/remote": remote.b})

		res, err := dial(t, addr, "/remote").Push(local.b, map[string]ginternals.Oid{master: commit})
		require.NoError(t, err)
		require.True(t, res.Ok(), "statuses: %v", res.RefStatus)
		assert.Equal(t, "ok", res.RefStatus[master])

		// the remote must now have the commit and the updated ref
		found, err := remote.b.HasObject(commit)
		require.NoError(t, err)
		assert.True(t, found)

		ref, err := remote.b.Reference(master)
		require.NoError(t, err)
		assert.Equal(t, commit, ref.Target())
	})

	t.Run("a non-fast-forward push is refused locally", func(t *testing.T) {
		t.Parallel()

		local := newTestRepo(t)
		c1, _, _ := local.seedCommit("base\n")
		diverged, _, _ := local.seedCommit("diverged\n", c1)
		forked, _, _ := local.seedCommit("fork\n", c1)

		// objects are content addressed and the test timestamps are
		// fixed, so seeding the remote with the same content gives
		// it the exact same forked history
		remote := newTestRepo(t)
		rc1, _, _ := remote.seedCommit("base\n")
		require.Equal(t, c1, rc1)
		rforked, _, _ := remote.seedCommit("fork\n", rc1)
		require.Equal(t, forked, rforked)

		addr := startServer(t, map[string]backend.Backend{"/remote": remote.b})

		_, err := dial(t, addr, "/remote").Push(local.b, map[string]ginternals.Oid{master: diverged})
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrNonFastForward)
	})

	t.Run("pushing when up to date is a noop", func(t *testing.T) {
		t.Parallel()

		local := newTestRepo(t)
		commit, _, _ := local.seedCommit("test\n")
		remote := newTestRepo(t)
		addr := startServer(t, map[string]backend.Backend{"/remote": remote.b})

		res, err := dial(t, addr, "/remote").Push(local.b, map[string]ginternals.Oid{master: commit})
		require.NoError(t, err)
		require.True(t, res.Ok())

		res, err = dial(t, addr, "/remote").Push(local.b, map[string]ginternals.Oid{master: commit})
		require.NoError(t, err)
		assert.Empty(t, res.RefStatus, "nothing should have been pushed")
	})
}

func TestReadRequest(t *testing.T) {
	t.Parallel()

	t.Run("happy path with extra tokens", func(t *testing.T) {
		t.Parallel()

		clientConn, serverConn := net.Pipe()
		go func() {
			pktline.WriteString(clientConn, "git-upload-pack /repo\x00host=example.com\x00\x00version=2\x00") //nolint:errcheck // test
		}()

		req, err := wire.ReadRequest(serverConn)
		require.NoError(t, err)
		assert.Equal(t, wire.UploadPackService, req.Service)
		assert.Equal(t, "/repo", req.Path)
		assert.Equal(t, "example.com", req.Host)
	})

	t.Run("unknown service", func(t *testing.T) {
		t.Parallel()

		clientConn, serverConn := net.Pipe()
		go func() {
			pktline.WriteString(clientConn, "git-fancy-pack /repo\x00host=example.com\x00") //nolint:errcheck // test
		}()

		_, err := wire.ReadRequest(serverConn)
		require.Error(t, err)
		assert.ErrorIs(t, err, wire.ErrUnknownService)
	})
}
