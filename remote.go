package git

import (
	"net"
	"strings"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/config"
	"github.com/vcslab/git-go/ginternals/wire"
	"golang.org/x/xerrors"
)

// DefaultRemote is the name given to the remote created by Clone
const DefaultRemote = "origin"

// gitPort is the port used when the url doesn't name one
const gitPort = "9418"

// ErrURLInvalid is returned when a remote url cannot be parsed
var ErrURLInvalid = xerrors.New("invalid remote url")

// parseRemoteURL splits a "git://host:port/path" url.
// The port defaults to the git daemon port
func parseRemoteURL(url string) (host, addr, path string, err error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(url, "git://"), "tcp://")
	if trimmed == url && strings.Contains(url, "://") {
		return "", "", "", xerrors.Errorf("unsupported scheme in %q: %w", url, ErrURLInvalid)
	}

	slash := strings.IndexByte(trimmed, '/')
	if slash <= 0 {
		return "", "", "", xerrors.Errorf("no path in %q: %w", url, ErrURLInvalid)
	}
	hostPort := trimmed[:slash]
	path = trimmed[slash:]

	host = hostPort
	port := gitPort
	if h, p, splitErr := net.SplitHostPort(hostPort); splitErr == nil {
		host, port = h, p
	}
	return host, net.JoinHostPort(host, port), path, nil
}

// AddRemote registers a new remote in the config
func (r *Repository) AddRemote(name, url string) error {
	if _, _, _, err := parseRemoteURL(url); err != nil {
		return err
	}
	r.config.SetRemote(name, url)
	return r.config.Save()
}

// Remotes returns all the configured remotes
func (r *Repository) Remotes() []*config.Remote {
	return r.config.Remotes()
}

// dialRemote connects to the remote with the given name
func (r *Repository) dialRemote(name string) (*wire.Client, func(), error) {
	remote, err := r.config.Remote(name)
	if err != nil {
		return nil, nil, err
	}
	host, addr, path, err := parseRemoteURL(remote.URL)
	if err != nil {
		return nil, nil, err
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, xerrors.Errorf("could not connect to %s: %w", addr, err)
	}
	cleanup := func() {
		conn.Close() //nolint:errcheck // nothing we can do about it
	}
	return wire.NewClient(conn, host, path, r.log), cleanup, nil
}

// FetchResult summarizes what a fetch changed
type FetchResult struct {
	// Received is the number of objects stored locally
	Received int
	// UpdatedRefs maps the updated tracking refs to their new
	// target
	UpdatedRefs map[string]ginternals.Oid
}

// Fetch downloads the missing objects from the given remote and
// updates the matching tracking branches
func (r *Repository) Fetch(remoteName string) (*FetchResult, error) {
	client, cleanup, err := r.dialRemote(remoteName)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	res, err := client.Fetch(r.dotGit)
	if err != nil {
		return nil, err
	}

	out := &FetchResult{
		Received:    res.Received,
		UpdatedRefs: map[string]ginternals.Oid{},
	}
	for _, ad := range res.RemoteRefs {
		if !ginternals.IsLocalBranch(ad.Name) {
			continue
		}
		trackingRef := ginternals.RemoteBranchFullName(remoteName, ginternals.LocalBranchShortName(ad.Name))

		current := ginternals.NullOid
		if existing, err := r.dotGit.Reference(trackingRef); err == nil {
			current = existing.Target()
		}
		if current == ad.ID {
			continue
		}
		if err := r.dotGit.UpdateReference(trackingRef, current, ad.ID); err != nil {
			return nil, xerrors.Errorf("could not update %s: %w", trackingRef, err)
		}
		out.UpdatedRefs[trackingRef] = ad.ID
	}
	return out, nil
}

// PushResult summarizes the outcome of a push
type PushResult struct {
	// RefStatus maps every pushed ref to "ok" or the remote's
	// failure message
	RefStatus map[string]string
}

// Push sends the missing objects of the given branch to the remote
// and asks it to move its copy of the branch.
// ginternals.ErrNonFastForward is returned, before any ref update or
// object is sent, if the remote branch has commits we don't
func (r *Repository) Push(remoteName, branchName string) (*PushResult, error) {
	refName := ginternals.LocalBranchFullName(branchName)
	ref, err := r.dotGit.Reference(refName)
	if err != nil {
		return nil, xerrors.Errorf("branch %s: %w", branchName, err)
	}

	client, cleanup, err := r.dialRemote(remoteName)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	res, err := client.Push(r.dotGit, map[string]ginternals.Oid{
		refName: ref.Target(),
	})
	if err != nil {
		return nil, err
	}

	// keep the tracking branch in sync with what the remote
	// accepted
	if status, ok := res.RefStatus[refName]; ok && status == "ok" {
		trackingRef := ginternals.RemoteBranchFullName(remoteName, branchName)
		current := ginternals.NullOid
		if existing, err := r.dotGit.Reference(trackingRef); err == nil {
			current = existing.Target()
		}
		if current != ref.Target() {
			if err := r.dotGit.UpdateReference(trackingRef, current, ref.Target()); err != nil {
				return nil, xerrors.Errorf("could not update %s: %w", trackingRef, err)
			}
		}
	}
	return &PushResult{
		RefStatus: res.RefStatus,
	}, nil
}

// CloneOptions contains all the optional data used to clone a
// repository
type CloneOptions struct {
	InitOptions
}

// Clone creates a new repository at the given path, fetches
// everything the remote at the given url has, and checks out its
// default branch
func Clone(url, path string, opts CloneOptions) (*Repository, error) {
	r, err := InitRepositoryWithOptions(path, opts.InitOptions)
	if err != nil {
		return nil, err
	}

	if err = r.AddRemote(DefaultRemote, url); err != nil {
		return nil, err
	}
	if _, err = r.Fetch(DefaultRemote); err != nil {
		return nil, err
	}

	// point the local default branch at the remote's HEAD and
	// check it out
	branch, target, err := r.remoteDefaultBranch(DefaultRemote)
	if err != nil {
		if xerrors.Is(err, ErrNoCommit) {
			// cloning an empty repository is fine, there's just
			// nothing to check out
			return r, nil
		}
		return nil, err
	}

	branchRef := ginternals.LocalBranchFullName(branch)
	if err = r.dotGit.UpdateReference(branchRef, ginternals.NullOid, target); err != nil {
		return nil, err
	}
	if err = r.dotGit.WriteReference(ginternals.NewSymbolicReference(ginternals.Head, branchRef)); err != nil {
		return nil, err
	}

	if !r.IsBare() {
		if err = r.checkoutHead(); err != nil {
			return nil, xerrors.Errorf("could not check out %s: %w", branch, err)
		}
	}
	return r, nil
}

// remoteDefaultBranch picks the branch a clone should check out:
// master if the remote has it, otherwise the first tracking branch
// found. The remote's HEAD is not consulted
func (r *Repository) remoteDefaultBranch(remoteName string) (branch string, target ginternals.Oid, err error) {
	candidates := []string{}
	err = r.dotGit.WalkReferences(func(ref *ginternals.Reference) error {
		prefix := "refs/remotes/" + remoteName + "/"
		if strings.HasPrefix(ref.Name(), prefix) {
			candidates = append(candidates, strings.TrimPrefix(ref.Name(), prefix))
		}
		return nil
	})
	if err != nil {
		return "", ginternals.NullOid, err
	}
	if len(candidates) == 0 {
		return "", ginternals.NullOid, ErrNoCommit
	}

	branch = candidates[0]
	for _, c := range candidates {
		if c == ginternals.Master {
			branch = c
			break
		}
	}
	ref, err := r.dotGit.Reference(ginternals.RemoteBranchFullName(remoteName, branch))
	if err != nil {
		return "", ginternals.NullOid, err
	}
	return branch, ref.Target(), nil
}
