package git

import (
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"golang.org/x/xerrors"
)

// CommitOptions contains all the optional data used to create a
// commit
type CommitOptions struct {
	// Author overrides the identity found in the config
	Author object.Signature
	// Committer overrides the identity found in the config
	Committer object.Signature
	// AllowEmpty allows creating a commit that doesn't change
	// anything
	AllowEmpty bool
}

// Commit builds the trees of the current index, creates a commit
// object pointing at them, persists everything, and moves the
// current branch to the new commit.
// ErrNothingToCommit is returned if the index matches the current
// HEAD tree, unless AllowEmpty is set
func (r *Repository) Commit(message string, opts CommitOptions) (*object.Commit, error) {
	author := opts.Author
	if author.IsZero() {
		name, email, err := r.config.Ident()
		if err != nil {
			return nil, err
		}
		author = object.NewSignature(name, email)
	}
	committer := opts.Committer
	if committer.IsZero() {
		committer = author
	}

	idx, err := r.dotGit.Index()
	if err != nil {
		return nil, err
	}
	tb, err := r.NewTreeBuilderFromIndex(idx)
	if err != nil {
		return nil, err
	}
	tree, err := tb.Write()
	if err != nil {
		return nil, xerrors.Errorf("could not write the trees: %w", err)
	}

	parents := []ginternals.Oid{}
	head, err := r.headCommit()
	switch {
	case err == nil:
		parents = append(parents, head.ID())
		if !opts.AllowEmpty && head.TreeID() == tree.ID() {
			return nil, ErrNothingToCommit
		}
	case xerrors.Is(err, ErrNoCommit):
		// initial commit
		if !opts.AllowEmpty && idx.Len() == 0 {
			return nil, ErrNothingToCommit
		}
	default:
		return nil, err
	}

	commit := object.NewCommit(tree.ID(), author, &object.CommitOptions{
		Message:   message,
		Committer: committer,
		ParentsID: parents,
	})
	oid, err := r.dotGit.WriteObject(commit.ToObject())
	if err != nil {
		return nil, xerrors.Errorf("could not write the commit: %w", err)
	}

	// move the current branch
	headRef, err := r.Head()
	if err != nil {
		return nil, err
	}
	branch := headRef.SymbolicTarget()
	if branch == "" {
		// detached HEAD
		branch = ginternals.Head
	}
	old := ginternals.NullOid
	if len(parents) > 0 {
		old = parents[0]
	}
	if err = r.dotGit.UpdateReference(branch, old, oid); err != nil {
		return nil, xerrors.Errorf("could not move %s to %s: %w", branch, oid.String(), err)
	}

	r.log.WithField("oid", oid.String()).Debug("commit created")
	return r.GetCommit(oid)
}

// Log returns the history of the repository starting at HEAD,
// following the first parents, most recent commit first
func (r *Repository) Log() ([]*object.Commit, error) {
	out := []*object.Commit{}
	commit, err := r.headCommit()
	if err != nil {
		if xerrors.Is(err, ErrNoCommit) {
			return out, nil
		}
		return nil, err
	}

	// commits form a DAG so a visited set is all we need to be safe
	// against corrupted parent links
	visited := map[ginternals.Oid]struct{}{}
	for {
		if _, ok := visited[commit.ID()]; ok {
			break
		}
		visited[commit.ID()] = struct{}{}
		out = append(out, commit)

		parents := commit.ParentIDs()
		if len(parents) == 0 {
			break
		}
		if commit, err = r.GetCommit(parents[0]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
