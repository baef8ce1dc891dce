package git

import (
	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"golang.org/x/xerrors"
)

// Branch represents a local branch
type Branch struct {
	// Name is the short name of the branch
	Name string
	// Target is the commit the branch points to
	Target ginternals.Oid
	// IsCurrent is set on the branch HEAD points to
	IsCurrent bool
}

// CreateBranch creates a new branch pointing at the given commit.
// ginternals.ErrRefExists is returned if the branch already exists
func (r *Repository) CreateBranch(name string, target ginternals.Oid) error {
	if _, err := r.GetCommit(target); err != nil {
		return xerrors.Errorf("branch target %s: %w", target.String(), err)
	}
	ref := ginternals.NewReference(ginternals.LocalBranchFullName(name), target)
	return r.dotGit.WriteReferenceSafe(ref)
}

// Branches returns all the local branches, sorted by name
func (r *Repository) Branches() ([]Branch, error) {
	current := ""
	if head, err := r.Head(); err == nil {
		current = head.SymbolicTarget()
	}

	out := []Branch{}
	err := r.dotGit.WalkReferences(func(ref *ginternals.Reference) error {
		if !ginternals.IsLocalBranch(ref.Name()) {
			return nil
		}
		out = append(out, Branch{
			Name:      ginternals.LocalBranchShortName(ref.Name()),
			Target:    ref.Target(),
			IsCurrent: ref.Name() == current,
		})
		return nil
	})
	if err != nil && !xerrors.Is(err, backend.WalkStop) {
		return nil, err
	}
	return out, nil
}
