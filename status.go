package git

import (
	"github.com/vcslab/git-go/ginternals/changes"
)

// Status compares the tree of the last commit, the index, and the
// working tree, and returns the classified changes.
// See the changes package for the shape of the report
func (r *Repository) Status() (*changes.Changes, error) {
	if r.IsBare() {
		return nil, ErrNoWorkingTree
	}

	headTree, err := r.headTree()
	if err != nil {
		return nil, err
	}
	idx, err := r.dotGit.Index()
	if err != nil {
		return nil, err
	}
	return changes.Detect(r.dotGit, headTree, idx, r.wt, r.repoRoot)
}
