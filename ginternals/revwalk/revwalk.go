// Package revwalk implements the history walking primitives: listing
// ancestors, finding merge bases, and computing the sets of objects
// to transmit during a fetch or a push
package revwalk

import (
	"sort"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/emirpasic/gods/trees/binaryheap"
	"golang.org/x/xerrors"
)

// commitItem is what we push on the walking heap
type commitItem struct {
	oid    ginternals.Oid
	commit *object.Commit
}

// byCommitterDate orders commits most recent first, with the oid as
// tie breaker so the order is stable
func byCommitterDate(a, b interface{}) int {
	ca, cb := a.(*commitItem), b.(*commitItem)
	ta, tb := ca.commit.Committer().Time, cb.commit.Committer().Time
	switch {
	case ta.After(tb):
		return -1
	case tb.After(ta):
		return 1
	default:
		return bytesCompare(ca.oid, cb.oid)
	}
}

func bytesCompare(a, b ginternals.Oid) int {
	for i := 0; i < ginternals.OidSize; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// getCommit loads a commit from the odb
func getCommit(b backend.Backend, oid ginternals.Oid) (*object.Commit, error) {
	o, err := b.Object(oid)
	if err != nil {
		return nil, xerrors.Errorf("could not get commit %s: %w", oid.String(), err)
	}
	// A ref may point to an annotated tag; peel it until we find
	// the commit
	for o.Type() == object.TypeTag {
		tag, err := o.AsTag()
		if err != nil {
			return nil, err
		}
		o, err = b.Object(tag.Target())
		if err != nil {
			return nil, xerrors.Errorf("could not peel tag %s: %w", oid.String(), err)
		}
	}
	return o.AsCommit()
}

// closure returns all the commits reachable from the given tips.
// Tips that are not in the database are skipped: the caller may know
// about commits we don't have (typical during a fetch)
func closure(b backend.Backend, tips []ginternals.Oid) (map[ginternals.Oid]struct{}, error) {
	seen := map[ginternals.Oid]struct{}{}
	queue := append([]ginternals.Oid{}, tips...)
	for len(queue) > 0 {
		oid := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if oid.IsZero() {
			continue
		}
		if _, ok := seen[oid]; ok {
			continue
		}

		found, err := b.HasObject(oid)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		commit, err := getCommit(b, oid)
		if err != nil {
			return nil, err
		}
		seen[oid] = struct{}{}
		queue = append(queue, commit.ParentIDs()...)
	}
	return seen, nil
}

// Ancestors returns the commits reachable from start but not from
// any of the commits in stop, most recent first
func Ancestors(b backend.Backend, start ginternals.Oid, stop []ginternals.Oid) ([]ginternals.Oid, error) {
	stopSet, err := closure(b, stop)
	if err != nil {
		return nil, xerrors.Errorf("could not walk the stop set: %w", err)
	}

	heap := binaryheap.NewWith(byCommitterDate)
	visited := map[ginternals.Oid]struct{}{}

	push := func(oid ginternals.Oid) error {
		if _, ok := visited[oid]; ok {
			return nil
		}
		if _, ok := stopSet[oid]; ok {
			return nil
		}
		visited[oid] = struct{}{}
		commit, err := getCommit(b, oid)
		if err != nil {
			return err
		}
		heap.Push(&commitItem{oid: oid, commit: commit})
		return nil
	}

	if err := push(start); err != nil {
		return nil, err
	}

	out := []ginternals.Oid{}
	for {
		item, ok := heap.Pop()
		if !ok {
			break
		}
		ci := item.(*commitItem)
		out = append(out, ci.oid)
		for _, parent := range ci.commit.ParentIDs() {
			if err := push(parent); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// IsAncestor returns whether ancestor is reachable from descendant.
// A commit is considered its own ancestor
func IsAncestor(b backend.Backend, ancestor, descendant ginternals.Oid) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	reachable, err := closure(b, []ginternals.Oid{descendant})
	if err != nil {
		return false, err
	}
	_, ok := reachable[ancestor]
	return ok, nil
}

// MergeBase returns the lowest common ancestor of a and o.
// found is false if the two commits share no history
func MergeBase(b backend.Backend, a, o ginternals.Oid) (base ginternals.Oid, found bool, err error) {
	reachable, err := closure(b, []ginternals.Oid{a})
	if err != nil {
		return ginternals.NullOid, false, err
	}

	// walk o's history most recent first; the first commit reachable
	// from both sides is the lowest common ancestor
	heap := binaryheap.NewWith(byCommitterDate)
	visited := map[ginternals.Oid]struct{}{}

	push := func(oid ginternals.Oid) error {
		if _, ok := visited[oid]; ok {
			return nil
		}
		visited[oid] = struct{}{}
		commit, err := getCommit(b, oid)
		if err != nil {
			return err
		}
		heap.Push(&commitItem{oid: oid, commit: commit})
		return nil
	}
	if err := push(o); err != nil {
		return ginternals.NullOid, false, err
	}

	for {
		item, ok := heap.Pop()
		if !ok {
			return ginternals.NullOid, false, nil
		}
		ci := item.(*commitItem)
		if _, ok := reachable[ci.oid]; ok {
			return ci.oid, true, nil
		}
		for _, parent := range ci.commit.ParentIDs() {
			if err := push(parent); err != nil {
				return ginternals.NullOid, false, err
			}
		}
	}
}

// ObjectsToSend returns all the objects (commits, trees, and blobs)
// reachable from the given tips but not from the given haves.
// The trees and blobs already reachable from the haves are excluded
func ObjectsToSend(b backend.Backend, tips, haves []ginternals.Oid) ([]ginternals.Oid, error) {
	// the objects the other side already has
	exclude := map[ginternals.Oid]struct{}{}
	havesSet, err := closure(b, haves)
	if err != nil {
		return nil, xerrors.Errorf("could not walk the haves: %w", err)
	}
	for oid := range havesSet {
		exclude[oid] = struct{}{}
		commit, err := getCommit(b, oid)
		if err != nil {
			return nil, err
		}
		if err := collectTree(b, commit.TreeID(), exclude); err != nil {
			return nil, err
		}
	}

	out := []ginternals.Oid{}
	seen := map[ginternals.Oid]struct{}{}
	add := func(oid ginternals.Oid) {
		if _, ok := seen[oid]; ok {
			return
		}
		if _, ok := exclude[oid]; ok {
			return
		}
		seen[oid] = struct{}{}
		out = append(out, oid)
	}

	for _, tip := range tips {
		commits, err := Ancestors(b, tip, haves)
		if err != nil {
			return nil, err
		}
		for _, oid := range commits {
			add(oid)
			commit, err := getCommit(b, oid)
			if err != nil {
				return nil, err
			}

			trees := map[ginternals.Oid]struct{}{}
			if err := collectTree(b, commit.TreeID(), trees); err != nil {
				return nil, err
			}
			for treeOid := range trees {
				add(treeOid)
			}
		}
	}
	return out, nil
}

// collectTree adds the given tree and everything it references to
// the set
func collectTree(b backend.Backend, treeID ginternals.Oid, set map[ginternals.Oid]struct{}) error {
	if _, ok := set[treeID]; ok {
		return nil
	}
	o, err := b.Object(treeID)
	if err != nil {
		return xerrors.Errorf("could not get tree %s: %w", treeID.String(), err)
	}
	tree, err := o.AsTree()
	if err != nil {
		return err
	}
	set[treeID] = struct{}{}
	for _, e := range tree.Entries() {
		switch e.Mode {
		case object.ModeDirectory:
			if err := collectTree(b, e.ID, set); err != nil {
				return err
			}
		case object.ModeGitLink:
			// submodules point at commits in another repository;
			// there's nothing to send
		default:
			set[e.ID] = struct{}{}
		}
	}
	return nil
}

// RefUpdate represents a planned change of a remote reference
type RefUpdate struct {
	Name string
	Old  ginternals.Oid
	New  ginternals.Oid
}

// Plan represents what a push will send: the ref updates and the
// objects the other side is missing
type Plan struct {
	Updates []RefUpdate
	Objects []ginternals.Oid
}

// IsNoop returns whether the plan changes anything
func (p *Plan) IsNoop() bool {
	return len(p.Updates) == 0
}

// PushPlan computes what to send to a remote.
// localTips maps branch names to the local commits; remoteTips holds
// what the remote advertised. Branches that are up to date are
// skipped. ErrNonFastForward is returned if a remote tip is not an
// ancestor of the matching local tip
func PushPlan(b backend.Backend, localTips, remoteTips map[string]ginternals.Oid) (*Plan, error) {
	plan := &Plan{}
	haves := []ginternals.Oid{}
	tips := []ginternals.Oid{}

	// iterate in a stable order so the plan is deterministic
	names := make([]string, 0, len(localTips))
	for name := range localTips {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		localOid := localTips[name]
		remoteOid, onRemote := remoteTips[name]
		if onRemote {
			if remoteOid == localOid {
				continue
			}
			// we can only push if the remote doesn't lose commits
			hasRemote, err := b.HasObject(remoteOid)
			if err != nil {
				return nil, err
			}
			if !hasRemote {
				return nil, xerrors.Errorf("remote %s is at unknown commit %s: %w", name, remoteOid.String(), ginternals.ErrNonFastForward)
			}
			ff, err := IsAncestor(b, remoteOid, localOid)
			if err != nil {
				return nil, err
			}
			if !ff {
				return nil, xerrors.Errorf("remote %s is at %s which is not an ancestor of %s: %w", name, remoteOid.String(), localOid.String(), ginternals.ErrNonFastForward)
			}
			haves = append(haves, remoteOid)
		}
		tips = append(tips, localOid)
		plan.Updates = append(plan.Updates, RefUpdate{
			Name: name,
			Old:  remoteOid,
			New:  localOid,
		})
	}

	// the remote also implicitly has everything reachable from the
	// branches we're not touching
	remoteNames := make([]string, 0, len(remoteTips))
	for name := range remoteTips {
		remoteNames = append(remoteNames, name)
	}
	sort.Strings(remoteNames)
	for _, name := range remoteNames {
		if _, ok := localTips[name]; !ok {
			haves = append(haves, remoteTips[name])
		}
	}

	objects, err := ObjectsToSend(b, tips, haves)
	if err != nil {
		return nil, err
	}
	plan.Objects = objects
	return plan, nil
}

// FetchPlan computes what to ask a remote for: the advertised tips
// we don't have yet, and the haves to report during negotiation
func FetchPlan(b backend.Backend, remoteTips map[string]ginternals.Oid, localTips []ginternals.Oid) (wants, haves []ginternals.Oid, err error) {
	names := make([]string, 0, len(remoteTips))
	for name := range remoteTips {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := map[ginternals.Oid]struct{}{}
	for _, name := range names {
		oid := remoteTips[name]
		if _, ok := seen[oid]; ok {
			continue
		}
		seen[oid] = struct{}{}
		found, err := b.HasObject(oid)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			wants = append(wants, oid)
		}
	}
	return wants, localTips, nil
}
