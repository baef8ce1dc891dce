// Package backend contains interfaces and implementations to store
// and retrieve data from the odb, the refs, and the index
package backend

import (
	"errors"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/vcslab/git-go/ginternals/packfile"
)

// Backend represents an object that can store and retrieve data
// from and to the odb
type Backend interface {
	// Close free the resources
	Close() error

	// Init initializes a repository, creating the initial branch
	// with the given name
	Init(branchName string) error

	// Path returns the root path of the backend (the .git directory
	// for repositories on disk)
	Path() string

	// Reference returns a stored reference from its name
	Reference(name string) (*ginternals.Reference, error)
	// WriteReference writes the given reference in the db. If the
	// reference already exists it will be overwritten
	WriteReference(ref *ginternals.Reference) error
	// WriteReferenceSafe writes the given reference in the db
	// ErrRefExists is returned if the reference already exists
	WriteReferenceSafe(ref *ginternals.Reference) error
	// UpdateReference updates a reference from an expected value to
	// a new one, under the ref's lock.
	// ErrRefLocked is returned if another operation holds the lock;
	// ErrRefStale is returned if the on-disk value doesn't match
	// oldTarget
	UpdateReference(name string, oldTarget, newTarget ginternals.Oid) error
	// WalkReferences runs the provided method on all the references
	WalkReferences(f RefWalkFunc) error

	// Object returns the object that has given oid
	Object(ginternals.Oid) (*object.Object, error)
	// HasObject returns whether an object exists in the odb
	HasObject(ginternals.Oid) (bool, error)
	// WriteObject adds an object to the odb
	WriteObject(*object.Object) (ginternals.Oid, error)
	// WalkPackedObjectIDs runs the provided method on all the packed
	// objects ids
	WalkPackedObjectIDs(f packfile.OidWalkFunc) error
	// WalkLooseObjectIDs runs the provided method on all the loose
	// objects ids
	WalkLooseObjectIDs(f packfile.OidWalkFunc) error

	// Index returns the staging area of the repository.
	// An empty index is returned if the repository has none
	Index() (*ginternals.Index, error)
	// WriteIndex persists the staging area, atomically, under the
	// index lock
	WriteIndex(idx *ginternals.Index) error
}

// RefWalkFunc represents a function that will be applied on all
// references found by WalkReferences()
type RefWalkFunc = func(ref *ginternals.Reference) error

// WalkStop is a fake error used to tell WalkReferences() to stop
var WalkStop = errors.New("stop walking") //nolint:revive // fake error used as a sentinel

// ErrRefStale is an error returned when a compare-and-swap ref
// update fails because the ref changed under us
var ErrRefStale = errors.New("reference has changed")
