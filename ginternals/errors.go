package ginternals

import "errors"

var (
	// ErrInvalidOid is returned when a given value isn't a valid Oid
	ErrInvalidOid = errors.New("invalid Oid")

	// ErrObjectNotFound is an error corresponding to a git object not
	// being found
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectCorrupted is an error thrown when an object on disk
	// doesn't match its header or its oid
	ErrObjectCorrupted = errors.New("object corrupted")

	// ErrIndexInvalid is an error thrown when the index file cannot
	// be parsed
	ErrIndexInvalid = errors.New("index file is invalid")

	// ErrIndexLocked is an error thrown when the index file is locked
	// by another operation
	ErrIndexLocked = errors.New("index file is locked")

	// ErrEntryNotFound is an error thrown when an entry cannot be
	// found in the index
	ErrEntryNotFound = errors.New("entry not found in the index")

	// ErrEntryUnmerged is an error thrown when acting on an entry that
	// is in an unmerged state
	ErrEntryUnmerged = errors.New("entry is unmerged")

	// ErrRefLocked is an error thrown when a reference is locked by
	// another operation
	ErrRefLocked = errors.New("reference is locked")

	// ErrNonFastForward is an error thrown when a ref update would
	// lose commits on the target
	ErrNonFastForward = errors.New("non-fast-forward update rejected")
)
