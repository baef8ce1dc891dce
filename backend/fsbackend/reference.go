package fsbackend

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/internal/errutil"
	"github.com/vcslab/git-go/internal/gitpath"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// Reference returns a stored reference from its name
// ErrRefNotFound is returned if the reference doesn't exists
func (b *Backend) Reference(name string) (*ginternals.Reference, error) {
	var packedRef map[string]string

	finder := func(name string) ([]byte, error) {
		data, err := afero.ReadFile(b.fs, b.systemPath(name))
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, xerrors.Errorf("could not read reference content: %w", err)
			}
			// if the reference can't be found on disk, it might be
			// in the packed-ref file
			if packedRef == nil {
				packedRef, err = b.parsePackedRefs()
				if err != nil {
					return nil, xerrors.Errorf("couldn't load packed-refs: %w", err)
				}
			}
			sha, ok := packedRef[name]
			if !ok {
				return nil, xerrors.Errorf(`ref "%s": %w`, name, ginternals.ErrRefNotFound)
			}
			return []byte(sha), nil
		}
		return data, nil
	}
	return ginternals.ResolveReference(name, finder)
}

// systemPath returns a path from a ref name
// Ex.: On windows refs/heads/master would return refs\heads\master
func (b *Backend) systemPath(name string) string {
	return filepath.Join(b.root, filepath.FromSlash(name))
}

// parsePackedRefs parses the packed-refs file and returns a map
// refName => Oid
// https://git-scm.com/docs/git-pack-refs
func (b *Backend) parsePackedRefs() (refs map[string]string, err error) {
	refs = map[string]string{}
	f, err := b.fs.Open(filepath.Join(b.root, gitpath.PackedRefsPath))
	if err != nil {
		// if the file doesn't exist we just return an empty map
		if os.IsNotExist(err) {
			return refs, nil
		}
		return nil, xerrors.Errorf("could not open %s: %w", gitpath.PackedRefsPath, err)
	}
	defer errutil.Close(f, &err)

	sc := bufio.NewScanner(f)
	for i := 1; sc.Scan(); i++ {
		line := sc.Text()
		// we skip empty lines, comments, and annotated tag commit
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		// We expected data to have the format:
		// "oid ref-name"
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			return nil, xerrors.Errorf("unexpected data line %d: %w", i, ginternals.ErrPackedRefInvalid)
		}
		refs[parts[1]] = parts[0]
	}

	if sc.Err() != nil {
		return nil, xerrors.Errorf("could not parse %s: %w", gitpath.PackedRefsPath, sc.Err())
	}

	return refs, nil
}

// refContent returns the file content of a reference
func refContent(ref *ginternals.Reference) ([]byte, error) {
	switch ref.Type() {
	case ginternals.SymbolicReference:
		return []byte(fmt.Sprintf("ref: %s\n", ref.SymbolicTarget())), nil
	case ginternals.OidReference:
		return []byte(fmt.Sprintf("%s\n", ref.Target().String())), nil
	default:
		return nil, xerrors.Errorf("reference type %d: %w", ref.Type(), ginternals.ErrUnknownRefType)
	}
}

// WriteReference writes the given reference on disk. If the
// reference already exists it will be overwritten
func (b *Backend) WriteReference(ref *ginternals.Reference) error {
	if !ginternals.IsRefNameValid(ref.Name()) {
		return ginternals.ErrRefNameInvalid
	}

	content, err := refContent(ref)
	if err != nil {
		return err
	}
	p := b.systemPath(ref.Name())
	if err := b.fs.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return xerrors.Errorf("could not create the directory of %s: %w", ref.Name(), err)
	}
	if err := afero.WriteFile(b.fs, p, content, 0o644); err != nil {
		return xerrors.Errorf("could not persist reference to disk: %w", err)
	}
	return nil
}

// WriteReferenceSafe writes the given reference in the db
// ErrRefExists is returned if the reference already exists
func (b *Backend) WriteReferenceSafe(ref *ginternals.Reference) error {
	if !ginternals.IsRefNameValid(ref.Name()) {
		return ginternals.ErrRefNameInvalid
	}

	// First we check if the reference is on disk
	p := b.systemPath(ref.Name())
	_, err := b.fs.Stat(p)
	if !os.IsNotExist(err) {
		if err != nil {
			return xerrors.Errorf("could not check if reference exists on disk: %w", err)
		}
		return ginternals.ErrRefExists
	}

	// Now we check if the reference is on the packed-refs file
	refs, err := b.parsePackedRefs()
	if err != nil {
		return xerrors.Errorf("could not check %s: %w", gitpath.PackedRefsPath, err)
	}
	if _, ok := refs[ref.Name()]; ok {
		return ginternals.ErrRefExists
	}

	return b.WriteReference(ref)
}

// UpdateReference updates a reference from an expected value to a
// new one. The update happens under an exclusive lock, and only goes
// through if the current value still matches oldTarget (a zero
// oldTarget means the ref is expected to not exist).
// ErrRefLocked is returned if the lock is taken, backend.ErrRefStale
// if the value moved under us
func (b *Backend) UpdateReference(name string, oldTarget, newTarget ginternals.Oid) error {
	if !ginternals.IsRefNameValid(name) {
		return ginternals.ErrRefNameInvalid
	}

	p := b.systemPath(name)
	if err := b.fs.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return xerrors.Errorf("could not create the directory of %s: %w", name, err)
	}

	// The lock file is created exclusively: a second writer fails
	// until the first one renames or removes it
	lockPath := p + ".lock"
	lock, err := b.fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return xerrors.Errorf("ref %s: %w", name, ginternals.ErrRefLocked)
		}
		return xerrors.Errorf("could not create lock file of %s: %w", name, err)
	}
	unlock := func() {
		b.fs.Remove(lockPath) //nolint:errcheck // best effort
	}

	// Now that we own the lock we can check the current value
	current := ginternals.NullOid
	ref, err := b.Reference(name)
	switch {
	case err == nil:
		current = ref.Target()
	case xerrors.Is(err, ginternals.ErrRefNotFound):
		// the ref doesn't exist yet
	default:
		lock.Close() //nolint:errcheck // we're already failing
		unlock()
		return xerrors.Errorf("could not read the current value of %s: %w", name, err)
	}
	if current != oldTarget {
		lock.Close() //nolint:errcheck // we're already failing
		unlock()
		return xerrors.Errorf("ref %s is at %s, expected %s: %w", name, current.String(), oldTarget.String(), backend.ErrRefStale)
	}

	if _, err = lock.Write([]byte(newTarget.String() + "\n")); err != nil {
		lock.Close() //nolint:errcheck // we're already failing
		unlock()
		return xerrors.Errorf("could not write the new value of %s: %w", name, err)
	}
	if err = lock.Close(); err != nil {
		unlock()
		return xerrors.Errorf("could not flush the new value of %s: %w", name, err)
	}
	if err = b.fs.Rename(lockPath, p); err != nil {
		unlock()
		return xerrors.Errorf("could not move the new value of %s in place: %w", name, err)
	}
	return nil
}

// WalkReferences runs the provided method on all the references of
// the repository (HEAD excluded), sorted by name
func (b *Backend) WalkReferences(f backend.RefWalkFunc) error {
	names := map[string]struct{}{}

	// packed refs first, loose refs override them
	packed, err := b.parsePackedRefs()
	if err != nil {
		return err
	}
	for name := range packed {
		names[name] = struct{}{}
	}

	root := filepath.Join(b.root, gitpath.RefsPath)
	err = afero.Walk(b.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// refs/ might not exist on a fresh repository
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(info.Name(), ".lock") {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return xerrors.Errorf("could not get the name of ref at %s: %w", path, err)
		}
		names[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		ref, err := b.Reference(name)
		if err != nil {
			return xerrors.Errorf("could not resolve ref %s: %w", name, err)
		}
		if err := f(ref); err != nil {
			if xerrors.Is(err, backend.WalkStop) {
				return nil
			}
			return err
		}
	}
	return nil
}
