package ginternals

import (
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"io"
	"sort"
	"strings"

	"golang.org/x/xerrors"
)

// indexVersion is the version of the index format written by this
// package
const indexVersion = 1

func indexMagic() []byte {
	return []byte{'G', 'I', 'D', 'X'}
}

// ErrIndexPathInvalid is an error thrown when a path cannot be stored
// in the index
var ErrIndexPathInvalid = errors.New("path is not valid for the index")

// Stage represents the merge stage of an index entry.
// Outside of a merge all the entries are at StageMerged. During a
// conflict a path has up to three entries (base, ours, theirs), and
// no StageMerged entry.
type Stage int8

// List of all possible stages
const (
	StageMerged Stage = 0
	StageBase   Stage = 1
	StageOurs   Stage = 2
	StageTheirs Stage = 3
)

// IsValid returns whether the stage is a supported stage or not
func (s Stage) IsValid() bool {
	return s >= StageMerged && s <= StageTheirs
}

// EntryMode represents the mode of an entry stored in the index.
// The values match the modes stored in tree objects
type EntryMode int32

// List of all the modes an index entry may have
const (
	EntryModeFile       EntryMode = 0o100644
	EntryModeExecutable EntryMode = 0o100755
	EntryModeSymLink    EntryMode = 0o120000
	EntryModeGitLink    EntryMode = 0o160000
)

// IsValid returns whether the mode can be stored in the index.
// Directories are never stored in the index, they're implied by the
// paths of the files they contain
func (m EntryMode) IsValid() bool {
	switch m {
	case EntryModeFile, EntryModeExecutable, EntryModeSymLink, EntryModeGitLink:
		return true
	default:
		return false
	}
}

// tag returns the on-disk byte used to persist the mode
func (m EntryMode) tag() byte {
	switch m {
	case EntryModeFile:
		return 1
	case EntryModeExecutable:
		return 2
	case EntryModeSymLink:
		return 3
	case EntryModeGitLink:
		return 4
	default:
		return 0
	}
}

// entryModeFromTag returns the mode matching an on-disk tag
func entryModeFromTag(t byte) (EntryMode, error) {
	switch t {
	case 1:
		return EntryModeFile, nil
	case 2:
		return EntryModeExecutable, nil
	case 3:
		return EntryModeSymLink, nil
	case 4:
		return EntryModeGitLink, nil
	default:
		return 0, xerrors.Errorf("unknown mode tag %d: %w", t, ErrIndexInvalid)
	}
}

// IndexEntry represents a single entry of the index: a path staged
// for the next commit, alongside the oid of its content
type IndexEntry struct {
	Path  string
	ID    Oid
	Mode  EntryMode
	Stage Stage
}

// Index represents the staging area of a repository: an ordered
// mapping from working-tree paths to object identities.
//
// The on-disk format is:
// Header: 12 bytes
//         The first 4 bytes contain the magic ('G', 'I', 'D', 'X')
//         The next 4 bytes contain the version (0, 0, 0, 1)
//         The last 4 bytes contain the number of entries
// Entries: Variable size, sorted by path then by stage
//         - 4 bytes: the length of the path
//         - X bytes: the path, slash separated, no leading "./"
//         - 20 bytes: the oid of the staged content
//         - 1 byte: the mode tag
//         - 1 byte: the merge stage
// Footer: 20 bytes
//         Contains the SHA1 sum of everything above
type Index struct {
	// entries contains all the entries of a path, keyed by path.
	// A path has either a single StageMerged entry or up to three
	// conflict entries ordered by stage
	entries map[string][]*IndexEntry
}

// NewIndex returns a new empty index
func NewIndex() *Index {
	return &Index{
		entries: map[string][]*IndexEntry{},
	}
}

// isPathValid returns whether a path can be stored in the index.
// Paths are stored with forward slashes, relative to the root of the
// working tree
func isPathValid(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return false
	}
	return !strings.ContainsAny(path, "\x00\\")
}

// Add stages the given path with the given oid and mode.
// Any previous entry for the path is replaced, including conflict
// entries, which makes the path merged again
func (idx *Index) Add(path string, id Oid, mode EntryMode) error {
	if !isPathValid(path) {
		return xerrors.Errorf("path %q: %w", path, ErrIndexPathInvalid)
	}
	if !mode.IsValid() {
		return xerrors.Errorf("mode %o of %s: %w", mode, path, ErrIndexPathInvalid)
	}
	idx.entries[path] = []*IndexEntry{
		{
			Path:  path,
			ID:    id,
			Mode:  mode,
			Stage: StageMerged,
		},
	}
	return nil
}

// Remove unstages the given path.
// ErrEntryNotFound is returned if the path isn't staged
func (idx *Index) Remove(path string) error {
	if _, ok := idx.entries[path]; !ok {
		return xerrors.Errorf("%s: %w", path, ErrEntryNotFound)
	}
	delete(idx.entries, path)
	return nil
}

// Get returns the merged entry of the given path.
// ok is false if the path isn't staged or is in an unmerged state
func (idx *Index) Get(path string) (e *IndexEntry, ok bool) {
	entries, found := idx.entries[path]
	if !found || entries[0].Stage != StageMerged {
		return nil, false
	}
	out := *entries[0]
	return &out, true
}

// GetStage returns the entry of the given path at the given stage
func (idx *Index) GetStage(path string, stage Stage) (e *IndexEntry, ok bool) {
	for _, entry := range idx.entries[path] {
		if entry.Stage == stage {
			out := *entry
			return &out, true
		}
	}
	return nil, false
}

// ConflictEntry represents one side of a conflict
type ConflictEntry struct {
	ID   Oid
	Mode EntryMode
}

// SetConflict marks the given path as unmerged.
// Each provided side is stored at its stage (base, ours, theirs);
// nil sides are skipped. At least one side must be provided. Any
// StageMerged entry for the path is dropped
func (idx *Index) SetConflict(path string, base, ours, theirs *ConflictEntry) error {
	if !isPathValid(path) {
		return xerrors.Errorf("path %q: %w", path, ErrIndexPathInvalid)
	}
	if base == nil && ours == nil && theirs == nil {
		return xerrors.Errorf("conflict at %s has no sides: %w", path, ErrIndexPathInvalid)
	}

	entries := make([]*IndexEntry, 0, 3)
	sides := []struct {
		e     *ConflictEntry
		stage Stage
	}{
		{base, StageBase},
		{ours, StageOurs},
		{theirs, StageTheirs},
	}
	for _, side := range sides {
		if side.e == nil {
			continue
		}
		if !side.e.Mode.IsValid() {
			return xerrors.Errorf("mode %o of %s: %w", side.e.Mode, path, ErrIndexPathInvalid)
		}
		entries = append(entries, &IndexEntry{
			Path:  path,
			ID:    side.e.ID,
			Mode:  side.e.Mode,
			Stage: side.stage,
		})
	}
	idx.entries[path] = entries
	return nil
}

// ClearConflict drops the conflict entries of the given path.
// The path ends up unstaged; callers are expected to Add() the
// resolved content right after.
// ErrEntryNotFound is returned if the path has no conflict
func (idx *Index) ClearConflict(path string) error {
	entries, ok := idx.entries[path]
	if !ok || entries[0].Stage == StageMerged {
		return xerrors.Errorf("no conflict at %s: %w", path, ErrEntryNotFound)
	}
	delete(idx.entries, path)
	return nil
}

// HasConflicts returns whether the index contains unmerged entries
func (idx *Index) HasConflicts() bool {
	for _, entries := range idx.entries {
		if entries[0].Stage != StageMerged {
			return true
		}
	}
	return false
}

// Len returns the number of entries in the index
func (idx *Index) Len() int {
	count := 0
	for _, entries := range idx.entries {
		count += len(entries)
	}
	return count
}

// Entries returns a copy of all the entries, sorted by path
// (lexicographic, by byte) then by stage
func (idx *Index) Entries() []*IndexEntry {
	paths := make([]string, 0, len(idx.entries))
	for p := range idx.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]*IndexEntry, 0, len(paths))
	for _, p := range paths {
		for _, e := range idx.entries[p] {
			entry := *e
			out = append(out, &entry)
		}
	}
	return out
}

// Encode writes the index to the provided writer
func (idx *Index) Encode(w io.Writer) error {
	// Everything written is also summed so the checksum can be
	// appended at the end
	h := sha1.New()
	mw := io.MultiWriter(w, h)

	entries := idx.Entries()

	header := make([]byte, 0, 12)
	header = append(header, indexMagic()...)
	header = binary.BigEndian.AppendUint32(header, indexVersion)
	header = binary.BigEndian.AppendUint32(header, uint32(len(entries)))
	if _, err := mw.Write(header); err != nil {
		return xerrors.Errorf("could not write the header: %w", err)
	}

	for _, e := range entries {
		record := make([]byte, 0, 4+len(e.Path)+OidSize+2)
		record = binary.BigEndian.AppendUint32(record, uint32(len(e.Path)))
		record = append(record, e.Path...)
		record = append(record, e.ID.Bytes()...)
		record = append(record, e.Mode.tag(), byte(e.Stage))
		if _, err := mw.Write(record); err != nil {
			return xerrors.Errorf("could not write entry %s: %w", e.Path, err)
		}
	}

	if _, err := w.Write(h.Sum(nil)); err != nil {
		return xerrors.Errorf("could not write the checksum: %w", err)
	}
	return nil
}

// NewIndexFromReader reads an encoded index.
// ErrIndexInvalid is returned if the data is corrupted or if the
// trailing checksum doesn't match
func NewIndexFromReader(r io.Reader) (*Index, error) {
	h := sha1.New()
	tr := io.TeeReader(r, h)

	header := make([]byte, 12)
	if _, err := io.ReadFull(tr, header); err != nil {
		return nil, xerrors.Errorf("could not read the header: %w", ErrIndexInvalid)
	}
	if string(header[0:4]) != string(indexMagic()) {
		return nil, xerrors.Errorf("invalid magic: %w", ErrIndexInvalid)
	}
	if binary.BigEndian.Uint32(header[4:8]) != indexVersion {
		return nil, xerrors.Errorf("unsupported version: %w", ErrIndexInvalid)
	}
	count := binary.BigEndian.Uint32(header[8:12])

	idx := NewIndex()
	lenBuf := make([]byte, 4)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(tr, lenBuf); err != nil {
			return nil, xerrors.Errorf("could not read the path size of entry %d: %w", i, ErrIndexInvalid)
		}
		record := make([]byte, binary.BigEndian.Uint32(lenBuf)+OidSize+2)
		if _, err := io.ReadFull(tr, record); err != nil {
			return nil, xerrors.Errorf("could not read entry %d: %w", i, ErrIndexInvalid)
		}

		path := string(record[:len(record)-OidSize-2])
		if !isPathValid(path) {
			return nil, xerrors.Errorf("path %q of entry %d: %w", path, i, ErrIndexInvalid)
		}
		oid, err := NewOidFromHex(record[len(record)-OidSize-2 : len(record)-2])
		if err != nil {
			return nil, xerrors.Errorf("invalid oid of entry %d: %w", i, ErrIndexInvalid)
		}
		mode, err := entryModeFromTag(record[len(record)-2])
		if err != nil {
			return nil, err
		}
		stage := Stage(record[len(record)-1])
		if !stage.IsValid() {
			return nil, xerrors.Errorf("unknown stage %d of entry %d: %w", stage, i, ErrIndexInvalid)
		}

		idx.entries[path] = append(idx.entries[path], &IndexEntry{
			Path:  path,
			ID:    oid,
			Mode:  mode,
			Stage: stage,
		})
	}

	// The checksum covers everything but itself, so we grab the sum
	// before draining the footer
	expected := h.Sum(nil)
	checksum := make([]byte, OidSize)
	if _, err := io.ReadFull(r, checksum); err != nil {
		return nil, xerrors.Errorf("could not read the checksum: %w", ErrIndexInvalid)
	}
	if string(checksum) != string(expected) {
		return nil, xerrors.Errorf("checksum mismatch: %w", ErrIndexInvalid)
	}

	// a merged entry must be alone on its path
	for path, entries := range idx.entries {
		if len(entries) > 1 {
			for _, e := range entries {
				if e.Stage == StageMerged {
					return nil, xerrors.Errorf("path %s is both merged and unmerged: %w", path, ErrIndexInvalid)
				}
			}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Stage < entries[j].Stage })
	}

	return idx, nil
}
