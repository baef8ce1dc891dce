package packfile

import (
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"io"
	"sort"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"golang.org/x/xerrors"
)

// typeWeight maps an object type to its position in the written
// pack. Commits go first, then trees, blobs, and tags: the receiver
// gets the history before the data it points to
func typeWeight(t object.Type) int {
	switch t {
	case object.TypeCommit:
		return 0
	case object.TypeTree:
		return 1
	case object.TypeBlob:
		return 2
	default:
		return 3
	}
}

// Write streams the given objects as a packfile and returns the
// pack's ID (the value of its trailing checksum).
//
// Every object is written as a full record: picking delta bases is
// a writer optimization the reader cannot rely on, and not using
// deltas keeps every record independently checkable.
// The objects are written commits first, then trees, blobs, and
// tags, each group ordered by oid, so the same set always produces
// the same pack
func Write(w io.Writer, objects []*object.Object) (ginternals.Oid, error) {
	sorted := make([]*object.Object, len(objects))
	copy(sorted, objects)
	sort.SliceStable(sorted, func(i, j int) bool {
		wi, wj := typeWeight(sorted[i].Type()), typeWeight(sorted[j].Type())
		if wi != wj {
			return wi < wj
		}
		return sorted[i].ID().String() < sorted[j].ID().String()
	})

	// everything written goes through the hasher so we can append
	// the checksum at the end
	h := sha1.New()
	mw := io.MultiWriter(w, h)

	header := make([]byte, 0, packfileHeaderSize)
	header = append(header, packfileMagic()...)
	header = append(header, packfileVersion()...)
	header = binary.BigEndian.AppendUint32(header, uint32(len(sorted)))
	if _, err := mw.Write(header); err != nil {
		return ginternals.NullOid, xerrors.Errorf("could not write the header: %w", err)
	}

	for _, o := range sorted {
		if _, err := mw.Write(objectHeader(byte(o.Type()), uint64(o.Size()))); err != nil {
			return ginternals.NullOid, xerrors.Errorf("could not write the metadata of %s: %w", o.ID().String(), err)
		}
		zw := zlib.NewWriter(mw)
		if _, err := zw.Write(o.Bytes()); err != nil {
			zw.Close() //nolint:errcheck // it already failed
			return ginternals.NullOid, xerrors.Errorf("could not compress %s: %w", o.ID().String(), err)
		}
		if err := zw.Close(); err != nil {
			return ginternals.NullOid, xerrors.Errorf("could not flush %s: %w", o.ID().String(), err)
		}
	}

	checksum := h.Sum(nil)
	if _, err := w.Write(checksum); err != nil {
		return ginternals.NullOid, xerrors.Errorf("could not write the checksum: %w", err)
	}
	return ginternals.NewOidFromHex(checksum)
}
