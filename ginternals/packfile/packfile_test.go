package packfile_test

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"sort"
	"testing"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/vcslab/git-go/ginternals/packfile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packRecord is a record to be assembled by buildPack
type packRecord struct {
	typ object.Type
	// payload is the object content for regular records and the
	// delta stream for deltified ones
	payload []byte
	// baseOid is set for ref-delta records
	baseOid ginternals.Oid
	// basePos is the index of the base record for ofs-delta records
	basePos int
}

// objectMeta rebuilds the variable-size type+size header of a record
func objectMeta(typ object.Type, size int) []byte {
	out := []byte{}
	b := (byte(typ) << 4) | byte(size&0x0f)
	size >>= 4
	for size > 0 {
		out = append(out, b|0x80)
		b = byte(size & 0x7f)
		size >>= 7
	}
	return append(out, b)
}

// encodeDeltaOffset encodes a negative ofs-delta offset the way git
// does: big endian chunks of 7 bits, all but the last stored -1
func encodeDeltaOffset(offset uint64) []byte {
	out := []byte{byte(offset & 0x7f)}
	offset >>= 7
	for offset > 0 {
		offset--
		out = append([]byte{byte(offset&0x7f) | 0x80}, out...)
		offset >>= 7
	}
	return out
}

// buildPack assembles a pack stream from the given records and
// returns its bytes along with the offset of every record
func buildPack(t *testing.T, records []packRecord) (pack []byte, offsets []uint64) {
	t.Helper()

	var buf bytes.Buffer
	buf.Write([]byte("PACK"))
	buf.Write([]byte{0, 0, 0, 2})
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(records)))
	buf.Write(header)

	offsets = make([]uint64, len(records))
	for i, r := range records {
		offsets[i] = uint64(buf.Len())
		buf.Write(objectMeta(r.typ, len(r.payload)))
		switch r.typ {
		case object.ObjectDeltaRef:
			buf.Write(r.baseOid.Bytes())
		case object.ObjectDeltaOFS:
			buf.Write(encodeDeltaOffset(offsets[i] - offsets[r.basePos]))
		}
		zw := zlib.NewWriter(&buf)
		_, err := zw.Write(r.payload)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	}

	checksum := sha1.Sum(buf.Bytes())
	buf.Write(checksum[:])
	return buf.Bytes(), offsets
}

func TestWriteParseRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("a written pack should parse back to the same objects", func(t *testing.T) {
		t.Parallel()

		blob := object.New(object.TypeBlob, []byte("test\n"))
		tree := object.NewTree([]object.TreeEntry{
			{Mode: object.ModeFile, ID: blob.ID(), Path: "file"},
		}).ToObject()

		var buf bytes.Buffer
		packID, err := packfile.Write(&buf, []*object.Object{blob, tree})
		require.NoError(t, err)
		assert.False(t, packID.IsZero())

		objects, err := packfile.NewParser(nil).Parse(&buf)
		require.NoError(t, err)
		require.Len(t, objects, 2)

		got := map[ginternals.Oid]object.Type{}
		for _, o := range objects {
			got[o.ID()] = o.Type()
		}
		assert.Equal(t, object.TypeBlob, got[blob.ID()])
		assert.Equal(t, object.TypeTree, got[tree.ID()])
	})

	t.Run("writing the same set twice should produce the same bytes", func(t *testing.T) {
		t.Parallel()

		a := object.New(object.TypeBlob, []byte("aaa"))
		b := object.New(object.TypeBlob, []byte("bbb"))

		var buf1, buf2 bytes.Buffer
		_, err := packfile.Write(&buf1, []*object.Object{a, b})
		require.NoError(t, err)
		_, err = packfile.Write(&buf2, []*object.Object{b, a})
		require.NoError(t, err)
		assert.Equal(t, buf1.Bytes(), buf2.Bytes())
	})

	t.Run("an empty pack should only have a header and a checksum", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		_, err := packfile.Write(&buf, nil)
		require.NoError(t, err)
		assert.Equal(t, 12+20, buf.Len())

		objects, err := packfile.NewParser(nil).Parse(&buf)
		require.NoError(t, err)
		assert.Empty(t, objects)
	})
}

func TestParseCorruptedPacks(t *testing.T) {
	t.Parallel()

	validPack := func(t *testing.T) []byte {
		var buf bytes.Buffer
		_, err := packfile.Write(&buf, []*object.Object{
			object.New(object.TypeBlob, []byte("test\n")),
		})
		require.NoError(t, err)
		return buf.Bytes()
	}

	t.Run("any flipped bit should be detected", func(t *testing.T) {
		t.Parallel()

		data := validPack(t)
		data[17] ^= 0x01

		_, err := packfile.NewParser(nil).Parse(bytes.NewReader(data))
		require.Error(t, err)
		assert.ErrorIs(t, err, packfile.ErrPackfileCorrupted)
	})

	t.Run("a truncated pack should be detected", func(t *testing.T) {
		t.Parallel()

		data := validPack(t)
		_, err := packfile.NewParser(nil).Parse(bytes.NewReader(data[:len(data)-3]))
		require.Error(t, err)
		assert.ErrorIs(t, err, packfile.ErrPackfileCorrupted)
	})

	t.Run("a pack that is too short should be detected", func(t *testing.T) {
		t.Parallel()

		_, err := packfile.NewParser(nil).Parse(bytes.NewReader([]byte("PACK")))
		require.Error(t, err)
		assert.ErrorIs(t, err, packfile.ErrPackfileCorrupted)
	})

	t.Run("an invalid magic should be detected", func(t *testing.T) {
		t.Parallel()

		data := validPack(t)
		// break the magic and fix the checksum so only the magic is
		// wrong
		data[0] = 'K'
		checksum := sha1.Sum(data[:len(data)-20])
		copy(data[len(data)-20:], checksum[:])

		_, err := packfile.NewParser(nil).Parse(bytes.NewReader(data))
		require.Error(t, err)
		assert.ErrorIs(t, err, packfile.ErrInvalidMagic)
	})
}

func TestParseDeltifiedPack(t *testing.T) {
	t.Parallel()

	base := []byte("hello old world")
	target := []byte("hello new world")
	// copy "hello " (offset 0, size 6), insert "new", copy " world"
	// (offset 9, size 6)
	delta := []byte{
		byte(len(base)), byte(len(target)),
		0b_1001_0000, 6, // copy: no offset byte, 1 size byte
		3, 'n', 'e', 'w', // insert 3 bytes
		0b_1001_0001, 9, 6, // copy: 1 offset byte, 1 size byte
	}

	t.Run("ofs-delta against an in-pack base", func(t *testing.T) {
		t.Parallel()

		pack, _ := buildPack(t, []packRecord{
			{typ: object.TypeBlob, payload: base},
			{typ: object.ObjectDeltaOFS, payload: delta, basePos: 0},
		})

		objects, err := packfile.NewParser(nil).Parse(bytes.NewReader(pack))
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, base, objects[0].Bytes())
		assert.Equal(t, target, objects[1].Bytes())
		assert.Equal(t, object.TypeBlob, objects[1].Type())
		assert.Equal(t, object.New(object.TypeBlob, target).ID(), objects[1].ID())
	})

	t.Run("ref-delta against an in-pack base", func(t *testing.T) {
		t.Parallel()

		baseObject := object.New(object.TypeBlob, base)
		pack, _ := buildPack(t, []packRecord{
			{typ: object.TypeBlob, payload: base},
			{typ: object.ObjectDeltaRef, payload: delta, baseOid: baseObject.ID()},
		})

		objects, err := packfile.NewParser(nil).Parse(bytes.NewReader(pack))
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, target, objects[1].Bytes())
	})

	t.Run("ref-delta against a database object", func(t *testing.T) {
		t.Parallel()

		baseObject := object.New(object.TypeBlob, base)
		pack, _ := buildPack(t, []packRecord{
			{typ: object.ObjectDeltaRef, payload: delta, baseOid: baseObject.ID()},
		})

		getBase := func(oid ginternals.Oid) (*object.Object, error) {
			if oid == baseObject.ID() {
				return baseObject, nil
			}
			return nil, ginternals.ErrObjectNotFound
		}
		objects, err := packfile.NewParser(getBase).Parse(bytes.NewReader(pack))
		require.NoError(t, err)
		require.Len(t, objects, 1)
		assert.Equal(t, target, objects[0].Bytes())
	})

	t.Run("ref-delta with an unreachable base should fail", func(t *testing.T) {
		t.Parallel()

		baseObject := object.New(object.TypeBlob, base)
		pack, _ := buildPack(t, []packRecord{
			{typ: object.ObjectDeltaRef, payload: delta, baseOid: baseObject.ID()},
		})

		_, err := packfile.NewParser(nil).Parse(bytes.NewReader(pack))
		require.Error(t, err)
		assert.ErrorIs(t, err, packfile.ErrDeltaBaseMissing)
	})
}

// buildPackIndex assembles an index file for the given oid/offset
// pairs
func buildPackIndex(t *testing.T, offsets map[ginternals.Oid]uint64) []byte {
	t.Helper()

	oids := make([]ginternals.Oid, 0, len(offsets))
	for oid := range offsets {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool {
		return bytes.Compare(oids[i].Bytes(), oids[j].Bytes()) < 0
	})

	var buf bytes.Buffer
	buf.Write([]byte{255, 't', 'O', 'c', 0, 0, 0, 2})

	// layer1: cumulative count of objects per first byte
	entry := make([]byte, 4)
	cumul := uint32(0)
	for b := 0; b <= 255; b++ {
		for _, oid := range oids {
			if int(oid.Bytes()[0]) == b {
				cumul++
			}
		}
		binary.BigEndian.PutUint32(entry, cumul)
		buf.Write(entry)
	}

	// layer2: the oids back to back
	for _, oid := range oids {
		buf.Write(oid.Bytes())
	}
	// layer3: crc values, not checked
	for range oids {
		buf.Write([]byte{0, 0, 0, 0})
	}
	// layer4: the offsets
	for _, oid := range oids {
		binary.BigEndian.PutUint32(entry, uint32(offsets[oid]))
		buf.Write(entry)
	}
	// footer: pack checksum + index checksum, not checked on read
	buf.Write(make([]byte, 40))
	return buf.Bytes()
}

func TestPackOnDisk(t *testing.T) {
	t.Parallel()

	blob := object.New(object.TypeBlob, []byte("test\n"))
	other := object.New(object.TypeBlob, []byte("something else"))

	pack, offsets := buildPack(t, []packRecord{
		{typ: object.TypeBlob, payload: blob.Bytes()},
		{typ: object.TypeBlob, payload: other.Bytes()},
	})
	idx := buildPackIndex(t, map[ginternals.Oid]uint64{
		blob.ID():  offsets[0],
		other.ID(): offsets[1],
	})

	newFs := func(t *testing.T) afero.Fs {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/pack-test.pack", pack, 0o444))
		require.NoError(t, afero.WriteFile(fs, "/pack-test.idx", idx, 0o444))
		return fs
	}

	t.Run("GetObject should find all the objects", func(t *testing.T) {
		t.Parallel()

		p, err := packfile.NewFromFile(newFs(t), "/pack-test.pack")
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, p.Close())
		})

		assert.EqualValues(t, 2, p.ObjectCount())

		o, err := p.GetObject(blob.ID())
		require.NoError(t, err)
		assert.Equal(t, []byte("test\n"), o.Bytes())
		assert.Equal(t, blob.ID(), o.ID())

		o, err = p.GetObject(other.ID())
		require.NoError(t, err)
		assert.Equal(t, []byte("something else"), o.Bytes())
	})

	t.Run("GetObject should fail on a missing object", func(t *testing.T) {
		t.Parallel()

		p, err := packfile.NewFromFile(newFs(t), "/pack-test.pack")
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, p.Close())
		})

		missing := object.New(object.TypeBlob, []byte("not in the pack"))
		_, err = p.GetObject(missing.ID())
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrObjectNotFound)
	})

	t.Run("ID should return the trailing checksum", func(t *testing.T) {
		t.Parallel()

		p, err := packfile.NewFromFile(newFs(t), "/pack-test.pack")
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, p.Close())
		})

		id, err := p.ID()
		require.NoError(t, err)
		expected := sha1.Sum(pack[:len(pack)-20])
		assert.Equal(t, expected[:], id.Bytes())
	})

	t.Run("WalkOids should yield all the oids", func(t *testing.T) {
		t.Parallel()

		p, err := packfile.NewFromFile(newFs(t), "/pack-test.pack")
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, p.Close())
		})

		seen := map[ginternals.Oid]struct{}{}
		err = p.WalkOids(func(oid ginternals.Oid) error {
			seen[oid] = struct{}{}
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, seen, 2)
		assert.Contains(t, seen, blob.ID())
		assert.Contains(t, seen, other.ID())
	})

	t.Run("an index file used as packfile should fail", func(t *testing.T) {
		t.Parallel()

		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/pack-broken.pack", idx, 0o444))
		require.NoError(t, afero.WriteFile(fs, "/pack-broken.idx", idx, 0o444))

		_, err := packfile.NewFromFile(fs, "/pack-broken.pack")
		require.Error(t, err)
		assert.ErrorIs(t, err, packfile.ErrInvalidMagic)
	})
}
