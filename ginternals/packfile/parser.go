package packfile

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"hash"
	"io"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/vcslab/git-go/internal/errutil"
	"golang.org/x/xerrors"
)

// BaseGetter represents a method that returns an object from its
// oid. It's used to resolve ref-deltas that point to objects that
// are not in the pack but already in the receiver's database
type BaseGetter func(oid ginternals.Oid) (*object.Object, error)

// Parser reads a packfile from a stream, resolves its deltas, and
// returns the objects it contains.
//
// The parser consumes exactly the bytes of the pack, so it can be
// used on a connection that stays open after the pack (a push keeps
// the connection around for the status report).
// All the records are buffered and the trailing checksum verified
// before any object is returned: a truncated or corrupted stream
// never leaks objects to the caller
type Parser struct {
	getBase BaseGetter
}

// NewParser returns a parser that uses the provided getter to
// resolve ref-deltas targeting objects outside the pack.
// getBase may be nil, in which case those deltas fail with
// ErrDeltaBaseMissing
func NewParser(getBase BaseGetter) *Parser {
	return &Parser{
		getBase: getBase,
	}
}

// packObject represents a not-yet-resolved object record
type packObject struct {
	offset     uint64
	typ        object.Type
	data       []byte
	baseOid    ginternals.Oid
	baseOffset uint64
}

// hashingReader counts and hashes everything it reads so the
// parser knows the current offset and can verify the trailing
// checksum. It exposes ReadByte so zlib doesn't buffer ahead and
// consume bytes belonging to the next record
type hashingReader struct {
	r      *bufio.Reader
	h      hash.Hash
	offset uint64
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.offset += uint64(n)
		hr.h.Write(p[:n]) //nolint:errcheck // hash writes never fail
	}
	return n, err
}

func (hr *hashingReader) ReadByte() (byte, error) {
	b, err := hr.r.ReadByte()
	if err != nil {
		return 0, err
	}
	hr.offset++
	hr.h.Write([]byte{b}) //nolint:errcheck // hash writes never fail
	return b, nil
}

// Parse reads a complete pack stream and returns its objects, fully
// resolved, in the order they appear in the pack.
// Reading stops right after the trailing checksum; whatever follows
// in the stream is left untouched
func (p *Parser) Parse(r io.Reader) ([]*object.Object, error) {
	hr := &hashingReader{
		r: bufio.NewReader(r),
		h: sha1.New(),
	}

	header := make([]byte, packfileHeaderSize)
	if _, err := io.ReadFull(hr, header); err != nil {
		return nil, xerrors.Errorf("could not read the header: %w", ErrPackfileCorrupted)
	}
	if !bytes.Equal(header[0:4], packfileMagic()) {
		return nil, xerrors.Errorf("invalid header: %w", ErrInvalidMagic)
	}
	if !bytes.Equal(header[4:8], packfileVersion()) {
		return nil, xerrors.Errorf("invalid header: %w", ErrInvalidVersion)
	}
	count := binary.BigEndian.Uint32(header[8:12])

	records := make([]*packObject, 0, count)
	for i := uint32(0); i < count; i++ {
		record, err := p.readRecord(hr)
		if err != nil {
			return nil, xerrors.Errorf("could not read object %d/%d: %w", i+1, count, err)
		}
		records = append(records, record)
	}

	// The checksum covers everything but itself, so we grab the sum
	// before draining the footer. The footer is read from the
	// underlying reader so it doesn't pollute the hash
	expected := hr.h.Sum(nil)
	checksum := make([]byte, ginternals.OidSize)
	if _, err := io.ReadFull(hr.r, checksum); err != nil {
		return nil, xerrors.Errorf("could not read the checksum: %w", ErrPackfileCorrupted)
	}
	if !bytes.Equal(expected, checksum) {
		return nil, xerrors.Errorf("checksum mismatch: %w", ErrPackfileCorrupted)
	}

	return p.resolve(records)
}

// readRecord parses a single object record
func (p *Parser) readRecord(hr *hashingReader) (record *packObject, err error) {
	record = &packObject{
		offset: hr.offset,
	}

	first, err := hr.ReadByte()
	if err != nil {
		return nil, xerrors.Errorf("could not read the object metadata: %w", err)
	}
	record.typ = object.Type((first & 0b_0111_0000) >> 4)
	if !record.typ.IsValid() {
		return nil, xerrors.Errorf("unknown object type %d: %w", record.typ, ErrPackfileCorrupted)
	}
	size := uint64(first & 0b_0000_1111)
	shift := uint(4)
	for b := first; isMSBSet(b); {
		if b, err = hr.ReadByte(); err != nil {
			return nil, xerrors.Errorf("could not read the object size: %w", err)
		}
		size |= uint64(unsetMSB(b)) << shift
		shift += 7
		if shift > 64 {
			return nil, ErrIntOverflow
		}
	}

	switch record.typ { //nolint:exhaustive // only 2 types have a special treatment
	case object.ObjectDeltaRef:
		baseOid := make([]byte, ginternals.OidSize)
		if _, err = io.ReadFull(hr, baseOid); err != nil {
			return nil, xerrors.Errorf("could not read the base oid: %w", err)
		}
		record.baseOid, err = ginternals.NewOidFromHex(baseOid)
		if err != nil {
			return nil, xerrors.Errorf("could not parse the base oid: %w", err)
		}
	case object.ObjectDeltaOFS:
		// 7 bits chunks, big endian, each chunk but the last one
		// stored -1
		var negOffset uint64
		for {
			b, err := hr.ReadByte()
			if err != nil {
				return nil, xerrors.Errorf("could not read the base offset: %w", err)
			}
			chunk := unsetMSB(b)
			if isMSBSet(b) {
				chunk++
			}
			negOffset = insertBigEndian7(negOffset, chunk)
			if !isMSBSet(b) {
				break
			}
		}
		if negOffset > record.offset {
			return nil, xerrors.Errorf("base offset %d points before the pack: %w", negOffset, ErrPackfileCorrupted)
		}
		record.baseOffset = record.offset - negOffset
	}

	// The payload is zlib compressed. Since the reader exposes
	// ReadByte, zlib stops exactly at the end of its stream and the
	// next record starts right after
	zr, err := zlib.NewReader(hr)
	if err != nil {
		return nil, xerrors.Errorf("could not get zlib reader (%s): %w", err.Error(), ErrPackfileCorrupted)
	}
	defer errutil.Close(zr, &err)

	payload := bytes.Buffer{}
	if _, err = io.Copy(&payload, zr); err != nil {
		return nil, xerrors.Errorf("could not decompress (%s): %w", err.Error(), ErrPackfileCorrupted)
	}
	if payload.Len() != int(size) {
		return nil, xerrors.Errorf("object size not valid. expecting %d, got %d: %w", size, payload.Len(), ErrPackfileCorrupted)
	}
	record.data = payload.Bytes()
	return record, nil
}

// resolve expands the deltas of the pack.
// Deltas may reference a base that is itself a delta appearing later
// in the pack (ref-deltas can point forward), so unresolved records
// are retried until a full pass makes no progress
func (p *Parser) resolve(records []*packObject) ([]*object.Object, error) {
	resolved := make([]*object.Object, len(records))
	byOffset := map[uint64]*object.Object{}
	byOid := map[ginternals.Oid]*object.Object{}

	store := func(i int, o *object.Object) {
		resolved[i] = o
		byOffset[records[i].offset] = o
		byOid[o.ID()] = o
	}

	for i, record := range records {
		if record.typ != object.ObjectDeltaRef && record.typ != object.ObjectDeltaOFS {
			store(i, object.New(record.typ, record.data))
		}
	}

	for {
		progress := false
		missing := 0
		for i, record := range records {
			if resolved[i] != nil {
				continue
			}

			var base *object.Object
			switch record.typ { //nolint:exhaustive // only deltas are unresolved
			case object.ObjectDeltaOFS:
				base = byOffset[record.baseOffset]
			case object.ObjectDeltaRef:
				base = byOid[record.baseOid]
				if base == nil && p.getBase != nil {
					o, err := p.getBase(record.baseOid)
					if err == nil {
						base = o
					}
				}
			}
			if base == nil {
				missing++
				continue
			}

			content, err := ApplyDelta(base.Bytes(), record.data)
			if err != nil {
				return nil, xerrors.Errorf("could not apply delta at offset %d: %w", record.offset, err)
			}
			store(i, object.New(base.Type(), content))
			progress = true
		}

		if missing == 0 {
			return resolved, nil
		}
		if !progress {
			return nil, xerrors.Errorf("%d deltas have no reachable base: %w", missing, ErrDeltaBaseMissing)
		}
	}
}
