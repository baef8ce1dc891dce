package wire

import (
	"io"
	"strings"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/packfile"
	"github.com/vcslab/git-go/ginternals/pktline"
	"github.com/vcslab/git-go/ginternals/revwalk"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// uploadPackCaps is what we announce on the first advertised ref.
// Unsupported capabilities requested by the other side are ignored
const uploadPackCaps = "agent=git-go/1"

// UploadPack drives the server side of a fetch: advertise the refs,
// collect the wants and haves, then stream a pack of everything
// reachable from the wants but not from the common haves
func UploadPack(rw io.ReadWriter, b backend.Backend, log *logrus.Logger) error {
	if err := advertiseRefs(rw, b, uploadPackCaps); err != nil {
		return xerrors.Errorf("could not advertise the refs: %w", err)
	}

	wants, haves, err := readWantsAndHaves(rw, b)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"wants": len(wants),
		"haves": len(haves),
	}).Debug("negotiation done")

	// every have the client sent that we know about is common
	// history we don't need to send back
	common := []ginternals.Oid{}
	for _, oid := range haves {
		found, err := b.HasObject(oid)
		if err != nil {
			return err
		}
		if found {
			common = append(common, oid)
		}
	}

	switch len(common) {
	case 0:
		if err := pktline.WriteString(rw, "NAK\n"); err != nil {
			return err
		}
	default:
		if err := pktline.Writef(rw, "ACK %s\n", common[len(common)-1].String()); err != nil {
			return err
		}
	}

	oids, err := revwalk.ObjectsToSend(b, wants, common)
	if err != nil {
		return xerrors.Errorf("could not compute the objects to send: %w", err)
	}
	objects, err := objectsFromOids(b, oids)
	if err != nil {
		return err
	}

	packID, err := packfile.Write(rw, objects)
	if err != nil {
		return xerrors.Errorf("could not stream the pack: %w", err)
	}
	log.WithFields(logrus.Fields{
		"pack":    packID.String(),
		"objects": len(objects),
	}).Debug("pack sent")
	return nil
}

// readWantsAndHaves reads the client side of the negotiation:
// "want <oid>" lines, a flush, "have <oid>" lines, then "done"
func readWantsAndHaves(r io.Reader, b backend.Backend) (wants, haves []ginternals.Oid, err error) {
	// wants first, terminated by a flush
	for {
		line, flush, err := pktline.ReadString(r)
		if err != nil {
			return nil, nil, xerrors.Errorf("could not read a want: %w", err)
		}
		if flush {
			break
		}
		if line == "" {
			continue
		}
		// the first want may carry capabilities after a NUL; we
		// ignore them all
		if i := strings.IndexByte(line, 0); i >= 0 {
			line = line[:i]
		}
		if !strings.HasPrefix(line, "want ") {
			return nil, nil, xerrors.Errorf("expected a want, got %q: %w", line, ErrInvalidResponse)
		}
		oid, err := ginternals.NewOidFromStr(strings.Fields(line)[1])
		if err != nil {
			return nil, nil, xerrors.Errorf("invalid oid in %q: %w", line, ErrInvalidResponse)
		}
		found, err := b.HasObject(oid)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			return nil, nil, xerrors.Errorf("want %s: %w", oid.String(), ginternals.ErrObjectNotFound)
		}
		wants = append(wants, oid)
	}

	// haves next, terminated by "done"
	for {
		line, flush, err := pktline.ReadString(r)
		if err != nil {
			return nil, nil, xerrors.Errorf("could not read a have: %w", err)
		}
		if flush || line == "" {
			continue
		}
		if line == "done" {
			return wants, haves, nil
		}
		if !strings.HasPrefix(line, "have ") {
			return nil, nil, xerrors.Errorf("expected a have, got %q: %w", line, ErrInvalidResponse)
		}
		oid, err := ginternals.NewOidFromStr(strings.Fields(line)[1])
		if err != nil {
			return nil, nil, xerrors.Errorf("invalid oid in %q: %w", line, ErrInvalidResponse)
		}
		haves = append(haves, oid)
	}
}
