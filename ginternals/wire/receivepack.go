package wire

import (
	"fmt"
	"io"
	"strings"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/vcslab/git-go/ginternals/packfile"
	"github.com/vcslab/git-go/ginternals/pktline"
	"github.com/vcslab/git-go/ginternals/revwalk"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// receivePackCaps is what we announce on the first advertised ref
const receivePackCaps = "report-status agent=git-go/1"

// refCommand represents one requested ref update:
// "<old> <new> <refname>"
type refCommand struct {
	name string
	old  ginternals.Oid
	new  ginternals.Oid
}

// ReceivePack drives the server side of a push: advertise the refs,
// read the requested ref updates and the pack, store the objects,
// then update each ref and report its outcome.
//
// The objects are only written to the database once the pack
// checksum has been verified; a truncated push leaves the repository
// untouched. Each ref update is validated (fast-forward only) and
// applied under the ref's lock; failures are reported per ref
func ReceivePack(rw io.ReadWriter, b backend.Backend, log *logrus.Logger) error {
	if err := advertiseRefs(rw, b, receivePackCaps); err != nil {
		return xerrors.Errorf("could not advertise the refs: %w", err)
	}

	commands, err := readRefCommands(rw)
	if err != nil {
		return err
	}
	if len(commands) == 0 {
		// nothing to do, the client hung up
		return nil
	}

	// the pack comes right after the flush. It may be empty when
	// the push only deletes refs
	unpackStatus := "unpack ok"
	objects, err := packfile.NewParser(b.Object).Parse(rw)
	if err != nil {
		log.WithError(err).Warn("unpack failed")
		unpackStatus = fmt.Sprintf("unpack %s", err.Error())
	} else {
		for _, o := range objects {
			if _, err := b.WriteObject(o); err != nil {
				return xerrors.Errorf("could not store %s: %w", o.ID().String(), err)
			}
		}
		log.WithField("objects", len(objects)).Debug("pack stored")
	}

	// report-status: one line for the unpack result, then one per
	// ref
	if err := pktline.WriteString(rw, unpackStatus+"\n"); err != nil {
		return err
	}
	for _, cmd := range commands {
		status := applyRefCommand(b, cmd, unpackStatus == "unpack ok")
		if err := pktline.WriteString(rw, status+"\n"); err != nil {
			return err
		}
	}
	return pktline.WriteFlush(rw)
}

// applyRefCommand validates and applies a single ref update and
// returns its report-status line
func applyRefCommand(b backend.Backend, cmd refCommand, unpacked bool) string {
	if !unpacked {
		return fmt.Sprintf("ng %s unpack failed", cmd.name)
	}

	// deleting refs is not supported
	if cmd.new.IsZero() {
		return fmt.Sprintf("ng %s deletion not supported", cmd.name)
	}

	// the new tip must be a commit we now have
	found, err := b.HasObject(cmd.new)
	if err != nil || !found {
		return fmt.Sprintf("ng %s missing commit %s", cmd.name, cmd.new.String())
	}

	// a non-zero old value must be an ancestor of the new one so no
	// commit is lost
	if !cmd.old.IsZero() {
		ff, err := revwalk.IsAncestor(b, cmd.old, cmd.new)
		if err != nil {
			return fmt.Sprintf("ng %s %s", cmd.name, err.Error())
		}
		if !ff {
			return fmt.Sprintf("ng %s non-fast-forward", cmd.name)
		}
	}

	if err := b.UpdateReference(cmd.name, cmd.old, cmd.new); err != nil {
		switch {
		case xerrors.Is(err, backend.ErrRefStale):
			return fmt.Sprintf("ng %s stale value", cmd.name)
		case xerrors.Is(err, ginternals.ErrRefLocked):
			return fmt.Sprintf("ng %s ref locked", cmd.name)
		default:
			return fmt.Sprintf("ng %s %s", cmd.name, err.Error())
		}
	}
	return fmt.Sprintf("ok %s", cmd.name)
}

// readRefCommands reads the "<old> <new> <refname>" lines of a push
func readRefCommands(r io.Reader) ([]refCommand, error) {
	commands := []refCommand{}
	for {
		line, flush, err := pktline.ReadString(r)
		if err != nil {
			if xerrors.Is(err, io.EOF) && len(commands) == 0 {
				// the client may disconnect right after the
				// advertisement when it has nothing to push
				return nil, nil
			}
			return nil, xerrors.Errorf("could not read a ref update: %w", err)
		}
		if flush {
			return commands, nil
		}
		if line == "" {
			continue
		}
		// the first line may carry capabilities after a NUL
		if i := strings.IndexByte(line, 0); i >= 0 {
			line = line[:i]
		}

		parts := strings.Fields(line)
		if len(parts) != 3 {
			return nil, xerrors.Errorf("invalid ref update %q: %w", line, ErrInvalidResponse)
		}
		old, err := ginternals.NewOidFromStr(parts[0])
		if err != nil {
			return nil, xerrors.Errorf("invalid old oid in %q: %w", line, ErrInvalidResponse)
		}
		newOid, err := ginternals.NewOidFromStr(parts[1])
		if err != nil {
			return nil, xerrors.Errorf("invalid new oid in %q: %w", line, ErrInvalidResponse)
		}
		if !ginternals.IsRefNameValid(parts[2]) {
			return nil, xerrors.Errorf("invalid ref name in %q: %w", line, ErrInvalidResponse)
		}
		commands = append(commands, refCommand{
			name: parts[2],
			old:  old,
			new:  newOid,
		})
	}
}

// objectsFromOids is a small helper loading objects from the odb
func objectsFromOids(b backend.Backend, oids []ginternals.Oid) ([]*object.Object, error) {
	out := make([]*object.Object, 0, len(oids))
	for _, oid := range oids {
		o, err := b.Object(oid)
		if err != nil {
			return nil, xerrors.Errorf("could not load %s: %w", oid.String(), err)
		}
		out = append(out, o)
	}
	return out, nil
}
