// Package wire implements the fetch/push negotiation protocol: ref
// advertisement, want/have negotiation, and packfile streaming, all
// framed with pkt-line.
//
// Both sides of each flow are provided: UploadPack/ReceivePack for
// the server, Fetch/Push for the client, plus a TCP server speaking
// the git daemon request format
package wire

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/pktline"
	"golang.org/x/xerrors"
)

// Service names as they appear in the request line
const (
	UploadPackService  = "git-upload-pack"
	ReceivePackService = "git-receive-pack"
)

var (
	// ErrInvalidRequest is an error thrown when a request line
	// cannot be parsed
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidResponse is an error thrown when the other side
	// sends something the protocol doesn't allow
	ErrInvalidResponse = errors.New("invalid response")

	// ErrUnknownService is an error thrown when a request asks for
	// a service we don't provide
	ErrUnknownService = errors.New("unknown service")

	// ErrTimeout is an error thrown when the other side took too
	// long to answer
	ErrTimeout = errors.New("network timeout")
)

// Request represents the first line a client sends when connecting:
// "git-upload-pack /path/to/repo\0host=example.com\0"
type Request struct {
	Service string
	Path    string
	Host    string
}

// WriteRequest sends a request line
func WriteRequest(w io.Writer, service, path, host string) error {
	return pktline.Writef(w, "%s %s\x00host=%s\x00", service, path, host)
}

// ReadRequest parses a request line.
// Extraneous NUL separated tokens are ignored
func ReadRequest(r io.Reader) (*Request, error) {
	payload, err := pktline.Read(r)
	if err != nil {
		return nil, xerrors.Errorf("could not read the request: %w", err)
	}
	if payload == nil {
		return nil, xerrors.Errorf("got a flush-pkt instead of a request: %w", ErrInvalidRequest)
	}

	tokens := strings.Split(string(payload), "\x00")
	servicePath := strings.SplitN(strings.TrimSuffix(tokens[0], "\n"), " ", 2)
	if len(servicePath) != 2 {
		return nil, xerrors.Errorf("no path in %q: %w", tokens[0], ErrInvalidRequest)
	}

	req := &Request{
		Service: servicePath[0],
		Path:    servicePath[1],
	}
	for _, token := range tokens[1:] {
		if strings.HasPrefix(token, "host=") {
			req.Host = strings.TrimPrefix(token, "host=")
		}
		// unknown tokens are ignored on purpose
	}

	switch req.Service {
	case UploadPackService, ReceivePackService:
		return req, nil
	default:
		return nil, xerrors.Errorf("service %q: %w", req.Service, ErrUnknownService)
	}
}

// RefAd represents a single advertised ref
type RefAd struct {
	Name string
	ID   ginternals.Oid
}

// advertiseRefs sends the refs of the repository: HEAD first, then
// every ref sorted by name, the first line carrying the capabilities
// after a NUL. An empty repository advertises nothing but the flush
func advertiseRefs(w io.Writer, b backend.Backend, caps string) error {
	ads := []RefAd{}

	head, err := b.Reference(ginternals.Head)
	if err == nil && !head.Target().IsZero() {
		ads = append(ads, RefAd{Name: ginternals.Head, ID: head.Target()})
	}

	refs := []RefAd{}
	err = b.WalkReferences(func(ref *ginternals.Reference) error {
		if ref.Target().IsZero() {
			return nil
		}
		refs = append(refs, RefAd{Name: ref.Name(), ID: ref.Target()})
		return nil
	})
	if err != nil {
		return xerrors.Errorf("could not walk the refs: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	ads = append(ads, refs...)

	for i, ad := range ads {
		line := fmt.Sprintf("%s %s", ad.ID.String(), ad.Name)
		if i == 0 {
			line += "\x00" + caps
		}
		if err := pktline.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return pktline.WriteFlush(w)
}

// readAdvertisedRefs parses a ref advertisement.
// The capabilities of the first line and any unknown token are
// dropped
func readAdvertisedRefs(r io.Reader) ([]RefAd, error) {
	ads := []RefAd{}
	for {
		line, flush, err := pktline.ReadString(r)
		if err != nil {
			return nil, xerrors.Errorf("could not read the advertisement: %w", err)
		}
		if flush {
			return ads, nil
		}
		if line == "" {
			// keep-alive
			continue
		}
		if strings.HasPrefix(line, "version ") {
			// some servers announce their protocol version first
			continue
		}
		// the first line carries the capabilities after a NUL
		if i := strings.IndexByte(line, 0); i >= 0 {
			line = line[:i]
		}

		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return nil, xerrors.Errorf("invalid ref line %q: %w", line, ErrInvalidResponse)
		}
		oid, err := ginternals.NewOidFromStr(parts[0])
		if err != nil {
			return nil, xerrors.Errorf("invalid oid in %q: %w", line, ErrInvalidResponse)
		}
		ads = append(ads, RefAd{Name: parts[1], ID: oid})
	}
}
