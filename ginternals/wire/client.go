package wire

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/packfile"
	"github.com/vcslab/git-go/ginternals/pktline"
	"github.com/vcslab/git-go/ginternals/revwalk"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// DefaultTimeout is how long a client waits on the network before
// giving up
const DefaultTimeout = 30 * time.Second

// Client talks to a remote over an established connection
type Client struct {
	conn    net.Conn
	host    string
	path    string
	timeout time.Duration
	log     *logrus.Logger
}

// NewClient returns a client for the repository at the given path on
// the other side of conn
func NewClient(conn net.Conn, host, path string, log *logrus.Logger) *Client {
	return &Client{
		conn:    conn,
		host:    host,
		path:    path,
		timeout: DefaultTimeout,
		log:     log,
	}
}

// SetTimeout changes the deadline applied to every network exchange
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// wrapNetErr converts deadline errors into ErrTimeout
func wrapNetErr(err error) error {
	var netErr net.Error
	if xerrors.As(err, &netErr) && netErr.Timeout() {
		return xerrors.Errorf("%s: %w", err.Error(), ErrTimeout)
	}
	return err
}

// refreshDeadline pushes the connection deadline forward.
// Exceeding it aborts the transfer with ErrTimeout
func (c *Client) refreshDeadline() error {
	return c.conn.SetDeadline(time.Now().Add(c.timeout))
}

// FetchResult is what a fetch brought back
type FetchResult struct {
	// RemoteRefs is everything the remote advertised
	RemoteRefs []RefAd
	// Received is the number of objects stored locally
	Received int
}

// Fetch negotiates with the remote and stores every missing object
// in the database.
// The remote refs are returned so the caller can update its tracking
// refs. No object is written if the transfer fails halfway
func (c *Client) Fetch(b backend.Backend) (res *FetchResult, err error) {
	if err := c.refreshDeadline(); err != nil {
		return nil, err
	}
	if err := WriteRequest(c.conn, UploadPackService, c.path, c.host); err != nil {
		return nil, wrapNetErr(err)
	}

	ads, err := readAdvertisedRefs(c.conn)
	if err != nil {
		return nil, wrapNetErr(err)
	}
	res = &FetchResult{
		RemoteRefs: ads,
	}

	remoteTips := map[string]ginternals.Oid{}
	for _, ad := range ads {
		remoteTips[ad.Name] = ad.ID
	}

	// our local tips are the haves we'll report
	localTips := []ginternals.Oid{}
	err = b.WalkReferences(func(ref *ginternals.Reference) error {
		if !ref.Target().IsZero() {
			localTips = append(localTips, ref.Target())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	wants, haves, err := revwalk.FetchPlan(b, remoteTips, localTips)
	if err != nil {
		return nil, err
	}
	if len(wants) == 0 {
		// nothing to ask; hang up instead of negotiating
		c.log.Debug("already up to date")
		return res, nil
	}

	if err := c.refreshDeadline(); err != nil {
		return nil, err
	}
	for _, oid := range wants {
		if err := pktline.Writef(c.conn, "want %s\n", oid.String()); err != nil {
			return nil, wrapNetErr(err)
		}
	}
	if err := pktline.WriteFlush(c.conn); err != nil {
		return nil, wrapNetErr(err)
	}
	for _, oid := range haves {
		if err := pktline.Writef(c.conn, "have %s\n", oid.String()); err != nil {
			return nil, wrapNetErr(err)
		}
	}
	if err := pktline.WriteString(c.conn, "done\n"); err != nil {
		return nil, wrapNetErr(err)
	}

	// the server answers with ACK/NAK lines then the pack
	if err := c.readAcks(); err != nil {
		return nil, err
	}

	if err := c.refreshDeadline(); err != nil {
		return nil, err
	}
	objects, err := packfile.NewParser(b.Object).Parse(c.conn)
	if err != nil {
		return nil, wrapNetErr(err)
	}
	for _, o := range objects {
		if _, err := b.WriteObject(o); err != nil {
			return nil, xerrors.Errorf("could not store %s: %w", o.ID().String(), err)
		}
	}
	res.Received = len(objects)
	c.log.WithField("objects", len(objects)).Debug("fetch done")
	return res, nil
}

// readAcks drains the ACK/NAK lines preceding the pack
func (c *Client) readAcks() error {
	for {
		line, flush, err := pktline.ReadString(c.conn)
		if err != nil {
			return wrapNetErr(err)
		}
		if flush || line == "" {
			continue
		}
		switch {
		case line == "NAK":
			return nil
		case len(line) > 3 && line[:3] == "ACK":
			return nil
		default:
			return xerrors.Errorf("expected ACK or NAK, got %q: %w", line, ErrInvalidResponse)
		}
	}
}

// PushResult is the per-ref outcome reported by the remote
type PushResult struct {
	// RefStatus maps every pushed ref to "ok" or the remote's
	// failure message
	RefStatus map[string]string
}

// Ok returns whether every ref was accepted
func (r *PushResult) Ok() bool {
	for _, status := range r.RefStatus {
		if status != "ok" {
			return false
		}
	}
	return true
}

// Push computes the objects the remote is missing, streams them, and
// asks the remote to update its refs.
// localTips maps the full ref names to push to their local targets.
// ErrNonFastForward is returned, before any ref update or object is
// sent, if a remote branch is not an ancestor of its local counterpart
func (c *Client) Push(b backend.Backend, localTips map[string]ginternals.Oid) (res *PushResult, err error) {
	if err := c.refreshDeadline(); err != nil {
		return nil, err
	}
	if err := WriteRequest(c.conn, ReceivePackService, c.path, c.host); err != nil {
		return nil, wrapNetErr(err)
	}

	ads, err := readAdvertisedRefs(c.conn)
	if err != nil {
		return nil, wrapNetErr(err)
	}
	remoteTips := map[string]ginternals.Oid{}
	for _, ad := range ads {
		if ad.Name == ginternals.Head {
			continue
		}
		remoteTips[ad.Name] = ad.ID
	}

	plan, err := revwalk.PushPlan(b, localTips, remoteTips)
	if err != nil {
		return nil, err
	}
	if plan.IsNoop() {
		c.log.Debug("everything up to date")
		return &PushResult{RefStatus: map[string]string{}}, nil
	}

	if err := c.refreshDeadline(); err != nil {
		return nil, err
	}
	for _, update := range plan.Updates {
		if err := pktline.Writef(c.conn, "%s %s %s\n", update.Old.String(), update.New.String(), update.Name); err != nil {
			return nil, wrapNetErr(err)
		}
	}
	if err := pktline.WriteFlush(c.conn); err != nil {
		return nil, wrapNetErr(err)
	}

	objects, err := objectsFromOids(b, plan.Objects)
	if err != nil {
		return nil, err
	}
	if _, err := packfile.Write(c.conn, objects); err != nil {
		return nil, wrapNetErr(err)
	}
	c.log.WithFields(logrus.Fields{
		"objects": len(objects),
		"refs":    len(plan.Updates),
	}).Debug("pack pushed")

	// report-status: "unpack ok" then one line per ref
	if err := c.refreshDeadline(); err != nil {
		return nil, err
	}
	res = &PushResult{
		RefStatus: map[string]string{},
	}
	unpack, _, err := pktline.ReadString(c.conn)
	if err != nil {
		return nil, wrapNetErr(err)
	}
	if unpack != "unpack ok" {
		return nil, xerrors.Errorf("remote could not unpack: %q: %w", unpack, ErrInvalidResponse)
	}
	for {
		line, flush, err := pktline.ReadString(c.conn)
		if err != nil {
			if xerrors.Is(err, io.EOF) {
				return res, nil
			}
			return nil, wrapNetErr(err)
		}
		if flush {
			return res, nil
		}
		switch {
		case strings.HasPrefix(line, "ok "):
			res.RefStatus[line[3:]] = "ok"
		case strings.HasPrefix(line, "ng "):
			name, status, found := strings.Cut(line[3:], " ")
			if !found {
				status = "rejected"
			}
			res.RefStatus[name] = status
		default:
			return nil, xerrors.Errorf("invalid status line %q: %w", line, ErrInvalidResponse)
		}
	}
}
