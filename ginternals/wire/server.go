package wire

import (
	"net"
	"sync"
	"time"

	"github.com/vcslab/git-go/backend"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// OpenRepoFunc resolves the path of a request line to the backend of
// a repository.
// Returning an error refuses the request
type OpenRepoFunc func(path string) (backend.Backend, error)

// Server accepts git connections over TCP and serves upload-pack and
// receive-pack, one goroutine per connection
type Server struct {
	open    OpenRepoFunc
	log     *logrus.Logger
	timeout time.Duration

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer returns a server resolving repositories with the given
// opener
func NewServer(open OpenRepoFunc, log *logrus.Logger) *Server {
	return &Server{
		open:    open,
		log:     log,
		timeout: DefaultTimeout,
	}
}

// ListenAndServe listens on the given address and serves connections
// until Close is called
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Errorf("could not listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections from the given listener until Close is
// called
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.log.WithField("addr", ln.Addr().String()).Info("serving")
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Accept fails once the listener is closed
			s.wg.Wait()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Addr returns the address the server is listening on
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting connections. It does not wait for the
// in-flight ones; Serve returns once they are done
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	return ln.Close()
}

// serveConn handles a single connection
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close() //nolint:errcheck // nothing we can do about it

	log := s.log.WithField("peer", conn.RemoteAddr().String())

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		log.WithError(err).Error("could not set the deadline")
		return
	}

	req, err := ReadRequest(conn)
	if err != nil {
		log.WithError(err).Warn("invalid request")
		return
	}
	log = log.WithFields(logrus.Fields{
		"service": req.Service,
		"path":    req.Path,
	})

	b, err := s.open(req.Path)
	if err != nil {
		log.WithError(err).Warn("could not open the repository")
		return
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.WithError(err).Error("could not close the repository")
		}
	}()

	switch req.Service {
	case UploadPackService:
		err = UploadPack(conn, b, s.log)
	case ReceivePackService:
		err = ReceivePack(conn, b, s.log)
	}
	if err != nil {
		log.WithError(err).Warn("request failed")
		return
	}
	log.Debug("request served")
}
