package rtlink

import (
	"fmt"
	"io"
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/torqlabs/rtlink/reactor"
)

// ReceiveFunc handles one chunk of inbound bytes. It runs on the engine
// thread and the slice is only valid for the duration of the call, the
// underlying buffer is reused for the next read. Copy it if it must outlive
// the callback. Blocking here stalls every socket sharing the engine.
type ReceiveFunc func(b []byte)

// conn is the connection slot occupant. fd is guarded by the owning
// Server's mutex and set to -1 once torn down.
type conn struct {
	fd     int
	remote string
}

// Server is a single client TCP endpoint. It accepts at most one live
// connection at a time: a newly accepted peer evicts and closes the previous
// one. Inbound bytes stream to the registered ReceiveFunc on the engine
// thread, outbound writes go through Write from any goroutine.
type Server struct {
	l    *logrus.Logger
	r    *reactor.Reactor
	port int

	mu        sync.Mutex
	lfd       int
	listening bool
	closed    bool
	current   *conn
	recv      ReceiveFunc
	readBuf   []byte

	accepts    metrics.Counter
	replaced   metrics.Counter
	readErrors metrics.Counter
	rxBytes    metrics.Counter
	txBytes    metrics.Counter
}

// NewServer binds a listener on all interfaces at port. The engine must
// already be started, construction fails with ErrEngineNotStarted otherwise.
// recvBufferSize caps how many bytes a single callback delivery can carry.
// Port 0 binds an ephemeral port, see Port.
func NewServer(e *Engine, port int, recvBufferSize int, l *logrus.Logger) (*Server, error) {
	r := e.reactorHandle()
	if r == nil {
		return nil, ErrEngineNotStarted
	}

	if recvBufferSize <= 0 {
		return nil, fmt.Errorf("receive buffer size must be positive, got %d", recvBufferSize)
	}

	lfd, bound, err := listenTCP(port)
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}

	return &Server{
		l:          l,
		r:          r,
		port:       bound,
		lfd:        lfd,
		readBuf:    make([]byte, recvBufferSize),
		accepts:    metrics.GetOrRegisterCounter("tcp.accepts", nil),
		replaced:   metrics.GetOrRegisterCounter("tcp.replaced", nil),
		readErrors: metrics.GetOrRegisterCounter("tcp.read_errors", nil),
		rxBytes:    metrics.GetOrRegisterCounter("tcp.rx.bytes", nil),
		txBytes:    metrics.GetOrRegisterCounter("tcp.tx.bytes", nil),
	}, nil
}

// Port reports the bound listening port. Useful when the server was
// constructed with port 0.
func (s *Server) Port() int {
	return s.port
}

// SetReceiveCallback registers the handler for inbound bytes. Set it before
// StartListen, swapping it while a connection is live races the read path.
func (s *Server) SetReceiveCallback(fn ReceiveFunc) {
	s.mu.Lock()
	s.recv = fn
	s.mu.Unlock()
}

// StartListen arms the perpetual accept. From here on the server accepts and
// replaces connections until Close.
func (s *Server) StartListen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.listening {
		return nil
	}

	if err := s.r.Register(s.lfd, s.onAcceptReady); err != nil {
		return fmt.Errorf("arm accept: %w", err)
	}
	s.listening = true

	s.l.WithField("port", s.port).Info("Listening for client")
	return nil
}

// onAcceptReady drains the accept backlog. Runs on the engine thread.
func (s *Server) onAcceptReady(reactor.Events) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}

		fd, remote, err := acceptConn(s.lfd)
		if err != nil {
			if err != errWouldBlock {
				// An accept failure also takes the current client down, a
				// half configured endpoint is worse than an empty one.
				if s.current != nil {
					s.l.WithFields(logrus.Fields{"port": s.port, "client": s.current.remote}).
						WithError(err).Error("Accept failed, closing current client")
					s.teardownLocked(s.current)
				} else {
					s.l.WithField("port", s.port).WithError(err).Error("Accept failed")
				}
			}
			// The listener registration stays armed either way.
			s.mu.Unlock()
			return
		}

		if s.current != nil {
			s.replaced.Inc(1)
			s.l.WithFields(logrus.Fields{
				"port":     s.port,
				"client":   remote,
				"previous": s.current.remote,
			}).Info("New connection, closing previous client")
			s.teardownLocked(s.current)
		}

		tuneSocket(fd)
		c := &conn{fd: fd, remote: remote}
		s.current = c
		s.accepts.Inc(1)
		s.l.WithFields(logrus.Fields{"port": s.port, "client": remote}).Info("Accepted client")

		if err := s.r.Register(fd, func(ev reactor.Events) { s.onConnReady(c, ev) }); err != nil {
			s.l.WithFields(logrus.Fields{"port": s.port, "client": remote}).
				WithError(err).Error("Failed to start read loop, closing client")
			s.teardownLocked(c)
		}
		s.mu.Unlock()
	}
}

// onConnReady handles readiness for one accepted socket. Runs on the engine
// thread, so deliveries for a given connection are strictly sequential.
func (s *Server) onConnReady(c *conn, ev reactor.Events) {
	s.mu.Lock()
	if s.closed || c.fd < 0 {
		s.mu.Unlock()
		return
	}

	n, err := readFd(c.fd, s.readBuf)
	if err == errWouldBlock {
		s.mu.Unlock()
		return
	}
	if err != nil {
		// Covers io.EOF for a peer initiated close. The read loop for this
		// socket ends here, it is never re-armed.
		if err != io.EOF {
			s.readErrors.Inc(1)
		}
		s.l.WithFields(logrus.Fields{"port": s.port, "client": c.remote}).
			WithField("reason", err.Error()).Info("Client connection closed")
		s.teardownLocked(c)
		s.mu.Unlock()
		return
	}

	s.rxBytes.Inc(int64(n))
	cb := s.recv
	s.mu.Unlock()

	// Deliver outside the lock so the callback may call Write or
	// IsConnected without deadlocking.
	if cb != nil {
		cb(s.readBuf[:n])
	}
}

// Write sends b to the current client, blocking the caller until all bytes
// are written or the write fails. Safe from any goroutine. Returns
// ErrNoConnection when the slot is empty.
func (s *Server) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrServerClosed
	}
	if s.current == nil || s.current.fd < 0 {
		return 0, ErrNoConnection
	}

	n, err := writeFd(s.current.fd, b)
	if n > 0 {
		s.txBytes.Inc(int64(n))
	}
	if err != nil {
		return n, fmt.Errorf("write to %s: %w", s.current.remote, err)
	}
	return n, nil
}

// IsConnected reports whether a live client currently occupies the slot.
func (s *Server) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.current != nil && s.current.fd >= 0
}

// Close tears the endpoint down: the listener and any live connection are
// closed and no further completions are observed. Idempotent. This is the
// only way to stop accepting.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.listening {
		_ = s.r.Deregister(s.lfd)
		s.listening = false
	}
	if s.lfd >= 0 {
		closeListener(s.lfd)
		s.lfd = -1
	}
	if s.current != nil {
		s.teardownLocked(s.current)
	}

	s.l.WithField("port", s.port).Info("Server closed")
	return nil
}

// teardownLocked closes one connection and clears the slot if c still
// occupies it. Callers hold s.mu. Secondary errors are ignored.
func (s *Server) teardownLocked(c *conn) {
	if c.fd >= 0 {
		_ = s.r.Deregister(c.fd)
		closeConn(c.fd)
		c.fd = -1
	}
	if s.current == c {
		s.current = nil
	}
}
