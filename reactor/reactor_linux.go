//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Reactor multiplexes fd readiness over one epoll instance. An eventfd is
// kept registered at all times so Run stays parked in epoll_wait even when
// no sockets are registered, and so Shutdown can interrupt it.
type Reactor struct {
	l        *logrus.Logger
	epfd     int
	wakeFd   int
	mu       sync.Mutex
	handlers map[int]Callback
	stopped  atomic.Bool
}

func New(l *logrus.Logger) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("create wake eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(wakeFd)
		return nil, fmt.Errorf("register wake eventfd: %w", err)
	}

	return &Reactor{
		l:        l,
		epfd:     epfd,
		wakeFd:   wakeFd,
		handlers: make(map[int]Callback),
	}, nil
}

// Register watches fd for readability and peer hangup, level triggered. cb
// stays armed until Deregister. Safe to call from any goroutine, including
// from inside another fd's callback.
func (r *Reactor) Register(fd int, cb Callback) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}

	r.mu.Lock()
	r.handlers[fd] = cb
	r.mu.Unlock()
	return nil
}

// Deregister stops watching fd. Readiness already harvested for fd is
// dropped at dispatch, the callback will not fire again after this returns
// on the run goroutine, or after the current dispatch batch otherwise.
func (r *Reactor) Deregister(fd int) error {
	r.mu.Lock()
	delete(r.handlers, fd)
	r.mu.Unlock()

	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll del fd %d: %w", fd, err)
	}
	return nil
}

// Run dispatches readiness callbacks until Shutdown is called or an epoll
// level failure occurs. Callbacks are invoked without the handler lock held.
func (r *Reactor) Run() error {
	events := make([]unix.EpollEvent, 64)

	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}

		if r.stopped.Load() {
			return nil
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakeFd {
				r.drainWake()
				continue
			}

			var ev Events
			if events[i].Events&unix.EPOLLIN != 0 {
				ev |= Readable
			}
			if events[i].Events&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				ev |= Closed
			}

			r.mu.Lock()
			cb := r.handlers[fd]
			r.mu.Unlock()
			if cb == nil {
				// Deregistered after this batch was harvested.
				continue
			}
			cb(ev)
		}
	}
}

// Shutdown makes Run return nil. Idempotent and safe from any goroutine.
// Registered fds are left untouched.
func (r *Reactor) Shutdown() {
	if r.stopped.Swap(true) {
		return
	}

	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(r.wakeFd, b[:]); err != nil {
		r.l.WithError(err).Error("Failed to wake reactor for shutdown")
	}
}

// Close releases the epoll and wake fds. Only call after Run has returned.
func (r *Reactor) Close() error {
	err := unix.Close(r.epfd)
	if cerr := unix.Close(r.wakeFd); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (r *Reactor) drainWake() {
	var b [8]byte
	for {
		if _, err := unix.Read(r.wakeFd, b[:]); err != nil {
			return
		}
	}
}
