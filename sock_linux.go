//go:build linux

package rtlink

import (
	"fmt"
	"io"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// errWouldBlock marks a nonblocking accept or read that found nothing to do.
// Level triggered registration keeps the operation armed, so callers just
// return and wait for the next readiness event.
var errWouldBlock error = unix.EAGAIN

// listenTCP opens a nonblocking IPv4 listener on all interfaces. The backlog
// is a single pending connection, new peers replace the current one rather
// than queue behind it. Returns the fd and the bound port (resolved when
// port is 0).
func listenTCP(port int) (int, int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, 0, fmt.Errorf("unable to open socket: %w", err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("unable to set SO_REUSEADDR: %w", err)
	}

	if err = unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("unable to bind to socket: %w", err)
	}

	if err = unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, 0, fmt.Errorf("unable to listen: %w", err)
	}

	bound := port
	if port == 0 {
		sa, gerr := unix.Getsockname(fd)
		if gerr != nil {
			unix.Close(fd)
			return -1, 0, fmt.Errorf("unable to read bound port: %w", gerr)
		}
		if sa4, ok := sa.(*unix.SockaddrInet4); ok {
			bound = sa4.Port
		}
	}

	return fd, bound, nil
}

// acceptConn accepts one pending connection, nonblocking. Returns
// errWouldBlock when the backlog is empty.
func acceptConn(lfd int) (int, string, error) {
	for {
		fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return -1, "", errWouldBlock
			}
			return -1, "", err
		}
		return fd, sockaddrString(sa), nil
	}
}

// tuneSocket applies the low latency options to an accepted socket. These
// are optimizations, not correctness requirements, so failures are ignored.
func tuneSocket(fd int) {
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, 6)
}

// readFd reads once from a nonblocking socket. A clean remote close is
// reported as io.EOF, an empty receive queue as errWouldBlock.
func readFd(fd int, b []byte) (int, error) {
	for {
		n, err := unix.Read(fd, b)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return 0, errWouldBlock
			}
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// writeFd writes all of b, blocking the calling goroutine in poll(2) when
// the socket's send buffer fills up.
func writeFd(fd int, b []byte) (int, error) {
	var total int
	for total < len(b) {
		n, err := unix.Write(fd, b[total:])
		if n > 0 {
			total += n
		}
		if err == nil {
			continue
		}

		switch err {
		case unix.EINTR:
		case unix.EAGAIN:
			pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			if _, perr := unix.Poll(pfd, -1); perr != nil && perr != unix.EINTR {
				return total, fmt.Errorf("wait for writable: %w", perr)
			}
		default:
			return total, err
		}
	}
	return total, nil
}

// closeConn tears a connected socket down: both directions shut, then
// closed. Secondary errors are ignored, teardown is best effort.
func closeConn(fd int) {
	_ = unix.Shutdown(fd, unix.SHUT_RDWR)
	_ = unix.Close(fd)
}

func closeListener(fd int) {
	_ = unix.Close(fd)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	default:
		return "unknown"
	}
}
