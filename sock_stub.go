//go:build !linux

package rtlink

import "errors"

// The data path is Linux only. NewServer fails before any of these run, the
// stubs exist so the package compiles everywhere.

var errWouldBlock = errors.New("operation would block")

func listenTCP(port int) (int, int, error) {
	return -1, 0, ErrUnsupportedPlatform
}

func acceptConn(lfd int) (int, string, error) {
	return -1, "", ErrUnsupportedPlatform
}

func tuneSocket(fd int) {}

func readFd(fd int, b []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func writeFd(fd int, b []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func closeConn(fd int)     {}
func closeListener(fd int) {}
