//go:build !linux

package reactor

import "github.com/sirupsen/logrus"

// Reactor is unavailable on this platform. New always fails, the method set
// exists so that callers compile everywhere.
type Reactor struct{}

func New(l *logrus.Logger) (*Reactor, error) {
	return nil, ErrUnsupported
}

func (r *Reactor) Register(fd int, cb Callback) error {
	return ErrUnsupported
}

func (r *Reactor) Deregister(fd int) error {
	return ErrUnsupported
}

func (r *Reactor) Run() error {
	return ErrUnsupported
}

func (r *Reactor) Shutdown() {}

func (r *Reactor) Close() error {
	return nil
}
