// Package reactor provides the event demultiplexer that drives all
// asynchronous socket completions for rtlink. A single goroutine calls Run
// and every registered callback is invoked on that goroutine, so callbacks
// for one Reactor are never concurrent with each other.
package reactor

import "errors"

// Events is a bitmask describing why a callback fired.
type Events uint32

const (
	// Readable means the fd has data (or a pending connection) to consume.
	Readable Events = 1 << iota

	// Closed means the peer shut down its side or the fd is in an error
	// state. A read on the fd will surface the exact reason.
	Closed
)

// Callback handles readiness for one registered fd. It runs on the Reactor's
// run goroutine and must not block for long, every fd sharing the Reactor
// stalls while it runs.
type Callback func(ev Events)

// ErrUnsupported is returned by New on platforms without an epoll style
// demultiplexer.
var ErrUnsupported = errors.New("reactor: not supported on this platform")
