package rtlink

import "errors"

var (
	// ErrEngineNotStarted is returned by NewServer when the engine's reactor
	// does not exist yet, servers can only be built against a started engine.
	ErrEngineNotStarted = errors.New("engine has not been started")

	// ErrNoConnection is returned by Write when no client occupies the
	// connection slot.
	ErrNoConnection = errors.New("no client connected")

	// ErrServerClosed is returned by operations on a closed server.
	ErrServerClosed = errors.New("server is closed")

	// ErrUnsupportedPlatform is returned by constructors on platforms
	// without the required socket facilities.
	ErrUnsupportedPlatform = errors.New("not supported on this platform")
)
