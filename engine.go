package rtlink

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/torqlabs/rtlink/reactor"
)

type EngineState int

const (
	EngineNotStarted EngineState = iota
	EngineRunning
	EngineStopped

	// EngineCrashed means the run loop exited with an error nobody asked
	// for. Servers sharing the engine get no completions until Stop and a
	// fresh Start.
	EngineCrashed
)

func (s EngineState) String() string {
	switch s {
	case EngineNotStarted:
		return "not started"
	case EngineRunning:
		return "running"
	case EngineStopped:
		return "stopped"
	case EngineCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Engine owns the reactor and the one OS thread that drives it. Every Server
// in the process should share a single Engine, completions for all of them
// are multiplexed onto its thread. The thread is elevated to SCHED_FIFO at
// the maximum priority, best effort.
type Engine struct {
	l *logrus.Logger

	mu    sync.Mutex
	r     *reactor.Reactor
	done  chan struct{}
	state EngineState
}

func NewEngine(l *logrus.Logger) *Engine {
	return &Engine{l: l}
}

// Start brings the engine up. Calling Start on a running engine is a no-op.
// After Stop, or after a crash, Start builds a fresh reactor and thread.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == EngineRunning {
		return nil
	}

	if e.r != nil {
		// A crashed run loop leaves the reactor behind, release it before
		// building the replacement.
		_ = e.r.Close()
		e.r = nil
	}

	r, err := reactor.New(e.l)
	if err != nil {
		return fmt.Errorf("unable to create reactor: %w", err)
	}

	e.r = r
	e.done = make(chan struct{})
	e.state = EngineRunning
	go e.run(r, e.done)

	e.l.Info("Engine started")
	return nil
}

func (e *Engine) run(r *reactor.Reactor, done chan struct{}) {
	defer close(done)

	// The reactor thread competes with the control loop of whatever system
	// embeds us, pin it and move it to the real-time scheduling class.
	runtime.LockOSThread()
	if err := setRealtimePriority(); err != nil {
		e.l.WithError(err).Warn("Failed to apply real-time scheduling to engine thread")
	}

	err := r.Run()

	e.mu.Lock()
	if err != nil && e.state == EngineRunning {
		e.state = EngineCrashed
		e.l.WithError(err).Error("Engine thread exited unexpectedly")
	}
	e.mu.Unlock()
}

// Stop shuts the reactor down, waits for the thread to exit and releases the
// reactor so a later Start can rebuild it. Pending socket operations are not
// cancelled, they stay pending until their Server is closed. Safe to call in
// any state.
func (e *Engine) Stop() error {
	e.mu.Lock()
	r, done := e.r, e.done
	e.mu.Unlock()

	if r == nil {
		return nil
	}

	r.Shutdown()
	<-done

	e.mu.Lock()
	var err error
	if e.r == r {
		// Lost a race with a concurrent Stop or Start otherwise, the
		// reactor is no longer ours to release.
		err = r.Close()
		e.r = nil
		e.done = nil
		e.state = EngineStopped
		e.l.Info("Engine stopped")
	}
	e.mu.Unlock()

	return err
}

func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// reactorHandle returns the live reactor, or nil when the engine was never
// started. Servers bind to it at construction.
func (e *Engine) reactorHandle() *reactor.Reactor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.r
}
