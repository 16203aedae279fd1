//go:build linux

package rtlink

import (
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torqlabs/rtlink/reactor"
	"github.com/torqlabs/rtlink/test"
	"golang.org/x/sys/unix"
)

// crashEngine forces the run loop into an error return: a pipe callback
// closes the reactor's fds on the run goroutine itself, so the next wait
// fails. Returns the reactor that crashed.
func crashEngine(t *testing.T, e *Engine) *reactor.Reactor {
	t.Helper()

	r := e.reactorHandle()
	require.NotNil(t, r)

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})

	require.NoError(t, r.Register(p[0], func(reactor.Events) {
		var b [16]byte
		_, _ = unix.Read(p[0], b[:])
		_ = r.Close()
	}))

	_, err := unix.Write(p[1], []byte("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return e.State() == EngineCrashed
	}, 2*time.Second, 10*time.Millisecond)

	return r
}

func TestEngineCrashThenStop(t *testing.T) {
	e := NewEngine(test.NewLogger())
	require.NoError(t, e.Start())

	crashEngine(t, e)

	// Stop from a crash still runs the full cleanup. Its own Close of the
	// already-released fds fails, the state machine must not care.
	_ = e.Stop()
	assert.Equal(t, EngineStopped, e.State())
	assert.Nil(t, e.reactorHandle())

	require.NoError(t, e.Start())
	assert.Equal(t, EngineRunning, e.State())
	require.NoError(t, e.Stop())
}

func TestEngineStartAfterCrash(t *testing.T) {
	e := NewEngine(test.NewLogger())
	require.NoError(t, e.Start())

	r := crashEngine(t, e)

	// Start without an intervening Stop releases the crashed reactor and
	// builds a fresh one.
	require.NoError(t, e.Start())
	assert.Equal(t, EngineRunning, e.State())
	assert.NotSame(t, r, e.reactorHandle())

	require.NoError(t, e.Stop())
	assert.Equal(t, EngineStopped, e.State())
}

func TestEngineConcurrentStopLogsOnce(t *testing.T) {
	l := test.NewLogger()
	hook := logtest.NewLocal(l)

	e := NewEngine(l)
	require.NoError(t, e.Start())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Stop()
		}()
	}
	wg.Wait()

	// Only the Stop that actually released the reactor reports it.
	n := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Engine stopped" {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, EngineStopped, e.State())
	assert.Nil(t, e.reactorHandle())
}
