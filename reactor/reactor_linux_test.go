//go:build linux

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torqlabs/rtlink/test"
	"golang.org/x/sys/unix"
)

func newRunningReactor(t *testing.T) *Reactor {
	t.Helper()

	r, err := New(test.NewLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	t.Cleanup(func() {
		r.Shutdown()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("reactor did not stop")
		}
		assert.NoError(t, r.Close())
	})

	return r
}

func testPipe(t *testing.T) (int, int) {
	t.Helper()

	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func TestReactorDispatchesReadable(t *testing.T) {
	r := newRunningReactor(t)
	rd, wr := testPipe(t)

	fired := make(chan Events, 1)
	require.NoError(t, r.Register(rd, func(ev Events) {
		var b [16]byte
		_, _ = unix.Read(rd, b[:])
		select {
		case fired <- ev:
		default:
		}
	}))

	_, err := unix.Write(wr, []byte("x"))
	require.NoError(t, err)

	select {
	case ev := <-fired:
		assert.NotZero(t, ev&Readable)
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
	}
}

func TestReactorDeregisterStopsDelivery(t *testing.T) {
	r := newRunningReactor(t)
	rd, wr := testPipe(t)

	fired := make(chan Events, 1)
	require.NoError(t, r.Register(rd, func(ev Events) {
		var b [16]byte
		_, _ = unix.Read(rd, b[:])
		select {
		case fired <- ev:
		default:
		}
	}))
	require.NoError(t, r.Deregister(rd))

	_, err := unix.Write(wr, []byte("x"))
	require.NoError(t, err)

	select {
	case <-fired:
		t.Fatal("callback fired after deregister")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReactorReportsPeerClose(t *testing.T) {
	r := newRunningReactor(t)
	rd, wr := testPipe(t)

	fired := make(chan Events, 8)
	require.NoError(t, r.Register(rd, func(ev Events) {
		var b [16]byte
		_, _ = unix.Read(rd, b[:])
		fired <- ev
	}))

	require.NoError(t, unix.Close(wr))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-fired:
			if ev&Closed != 0 {
				return
			}
		case <-deadline:
			t.Fatal("never saw the Closed event")
		}
	}
}

func TestReactorRunReturnsWaitError(t *testing.T) {
	r, err := New(test.NewLogger())
	require.NoError(t, err)

	// Yank the epoll fd so the first wait fails.
	require.NoError(t, unix.Close(r.epfd))

	err = r.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EBADF)

	assert.NoError(t, unix.Close(r.wakeFd))
}

func TestReactorShutdownIsIdempotent(t *testing.T) {
	r, err := New(test.NewLogger())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	r.Shutdown()
	r.Shutdown()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	assert.NoError(t, r.Close())
}
