package rtlink

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torqlabs/rtlink/test"
)

func requireLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("requires linux")
	}
}

func TestEngineStartIdempotent(t *testing.T) {
	requireLinux(t)
	e := NewEngine(test.NewLogger())

	require.NoError(t, e.Start())
	r1 := e.reactorHandle()
	require.NotNil(t, r1)
	assert.Equal(t, EngineRunning, e.State())

	// A second Start must not spin up a second reactor or thread.
	require.NoError(t, e.Start())
	assert.Same(t, r1, e.reactorHandle())
	assert.Equal(t, EngineRunning, e.State())

	require.NoError(t, e.Stop())
	assert.Equal(t, EngineStopped, e.State())
	assert.Nil(t, e.reactorHandle())
}

func TestEngineStopWithoutStart(t *testing.T) {
	e := NewEngine(test.NewLogger())
	require.NoError(t, e.Stop())
	assert.Equal(t, EngineNotStarted, e.State())
}

func TestEngineRestart(t *testing.T) {
	requireLinux(t)
	e := NewEngine(test.NewLogger())

	require.NoError(t, e.Start())
	require.NoError(t, e.Stop())

	// Stop releases the reactor, Start rebuilds it.
	require.NoError(t, e.Start())
	assert.Equal(t, EngineRunning, e.State())
	assert.NotNil(t, e.reactorHandle())
	require.NoError(t, e.Stop())
}

func TestEngineStopIdempotent(t *testing.T) {
	requireLinux(t)
	e := NewEngine(test.NewLogger())

	require.NoError(t, e.Start())
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
	assert.Equal(t, EngineStopped, e.State())
}

func TestEngineStateString(t *testing.T) {
	assert.Equal(t, "not started", EngineNotStarted.String())
	assert.Equal(t, "running", EngineRunning.String())
	assert.Equal(t, "stopped", EngineStopped.String())
	assert.Equal(t, "crashed", EngineCrashed.String())
}
