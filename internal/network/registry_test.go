package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConn(t *testing.T) *Conn {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewConn(server)
}

func TestRegistryRegisterUnregister(t *testing.T) {
	reg := NewRegistry()
	conn := pipeConn(t)

	reg.Register(conn)
	assert.Equal(t, 1, reg.Count())

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Contains(t, snapshot, conn.RemoteAddr().String())

	reg.Unregister(conn)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistryReplaceClosesPrevious(t *testing.T) {
	reg := NewRegistry()

	// net.Pipe addresses collide, so a second registration replaces
	// the first and closes it.
	first := pipeConn(t)
	second := pipeConn(t)

	reg.Register(first)
	reg.Register(second)

	assert.Equal(t, 1, reg.Count())
	assert.True(t, first.IsClosed())
	assert.False(t, second.IsClosed())
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry()
	conn := pipeConn(t)
	reg.Register(conn)

	reg.CloseAll()
	assert.Equal(t, 0, reg.Count())
	assert.True(t, conn.IsClosed())
}

func TestRegistrySweepStale(t *testing.T) {
	reg := NewRegistry()
	conn := pipeConn(t)
	reg.Register(conn)

	// Fresh connection survives.
	assert.Equal(t, 0, reg.SweepStale(time.Hour))
	assert.Equal(t, 1, reg.Count())

	// Zero timeout makes everything stale.
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, reg.SweepStale(0))
	assert.Equal(t, 0, reg.Count())
	assert.True(t, conn.IsClosed())
}
