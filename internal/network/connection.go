// Package network implements the TCP listeners and connection handling
// for the FESL and GameSpy endpoints of the emulator.
package network

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Conn wraps a TCP connection from a game client or game server.
// Writes are serialized through a mutex; reads are owned by the single
// session goroutine driving the connection, so they are unguarded.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity time.Time
	idleTimeout  time.Duration

	closed bool
}

// NewConn wraps an existing net.Conn.
func NewConn(conn net.Conn) *Conn {
	now := time.Now()
	return &Conn{
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
		logger:       log.With().Str("component", "connection").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
}

// Read implements io.Reader, refreshing the idle deadline and activity
// timestamp around the underlying read. The protocol readers
// (fesl.ReadMessage, gamespy.Splitter) sit directly on top of this.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	timeout := c.idleTimeout
	c.mu.Unlock()

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	n, err := c.conn.Read(p)
	if n > 0 {
		c.touch()
	}
	return n, err
}

// Write writes all of p to the connection.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	n, err := c.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write to %s: %w", c.conn.RemoteAddr(), err)
	}
	c.lastActivity = time.Now()
	return n, nil
}

// SetIdleTimeout sets how long a read may sit idle before timing out.
func (c *Conn) SetIdleTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleTimeout = d
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read/write activity.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
