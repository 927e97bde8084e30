package network

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry tracks active connections per endpoint so the API and CLI
// can report who is connected, and so stale connections can be swept.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn // remote addr -> connection
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
	}
}

// Register adds a connection, closing any previous connection from the
// same remote address.
func (r *Registry) Register(conn *Conn) {
	addr := conn.RemoteAddr().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.conns[addr]; ok {
		existing.Close()
	}
	r.conns[addr] = conn
	log.Debug().Str("remote", addr).Msg("connection registered")
}

// Unregister removes a connection.
func (r *Registry) Unregister(conn *Conn) {
	addr := conn.RemoteAddr().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conns[addr] == conn {
		delete(r.conns, addr)
		log.Debug().Str("remote", addr).Msg("connection unregistered")
	}
}

// Count returns the number of active connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the current connections keyed by remote address.
func (r *Registry) Snapshot() map[string]*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Conn, len(r.conns))
	for k, v := range r.conns {
		result[k] = v
	}
	return result
}

// CloseAll closes every registered connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for addr, conn := range r.conns {
		conn.Close()
		delete(r.conns, addr)
	}
	log.Info().Msg("all connections closed")
}

// SweepStale closes connections idle for longer than timeout and
// returns how many were closed.
func (r *Registry) SweepStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	swept := 0
	cutoff := time.Now().Add(-timeout)

	for addr, conn := range r.conns {
		if conn.LastActivity().Before(cutoff) {
			conn.Close()
			delete(r.conns, addr)
			swept++
			log.Warn().
				Str("remote", addr).
				Time("last_activity", conn.LastActivity()).
				Msg("swept stale connection")
		}
	}
	return swept
}
