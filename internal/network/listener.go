package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFunc consumes one accepted connection. It owns the connection
// for its lifetime; the listener closes it once the handler returns.
type HandlerFunc func(ctx context.Context, conn *Conn)

// Listener runs a TCP accept loop for one of the backend endpoints and
// hands each accepted connection to a protocol session handler.
type Listener struct {
	name        string
	addr        string
	idleTimeout time.Duration
	handler     HandlerFunc
	registry    *Registry
	logger      zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewListener creates a listener for addr. The name tags log output,
// typically "fesl" or "gamespy".
func NewListener(name, addr string, idleTimeout time.Duration, registry *Registry, handler HandlerFunc) *Listener {
	return &Listener{
		name:        name,
		addr:        addr,
		idleTimeout: idleTimeout,
		handler:     handler,
		registry:    registry,
		logger:      log.With().Str("component", "listener").Str("endpoint", name).Logger(),
	}
}

// Start binds the listen address and runs the accept loop until the
// context is cancelled or the listener is stopped.
func (l *Listener) Start(ctx context.Context) error {
	lc := ReuseAddrListenConfig()

	listener, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}

	l.mu.Lock()
	l.listener = listener
	l.mu.Unlock()

	l.logger.Info().Str("addr", l.addr).Msg("listener started")

	go func() {
		<-ctx.Done()
		l.Stop()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				l.wg.Wait()
				return nil
			}
			l.logger.Error().Err(err).Msg("accept failed")
			continue
		}

		l.wg.Add(1)
		go l.serve(ctx, conn)
	}
}

func (l *Listener) serve(ctx context.Context, raw net.Conn) {
	defer l.wg.Done()

	conn := NewConn(raw)
	if l.idleTimeout > 0 {
		conn.SetIdleTimeout(l.idleTimeout)
	}

	l.registry.Register(conn)
	defer func() {
		l.registry.Unregister(conn)
		conn.Close()
	}()

	l.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")
	l.handler(ctx, conn)
	l.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("client disconnected")
}

// Stop closes the listen socket. In-flight sessions are not
// interrupted; Start returns once they finish.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		l.listener.Close()
		l.listener = nil
		l.logger.Info().Msg("listener stopped")
	}
}

// Addr returns the bound address, or the configured address if the
// listener has not started.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return l.addr
}
