// Package session implements the per-connection protocol handlers:
// decoded FESL messages and GameSpy packets get dispatched to replies,
// database rows and bus events.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/frostbay-project/frostbay/internal/db"
	"github.com/frostbay-project/frostbay/internal/events"
	"github.com/frostbay-project/frostbay/internal/network"
	"github.com/frostbay-project/frostbay/internal/protocol/fesl"
)

// FeslHandler serves login-endpoint sessions. Each connection gets its
// own read loop; replies mirror the request command and id with the
// single-server type.
type FeslHandler struct {
	backendName string
	theaterAddr string
	theaterPort int
	maxMessage  int
	store       *db.Store
	bus         *events.EventBus
	logger      zerolog.Logger
}

// NewFeslHandler creates a handler backed by store and bus. A
// maxMessage of zero keeps the protocol default cap.
func NewFeslHandler(backendName, theaterAddr string, theaterPort, maxMessage int, store *db.Store, bus *events.EventBus) *FeslHandler {
	return &FeslHandler{
		backendName: backendName,
		theaterAddr: theaterAddr,
		theaterPort: theaterPort,
		maxMessage:  maxMessage,
		store:       store,
		bus:         bus,
		logger:      log.With().Str("component", "fesl").Logger(),
	}
}

// Serve runs the session loop until the client disconnects, the
// context is cancelled, or the stream turns malformed.
func (h *FeslHandler) Serve(ctx context.Context, conn *network.Conn) {
	remote := conn.RemoteAddr().String()

	h.bus.Emit(ctx, events.Event{
		Type:    events.EventClientConnected,
		Source:  "fesl",
		Payload: events.ClientPayload{RemoteAddr: remote},
	})
	defer h.bus.Emit(ctx, events.Event{
		Type:    events.EventClientDisconnected,
		Source:  "fesl",
		Payload: events.ClientPayload{RemoteAddr: remote},
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := fesl.ReadMessageLimit(conn, h.maxMessage)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			h.logger.Warn().Err(err).Str("remote", remote).Msg("dropping session")
			return
		}

		if err := h.dispatch(ctx, conn, msg); err != nil {
			h.logger.Warn().Err(err).Str("remote", remote).Msg("dropping session")
			return
		}
	}
}

func (h *FeslHandler) dispatch(ctx context.Context, conn *network.Conn, msg *fesl.Message) error {
	cmd, err := msg.Command()
	if err != nil {
		return fmt.Errorf("bad command: %w", err)
	}
	if _, err := msg.Type(); err != nil {
		return err
	}

	pairs, err := collectFields(msg)
	if err != nil {
		return fmt.Errorf("bad %s body: %w", cmd, err)
	}
	txn := pairs["TXN"]

	h.logger.Debug().
		Str("remote", conn.RemoteAddr().String()).
		Str("cmd", cmd).
		Str("txn", txn).
		Uint32("id", msg.ID()).
		Msg("request")

	switch cmd {
	case "fsys":
		return h.handleSystem(conn, msg.ID(), txn)
	case "acct":
		return h.handleAccount(ctx, conn, msg.ID(), txn, pairs)
	default:
		return h.replyError(conn, cmd, msg.ID(), txn, 101, "unknown command")
	}
}

func (h *FeslHandler) handleSystem(conn *network.Conn, id uint32, txn string) error {
	switch txn {
	case "Hello":
		b, err := fesl.NewBuilder("fsys", fesl.TypeSingleServer, id)
		if err != nil {
			return err
		}
		return h.send(conn, b.
			Add("TXN", "Hello").
			Add("domainPartition.domain", "eagames").
			Add("domainPartition.subDomain", h.backendName).
			Add("activityTimeoutSecs", "240").
			Add("theaterIp", h.theaterAddr).
			Add("theaterPort", strconv.Itoa(h.theaterPort)).
			Add("curTime", time.Now().UTC().Format("Jan-02-2006 15:04:05 MST")).
			Build())
	case "MemCheck":
		b, err := fesl.NewBuilder("fsys", fesl.TypeSingleServer, id)
		if err != nil {
			return err
		}
		return h.send(conn, b.
			Add("TXN", "MemCheck").
			Add("memcheck.[]", "0").
			Add("salt", "5").
			Build())
	case "Ping":
		b, err := fesl.NewBuilder("fsys", fesl.TypeSingleServer, id)
		if err != nil {
			return err
		}
		return h.send(conn, b.Add("TXN", "Ping").Build())
	default:
		return h.replyError(conn, "fsys", id, txn, 102, "unknown transaction")
	}
}

func (h *FeslHandler) handleAccount(ctx context.Context, conn *network.Conn, id uint32, txn string, pairs map[string]string) error {
	switch txn {
	case "NuLogin", "Login":
		name := pairs["nuid"]
		if name == "" {
			name = pairs["name"]
		}
		if name == "" {
			return h.replyError(conn, "acct", id, txn, 122, "missing account name")
		}

		if err := h.store.RecordLogin(name, h.backendName); err != nil {
			h.logger.Error().Err(err).Str("account", name).Msg("failed to record login")
		}
		h.bus.Emit(ctx, events.Event{
			Type:   events.EventClientLogin,
			Source: "fesl",
			Payload: events.ClientPayload{
				RemoteAddr: conn.RemoteAddr().String(),
				Account:    name,
				Game:       h.backendName,
			},
		})

		b, err := fesl.NewBuilder("acct", fesl.TypeSingleServer, id)
		if err != nil {
			return err
		}
		return h.send(conn, b.
			Add("TXN", txn).
			Add("displayName", name).
			Add("lkey", loginKey(name)).
			Add("userId", "1").
			Build())
	default:
		return h.replyError(conn, "acct", id, txn, 102, "unknown transaction")
	}
}

func (h *FeslHandler) replyError(conn *network.Conn, cmd string, id uint32, txn string, code int, text string) error {
	b, err := fesl.NewBuilder(cmd, fesl.TypeSingleServer, id)
	if err != nil {
		return err
	}
	return h.send(conn, b.
		Add("TXN", txn).
		Add("errorCode", strconv.Itoa(code)).
		Add("localizedMessage", text).
		Build())
}

func (h *FeslHandler) send(conn *network.Conn, msg *fesl.Message) error {
	if _, err := msg.WriteTo(conn); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// collectFields drains a message body into a map, failing on the first
// structural error.
func collectFields(msg *fesl.Message) (map[string]string, error) {
	pairs := make(map[string]string)
	fields := msg.Fields()
	for fields.Next() {
		pairs[fields.Key()] = fields.Value()
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// loginKey derives a stable placeholder session key. Real backends
// issue random keys; the emulator only needs the field present.
func loginKey(name string) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	key := make([]byte, 24)
	for i := range key {
		key[i] = alphabet[(len(name)*7+i*13)%len(alphabet)]
	}
	return string(key)
}
