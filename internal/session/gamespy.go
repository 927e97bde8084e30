package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/frostbay-project/frostbay/internal/db"
	"github.com/frostbay-project/frostbay/internal/events"
	"github.com/frostbay-project/frostbay/internal/network"
	"github.com/frostbay-project/frostbay/internal/protocol/gamespy"
)

// GameSpyHandler serves master-server sessions: game servers announce
// themselves with heartbeats, clients query status.
type GameSpyHandler struct {
	maxPacket int
	store     *db.Store
	bus       *events.EventBus
	logger    zerolog.Logger
}

// NewGameSpyHandler creates a handler backed by store and bus. A
// maxPacket of zero keeps the splitter default.
func NewGameSpyHandler(maxPacket int, store *db.Store, bus *events.EventBus) *GameSpyHandler {
	return &GameSpyHandler{
		maxPacket: maxPacket,
		store:     store,
		bus:       bus,
		logger:    log.With().Str("component", "gamespy").Logger(),
	}
}

// Serve consumes packets until the peer disconnects or the stream
// turns malformed.
func (h *GameSpyHandler) Serve(ctx context.Context, conn *network.Conn) {
	remote := conn.RemoteAddr().String()

	h.bus.Emit(ctx, events.Event{
		Type:    events.EventClientConnected,
		Source:  "gamespy",
		Payload: events.ClientPayload{RemoteAddr: remote},
	})
	defer h.bus.Emit(ctx, events.Event{
		Type:    events.EventClientDisconnected,
		Source:  "gamespy",
		Payload: events.ClientPayload{RemoteAddr: remote},
	})

	splitter := gamespy.NewSplitter(conn)
	if h.maxPacket > 0 {
		splitter.SetMaxPacketSize(h.maxPacket)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, err := splitter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			h.logger.Warn().Err(err).Str("remote", remote).Msg("dropping session")
			return
		}

		if err := h.dispatch(ctx, conn, pkt); err != nil {
			h.logger.Warn().Err(err).Str("remote", remote).Msg("dropping session")
			return
		}
	}
}

func (h *GameSpyHandler) dispatch(ctx context.Context, conn *network.Conn, pkt *gamespy.Packet) error {
	pairs, order, err := collectPairs(pkt)
	if err != nil {
		return fmt.Errorf("bad packet: %w", err)
	}
	if len(order) == 0 {
		return nil
	}

	remote := conn.RemoteAddr().String()
	h.logger.Debug().Str("remote", remote).Str("lead", order[0]).Msg("request")

	switch order[0] {
	case "heartbeat":
		return h.handleHeartbeat(ctx, conn, pairs)
	case "statechanged":
		// statechanged=2 announces server exit; anything else is a
		// status refresh.
		if pairs["statechanged"] == "2" {
			return h.handleShutdown(ctx, conn, pairs)
		}
		return h.handleHeartbeat(ctx, conn, pairs)
	case "gamename":
		return h.handleStatus(conn, pairs)
	case "validate":
		return h.handleValidate(conn, pairs)
	case "list":
		return h.handleList(conn, pairs)
	default:
		return h.send(conn, gamespy.NewBuilder().
			Add("error", "unknown request").
			Build())
	}
}

func (h *GameSpyHandler) handleHeartbeat(ctx context.Context, conn *network.Conn, pairs map[string]string) error {
	remote := conn.RemoteAddr().String()

	srv := db.GameServer{
		RemoteAddr: remote,
		GameName:   pairs["gamename"],
		HostName:   pairs["hostname"],
		MapName:    pairs["mapname"],
		NumPlayers: atoiOrZero(pairs["numplayers"]),
		MaxPlayers: atoiOrZero(pairs["maxplayers"]),
	}
	registered, err := h.store.UpsertGameServer(srv)
	if err != nil {
		h.logger.Error().Err(err).Str("remote", remote).Msg("failed to upsert server")
	}

	eventType := events.EventServerHeartbeat
	if registered {
		eventType = events.EventServerRegistered
	}
	h.bus.Emit(ctx, events.Event{
		Type:   eventType,
		Source: "gamespy",
		Payload: events.ServerPayload{
			RemoteAddr: remote,
			GameName:   srv.GameName,
			HostName:   srv.HostName,
			MapName:    srv.MapName,
			NumPlayers: srv.NumPlayers,
			MaxPlayers: srv.MaxPlayers,
		},
	})

	return h.send(conn, gamespy.NewBuilder().
		Add("ack", "").
		Build())
}

func (h *GameSpyHandler) handleShutdown(ctx context.Context, conn *network.Conn, pairs map[string]string) error {
	remote := conn.RemoteAddr().String()

	if err := h.store.RemoveGameServer(remote); err != nil {
		h.logger.Error().Err(err).Str("remote", remote).Msg("failed to remove server")
	}

	h.bus.Emit(ctx, events.Event{
		Type:   events.EventServerRemoved,
		Source: "gamespy",
		Payload: events.ServerPayload{
			RemoteAddr: remote,
			GameName:   pairs["gamename"],
		},
	})

	return h.send(conn, gamespy.NewBuilder().
		Add("ack", "").
		Build())
}

func (h *GameSpyHandler) handleStatus(conn *network.Conn, pairs map[string]string) error {
	count, err := h.store.CountGameServers()
	if err != nil {
		return fmt.Errorf("failed to count servers: %w", err)
	}

	return h.send(conn, gamespy.NewBuilder().
		Add("gamename", pairs["gamename"]).
		Add("numservers", strconv.Itoa(count)).
		Build())
}

func (h *GameSpyHandler) handleValidate(conn *network.Conn, pairs map[string]string) error {
	// Challenge validation is out of scope for an emulator; accept
	// anything that names a game.
	if pairs["gamename"] == "" {
		return h.send(conn, gamespy.NewBuilder().
			Add("error", "missing gamename").
			Build())
	}
	return h.send(conn, gamespy.NewBuilder().
		Add("validated", "1").
		Build())
}

func (h *GameSpyHandler) handleList(conn *network.Conn, pairs map[string]string) error {
	servers, err := h.store.ListGameServers()
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	b := gamespy.NewBuilder()
	for _, srv := range servers {
		if g := pairs["gamename"]; g != "" && g != srv.GameName {
			continue
		}
		b.Add("ip", srv.RemoteAddr)
	}
	return h.send(conn, b.Build())
}

func (h *GameSpyHandler) send(conn *network.Conn, pkt *gamespy.Packet) error {
	if _, err := pkt.WriteTo(conn); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// collectPairs drains a packet into a map plus key order, failing on
// the first structural error.
func collectPairs(pkt *gamespy.Packet) (map[string]string, []string, error) {
	pairs := make(map[string]string)
	var order []string

	fields := pkt.Fields()
	for fields.Next() {
		pairs[fields.Key()] = fields.Value()
		order = append(order, fields.Key())
	}
	if err := fields.Err(); err != nil {
		return nil, nil, err
	}
	return pairs, order, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
