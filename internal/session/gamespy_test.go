package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostbay-project/frostbay/internal/db"
	"github.com/frostbay-project/frostbay/internal/events"
	"github.com/frostbay-project/frostbay/internal/network"
	"github.com/frostbay-project/frostbay/internal/protocol/gamespy"
)

func startGameSpySession(t *testing.T, store *db.Store, bus *events.EventBus) net.Conn {
	t.Helper()

	server, client := net.Pipe()
	h := NewGameSpyHandler(0, store, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(ctx, network.NewConn(server))
	}()

	t.Cleanup(func() {
		client.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not shut down")
		}
	})
	return client
}

func queryPairs(t *testing.T, client net.Conn, req *gamespy.Packet) (map[string]string, []string) {
	t.Helper()

	_, err := req.WriteTo(client)
	require.NoError(t, err)

	resp, err := gamespy.NewSplitter(client).Next()
	require.NoError(t, err)

	pairs, order, err := collectPairs(resp)
	require.NoError(t, err)
	return pairs, order
}

func TestGameSpyHeartbeatRegistersServer(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()

	registered := make(chan events.Event, 1)
	bus.Subscribe(events.EventServerRegistered, "test", func(ctx context.Context, e events.Event) error {
		registered <- e
		return nil
	})

	client := startGameSpySession(t, store, bus)

	pairs, order := queryPairs(t, client, gamespy.NewBuilder().
		Add("heartbeat", "29900").
		Add("gamename", "bfield1942").
		Add("hostname", "Frosty Keep").
		Add("mapname", "berlin").
		Add("numplayers", "12").
		Add("maxplayers", "64").
		Build())

	require.NotEmpty(t, order)
	assert.Equal(t, "ack", order[0])
	assert.Contains(t, pairs, "ack")

	select {
	case e := <-registered:
		payload, ok := e.Payload.(events.ServerPayload)
		require.True(t, ok)
		assert.Equal(t, "bfield1942", payload.GameName)
		assert.Equal(t, 12, payload.NumPlayers)
	case <-time.After(2 * time.Second):
		t.Fatal("registered event not emitted")
	}

	servers, err := store.ListGameServers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "Frosty Keep", servers[0].HostName)
}

func TestGameSpyRepeatHeartbeatEmitsHeartbeat(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()

	beat := make(chan events.Event, 1)
	bus.Subscribe(events.EventServerHeartbeat, "test", func(ctx context.Context, e events.Event) error {
		beat <- e
		return nil
	})

	client := startGameSpySession(t, store, bus)

	// First contact registers, the second refresh is a plain heartbeat.
	queryPairs(t, client, gamespy.NewBuilder().
		Add("heartbeat", "29900").
		Add("gamename", "bfield1942").
		Build())
	queryPairs(t, client, gamespy.NewBuilder().
		Add("heartbeat", "29900").
		Add("gamename", "bfield1942").
		Add("numplayers", "5").
		Build())

	select {
	case e := <-beat:
		payload, ok := e.Payload.(events.ServerPayload)
		require.True(t, ok)
		assert.Equal(t, 5, payload.NumPlayers)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat event not emitted")
	}
}

func TestGameSpyStateChangedExitDelistsServer(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()

	removed := make(chan events.Event, 1)
	bus.Subscribe(events.EventServerRemoved, "test", func(ctx context.Context, e events.Event) error {
		removed <- e
		return nil
	})

	client := startGameSpySession(t, store, bus)

	queryPairs(t, client, gamespy.NewBuilder().
		Add("heartbeat", "29900").
		Add("gamename", "bfield1942").
		Build())

	count, err := store.CountGameServers()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	pairs, _ := queryPairs(t, client, gamespy.NewBuilder().
		Add("statechanged", "2").
		Add("gamename", "bfield1942").
		Build())
	assert.Contains(t, pairs, "ack")

	select {
	case e := <-removed:
		payload, ok := e.Payload.(events.ServerPayload)
		require.True(t, ok)
		assert.Equal(t, "bfield1942", payload.GameName)
	case <-time.After(2 * time.Second):
		t.Fatal("removed event not emitted")
	}

	count, err = store.CountGameServers()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGameSpyStatusCountsServers(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()

	_, err := store.UpsertGameServer(db.GameServer{
		RemoteAddr: "10.0.0.1:14567",
		GameName:   "bfield1942",
	})
	require.NoError(t, err)

	client := startGameSpySession(t, store, bus)

	pairs, _ := queryPairs(t, client, gamespy.NewBuilder().
		Add("gamename", "bfield1942").
		Build())

	assert.Equal(t, "bfield1942", pairs["gamename"])
	assert.Equal(t, "1", pairs["numservers"])
}

func TestGameSpyValidate(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()
	client := startGameSpySession(t, store, bus)

	pairs, _ := queryPairs(t, client, gamespy.NewBuilder().
		Add("validate", "abc123").
		Add("gamename", "bfield1942").
		Build())
	assert.Equal(t, "1", pairs["validated"])

	pairs, _ = queryPairs(t, client, gamespy.NewBuilder().
		Add("validate", "abc123").
		Build())
	assert.Contains(t, pairs, "error")
}

func TestGameSpyListFiltersByGame(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()

	_, err := store.UpsertGameServer(db.GameServer{
		RemoteAddr: "10.0.0.1:14567",
		GameName:   "bfield1942",
	})
	require.NoError(t, err)
	_, err = store.UpsertGameServer(db.GameServer{
		RemoteAddr: "10.0.0.2:14567",
		GameName:   "mohaa",
	})
	require.NoError(t, err)

	client := startGameSpySession(t, store, bus)

	pairs, order := queryPairs(t, client, gamespy.NewBuilder().
		Add("list", "").
		Add("gamename", "bfield1942").
		Build())

	require.Len(t, order, 1)
	assert.Equal(t, "10.0.0.1:14567", pairs["ip"])
}

func TestGameSpyMalformedPacketDropsSession(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewEventBus()
	client := startGameSpySession(t, store, bus)

	// No leading backslash, then a terminator: structurally invalid.
	_, err := client.Write([]byte("garbage\\final\\"))
	require.NoError(t, err)

	buf := make([]byte, 1)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = client.Read(buf)
	assert.Error(t, err)
}
