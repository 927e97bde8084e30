// Package events defines event types and the publish-subscribe bus that
// connects the protocol session handlers to telemetry, persistence and
// the API layer.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// FESL client lifecycle
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"
	EventClientLogin        EventType = "client_login"

	// GameSpy server browsing
	EventServerRegistered EventType = "server_registered"
	EventServerHeartbeat  EventType = "server_heartbeat"
	EventServerRemoved    EventType = "server_removed"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ClientPayload describes a FESL client connection.
type ClientPayload struct {
	RemoteAddr string `json:"remote_addr"`
	Account    string `json:"account,omitempty"`
	Game       string `json:"game,omitempty"`
}

// ServerPayload describes a game server known through GameSpy heartbeats.
type ServerPayload struct {
	RemoteAddr string    `json:"remote_addr"`
	GameName   string    `json:"game_name"`
	HostName   string    `json:"host_name,omitempty"`
	MapName    string    `json:"map_name,omitempty"`
	NumPlayers int       `json:"num_players"`
	MaxPlayers int       `json:"max_players"`
	LastSeen   time.Time `json:"last_seen"`
}
