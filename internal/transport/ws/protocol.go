// Package ws is the player-facing WebSocket transport. One connection is
// one session; the protocol is line-oriented JSON both ways.
package ws

import (
	"github.com/talgya/omniworld/internal/broadcast"
	"github.com/talgya/omniworld/internal/dispatch"
	"github.com/talgya/omniworld/internal/world"
)

// protocolVersion gates the handshake; bump on breaking changes.
const protocolVersion = 1

// Hello is the first client message on a new connection. Either Name (new
// or returning nickname) or Recovery (the actor ID issued at first join)
// identifies the player.
type Hello struct {
	Type            string `json:"type"` // "hello"
	ProtocolVersion int    `json:"protocol_version"`
	Name            string `json:"name,omitempty"`
	Recovery        string `json:"recovery,omitempty"`
}

// Welcome answers a successful handshake. Recovery is the durable
// credential for this actor; clients must store it.
type Welcome struct {
	Type     string          `json:"type"` // "welcome"
	Actor    *world.Actor    `json:"actor"`
	Recovery string          `json:"recovery"`
	Scene    *dispatch.Scene `json:"scene"`
}

// Command is any post-handshake client message.
type Command struct {
	Type string `json:"type"` // "do", "move", "look", "name", "respawn", "materials", "blueprints", "log"
	Text string `json:"text,omitempty"`
	DX   int    `json:"dx,omitempty"`
	DY   int    `json:"dy,omitempty"`
	DZ   int    `json:"dz,omitempty"`
	Name string `json:"name,omitempty"`
}

// Reply is the server's answer to one command.
type Reply struct {
	Type      string          `json:"type"` // "result", "scene", "catalog", "log", "error"
	State     string          `json:"state,omitempty"`
	Narrative string          `json:"narrative,omitempty"`
	Actor     *world.Actor    `json:"actor,omitempty"`
	Scene     *dispatch.Scene `json:"scene,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   any             `json:"payload,omitempty"`
}

// EventMsg wraps a broadcast event for the wire.
type EventMsg struct {
	Type  string          `json:"type"` // "event"
	Event broadcast.Event `json:"event"`
}
