// Package broadcast fans committed world events out to subscribed sessions.
// Delivery is best-effort: a subscriber that cannot keep up loses events
// rather than stalling the dispatcher.
package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/omniworld/internal/world"
)

// Event is one observable world happening.
type Event struct {
	Kind  string       `json:"kind"` // "action", "death", "discovery", "weather", "system"
	Actor string       `json:"actor,omitempty"`
	Pos   *world.Coord `json:"pos,omitempty"` // nil means global
	Text  string       `json:"text"`
	Time  time.Time    `json:"time"`
}

// DefaultRadius is how far local events carry, in world units.
const DefaultRadius = 30

type subscriber struct {
	ch     chan Event
	pos    world.Coord
	radius int
}

// Hub routes events to subscribers by position. Global events (nil Pos)
// reach everyone.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	log    *slog.Logger
	onDrop func()
}

// NewHub creates an empty hub. onDrop, if non-nil, is called once per
// dropped event for instrumentation.
func NewHub(log *slog.Logger, onDrop func()) *Hub {
	return &Hub{
		subs:   map[string]*subscriber{},
		log:    log.With("component", "broadcast"),
		onDrop: onDrop,
	}
}

// Subscribe registers a session at a position and returns its event
// channel. The buffer bounds how far a slow reader may lag.
func (h *Hub) Subscribe(id string, pos world.Coord, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	sub := &subscriber{
		ch:     make(chan Event, buffer),
		pos:    pos,
		radius: DefaultRadius,
	}
	h.mu.Lock()
	if old, ok := h.subs[id]; ok {
		close(old.ch)
	}
	h.subs[id] = sub
	h.mu.Unlock()
	return sub.ch
}

// Move updates a subscriber's position so local events follow the player.
func (h *Hub) Move(id string, pos world.Coord) {
	h.mu.Lock()
	if sub, ok := h.subs[id]; ok {
		sub.pos = pos
	}
	h.mu.Unlock()
}

// Unsubscribe removes a session and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// Publish delivers an event to every subscriber in range. Never blocks.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, sub := range h.subs {
		if ev.Pos != nil && ev.Pos.Dist(sub.pos) > sub.radius {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
			h.log.Debug("event dropped", "subscriber", id, "kind", ev.Kind)
		}
	}
}
