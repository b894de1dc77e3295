package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/omniworld/internal/broadcast"
	"github.com/talgya/omniworld/internal/dispatch"
	"github.com/talgya/omniworld/internal/metrics"
	"github.com/talgya/omniworld/internal/registry"
	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/store"
	"github.com/talgya/omniworld/internal/world"
)

const (
	readTimeout  = 5 * time.Minute
	writeTimeout = 10 * time.Second
)

// Server upgrades player connections and runs their sessions.
type Server struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	reg        *registry.Registry
	hub        *broadcast.Hub
	rules      *rules.Rules
	metrics    *metrics.Metrics
	log        *slog.Logger
	limiter    *RateLimiter

	upgrader websocket.Upgrader
}

// NewServer wires the transport.
func NewServer(
	st *store.Store,
	d *dispatch.Dispatcher,
	reg *registry.Registry,
	hub *broadcast.Hub,
	r *rules.Rules,
	m *metrics.Metrics,
	log *slog.Logger,
) *Server {
	return &Server{
		store:      st,
		dispatcher: d,
		reg:        reg,
		hub:        hub,
		rules:      r,
		metrics:    m,
		log:        log.With("component", "ws"),
		limiter:    NewRateLimiter(10, time.Minute),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler serves the /ws endpoint.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		actor := s.handshake(conn)
		if actor == nil {
			return
		}
		s.metrics.Sessions.Inc()
		defer s.metrics.Sessions.Dec()

		s.runSession(conn, actor)
	}
}

// handshake reads the hello, resolves or creates the actor, and sends the
// welcome with the recovery credential and opening scene.
func (s *Server) handshake(conn *websocket.Conn) *world.Actor {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	var hello Hello
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != "hello" {
		s.closePolicy(conn, "expected hello")
		return nil
	}
	if hello.ProtocolVersion != protocolVersion {
		s.closePolicy(conn, "bad protocol_version")
		return nil
	}

	var actor *world.Actor
	if hello.Recovery != "" {
		a, ok := s.store.ActorByID(world.EntityID(hello.Recovery))
		if !ok {
			s.closePolicy(conn, "unknown recovery code")
			return nil
		}
		actor = a
	} else {
		name := strings.TrimSpace(hello.Name)
		if name == "" {
			name = fmt.Sprintf("Drifter-%d", time.Now().UnixNano()%100000)
		}
		a, err := s.store.EnsureActor(name, s.rules.World.SpawnScatter)
		if err != nil {
			s.closePolicy(conn, err.Error())
			return nil
		}
		actor = a
	}

	welcome := Welcome{
		Type:     "welcome",
		Actor:    actor,
		Recovery: string(actor.ID),
		Scene:    s.dispatcher.Look(actor.ID),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	s.log.Info("session opened", "actor", actor.Name)
	return actor
}

// runSession pumps broadcast events out and commands in until the
// connection drops.
func (s *Server) runSession(conn *websocket.Conn, actor *world.Actor) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subID := string(actor.ID)
	events := s.hub.Subscribe(subID, actor.Pos, 32)
	defer s.hub.Unsubscribe(subID)
	defer s.limiter.Forget(subID)

	// Single writer goroutine owns the connection's write side; the reader
	// loop and the event forwarder both feed it through the writes channel.
	writes := make(chan any, 32)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case writes <- EventMsg{Type: "event", Event: ev}:
				default:
				}
			}
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-writes:
				if err := writeJSON(conn, v); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			cancel()
			break
		}
		var cmd Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			if !enqueue(ctx, writes, Reply{Type: "error", Error: "malformed command"}) {
				break
			}
			continue
		}
		if !enqueue(ctx, writes, s.handle(ctx, actor.ID, cmd)) {
			break
		}
	}
	s.log.Info("session closed", "actor", actor.Name)
}

// handle executes one command. Judged actions block the reader loop for
// this session; other players are unaffected.
func (s *Server) handle(ctx context.Context, actorID world.EntityID, cmd Command) Reply {
	switch cmd.Type {
	case "do":
		if !s.limiter.Allow(string(actorID)) {
			return Reply{Type: "error", Error: fmt.Sprintf(
				"too many actions; retry in %ds", s.limiter.RetryAfter(string(actorID)))}
		}
		res, err := s.dispatcher.Do(ctx, actorID, cmd.Text)
		if err != nil {
			return Reply{Type: "error", Error: err.Error()}
		}
		return resultReply(res)

	case "move":
		res, err := s.dispatcher.Move(ctx, actorID, world.Coord{X: cmd.DX, Y: cmd.DY, Z: cmd.DZ})
		if err != nil {
			return Reply{Type: "error", Error: err.Error()}
		}
		return resultReply(res)

	case "look":
		return Reply{Type: "scene", Scene: s.dispatcher.Look(actorID)}

	case "name":
		if err := s.dispatcher.Rename(actorID, cmd.Name); err != nil {
			return Reply{Type: "error", Error: err.Error()}
		}
		actor, _ := s.store.ActorByID(actorID)
		return Reply{Type: "result", State: world.StateCommitted.String(),
			Narrative: "You are now known as " + cmd.Name + ".", Actor: actor}

	case "respawn":
		res, err := s.dispatcher.Respawn(ctx, actorID)
		if err != nil {
			return Reply{Type: "error", Error: err.Error()}
		}
		return resultReply(res)

	case "materials":
		return Reply{Type: "catalog", Payload: s.reg.Materials()}

	case "blueprints":
		return Reply{Type: "catalog", Payload: s.reg.Blueprints()}

	case "log":
		return Reply{Type: "log", Payload: s.store.RecentActions(20)}

	default:
		return Reply{Type: "error", Error: "unknown command: " + cmd.Type}
	}
}

// enqueue hands a message to the writer goroutine. If the writer has died
// and the buffer is full, the session context unblocks the send so the
// reader loop can wind down instead of parking forever.
func enqueue(ctx context.Context, writes chan<- any, v any) bool {
	select {
	case writes <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func resultReply(res *dispatch.Result) Reply {
	return Reply{
		Type:      "result",
		State:     res.State.String(),
		Narrative: res.Narrative,
		Actor:     res.Actor,
	}
}

func (s *Server) closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
