package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/omniworld/internal/broadcast"
	"github.com/talgya/omniworld/internal/store"
	"github.com/talgya/omniworld/internal/world"
)

// Direct commands bypass judgment: their semantics are fixed and their
// deltas deterministic. They still take the full scope lock and run the
// passive engines, so time passes the same way it does for judged actions.

// ErrNotDead rejects respawning while alive.
var ErrNotDead = errors.New("you are still alive")

// maxStep bounds a single direct move.
const maxStep = 10

// Move walks the actor by a relative delta.
func (d *Dispatcher) Move(ctx context.Context, actorID world.EntityID, step world.Coord) (*Result, error) {
	if step == (world.Coord{}) {
		return nil, fmt.Errorf("no direction given")
	}
	if dist := step.Dist(world.Coord{}); dist > maxStep {
		return nil, fmt.Errorf("too far: %d steps exceeds %d", dist, maxStep)
	}
	actor, ok := d.store.ActorByID(actorID)
	if !ok {
		return nil, ErrActorUnknown
	}
	if actor.Dead {
		return nil, ErrActorDead
	}

	target := actor.Pos.Add(step)
	if biome := d.biomeAt(target); biome.Restricted {
		return &Result{
			State:     world.StateRejected,
			Narrative: "Armed sentries turn you back. The way north is sealed.",
			Actor:     actor,
		}, nil
	}

	extra := &world.Delta{
		Actors: map[world.EntityID]*world.ActorChange{
			actorID: {Move: &step, Hunger: 0.002 * float64(step.Dist(world.Coord{}))},
		},
	}
	res, err := d.direct(ctx, actorID, "move "+step.String(), extra)
	if err != nil {
		return nil, err
	}
	if res.State == world.StateCommitted {
		d.hub.Move(string(actorID), target)
		res.Narrative = d.Look(actorID).Describe()
	}
	return res, nil
}

// Respawn brings a dead actor back at a scattered position near the origin
// with empty hands and full health. The corpse stays where it fell.
func (d *Dispatcher) Respawn(ctx context.Context, actorID world.EntityID) (*Result, error) {
	actor, ok := d.store.ActorByID(actorID)
	if !ok {
		return nil, ErrActorUnknown
	}
	if !actor.Dead {
		return nil, ErrNotDead
	}

	scatter := d.rules.World.SpawnScatter
	target := world.Coord{
		X: rand.Intn(2*scatter+1) - scatter,
		Y: rand.Intn(2*scatter+1) - scatter,
	}
	step := world.Coord{X: target.X - actor.Pos.X, Y: target.Y - actor.Pos.Y, Z: -actor.Pos.Z}
	status := "Disoriented, aching, alive"
	extra := &world.Delta{
		Actors: map[world.EntityID]*world.ActorChange{
			actorID: {
				Revive: true,
				Health: 1 - actor.Health,
				Hunger: 0.5 - actor.Hunger,
				Move:   &step,
				Status: &status,
			},
		},
		Notes: []string{actor.Name + " stirs awake among the scrap heaps"},
	}
	res, err := d.direct(ctx, actorID, "respawn", extra)
	if err != nil {
		return nil, err
	}
	if res.State == world.StateCommitted {
		d.hub.Move(string(actorID), target)
		res.Narrative = "You wake amid rust and ash, emptied of everything but breath."
	}
	return res, nil
}

// Rename changes the actor's nickname. No judgment, no engines.
func (d *Dispatcher) Rename(actorID world.EntityID, newName string) error {
	return d.store.RenameActor(actorID, newName)
}

// direct resolves a fixed delta through the same scope, engine, and commit
// machinery as judged actions, minus the oracle.
func (d *Dispatcher) direct(ctx context.Context, actorID world.EntityID, text string, extra *world.Delta) (*Result, error) {
	scope, err := d.acquireActorScope(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("acquire scope: %w", err)
	}
	defer scope.Release()

	snap, err := d.store.Read(scope.IDs)
	if err != nil {
		return nil, fmt.Errorf("read scope: %w", err)
	}

	now := time.Now()
	wt := world.TimeAt(snap.Actor.Pos.X, now, snap.Actor.TimeOffset)
	weather := d.met.At(snap.Actor.Pos, snap.Biome, now)

	// Wrap the fixed delta as a pre-accepted outcome so the engine stack
	// bounds and corrects it the same way.
	outcome := &world.Outcome{Accepted: true, Proposed: *extra}

	delta, err := d.resolveAndCommit(snap, outcome, now, weather, wt)
	if errors.Is(err, store.ErrInvariant) {
		return d.finish(newActionID(), snap.Actor, text, world.StateRejected, invariantNarrative(err), nil), nil
	}
	if err != nil {
		return d.finish(newActionID(), snap.Actor, text, world.StateFailed, "Nothing comes of it.", nil), nil
	}
	return d.finish(newActionID(), snap.Actor, text, world.StateCommitted, "", delta), nil
}

func (d *Dispatcher) biomeAt(pos world.Coord) world.Biome {
	return d.biomes.At(pos.X, pos.Y)
}

func newActionID() string { return uuid.NewString() }

// Scene is the read-only description of an actor's surroundings.
type Scene struct {
	Biome   world.Biome     `json:"biome"`
	Pos     world.Coord     `json:"pos"`
	Zone    string          `json:"zone"`
	Time    world.WorldTime `json:"time"`
	Weather string          `json:"weather"`
	Objects []*world.Object `json:"objects,omitempty"`
	Others  []string        `json:"others,omitempty"`
	Recent  string          `json:"recent,omitempty"` // last narrative committed in this cell
}

// Look builds a scene snapshot. Read-only: no locks, no engines.
func (d *Dispatcher) Look(actorID world.EntityID) *Scene {
	actor, ok := d.store.ActorByID(actorID)
	if !ok {
		return &Scene{}
	}
	now := time.Now()
	biome := d.biomeAt(actor.Pos)
	sc := &Scene{
		Biome:   biome,
		Pos:     actor.Pos,
		Zone:    world.AltitudeBand(actor.Pos.Z),
		Time:    world.TimeAt(actor.Pos.X, now, actor.TimeOffset),
		Weather: d.met.At(actor.Pos, biome, now).String(),
		Objects: d.store.ObjectsNear(actor.Pos, broadcast.DefaultRadius, 12),
	}
	if cell, ok := d.store.CellByID(world.CellID(actor.Pos)); ok {
		sc.Recent = cell.Scene
	}
	for _, other := range d.store.ActorsNear(actor.Pos, broadcast.DefaultRadius, actorID) {
		sc.Others = append(sc.Others, fmt.Sprintf("%s (%s)", other.Name, other.Status))
	}
	return sc
}

// Describe renders the scene as prose for the terminal client.
func (s *Scene) Describe() string {
	if s.Biome.Name == "" {
		return "Nothing but formless haze."
	}
	out := fmt.Sprintf("%s %s — %s. %s, %02d:%02d (%s). %s.",
		s.Biome.Name, s.Pos, s.Biome.Description, s.Zone,
		s.Time.Hour, s.Time.Minute, s.Time.Period, s.Weather)
	if len(s.Objects) > 0 {
		out += " You see:"
		for _, o := range s.Objects {
			out += fmt.Sprintf(" %s;", o.Name)
		}
	}
	for _, other := range s.Others {
		out += " " + other + " is here."
	}
	if s.Recent != "" {
		out += " Lately: " + s.Recent
	}
	return out
}
