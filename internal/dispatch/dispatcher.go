package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/omniworld/internal/broadcast"
	"github.com/talgya/omniworld/internal/engine"
	"github.com/talgya/omniworld/internal/entropy"
	"github.com/talgya/omniworld/internal/judge"
	"github.com/talgya/omniworld/internal/metrics"
	"github.com/talgya/omniworld/internal/registry"
	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/store"
	"github.com/talgya/omniworld/internal/world"
)

// Validation failures, reported to the player without touching the world.
var (
	ErrEmptyAction   = errors.New("action text is empty")
	ErrActionTooLong = errors.New("action text too long")
	ErrActorDead     = errors.New("you are dead; only respawning remains")
	ErrActorUnknown  = errors.New("unknown actor")
)

const maxActionLen = 500

// Dispatcher runs the action state machine: Received, Validated,
// AwaitingJudgment, Resolving, then Committed, Rejected, or Failed.
type Dispatcher struct {
	store   *store.Store
	reg     *registry.Registry
	engines *engine.Set
	oracle  judge.Oracle
	locks   *Locker
	rules   *rules.Rules
	met     *engine.Meteorology
	biomes  *world.BiomeField
	hub     *broadcast.Hub
	metrics *metrics.Metrics
	log     *slog.Logger

	judgeSem     chan struct{}
	judgeTimeout time.Duration
}

// New wires a dispatcher. maxInflight bounds concurrent oracle calls.
func New(
	st *store.Store,
	reg *registry.Registry,
	engines *engine.Set,
	oracle judge.Oracle,
	r *rules.Rules,
	met *engine.Meteorology,
	biomes *world.BiomeField,
	hub *broadcast.Hub,
	m *metrics.Metrics,
	log *slog.Logger,
	maxInflight int,
	judgeTimeout time.Duration,
) *Dispatcher {
	if maxInflight <= 0 {
		maxInflight = 5
	}
	if judgeTimeout <= 0 {
		judgeTimeout = 60 * time.Second
	}
	return &Dispatcher{
		store:        st,
		reg:          reg,
		engines:      engines,
		oracle:       oracle,
		locks:        NewLocker(),
		rules:        r,
		met:          met,
		biomes:       biomes,
		hub:          hub,
		metrics:      m,
		log:          log.With("component", "dispatch"),
		judgeSem:     make(chan struct{}, maxInflight),
		judgeTimeout: judgeTimeout,
	}
}

// Result is what the submitting session gets back.
type Result struct {
	State     world.ActionState `json:"state"`
	Narrative string            `json:"narrative"`
	Actor     *world.Actor      `json:"actor,omitempty"`
}

// Do resolves one free-form action end to end. Blocking; callers run it on
// the session's goroutine.
func (d *Dispatcher) Do(ctx context.Context, actorID world.EntityID, text string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAction
	}
	if len(text) > maxActionLen {
		return nil, ErrActionTooLong
	}
	actor, ok := d.store.ActorByID(actorID)
	if !ok {
		return nil, ErrActorUnknown
	}
	if actor.Dead {
		return nil, ErrActorDead
	}

	actionID := uuid.NewString()
	log := d.log.With("action", actionID, "actor", actor.Name)
	log.Info("action received", "text", text)

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

	req := judge.Request{
		ActionText:   text,
		Actor:        snap.Actor,
		Snapshot:     snap,
		Time:         wt,
		Weather:      weather.String(),
		Directives:   d.rules.Judgment.Directives,
		Materials:    d.reg.Materials(),
		RecentEvents: d.recentNarratives(5),
	}

	// Judgment, bounded by the semaphore and the hard timeout. A timed-out
	// judgment fails the action; it is never retried behind the player's
	// back.
	select {
	case d.judgeSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	jctx, cancel := context.WithTimeout(ctx, d.judgeTimeout)
	start := time.Now()
	verdict, jerr := d.oracle.Judge(jctx, req)
	cancel()
	<-d.judgeSem
	d.metrics.JudgmentSeconds.Observe(time.Since(start).Seconds())

	if jerr != nil {
		log.Warn("judgment failed", "error", jerr)
		return d.finish(actionID, snap.Actor, text, world.StateFailed,
			"The world does not respond. Your action dissipates, unjudged.", nil), nil
	}

	outcome := judge.BuildOutcome(verdict, req)
	if !outcome.Accepted {
		log.Info("action rejected by judgment")
		return d.finish(actionID, snap.Actor, text, world.StateRejected, outcome.Narrative, nil), nil
	}

	// The narrative becomes part of the place: later arrivals see what was
	// last described here. Stamped on the snapshot's cell, which is the one
	// the scope holds locked.
	if outcome.Narrative != "" && snap.Cell != nil {
		outcome.Proposed.Merge(&world.Delta{
			Cells: map[world.EntityID]*world.CellChange{
				snap.Cell.ID: {Scene: outcome.Narrative},
			},
		})
	}

	delta, err := d.resolveAndCommit(snap, outcome, now, weather, wt)
	if errors.Is(err, store.ErrConflict) {
		// Under correct scoping this is an internal anomaly. One re-read
		// and retry, then give up.
		d.metrics.CommitConflicts.Inc()
		log.Error("commit conflict inside held scope, retrying once", "error", err)
		snap, err = d.store.Read(scope.IDs)
		if err == nil {
			delta, err = d.resolveAndCommit(snap, outcome, now, weather, wt)
		}
	}
	if errors.Is(err, store.ErrInvariant) {
		log.Info("action rejected by invariants", "error", err)
		reason := invariantNarrative(err)
		return d.finish(actionID, snap.Actor, text, world.StateRejected, reason, nil), nil
	}
	if err != nil {
		log.Error("resolution failed", "error", err)
		return d.finish(actionID, snap.Actor, text, world.StateFailed,
			"Something shifts wrongly underfoot. Nothing comes of it.", nil), nil
	}

	// Inventions enter the global catalog only once the action that made
	// them has actually committed.
	d.registerInventions(outcome, snap.Actor.Name, delta)
	d.announce(snap.Actor, outcome, delta)
	return d.finish(actionID, snap.Actor, text, world.StateCommitted, outcome.Narrative, delta), nil
}

// acquireActorScope locks the actor, their region cell, every unheld object
// in that cell, and everything they hold. The position is re-checked after
// acquisition: an action that held the actor while we waited may have moved
// them into another cell, and the scope must cover where they are now.
func (d *Dispatcher) acquireActorScope(ctx context.Context, actorID world.EntityID) (*Scope, error) {
	for {
		actor, ok := d.store.ActorByID(actorID)
		if !ok {
			return nil, ErrActorUnknown
		}
		cellID := world.CellID(actor.Pos)
		ids := []world.EntityID{actorID, cellID}
		ids = append(ids, d.store.ObjectIDsInCell(cellID)...)
		ids = append(ids, d.store.HeldObjectIDs(actorID)...)
		scope, err := d.locks.Acquire(ctx, ids)
		if err != nil {
			return nil, err
		}
		if fresh, ok := d.store.ActorByID(actorID); ok && world.CellID(fresh.Pos) == cellID {
			return scope, nil
		}
		scope.Release()
	}
}

// resolveAndCommit runs the engine stack over the snapshot and commits the
// merged delta against the observed versions.
func (d *Dispatcher) resolveAndCommit(
	snap *world.Snapshot,
	outcome *world.Outcome,
	now time.Time,
	weather engine.Weather,
	wt world.WorldTime,
) (*world.Delta, error) {
	ectx := &engine.Context{
		Snap:     snap,
		Now:      now,
		Outcome:  outcome,
		Weather:  weather,
		Time:     wt,
		Rand:     entropy.NewRand(),
		Activity: float64(d.store.ActionRateSince(now.Add(-time.Hour))),
		Moisture: d.biomes.Moisture(snap.Actor.Pos.X, snap.Actor.Pos.Y),
		Materials: func(id string) (world.MaterialProps, bool) {
			m, ok := d.reg.Material(id)
			if !ok {
				return world.MaterialProps{}, false
			}
			return m.Props, true
		},
	}
	delta := d.engines.Resolve(ectx)
	d.applyDeath(delta, snap)
	if _, err := d.store.Commit(delta, snap.Versions); err != nil {
		return nil, err
	}
	return delta, nil
}

// applyDeath converts a lethal delta into its full consequences: the
// actor's belongings drop into a lootable corpse and the actor is marked
// dead. The inventory transfer replaces any judged inventory changes so the
// corpse holds exactly what the body carried.
func (d *Dispatcher) applyDeath(delta *world.Delta, snap *world.Snapshot) {
	a := snap.Actor
	if a == nil || a.Dead {
		return
	}
	ch, ok := delta.Actors[a.ID]
	if !ok {
		return
	}
	if !ch.Die && a.Health+ch.Health > 0 {
		return
	}
	ch.Die = true

	ch.Items = nil
	loot := make([]any, 0, len(a.Inventory))
	for _, it := range a.Inventory {
		ch.Items = append(ch.Items, world.ItemRef{Name: it.Name, Qty: -it.Qty})
		loot = append(loot, map[string]any{"name": it.Name, "qty": it.Qty})
	}

	corpse := &world.Object{
		ID:          world.NewObjectID(),
		Name:        "corpse of " + a.Name,
		Pos:         a.Pos,
		Durability:  1,
		Description: "A still body. Whatever they carried is here for the taking.",
		Properties:  map[string]any{"loot": loot, "corpse": true},
		CreatedAt:   time.Now(),
	}
	delta.Create = append(delta.Create, corpse)
	delta.Notes = append(delta.Notes, a.Name+" has died")
}

// registerInventions pushes judged discoveries through the registry. Called
// only after the action has committed: a rejected or failed action must
// leave the catalog untouched. A duplicate is not an error for the player;
// the existing entry simply applies.
func (d *Dispatcher) registerInventions(out *world.Outcome, creator string, delta *world.Delta) {
	if nm := out.NewMaterial; nm != nil {
		m, err := d.reg.ProposeMaterial(nm.Name, nm.Description, creator, nm.Props)
		var dup *registry.DuplicateError
		switch {
		case errors.As(err, &dup):
			delta.Notes = append(delta.Notes, "material already known: "+m.ID)
		case err != nil:
			d.log.Warn("material proposal failed", "name", nm.Name, "error", err)
		default:
			d.hub.Publish(broadcast.Event{
				Kind:  "discovery",
				Actor: creator,
				Text:  fmt.Sprintf("%s discovered a new material: %s", creator, m.Name),
			})
		}
	}
	if nb := out.NewBlueprint; nb != nil {
		b, err := d.reg.ProposeBlueprint(*nb)
		var dup *registry.DuplicateError
		switch {
		case errors.As(err, &dup):
			delta.Notes = append(delta.Notes, "blueprint already known: "+b.ID)
		case err != nil:
			d.log.Warn("blueprint proposal failed", "name", nb.Name, "error", err)
		default:
			d.hub.Publish(broadcast.Event{
				Kind:  "discovery",
				Actor: creator,
				Text:  fmt.Sprintf("%s devised a new technique: %s", creator, b.Name),
			})
		}
	}
}

// announce publishes the committed action to nearby observers, and deaths
// to the whole world.
func (d *Dispatcher) announce(actor *world.Actor, out *world.Outcome, delta *world.Delta) {
	pos := actor.Pos
	d.hub.Publish(broadcast.Event{
		Kind:  "action",
		Actor: actor.Name,
		Pos:   &pos,
		Text:  out.Narrative,
	})
	for _, note := range delta.Notes {
		if strings.HasSuffix(note, "has died") {
			d.hub.Publish(broadcast.Event{
				Kind:  "death",
				Actor: actor.Name,
				Text:  note,
			})
		}
	}
}

// finish records the terminal state and builds the player-facing result.
func (d *Dispatcher) finish(
	actionID string,
	actor *world.Actor,
	text string,
	state world.ActionState,
	narrative string,
	delta *world.Delta,
) *Result {
	d.metrics.ActionsTotal.WithLabelValues(state.String()).Inc()

	deltaJSON := ""
	if delta != nil {
		if raw, err := json.Marshal(delta); err == nil {
			deltaJSON = string(raw)
		}
	}
	d.store.AppendAction(world.ActionRecord{
		ID:        actionID,
		Actor:     actor.Name,
		Text:      text,
		State:     state.String(),
		Narrative: narrative,
		Deltas:    deltaJSON,
		Timestamp: time.Now().UTC(),
	})

	res := &Result{State: state, Narrative: narrative}
	if fresh, ok := d.store.ActorByID(actor.ID); ok {
		res.Actor = fresh
	}
	return res
}

// recentNarratives pulls short context lines from the action log.
func (d *Dispatcher) recentNarratives(n int) []string {
	recs := d.store.RecentActions(n)
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if r.State == world.StateCommitted.String() && r.Narrative != "" {
			out = append(out, fmt.Sprintf("%s: %s", r.Actor, r.Narrative))
		}
	}
	return out
}

// invariantNarrative turns a store invariant error into in-world prose.
func invariantNarrative(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no longer available"), strings.Contains(msg, "already held"):
		return "You reach for it, but it is no longer there."
	case strings.Contains(msg, "inventory"), strings.Contains(msg, "slots"), strings.Contains(msg, "weight"):
		return "Your hands and pack are full. You cannot carry that."
	default:
		return "The world refuses. Nothing changes."
	}
}
