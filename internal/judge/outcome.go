package judge

import (
	"strings"
	"time"

	"github.com/talgya/omniworld/internal/world"
)

// BuildOutcome translates a validated verdict into a typed outcome against
// the snapshot the oracle ruled on. Object references are by name; a name
// that matches nothing in scope is dropped with a note rather than failing
// the whole action, since the oracle narrates more than it tracks.
func BuildOutcome(v *Verdict, req Request) *world.Outcome {
	out := &world.Outcome{
		Accepted:    v.Success,
		Narrative:   v.Narrative,
		Risks:       v.Risks,
		EngineNotes: v.EngineNotes,
	}
	if !v.Success {
		return out
	}

	actor := req.Actor
	d := &out.Proposed
	now := time.Now().UTC()

	for _, c := range v.WorldUpdate.Create {
		obj := &world.Object{
			ID:          world.NewObjectID(),
			Name:        c.Name,
			Pos:         actor.Pos.Add(c.PosDelta),
			Material:    world.CanonicalName(c.Material),
			Durability:  1,
			Description: c.Description,
			Properties:  c.Properties,
			Creator:     actor.Name,
			CreatedAt:   now,
		}
		d.Create = append(d.Create, obj)
	}

	for _, name := range v.WorldUpdate.Destroy {
		if id, ok := resolveObject(req.Snapshot, actor.ID, name); ok {
			d.Destroy = append(d.Destroy, id)
		} else {
			d.Notes = append(d.Notes, "unresolved destroy target: "+name)
		}
	}

	for _, m := range v.WorldUpdate.Modify {
		id, ok := resolveObject(req.Snapshot, actor.ID, m.Name)
		if !ok {
			d.Notes = append(d.Notes, "unresolved modify target: "+m.Name)
			continue
		}
		ch := &world.ObjectChange{
			Durability: m.DurabilityDelta,
			Properties: m.Properties,
		}
		if m.Description != "" {
			desc := m.Description
			ch.Description = &desc
		}
		if d.Objects == nil {
			d.Objects = map[world.EntityID]*world.ObjectChange{}
		}
		d.Objects[id] = ch
	}

	u := v.UserUpdate
	ach := &world.ActorChange{
		Health:     u.HealthDelta,
		Hunger:     u.HungerDelta,
		Reputation: u.ReputationDelta,
		Knowledge:  u.NewKnowledge,
		TimeSkip:   u.TimeSkipHours,
		Die:        u.IsDead,
	}
	if u.StatusDesc != "" {
		status := u.StatusDesc
		ach.Status = &status
	}
	if u.PositionDelta != (world.Coord{}) {
		move := u.PositionDelta
		ach.Move = &move
	}
	for _, it := range u.InventoryChange.Add {
		ach.Items = append(ach.Items, it)
	}
	for _, it := range u.InventoryChange.Remove {
		ach.Items = append(ach.Items, world.ItemRef{Name: it.Name, Qty: -it.Qty})
	}
	d.Actors = map[world.EntityID]*world.ActorChange{actor.ID: ach}

	if nd := v.NewDiscovery; nd != nil {
		out.NewMaterial = &world.Material{
			ID:          world.CanonicalName(nd.Name),
			Name:        nd.Name,
			Props:       nd.Properties,
			Description: nd.Description,
			Creator:     actor.Name,
		}
	}
	if nt := v.NewObjectType; nt != nil {
		out.NewBlueprint = &world.Blueprint{
			ID:          world.CanonicalName(nt.Name),
			Name:        nt.Name,
			Inputs:      nt.Inputs,
			Output:      nt.Output,
			Knowledge:   nt.Knowledge,
			MinLevel:    nt.MinLevel,
			Description: nt.Description,
			Creator:     actor.Name,
		}
	}
	return out
}

// resolveObject maps an oracle-supplied object name onto an entity inside
// the scope. Only unheld objects and the actor's own held items resolve;
// another actor's held object is out of scope by construction.
func resolveObject(snap *world.Snapshot, actorID world.EntityID, name string) (world.EntityID, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for id, o := range snap.Objects {
		if o.Holder != "" && o.Holder != actorID {
			continue
		}
		if strings.ToLower(o.Name) == want {
			return id, true
		}
	}
	// Fall back to substring match for verbose oracle phrasings like
	// "the rusted shopping cart".
	for id, o := range snap.Objects {
		if o.Holder != "" && o.Holder != actorID {
			continue
		}
		if strings.Contains(want, strings.ToLower(o.Name)) {
			return id, true
		}
	}
	return "", false
}
