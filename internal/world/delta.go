package world

import (
	"time"
)

// Delta is a set of proposed entity changes. Engines produce deltas, the
// dispatcher merges them in layering order, and the store applies the merged
// result atomically at commit. Numeric fields are additive; pointer fields
// are absolute overwrites with last-writer-wins inside one merge pass.
type Delta struct {
	Create  []*Object                  `json:"create,omitempty"`
	Destroy []EntityID                 `json:"destroy,omitempty"`
	Actors  map[EntityID]*ActorChange  `json:"actors,omitempty"`
	Objects map[EntityID]*ObjectChange `json:"objects,omitempty"`
	Cells   map[EntityID]*CellChange   `json:"cells,omitempty"`
	Notes   []string                   `json:"notes,omitempty"` // engine annotations for the action record
}

// ActorChange mutates one actor. Scalars are additive and clamped at apply.
type ActorChange struct {
	Health     float64            `json:"health,omitempty"`
	Hunger     float64            `json:"hunger,omitempty"`
	Reputation float64            `json:"reputation,omitempty"`
	Status     *string            `json:"status,omitempty"`
	Move       *Coord             `json:"move,omitempty"`  // relative delta
	Items      []ItemRef          `json:"items,omitempty"` // qty may be negative
	Diseases   []string           `json:"diseases,omitempty"`
	CureAll    bool               `json:"cure_all,omitempty"`
	Effects    map[string]float64 `json:"effects,omitempty"`   // name -> hours from now; <= 0 clears
	Knowledge  map[string]float64 `json:"knowledge,omitempty"` // additive familiarity
	TimeSkip   float64            `json:"time_skip,omitempty"` // hours added to the personal clock
	Die        bool               `json:"die,omitempty"`
	Revive     bool               `json:"revive,omitempty"` // respawn only; clears Dead
}

// ObjectChange mutates one object. Durability is additive; Holder and Pos
// are absolute (a nil pointer means "leave unchanged", an empty Holder
// means "drop at current position").
type ObjectChange struct {
	Durability  float64        `json:"durability,omitempty"`
	Holder      *EntityID      `json:"holder,omitempty"`
	Pos         *Coord         `json:"pos,omitempty"`
	Description *string        `json:"description,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// CellChange mutates one region cell. Scalars are additive; Scene replaces.
type CellChange struct {
	Abundance  float64            `json:"abundance,omitempty"`
	Pollution  float64            `json:"pollution,omitempty"`
	Atmosphere float64            `json:"atmosphere,omitempty"`
	Prices     map[string]float64 `json:"prices,omitempty"` // additive index shift
	Scene      string             `json:"scene,omitempty"`  // empty means leave unchanged
}

// Empty reports whether the delta carries no change at all.
func (d *Delta) Empty() bool {
	if d == nil {
		return true
	}
	return len(d.Create) == 0 && len(d.Destroy) == 0 &&
		len(d.Actors) == 0 && len(d.Objects) == 0 && len(d.Cells) == 0
}

// Merge folds other into d. Numeric changes add, absolute fields from other
// win, lists append. The receiver is mutated and returned for chaining.
func (d *Delta) Merge(other *Delta) *Delta {
	if other == nil {
		return d
	}
	d.Create = append(d.Create, other.Create...)
	d.Destroy = append(d.Destroy, other.Destroy...)
	for id, ch := range other.Actors {
		dst := d.actor(id)
		dst.Health += ch.Health
		dst.Hunger += ch.Hunger
		dst.Reputation += ch.Reputation
		if ch.Status != nil {
			dst.Status = ch.Status
		}
		if ch.Move != nil {
			if dst.Move == nil {
				dst.Move = &Coord{}
			}
			*dst.Move = dst.Move.Add(*ch.Move)
		}
		dst.Items = append(dst.Items, ch.Items...)
		dst.Diseases = append(dst.Diseases, ch.Diseases...)
		dst.CureAll = dst.CureAll || ch.CureAll
		for k, v := range ch.Effects {
			if dst.Effects == nil {
				dst.Effects = map[string]float64{}
			}
			dst.Effects[k] = v
		}
		for k, v := range ch.Knowledge {
			if dst.Knowledge == nil {
				dst.Knowledge = map[string]float64{}
			}
			dst.Knowledge[k] += v
		}
		dst.TimeSkip += ch.TimeSkip
		dst.Die = dst.Die || ch.Die
		dst.Revive = dst.Revive || ch.Revive
	}
	for id, ch := range other.Objects {
		dst := d.object(id)
		dst.Durability += ch.Durability
		if ch.Holder != nil {
			dst.Holder = ch.Holder
		}
		if ch.Pos != nil {
			dst.Pos = ch.Pos
		}
		if ch.Description != nil {
			dst.Description = ch.Description
		}
		for k, v := range ch.Properties {
			if dst.Properties == nil {
				dst.Properties = map[string]any{}
			}
			dst.Properties[k] = v
		}
	}
	for id, ch := range other.Cells {
		dst := d.cell(id)
		dst.Abundance += ch.Abundance
		dst.Pollution += ch.Pollution
		dst.Atmosphere += ch.Atmosphere
		for k, v := range ch.Prices {
			if dst.Prices == nil {
				dst.Prices = map[string]float64{}
			}
			dst.Prices[k] += v
		}
		if ch.Scene != "" {
			dst.Scene = ch.Scene
		}
	}
	d.Notes = append(d.Notes, other.Notes...)
	return d
}

func (d *Delta) actor(id EntityID) *ActorChange {
	if d.Actors == nil {
		d.Actors = map[EntityID]*ActorChange{}
	}
	ch, ok := d.Actors[id]
	if !ok {
		ch = &ActorChange{}
		d.Actors[id] = ch
	}
	return ch
}

func (d *Delta) object(id EntityID) *ObjectChange {
	if d.Objects == nil {
		d.Objects = map[EntityID]*ObjectChange{}
	}
	ch, ok := d.Objects[id]
	if !ok {
		ch = &ObjectChange{}
		d.Objects[id] = ch
	}
	return ch
}

func (d *Delta) cell(id EntityID) *CellChange {
	if d.Cells == nil {
		d.Cells = map[EntityID]*CellChange{}
	}
	ch, ok := d.Cells[id]
	if !ok {
		ch = &CellChange{}
		d.Cells[id] = ch
	}
	return ch
}

// Touched lists every entity ID the delta references (created objects are
// not included: they have no prior version to check).
func (d *Delta) Touched() []EntityID {
	seen := map[EntityID]struct{}{}
	for _, id := range d.Destroy {
		seen[id] = struct{}{}
	}
	for id := range d.Actors {
		seen[id] = struct{}{}
	}
	for id := range d.Objects {
		seen[id] = struct{}{}
	}
	for id := range d.Cells {
		seen[id] = struct{}{}
	}
	out := make([]EntityID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Snapshot is a read-only, time-stamped view of the entities inside one
// action's scope. Never persisted past the action's resolution.
type Snapshot struct {
	Taken    time.Time
	Actor    *Actor               // acting actor, nil for background ticks
	Objects  map[EntityID]*Object // objects in the scope closure
	Cell     *Cell                // the actor's (or tick's) region cell
	Versions map[EntityID]uint64  // versions observed at read time
	Biome    Biome
}

// Object returns an object from the snapshot, or nil.
func (s *Snapshot) Object(id EntityID) *Object {
	if s == nil {
		return nil
	}
	return s.Objects[id]
}

// Outcome is the external oracle's judged result for one action, already
// sanitized into typed form. The proposed delta is untrusted until the
// dispatcher has re-validated it against the invariants.
type Outcome struct {
	Accepted     bool
	Narrative    string
	Proposed     Delta
	NewMaterial  *Material
	NewBlueprint *Blueprint
	Risks        map[string]float64 // e.g. "disease": 0.35, hints for corrective engines
	EngineNotes  []string           // oracle commentary forwarded to the engines
}
