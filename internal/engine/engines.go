// Package engine holds the deterministic simulation engines. Engines never
// mutate state: each reads a snapshot and emits a delta, and the dispatcher
// commits the merged result. Layering order is fixed: passive engines
// (decay, ecology) first, the judged outcome second, corrective engines
// (bio, social, economic, meteorological, epistemic) last.
package engine

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/world"
)

// maxCatchupHours caps how much offline time a single resolution simulates.
// An actor away for a week resumes hungry, not dead.
const maxCatchupHours = 24.0

// Context is one resolution pass's read-only input.
type Context struct {
	Snap    *world.Snapshot
	Now     time.Time
	Outcome *world.Outcome // nil on background ticks
	Weather Weather
	Time    world.WorldTime
	Rand    *rand.Rand
	// Activity is the count of committed actions world-wide in the past
	// hour, from the action log. The epistemic engine reads it as the
	// world's rate of change.
	Activity float64
	// Moisture is the rainfall layer at the resolved cell, 0..1.
	Moisture float64
	// Materials resolves a canonical material ID to its physical
	// properties. Supplied by the registry.
	Materials func(id string) (world.MaterialProps, bool)
}

// hours returns the capped elapsed simulation hours since a timestamp.
func (c *Context) hours(since time.Time) float64 {
	if since.IsZero() {
		return 0
	}
	h := c.Now.Sub(since).Hours()
	if h < 0 {
		return 0
	}
	return math.Min(h, maxCatchupHours)
}

// Engine is one deterministic simulation axis.
type Engine interface {
	Name() string
	Apply(ctx *Context) *world.Delta
}

// Set is the full engine stack in layering order.
type Set struct {
	passive    []Engine
	corrective []Engine
	rules      *rules.Rules
	log        *slog.Logger
}

// NewSet builds the seven-engine stack from the rule set.
func NewSet(r *rules.Rules, log *slog.Logger) *Set {
	e := &r.Engines
	return &Set{
		passive: []Engine{
			&DecayEngine{cfg: e.Decay},
			&EcologyEngine{cfg: e.Ecological},
		},
		corrective: []Engine{
			&BioEngine{cfg: e.Bio},
			&SocialEngine{cfg: e.Social},
			&EconomicEngine{cfg: e.Economic},
			&MeteoEngine{cfg: e.Meteorological},
			&EpistemicEngine{cfg: e.Epistemic},
		},
		rules: r,
		log:   log.With("component", "engines"),
	}
}

// Resolve runs the full pass and returns the merged delta. The judged
// outcome's proposal is bounded before merging: it may only reduce, never
// exceed, what the deterministic engines would allow.
func (s *Set) Resolve(ctx *Context) *world.Delta {
	merged := &world.Delta{}
	for _, e := range s.passive {
		merged.Merge(e.Apply(ctx))
	}
	if ctx.Outcome != nil && ctx.Outcome.Accepted {
		merged.Merge(s.boundOutcome(ctx, &ctx.Outcome.Proposed))
	}
	for _, e := range s.corrective {
		merged.Merge(e.Apply(ctx))
	}
	return merged
}

// Per-action ceilings on judged gains. The oracle narrates; the engines
// decide how much of the narration the physics will honor.
const (
	maxJudgedHeal       = 0.5
	maxJudgedRepair     = 0.25
	maxHarvestBase      = 4
	maxHarvestAbundance = 16
)

// boundOutcome clamps the oracle's proposed delta to the engines' limits.
// Reductions pass through untouched; gains are capped and the trimming is
// recorded in the delta notes.
func (s *Set) boundOutcome(ctx *Context, proposed *world.Delta) *world.Delta {
	d := *proposed

	for id, ch := range d.Actors {
		if ch.Health > maxJudgedHeal && !ch.Revive {
			d.Notes = append(d.Notes, "healing capped")
			ch.Health = maxJudgedHeal
		}
		// Learning per action is capped by the epistemic engine's rate.
		for k, v := range ch.Knowledge {
			if limit := s.rules.Engines.Epistemic.LearnRate; v > limit {
				ch.Knowledge[k] = limit
			}
		}
		d.Actors[id] = ch
	}

	for id, ch := range d.Objects {
		if ch.Durability > maxJudgedRepair {
			d.Notes = append(d.Notes, "repair capped")
			ch.Durability = maxJudgedRepair
		}
		d.Objects[id] = ch
	}

	// Harvest bound: total gained quantity is limited by what the cell's
	// ecology can yield right now.
	if ctx.Snap.Cell != nil {
		allow := maxHarvestBase + int(ctx.Snap.Cell.Abundance*maxHarvestAbundance)
		for _, ch := range d.Actors {
			gained := 0
			for i, it := range ch.Items {
				if it.Qty <= 0 {
					continue
				}
				if gained+it.Qty > allow {
					it.Qty = allow - gained
					if it.Qty < 0 {
						it.Qty = 0
					}
					ch.Items[i] = it
					d.Notes = append(d.Notes, "yield limited by local scarcity")
				}
				gained += ch.Items[i].Qty
			}
		}
	}

	return &d
}
