package engine

import (
	"math"

	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/world"
)

// SocialEngine relaxes reputation and cell atmosphere toward neutral, and
// lets judged actions ripple into the local mood.
type SocialEngine struct {
	cfg rules.SocialRules
}

func (e *SocialEngine) Name() string { return "social" }

func (e *SocialEngine) Apply(ctx *Context) *world.Delta {
	d := &world.Delta{}

	if a := ctx.Snap.Actor; a != nil && !a.Dead {
		h := ctx.hours(a.UpdatedAt)
		if drift := towardZero(a.Reputation, e.cfg.DriftPerHour*h); drift != 0 {
			d.Actors = map[world.EntityID]*world.ActorChange{
				a.ID: {Reputation: drift},
			}
		}
	}

	if c := ctx.Snap.Cell; c != nil {
		ch := &world.CellChange{}
		h := ctx.hours(c.UpdatedAt)
		ch.Atmosphere = towardZero(c.Atmosphere, e.cfg.DriftPerHour*h)

		if out := ctx.Outcome; out != nil && out.Accepted {
			for _, ach := range out.Proposed.Actors {
				// What people do in a place colors it.
				ch.Atmosphere += e.cfg.ImpactScale * ach.Reputation
				if ach.Die {
					ch.Atmosphere -= e.cfg.ImpactScale
					d.Notes = append(d.Notes, "a death darkens the area")
				}
			}
		}

		if ch.Atmosphere != 0 {
			d.Cells = map[world.EntityID]*world.CellChange{c.ID: ch}
		}
	}
	return d
}

// towardZero returns the additive step that moves v toward zero by at most
// step.
func towardZero(v, step float64) float64 {
	if v == 0 || step <= 0 {
		return 0
	}
	step = math.Min(step, math.Abs(v))
	if v > 0 {
		return -step
	}
	return step
}
