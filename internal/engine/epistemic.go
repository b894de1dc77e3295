package engine

import (
	"math"

	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/world"
)

// EpistemicEngine handles the slow loss of unpracticed knowledge. Learning
// happens through judged outcomes (capped at the learn rate); forgetting
// happens here, and a technology whose familiarity falls under the floor is
// lost outright until rediscovered.
type EpistemicEngine struct {
	cfg rules.EpistemicRules
}

func (e *EpistemicEngine) Name() string { return "epistemic" }

func (e *EpistemicEngine) Apply(ctx *Context) *world.Delta {
	d := &world.Delta{}
	a := ctx.Snap.Actor
	if a == nil || a.Dead || len(a.Knowledge) == 0 {
		return d
	}

	h := ctx.hours(a.UpdatedAt)
	if h == 0 {
		return d
	}
	forget := e.cfg.ForgetPerDay / 24 * h
	// A busy world keeps its crafts in circulation: the action log's recent
	// rate of change slows the rot.
	forget /= 1 + e.cfg.ActivityRetention*math.Min(ctx.Activity, 20)

	// Practicing a technology this action exempts it from decay.
	practiced := map[string]bool{}
	if out := ctx.Outcome; out != nil && out.Accepted {
		for _, ach := range out.Proposed.Actors {
			for k := range ach.Knowledge {
				practiced[k] = true
			}
		}
	}

	ch := &world.ActorChange{Knowledge: map[string]float64{}}
	for tech, level := range a.Knowledge {
		if practiced[tech] {
			continue
		}
		if level-forget < e.cfg.LostBelow {
			ch.Knowledge[tech] = -level
			d.Notes = append(d.Notes, "knowledge lost: "+tech)
			continue
		}
		ch.Knowledge[tech] = -forget
	}

	if len(ch.Knowledge) > 0 {
		d.Actors = map[world.EntityID]*world.ActorChange{a.ID: ch}
	}
	return d
}
