package engine

import (
	"strings"

	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/world"
)

// BioEngine runs metabolism: hunger accrues over elapsed time, starvation
// and disease eat health, and risky outcomes can infect.
type BioEngine struct {
	cfg rules.BioRules
}

func (e *BioEngine) Name() string { return "bio" }

func (e *BioEngine) Apply(ctx *Context) *world.Delta {
	d := &world.Delta{}
	a := ctx.Snap.Actor
	if a == nil || a.Dead {
		return d
	}

	h := ctx.hours(a.UpdatedAt)
	ch := &world.ActorChange{}

	hungerGain := e.cfg.HungerPerHour * h
	ch.Hunger = hungerGain
	if a.Hunger+hungerGain >= 1 {
		// Hours actually spent starving, not the whole interval.
		starvingH := h
		if a.Hunger < 1 && e.cfg.HungerPerHour > 0 {
			starvingH = h - (1-a.Hunger)/e.cfg.HungerPerHour
		}
		if starvingH > 0 {
			ch.Health -= e.cfg.StarvingHealthPerHour * starvingH
			d.Notes = append(d.Notes, "starving")
		}
	}

	for range a.Diseases {
		ch.Health -= e.cfg.DiseaseHealthTick * h
	}
	for _, until := range a.Effects {
		if until.After(ctx.Now) {
			ch.Health -= e.cfg.EffectHealthTick * h
		}
	}

	if out := ctx.Outcome; out != nil && out.Accepted {
		risk := out.Risks["disease"]
		if ctx.Snap.Biome.ContaminatedWater && touchesWater(out) {
			if e.cfg.DiseaseChance > risk {
				risk = e.cfg.DiseaseChance
			}
		}
		if risk > 0 && ctx.Rand.Float64() < risk {
			ch.Diseases = append(ch.Diseases, "gut rot")
			ch.Effects = map[string]float64{"feverish": 24}
			d.Notes = append(d.Notes, "infection sets in")
		}
		if p := out.Risks["injury"]; p > 0 && ctx.Rand.Float64() < p {
			ch.Health -= 0.1 + 0.2*p
			d.Notes = append(d.Notes, "injured")
		}
	}

	if ch.Hunger != 0 || ch.Health != 0 || len(ch.Diseases) > 0 || len(ch.Effects) > 0 {
		d.Actors = map[world.EntityID]*world.ActorChange{a.ID: ch}
	}
	return d
}

// touchesWater reports whether the judged outcome moved any water item
// through the actor's inventory. Drinking in a contaminated biome is the
// classic way to catch something.
func touchesWater(out *world.Outcome) bool {
	for _, ch := range out.Proposed.Actors {
		for _, it := range ch.Items {
			if strings.Contains(strings.ToLower(it.Name), "water") {
				return true
			}
		}
	}
	return false
}
