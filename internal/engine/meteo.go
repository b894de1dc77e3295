package engine

import (
	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/world"
)

// MeteoEngine applies weather exposure. Weather itself is computed by
// Meteorology; this engine only converts severity into consequences for
// whoever is standing in it.
type MeteoEngine struct {
	cfg rules.MeteoRules
}

func (e *MeteoEngine) Name() string { return "meteorological" }

func (e *MeteoEngine) Apply(ctx *Context) *world.Delta {
	d := &world.Delta{}
	a := ctx.Snap.Actor
	if a == nil || a.Dead {
		return d
	}
	// Underground means sheltered.
	if a.Pos.Z < 0 {
		return d
	}
	w := ctx.Weather
	if w.Severity < 0.4 {
		return d
	}
	h := ctx.hours(a.UpdatedAt)
	loss := e.cfg.ExposureHealthPerHour * w.Severity * h
	if loss <= 0 {
		return d
	}
	d.Actors = map[world.EntityID]*world.ActorChange{
		a.ID: {Health: -loss},
	}
	d.Notes = append(d.Notes, "exposure: "+w.Condition)
	return d
}
