package engine

import (
	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/world"
)

// DecayEngine erodes object durability over elapsed time. Pollution speeds
// decay; material properties set the base rate. An object that reaches zero
// durability crumbles and is removed.
type DecayEngine struct {
	cfg rules.DecayRules
}

func (e *DecayEngine) Name() string { return "decay" }

func (e *DecayEngine) Apply(ctx *Context) *world.Delta {
	d := &world.Delta{}
	pollution := 0.0
	if ctx.Snap.Cell != nil {
		pollution = ctx.Snap.Cell.Pollution
	}
	envFactor := 1 + e.cfg.PollutionFactor*pollution

	for id, o := range ctx.Snap.Objects {
		h := ctx.hours(o.UpdatedAt)
		if h == 0 {
			continue
		}
		rate := e.cfg.BaseRatePerHour
		if ctx.Materials != nil {
			if props, ok := ctx.Materials(o.Material); ok && props.DecayRate > 0 {
				rate = props.DecayRate
			}
		}
		// Held objects are sheltered from the weather.
		if o.Holder != "" {
			rate /= 2
		}
		loss := rate * envFactor * h
		if loss <= 0 {
			continue
		}
		if o.Durability-loss <= 0 {
			d.Destroy = append(d.Destroy, id)
			d.Notes = append(d.Notes, o.Name+" crumbles away")
			continue
		}
		if d.Objects == nil {
			d.Objects = map[world.EntityID]*world.ObjectChange{}
		}
		d.Objects[id] = &world.ObjectChange{Durability: -loss}
	}
	return d
}
