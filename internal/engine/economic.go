package engine

import (
	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/world"
)

// EconomicEngine maintains the local price index. Value is scarcity times
// utility: prices of materials drift with local abundance and relax toward
// parity over time. There are no fixed prices anywhere.
type EconomicEngine struct {
	cfg rules.EconomicRules
}

func (e *EconomicEngine) Name() string { return "economic" }

func (e *EconomicEngine) Apply(ctx *Context) *world.Delta {
	d := &world.Delta{}
	c := ctx.Snap.Cell
	if c == nil {
		return d
	}

	ch := &world.CellChange{}

	// Relax existing price indexes toward 1 over time.
	h := ctx.hours(c.UpdatedAt)
	for mat, price := range c.Prices {
		if drift := towardZero(price-1, e.cfg.ScarcityPressure*h); drift != 0 {
			if ch.Prices == nil {
				ch.Prices = map[string]float64{}
			}
			ch.Prices[mat] += drift
		}
	}

	// Materials moved by the judged action feel scarcity pressure: pulling
	// from a depleted cell raises the price, flooding a rich one lowers it.
	if out := ctx.Outcome; out != nil && out.Accepted {
		pressure := e.cfg.ScarcityPressure * (0.5 - c.Abundance) * 2
		for _, mat := range touchedMaterials(out) {
			if ch.Prices == nil {
				ch.Prices = map[string]float64{}
			}
			ch.Prices[mat] += pressure
		}
	}

	if len(ch.Prices) > 0 {
		d.Cells = map[world.EntityID]*world.CellChange{c.ID: ch}
	}
	return d
}

func touchedMaterials(out *world.Outcome) []string {
	seen := map[string]bool{}
	var mats []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			mats = append(mats, id)
		}
	}
	for _, o := range out.Proposed.Create {
		add(o.Material)
	}
	for _, ach := range out.Proposed.Actors {
		for _, it := range ach.Items {
			add(world.CanonicalName(it.Name))
		}
	}
	return mats
}
