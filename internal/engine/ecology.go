package engine

import (
	"math"

	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/world"
)

// EcologyEngine regenerates a cell's harvestable abundance over time and
// depletes it when an action extracts resources. Pollution suppresses
// regrowth; wet biomes regrow faster than dead ones.
type EcologyEngine struct {
	cfg rules.EcologyRules
}

func (e *EcologyEngine) Name() string { return "ecology" }

func (e *EcologyEngine) Apply(ctx *Context) *world.Delta {
	d := &world.Delta{}
	c := ctx.Snap.Cell
	if c == nil {
		return d
	}

	ch := &world.CellChange{}
	h := ctx.hours(c.UpdatedAt)
	if h > 0 {
		// Rainfall biases regrowth: a soaked cell regrows up to three times
		// as fast as a parched one.
		regen := e.cfg.RegenPerHour * h * (1 - c.Pollution) *
			biomeFertility(ctx.Snap.Biome.Type) * (0.5 + ctx.Moisture)
		ch.Abundance = math.Min(regen, 1-c.Abundance)
	}

	if out := ctx.Outcome; out != nil && out.Accepted {
		gained := 0
		for _, ach := range out.Proposed.Actors {
			for _, it := range ach.Items {
				if it.Qty > 0 {
					gained += it.Qty
				}
			}
		}
		if gained > 0 {
			ch.Abundance -= e.cfg.HarvestDepletion * float64(gained)
			d.Notes = append(d.Notes, "local resources thinned")
		}
	}

	if ch.Abundance != 0 {
		d.Cells = map[world.EntityID]*world.CellChange{c.ID: ch}
	}
	return d
}

func biomeFertility(b world.BiomeType) float64 {
	switch b {
	case world.BiomeSwamp, world.BiomeForest:
		return 1.5
	case world.BiomeCoast, world.BiomePlains:
		return 1.0
	case world.BiomeDesert:
		return 0.4
	case world.BiomeWasteland, world.BiomeRuins, world.BiomeJunkyard:
		return 0.6
	default:
		return 0.8
	}
}
