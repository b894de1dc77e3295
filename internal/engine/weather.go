package engine

import (
	"fmt"
	"math"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/omniworld/internal/world"
)

// Weather is the deterministic local weather at a coordinate and time.
// There is no external feed: two players at the same place and time always
// see the same sky.
type Weather struct {
	Condition string  // "clear", "overcast", "rain", "storm", "sandstorm", "acid_rain", "fog"
	Temp      float64 // Celsius
	Severity  float64 // 0..1, exposure danger
}

func (w Weather) String() string {
	return fmt.Sprintf("%s, %.0f C", w.Condition, w.Temp)
}

// Meteorology computes weather from smooth noise over space and time,
// shaped by the biome's climate band.
type Meteorology struct {
	front opensimplex.Noise
	temp  opensimplex.Noise
}

// NewMeteorology seeds the weather fields. Must use the world seed so
// weather survives restarts.
func NewMeteorology(seed int64) *Meteorology {
	return &Meteorology{
		front: opensimplex.NewNormalized(seed + 7),
		temp:  opensimplex.NewNormalized(seed + 11),
	}
}

// At returns the weather at a position and wall-clock time. Fronts drift on
// a six-hour cycle; temperature follows the front field plus a day/night
// swing.
func (m *Meteorology) At(pos world.Coord, biome world.Biome, t time.Time) Weather {
	ft := float64(t.Unix()) / (6 * 3600)
	fx, fy := float64(pos.X)/80, float64(pos.Y)/80
	front := m.front.Eval3(fx, fy, ft)   // 0..1, high = disturbed
	warmth := m.temp.Eval3(fx, fy, ft/4) // 0..1

	base, swing := climateBand(biome.Type)
	hour := float64(t.Hour()) + float64(t.Minute())/60
	diurnal := math.Sin((hour - 9) / 24 * 2 * math.Pi) // peaks mid-afternoon
	temp := base + swing*diurnal + (warmth-0.5)*8

	w := Weather{Temp: math.Round(temp)}
	switch {
	case front < 0.35:
		w.Condition = "clear"
		w.Severity = 0
	case front < 0.55:
		w.Condition = "overcast"
		w.Severity = 0.1
	case front < 0.75:
		w.Condition = "rain"
		w.Severity = 0.3
	default:
		w.Condition = "storm"
		w.Severity = world.Clamp((front-0.75)*4, 0.5, 1)
	}

	// Biome overrides: deserts don't rain, they sandstorm; the wasteland's
	// rain is not the kind you drink.
	switch biome.Type {
	case world.BiomeDesert:
		if w.Condition == "rain" || w.Condition == "storm" {
			w.Condition = "sandstorm"
			w.Severity = math.Max(w.Severity, 0.5)
		}
	case world.BiomeWasteland, world.BiomeRuins:
		if w.Condition == "rain" {
			w.Condition = "acid_rain"
			w.Severity = math.Max(w.Severity, 0.4)
		}
	case world.BiomeSwamp, world.BiomeCoast:
		if w.Condition == "overcast" {
			w.Condition = "fog"
		}
	}

	// Extreme temperatures are dangerous on their own.
	if temp > 40 || temp < -5 {
		w.Severity = math.Max(w.Severity, 0.4)
	}
	return w
}

// climateBand returns the biome's mean temperature and diurnal swing.
func climateBand(b world.BiomeType) (base, swing float64) {
	switch b {
	case world.BiomeDesert:
		return 32, 14
	case world.BiomeSwamp:
		return 24, 4
	case world.BiomeForest:
		return 16, 6
	case world.BiomeCoast:
		return 18, 5
	case world.BiomeSanctus:
		return 20, 4
	case world.BiomeJunkyard, world.BiomeSlum:
		return 19, 8
	case world.BiomeRuins, world.BiomeWasteland:
		return 15, 12
	default:
		return 17, 8
	}
}
