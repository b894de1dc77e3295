// Procedural biome keying over the infinite coordinate plane using layered
// simplex noise. Fixed zones (the junkyard origin, the walled city far
// north) override the noise so landmark geography is stable across seeds.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// BiomeType enumerates the terrain classes of the wasteland.
type BiomeType string

const (
	BiomeJunkyard  BiomeType = "junkyard"
	BiomeSanctus   BiomeType = "sanctus"
	BiomeRuins     BiomeType = "ruins"
	BiomeSlum      BiomeType = "slum"
	BiomeSwamp     BiomeType = "swamp"
	BiomeForest    BiomeType = "forest"
	BiomeDesert    BiomeType = "desert"
	BiomeCoast     BiomeType = "coast"
	BiomeWasteland BiomeType = "wasteland"
	BiomePlains    BiomeType = "plains"
)

// Biome describes the terrain at one coordinate.
type Biome struct {
	Type        BiomeType `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Ambient     string    `json:"ambient"`
	Restricted  bool      `json:"restricted,omitempty"`
	// ContaminatedWater marks biomes whose surface water carries disease
	// risk; consumed by the bio engine.
	ContaminatedWater bool `json:"contaminated_water,omitempty"`
}

// BiomeField samples biomes for arbitrary coordinates. Safe for concurrent
// use: opensimplex noise is read-only after construction.
type BiomeField struct {
	elev opensimplex.Noise
	rain opensimplex.Noise

	originRadius int // junkyard zone half-width around (0,0)
	cityLatitude int // Y above which the walled city begins
}

// NewBiomeField builds a deterministic biome field from a world seed.
func NewBiomeField(seed int64, originRadius, cityLatitude int) *BiomeField {
	if originRadius <= 0 {
		originRadius = 5
	}
	if cityLatitude <= 0 {
		cityLatitude = 100
	}
	return &BiomeField{
		elev:         opensimplex.NewNormalized(seed),
		rain:         opensimplex.NewNormalized(seed + 1),
		originRadius: originRadius,
		cityLatitude: cityLatitude,
	}
}

// At returns the biome for a coordinate. The result is a pure function of
// (seed, x, y): every caller sees the same world.
func (f *BiomeField) At(x, y int) Biome {
	// Landmark zones first.
	if abs(x) <= f.originRadius && abs(y) <= f.originRadius {
		return Biome{
			Type:              BiomeJunkyard,
			Name:              "Junkyard Wasteland",
			Description:       "Endless piles of scrap metal and garbage. The air reeks of oil and rust.",
			Ambient:           "creaking metal in the wind, cawing crows",
			ContaminatedWater: true,
		}
	}
	if y > f.cityLatitude {
		return Biome{
			Type:        BiomeSanctus,
			Name:        "Walled City Outskirts",
			Description: "The edge of a massive city lit by neon. High walls bar the way north.",
			Ambient:     "humming electronics, patrol drone propellers",
			Restricted:  true,
		}
	}

	n := f.noiseAt(x, y)

	switch {
	case y > 50: // urbanized north
		if n < 0.4 {
			return Biome{Type: BiomeRuins, Name: "Ruins",
				Description: "Abandoned buildings with broken windows and moss-covered walls.",
				Ambient:     "wind whistling through collapsed concrete"}
		}
		return Biome{Type: BiomeSlum, Name: "Slums",
			Description: "Shanty towns and makeshift shelters tangled together.",
			Ambient:     "distant murmuring crowds, barking dogs"}
	case y < -50: // southern wilds
		if n < 0.3 {
			return Biome{Type: BiomeSwamp, Name: "Swampland",
				Description:       "Foul-smelling swamps. Unknown things squirm in every puddle.",
				Ambient:           "croaking frogs, buzzing mosquitoes",
				ContaminatedWater: true}
		}
		return Biome{Type: BiomeForest, Name: "Blighted Forest",
			Description: "Dark forest of twisted, withered trees.",
			Ambient:     "snapping dry branches, ominous bird calls"}
	case x > 50:
		return Biome{Type: BiomeDesert, Name: "Arid Wasteland",
			Description: "Parched earth and dust storms under a harsh sun.",
			Ambient:     "swirling sandstorms, dead silence"}
	case x < -50:
		return Biome{Type: BiomeCoast, Name: "Polluted Coast",
			Description:       "Black oil slicks float on the water. The stench is overwhelming.",
			Ambient:           "waves crashing, seagull cries",
			ContaminatedWater: true}
	default:
		if n < 0.5 {
			return Biome{Type: BiomeWasteland, Name: "Wasteland",
				Description: "Barren, desolate land. Occasional weeds and rocks.",
				Ambient:     "wind howling, gravel rolling"}
		}
		return Biome{Type: BiomePlains, Name: "Ashen Plains",
			Description: "Gray plains as if scorched by fire. Ash drifts in the wind.",
			Ambient:     "lonely wind, ash crunching underfoot"}
	}
}

// noiseAt samples multi-octave noise in [0,1) at a coordinate.
func (f *BiomeField) noiseAt(x, y int) float64 {
	return octaveNoise(f.elev, float64(x), float64(y), 3, 0.05, 0.5)
}

// Moisture returns the rainfall layer in [0,1); used by the ecological
// engine to bias regeneration.
func (f *BiomeField) Moisture(x, y int) float64 {
	return octaveNoise(f.rain, float64(x), float64(y), 3, 0.04, 0.5)
}

// octaveNoise sums several noise octaves with decreasing amplitude and
// renormalizes to [0,1].
func octaveNoise(n opensimplex.Noise, x, y float64, octaves int, freq, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxAmp := 0.0
	for i := 0; i < octaves; i++ {
		total += n.Eval2(x*freq, y*freq) * amplitude
		maxAmp += amplitude
		amplitude *= persistence
		freq *= 2
	}
	return math.Min(math.Max(total/maxAmp, 0), 1)
}

// AltitudeBand describes the Z coordinate in words.
func AltitudeBand(z int) string {
	switch {
	case z < -100:
		return "Deep Underground"
	case z < -10:
		return "Underground"
	case z < 0:
		return "Shallow Underground"
	case z == 0:
		return "Surface"
	case z < 10:
		return "Low Altitude"
	case z < 100:
		return "High Altitude"
	case z < 5000:
		return "Very High Altitude"
	default:
		return "Stratosphere"
	}
}
