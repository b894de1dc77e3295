// Package rules loads the versioned, externally editable world rule set.
// The rule set is immutable for the lifetime of a resolution pass: the
// dispatcher captures a pointer at validation time and never re-reads it
// for an in-flight action, so a hot reload cannot affect actions already
// past validation.
package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/talgya/omniworld/internal/world"
)

// Rules is the full rule set: engine tunables, base materials, biome
// geography, and the plausibility directives sent to the judgment oracle.
type Rules struct {
	Version int   `yaml:"version"`
	Seed    int64 `yaml:"seed"`

	World struct {
		OriginZoneRadius int `yaml:"origin_zone_radius"`
		CityLatitude     int `yaml:"city_latitude"`
		SpawnScatter     int `yaml:"spawn_scatter"` // respawn within +/- this of origin
	} `yaml:"world"`

	Inventory struct {
		MaxSlots  int `yaml:"max_slots"`
		MaxWeight int `yaml:"max_weight"`
	} `yaml:"inventory"`

	Judgment struct {
		// Directives is free text forwarded verbatim to the oracle as the
		// applicable rule set for plausibility judging.
		Directives string `yaml:"directives"`
	} `yaml:"judgment"`

	Engines EngineTunables `yaml:"engines"`

	// Materials seeded at world creation; all further materials enter
	// through the invention registry.
	Materials []BaseMaterial `yaml:"materials"`
}

// EngineTunables groups the per-engine constants. Each engine receives only
// its own block.
type EngineTunables struct {
	Bio            BioRules       `yaml:"bio"`
	Decay          DecayRules     `yaml:"decay"`
	Social         SocialRules    `yaml:"social"`
	Economic       EconomicRules  `yaml:"economic"`
	Meteorological MeteoRules     `yaml:"meteorological"`
	Epistemic      EpistemicRules `yaml:"epistemic"`
	Ecological     EcologyRules   `yaml:"ecological"`
}

type BioRules struct {
	HungerPerHour         float64 `yaml:"hunger_per_hour"`
	StarvingHealthPerHour float64 `yaml:"starving_health_per_hour"`
	DiseaseChance         float64 `yaml:"disease_chance"`
	DiseaseHealthTick     float64 `yaml:"disease_health_tick"`
	EffectHealthTick      float64 `yaml:"effect_health_tick"`
}

type DecayRules struct {
	BaseRatePerHour float64 `yaml:"base_rate_per_hour"`
	PollutionFactor float64 `yaml:"pollution_factor"`
}

type SocialRules struct {
	DriftPerHour float64 `yaml:"drift_per_hour"`
	ImpactScale  float64 `yaml:"impact_scale"`
}

type EconomicRules struct {
	ScarcityPressure float64 `yaml:"scarcity_pressure"`
	PriceMin         float64 `yaml:"price_min"`
	PriceMax         float64 `yaml:"price_max"`
}

type MeteoRules struct {
	ExposureHealthPerHour float64 `yaml:"exposure_health_per_hour"`
}

type EpistemicRules struct {
	LearnRate         float64 `yaml:"learn_rate"`
	ForgetPerDay      float64 `yaml:"forget_per_day"`
	LostBelow         float64 `yaml:"lost_below"`
	ActivityRetention float64 `yaml:"activity_retention"`
}

type EcologyRules struct {
	RegenPerHour     float64 `yaml:"regen_per_hour"`
	HarvestDepletion float64 `yaml:"harvest_depletion"`
}

// BaseMaterial is a rule-file material definition.
type BaseMaterial struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Props       world.MaterialProps `yaml:"properties"`
}

// Load reads and validates a rule file.
func Load(path string) (*Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	r.applyDefaults()
	return &r, nil
}

// Default returns the built-in rule set used when no rule file exists.
func Default() *Rules {
	r := &Rules{Version: 1, Seed: 1337}
	r.applyDefaults()
	r.Materials = []BaseMaterial{
		{Name: "Scrap Iron", Description: "Rust-pitted salvage metal.",
			Props: world.MaterialProps{Hardness: 0.6, Flammability: 0.05, DecayRate: 0.002, Conductivity: 0.7}},
		{Name: "Driftwood", Description: "Warped, salt-bleached timber.",
			Props: world.MaterialProps{Hardness: 0.3, Flammability: 0.7, DecayRate: 0.004}},
		{Name: "Tarp Cloth", Description: "Patched synthetic fabric.",
			Props: world.MaterialProps{Hardness: 0.1, Flammability: 0.5, DecayRate: 0.003}},
	}
	return r
}

func (r *Rules) applyDefaults() {
	if r.World.OriginZoneRadius == 0 {
		r.World.OriginZoneRadius = 5
	}
	if r.World.CityLatitude == 0 {
		r.World.CityLatitude = 100
	}
	if r.World.SpawnScatter == 0 {
		r.World.SpawnScatter = 10
	}
	if r.Inventory.MaxSlots == 0 {
		r.Inventory.MaxSlots = 20
	}
	if r.Inventory.MaxWeight == 0 {
		r.Inventory.MaxWeight = 50
	}
	e := &r.Engines
	if e.Bio.HungerPerHour == 0 {
		e.Bio.HungerPerHour = 0.01
	}
	if e.Bio.StarvingHealthPerHour == 0 {
		e.Bio.StarvingHealthPerHour = 0.02
	}
	if e.Bio.DiseaseChance == 0 {
		e.Bio.DiseaseChance = 0.35
	}
	if e.Bio.DiseaseHealthTick == 0 {
		e.Bio.DiseaseHealthTick = 0.05
	}
	if e.Bio.EffectHealthTick == 0 {
		e.Bio.EffectHealthTick = 0.01
	}
	if e.Decay.BaseRatePerHour == 0 {
		e.Decay.BaseRatePerHour = 0.001
	}
	if e.Decay.PollutionFactor == 0 {
		e.Decay.PollutionFactor = 2.0
	}
	if e.Social.DriftPerHour == 0 {
		e.Social.DriftPerHour = 0.005
	}
	if e.Social.ImpactScale == 0 {
		e.Social.ImpactScale = 0.1
	}
	if e.Economic.ScarcityPressure == 0 {
		e.Economic.ScarcityPressure = 0.05
	}
	if e.Economic.PriceMin == 0 {
		e.Economic.PriceMin = 0.1
	}
	if e.Economic.PriceMax == 0 {
		e.Economic.PriceMax = 10
	}
	if e.Meteorological.ExposureHealthPerHour == 0 {
		e.Meteorological.ExposureHealthPerHour = 0.02
	}
	if e.Epistemic.LearnRate == 0 {
		e.Epistemic.LearnRate = 0.1
	}
	if e.Epistemic.ForgetPerDay == 0 {
		e.Epistemic.ForgetPerDay = 0.002
	}
	if e.Epistemic.LostBelow == 0 {
		e.Epistemic.LostBelow = 0.05
	}
	if e.Epistemic.ActivityRetention == 0 {
		e.Epistemic.ActivityRetention = 0.05
	}
	if e.Ecological.RegenPerHour == 0 {
		e.Ecological.RegenPerHour = 0.01
	}
	if e.Ecological.HarvestDepletion == 0 {
		e.Ecological.HarvestDepletion = 0.05
	}
	if r.Judgment.Directives == "" {
		r.Judgment.Directives = defaultDirectives
	}
}

const defaultDirectives = `Strict realism by default: an implausible action fails.
"Magic" requires a specific physical mechanism to succeed.
Every person met, item found, or structure entered must appear in the proposed world update.
Value is scarcity times utility: there are no fixed prices.
Lost technology cannot be used until rediscovered.`
