package engine

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/world"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(now time.Time) *Context {
	actor := &world.Actor{
		ID:        world.NewActorID(),
		Name:      "Vex",
		Pos:       world.Coord{X: 2, Y: 2},
		Health:    1,
		Hunger:    0.2,
		UpdatedAt: now.Add(-2 * time.Hour),
	}
	cell := &world.Cell{
		ID:        world.CellID(actor.Pos),
		Abundance: 0.5,
		UpdatedAt: now.Add(-2 * time.Hour),
	}
	return &Context{
		Snap: &world.Snapshot{
			Taken:   now,
			Actor:   actor,
			Objects: map[world.EntityID]*world.Object{},
			Cell:    cell,
			Biome:   world.Biome{Type: world.BiomeWasteland},
		},
		Now:  now,
		Rand: rand.New(rand.NewSource(1)),
	}
}

func TestBioHungerAccrues(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	e := &BioEngine{cfg: rules.BioRules{HungerPerHour: 0.01, StarvingHealthPerHour: 0.02}}

	d := e.Apply(ctx)
	ch := d.Actors[ctx.Snap.Actor.ID]
	if ch == nil {
		t.Fatal("expected an actor change")
	}
	if ch.Hunger < 0.019 || ch.Hunger > 0.021 {
		t.Errorf("2h hunger gain = %f, want ~0.02", ch.Hunger)
	}
	if ch.Health != 0 {
		t.Errorf("not starving yet, health delta = %f", ch.Health)
	}
}

func TestBioStarvationBurnsHealth(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	ctx.Snap.Actor.Hunger = 0.99
	ctx.Snap.Actor.UpdatedAt = now.Add(-10 * time.Hour)
	e := &BioEngine{cfg: rules.BioRules{HungerPerHour: 0.01, StarvingHealthPerHour: 0.02}}

	d := e.Apply(ctx)
	ch := d.Actors[ctx.Snap.Actor.ID]
	if ch == nil || ch.Health >= 0 {
		t.Fatalf("starving actor should lose health, got %+v", ch)
	}
}

func TestBioContaminatedWaterDisease(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	ctx.Snap.Biome = world.Biome{Type: world.BiomeSwamp, ContaminatedWater: true}
	ctx.Outcome = &world.Outcome{
		Accepted: true,
		Proposed: world.Delta{Actors: map[world.EntityID]*world.ActorChange{
			ctx.Snap.Actor.ID: {Items: []world.ItemRef{{Name: "murky water", Qty: -1}}},
		}},
	}
	e := &BioEngine{cfg: rules.BioRules{HungerPerHour: 0.01, DiseaseChance: 1.0}}

	d := e.Apply(ctx)
	ch := d.Actors[ctx.Snap.Actor.ID]
	if ch == nil || len(ch.Diseases) == 0 {
		t.Fatal("drinking contaminated water at certain risk should infect")
	}
}

func TestDecayDestroysAtZero(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	fragileID := world.NewObjectID()
	sturdyID := world.NewObjectID()
	ctx.Snap.Objects[fragileID] = &world.Object{
		ID: fragileID, Name: "rotten plank", Durability: 0.001,
		UpdatedAt: now.Add(-10 * time.Hour),
	}
	ctx.Snap.Objects[sturdyID] = &world.Object{
		ID: sturdyID, Name: "iron beam", Durability: 1,
		UpdatedAt: now.Add(-10 * time.Hour),
	}
	e := &DecayEngine{cfg: rules.DecayRules{BaseRatePerHour: 0.001, PollutionFactor: 2}}

	d := e.Apply(ctx)
	if len(d.Destroy) != 1 || d.Destroy[0] != fragileID {
		t.Errorf("rotten plank should crumble: %+v", d.Destroy)
	}
	if ch := d.Objects[sturdyID]; ch == nil || ch.Durability >= 0 {
		t.Errorf("iron beam should lose some durability: %+v", ch)
	}
}

func TestEcologyRegenAndDepletion(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	e := &EcologyEngine{cfg: rules.EcologyRules{RegenPerHour: 0.01, HarvestDepletion: 0.05}}

	d := e.Apply(ctx)
	ch := d.Cells[ctx.Snap.Cell.ID]
	if ch == nil || ch.Abundance <= 0 {
		t.Fatalf("idle cell should regenerate: %+v", ch)
	}

	ctx.Outcome = &world.Outcome{
		Accepted: true,
		Proposed: world.Delta{Actors: map[world.EntityID]*world.ActorChange{
			ctx.Snap.Actor.ID: {Items: []world.ItemRef{{Name: "roots", Qty: 4}}},
		}},
	}
	d = e.Apply(ctx)
	ch = d.Cells[ctx.Snap.Cell.ID]
	if ch == nil || ch.Abundance >= 0 {
		t.Errorf("harvest should deplete more than regen restores: %+v", ch)
	}
}

func TestEpistemicForgetAndLose(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	ctx.Snap.Actor.UpdatedAt = now.Add(-24 * time.Hour)
	ctx.Snap.Actor.Knowledge = map[string]float64{
		"smelting":     0.5,
		"radio repair": 0.051,
	}
	e := &EpistemicEngine{cfg: rules.EpistemicRules{LearnRate: 0.1, ForgetPerDay: 0.002, LostBelow: 0.05}}

	d := e.Apply(ctx)
	ch := d.Actors[ctx.Snap.Actor.ID]
	if ch == nil {
		t.Fatal("expected knowledge decay")
	}
	if ch.Knowledge["smelting"] >= 0 {
		t.Errorf("smelting should decay, delta = %f", ch.Knowledge["smelting"])
	}
	if ch.Knowledge["radio repair"] != -0.051 {
		t.Errorf("knowledge under the floor should be lost outright, delta = %f", ch.Knowledge["radio repair"])
	}
}

func TestEpistemicActivitySlowsForgetting(t *testing.T) {
	now := time.Now()
	e := &EpistemicEngine{cfg: rules.EpistemicRules{
		LearnRate: 0.1, ForgetPerDay: 0.01, LostBelow: 0.05, ActivityRetention: 0.05,
	}}

	decayAt := func(activity float64) float64 {
		ctx := testContext(now)
		ctx.Snap.Actor.UpdatedAt = now.Add(-24 * time.Hour)
		ctx.Snap.Actor.Knowledge = map[string]float64{"smelting": 0.5}
		ctx.Activity = activity
		d := e.Apply(ctx)
		ch := d.Actors[ctx.Snap.Actor.ID]
		if ch == nil {
			t.Fatal("expected knowledge decay")
		}
		return -ch.Knowledge["smelting"]
	}

	quiet := decayAt(0)
	busy := decayAt(10)
	if busy >= quiet {
		t.Errorf("a busy world should slow forgetting: quiet = %f, busy = %f", quiet, busy)
	}
	if decayAt(20) != decayAt(1000) {
		t.Error("activity retention should saturate, not grow without bound")
	}
}

func TestEcologyMoistureBiasesRegen(t *testing.T) {
	now := time.Now()
	e := &EcologyEngine{cfg: rules.EcologyRules{RegenPerHour: 0.01, HarvestDepletion: 0.05}}

	regenAt := func(moisture float64) float64 {
		ctx := testContext(now)
		ctx.Moisture = moisture
		d := e.Apply(ctx)
		ch := d.Cells[ctx.Snap.Cell.ID]
		if ch == nil {
			t.Fatal("idle cell should regenerate")
		}
		return ch.Abundance
	}

	dry := regenAt(0)
	wet := regenAt(1)
	if wet <= dry {
		t.Errorf("rainfall should speed regrowth: dry = %f, wet = %f", dry, wet)
	}
}

func TestBioInfectionLeavesLingeringEffect(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	ctx.Snap.Biome = world.Biome{Type: world.BiomeSwamp, ContaminatedWater: true}
	ctx.Outcome = &world.Outcome{
		Accepted: true,
		Proposed: world.Delta{Actors: map[world.EntityID]*world.ActorChange{
			ctx.Snap.Actor.ID: {Items: []world.ItemRef{{Name: "murky water", Qty: -1}}},
		}},
	}
	e := &BioEngine{cfg: rules.BioRules{HungerPerHour: 0.01, DiseaseChance: 1.0}}

	d := e.Apply(ctx)
	ch := d.Actors[ctx.Snap.Actor.ID]
	if ch == nil || ch.Effects["feverish"] <= 0 {
		t.Fatalf("infection should leave a timed fever: %+v", ch)
	}
}

func TestBioActiveEffectBurnsHealth(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	ctx.Snap.Actor.Effects = map[string]time.Time{
		"feverish": now.Add(12 * time.Hour),
		"winded":   now.Add(-time.Hour), // already expired
	}
	e := &BioEngine{cfg: rules.BioRules{HungerPerHour: 0.01, EffectHealthTick: 0.01}}

	d := e.Apply(ctx)
	ch := d.Actors[ctx.Snap.Actor.ID]
	if ch == nil || ch.Health >= 0 {
		t.Fatalf("an active fever should cost health: %+v", ch)
	}
	if ch.Health < -0.021 || ch.Health > -0.019 {
		t.Errorf("only the live effect ticks over 2h: health delta = %f, want ~-0.02", ch.Health)
	}
}

func TestMeteoExposure(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	ctx.Weather = Weather{Condition: "acid_rain", Severity: 0.8}
	e := &MeteoEngine{cfg: rules.MeteoRules{ExposureHealthPerHour: 0.02}}

	d := e.Apply(ctx)
	if ch := d.Actors[ctx.Snap.Actor.ID]; ch == nil || ch.Health >= 0 {
		t.Fatalf("severe weather should cost health: %+v", ch)
	}

	ctx.Snap.Actor.Pos.Z = -5
	if d := e.Apply(ctx); len(d.Actors) != 0 {
		t.Error("underground actors are sheltered from weather")
	}
}

func TestResolveBoundsJudgedGains(t *testing.T) {
	now := time.Now()
	r := rules.Default()
	set := NewSet(r, testLogger())
	ctx := testContext(now)
	ctx.Snap.Cell.Abundance = 0 // nothing to harvest
	ctx.Outcome = &world.Outcome{
		Accepted: true,
		Proposed: world.Delta{Actors: map[world.EntityID]*world.ActorChange{
			ctx.Snap.Actor.ID: {
				Health:    0.9, // implausibly large heal
				Items:     []world.ItemRef{{Name: "mushrooms", Qty: 50}},
				Knowledge: map[string]float64{"foraging": 0.9},
			},
		}},
	}

	d := set.Resolve(ctx)
	ch := d.Actors[ctx.Snap.Actor.ID]
	if ch == nil {
		t.Fatal("expected actor change")
	}
	// Health also carries passive adjustments; the judged part is capped at 0.5.
	if ch.Health > 0.5 {
		t.Errorf("heal = %f, want capped at 0.5", ch.Health)
	}
	totalGain := 0
	for _, it := range ch.Items {
		if it.Qty > 0 {
			totalGain += it.Qty
		}
	}
	if totalGain > 4 {
		t.Errorf("harvest from a barren cell = %d, want at most the base allowance", totalGain)
	}
	if ch.Knowledge["foraging"] > r.Engines.Epistemic.LearnRate {
		t.Errorf("learning = %f, want capped at learn rate", ch.Knowledge["foraging"])
	}
}

func TestWeatherDeterministic(t *testing.T) {
	at := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	biome := world.Biome{Type: world.BiomeDesert}
	a := NewMeteorology(42).At(world.Coord{X: 60, Y: 0}, biome, at)
	b := NewMeteorology(42).At(world.Coord{X: 60, Y: 0}, biome, at)
	if a != b {
		t.Errorf("same seed, place, time gave different weather: %+v vs %+v", a, b)
	}
	if a.Condition == "rain" || a.Condition == "storm" {
		t.Errorf("deserts get sandstorms, not %s", a.Condition)
	}
}

func TestSocialDriftTowardNeutral(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	ctx.Snap.Actor.Reputation = 0.5
	ctx.Snap.Cell.Atmosphere = -0.5
	e := &SocialEngine{cfg: rules.SocialRules{DriftPerHour: 0.005, ImpactScale: 0.1}}

	d := e.Apply(ctx)
	if ch := d.Actors[ctx.Snap.Actor.ID]; ch == nil || ch.Reputation >= 0 {
		t.Errorf("positive reputation should drift down: %+v", d.Actors)
	}
	if ch := d.Cells[ctx.Snap.Cell.ID]; ch == nil || ch.Atmosphere <= 0 {
		t.Errorf("hostile atmosphere should drift up: %+v", d.Cells)
	}
}

func TestEconomicScarcityPressure(t *testing.T) {
	now := time.Now()
	ctx := testContext(now)
	ctx.Snap.Cell.Abundance = 0.1 // scarce
	ctx.Outcome = &world.Outcome{
		Accepted: true,
		Proposed: world.Delta{Actors: map[world.EntityID]*world.ActorChange{
			ctx.Snap.Actor.ID: {Items: []world.ItemRef{{Name: "Scrap Iron", Qty: 2}}},
		}},
	}
	e := &EconomicEngine{cfg: rules.EconomicRules{ScarcityPressure: 0.05}}

	d := e.Apply(ctx)
	ch := d.Cells[ctx.Snap.Cell.ID]
	if ch == nil || ch.Prices["scrap_iron"] <= 0 {
		t.Errorf("extracting from a scarce cell should raise the price: %+v", ch)
	}
}
