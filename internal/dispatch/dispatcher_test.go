package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/talgya/omniworld/internal/broadcast"
	"github.com/talgya/omniworld/internal/engine"
	"github.com/talgya/omniworld/internal/judge"
	"github.com/talgya/omniworld/internal/metrics"
	"github.com/talgya/omniworld/internal/registry"
	"github.com/talgya/omniworld/internal/rules"
	"github.com/talgya/omniworld/internal/store"
	"github.com/talgya/omniworld/internal/world"
)

type stubOracle struct {
	fn func(ctx context.Context, req judge.Request) (*judge.Verdict, error)
}

func (o *stubOracle) Judge(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
	return o.fn(ctx, req)
}

func verdictOf(t *testing.T, raw string) *judge.Verdict {
	t.Helper()
	v, err := judge.ParseVerdict(raw)
	if err != nil {
		t.Fatalf("test verdict invalid: %v", err)
	}
	return v
}

// memCatalog satisfies registry.Persister without a database.
type memCatalog struct {
	mu         sync.Mutex
	materials  []*world.Material
	blueprints []*world.Blueprint
}

func (c *memCatalog) SaveMaterial(m *world.Material) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materials = append(c.materials, m)
	return nil
}

func (c *memCatalog) SaveBlueprint(b *world.Blueprint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blueprints = append(c.blueprints, b)
	return nil
}

func (c *memCatalog) LoadMaterials() ([]*world.Material, error)   { return nil, nil }
func (c *memCatalog) LoadBlueprints() ([]*world.Blueprint, error) { return nil, nil }

type harness struct {
	d   *Dispatcher
	st  *store.Store
	reg *registry.Registry
}

func newHarness(t *testing.T, oracle judge.Oracle) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := rules.Default()
	r.World.CityLatitude = 8 // bring the walled city close for move tests

	biomes := world.NewBiomeField(r.Seed, r.World.OriginZoneRadius, r.World.CityLatitude)
	st := store.New(nil, biomes, store.Limits{
		MaxSlots:  r.Inventory.MaxSlots,
		MaxWeight: r.Inventory.MaxWeight,
	})
	reg := registry.New(&memCatalog{}, log)
	d := New(st, reg,
		engine.NewSet(r, log), oracle, r,
		engine.NewMeteorology(r.Seed), biomes,
		broadcast.NewHub(log, nil), metrics.New(), log,
		2, time.Second)
	return &harness{d: d, st: st, reg: reg}
}

// spawnAt creates an actor and walks them to an exact position so tests are
// deterministic despite scattered spawns.
func (h *harness) spawnAt(t *testing.T, name string, pos world.Coord) *world.Actor {
	t.Helper()
	a, err := h.st.EnsureActor(name, 3)
	if err != nil {
		t.Fatalf("EnsureActor: %v", err)
	}
	step := world.Coord{X: pos.X - a.Pos.X, Y: pos.Y - a.Pos.Y, Z: pos.Z - a.Pos.Z}
	if _, err := h.st.Commit(&world.Delta{
		Actors: map[world.EntityID]*world.ActorChange{a.ID: {Move: &step}},
	}, map[world.EntityID]uint64{a.ID: h.st.Version(a.ID)}); err != nil {
		t.Fatalf("place actor: %v", err)
	}
	fresh, _ := h.st.ActorByID(a.ID)
	return fresh
}

func (h *harness) kill(t *testing.T, id world.EntityID) {
	t.Helper()
	if _, err := h.st.Commit(&world.Delta{
		Actors: map[world.EntityID]*world.ActorChange{id: {Health: -2}},
	}, map[world.EntityID]uint64{id: h.st.Version(id)}); err != nil {
		t.Fatalf("kill: %v", err)
	}
}

func TestDoCommitsJudgedAction(t *testing.T) {
	const raw = `{
	  "success": true,
	  "narrative": "You dig through the heap and come up with usable wire.",
	  "user_update": {
	    "inventory_change": {"add": [{"name": "copper wire", "qty": 2}]},
	    "hunger_delta": 0.01
	  }
	}`
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return verdictOf(t, raw), nil
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})

	res, err := h.d.Do(context.Background(), a.ID, "dig through the scrap heap for wire")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.State != world.StateCommitted {
		t.Fatalf("state = %s, want committed (%s)", res.State, res.Narrative)
	}
	if !strings.Contains(res.Narrative, "usable wire") {
		t.Errorf("narrative = %q", res.Narrative)
	}
	if res.Actor == nil || !res.Actor.HasItem("copper wire", 2) {
		t.Errorf("inventory not applied: %+v", res.Actor)
	}
	cell, ok := h.st.CellByID(world.CellID(res.Actor.Pos))
	if !ok || !strings.Contains(cell.Scene, "usable wire") {
		t.Errorf("narrative not recorded on the cell: %+v", cell)
	}
}

func TestDoRejectedCommitsNothing(t *testing.T) {
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return verdictOf(t, `{"success": false, "narrative": "The wall does not move."}`), nil
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})
	before := h.st.Version(a.ID)

	res, err := h.d.Do(context.Background(), a.ID, "push the city wall over")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.State != world.StateRejected {
		t.Fatalf("state = %s, want rejected", res.State)
	}
	if res.Narrative != "The wall does not move." {
		t.Errorf("narrative = %q", res.Narrative)
	}
	if h.st.Version(a.ID) != before {
		t.Error("a rejected action must not touch the world")
	}
}

func TestDoOracleErrorFailsAndReleasesScope(t *testing.T) {
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return nil, judge.ErrUnavailable
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})

	for i := 0; i < 2; i++ {
		res, err := h.d.Do(context.Background(), a.ID, "shout into the haze")
		if err != nil {
			t.Fatalf("Do #%d: %v", i, err)
		}
		if res.State != world.StateFailed {
			t.Fatalf("Do #%d state = %s, want failed", i, res.State)
		}
	}
}

func TestDoJudgmentTimeout(t *testing.T) {
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	h.d.judgeTimeout = 50 * time.Millisecond
	a := h.spawnAt(t, "Vex", world.Coord{})

	start := time.Now()
	res, err := h.d.Do(context.Background(), a.ID, "wait for an answer")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.State != world.StateFailed {
		t.Fatalf("state = %s, want failed on timeout", res.State)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not bound the judgment")
	}
}

func TestDoValidation(t *testing.T) {
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		t.Fatal("invalid actions must never reach the oracle")
		return nil, nil
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})

	if _, err := h.d.Do(context.Background(), a.ID, "   "); !errors.Is(err, ErrEmptyAction) {
		t.Errorf("empty action err = %v", err)
	}
	if _, err := h.d.Do(context.Background(), a.ID, strings.Repeat("x", 501)); !errors.Is(err, ErrActionTooLong) {
		t.Errorf("long action err = %v", err)
	}
	if _, err := h.d.Do(context.Background(), "actor:nobody", "hello"); !errors.Is(err, ErrActorUnknown) {
		t.Errorf("unknown actor err = %v", err)
	}
	h.kill(t, a.ID)
	if _, err := h.d.Do(context.Background(), a.ID, "stand up"); !errors.Is(err, ErrActorDead) {
		t.Errorf("dead actor err = %v", err)
	}
}

func TestDoRegistersInventions(t *testing.T) {
	const raw = `{
	  "success": true,
	  "narrative": "The melted glass hardens into a workable lump.",
	  "new_discovery": {"name": "Glass Slag", "properties": {"hardness": 0.5}}
	}`
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return verdictOf(t, raw), nil
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})

	if _, err := h.d.Do(context.Background(), a.ID, "melt bottle shards over the fire"); err != nil {
		t.Fatalf("Do: %v", err)
	}
	m, ok := h.reg.Material("glass_slag")
	if !ok {
		t.Fatal("discovery did not reach the registry")
	}
	if m.Creator != "Vex" {
		t.Errorf("creator = %q, want Vex", m.Creator)
	}
}

func TestDoFollowsActorAcrossCells(t *testing.T) {
	sprint := verdictOf(t, `{
	  "success": true,
	  "narrative": "You sprint east past the boundary markers.",
	  "user_update": {"position_delta": {"x": 20}}
	}`)
	dig := verdictOf(t, `{
	  "success": true,
	  "narrative": "You pry a hinge from the wreck.",
	  "user_update": {"inventory_change": {"add": [{"name": "rusty hinge", "qty": 1}]}}
	}`)

	started := make(chan struct{})
	release := make(chan struct{})
	firstCall := make(chan struct{}, 1)
	firstCall <- struct{}{}
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		select {
		case <-firstCall:
			close(started)
			<-release
			return sprint, nil
		default:
			return dig, nil
		}
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})

	type outcome struct {
		res *Result
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		res, err := h.d.Do(context.Background(), a.ID, "sprint east past the markers")
		firstDone <- outcome{res, err}
	}()
	<-started

	// The second action arrives while the first still holds the actor and is
	// about to carry them into the next region cell.
	secondDone := make(chan outcome, 1)
	go func() {
		res, err := h.d.Do(context.Background(), a.ID, "pry a hinge from the wreck")
		secondDone <- outcome{res, err}
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	first := <-firstDone
	second := <-secondDone
	if first.err != nil || first.res.State != world.StateCommitted {
		t.Fatalf("first action: %+v, %v", first.res, first.err)
	}
	if second.err != nil {
		t.Fatalf("second action: %v", second.err)
	}
	if second.res.State != world.StateCommitted {
		t.Fatalf("second state = %s (%s), want committed in the new cell",
			second.res.State, second.res.Narrative)
	}
	fresh, _ := h.st.ActorByID(a.ID)
	if fresh.Pos.X != 20 {
		t.Errorf("pos = %v, want x=20 after the sprint", fresh.Pos)
	}
	if !fresh.HasItem("rusty hinge", 1) {
		t.Errorf("second action's loot missing: %+v", fresh.Inventory)
	}
}

func TestDoRejectedActionKeepsInventionOut(t *testing.T) {
	const raw = `{
	  "success": true,
	  "narrative": "You hammer the slag into a strangely dense ingot.",
	  "user_update": {"inventory_change": {"add": [{"name": "dense ingot", "qty": 10}]}},
	  "new_discovery": {"name": "Densite", "properties": {"hardness": 0.9}}
	}`
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return verdictOf(t, raw), nil
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})

	// Load the actor to just under the carry limit so the judged gain trips
	// the inventory invariant at commit.
	if _, err := h.st.Commit(&world.Delta{
		Actors: map[world.EntityID]*world.ActorChange{
			a.ID: {Items: []world.ItemRef{{Name: "scrap plate", Qty: 48}}},
		},
	}, map[world.EntityID]uint64{a.ID: h.st.Version(a.ID)}); err != nil {
		t.Fatalf("preload inventory: %v", err)
	}

	res, err := h.d.Do(context.Background(), a.ID, "hammer the slag into an ingot")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.State != world.StateRejected {
		t.Fatalf("state = %s, want rejected by the carry limit", res.State)
	}
	if _, ok := h.reg.Material("densite"); ok {
		t.Error("a discovery from a rejected action must not enter the catalog")
	}
}

func TestMoveUpdatesPositionAndDescribes(t *testing.T) {
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return nil, judge.ErrUnavailable // moves bypass judgment
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})

	res, err := h.d.Move(context.Background(), a.ID, world.Coord{X: 3})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if res.State != world.StateCommitted {
		t.Fatalf("state = %s, want committed", res.State)
	}
	fresh, _ := h.st.ActorByID(a.ID)
	if fresh.Pos.X != 3 || fresh.Pos.Y != 0 {
		t.Errorf("pos = %v, want (3,0)", fresh.Pos)
	}
	if !strings.Contains(res.Narrative, "Junkyard") {
		t.Errorf("move should describe the destination, got %q", res.Narrative)
	}

	if _, err := h.d.Move(context.Background(), a.ID, world.Coord{X: 11}); err == nil {
		t.Error("an 11-step move should be refused")
	}
	if _, err := h.d.Move(context.Background(), a.ID, world.Coord{}); err == nil {
		t.Error("a zero move should be refused")
	}
}

func TestMoveIntoRestrictedBiome(t *testing.T) {
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return nil, judge.ErrUnavailable
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})

	// City latitude is 8 in the harness; 9 steps north crosses the wall.
	res, err := h.d.Move(context.Background(), a.ID, world.Coord{Y: 9})
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if res.State != world.StateRejected {
		t.Fatalf("state = %s, want rejected at the wall", res.State)
	}
	fresh, _ := h.st.ActorByID(a.ID)
	if fresh.Pos.Y != 0 {
		t.Errorf("rejected move must not change position, pos = %v", fresh.Pos)
	}
}

func TestRespawn(t *testing.T) {
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return nil, judge.ErrUnavailable
	}})
	a := h.spawnAt(t, "Vex", world.Coord{X: 40, Y: -20, Z: -3})

	if _, err := h.d.Respawn(context.Background(), a.ID); !errors.Is(err, ErrNotDead) {
		t.Fatalf("respawning alive err = %v, want ErrNotDead", err)
	}

	h.kill(t, a.ID)
	res, err := h.d.Respawn(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Respawn: %v", err)
	}
	if res.State != world.StateCommitted {
		t.Fatalf("state = %s, want committed", res.State)
	}
	fresh, _ := h.st.ActorByID(a.ID)
	if fresh.Dead {
		t.Fatal("actor should be alive after respawn")
	}
	if fresh.Health != 1 {
		t.Errorf("health = %f, want full", fresh.Health)
	}
	if fresh.Pos.Z != 0 {
		t.Errorf("respawn should surface the actor, z = %d", fresh.Pos.Z)
	}
	scatter := h.d.rules.World.SpawnScatter
	if dist := fresh.Pos.Dist(world.Coord{}); dist > 2*scatter {
		t.Errorf("respawn position %v too far from origin", fresh.Pos)
	}
}

func TestLookScene(t *testing.T) {
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return nil, judge.ErrUnavailable
	}})
	a := h.spawnAt(t, "Vex", world.Coord{})
	h.spawnAt(t, "Moth", world.Coord{X: 2})
	obj := &world.Object{ID: world.NewObjectID(), Name: "burnt-out generator", Pos: world.Coord{X: 1}}
	h.st.Commit(&world.Delta{Create: []*world.Object{obj}}, nil)

	sc := h.d.Look(a.ID)
	if sc.Biome.Type != world.BiomeJunkyard {
		t.Errorf("biome = %s, want junkyard at origin", sc.Biome.Type)
	}
	if len(sc.Objects) != 1 || sc.Objects[0].Name != "burnt-out generator" {
		t.Errorf("objects = %+v", sc.Objects)
	}
	if len(sc.Others) != 1 || !strings.Contains(sc.Others[0], "Moth") {
		t.Errorf("others = %v", sc.Others)
	}
	if desc := sc.Describe(); !strings.Contains(desc, "burnt-out generator") {
		t.Errorf("Describe() = %q", desc)
	}
}

func TestTickAllRunsClean(t *testing.T) {
	h := newHarness(t, &stubOracle{fn: func(ctx context.Context, req judge.Request) (*judge.Verdict, error) {
		return nil, judge.ErrUnavailable
	}})
	h.spawnAt(t, "Vex", world.Coord{})
	obj := &world.Object{ID: world.NewObjectID(), Name: "tin shack", Pos: world.Coord{X: 1}, Durability: 1}
	h.st.Commit(&world.Delta{Create: []*world.Object{obj}}, nil)

	// Freshly created state has nothing to simulate; the pass must still
	// visit every active cell without error or deadlock.
	h.d.TickAll(context.Background())
	h.d.TickAll(context.Background())
}
