package judge

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/talgya/omniworld/internal/world"
)

const goodVerdict = `{
  "success": true,
  "narrative": "You pry the panel loose and pocket the copper wire inside.",
  "world_update": {
    "modify": [{"name": "vending machine", "durability_delta": -0.2}]
  },
  "user_update": {
    "status_desc": "Grease-stained but satisfied",
    "inventory_change": {"add": [{"name": "copper wire", "qty": 3}]},
    "hunger_delta": 0.02
  },
  "risks": {"injury": 0.1},
  "engine_notes": ["the machine is close to falling apart"]
}`

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict("Here is my ruling:\n" + goodVerdict + "\nDone.")
	if err != nil {
		t.Fatalf("ParseVerdict: %v", err)
	}
	if !v.Success {
		t.Error("success should parse true")
	}
	if len(v.WorldUpdate.Modify) != 1 || v.WorldUpdate.Modify[0].DurabilityDelta != -0.2 {
		t.Errorf("modify parsed wrong: %+v", v.WorldUpdate.Modify)
	}
	if v.UserUpdate.InventoryChange.Add[0].Qty != 3 {
		t.Errorf("inventory add parsed wrong: %+v", v.UserUpdate.InventoryChange)
	}
	if v.Risks["injury"] != 0.1 {
		t.Errorf("risks parsed wrong: %v", v.Risks)
	}
}

func TestParseVerdictRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no json", "the action fails because it is silly"},
		{"not an object", "[1, 2, 3]"},
		{"missing narrative", `{"success": true}`},
		{"out of range delta", `{"success": true, "narrative": "x", "user_update": {"health_delta": 5}}`},
		{"oversized position", `{"success": true, "narrative": "x", "user_update": {"position_delta": {"x": 9000}}}`},
		{"bad qty", `{"success": true, "narrative": "x", "user_update": {"inventory_change": {"add": [{"name": "gold", "qty": 0}]}}}`},
	}
	for _, tt := range tests {
		if _, err := ParseVerdict(tt.raw); !errors.Is(err, ErrBadVerdict) {
			t.Errorf("%s: err = %v, want ErrBadVerdict", tt.name, err)
		}
	}
}

func testRequest() Request {
	actor := &world.Actor{
		ID:     world.NewActorID(),
		Name:   "Vex",
		Pos:    world.Coord{X: 2, Y: 3},
		Health: 0.8,
		Inventory: []world.ItemRef{
			{Name: "copper wire", Qty: 1},
		},
		UpdatedAt: time.Now(),
	}
	machineID := world.NewObjectID()
	snap := &world.Snapshot{
		Taken: time.Now(),
		Actor: actor,
		Objects: map[world.EntityID]*world.Object{
			machineID: {ID: machineID, Name: "vending machine", Pos: actor.Pos, Durability: 0.5},
		},
		Cell:  &world.Cell{ID: world.CellID(actor.Pos), Abundance: 0.8},
		Biome: world.Biome{Type: world.BiomeJunkyard, Description: "scrap heaps"},
	}
	return Request{ActionText: "pry open the vending machine", Actor: actor, Snapshot: snap}
}

func TestBuildOutcomeResolvesNames(t *testing.T) {
	v, err := ParseVerdict(goodVerdict)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req := testRequest()
	out := BuildOutcome(v, req)

	if !out.Accepted {
		t.Fatal("outcome should be accepted")
	}
	if len(out.Proposed.Objects) != 1 {
		t.Fatalf("object change not resolved: %+v", out.Proposed.Objects)
	}
	for _, ch := range out.Proposed.Objects {
		if ch.Durability != -0.2 {
			t.Errorf("durability = %f, want -0.2", ch.Durability)
		}
	}
	ach := out.Proposed.Actors[req.Actor.ID]
	if ach == nil {
		t.Fatal("actor change missing")
	}
	if len(ach.Items) != 1 || ach.Items[0].Qty != 3 {
		t.Errorf("items = %+v, want copper wire x3", ach.Items)
	}
	if ach.Status == nil || *ach.Status != "Grease-stained but satisfied" {
		t.Errorf("status = %v", ach.Status)
	}
}

func TestBuildOutcomeUnresolvedTargetDropped(t *testing.T) {
	v := &Verdict{Success: true, Narrative: "x"}
	v.WorldUpdate.Destroy = []string{"nonexistent shrine"}
	out := BuildOutcome(v, testRequest())
	if len(out.Proposed.Destroy) != 0 {
		t.Error("unknown destroy target should be dropped, not guessed")
	}
	found := false
	for _, n := range out.Proposed.Notes {
		if strings.Contains(n, "unresolved destroy") {
			found = true
		}
	}
	if !found {
		t.Error("dropped target should leave a note")
	}
}

func TestBuildOutcomeRemovalsNegate(t *testing.T) {
	v := &Verdict{Success: true, Narrative: "x"}
	v.UserUpdate.InventoryChange.Remove = []world.ItemRef{{Name: "copper wire", Qty: 1}}
	out := BuildOutcome(v, testRequest())
	ach := out.Proposed.Actors[out.Proposed.Touched()[0]]
	if ach == nil || len(ach.Items) != 1 || ach.Items[0].Qty != -1 {
		t.Errorf("removal should become a negative item delta: %+v", ach)
	}
}

func TestBuildOutcomeRejectedCarriesNothing(t *testing.T) {
	v := &Verdict{Success: false, Narrative: "The wall does not move."}
	v.UserUpdate.HealthDelta = -0.5
	out := BuildOutcome(v, testRequest())
	if out.Accepted {
		t.Error("outcome should be rejected")
	}
	if !out.Proposed.Empty() {
		t.Error("a rejected verdict must propose no changes")
	}
}

func TestBuildOutcomeInventions(t *testing.T) {
	raw := `{
	  "success": true,
	  "narrative": "The slag cools into something new.",
	  "new_discovery": {"name": "Glass Slag", "properties": {"hardness": 0.5}},
	  "new_object_type": {"name": "Slag Knife", "inputs": [{"name": "glass slag", "qty": 2}], "output": "slag knife"}
	}`
	v, err := ParseVerdict(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := BuildOutcome(v, testRequest())
	if out.NewMaterial == nil || out.NewMaterial.ID != "glass_slag" {
		t.Errorf("material = %+v", out.NewMaterial)
	}
	if out.NewMaterial.Creator != "Vex" {
		t.Errorf("creator should be the actor, got %q", out.NewMaterial.Creator)
	}
	if out.NewBlueprint == nil || out.NewBlueprint.ID != "slag_knife" {
		t.Errorf("blueprint = %+v", out.NewBlueprint)
	}
}

func TestResolveObjectSubstring(t *testing.T) {
	req := testRequest()
	id, ok := resolveObject(req.Snapshot, req.Actor.ID, "the battered vending machine in the corner")
	if !ok {
		t.Fatal("verbose phrasing should still resolve by substring")
	}
	if req.Snapshot.Objects[id].Name != "vending machine" {
		t.Errorf("resolved wrong object: %s", id)
	}
}
