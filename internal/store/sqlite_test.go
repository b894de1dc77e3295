package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/omniworld/internal/world"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "world.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestWorldRoundtrip(t *testing.T) {
	db := openTestDB(t)

	actor := &world.Actor{
		ID: world.NewActorID(), Name: "Vex", Pos: world.Coord{X: 3, Y: -2},
		Health: 0.7, Inventory: []world.ItemRef{{Name: "copper wire", Qty: 2}},
		Knowledge: map[string]float64{"smelting": 0.4},
	}
	obj := &world.Object{
		ID: world.NewObjectID(), Name: "lean-to", Pos: world.Coord{X: 4, Y: -2},
		Material: "tarp_cloth", Durability: 0.9, Holder: actor.ID,
	}
	cell := &world.Cell{
		ID: world.CellID(actor.Pos), Abundance: 0.6,
		Prices: map[string]float64{"scrap_iron": 1.4},
	}
	if err := db.SaveActor(actor, 3); err != nil {
		t.Fatalf("SaveActor: %v", err)
	}
	if err := db.SaveObject(obj, 5); err != nil {
		t.Fatalf("SaveObject: %v", err)
	}
	if err := db.SaveCell(cell, 2); err != nil {
		t.Fatalf("SaveCell: %v", err)
	}

	actors, objects, cells, versions, err := db.LoadWorld()
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if len(actors) != 1 || actors[0].Name != "Vex" || actors[0].Knowledge["smelting"] != 0.4 {
		t.Errorf("actors = %+v", actors)
	}
	if len(objects) != 1 || objects[0].Holder != actor.ID {
		t.Errorf("objects = %+v", objects)
	}
	if len(cells) != 1 || cells[0].Prices["scrap_iron"] != 1.4 {
		t.Errorf("cells = %+v", cells)
	}
	if versions[actor.ID] != 3 || versions[obj.ID] != 5 || versions[cell.ID] != 2 {
		t.Errorf("versions = %v", versions)
	}
}

func TestSaveIsUpsert(t *testing.T) {
	db := openTestDB(t)
	a := &world.Actor{ID: world.NewActorID(), Name: "Vex"}
	db.SaveActor(a, 1)
	a.Health = 0.5
	if err := db.SaveActor(a, 2); err != nil {
		t.Fatalf("second save: %v", err)
	}
	actors, _, _, versions, err := db.LoadWorld()
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	if len(actors) != 1 || versions[a.ID] != 2 {
		t.Errorf("upsert failed: %d rows, version %d", len(actors), versions[a.ID])
	}
}

func TestDeleteObject(t *testing.T) {
	db := openTestDB(t)
	obj := &world.Object{ID: world.NewObjectID(), Name: "crate"}
	db.SaveObject(obj, 1)
	if err := db.DeleteObject(obj.ID); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	_, objects, _, _, _ := db.LoadWorld()
	if len(objects) != 0 {
		t.Errorf("object survived deletion: %+v", objects)
	}
}

func TestCatalogRoundtrip(t *testing.T) {
	db := openTestDB(t)
	m := &world.Material{ID: "glass_slag", Name: "Glass Slag", Props: world.MaterialProps{Hardness: 0.5}}
	bp := &world.Blueprint{ID: "rain_catcher", Name: "Rain Catcher", Output: "rain catcher",
		Inputs: []world.ItemRef{{Name: "tarp cloth", Qty: 2}}}
	if err := db.SaveMaterial(m); err != nil {
		t.Fatalf("SaveMaterial: %v", err)
	}
	if err := db.SaveBlueprint(bp); err != nil {
		t.Fatalf("SaveBlueprint: %v", err)
	}

	mats, err := db.LoadMaterials()
	if err != nil || len(mats) != 1 || mats[0].Props.Hardness != 0.5 {
		t.Errorf("materials = %+v, err = %v", mats, err)
	}
	bps, err := db.LoadBlueprints()
	if err != nil || len(bps) != 1 || bps[0].Output != "rain catcher" {
		t.Errorf("blueprints = %+v, err = %v", bps, err)
	}
}

func TestActionLog(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, state := range []string{"committed", "rejected", "committed"} {
		err := db.AppendAction(world.ActionRecord{
			ID: fmt.Sprintf("act-%d", i), Actor: "Vex",
			Text: "act", State: state, Narrative: "n", Deltas: "{}",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AppendAction: %v", err)
		}
	}

	recs, err := db.RecentActions(2)
	if err != nil {
		t.Fatalf("RecentActions: %v", err)
	}
	if len(recs) != 2 || recs[0].Timestamp.Before(recs[1].Timestamp) {
		t.Errorf("recs not newest-first: %+v", recs)
	}
	n, err := db.CountActionsSince(base.Add(30 * time.Second))
	if err != nil || n != 2 {
		t.Errorf("count = %d, err = %v, want 2", n, err)
	}
}
