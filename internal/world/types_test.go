package world

import (
	"testing"
	"time"
)

func TestCellOf(t *testing.T) {
	tests := []struct {
		pos    Coord
		cx, cy int
	}{
		{Coord{X: 0, Y: 0}, 0, 0},
		{Coord{X: 15, Y: 15}, 0, 0},
		{Coord{X: 16, Y: 0}, 1, 0},
		{Coord{X: -1, Y: -1}, -1, -1},
		{Coord{X: -16, Y: -17}, -1, -2},
		{Coord{X: 100, Y: -100}, 6, -7},
	}
	for _, tt := range tests {
		cx, cy := CellOf(tt.pos)
		if cx != tt.cx || cy != tt.cy {
			t.Errorf("CellOf(%v) = (%d,%d), want (%d,%d)", tt.pos, cx, cy, tt.cx, tt.cy)
		}
	}
}

func TestCellIDStable(t *testing.T) {
	a := CellID(Coord{X: 3, Y: 3})
	b := CellID(Coord{X: 15, Y: 0})
	if a != b {
		t.Errorf("coordinates in the same cell got different IDs: %s vs %s", a, b)
	}
	if a.Kind() != "cell" {
		t.Errorf("Kind() = %q, want cell", a.Kind())
	}
}

func TestCanonicalName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Iron Bloom", "iron_bloom"},
		{"  Glass  ", "glass"},
		{"ALREADY_CANON", "already_canon"},
	}
	for _, tt := range tests {
		if got := CanonicalName(tt.in); got != tt.want {
			t.Errorf("CanonicalName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTimeAtLongitude(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	base := TimeAt(0, now, 0)
	if base.Hour != 12 || base.Minute != 30 {
		t.Fatalf("TimeAt origin = %02d:%02d, want 12:30", base.Hour, base.Minute)
	}
	east := TimeAt(100, now, 0)
	if east.Hour != 22 {
		t.Errorf("100 east should be +10 hours, got %d", east.Hour)
	}
	west := TimeAt(-100, now, 0)
	if west.Hour != 2 {
		t.Errorf("100 west should wrap to 02:xx, got %d", west.Hour)
	}
	skipped := TimeAt(0, now, 8)
	if skipped.Hour != 20 {
		t.Errorf("8h personal offset should give 20:xx, got %d", skipped.Hour)
	}
}

func TestDayPeriods(t *testing.T) {
	if p := dayPeriod(6); p != "DAWN" {
		t.Errorf("06:00 = %s, want DAWN", p)
	}
	if p := dayPeriod(23); p != "NIGHT" {
		t.Errorf("23:00 = %s, want NIGHT", p)
	}
	if !(WorldTime{Period: "NIGHT"}).IsNight() {
		t.Error("NIGHT should report IsNight")
	}
}

func TestBiomeZones(t *testing.T) {
	f := NewBiomeField(1337, 5, 100)

	if b := f.At(0, 0); b.Type != BiomeJunkyard {
		t.Errorf("origin = %s, want junkyard", b.Type)
	}
	if b := f.At(0, 101); b.Type != BiomeSanctus || !b.Restricted {
		t.Errorf("far north should be restricted city, got %+v", b)
	}
	if b := f.At(60, 0); b.Type != BiomeDesert {
		t.Errorf("far east = %s, want desert", b.Type)
	}
	if b := f.At(-60, 0); b.Type != BiomeCoast {
		t.Errorf("far west = %s, want coast", b.Type)
	}
	if b := f.At(0, 60); b.Type != BiomeRuins && b.Type != BiomeSlum {
		t.Errorf("urban north = %s, want ruins or slum", b.Type)
	}
	if b := f.At(0, -60); b.Type != BiomeSwamp && b.Type != BiomeForest {
		t.Errorf("southern wilds = %s, want swamp or forest", b.Type)
	}
}

func TestBiomeDeterministic(t *testing.T) {
	a := NewBiomeField(7, 5, 100)
	b := NewBiomeField(7, 5, 100)
	for _, p := range []Coord{{X: 12, Y: 30}, {X: -40, Y: 8}, {X: 3, Y: -70}} {
		if got, want := a.At(p.X, p.Y).Type, b.At(p.X, p.Y).Type; got != want {
			t.Errorf("same seed diverged at %v: %s vs %s", p, got, want)
		}
	}
}

func TestActorInventoryHelpers(t *testing.T) {
	a := &Actor{Inventory: []ItemRef{{Name: "Rope", Qty: 2}, {Name: "tin can", Qty: 5}}}
	if !a.HasItem("rope", 2) {
		t.Error("HasItem should match case-insensitively")
	}
	if a.HasItem("rope", 3) {
		t.Error("HasItem should respect quantity")
	}
	if w := a.InventoryWeight(); w != 7 {
		t.Errorf("weight = %d, want 7", w)
	}
}
