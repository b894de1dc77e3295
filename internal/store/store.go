// Package store is the World State Store: the single authoritative,
// versioned record of every entity. All mutation flows through Commit,
// which enforces optimistic per-entity versioning and the hard invariants.
// SQLite persistence is write-through; the in-memory map is the source of
// truth while the process runs.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/talgya/omniworld/internal/world"
)

// ErrConflict reports an optimistic-version mismatch at commit. Under
// correct scope locking this never fires; the dispatcher treats it as an
// internal anomaly.
var ErrConflict = errors.New("store: version conflict")

// ErrInvariant reports a delta that would corrupt world state. The
// offending action is rejected with no mutation.
var ErrInvariant = errors.New("store: invariant violation")

// Limits are the commit-time inventory constraints. Enforced at commit,
// not at intent time: a rejected intent produces no deltas.
type Limits struct {
	MaxSlots  int
	MaxWeight int
	PriceMin  float64
	PriceMax  float64
}

// Store holds all world entities with per-entity versions.
type Store struct {
	mu       sync.RWMutex
	actors   map[world.EntityID]*world.Actor
	objects  map[world.EntityID]*world.Object
	cells    map[world.EntityID]*world.Cell
	versions map[world.EntityID]uint64
	byName   map[string]world.EntityID // lowercase actor name -> id

	limits Limits
	biomes *world.BiomeField
	db     *DB        // nil in tests that don't need persistence
	rng    *rand.Rand // guarded by mu
}

// New creates an empty store. db may be nil for in-memory use.
func New(db *DB, biomes *world.BiomeField, limits Limits) *Store {
	if limits.MaxSlots == 0 {
		limits.MaxSlots = 20
	}
	if limits.MaxWeight == 0 {
		limits.MaxWeight = 50
	}
	if limits.PriceMin == 0 {
		limits.PriceMin = 0.1
	}
	if limits.PriceMax == 0 {
		limits.PriceMax = 10
	}
	return &Store{
		actors:   map[world.EntityID]*world.Actor{},
		objects:  map[world.EntityID]*world.Object{},
		cells:    map[world.EntityID]*world.Cell{},
		versions: map[world.EntityID]uint64{},
		byName:   map[string]world.EntityID{},
		limits:   limits,
		biomes:   biomes,
		db:       db,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// LoadAll hydrates the store from the database. Call once at startup.
func (s *Store) LoadAll() error {
	if s.db == nil {
		return nil
	}
	actors, objects, cells, versions, err := s.db.LoadWorld()
	if err != nil {
		return fmt.Errorf("load world: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actors {
		s.actors[a.ID] = a
		s.byName[strings.ToLower(a.Name)] = a.ID
	}
	for _, o := range objects {
		s.objects[o.ID] = o
	}
	for _, c := range cells {
		s.cells[c.ID] = c
	}
	for id, v := range versions {
		s.versions[id] = v
	}
	slog.Info("world state restored",
		"actors", len(s.actors), "objects", len(s.objects), "cells", len(s.cells))
	return nil
}

// Read builds a snapshot of the given entities plus the acting actor's
// region cell and biome. refs must include at most one actor. Missing
// object refs are skipped: the snapshot reflects what still exists.
func (s *Store) Read(refs []world.EntityID) (*world.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &world.Snapshot{
		Taken:    time.Now(),
		Objects:  map[world.EntityID]*world.Object{},
		Versions: map[world.EntityID]uint64{},
	}
	for _, id := range refs {
		switch id.Kind() {
		case "actor":
			a, ok := s.actors[id]
			if !ok {
				return nil, fmt.Errorf("actor %s not found", id)
			}
			cp := copyActor(a)
			snap.Actor = cp
			snap.Versions[id] = s.versions[id]
		case "obj":
			o, ok := s.objects[id]
			if !ok {
				continue
			}
			snap.Objects[id] = copyObject(o)
			snap.Versions[id] = s.versions[id]
		case "cell":
			c := s.cellLocked(id)
			snap.Cell = copyCell(c)
			snap.Versions[id] = s.versions[id]
		default:
			return nil, fmt.Errorf("unknown entity kind in ref %q", id)
		}
	}
	if snap.Actor != nil && s.biomes != nil {
		snap.Biome = s.biomes.At(snap.Actor.Pos.X, snap.Actor.Pos.Y)
	} else if snap.Cell != nil && s.biomes != nil {
		snap.Biome = s.biomes.At(snap.Cell.CX*world.CellSize, snap.Cell.CY*world.CellSize)
	}
	return snap, nil
}

// Commit validates a delta against the expected versions and the hard
// invariants, then applies it atomically. On success every touched
// entity's version is bumped by exactly one and the new versions are
// returned. On failure nothing changes.
func (s *Store) Commit(delta *world.Delta, expected map[world.EntityID]uint64) (map[world.EntityID]uint64, error) {
	if delta.Empty() {
		return map[world.EntityID]uint64{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Version check across every touched entity.
	for _, id := range delta.Touched() {
		want, ok := expected[id]
		if !ok {
			return nil, fmt.Errorf("%w: no observed version for %s", ErrConflict, id)
		}
		if got := s.versions[id]; got != want {
			return nil, fmt.Errorf("%w: %s at v%d, observed v%d", ErrConflict, id, got, want)
		}
	}

	if err := s.validateLocked(delta); err != nil {
		return nil, err
	}

	newVersions := s.applyLocked(delta)
	s.persistLocked(delta)
	return newVersions, nil
}

// validateLocked checks hard invariants without mutating anything.
func (s *Store) validateLocked(delta *world.Delta) error {
	destroyed := map[world.EntityID]bool{}
	for _, id := range delta.Destroy {
		if _, ok := s.objects[id]; !ok {
			return fmt.Errorf("%w: destroy of missing object %s", ErrInvariant, id)
		}
		destroyed[id] = true
	}
	created := map[world.EntityID]bool{}
	for _, o := range delta.Create {
		if o.ID == "" || o.Name == "" {
			return fmt.Errorf("%w: created object missing id or name", ErrInvariant)
		}
		if _, ok := s.objects[o.ID]; ok || created[o.ID] {
			return fmt.Errorf("%w: object %s already exists", ErrInvariant, o.ID)
		}
		created[o.ID] = true
	}
	for id, ch := range delta.Objects {
		obj, ok := s.objects[id]
		if !ok {
			return fmt.Errorf("%w: object %s no longer available", ErrInvariant, id)
		}
		if destroyed[id] {
			return fmt.Errorf("%w: object %s both modified and destroyed", ErrInvariant, id)
		}
		// One holder at a time: taking an object requires it to be free.
		if ch.Holder != nil && *ch.Holder != "" && obj.Holder != "" && obj.Holder != *ch.Holder {
			return fmt.Errorf("%w: object %s already held by %s", ErrInvariant, id, obj.Holder)
		}
	}
	for id, ch := range delta.Actors {
		a, ok := s.actors[id]
		if !ok {
			return fmt.Errorf("%w: actor %s not found", ErrInvariant, id)
		}
		slots, weight := projectInventory(a.Inventory, ch.Items)
		if weight < 0 {
			return fmt.Errorf("%w: inventory of %s would go negative", ErrInvariant, a.Name)
		}
		if slots > s.limits.MaxSlots {
			return fmt.Errorf("%w: %s exceeds %d inventory slots", ErrInvariant, a.Name, s.limits.MaxSlots)
		}
		if weight > s.limits.MaxWeight {
			return fmt.Errorf("%w: %s exceeds carry weight %d", ErrInvariant, a.Name, s.limits.MaxWeight)
		}
	}
	return nil
}

// applyLocked mutates state. Bounded scalars clamp; they never reject.
func (s *Store) applyLocked(delta *world.Delta) map[world.EntityID]uint64 {
	now := time.Now()
	newVersions := map[world.EntityID]uint64{}
	bump := func(id world.EntityID) {
		s.versions[id]++
		newVersions[id] = s.versions[id]
	}

	for _, o := range delta.Create {
		cp := copyObject(o)
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		if cp.Durability == 0 {
			cp.Durability = 1
		}
		s.objects[cp.ID] = cp
		bump(cp.ID)
	}
	for _, id := range delta.Destroy {
		delete(s.objects, id)
		bump(id)
	}
	for id, ch := range delta.Objects {
		o := s.objects[id]
		o.Durability = world.Clamp(o.Durability+ch.Durability, 0, 1)
		if ch.Holder != nil {
			o.Holder = *ch.Holder
		}
		if ch.Pos != nil {
			o.Pos = *ch.Pos
		}
		if ch.Description != nil {
			o.Description = *ch.Description
		}
		for k, v := range ch.Properties {
			if o.Properties == nil {
				o.Properties = map[string]any{}
			}
			o.Properties[k] = v
		}
		o.UpdatedAt = now
		bump(id)
	}
	for id, ch := range delta.Actors {
		a := s.actors[id]
		a.Health = world.Clamp(a.Health+ch.Health, 0, 1)
		a.Hunger = world.Clamp(a.Hunger+ch.Hunger, 0, 1)
		a.Reputation = world.Clamp(a.Reputation+ch.Reputation, -1, 1)
		if ch.Status != nil {
			a.Status = *ch.Status
		}
		if ch.Move != nil {
			a.Pos = a.Pos.Add(*ch.Move)
		}
		a.Inventory = applyItems(a.Inventory, ch.Items)
		if ch.CureAll {
			a.Diseases = nil
		}
		for _, d := range ch.Diseases {
			if !contains(a.Diseases, d) {
				a.Diseases = append(a.Diseases, d)
			}
		}
		for name, hours := range ch.Effects {
			if hours <= 0 {
				delete(a.Effects, name)
				continue
			}
			if a.Effects == nil {
				a.Effects = map[string]time.Time{}
			}
			a.Effects[name] = now.Add(time.Duration(hours * float64(time.Hour)))
		}
		for name, until := range a.Effects {
			if !until.After(now) {
				delete(a.Effects, name)
			}
		}
		for k, v := range ch.Knowledge {
			if a.Knowledge == nil {
				a.Knowledge = map[string]float64{}
			}
			next := world.Clamp(a.Knowledge[k]+v, 0, 1)
			if next <= 0 {
				delete(a.Knowledge, k) // forgotten entirely
			} else {
				a.Knowledge[k] = next
			}
		}
		a.TimeOffset += ch.TimeSkip
		if ch.Revive {
			a.Dead = false
			a.Diseases = nil
			a.Effects = nil
		} else if ch.Die || a.Health <= 0 {
			a.Dead = true
		}
		a.UpdatedAt = now
		bump(id)
	}
	for id, ch := range delta.Cells {
		c := s.cellLocked(id)
		c.Abundance = world.Clamp(c.Abundance+ch.Abundance, 0, 1)
		c.Pollution = world.Clamp(c.Pollution+ch.Pollution, 0, 1)
		c.Atmosphere = world.Clamp(c.Atmosphere+ch.Atmosphere, -1, 1)
		for k, v := range ch.Prices {
			if c.Prices == nil {
				c.Prices = map[string]float64{}
			}
			c.Prices[k] = world.Clamp(c.Prices[k]+v, s.limits.PriceMin, s.limits.PriceMax)
		}
		if ch.Scene != "" {
			c.Scene = ch.Scene
		}
		c.UpdatedAt = now
		bump(id)
	}
	return newVersions
}

// persistLocked writes changed rows through to sqlite. Persistence errors
// are logged, not fatal: the in-memory state has already advanced and the
// next backup cycle captures it.
func (s *Store) persistLocked(delta *world.Delta) {
	if s.db == nil {
		return
	}
	for _, o := range delta.Create {
		if err := s.db.SaveObject(s.objects[o.ID], s.versions[o.ID]); err != nil {
			slog.Error("persist created object failed", "id", o.ID, "error", err)
		}
	}
	for _, id := range delta.Destroy {
		if err := s.db.DeleteObject(id); err != nil {
			slog.Error("persist destroy failed", "id", id, "error", err)
		}
	}
	for id := range delta.Objects {
		if o, ok := s.objects[id]; ok {
			if err := s.db.SaveObject(o, s.versions[id]); err != nil {
				slog.Error("persist object failed", "id", id, "error", err)
			}
		}
	}
	for id := range delta.Actors {
		if err := s.db.SaveActor(s.actors[id], s.versions[id]); err != nil {
			slog.Error("persist actor failed", "id", id, "error", err)
		}
	}
	for id := range delta.Cells {
		if err := s.db.SaveCell(s.cells[id], s.versions[id]); err != nil {
			slog.Error("persist cell failed", "id", id, "error", err)
		}
	}
}

// cellLocked fetches a region cell, creating the default lazily. New cells
// start at full abundance and neutral atmosphere.
func (s *Store) cellLocked(id world.EntityID) *world.Cell {
	if c, ok := s.cells[id]; ok {
		return c
	}
	var cx, cy int
	fmt.Sscanf(string(id), "cell:%d,%d", &cx, &cy)
	c := &world.Cell{ID: id, CX: cx, CY: cy, Abundance: 1, UpdatedAt: time.Now()}
	s.cells[id] = c
	return c
}

// EnsureActor returns the actor with the given name, creating one at a
// scattered spawn position on first connection.
func (s *Store) EnsureActor(name string, scatter int) (*world.Actor, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("empty actor name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[strings.ToLower(name)]; ok {
		return copyActor(s.actors[id]), nil
	}
	pos := world.Coord{
		X: s.rng.Intn(2*scatter+1) - scatter,
		Y: s.rng.Intn(2*scatter+1) - scatter,
	}
	a := &world.Actor{
		ID:        world.NewActorID(),
		Name:      name,
		Pos:       pos,
		Health:    1,
		Status:    "Healthy",
		UpdatedAt: time.Now(),
	}
	s.actors[a.ID] = a
	s.byName[strings.ToLower(name)] = a.ID
	s.versions[a.ID] = 1
	if s.db != nil {
		if err := s.db.SaveActor(a, 1); err != nil {
			slog.Error("persist new actor failed", "actor", name, "error", err)
		}
	}
	slog.Info("actor created", "actor", name, "pos", a.Pos)
	return copyActor(a), nil
}

// ActorByID returns a copy of an actor.
func (s *Store) ActorByID(id world.EntityID) (*world.Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, false
	}
	return copyActor(a), true
}

// CellByID returns a copy of a region cell, without creating it.
func (s *Store) CellByID(id world.EntityID) (*world.Cell, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cells[id]
	if !ok {
		return nil, false
	}
	return copyCell(c), true
}

// ActorByName resolves a nickname to an actor copy.
func (s *Store) ActorByName(name string) (*world.Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return copyActor(s.actors[id]), true
}

// RenameActor changes a nickname if the new one is free. Naming bypasses
// judgment entirely; it still bumps the actor's version so observers see a
// consistent ordering.
func (s *Store) RenameActor(id world.EntityID, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("empty name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, taken := s.byName[strings.ToLower(newName)]; taken && other != id {
		return fmt.Errorf("name %q is already taken", newName)
	}
	a, ok := s.actors[id]
	if !ok {
		return fmt.Errorf("actor %s not found", id)
	}
	delete(s.byName, strings.ToLower(a.Name))
	a.Name = newName
	a.UpdatedAt = time.Now()
	s.byName[strings.ToLower(newName)] = id
	s.versions[id]++
	if s.db != nil {
		if err := s.db.SaveActor(a, s.versions[id]); err != nil {
			slog.Error("persist rename failed", "actor", newName, "error", err)
		}
	}
	return nil
}

// ObjectsNear returns up to limit objects within radius of pos, nearest
// first, excluding held objects.
func (s *Store) ObjectsNear(pos world.Coord, radius, limit int) []*world.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*world.Object
	for _, o := range s.objects {
		if o.Holder != "" {
			continue
		}
		if o.Pos.Dist(pos) <= radius {
			out = append(out, copyObject(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pos.Dist(pos) < out[j].Pos.Dist(pos)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ActorsNear returns living actors within radius of pos, excluding the
// given actor.
func (s *Store) ActorsNear(pos world.Coord, radius int, except world.EntityID) []*world.Actor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*world.Actor
	for id, a := range s.actors {
		if id == except || a.Dead {
			continue
		}
		if a.Pos.Dist(pos) <= radius {
			out = append(out, copyActor(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pos.Dist(pos) < out[j].Pos.Dist(pos)
	})
	return out
}

// ActiveCellIDs lists every region cell that exists or currently contains a
// living actor. The background tick walks this set.
func (s *Store) ActiveCellIDs() []world.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[world.EntityID]struct{}{}
	for id := range s.cells {
		seen[id] = struct{}{}
	}
	for _, a := range s.actors {
		if !a.Dead {
			seen[world.CellID(a.Pos)] = struct{}{}
		}
	}
	out := make([]world.EntityID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ObjectIDsInCell lists unheld objects inside a region cell; held objects
// travel under their holder's lock instead.
func (s *Store) ObjectIDsInCell(cellID world.EntityID) []world.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.EntityID
	for id, o := range s.objects {
		if o.Holder == "" && world.CellID(o.Pos) == cellID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HeldObjectIDs lists objects currently held by an actor.
func (s *Store) HeldObjectIDs(actor world.EntityID) []world.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []world.EntityID
	for id, o := range s.objects {
		if o.Holder == actor {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Version returns the current version of an entity (0 if unknown).
func (s *Store) Version(id world.EntityID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[id]
}

// Export captures the full world for the backup job.
type Export struct {
	ExportedAt time.Time                 `json:"exported_at"`
	Actors     []*world.Actor            `json:"actors"`
	Objects    []*world.Object           `json:"objects"`
	Cells      []*world.Cell             `json:"cells"`
	Versions   map[world.EntityID]uint64 `json:"versions"`
}

// FullExport returns a deep copy of everything for serialization.
func (s *Store) FullExport() *Export {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex := &Export{
		ExportedAt: time.Now(),
		Versions:   make(map[world.EntityID]uint64, len(s.versions)),
	}
	for _, a := range s.actors {
		ex.Actors = append(ex.Actors, copyActor(a))
	}
	for _, o := range s.objects {
		ex.Objects = append(ex.Objects, copyObject(o))
	}
	for _, c := range s.cells {
		ex.Cells = append(ex.Cells, copyCell(c))
	}
	for id, v := range s.versions {
		ex.Versions[id] = v
	}
	return ex
}

// AppendAction writes a durable action record.
func (s *Store) AppendAction(rec world.ActionRecord) {
	if s.db == nil {
		return
	}
	if err := s.db.AppendAction(rec); err != nil {
		slog.Error("append action record failed", "actor", rec.Actor, "error", err)
	}
}

// RecentActions returns the newest records, most recent first.
func (s *Store) RecentActions(limit int) []world.ActionRecord {
	if s.db == nil {
		return nil
	}
	recs, err := s.db.RecentActions(limit)
	if err != nil {
		slog.Error("load recent actions failed", "error", err)
		return nil
	}
	return recs
}

// ActionRateSince counts committed actions after a cutoff; the epistemic
// and decay engines consume this historical rate of change.
func (s *Store) ActionRateSince(cutoff time.Time) int {
	if s.db == nil {
		return 0
	}
	n, err := s.db.CountActionsSince(cutoff)
	if err != nil {
		slog.Error("count actions failed", "error", err)
		return 0
	}
	return n
}

func projectInventory(inv []world.ItemRef, changes []world.ItemRef) (slots, weight int) {
	counts := map[string]int{}
	order := []string{}
	for _, it := range inv {
		k := strings.ToLower(it.Name)
		if _, ok := counts[k]; !ok {
			order = append(order, k)
		}
		counts[k] += it.Qty
	}
	for _, it := range changes {
		k := strings.ToLower(it.Name)
		if _, ok := counts[k]; !ok {
			order = append(order, k)
		}
		counts[k] += it.Qty
	}
	for _, k := range order {
		q := counts[k]
		if q < 0 {
			return 0, -1
		}
		if q > 0 {
			slots++
			weight += q
		}
	}
	return slots, weight
}

func applyItems(inv []world.ItemRef, changes []world.ItemRef) []world.ItemRef {
	out := append([]world.ItemRef(nil), inv...)
	for _, ch := range changes {
		found := false
		for i := range out {
			if strings.EqualFold(out[i].Name, ch.Name) {
				out[i].Qty += ch.Qty
				found = true
				break
			}
		}
		if !found && ch.Qty > 0 {
			out = append(out, ch)
		}
	}
	// Drop emptied slots, preserving order.
	kept := out[:0]
	for _, it := range out {
		if it.Qty > 0 {
			kept = append(kept, it)
		}
	}
	return kept
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func copyActor(a *world.Actor) *world.Actor {
	cp := *a
	cp.Diseases = append([]string(nil), a.Diseases...)
	cp.Inventory = append([]world.ItemRef(nil), a.Inventory...)
	if a.Knowledge != nil {
		cp.Knowledge = make(map[string]float64, len(a.Knowledge))
		for k, v := range a.Knowledge {
			cp.Knowledge[k] = v
		}
	}
	if a.Effects != nil {
		cp.Effects = make(map[string]time.Time, len(a.Effects))
		for k, v := range a.Effects {
			cp.Effects[k] = v
		}
	}
	return &cp
}

func copyObject(o *world.Object) *world.Object {
	cp := *o
	if o.Properties != nil {
		cp.Properties = make(map[string]any, len(o.Properties))
		for k, v := range o.Properties {
			cp.Properties[k] = v
		}
	}
	return &cp
}

func copyCell(c *world.Cell) *world.Cell {
	cp := *c
	if c.Prices != nil {
		cp.Prices = make(map[string]float64, len(c.Prices))
		for k, v := range c.Prices {
			cp.Prices[k] = v
		}
	}
	return &cp
}
