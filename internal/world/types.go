// Package world defines the authoritative data model: actors, objects,
// materials, blueprints, region cells, and the delta/snapshot types that
// flow between the store, the simulation engines, and the dispatcher.
package world

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityID identifies any versioned entity in the world state store.
// IDs are namespaced by kind: "actor:<uuid>", "obj:<id>", "cell:<cx>,<cy>".
type EntityID string

// CellSize is the side length of a region cell in world units. A cell is
// the unit of passive simulation and of concurrency scoping: two actors
// inside the same cell always conflict.
const CellSize = 16

// Coord is a position in the infinite 3-D world. X grows east, Y north,
// Z up (negative Z is underground).
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (c Coord) Add(d Coord) Coord {
	return Coord{X: c.X + d.X, Y: c.Y + d.Y, Z: c.Z + d.Z}
}

// Dist returns the Manhattan distance, ignoring altitude.
func (c Coord) Dist(o Coord) int {
	return abs(c.X-o.X) + abs(c.Y-o.Y)
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d, %d, z=%d)", c.X, c.Y, c.Z)
}

// CellOf returns the region cell containing a coordinate.
func CellOf(c Coord) (cx, cy int) {
	return floorDiv(c.X, CellSize), floorDiv(c.Y, CellSize)
}

// CellID returns the entity ID of the region cell containing a coordinate.
func CellID(c Coord) EntityID {
	cx, cy := CellOf(c)
	return EntityID(fmt.Sprintf("cell:%d,%d", cx, cy))
}

// NewActorID mints a namespaced actor entity ID.
func NewActorID() EntityID {
	return EntityID("actor:" + uuid.NewString())
}

// NewObjectID mints a namespaced object entity ID.
func NewObjectID() EntityID {
	return EntityID("obj:" + uuid.NewString())
}

// Kind returns the namespace prefix of an entity ID ("actor", "obj", "cell").
func (id EntityID) Kind() string {
	if i := strings.IndexByte(string(id), ':'); i > 0 {
		return string(id)[:i]
	}
	return ""
}

// ItemRef is one inventory slot: an item name and a count. Inventory is an
// ordered slice so slot order survives round trips.
type ItemRef struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

// Actor is a player character. Created on first connection, soft-deleted on
// death (Dead=true, inventory moved to a corpse object), reinstated on
// respawn.
type Actor struct {
	ID         EntityID             `json:"id"`
	Name       string               `json:"name"`
	Pos        Coord                `json:"pos"`
	Health     float64              `json:"health"`     // 0..1
	Hunger     float64              `json:"hunger"`     // 0..1, 1 = starving
	Reputation float64              `json:"reputation"` // -1..1
	Status     string               `json:"status"`     // free-text physical/mental state
	Diseases   []string             `json:"diseases,omitempty"`
	Effects    map[string]time.Time `json:"effects,omitempty"` // effect name -> expiry
	Inventory  []ItemRef            `json:"inventory,omitempty"`
	Knowledge  map[string]float64   `json:"knowledge,omitempty"` // tech name -> familiarity 0..1
	Dead       bool                 `json:"dead"`
	TimeOffset float64              `json:"time_offset"` // personal clock skew, hours
	UpdatedAt  time.Time            `json:"updated_at"`
}

// HasItem reports whether the actor carries at least qty of the named item.
func (a *Actor) HasItem(name string, qty int) bool {
	for _, it := range a.Inventory {
		if strings.EqualFold(it.Name, name) && it.Qty >= qty {
			return true
		}
	}
	return false
}

// InventoryWeight is the slot-weighted load used for the capacity check.
// Every unit weighs 1; materials with published weights are not modeled.
func (a *Actor) InventoryWeight() int {
	total := 0
	for _, it := range a.Inventory {
		total += it.Qty
	}
	return total
}

// Object is a world entity either placed at a coordinate or held by an
// actor. The holder reference is weak: an object outlives its holder.
type Object struct {
	ID          EntityID       `json:"id"`
	Name        string         `json:"name"`
	Pos         Coord          `json:"pos"`
	Holder      EntityID       `json:"holder,omitempty"`
	Material    string         `json:"material,omitempty"`
	Durability  float64        `json:"durability"` // 0..1, 0 = destroyed
	Description string         `json:"description,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Creator     string         `json:"creator,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Cell is the per-region entity carrying the slow-moving axes of world
// state: ecological abundance, pollution, social atmosphere, and the local
// price index. Cells are created lazily the first time a region is touched.
type Cell struct {
	ID         EntityID           `json:"id"`
	CX         int                `json:"cx"`
	CY         int                `json:"cy"`
	Abundance  float64            `json:"abundance"`        // 0..1 harvestable resources
	Pollution  float64            `json:"pollution"`        // 0..1
	Atmosphere float64            `json:"atmosphere"`       // -1 hostile .. +1 vibrant
	Prices     map[string]float64 `json:"prices,omitempty"` // material -> price index
	Scene      string             `json:"scene,omitempty"`  // last committed narrative here
	UpdatedAt  time.Time          `json:"updated_at"`
}

// MaterialProps are the physical properties of a material. Bounded 0..1.
type MaterialProps struct {
	Hardness     float64 `json:"hardness" yaml:"hardness"`
	Flammability float64 `json:"flammability" yaml:"flammability"`
	DecayRate    float64 `json:"decay_rate" yaml:"decay_rate"` // durability loss per hour
	Conductivity float64 `json:"conductivity" yaml:"conductivity"`
}

// Material is a globally unique named substance. Created exactly once per
// name through the invention registry; property amendments bump Version.
type Material struct {
	ID          string        `json:"id"` // canonical: lowercase, underscores
	Name        string        `json:"name"`
	Props       MaterialProps `json:"properties"`
	Description string        `json:"description,omitempty"`
	Creator     string        `json:"creator,omitempty"`
	Version     int           `json:"version"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Blueprint maps a multiset of inputs to an output object type, gated on a
// knowledge requirement. Globally visible once accepted.
type Blueprint struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Inputs      []ItemRef `json:"inputs"`
	Output      string    `json:"output"`
	Knowledge   string    `json:"knowledge,omitempty"` // required tech familiarity key
	MinLevel    float64   `json:"min_level,omitempty"` // required familiarity 0..1
	Description string    `json:"description,omitempty"`
	Creator     string    `json:"creator,omitempty"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

// CanonicalName normalizes a material or blueprint name into its registry
// ID: lowercased, spaces collapsed to underscores.
func CanonicalName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// ActionState is the resolution state machine for one submitted action.
type ActionState int

const (
	StateReceived ActionState = iota
	StateValidated
	StateAwaitingJudgment
	StateResolving
	StateCommitted
	StateRejected
	StateFailed
)

func (s ActionState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidated:
		return "validated"
	case StateAwaitingJudgment:
		return "awaiting_judgment"
	case StateResolving:
		return "resolving"
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ActionRecord is the durable, append-only log entry for a resolved action.
type ActionRecord struct {
	ID        string    `json:"id" db:"id"`
	Actor     string    `json:"actor" db:"actor"`
	Text      string    `json:"text" db:"text"`
	State     string    `json:"state" db:"state"`
	Narrative string    `json:"narrative" db:"narrative"`
	Deltas    string    `json:"deltas" db:"deltas"` // JSON summary of committed changes
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Clamp bounds v to [lo, hi]. Clamping, not overflow, is the edge-case
// policy for every bounded scalar in the model.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
