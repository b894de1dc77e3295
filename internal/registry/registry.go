// Package registry holds the global catalogs of invented materials and
// blueprints. Names are unique world-wide under canonical form; the first
// proposal for a name wins and every later proposal for the same name is
// answered with the existing entry.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/talgya/omniworld/internal/world"
)

// ErrDuplicateName reports that a proposed name already exists. Callers
// unwrap the existing entry via DuplicateError.
var ErrDuplicateName = errors.New("name already registered")

// DuplicateError carries the existing entry alongside ErrDuplicateName so
// the proposer can reference it instead.
type DuplicateError struct {
	ID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%q: %v", e.ID, ErrDuplicateName)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateName }

// Persister is the durable sink for accepted entries. Satisfied by
// store.DB.
type Persister interface {
	SaveMaterial(*world.Material) error
	SaveBlueprint(*world.Blueprint) error
	LoadMaterials() ([]*world.Material, error)
	LoadBlueprints() ([]*world.Blueprint, error)
}

// Registry is the in-memory catalog with write-through persistence. A
// single mutex serializes proposals, so two concurrent proposals for the
// same name resolve to exactly one accepted entry.
type Registry struct {
	mu         sync.Mutex
	materials  map[string]*world.Material
	blueprints map[string]*world.Blueprint
	db         Persister
	log        *slog.Logger

	// onAccept, when set, is invoked outside the lock for every newly
	// accepted or amended entry. The broadcaster hooks in here.
	onAccept func(kind, id string)
}

// New builds an empty registry over the given persister.
func New(db Persister, log *slog.Logger) *Registry {
	return &Registry{
		materials:  map[string]*world.Material{},
		blueprints: map[string]*world.Blueprint{},
		db:         db,
		log:        log.With("component", "registry"),
	}
}

// OnAccept registers the callback fired after each accepted entry.
func (r *Registry) OnAccept(fn func(kind, id string)) { r.onAccept = fn }

// Load restores the catalogs from storage.
func (r *Registry) Load() error {
	mats, err := r.db.LoadMaterials()
	if err != nil {
		return err
	}
	bps, err := r.db.LoadBlueprints()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range mats {
		r.materials[m.ID] = m
	}
	for _, b := range bps {
		r.blueprints[b.ID] = b
	}
	r.log.Info("registry loaded", "materials", len(mats), "blueprints", len(bps))
	return nil
}

// SeedMaterial installs a base material if its name is still free. Used at
// startup for the rule-file materials; existing entries are left untouched.
func (r *Registry) SeedMaterial(m *world.Material) error {
	m.ID = world.CanonicalName(m.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.materials[m.ID]; ok {
		return nil
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	r.materials[m.ID] = m
	return r.db.SaveMaterial(m)
}

// ProposeMaterial registers a new material. Properties are clamped into
// [0,1]. Returns the accepted entry, or the existing entry wrapped in a
// DuplicateError when the canonical name is taken.
func (r *Registry) ProposeMaterial(name, description, creator string, props world.MaterialProps) (*world.Material, error) {
	id := world.CanonicalName(name)
	if id == "" {
		return nil, fmt.Errorf("empty material name")
	}

	props.Hardness = world.Clamp(props.Hardness, 0, 1)
	props.Flammability = world.Clamp(props.Flammability, 0, 1)
	props.DecayRate = world.Clamp(props.DecayRate, 0, 1)
	props.Conductivity = world.Clamp(props.Conductivity, 0, 1)

	r.mu.Lock()
	if existing, ok := r.materials[id]; ok {
		r.mu.Unlock()
		return existing, &DuplicateError{ID: id}
	}
	m := &world.Material{
		ID:          id,
		Name:        name,
		Props:       props,
		Description: description,
		Creator:     creator,
		Version:     1,
		CreatedAt:   time.Now().UTC(),
	}
	r.materials[id] = m
	err := r.db.SaveMaterial(m)
	r.mu.Unlock()

	if err != nil {
		r.log.Error("persist material", "id", id, "error", err)
	}
	r.log.Info("material registered", "id", id, "creator", creator)
	if r.onAccept != nil {
		r.onAccept("material", id)
	}
	return m, nil
}

// AmendMaterial updates the properties of an existing material and bumps
// its version. The name and creator are immutable.
func (r *Registry) AmendMaterial(id string, props world.MaterialProps) (*world.Material, error) {
	r.mu.Lock()
	m, ok := r.materials[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("material %q not found", id)
	}
	amended := *m
	amended.Props = props
	amended.Version = m.Version + 1
	r.materials[id] = &amended
	err := r.db.SaveMaterial(&amended)
	r.mu.Unlock()

	if err != nil {
		r.log.Error("persist material", "id", id, "error", err)
	}
	if r.onAccept != nil {
		r.onAccept("material", id)
	}
	return &amended, nil
}

// ProposeBlueprint registers a new blueprint under the same uniqueness
// rules as materials.
func (r *Registry) ProposeBlueprint(bp world.Blueprint) (*world.Blueprint, error) {
	id := world.CanonicalName(bp.Name)
	if id == "" {
		return nil, fmt.Errorf("empty blueprint name")
	}
	if bp.Output == "" {
		return nil, fmt.Errorf("blueprint %q has no output", bp.Name)
	}
	bp.MinLevel = world.Clamp(bp.MinLevel, 0, 1)

	r.mu.Lock()
	if existing, ok := r.blueprints[id]; ok {
		r.mu.Unlock()
		return existing, &DuplicateError{ID: id}
	}
	bp.ID = id
	bp.Version = 1
	bp.CreatedAt = time.Now().UTC()
	r.blueprints[id] = &bp
	err := r.db.SaveBlueprint(&bp)
	r.mu.Unlock()

	if err != nil {
		r.log.Error("persist blueprint", "id", id, "error", err)
	}
	r.log.Info("blueprint registered", "id", id, "creator", bp.Creator)
	if r.onAccept != nil {
		r.onAccept("blueprint", id)
	}
	return &bp, nil
}

// Material looks up one material by canonical ID.
func (r *Registry) Material(id string) (*world.Material, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.materials[id]
	return m, ok
}

// Blueprint looks up one blueprint by canonical ID.
func (r *Registry) Blueprint(id string) (*world.Blueprint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blueprints[id]
	return b, ok
}

// Materials returns the catalog sorted by ID.
func (r *Registry) Materials() []*world.Material {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*world.Material, 0, len(r.materials))
	for _, m := range r.materials {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Blueprints returns the catalog sorted by ID.
func (r *Registry) Blueprints() []*world.Blueprint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*world.Blueprint, 0, len(r.blueprints))
	for _, b := range r.blueprints {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
