package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/omniworld/internal/world"
)

// DB wraps the SQLite connection behind the store's persistence boundary.
// The core only requires atomic per-record read/write; everything richer
// (optimistic versioning, invariants) lives in the Store.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates the database at path. Use ":memory:" in tests.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the connection.
func (db *DB) Close() error { return db.conn.Close() }

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS objects (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		pos_x INTEGER NOT NULL,
		pos_y INTEGER NOT NULL,
		holder TEXT NOT NULL DEFAULT '',
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cells (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS materials (
		id TEXT PRIMARY KEY,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blueprints (
		id TEXT PRIMARY KEY,
		data_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS action_log (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		text TEXT NOT NULL,
		state TEXT NOT NULL,
		narrative TEXT NOT NULL,
		deltas TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_objects_pos ON objects(pos_x, pos_y);
	CREATE INDEX IF NOT EXISTS idx_objects_holder ON objects(holder);
	CREATE INDEX IF NOT EXISTS idx_action_log_ts ON action_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_action_log_actor ON action_log(actor);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveActor upserts one actor row.
func (db *DB) SaveActor(a *world.Actor, version uint64) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal actor %s: %w", a.ID, err)
	}
	_, err = db.conn.Exec(
		`INSERT OR REPLACE INTO actors (id, version, data_json) VALUES (?, ?, ?)`,
		string(a.ID), version, string(data),
	)
	return err
}

// SaveObject upserts one object row.
func (db *DB) SaveObject(o *world.Object, version uint64) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal object %s: %w", o.ID, err)
	}
	_, err = db.conn.Exec(
		`INSERT OR REPLACE INTO objects (id, version, pos_x, pos_y, holder, data_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(o.ID), version, o.Pos.X, o.Pos.Y, string(o.Holder), string(data),
	)
	return err
}

// DeleteObject removes one object row.
func (db *DB) DeleteObject(id world.EntityID) error {
	_, err := db.conn.Exec(`DELETE FROM objects WHERE id = ?`, string(id))
	return err
}

// SaveCell upserts one region cell row.
func (db *DB) SaveCell(c *world.Cell, version uint64) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cell %s: %w", c.ID, err)
	}
	_, err = db.conn.Exec(
		`INSERT OR REPLACE INTO cells (id, version, data_json) VALUES (?, ?, ?)`,
		string(c.ID), version, string(data),
	)
	return err
}

// LoadWorld reads every persisted entity and its version.
func (db *DB) LoadWorld() ([]*world.Actor, []*world.Object, []*world.Cell, map[world.EntityID]uint64, error) {
	versions := map[world.EntityID]uint64{}

	type row struct {
		ID      string `db:"id"`
		Version uint64 `db:"version"`
		Data    string `db:"data_json"`
	}

	var actorRows []row
	if err := db.conn.Select(&actorRows, `SELECT id, version, data_json FROM actors`); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load actors: %w", err)
	}
	actors := make([]*world.Actor, 0, len(actorRows))
	for _, r := range actorRows {
		var a world.Actor
		if err := json.Unmarshal([]byte(r.Data), &a); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("unmarshal actor %s: %w", r.ID, err)
		}
		actors = append(actors, &a)
		versions[world.EntityID(r.ID)] = r.Version
	}

	var objRows []struct {
		row
		PosX   int    `db:"pos_x"`
		PosY   int    `db:"pos_y"`
		Holder string `db:"holder"`
	}
	if err := db.conn.Select(&objRows, `SELECT id, version, pos_x, pos_y, holder, data_json FROM objects`); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load objects: %w", err)
	}
	objects := make([]*world.Object, 0, len(objRows))
	for _, r := range objRows {
		var o world.Object
		if err := json.Unmarshal([]byte(r.Data), &o); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("unmarshal object %s: %w", r.ID, err)
		}
		objects = append(objects, &o)
		versions[world.EntityID(r.ID)] = r.Version
	}

	var cellRows []row
	if err := db.conn.Select(&cellRows, `SELECT id, version, data_json FROM cells`); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load cells: %w", err)
	}
	cells := make([]*world.Cell, 0, len(cellRows))
	for _, r := range cellRows {
		var c world.Cell
		if err := json.Unmarshal([]byte(r.Data), &c); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("unmarshal cell %s: %w", r.ID, err)
		}
		cells = append(cells, &c)
		versions[world.EntityID(r.ID)] = r.Version
	}

	return actors, objects, cells, versions, nil
}

// SaveMaterial upserts one material.
func (db *DB) SaveMaterial(m *world.Material) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal material %s: %w", m.ID, err)
	}
	_, err = db.conn.Exec(
		`INSERT OR REPLACE INTO materials (id, data_json) VALUES (?, ?)`,
		m.ID, string(data),
	)
	return err
}

// LoadMaterials reads the full material catalog.
func (db *DB) LoadMaterials() ([]*world.Material, error) {
	var rows []struct {
		ID   string `db:"id"`
		Data string `db:"data_json"`
	}
	if err := db.conn.Select(&rows, `SELECT id, data_json FROM materials`); err != nil {
		return nil, fmt.Errorf("load materials: %w", err)
	}
	out := make([]*world.Material, 0, len(rows))
	for _, r := range rows {
		var m world.Material
		if err := json.Unmarshal([]byte(r.Data), &m); err != nil {
			return nil, fmt.Errorf("unmarshal material %s: %w", r.ID, err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// SaveBlueprint upserts one blueprint.
func (db *DB) SaveBlueprint(b *world.Blueprint) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal blueprint %s: %w", b.ID, err)
	}
	_, err = db.conn.Exec(
		`INSERT OR REPLACE INTO blueprints (id, data_json) VALUES (?, ?)`,
		b.ID, string(data),
	)
	return err
}

// LoadBlueprints reads the full blueprint catalog.
func (db *DB) LoadBlueprints() ([]*world.Blueprint, error) {
	var rows []struct {
		ID   string `db:"id"`
		Data string `db:"data_json"`
	}
	if err := db.conn.Select(&rows, `SELECT id, data_json FROM blueprints`); err != nil {
		return nil, fmt.Errorf("load blueprints: %w", err)
	}
	out := make([]*world.Blueprint, 0, len(rows))
	for _, r := range rows {
		var b world.Blueprint
		if err := json.Unmarshal([]byte(r.Data), &b); err != nil {
			return nil, fmt.Errorf("unmarshal blueprint %s: %w", r.ID, err)
		}
		out = append(out, &b)
	}
	return out, nil
}

// AppendAction inserts one append-only action record.
func (db *DB) AppendAction(rec world.ActionRecord) error {
	_, err := db.conn.Exec(
		`INSERT INTO action_log (id, actor, text, state, narrative, deltas, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Actor, rec.Text, rec.State, rec.Narrative, rec.Deltas, rec.Timestamp,
	)
	return err
}

// RecentActions returns the newest limit records, most recent first.
func (db *DB) RecentActions(limit int) ([]world.ActionRecord, error) {
	var recs []world.ActionRecord
	err := db.conn.Select(&recs,
		`SELECT id, actor, text, state, narrative, deltas, timestamp
		 FROM action_log ORDER BY timestamp DESC LIMIT ?`, limit)
	return recs, err
}

// CountActionsSince counts records newer than the cutoff.
func (db *DB) CountActionsSince(cutoff time.Time) (int, error) {
	var n int
	err := db.conn.Get(&n, `SELECT COUNT(*) FROM action_log WHERE timestamp > ?`, cutoff)
	return n, err
}
