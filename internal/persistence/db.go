// Package persistence provides SQLite-based world state storage.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/demesne/internal/culture"
	"github.com/talgya/demesne/internal/demographics"
	"github.com/talgya/demesne/internal/engine"
	"github.com/talgya/demesne/internal/social"
)

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
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

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS provinces (
		id INTEGER PRIMARY KEY,
		nation_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS communities (
		id INTEGER PRIMARY KEY,
		province_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		culture_json TEXT NOT NULL,
		ages_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resources (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY,
		year INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_year ON events(year);
	CREATE INDEX IF NOT EXISTS idx_communities_province ON communities(province_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type nationRow struct {
	ID          uint32 `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
}

type provinceRow struct {
	ID          uint32 `db:"id"`
	NationID    uint32 `db:"nation_id"`
	Name        string `db:"name"`
	Description string `db:"description"`
}

type communityRow struct {
	ID          uint32 `db:"id"`
	ProvinceID  uint32 `db:"province_id"`
	Position    int    `db:"position"`
	CultureJSON string `db:"culture_json"`
	AgesJSON    string `db:"ages_json"`
}

// SaveRegistry writes every nation, province, community and resource (full replace).
func (db *DB) SaveRegistry(reg *social.Registry) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveRegistry(tx, reg); err != nil {
		return err
	}
	return tx.Commit()
}

func saveRegistry(tx *sqlx.Tx, reg *social.Registry) error {
	for _, table := range []string{"nations", "provinces", "communities", "resources"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, n := range reg.Nations() {
		if _, err := tx.Exec("INSERT INTO nations (id, name, description) VALUES (?, ?, ?)",
			n.ID, n.Name, n.Description); err != nil {
			return fmt.Errorf("insert nation %d: %w", n.ID, err)
		}
	}

	commStmt, err := tx.Preparex(`INSERT INTO communities
		(id, province_id, position, culture_json, ages_json) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer commStmt.Close()

	for _, p := range reg.Provinces() {
		if _, err := tx.Exec("INSERT INTO provinces (id, nation_id, name, description) VALUES (?, ?, ?, ?)",
			p.ID, p.NationID, p.Name, p.Description); err != nil {
			return fmt.Errorf("insert province %d: %w", p.ID, err)
		}

		for i, c := range p.Population.Communities() {
			cultureJSON, err := json.Marshal(c.Culture())
			if err != nil {
				return err
			}
			agesJSON, err := json.Marshal(c.Ages())
			if err != nil {
				return err
			}
			if _, err := commStmt.Exec(c.ID(), p.ID, i, string(cultureJSON), string(agesJSON)); err != nil {
				return fmt.Errorf("insert community %d: %w", c.ID(), err)
			}
		}
	}

	for _, r := range reg.Resources() {
		if _, err := tx.Exec("INSERT INTO resources (id, name, description) VALUES (?, ?, ?)",
			r.ID, r.Name, r.Description); err != nil {
			return fmt.Errorf("insert resource %d: %w", r.ID, err)
		}
	}
	return nil
}

// LoadRegistry rebuilds a registry from the stored world.
func (db *DB) LoadRegistry() (*social.Registry, error) {
	reg := social.NewRegistry()

	var nations []nationRow
	if err := db.conn.Select(&nations, "SELECT id, name, description FROM nations ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load nations: %w", err)
	}
	for _, n := range nations {
		reg.RestoreNation(social.Nation{ID: n.ID, Name: n.Name, Description: n.Description})
	}

	var communities []communityRow
	if err := db.conn.Select(&communities,
		"SELECT id, province_id, position, culture_json, ages_json FROM communities ORDER BY province_id, position"); err != nil {
		return nil, fmt.Errorf("load communities: %w", err)
	}
	byProvince := make(map[uint32][]demographics.Community)
	for _, row := range communities {
		var c culture.Culture
		if err := json.Unmarshal([]byte(row.CultureJSON), &c); err != nil {
			return nil, fmt.Errorf("community %d culture: %w", row.ID, err)
		}
		var ages demographics.Ages
		if err := json.Unmarshal([]byte(row.AgesJSON), &ages); err != nil {
			return nil, fmt.Errorf("community %d ages: %w", row.ID, err)
		}
		byProvince[row.ProvinceID] = append(byProvince[row.ProvinceID], demographics.NewCommunity(row.ID, c, ages))
	}

	var provinces []provinceRow
	if err := db.conn.Select(&provinces, "SELECT id, nation_id, name, description FROM provinces ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load provinces: %w", err)
	}
	for _, p := range provinces {
		pop, err := demographics.New(byProvince[p.ID]...)
		if err != nil {
			return nil, fmt.Errorf("province %d: %w", p.ID, err)
		}
		if err := reg.RestoreProvince(social.Province{
			ID:          p.ID,
			NationID:    p.NationID,
			Name:        p.Name,
			Description: p.Description,
			Population:  pop,
		}); err != nil {
			return nil, err
		}
	}

	var resources []social.Resource
	if err := db.conn.Select(&resources, "SELECT id, name, description FROM resources ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load resources: %w", err)
	}
	for _, r := range resources {
		reg.RestoreResource(r)
	}

	return reg, nil
}

// HasWorldState reports whether a world has been saved.
func (db *DB) HasWorldState() bool {
	var count int
	if err := db.conn.Get(&count, "SELECT COUNT(*) FROM provinces"); err != nil {
		return false
	}
	return count > 0
}

// reset deletes every stored world, event and metadata row.
func reset(tx *sqlx.Tx) error {
	for _, table := range []string{"nations", "provinces", "communities", "resources", "events", "world_meta"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// SaveEvents appends events to the database. Events already stored are skipped.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveEvents(tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func saveEvents(tx *sqlx.Tx, events []engine.Event) error {
	for _, e := range events {
		_, err := tx.Exec(
			"INSERT OR IGNORE INTO events (seq, year, description, category) VALUES (?, ?, ?, ?)",
			e.Seq, e.Year, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	return saveMeta(db.conn, key, value)
}

func saveMeta(ex sqlx.Execer, key, value string) error {
	_, err := ex.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. Missing keys return sql.ErrNoRows.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// LastYear returns the last saved simulation year, or 0 if none.
func (db *DB) LastYear() (uint64, error) {
	v, err := db.GetMeta("last_year")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

// LastEventSeq returns the highest stored event sequence number.
func (db *DB) LastEventSeq() (uint64, error) {
	var seq sql.NullInt64
	if err := db.conn.Get(&seq, "SELECT MAX(seq) FROM events"); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// SaveWorldState performs a full save of all world state in one transaction.
// The year, registry and events come from a single consistent read of sim.
// meta is written alongside them; it may be nil.
func (db *DB) SaveWorldState(sim *engine.Simulation, meta map[string]string) error {
	return db.saveWorld(sim, meta, false)
}

// ReplaceWorldState deletes everything stored and saves sim in its place.
// On failure the previous world is left untouched.
func (db *DB) ReplaceWorldState(sim *engine.Simulation, meta map[string]string) error {
	return db.saveWorld(sim, meta, true)
}

func (db *DB) saveWorld(sim *engine.Simulation, meta map[string]string, replace bool) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if replace {
		if err := reset(tx); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	var saveErr error
	sim.Snapshot(func(year uint64, reg *social.Registry, events []engine.Event) {
		slog.Info("saving world state", "provinces", len(reg.Provinces()), "year", year)
		if err := saveRegistry(tx, reg); err != nil {
			saveErr = fmt.Errorf("save registry: %w", err)
			return
		}
		if err := saveEvents(tx, events); err != nil {
			saveErr = fmt.Errorf("save events: %w", err)
			return
		}
		if err := saveMeta(tx, "last_year", strconv.FormatUint(year, 10)); err != nil {
			saveErr = fmt.Errorf("save meta: %w", err)
		}
	})
	if saveErr != nil {
		return saveErr
	}
	for k, v := range meta {
		if err := saveMeta(tx, k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("world state saved")
	return nil
}

// LoadSimulation restores a saved world into a new Simulation, with the
// newest stored events back in memory.
func (db *DB) LoadSimulation() (*engine.Simulation, error) {
	reg, err := db.LoadRegistry()
	if err != nil {
		return nil, err
	}
	year, err := db.LastYear()
	if err != nil {
		return nil, fmt.Errorf("last year: %w", err)
	}
	seq, err := db.LastEventSeq()
	if err != nil {
		return nil, fmt.Errorf("last event: %w", err)
	}
	events, err := db.RecentEvents(engine.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	slices.Reverse(events)

	sim := engine.NewSimulation(reg)
	sim.Resume(year, events, seq)
	return sim, nil
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT seq, year, description, category FROM events ORDER BY seq DESC LIMIT ?",
		limit,
	)
	return events, err
}
