// Package persistence provides SQLite-based storage for walkers,
// relationships and the narrative log, so a walk can be resumed.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/world"
)

// Meta keys.
const (
	MetaLastTick   = "last_tick"
	MetaLastSeq    = "last_seq"
	MetaGraphNodes = "graph_nodes"
)

// ErrGraphMismatch is returned when restoring into a route graph of a
// different size from the one that was saved.
var ErrGraphMismatch = errors.New("persistence: saved walk used a different route graph")

// DB wraps a SQLite connection for walk state persistence.
type DB struct {
	conn *sqlx.DB
	log  *slog.Logger
}

// Open opens or creates a SQLite database at the given path.
func Open(path string, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn, log: log}
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
	CREATE TABLE IF NOT EXISTS walkers (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		activity INTEGER NOT NULL,
		at_node INTEGER NOT NULL,
		next_node INTEGER NOT NULL,
		progress REAL NOT NULL,
		goal INTEGER NOT NULL,
		joined_tick INTEGER NOT NULL,
		traits_json TEXT NOT NULL,
		path_json TEXT NOT NULL,
		knowledge_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS relationships (
		a INTEGER NOT NULL,
		b INTEGER NOT NULL,
		stage INTEGER NOT NULL,
		affinity REAL NOT NULL,
		created_tick INTEGER NOT NULL,
		scored_tick INTEGER NOT NULL,
		history_json TEXT NOT NULL,
		PRIMARY KEY (a, b)
	);

	CREATE TABLE IF NOT EXISTS narrative (
		seq INTEGER PRIMARY KEY,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		agents_json TEXT NOT NULL,
		payload_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_narrative_tick ON narrative(tick);
	CREATE INDEX IF NOT EXISTS idx_narrative_kind ON narrative(kind);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveWalkers writes all walkers to the database (full replace).
func (db *DB) SaveWalkers(walkers []*agents.Agent) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM walkers"); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO walkers
		(id, name, activity, at_node, next_node, progress, goal, joined_tick,
		 traits_json, path_json, knowledge_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range walkers {
		traitsJSON, _ := json.Marshal(a.Traits)
		pathJSON, _ := json.Marshal(nonNil(a.Path))
		knowledgeJSON, _ := json.Marshal(nonNil(a.Knowledge))

		_, err := stmt.Exec(
			a.ID, a.Name, a.Activity, a.At, a.Next, a.Progress, a.Goal, a.JoinedTick,
			string(traitsJSON), string(pathJSON), string(knowledgeJSON),
		)
		if err != nil {
			return fmt.Errorf("insert walker %d: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// SaveRelationships writes all relationships to the database (full replace).
func (db *DB) SaveRelationships(rels []*state.Relationship) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM relationships"); err != nil {
		return err
	}

	for _, r := range rels {
		historyJSON, _ := json.Marshal(nonNil(r.History))
		_, err := tx.Exec(`INSERT INTO relationships
			(a, b, stage, affinity, created_tick, scored_tick, history_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.Pair.A, r.Pair.B, r.Stage, r.Affinity, r.CreatedTick, r.ScoredTick, string(historyJSON),
		)
		if err != nil {
			return fmt.Errorf("insert relationship %s: %w", r.Pair, err)
		}
	}

	return tx.Commit()
}

// SaveNarrative appends committed entries. Entries already stored are
// skipped, so the same batch may be written more than once.
func (db *DB) SaveNarrative(entries []narrative.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		agentsJSON, _ := json.Marshal(nonNil(e.Agents))
		payloadJSON, _ := json.Marshal(e.Payload)
		_, err := tx.Exec(
			"INSERT OR IGNORE INTO narrative (seq, tick, kind, agents_json, payload_json) VALUES (?, ?, ?, ?, ?)",
			e.Seq, e.Tick, string(e.Kind), string(agentsJSON), string(payloadJSON),
		)
		if err != nil {
			return fmt.Errorf("insert narrative %d: %w", e.Seq, err)
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

func (db *DB) metaUint(key string) (uint64, error) {
	v, err := db.GetMeta(key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", key, err)
	}
	return n, nil
}

// Reset deletes every saved walker, relationship, narrative entry and meta
// value, for starting a new walk over an old archive.
func (db *DB) Reset() error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"walkers", "relationships", "narrative", "world_meta"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// HasWorldState reports whether a walk has been saved.
func (db *DB) HasWorldState() bool {
	var count int
	if err := db.conn.Get(&count, "SELECT COUNT(*) FROM walkers"); err != nil {
		return false
	}
	return count > 0
}

// SaveWorldState performs a full save of the store. It must be called from
// the goroutine that advances the simulation.
func (db *DB) SaveWorldState(st *state.Store) error {
	walkers := st.Agents()
	rels := st.Relationships()
	db.log.Info("saving world state", "tick", st.Tick, "walkers", len(walkers), "relationships", len(rels))

	if err := db.SaveWalkers(walkers); err != nil {
		return fmt.Errorf("save walkers: %w", err)
	}
	if err := db.SaveRelationships(rels); err != nil {
		return fmt.Errorf("save relationships: %w", err)
	}
	if err := db.SaveNarrative(st.Narrative.Since(0)); err != nil {
		return fmt.Errorf("save narrative: %w", err)
	}
	meta := map[string]uint64{
		MetaLastTick:   st.Tick,
		MetaLastSeq:    st.Narrative.LastSeq(),
		MetaGraphNodes: uint64(st.Graph.Len()),
	}
	for k, v := range meta {
		if err := db.SaveMeta(k, strconv.FormatUint(v, 10)); err != nil {
			return fmt.Errorf("save meta: %w", err)
		}
	}

	db.log.Info("world state saved", "tick", st.Tick)
	return nil
}

type walkerRow struct {
	ID            uint64  `db:"id"`
	Name          string  `db:"name"`
	Activity      uint8   `db:"activity"`
	At            uint32  `db:"at_node"`
	Next          uint32  `db:"next_node"`
	Progress      float64 `db:"progress"`
	Goal          uint32  `db:"goal"`
	JoinedTick    uint64  `db:"joined_tick"`
	TraitsJSON    string  `db:"traits_json"`
	PathJSON      string  `db:"path_json"`
	KnowledgeJSON string  `db:"knowledge_json"`
}

// LoadWalkers reads every saved walker, ordered by ID.
func (db *DB) LoadWalkers() ([]*agents.Agent, error) {
	var rows []walkerRow
	if err := db.conn.Select(&rows, "SELECT * FROM walkers ORDER BY id"); err != nil {
		return nil, err
	}

	out := make([]*agents.Agent, 0, len(rows))
	for _, r := range rows {
		a := &agents.Agent{
			ID:         agents.ID(r.ID),
			Name:       r.Name,
			Activity:   agents.Activity(r.Activity),
			At:         world.NodeID(r.At),
			Next:       world.NodeID(r.Next),
			Progress:   r.Progress,
			Goal:       world.NodeID(r.Goal),
			JoinedTick: r.JoinedTick,
		}
		if err := json.Unmarshal([]byte(r.TraitsJSON), &a.Traits); err != nil {
			return nil, fmt.Errorf("walker %d traits: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.PathJSON), &a.Path); err != nil {
			return nil, fmt.Errorf("walker %d path: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.KnowledgeJSON), &a.Knowledge); err != nil {
			return nil, fmt.Errorf("walker %d knowledge: %w", r.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

type relationshipRow struct {
	A           uint64  `db:"a"`
	B           uint64  `db:"b"`
	Stage       uint8   `db:"stage"`
	Affinity    float64 `db:"affinity"`
	CreatedTick uint64  `db:"created_tick"`
	ScoredTick  uint64  `db:"scored_tick"`
	HistoryJSON string  `db:"history_json"`
}

// LoadRelationships reads every saved relationship, ordered by pair.
func (db *DB) LoadRelationships() ([]*state.Relationship, error) {
	var rows []relationshipRow
	if err := db.conn.Select(&rows, "SELECT * FROM relationships ORDER BY a, b"); err != nil {
		return nil, err
	}

	out := make([]*state.Relationship, 0, len(rows))
	for _, r := range rows {
		rel := &state.Relationship{
			Pair:        state.MakePair(agents.ID(r.A), agents.ID(r.B)),
			Stage:       state.Stage(r.Stage),
			Affinity:    r.Affinity,
			CreatedTick: r.CreatedTick,
			ScoredTick:  r.ScoredTick,
		}
		if err := json.Unmarshal([]byte(r.HistoryJSON), &rel.History); err != nil {
			return nil, fmt.Errorf("relationship %s history: %w", rel.Pair, err)
		}
		out = append(out, rel)
	}
	return out, nil
}

type narrativeRow struct {
	Seq         uint64 `db:"seq"`
	Tick        uint64 `db:"tick"`
	Kind        string `db:"kind"`
	AgentsJSON  string `db:"agents_json"`
	PayloadJSON string `db:"payload_json"`
}

func (r narrativeRow) entry() (narrative.Entry, error) {
	e := narrative.Entry{Seq: r.Seq, Tick: r.Tick, Kind: narrative.Kind(r.Kind)}
	if err := json.Unmarshal([]byte(r.AgentsJSON), &e.Agents); err != nil {
		return e, fmt.Errorf("narrative %d agents: %w", r.Seq, err)
	}
	if err := json.Unmarshal([]byte(r.PayloadJSON), &e.Payload); err != nil {
		return e, fmt.Errorf("narrative %d payload: %w", r.Seq, err)
	}
	return e, nil
}

// RecentNarrative returns the most recent entries, newest first. A non-empty
// kind restricts the result to that kind.
func (db *DB) RecentNarrative(limit int, kind narrative.Kind) ([]narrative.Entry, error) {
	var rows []narrativeRow
	var err error
	if kind == "" {
		err = db.conn.Select(&rows, "SELECT * FROM narrative ORDER BY seq DESC LIMIT ?", limit)
	} else {
		err = db.conn.Select(&rows, "SELECT * FROM narrative WHERE kind = ? ORDER BY seq DESC LIMIT ?", string(kind), limit)
	}
	if err != nil {
		return nil, err
	}

	out := make([]narrative.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Restore loads a saved walk into an empty store built over the same route
// graph. Walkers caught mid-conversation come back idle: open dialogues,
// proposals and crises are not saved.
func (db *DB) Restore(st *state.Store) error {
	nodes, err := db.metaUint(MetaGraphNodes)
	if err != nil {
		return err
	}
	if nodes != 0 && nodes != uint64(st.Graph.Len()) {
		return fmt.Errorf("%w: saved %d nodes, have %d", ErrGraphMismatch, nodes, st.Graph.Len())
	}

	walkers, err := db.LoadWalkers()
	if err != nil {
		return fmt.Errorf("load walkers: %w", err)
	}
	for _, a := range walkers {
		if a.Busy() {
			a.Activity = agents.ActivityIdle
		}
		if err := st.AddAgent(a); err != nil {
			return fmt.Errorf("restore walker: %w", err)
		}
	}

	rels, err := db.LoadRelationships()
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}
	for _, r := range rels {
		if err := st.RestoreRelationship(r); err != nil {
			return fmt.Errorf("restore relationship: %w", err)
		}
	}

	tick, err := db.metaUint(MetaLastTick)
	if err != nil {
		return err
	}
	seq, err := db.metaUint(MetaLastSeq)
	if err != nil {
		return err
	}
	st.Tick = tick
	st.Narrative.Resume(seq)

	db.log.Info("world state restored",
		"tick", tick,
		"walkers", len(walkers),
		"relationships", len(rels),
		"narrative_seq", seq,
	)
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
