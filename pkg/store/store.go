// Package store persists registration results in SQLite so that tile
// positions can be queried after a run without recomputing them.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
	_ "modernc.org/sqlite"

	"tilereg/pkg/registration"
)

// ErrRunNotFound is returned when a run or cycle does not exist.
var ErrRunNotFound = errors.New("store: run not found")

// Store wraps SQLite-backed persistence for registration runs.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            inputs_json TEXT,
            cycle_count INTEGER NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS cycles (
            run_id TEXT NOT NULL,
            cycle INTEGER NOT NULL,
            name TEXT,
            pixel_size REAL,
            translation_x REAL,
            translation_y REAL,
            status TEXT,
            edges INTEGER,
            rejected INTEGER,
            failed INTEGER,
            components INTEGER,
            PRIMARY KEY (run_id, cycle)
        );`,
		`CREATE TABLE IF NOT EXISTS tile_positions (
            run_id TEXT NOT NULL,
            cycle INTEGER NOT NULL,
            tile INTEGER NOT NULL,
            nominal_x REAL,
            nominal_y REAL,
            x REAL,
            y REAL,
            component INTEGER,
            PRIMARY KEY (run_id, cycle, tile)
        );`,
		`CREATE TABLE IF NOT EXISTS edges (
            run_id TEXT NOT NULL,
            cycle INTEGER NOT NULL,
            tile_i INTEGER NOT NULL,
            tile_j INTEGER NOT NULL,
            correction_x REAL,
            correction_y REAL,
            error REAL,
            valid BOOLEAN,
            in_tree BOOLEAN,
            PRIMARY KEY (run_id, cycle, tile_i, tile_j)
        );`,
		`CREATE TABLE IF NOT EXISTS warnings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            cycle INTEGER NOT NULL,
            kind TEXT NOT NULL,
            tile INTEGER,
            message TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_tile_positions_run ON tile_positions(run_id, cycle);`,
		`CREATE INDEX IF NOT EXISTS idx_warnings_run ON warnings(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures a persisted run.
type RunRecord struct {
	ID        string
	Inputs    []string
	Cycles    int
	CreatedAt time.Time
}

// TilePosition is the stored placement of one tile.
type TilePosition struct {
	Tile      int
	Nominal   r2.Vec
	Position  r2.Vec
	Component int
}

// WarningRecord is a stored diagnostic.
type WarningRecord struct {
	Cycle   int
	Kind    string
	Tile    int
	Message string
}

// SaveRun stores every cycle of result in one transaction and returns the
// new run id.
func (s *Store) SaveRun(result *registration.Result, inputs []string) (string, error) {
	if s == nil {
		return "", errors.New("store not initialized")
	}
	id := uuid.NewString()
	inputsJSON, _ := json.Marshal(inputs)

	tx, err := s.DB.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO runs (id, inputs_json, cycle_count) VALUES (?, ?, ?);`,
		id, string(inputsJSON), len(result.Cycles)); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	for k := range result.Cycles {
		if err := saveCycle(tx, id, &result.Cycles[k]); err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func saveCycle(tx *sql.Tx, runID string, cr *registration.CycleResult) error {
	c := cr.Cycle.Index
	d := cr.Diagnostics
	if _, err := tx.Exec(`INSERT INTO cycles (run_id, cycle, name, pixel_size, translation_x, translation_y, status, edges, rejected, failed, components)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		runID, c, cr.Cycle.Name, cr.Cycle.PixelSize, cr.Translation.X, cr.Translation.Y,
		cr.Alignment.Status.String(), d.Edges, d.Rejected, d.Failed, d.Components); err != nil {
		return fmt.Errorf("insert cycle %d: %w", c, err)
	}

	for slot, t := range cr.Graph.Tiles {
		p := cr.Positions[slot]
		if _, err := tx.Exec(`INSERT INTO tile_positions (run_id, cycle, tile, nominal_x, nominal_y, x, y, component) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
			runID, c, t.Index, t.Nominal.X, t.Nominal.Y, p.X, p.Y, cr.Forest.Component[slot]); err != nil {
			return fmt.Errorf("insert tile %d of cycle %d: %w", t.Index, c, err)
		}
	}

	inTree := make(map[int]bool)
	for _, id := range cr.Forest.TreeEdges() {
		inTree[id] = true
	}
	for id, e := range cr.Graph.Edges {
		var errScore sql.NullFloat64
		if !math.IsInf(e.Error, 0) && !math.IsNaN(e.Error) {
			errScore = sql.NullFloat64{Float64: e.Error, Valid: true}
		}
		if _, err := tx.Exec(`INSERT INTO edges (run_id, cycle, tile_i, tile_j, correction_x, correction_y, error, valid, in_tree) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			runID, c, cr.Graph.Tiles[e.I].Index, cr.Graph.Tiles[e.J].Index,
			e.Correction.X, e.Correction.Y, errScore, e.Valid, inTree[id]); err != nil {
			return fmt.Errorf("insert edge of cycle %d: %w", c, err)
		}
	}

	for _, w := range d.Warnings {
		if _, err := tx.Exec(`INSERT INTO warnings (run_id, cycle, kind, tile, message) VALUES (?, ?, ?, ?, ?);`,
			runID, w.Cycle, w.Kind.String(), w.Tile, w.Message); err != nil {
			return fmt.Errorf("insert warning: %w", err)
		}
	}
	return nil
}

// Runs returns the latest runs up to limit, newest first.
func (s *Store) Runs(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, inputs_json, cycle_count, created_at FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var inputsJSON sql.NullString
		if err := rows.Scan(&rec.ID, &inputsJSON, &rec.Cycles, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if inputsJSON.Valid {
			if err := json.Unmarshal([]byte(inputsJSON.String), &rec.Inputs); err != nil {
				return nil, fmt.Errorf("unmarshal inputs: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CyclePositions returns the stored tile positions of one cycle ordered by
// tile index.
func (s *Store) CyclePositions(runID string, cycle int) ([]TilePosition, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT tile, nominal_x, nominal_y, x, y, component FROM tile_positions WHERE run_id=? AND cycle=? ORDER BY tile;`, runID, cycle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TilePosition
	for rows.Next() {
		var tp TilePosition
		if err := rows.Scan(&tp.Tile, &tp.Nominal.X, &tp.Nominal.Y, &tp.Position.X, &tp.Position.Y, &tp.Component); err != nil {
			return nil, err
		}
		out = append(out, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("run %s cycle %d: %w", runID, cycle, ErrRunNotFound)
	}
	return out, nil
}

// CycleTranslation returns the stored global translation of one cycle.
func (s *Store) CycleTranslation(runID string, cycle int) (r2.Vec, error) {
	if s == nil {
		return r2.Vec{}, errors.New("store not initialized")
	}
	var v r2.Vec
	err := s.DB.QueryRow(`SELECT translation_x, translation_y FROM cycles WHERE run_id=? AND cycle=?;`, runID, cycle).Scan(&v.X, &v.Y)
	if errors.Is(err, sql.ErrNoRows) {
		return r2.Vec{}, fmt.Errorf("run %s cycle %d: %w", runID, cycle, ErrRunNotFound)
	}
	return v, err
}

// Cycles returns the cycle indices stored for a run, ascending.
func (s *Store) Cycles(runID string) ([]int, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT cycle FROM cycles WHERE run_id=? ORDER BY cycle;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var c int
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return out, nil
}

// Warnings returns the diagnostics stored for a run in insertion order.
func (s *Store) Warnings(runID string) ([]WarningRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT cycle, kind, tile, message FROM warnings WHERE run_id=? ORDER BY id;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WarningRecord
	for rows.Next() {
		var w WarningRecord
		if err := rows.Scan(&w.Cycle, &w.Kind, &w.Tile, &w.Message); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
