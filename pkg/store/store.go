// Package store persists parsed programs, keyed by their source hash, and
// run snapshots, keyed by run id, in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antibyte/emojivm/pkg/configuration"
	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/logger"
	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/validator"
	"github.com/antibyte/emojivm/pkg/vm"
)

var (
	ErrNotFound = errors.New("not found")
	ErrCorrupt  = errors.New("stored record is corrupt")
	ErrNoRunID  = errors.New("snapshot has no run id")
)

// Store wraps the SQLite connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// ProgramInfo describes a cached program.
type ProgramInfo struct {
	ID        string
	Valid     bool
	Uses      int
	CreatedAt time.Time
	LastUsed  time.Time
}

// RunSummary describes a stored run without its snapshot.
type RunSummary struct {
	ID        string
	ProgramID string
	Status    string
	Cycles    int
	CreatedAt time.Time
}

// Open opens or creates the database at path and ensures the tables exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases intact.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info(logger.AreaStore, "database opened: %s", path)
	return s, nil
}

// OpenFromConfig opens the database named by [Store] db_path.
func OpenFromConfig() (*Store, error) {
	return Open(configuration.GetString("Store", "db_path", "emojivm.db"))
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS programs (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			valid INTEGER NOT NULL,
			record TEXT NOT NULL,
			uses INTEGER DEFAULT 1,
			created_at INTEGER NOT NULL,
			last_used INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			program_id TEXT NOT NULL,
			status TEXT NOT NULL,
			cycles INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_program ON runs(program_id, created_at)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// SaveProgram caches a parsed program. Saving the same source again only
// bumps its use counter.
func (s *Store) SaveProgram(p *emoji.Program) error {
	data, err := json.Marshal(p.Record())
	if err != nil {
		return fmt.Errorf("encode program %s: %w", p.ID, err)
	}
	now := s.now().UnixNano()
	_, err = s.db.Exec(`
		INSERT INTO programs (id, source, valid, record, uses, created_at, last_used)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET uses = uses + 1, last_used = excluded.last_used`,
		p.ID, p.Source, p.Valid, string(data), now, now)
	if err != nil {
		return fmt.Errorf("save program %s: %w", p.ID, err)
	}
	return nil
}

// LoadProgram returns the cached program with the given source hash.
func (s *Store) LoadProgram(id string) (*emoji.Program, error) {
	var data string
	err := s.db.QueryRow(`SELECT record FROM programs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("program %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load program %s: %w", id, err)
	}

	var rec shared.ProgramRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("%w: program %s: %v", ErrCorrupt, id, err)
	}
	r := validator.ValidateProgramRecord(&rec)
	if !r.OK() {
		return nil, fmt.Errorf("%w: program %s: %v", ErrCorrupt, id, r.Err())
	}
	p, same := emoji.FromRecord(&rec)
	if !same {
		logger.Warn(logger.AreaStore, "program %s: stored instructions differ from source, using source", id)
	}
	return p, nil
}

// Parse returns the cached program for source, parsing and caching it on a
// miss. cached reports a hit.
func (s *Store) Parse(source string) (p *emoji.Program, cached bool, err error) {
	id := emoji.SourceID(source)
	p, err = s.LoadProgram(id)
	switch {
	case err == nil:
		if _, err := s.db.Exec(`UPDATE programs SET uses = uses + 1, last_used = ? WHERE id = ?`,
			s.now().UnixNano(), id); err != nil {
			return nil, false, fmt.Errorf("touch program %s: %w", id, err)
		}
		return p, true, nil
	case errors.Is(err, ErrCorrupt):
		logger.Warn(logger.AreaStore, "%v - reparsing", err)
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	p = emoji.Parse(source)
	if _, err := s.db.Exec(`DELETE FROM programs WHERE id = ?`, id); err != nil {
		return nil, false, fmt.Errorf("replace program %s: %w", id, err)
	}
	if err := s.SaveProgram(p); err != nil {
		return nil, false, err
	}
	return p, false, nil
}

// Programs lists cached programs, most recently used first.
func (s *Store) Programs() ([]ProgramInfo, error) {
	rows, err := s.db.Query(`SELECT id, valid, uses, created_at, last_used FROM programs ORDER BY last_used DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	var out []ProgramInfo
	for rows.Next() {
		var info ProgramInfo
		var created, used int64
		if err := rows.Scan(&info.ID, &info.Valid, &info.Uses, &created, &used); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(0, created)
		info.LastUsed = time.Unix(0, used)
		out = append(out, info)
	}
	return out, rows.Err()
}

// SaveRun stores the snapshot under its run id, replacing an earlier save
// of the same run.
func (s *Store) SaveRun(snap *vm.Snapshot) error {
	if snap.RunID == "" {
		return ErrNoRunID
	}
	data, err := json.Marshal(snap.Record())
	if err != nil {
		return fmt.Errorf("encode run %s: %w", snap.RunID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (id, program_id, status, cycles, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, cycles = excluded.cycles,
			snapshot = excluded.snapshot`,
		snap.RunID, snap.ProgramID, snap.Status.String(), snap.Stats.Cycles, string(data), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("save run %s: %w", snap.RunID, err)
	}
	logger.Debug(logger.AreaStore, "run %s saved with status %s", snap.RunID, snap.Status)
	return nil
}

// LoadRun returns a stored snapshot. The record is validated before it is
// trusted; warnings are returned with the snapshot.
func (s *Store) LoadRun(runID string) (*vm.Snapshot, validator.Report, error) {
	var data string
	err := s.db.QueryRow(`SELECT snapshot FROM runs WHERE id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, validator.Report{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, validator.Report{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	var rec shared.SnapshotRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, validator.Report{}, fmt.Errorf("%w: run %s: %v", ErrCorrupt, runID, err)
	}
	r := validator.ValidateSnapshotRecord(&rec)
	if !r.OK() {
		return nil, r, fmt.Errorf("%w: run %s: %v", ErrCorrupt, runID, r.Err())
	}
	snap, err := vm.SnapshotFromRecord(&rec)
	if err != nil {
		return nil, r, fmt.Errorf("%w: run %s: %v", ErrCorrupt, runID, err)
	}
	return snap, r, nil
}

// Runs lists the latest runs of a program, newest first. An empty programID
// lists runs of all programs.
func (s *Store) Runs(programID string, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, program_id, status, cycles, created_at FROM runs`
	args := []interface{}{}
	if programID != "" {
		query += ` WHERE program_id = ?`
		args = append(args, programID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var created int64
		if err := rows.Scan(&r.ID, &r.ProgramID, &r.Status, &r.Cycles, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneRuns deletes runs stored before t and returns how many were removed.
func (s *Store) PruneRuns(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Info(logger.AreaStore, "pruned %d runs older than %s", n, before.Format(time.RFC3339))
	}
	return n, nil
}
