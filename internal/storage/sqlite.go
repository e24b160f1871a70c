package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/san-kum/flowode/internal/dynamo"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps all runs in one database file. Snapshots are only ever
// inserted; reads replay them in insertion order.
type SQLiteStore struct {
	path string
	db   *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{path: path, db: db}, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs(
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			meta TEXT NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			lambda REAL NOT NULL,
			converged INTEGER NOT NULL,
			cursor TEXT NOT NULL,
			shape TEXT NOT NULL,
			data TEXT NOT NULL
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec("CREATE INDEX IF NOT EXISTS snapshots_run ON snapshots(run_id, id)")
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(meta RunMetadata) (Run, error) {
	if meta.ID == "" {
		meta.ID = newRunID(meta.Problem)
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}

	blob, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec("INSERT INTO runs(id, ts, meta) VALUES(?,?,?)", meta.ID, meta.Timestamp.UnixNano(), string(blob))
	if err != nil {
		return nil, fmt.Errorf("create run %s: %w", meta.ID, err)
	}
	return &sqliteRun{id: meta.ID, db: s.db}, nil
}

func (s *SQLiteStore) Open(id string) (Run, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM runs WHERE id = ?", id).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return &sqliteRun{id: id, db: s.db}, nil
}

func (s *SQLiteStore) List() ([]RunMetadata, error) {
	rows, err := s.db.Query("SELECT meta FROM runs ORDER BY ts ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]RunMetadata, 0)
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var meta RunMetadata
		if err := json.Unmarshal([]byte(blob), &meta); err != nil {
			continue
		}
		runs = append(runs, meta)
	}
	return runs, rows.Err()
}

type sqliteRun struct {
	id string
	db *sql.DB
}

func (r *sqliteRun) ID() string { return r.id }

func (r *sqliteRun) Close() error { return nil }

func (r *sqliteRun) Meta() (RunMetadata, error) {
	var blob string
	err := r.db.QueryRow("SELECT meta FROM runs WHERE id = ?", r.id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return RunMetadata{}, fmt.Errorf("%w: %s", ErrRunNotFound, r.id)
	}
	if err != nil {
		return RunMetadata{}, err
	}

	var meta RunMetadata
	if err := json.Unmarshal([]byte(blob), &meta); err != nil {
		return RunMetadata{}, err
	}
	return meta, nil
}

func (r *sqliteRun) UpdateMeta(meta RunMetadata) error {
	meta.ID = r.id
	blob, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = r.db.Exec("UPDATE runs SET meta = ? WHERE id = ?", string(blob), r.id)
	return err
}

func (r *sqliteRun) Append(s dynamo.Snapshot) error {
	cursor, err := json.Marshal(s.Cursor)
	if err != nil {
		return err
	}
	shape, err := json.Marshal(s.Shape)
	if err != nil {
		return err
	}
	data, err := json.Marshal(s.Data)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`INSERT INTO snapshots(run_id, iteration, lambda, converged, cursor, shape, data)
		VALUES(?,?,?,?,?,?,?)`,
		r.id, s.Iteration, s.Lambda, s.Converged, string(cursor), string(shape), string(data))
	return err
}

func (r *sqliteRun) Snapshots() ([]dynamo.Snapshot, error) {
	rows, err := r.db.Query(`SELECT iteration, lambda, converged, cursor, shape, data
		FROM snapshots WHERE run_id = ? ORDER BY id ASC`, r.id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var log []dynamo.Snapshot
	for rows.Next() {
		var (
			s                   dynamo.Snapshot
			cursor, shape, data string
		)
		if err := rows.Scan(&s.Iteration, &s.Lambda, &s.Converged, &cursor, &shape, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cursor), &s.Cursor); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(shape), &s.Shape); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &s.Data); err != nil {
			return nil, err
		}
		log = append(log, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return replay(log), nil
}

func (r *sqliteRun) Latest() (dynamo.Snapshot, error) {
	snaps, err := r.Snapshots()
	if err != nil {
		return dynamo.Snapshot{}, err
	}
	return latest(snaps)
}

func (r *sqliteRun) Snapshot(iteration int) (dynamo.Snapshot, error) {
	snaps, err := r.Snapshots()
	if err != nil {
		return dynamo.Snapshot{}, err
	}
	return find(snaps, iteration)
}

func (r *sqliteRun) Trace() ([]float64, error) {
	snaps, err := r.Snapshots()
	if err != nil {
		return nil, err
	}
	return trace(snaps), nil
}
