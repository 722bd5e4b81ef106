// Package store persists the clipboard monitor's cleaned-event history in
// SQLite. Event ids are the monitor's ids, so a restarted daemon resumes
// numbering above MaxID.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when the history is empty.
var ErrNotFound = errors.New("store: no events")

// Store is the SQLite event history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and migrates it.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Insert stores e. The id must be unused.
func (s *Store) Insert(e *CleanedEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO cleaned_events (id, original, cleaned, params_removed, created_ns)
		VALUES (?, ?, ?, ?, ?)`,
		int64(e.ID), e.Original, e.Cleaned, e.ParamsRemoved, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", e.ID, err)
	}
	return nil
}

// MaxID returns the highest stored id, or 0 for an empty history.
func (s *Store) MaxID() (uint64, error) {
	var id int64
	if err := s.db.QueryRow("SELECT COALESCE(MAX(id), 0) FROM cleaned_events").Scan(&id); err != nil {
		return 0, fmt.Errorf("max id: %w", err)
	}
	return uint64(id), nil
}

// Latest returns the event with the highest id.
func (s *Store) Latest() (*CleanedEvent, error) {
	row := s.db.QueryRow(`
		SELECT id, original, cleaned, params_removed, created_ns
		FROM cleaned_events ORDER BY id DESC LIMIT 1`)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// List returns up to limit events, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]CleanedEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, original, cleaned, params_removed, created_ns
		FROM cleaned_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []CleanedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep events and returns how many were
// removed.
func (s *Store) Prune(keep int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM cleaned_events WHERE id NOT IN (
			SELECT id FROM cleaned_events ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarizes the stored history.
func (s *Store) Stats() (Stats, error) {
	var (
		st          Stats
		first, last sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(params_removed), 0), MIN(created_ns), MAX(created_ns)
		FROM cleaned_events`).Scan(&st.Events, &st.ParamsRemoved, &first, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	if first.Valid {
		st.First = time.Unix(0, first.Int64)
	}
	if last.Valid {
		st.Last = time.Unix(0, last.Int64)
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*CleanedEvent, error) {
	var (
		e         CleanedEvent
		id        int64
		createdNs int64
	)
	if err := row.Scan(&id, &e.Original, &e.Cleaned, &e.ParamsRemoved, &createdNs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.ID = uint64(id)
	e.CreatedAt = time.Unix(0, createdNs)
	return &e, nil
}
