// Package store persists run reports to a local SQLite database.
// The full report is kept as JSON alongside indexed summary columns, so
// history queries stay cheap while every step detail remains retrievable.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/shorebase/shorebase/models"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("run not found")

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under the concurrent API handlers.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces a run report.
func (s *Store) SaveRun(report *models.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	var completedAt any
	if report.CompletedAt != nil {
		completedAt = report.CompletedAt.Unix()
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO runs (id, target, mode, status, error, report_json, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.Target, report.Mode, string(report.Status), report.Error,
		string(reportJSON), report.StartedAt.Unix(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", report.ID, err)
	}
	return nil
}

// GetRun returns the full report for one run.
func (s *Store) GetRun(id string) (*models.RunReport, error) {
	row := s.db.QueryRow(`SELECT report_json FROM runs WHERE id = ?`, id)

	var reportJSON string
	if err := row.Scan(&reportJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var report models.RunReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &report, nil
}

// ListRuns returns up to limit most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*models.RunReport, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT report_json FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.RunReport
	for rows.Next() {
		var reportJSON string
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, err
		}
		var report models.RunReport
		if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		runs = append(runs, &report)
	}
	return runs, rows.Err()
}

// LastRun returns the most recent run of the given mode, or ErrNotFound.
func (s *Store) LastRun(mode string) (*models.RunReport, error) {
	row := s.db.QueryRow(
		`SELECT report_json FROM runs WHERE mode = ? ORDER BY started_at DESC LIMIT 1`, mode)

	var reportJSON string
	if err := row.Scan(&reportJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var report models.RunReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &report, nil
}
