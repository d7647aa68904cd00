// Package journal keeps a local history of the operations this client ran
// against the remote store, with the database version before and after.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"custdoc/internal/config"
	"custdoc/internal/docs"
)

const timeLayout = time.RFC3339Nano

// SQLiteJournal implements docs.Journal on a SQLite file.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

var _ docs.Journal = (*SQLiteJournal)(nil)

// NewSQLiteJournal opens (creating if needed) the journal at path and
// migrates it. path may be ":memory:".
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection keeps ":memory:" journals on a single database and
	// serializes writers on file journals.
	db.SetMaxOpenConns(1)

	if err := MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := CheckMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db, path: path}, nil
}

// NewJournalFromConfig creates a Journal based on the journal config type.
func NewJournalFromConfig(cfg config.JournalConfig) (docs.Journal, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite journal")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		j, err := NewSQLiteJournal(filepath.Join(cfg.DataDir, "journal.db"))
		if err != nil {
			return nil, err
		}
		return j, nil
	case "memory":
		j, err := NewSQLiteJournal(":memory:")
		if err != nil {
			return nil, err
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unknown journal type: %s", cfg.Type)
	}
}

// CreateOperation records the start of an operation.
func (j *SQLiteJournal) CreateOperation(operation, parameters, versionBefore string, startedAt time.Time) (*docs.Operation, error) {
	res, err := j.db.Exec(
		`INSERT INTO operations (operation, parameters, status, started_at, version_before) VALUES (?, ?, ?, ?, ?)`,
		operation, parameters, "running", startedAt.UTC().Format(timeLayout), versionBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("recording operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &docs.Operation{
		ID:            id,
		Operation:     operation,
		Parameters:    parameters,
		Status:        "running",
		StartedAt:     startedAt.UTC(),
		VersionBefore: versionBefore,
	}, nil
}

// FinishOperation records the outcome of an operation.
func (j *SQLiteJournal) FinishOperation(id int64, status, versionAfter, message string, finishedAt time.Time) error {
	res, err := j.db.Exec(
		`UPDATE operations SET status = ?, version_after = ?, message = ?, finished_at = ? WHERE id = ?`,
		status, versionAfter, message, finishedAt.UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing operation %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("operation %d not found", id)
	}
	return nil
}

// RecentOperations returns up to limit operations, newest first.
func (j *SQLiteJournal) RecentOperations(limit int) ([]*docs.Operation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.Query(
		`SELECT id, operation, parameters, status, started_at, finished_at, version_before, version_after, message
		 FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*docs.Operation
	for rows.Next() {
		var (
			op       docs.Operation
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &started, &finished,
			&op.VersionBefore, &op.VersionAfter, &op.Message); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if op.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parsing started_at of operation %d: %w", op.ID, err)
		}
		if finished.Valid {
			t, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parsing finished_at of operation %d: %w", op.ID, err)
			}
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// Close closes the journal.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
