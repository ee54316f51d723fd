// Package history persists finished transfers to a local SQLite database so
// past uploads and downloads survive restarts.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sshdeck/sshdeck/internal/logging"
	"github.com/sshdeck/sshdeck/internal/models"
)

// migrations run in order inside one transaction per statement; the schema
// version is the count of applied entries. Append only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		session_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		bytes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_finished_at ON transfers(finished_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_session ON transfers(session_id)`,
}

// Entry is one finished transfer as stored.
type Entry struct {
	ID          int64
	TaskID      string
	Kind        models.TransferKind
	SessionID   string
	FileName    string
	Source      string
	Destination string
	Bytes       uint64
	Status      models.TransferStatus
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store is the transfer history database.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// Open creates or opens the database at path and applies migrations.
func Open(path string, log *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migration %d: %w", i, err)
		}
	}

	log.Debug().Str("path", path).Msg("history db open")
	return &Store{db: db, log: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one finished transfer.
func (s *Store) Record(e Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO transfers
		 (task_id, kind, session_id, file_name, source, destination, bytes, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, string(e.Kind), e.SessionID, e.FileName, e.Source, e.Destination,
		int64(e.Bytes), string(e.Status), e.Error, e.StartedAt.Unix(), e.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, task_id, kind, session_id, file_name, source, destination, bytes, status, error, started_at, finished_at
		 FROM transfers ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// BySession returns the latest entries for one session, newest first.
func (s *Store) BySession(sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, task_id, kind, session_id, file_name, source, destination, bytes, status, error, started_at, finished_at
		 FROM transfers WHERE session_id = ? ORDER BY finished_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Prune deletes entries finished before the cutoff and returns the count.
func (s *Store) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := s.db.Exec(`DELETE FROM transfers WHERE finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("removed", n).Msg("pruned transfer history")
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var kind, status string
		var bytes, started, finished int64
		if err := rows.Scan(&e.ID, &e.TaskID, &kind, &e.SessionID, &e.FileName,
			&e.Source, &e.Destination, &bytes, &status, &e.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Kind = models.TransferKind(kind)
		e.Status = models.TransferStatus(status)
		e.Bytes = uint64(bytes)
		e.StartedAt = time.Unix(started, 0)
		e.FinishedAt = time.Unix(finished, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}
