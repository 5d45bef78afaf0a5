package history

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded execution request. The shared room document only ever
// holds the latest output; the history store keeps the audit trail.
type Run struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	Language    string    `json:"language"`
	ScriptBytes int       `json:"script_bytes"`
	Status      string    `json:"status"`
	Output      string    `json:"output"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL mode keeps writers from blocking the /api/runs readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	slog.Info("history store initialized", "path", dbPath)
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		language TEXT NOT NULL,
		script_bytes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_room_id ON runs(room_id);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(room_id, created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordRun(run Run) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, room_id, language, script_bytes, status, output, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.RoomID, run.Language, run.ScriptBytes, run.Status, run.Output, run.DurationMS)
	return err
}

// ListRuns returns the room's recorded executions, newest first.
func (s *Store) ListRuns(roomID string, limit, offset int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, room_id, language, script_bytes, status, output, duration_ms, created_at
		FROM runs
		WHERE room_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.RoomID, &r.Language, &r.ScriptBytes, &r.Status, &r.Output, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) RunCount(roomID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM runs WHERE room_id = ?", roomID).Scan(&count)
	return count, err
}

func (s *Store) TotalRuns() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	return count, err
}

// RoomIDs lists every room id with at least one recorded run.
func (s *Store) RoomIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT room_id FROM runs")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneRoom deletes a room's oldest runs, keeping the most recent keep.
func (s *Store) PruneRoom(roomID string, keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM runs
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM runs
			WHERE room_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
	`, roomID, roomID, keep)
	return err
}
