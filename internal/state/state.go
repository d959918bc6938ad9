// Package state persists crawl bookkeeping in SQLite: which notes have
// been fetched already, per-keyword pagination cursors, and run
// history. The dataset indices stay authoritative for note content;
// this database only makes crawls resumable and idempotent.
package state

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const currentSchemaVersion = 1

// DB wraps the crawl-state database.
type DB struct {
	db *sql.DB
}

// Open opens or creates the state database at path and migrates it.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

// CheckIntegrity runs PRAGMA integrity_check.
func (s *DB) CheckIntegrity() error {
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func (s *DB) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}

	if _, err := s.db.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

func (s *DB) schemaVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// Seen reports whether a note id has already been fetched.
func (s *DB) Seen(noteID string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM seen_notes WHERE note_id = ?", noteID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query seen note: %w", err)
	}
	return count > 0, nil
}

// MarkSeen records a fetched note id.
func (s *DB) MarkSeen(noteID, keyword string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO seen_notes (note_id, keyword, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			keyword = excluded.keyword,
			fetched_at = excluded.fetched_at
	`, noteID, keyword, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark note seen: %w", err)
	}
	return nil
}

// Cursor returns the saved pagination cursor for a keyword, or
// (0, "") when no crawl is in progress for it.
func (s *DB) Cursor(keyword string) (page int, searchID string, err error) {
	err = s.db.QueryRow(
		"SELECT next_page, search_id FROM cursors WHERE keyword = ?", keyword,
	).Scan(&page, &searchID)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read cursor: %w", err)
	}
	return page, searchID, nil
}

// SaveCursor stores the next page to fetch for a keyword.
func (s *DB) SaveCursor(keyword string, nextPage int, searchID string) error {
	_, err := s.db.Exec(`
		INSERT INTO cursors (keyword, next_page, search_id)
		VALUES (?, ?, ?)
		ON CONFLICT(keyword) DO UPDATE SET
			next_page = excluded.next_page,
			search_id = excluded.search_id
	`, keyword, nextPage, searchID)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// ClearCursor removes the cursor once a keyword is exhausted.
func (s *DB) ClearCursor(keyword string) error {
	if _, err := s.db.Exec("DELETE FROM cursors WHERE keyword = ?", keyword); err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}
	return nil
}

// Run is one crawl invocation.
type Run struct {
	ID         string
	Keywords   []string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Skipped    int
	Failed     int
}

// StartRun records the beginning of a crawl and returns its id.
func (s *DB) StartRun(keywords []string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO runs (id, keywords, started_at) VALUES (?, ?, ?)",
		id, strings.Join(keywords, ","), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun records a crawl's final counters.
func (s *DB) FinishRun(runID string, fetched, skipped, failed int) error {
	_, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, fetched = ?, skipped = ?, failed = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), fetched, skipped, failed, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *DB) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, keywords, started_at, COALESCE(finished_at, ''),
		       fetched, skipped, failed
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var keywords, started, finished string
		if err := rows.Scan(&r.ID, &keywords, &started, &finished, &r.Fetched, &r.Skipped, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if keywords != "" {
			r.Keywords = strings.Split(keywords, ",")
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SeenCount returns the number of notes ever fetched.
func (s *DB) SeenCount() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM seen_notes").Scan(&count); err != nil {
		return 0, fmt.Errorf("count seen notes: %w", err)
	}
	return count, nil
}
